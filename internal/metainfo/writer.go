package metainfo

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/conduit-lang/bccache/internal/utils"
)

// Encode lays the record out starting at initialOffset and returns the
// complete sidecar. Bytes between the header and initialOffset are zero.
func (i *Info) Encode(initialOffset uint32) ([]byte, error) {
	if err := i.Layout(initialOffset); err != nil {
		return nil, err
	}
	h := i.header

	buf := make([]byte, 0, h.Size())
	buf = append(buf, Magic[:]...)
	buf = append(buf, Version[:]...)
	buf = append(buf, boolByte(i.Threadable), boolByte(i.HasDebugInfo))
	buf = binary.LittleEndian.AppendUint16(buf, h.HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.StringPoolSize)
	for _, l := range h.Lists {
		buf = binary.LittleEndian.AppendUint32(buf, l.Offset)
		buf = binary.LittleEndian.AppendUint32(buf, l.Count)
		buf = append(buf, l.ItemSize, 0, 0, 0)
	}

	for len(buf) < int(initialOffset) {
		buf = append(buf, 0)
	}

	for _, d := range i.Dependencies {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(d.Name))
		buf = append(buf, d.Hash[:]...)
	}
	for _, p := range i.Pragmas {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Key))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Value))
	}
	for _, slot := range i.ObjectSlots {
		buf = binary.LittleEndian.AppendUint32(buf, slot)
	}
	for _, name := range i.ExportVars {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(name))
	}
	for _, name := range i.ExportFuncs {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(name))
	}
	for _, f := range i.ExportForeach {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(f.Name))
		buf = binary.LittleEndian.AppendUint32(buf, f.Signature)
	}

	buf = append(buf, i.pool.Bytes()...)

	if uint64(len(buf)) != h.Size() {
		return nil, fmt.Errorf("encoded %d bytes, layout expected %d", len(buf), h.Size())
	}
	return buf, nil
}

// Write encodes info and hands the finished buffer to w in one call. Nothing
// reaches w when encoding fails.
func Write(w io.Writer, info *Info, initialOffset uint32) error {
	buf, err := info.Encode(initialOffset)
	if err != nil {
		return fmt.Errorf("failed to encode info: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write info: %w", err)
	}
	return nil
}

// WriteFile publishes info at path atomically: the record is written to a
// temporary file in the same directory, synced and renamed into place.
func WriteFile(path string, info *Info) error {
	buf, err := info.Encode(HeaderSize)
	if err != nil {
		return fmt.Errorf("failed to encode info: %w", err)
	}
	return utils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(buf)
		return err
	})
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
