package metainfo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Reader decodes sidecars. Sizes is the item size the reader was built to
// understand for each list; a file recording anything else is rejected.
// Sizes below the encoded width of an item are rejected too.
type Reader struct {
	Sizes ItemSizes
}

// NewReader returns a reader for the current format
func NewReader() *Reader {
	return &Reader{Sizes: DefaultItemSizes}
}

// Read decodes a sidecar from src. When expected is non-nil the record must
// also be fresh against it, otherwise a *StaleError is returned.
func (r *Reader) Read(src io.Reader, expected map[string]Digest) (*Info, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read info: %w", err)
	}

	info, err := r.Decode(data)
	if err != nil {
		return nil, err
	}

	if expected != nil {
		if err := Verify(info, expected); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// ReadFile reads and decodes the sidecar at path. A missing file surfaces as
// an error satisfying os.IsNotExist.
func ReadFile(path string, expected map[string]Digest) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return NewReader().Read(f, expected)
}

// Decode parses a complete sidecar. The string pool of the result aliases data.
func Decode(data []byte) (*Info, error) {
	return NewReader().Decode(data)
}

// Decode parses a complete sidecar. The string pool of the result aliases data.
func (r *Reader) Decode(data []byte) (*Info, error) {
	for k := ListKind(0); k < numLists; k++ {
		if r.Sizes[k] < DefaultItemSizes[k] {
			return nil, newListError(ErrItemShape, k, "reader item size %d is below the %d byte item encoding", r.Sizes[k], DefaultItemSizes[k])
		}
	}
	if len(data) < len(Magic) {
		return nil, newFormatError(ErrTruncated, "%d bytes is too short for the magic", len(data))
	}
	if !bytes.Equal(data[:8], Magic[:]) {
		return nil, newFormatError(ErrBadMagic, "got %q", data[:8])
	}
	if len(data) < 12 {
		return nil, newFormatError(ErrTruncated, "%d bytes is too short for the version", len(data))
	}
	if !bytes.Equal(data[8:12], Version[:]) {
		return nil, newFormatError(ErrVersionSkew, "file has version %q, reader understands %q", data[8:12], Version[:])
	}
	if len(data) < fixedHeaderSize {
		return nil, newFormatError(ErrTruncated, "%d bytes is too short for the fixed header", len(data))
	}

	le := binary.LittleEndian
	info := &Info{
		Threadable:   data[12] != 0,
		HasDebugInfo: data[13] != 0,
	}
	h := Header{
		HeaderSize:     le.Uint16(data[14:16]),
		StringPoolSize: le.Uint32(data[16:20]),
	}
	if h.HeaderSize != HeaderSize {
		return nil, newFormatError(ErrHeaderSize, "file header is %d bytes, reader expects %d", h.HeaderSize, HeaderSize)
	}
	if len(data) < HeaderSize {
		return nil, newFormatError(ErrTruncated, "%d bytes is too short for the %d byte header", len(data), HeaderSize)
	}

	pos := fixedHeaderSize
	for k := ListKind(0); k < numLists; k++ {
		h.Lists[k] = ListHeader{
			Offset:   le.Uint32(data[pos:]),
			Count:    le.Uint32(data[pos+4:]),
			ItemSize: data[pos+8],
		}
		pos += listDescriptorSize

		if h.Lists[k].ItemSize != r.Sizes[k] {
			return nil, newListError(ErrItemShape, k, "items are %d bytes, reader expects %d", h.Lists[k].ItemSize, r.Sizes[k])
		}
	}

	if err := checkPlacement(h, uint64(len(data))); err != nil {
		return nil, err
	}

	pool := data[uint64(h.StringPoolOffset()):h.Size()]
	if len(pool) > 0 && pool[len(pool)-1] != 0 {
		return nil, newFormatError(ErrCorrupt, "string pool is not NUL terminated")
	}
	info.pool = newDecodedPool(pool)
	info.header = h

	decodeLists(info, data, h)

	if err := checkStrings(info); err != nil {
		return nil, err
	}
	return info, nil
}

// checkPlacement verifies the lists are packed back to back after the header
// and that the string pool ends exactly at the end of the data.
func checkPlacement(h Header, size uint64) error {
	prevEnd := uint64(HeaderSize)
	for k := ListKind(0); k < numLists; k++ {
		l := h.Lists[k]
		if k == 0 {
			if uint64(l.Offset) < prevEnd {
				return newListError(ErrCorrupt, k, "offset %d overlaps the header", l.Offset)
			}
		} else if uint64(l.Offset) != prevEnd {
			return newListError(ErrCorrupt, k, "offset %d, previous list ends at %d", l.Offset, prevEnd)
		}
		prevEnd = l.end()
		if prevEnd > size {
			return newListError(ErrTruncated, k, "list ends at %d, file has %d bytes", prevEnd, size)
		}
	}

	end := prevEnd + uint64(h.StringPoolSize)
	switch {
	case end > size:
		return newFormatError(ErrTruncated, "string pool ends at %d, file has %d bytes", end, size)
	case end < size:
		return newFormatError(ErrCorrupt, "%d trailing bytes after the string pool", size-end)
	}
	return nil
}

func decodeLists(info *Info, data []byte, h Header) {
	le := binary.LittleEndian
	item := func(k ListKind, n uint32) []byte {
		l := h.Lists[k]
		start := uint64(l.Offset) + uint64(n)*uint64(l.ItemSize)
		return data[start : start+uint64(l.ItemSize)]
	}

	info.Dependencies = make([]Dependency, h.Lists[ListDependencies].Count)
	for n := range info.Dependencies {
		b := item(ListDependencies, uint32(n))
		info.Dependencies[n].Name = StringIndex(le.Uint32(b))
		copy(info.Dependencies[n].Hash[:], b[4:])
	}

	info.Pragmas = make([]Pragma, h.Lists[ListPragmas].Count)
	for n := range info.Pragmas {
		b := item(ListPragmas, uint32(n))
		info.Pragmas[n] = Pragma{Key: StringIndex(le.Uint32(b)), Value: StringIndex(le.Uint32(b[4:]))}
	}

	info.ObjectSlots = make([]uint32, h.Lists[ListObjectSlots].Count)
	for n := range info.ObjectSlots {
		info.ObjectSlots[n] = le.Uint32(item(ListObjectSlots, uint32(n)))
	}

	info.ExportVars = make([]StringIndex, h.Lists[ListExportVars].Count)
	for n := range info.ExportVars {
		info.ExportVars[n] = StringIndex(le.Uint32(item(ListExportVars, uint32(n))))
	}

	info.ExportFuncs = make([]StringIndex, h.Lists[ListExportFuncs].Count)
	for n := range info.ExportFuncs {
		info.ExportFuncs[n] = StringIndex(le.Uint32(item(ListExportFuncs, uint32(n))))
	}

	info.ExportForeach = make([]ForeachFunc, h.Lists[ListExportForeach].Count)
	for n := range info.ExportForeach {
		b := item(ListExportForeach, uint32(n))
		info.ExportForeach[n] = ForeachFunc{Name: StringIndex(le.Uint32(b)), Signature: le.Uint32(b[4:])}
	}
}

// checkStrings makes sure every string reference resolves inside the pool.
// Only pragma values may be absent.
func checkStrings(info *Info) error {
	resolve := func(k ListKind, n int, idx StringIndex) error {
		if idx == NoString {
			return newListError(ErrCorrupt, k, "item %d has no name", n)
		}
		if _, err := info.pool.Lookup(idx); err != nil {
			return newListError(ErrCorrupt, k, "item %d: %v", n, err)
		}
		return nil
	}

	for n, d := range info.Dependencies {
		if err := resolve(ListDependencies, n, d.Name); err != nil {
			return err
		}
	}
	for n, p := range info.Pragmas {
		if err := resolve(ListPragmas, n, p.Key); err != nil {
			return err
		}
		if _, err := info.pool.Lookup(p.Value); err != nil {
			return newListError(ErrCorrupt, ListPragmas, "item %d value: %v", n, err)
		}
	}
	for n, name := range info.ExportVars {
		if err := resolve(ListExportVars, n, name); err != nil {
			return err
		}
	}
	for n, name := range info.ExportFuncs {
		if err := resolve(ListExportFuncs, n, name); err != nil {
			return err
		}
	}
	for n, f := range info.ExportForeach {
		if err := resolve(ListExportForeach, n, f.Name); err != nil {
			return err
		}
	}
	return nil
}
