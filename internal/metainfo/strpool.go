package metainfo

import (
	"bytes"
)

// StringIndex is the byte offset of a string inside a StringPool.
type StringIndex uint32

// NoString marks an absent optional string. Offset 0 is a valid entry, so the
// sentinel is the one value no pool can ever reach.
const NoString StringIndex = 0xFFFFFFFF

// StringPool stores NUL-terminated byte strings back to back and hands out
// their offsets. Entries are never removed or moved.
type StringPool struct {
	buf     []byte
	offsets map[string]StringIndex
}

// NewStringPool creates an empty pool
func NewStringPool() *StringPool {
	return &StringPool{
		offsets: make(map[string]StringIndex),
	}
}

// newDecodedPool wraps the raw pool bytes of a decoded sidecar. The slice is
// capped so that later interning copies instead of writing past the blob.
func newDecodedPool(blob []byte) *StringPool {
	return &StringPool{buf: blob[:len(blob):len(blob)]}
}

// Intern returns the index of b, appending it first if the pool does not
// hold it yet. Content must not contain a NUL byte.
func (p *StringPool) Intern(b []byte) StringIndex {
	p.ensureIndex()

	if idx, ok := p.offsets[string(b)]; ok {
		return idx
	}

	idx := StringIndex(len(p.buf))
	p.buf = append(p.buf, b...)
	p.buf = append(p.buf, 0)
	p.offsets[string(b)] = idx
	return idx
}

// InternString is Intern for strings
func (p *StringPool) InternString(s string) StringIndex {
	return p.Intern([]byte(s))
}

// Lookup returns the bytes stored at idx. The returned slice aliases the pool.
// NoString yields (nil, nil); callers that care about absence must compare
// against NoString themselves.
func (p *StringPool) Lookup(idx StringIndex) ([]byte, error) {
	if idx == NoString {
		return nil, nil
	}
	if int64(idx) >= int64(len(p.buf)) {
		return nil, newFormatError(ErrCorrupt, "string index %d outside pool of %d bytes", idx, len(p.buf))
	}

	rest := p.buf[idx:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, newFormatError(ErrCorrupt, "string at index %d is not terminated", idx)
	}
	return rest[:end], nil
}

// LookupString is Lookup for strings
func (p *StringPool) LookupString(idx StringIndex) (string, error) {
	b, err := p.Lookup(idx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IndexOf reports the index of b without interning it
func (p *StringPool) IndexOf(b []byte) (StringIndex, bool) {
	p.ensureIndex()
	idx, ok := p.offsets[string(b)]
	return idx, ok
}

// Size returns the number of bytes the pool occupies on disk
func (p *StringPool) Size() int {
	return len(p.buf)
}

// Bytes returns the raw pool contents
func (p *StringPool) Bytes() []byte {
	return p.buf
}

// ensureIndex rebuilds the content index of a decoded pool on first use.
func (p *StringPool) ensureIndex() {
	if p.offsets != nil {
		return
	}

	p.offsets = make(map[string]StringIndex)
	start := 0
	for start < len(p.buf) {
		end := bytes.IndexByte(p.buf[start:], 0)
		if end < 0 {
			break
		}
		s := string(p.buf[start : start+end])
		if _, seen := p.offsets[s]; !seen {
			p.offsets[s] = StringIndex(start)
		}
		start += end + 1
	}
}
