package metainfo

import (
	"fmt"
	"math"
)

// Magic identifies a sidecar file. The leading NUL keeps text tools away.
var Magic = [8]byte{0, 'b', 'c', 'i', 'n', 'f', 'o', '\n'}

// Version is the format version, four bytes with a trailing NUL
var Version = [4]byte{'0', '0', '4', 0}

const (
	fixedHeaderSize    = 8 + 4 + 1 + 1 + 2 + 4
	listDescriptorSize = 4 + 4 + 1 + 3

	// HeaderSize is the size of the fixed header including all list descriptors
	HeaderSize = fixedHeaderSize + numLists*listDescriptorSize
)

// ListKind names one of the six lists of a record.
type ListKind int

const (
	ListDependencies ListKind = iota
	ListPragmas
	ListObjectSlots
	ListExportVars
	ListExportFuncs
	ListExportForeach

	numLists = 6
)

func (k ListKind) String() string {
	switch k {
	case ListDependencies:
		return "dependency"
	case ListPragmas:
		return "pragma"
	case ListObjectSlots:
		return "object slot"
	case ListExportVars:
		return "export var"
	case ListExportFuncs:
		return "export func"
	case ListExportForeach:
		return "export foreach"
	default:
		return "unknown"
	}
}

// ItemSizes holds the serialized size of one item of each list.
type ItemSizes [numLists]uint8

// DefaultItemSizes are the item sizes of the current format version
var DefaultItemSizes = ItemSizes{
	ListDependencies:  4 + DigestSize,
	ListPragmas:       4 + 4,
	ListObjectSlots:   4,
	ListExportVars:    4,
	ListExportFuncs:   4,
	ListExportForeach: 4 + 4,
}

// ListHeader locates one list inside a sidecar.
type ListHeader struct {
	Offset   uint32
	Count    uint32
	ItemSize uint8
}

// end returns the offset just past the list.
func (h ListHeader) end() uint64 {
	return uint64(h.Offset) + uint64(h.Count)*uint64(h.ItemSize)
}

// Header is the decoded fixed header of a sidecar.
type Header struct {
	HeaderSize     uint16
	StringPoolSize uint32
	Lists          [numLists]ListHeader
}

// StringPoolOffset returns where the string pool starts
func (h Header) StringPoolOffset() uint32 {
	return uint32(h.Lists[numLists-1].end())
}

// Size returns the total encoded size described by the header
func (h Header) Size() uint64 {
	return h.Lists[numLists-1].end() + uint64(h.StringPoolSize)
}

// Layout assigns every list its place in the file, starting at
// initialOffset, and records the result in the header. Lists are packed
// without padding in a fixed order; running Layout twice on unchanged data
// gives the same header.
func (i *Info) Layout(initialOffset uint32) error {
	if initialOffset < HeaderSize {
		return fmt.Errorf("initial offset %d overlaps the %d byte header", initialOffset, HeaderSize)
	}

	counts := i.counts()
	header := Header{
		HeaderSize:     HeaderSize,
		StringPoolSize: uint32(i.pool.Size()),
	}

	offset := uint64(initialOffset)
	for k := ListKind(0); k < numLists; k++ {
		if uint64(counts[k]) > math.MaxUint32 {
			return fmt.Errorf("too many %s items: %d", k, counts[k])
		}
		header.Lists[k] = ListHeader{
			Offset:   uint32(offset),
			Count:    uint32(counts[k]),
			ItemSize: DefaultItemSizes[k],
		}
		offset = header.Lists[k].end()
		if offset > math.MaxUint32 {
			return fmt.Errorf("%s list ends past the 4 GiB limit", k)
		}
	}

	if offset+uint64(i.pool.Size()) > math.MaxUint32 {
		return fmt.Errorf("string pool of %d bytes ends past the 4 GiB limit", i.pool.Size())
	}

	i.header = header
	return nil
}
