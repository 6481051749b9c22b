package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// DigestSize is the length of a dependency hash
const DigestSize = sha1.Size

// Digest is the SHA-1 content hash recorded for a dependency.
type Digest [DigestSize]byte

// String returns the hex encoding of the digest
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the all-zero placeholder digest
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// SumBytes hashes b
func SumBytes(b []byte) Digest {
	return sha1.Sum(b)
}

// SumString hashes s
func SumString(s string) Digest {
	return sha1.Sum([]byte(s))
}

// Dependency binds a named input to the hash it had at build time.
type Dependency struct {
	Name StringIndex
	Hash Digest
}

// Pragma is a compiler directive key/value pair. Value may be NoString.
type Pragma struct {
	Key   StringIndex
	Value StringIndex
}

// ForeachFunc is an exported kernel together with its parameter bitmask.
type ForeachFunc struct {
	Name      StringIndex
	Signature uint32
}

// Info holds every cacheable fact about one compiled unit. All StringIndex
// fields point into the record's own pool.
type Info struct {
	Threadable   bool
	HasDebugInfo bool

	Dependencies  []Dependency
	Pragmas       []Pragma
	ObjectSlots   []uint32
	ExportVars    []StringIndex
	ExportFuncs   []StringIndex
	ExportForeach []ForeachFunc

	pool   *StringPool
	header Header
}

// New creates an empty record with its own string pool
func New() *Info {
	return &Info{pool: NewStringPool()}
}

// Pool returns the record's string pool
func (i *Info) Pool() *StringPool {
	return i.pool
}

// Header returns the header computed by the last Layout call or decode
func (i *Info) Header() Header {
	return i.header
}

// Str resolves a string index against the record's pool
func (i *Info) Str(idx StringIndex) (string, error) {
	return i.pool.LookupString(idx)
}

// AddDependency appends a dependency entry
func (i *Info) AddDependency(name string, hash Digest) {
	i.Dependencies = append(i.Dependencies, Dependency{
		Name: i.pool.InternString(name),
		Hash: hash,
	})
}

// AddPragma appends a pragma. An empty value is stored as NoString.
func (i *Info) AddPragma(key, value string) {
	p := Pragma{Key: i.pool.InternString(key), Value: NoString}
	if value != "" {
		p.Value = i.pool.InternString(value)
	}
	i.Pragmas = append(i.Pragmas, p)
}

// AddObjectSlot appends an object slot
func (i *Info) AddObjectSlot(slot uint32) {
	i.ObjectSlots = append(i.ObjectSlots, slot)
}

// AddExportVar appends an exported variable name
func (i *Info) AddExportVar(name string) {
	i.ExportVars = append(i.ExportVars, i.pool.InternString(name))
}

// AddExportFunc appends an exported function name
func (i *Info) AddExportFunc(name string) {
	i.ExportFuncs = append(i.ExportFuncs, i.pool.InternString(name))
}

// AddExportForeach appends an exported foreach-able kernel
func (i *Info) AddExportForeach(name string, signature uint32) {
	i.ExportForeach = append(i.ExportForeach, ForeachFunc{
		Name:      i.pool.InternString(name),
		Signature: signature,
	})
}

// DependencyMap resolves the dependency table into name -> hash
func (i *Info) DependencyMap() (map[string]Digest, error) {
	deps := make(map[string]Digest, len(i.Dependencies))
	for n, dep := range i.Dependencies {
		name, err := i.pool.LookupString(dep.Name)
		if err != nil {
			return nil, fmt.Errorf("dependency %d: %w", n, err)
		}
		deps[name] = dep.Hash
	}
	return deps, nil
}

// PragmaValue returns the value of the first pragma named key
func (i *Info) PragmaValue(key string) (string, bool) {
	for _, p := range i.Pragmas {
		k, err := i.pool.LookupString(p.Key)
		if err != nil || k != key {
			continue
		}
		v, err := i.pool.LookupString(p.Value)
		if err != nil {
			return "", false
		}
		return v, true
	}
	return "", false
}

// counts returns the number of items in each list, in layout order.
func (i *Info) counts() [numLists]int {
	return [numLists]int{
		ListDependencies:  len(i.Dependencies),
		ListPragmas:       len(i.Pragmas),
		ListObjectSlots:   len(i.ObjectSlots),
		ListExportVars:    len(i.ExportVars),
		ListExportFuncs:   len(i.ExportFuncs),
		ListExportForeach: len(i.ExportForeach),
	}
}
