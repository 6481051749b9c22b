package toolchain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestExt is the extension of a facts manifest
const ManifestExt = ".yaml"

// ManifestFacts reads source facts from YAML manifests kept next to the
// bitcode, one "<unit>.yaml" per unit:
//
//	threadable: true
//	opt_level: 2
//	pragmas:
//	  - key: rs_fp_relaxed
//	export_vars: [gCount]
//	export_foreach:
//	  - name: root
//	    signature: 0x1f
//
// A unit without a manifest has default facts.
type ManifestFacts struct {
	Dir string
}

// ManifestPath returns the manifest location for the unit called name
func (m ManifestFacts) ManifestPath(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(m.Dir, base+ManifestExt)
}

// Source returns the raw manifest of the unit called name, nil when there
// is none
func (m ManifestFacts) Source(name string) ([]byte, error) {
	path := m.ManifestPath(name)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return data, nil
}

// Load reads the manifest for the unit called name
func (m ManifestFacts) Load(name string) (*Facts, error) {
	data, err := m.Source(name)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return &Facts{OptLevel: DefaultOptLevel}, nil
	}

	path := m.ManifestPath(name)
	facts, err := ParseFacts(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return facts, nil
}

// ParseFacts decodes a YAML facts manifest. Unknown keys are rejected.
func ParseFacts(data []byte) (*Facts, error) {
	facts := &Facts{OptLevel: DefaultOptLevel}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(facts); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := facts.Validate(); err != nil {
		return nil, err
	}
	return facts, nil
}

// MarshalFacts encodes facts as a manifest
func MarshalFacts(f *Facts) ([]byte, error) {
	return yaml.Marshal(f)
}
