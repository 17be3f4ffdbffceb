package patterns

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// familySpec is the file form of a Family.
type familySpec struct {
	Field    string   `yaml:"field"`
	Kind     Kind     `yaml:"kind"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
}

type familyFile struct {
	Families []familySpec `yaml:"families"`
}

// LoadFamilies reads pattern families from a YAML file.
func LoadFamilies(path string) ([]Family, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-provided pattern file is expected
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern families %s: %w", path, err)
	}
	return ParseFamilies(data)
}

// ParseFamilies decodes families from YAML, either a bare list or an object
// with a families key.
func ParseFamilies(data []byte) ([]Family, error) {
	var specs []familySpec
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-")) {
		if err := yaml.Unmarshal(data, &specs); err != nil {
			return nil, fmt.Errorf("failed to decode pattern families: %w", err)
		}
	} else {
		var f familyFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to decode pattern families: %w", err)
		}
		specs = f.Families
	}

	out := make([]Family, 0, len(specs))
	for i, s := range specs {
		if s.Field == "" {
			return nil, fmt.Errorf("pattern family %d: missing field", i)
		}
		if !s.Kind.Valid() {
			return nil, fmt.Errorf("pattern family %s: unknown kind %q", s.Field, s.Kind)
		}
		if len(s.Patterns) == 0 {
			return nil, fmt.Errorf("pattern family %s: no patterns", s.Field)
		}
		fam := Family{Field: s.Field, Kind: s.Kind, Keywords: s.Keywords}
		for _, expr := range s.Patterns {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("pattern family %s: %w", s.Field, err)
			}
			fam.Patterns = append(fam.Patterns, re)
		}
		out = append(out, fam)
	}
	return out, nil
}

// LoadRegistry returns the default registry with the families in path
// applied as overrides. An empty path yields the defaults.
func LoadRegistry(path string) (*Registry, error) {
	reg := DefaultRegistry()
	if path == "" {
		return reg, nil
	}
	fams, err := LoadFamilies(path)
	if err != nil {
		return nil, err
	}
	if err := reg.Override(fams...); err != nil {
		return nil, err
	}
	return reg, nil
}
