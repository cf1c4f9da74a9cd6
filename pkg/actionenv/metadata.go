package actionenv

import (
	"fmt"
	"io"
	"os"
	"sort"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Metadata is the subset of an action.yml metadata file this action cares
// about: the declared inputs with their defaults and required markers.
type Metadata struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Inputs      map[string]InputSpec `yaml:"inputs"`
}

// InputSpec declares one input parameter.
type InputSpec struct {
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default"`
}

// ReadMetadata parses action metadata from r.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	m := &Metadata{}
	if err := yaml.NewDecoder(r).Decode(m); err != nil {
		return nil, fmt.Errorf("parse action metadata: %w", err)
	}
	return m, nil
}

// ReadMetadataFile parses the action metadata file at path.
func ReadMetadataFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMetadata(f)
}

// Apply materializes the declared defaults under the provided raw inputs,
// the way the runner populates INPUT_* variables, and verifies all required
// inputs are present. The provided inputs always win over defaults.
func (m *Metadata) Apply(in Inputs) (Inputs, error) {
	merged := Inputs{}
	for k, v := range in {
		merged[k] = v
	}
	defaults := Inputs{}
	for name, spec := range m.Inputs {
		if spec.Default != "" {
			defaults.Set(name, spec.Default)
		}
	}
	if err := mergo.Merge(&merged, defaults); err != nil {
		return nil, err
	}

	var missing []string
	for name, spec := range m.Inputs {
		if spec.Required && merged.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("input required and not supplied: %s", missing[0])
	}
	return merged, nil
}
