package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Catalog struct {
		Version string           `yaml:"version"`
		Steps   []StepDefinition `yaml:"steps"`
	} `yaml:"catalog"`
}

// FromYAML parses and validates a catalog from raw YAML bytes.
func FromYAML(data []byte) (*Catalog, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if f.Catalog.Version == "" {
		return nil, ConfigurationError{Detail: "catalog.version is required"}
	}
	return New(f.Catalog.Version, f.Catalog.Steps)
}

// FromFile reads a YAML catalog from the given path.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
