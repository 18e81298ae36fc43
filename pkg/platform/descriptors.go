package platform

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed platforms.yaml
var defaultDescriptorsYAML []byte

type descriptorFile struct {
	Platforms []Descriptor `yaml:"platforms"`
}

// LoadDescriptors parses platform descriptors from YAML.
func LoadDescriptors(data []byte) ([]Descriptor, error) {
	var f descriptorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse platform descriptors: %w", err)
	}
	if len(f.Platforms) == 0 {
		return nil, fmt.Errorf("no platforms defined")
	}
	for i := range f.Platforms {
		d := &f.Platforms[i]
		d.ID = strings.ToLower(strings.TrimSpace(d.ID))
		if d.ID == "" {
			return nil, fmt.Errorf("platform %d has no id", i)
		}
		if len(d.Domains) == 0 {
			return nil, fmt.Errorf("platform %s has no domains", d.ID)
		}
		if len(d.ConfirmationMarkers) == 0 {
			return nil, fmt.Errorf("platform %s has no confirmation markers", d.ID)
		}
	}
	return f.Platforms, nil
}

// LoadDescriptorFile reads descriptors from a YAML file on disk.
func LoadDescriptorFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor file: %w", err)
	}
	return LoadDescriptors(data)
}

// DefaultDescriptors returns the built-in storefront descriptors.
func DefaultDescriptors() []Descriptor {
	descs, err := LoadDescriptors(defaultDescriptorsYAML)
	if err != nil {
		// The embedded file is validated by tests; this is unreachable
		// short of a broken build.
		panic(fmt.Sprintf("embedded platform descriptors invalid: %v", err))
	}
	return descs
}

// NewDefaultRegistry builds a registry with every default platform wired to
// the caller.
func NewDefaultRegistry(caller Caller) *Registry {
	r := NewRegistry()
	for _, desc := range DefaultDescriptors() {
		r.Register(New(desc, caller))
	}
	return r
}
