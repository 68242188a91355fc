package sherpa

import (
	"fmt"
	"io"
	"os"

	"github.com/go-json-experiment/json"
)

// Schema is the generated API description served by sherpa servers through
// the "_docs" function. Sections nest.
type Schema struct {
	Name             string
	Docs             string
	Functions        []*Function
	Sections         []*Schema
	Structs          []*StructType
	Ints             []*IntsType
	Strings          []*StringsType
	Version          string `json:",omitempty"`
	SherpaVersion    int
	SherpadocVersion int `json:",omitempty"`
}

// ParseSchema decodes a schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	return &s, nil
}

// LoadRegistry reads a schema document and builds its registry.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var s Schema
	if err := json.UnmarshalRead(r, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	return s.Registry()
}

// LoadRegistryFile is LoadRegistry for a file on disk.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRegistry(f)
}

// Registry flattens the schema and its sections into a registry.
func (s *Schema) Registry() (*Registry, error) {
	var types []NamedType
	var functions []*Function
	var walk func(s *Schema)
	walk = func(s *Schema) {
		for _, t := range s.Structs {
			types = append(types, t)
		}
		for _, t := range s.Strings {
			types = append(types, t)
		}
		for _, t := range s.Ints {
			types = append(types, t)
		}
		functions = append(functions, s.Functions...)
		for _, sub := range s.Sections {
			walk(sub)
		}
	}
	walk(s)
	return newRegistry(types, functions)
}
