package restriction

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type fileDocument struct {
	Layers []Restriction `yaml:"layers"`
}

// FileSource reads restrictions from a YAML document with a top level
// "layers" list. Used for local runs without the configuration database.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Load(_ context.Context) ([]Restriction, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read restrictions file: %w", err)
	}

	var doc fileDocument
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse restrictions file %s: %w", s.path, err)
	}
	return doc.Layers, nil
}
