package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadPipeline reads a .ferry.yaml file, sets Dir/FilePath, and validates it.
func LoadPipeline(filename string) (*Pipeline, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}

	p, err := ParsePipeline(data)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	p.FilePath = absPath
	p.Dir = filepath.Dir(absPath)

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating pipeline %s: %w", filename, err)
	}

	return p, nil
}

// ParsePipeline decodes pipeline YAML without validating it. Unknown keys
// are rejected.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing pipeline file: %w", err)
	}
	return &p, nil
}
