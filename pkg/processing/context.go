package processing

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadContextFile reads a YAML file and returns it as a map.
func LoadContextFile(filename string) (map[string]any, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading context file: %w", err)
	}

	var ctx map[string]any
	if err := yaml.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("parsing context file %s: %w", filename, err)
	}

	if ctx == nil {
		ctx = make(map[string]any)
	}

	return ctx, nil
}

// LoadContextFiles loads each file in order and merges them, later files
// overriding earlier ones.
func LoadContextFiles(filenames ...string) (map[string]any, error) {
	layers := make([]map[string]any, 0, len(filenames))
	for _, f := range filenames {
		ctx, err := LoadContextFile(f)
		if err != nil {
			return nil, err
		}
		layers = append(layers, ctx)
	}
	return MergeContext(layers...), nil
}

// MergeContext performs a shallow merge of the layers in order. Keys of
// later layers override earlier ones at the top level.
func MergeContext(layers ...map[string]any) map[string]any {
	size := 0
	for _, l := range layers {
		size += len(l)
	}
	merged := make(map[string]any, size)
	for _, l := range layers {
		maps.Copy(merged, l)
	}
	return merged
}
