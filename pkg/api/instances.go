package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Context keys the scheduler sets itself; instances may not override them.
var reservedContextKeys = []string{"steps", "instance"}

// LoadInstances reads an instances file and validates it. Unknown keys
// are rejected the same way as in pipeline files.
func LoadInstances(filename string) (*InstancesConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading instances file: %w", err)
	}

	var cfg InstancesConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing instances file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating instances file %s: %w", filename, err)
	}

	return &cfg, nil
}

// Validate checks names and context keys. Names end up in rendered paths,
// so they may not contain path separators.
func (c *InstancesConfig) Validate() error {
	if len(c.Instances) == 0 {
		return fmt.Errorf("instances list is empty")
	}

	seen := make(map[string]int, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instance %d: name is required", i)
		}
		if strings.ContainsAny(inst.Name, `/\`) {
			return fmt.Errorf("instance %q: name must not contain path separators", inst.Name)
		}
		if prev, ok := seen[inst.Name]; ok {
			return fmt.Errorf("instance %q: duplicate name (first defined at instance %d)", inst.Name, prev)
		}
		seen[inst.Name] = i

		for _, key := range reservedContextKeys {
			if _, ok := inst.Context[key]; ok {
				return fmt.Errorf("instance %q: context key %q is reserved", inst.Name, key)
			}
		}
	}

	return nil
}
