package api

import (
	"fmt"
	"sort"
	"strings"
)

var validStepTypes = map[string]bool{
	StepTypeDownload:       true,
	StepTypeDownloadFolder: true,
	StepTypeTransfer:       true,
	StepTypeTransform:      true,
	StepTypeFileSensor:     true,
	StepTypeFolderSensor:   true,
	StepTypeCleanup:        true,
}

// Validate checks the pipeline configuration for errors.
func (p *Pipeline) Validate() error {
	if len(p.Pipeline) == 0 {
		return fmt.Errorf("pipeline has no steps")
	}
	if p.Defaults.Retries < 0 {
		return fmt.Errorf("defaults.retries must not be negative")
	}
	if p.Defaults.RetryDelay < 0 {
		return fmt.Errorf("defaults.retryDelay must not be negative")
	}

	names := make(map[string]int)

	for i, step := range p.Pipeline {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if prev, exists := names[step.Name]; exists {
			return fmt.Errorf("step %d: duplicate step name %q (first defined at step %d)", i, step.Name, prev)
		}
		names[step.Name] = i

		if !validStepTypes[step.Type] {
			return fmt.Errorf("step %q: unknown type %q (valid: %s)", step.Name, step.Type, strings.Join(stepTypes(), ", "))
		}

		if err := validateStepConfig(step); err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
	}

	return nil
}

func stepTypes() []string {
	valid := make([]string, 0, len(validStepTypes))
	for k := range validStepTypes {
		valid = append(valid, k)
	}
	sort.Strings(valid)
	return valid
}

func validateStepConfig(step StepConfig) error {
	if step.Retries != nil && *step.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	switch step.Type {
	case StepTypeDownload, StepTypeDownloadFolder:
		return validateDownload(step)
	case StepTypeTransfer:
		return validateTransfer(step)
	case StepTypeTransform:
		if err := validateTransfer(step); err != nil {
			return err
		}
		return validateTransform(step)
	case StepTypeFileSensor, StepTypeFolderSensor:
		return validateSensor(step)
	case StepTypeCleanup:
		return validateCleanup(step)
	}
	return nil
}

func validateLocation(field string, l *Location) error {
	if l == nil {
		return fmt.Errorf("%s is required", field)
	}
	if l.Type == "" {
		return fmt.Errorf("%s.type is required", field)
	}
	if l.Path == "" {
		return fmt.Errorf("%s.path is required", field)
	}
	return nil
}

func validateDownload(step StepConfig) error {
	if err := validateLocation("source", step.Source); err != nil {
		return err
	}
	if step.Dest != nil && step.Dest.Type != "" && step.Dest.Type != "local" {
		return fmt.Errorf("dest.type must be local for %s steps, got %q", step.Type, step.Dest.Type)
	}
	return nil
}

func validateTransfer(step StepConfig) error {
	if err := validateLocation("source", step.Source); err != nil {
		return err
	}
	return validateLocation("dest", step.Dest)
}

func validateTransform(step StepConfig) error {
	if step.Transform == nil {
		return fmt.Errorf("transform config is required")
	}
	if len(step.Transform.Command) == 0 || step.Transform.Command[0] == "" {
		return fmt.Errorf("transform.command is required")
	}
	if step.Transform.Timeout < 0 {
		return fmt.Errorf("transform.timeout must not be negative")
	}
	return nil
}

func validateSensor(step StepConfig) error {
	if err := validateLocation("source", step.Source); err != nil {
		return err
	}
	if step.Sensor == nil {
		return nil
	}
	if step.Sensor.PokeInterval < 0 {
		return fmt.Errorf("sensor.pokeInterval must not be negative")
	}
	if step.Sensor.Timeout < 0 {
		return fmt.Errorf("sensor.timeout must not be negative")
	}
	if step.Sensor.Timeout > 0 && step.Sensor.PokeInterval > step.Sensor.Timeout {
		return fmt.Errorf("sensor.pokeInterval %s exceeds sensor.timeout %s", step.Sensor.PokeInterval, step.Sensor.Timeout)
	}
	return nil
}

func validateCleanup(step StepConfig) error {
	if step.Cleanup == nil {
		return fmt.Errorf("cleanup config is required")
	}
	if len(step.Cleanup.Paths) == 0 {
		return fmt.Errorf("cleanup.paths is required")
	}
	for i, p := range step.Cleanup.Paths {
		if p == "" {
			return fmt.Errorf("cleanup.paths[%d] is empty", i)
		}
	}
	return nil
}
