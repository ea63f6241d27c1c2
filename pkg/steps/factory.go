package steps

import (
	"fmt"

	"github.com/systemstart/ferry/pkg/api"
)

// NewStep creates a Step implementation from a StepConfig. Sensor types
// are rejected; use NewSensor for those.
func NewStep(cfg api.StepConfig) (Step, error) {
	switch cfg.Type {
	case api.StepTypeDownload, api.StepTypeDownloadFolder:
		if cfg.Source == nil {
			return nil, fmt.Errorf("step %q: source is required", cfg.Name)
		}
		var local string
		if cfg.Dest != nil {
			local = cfg.Dest.Path
		}
		replace := api.BoolOr(cfg.Replace, true)
		if cfg.Type == api.StepTypeDownloadFolder {
			return NewDownloadFolderStep(cfg.Name, *cfg.Source, local, replace), nil
		}
		return NewDownloadStep(cfg.Name, *cfg.Source, local, replace), nil
	case api.StepTypeTransfer:
		if cfg.Source == nil || cfg.Dest == nil {
			return nil, fmt.Errorf("step %q: source and dest are required", cfg.Name)
		}
		return NewTransferStep(cfg.Name, *cfg.Source, *cfg.Dest), nil
	case api.StepTypeTransform:
		if cfg.Source == nil || cfg.Dest == nil || cfg.Transform == nil {
			return nil, fmt.Errorf("step %q: source, dest and transform are required", cfg.Name)
		}
		return NewTransformStep(cfg.Name, *cfg.Source, *cfg.Dest, cfg.Transform), nil
	case api.StepTypeCleanup:
		if cfg.Cleanup == nil {
			return nil, fmt.Errorf("step %q: cleanup config is required", cfg.Name)
		}
		return NewCleanupStep(cfg.Name, cfg.Cleanup), nil
	case api.StepTypeFileSensor, api.StepTypeFolderSensor:
		return nil, fmt.Errorf("step %q: %s is a sensor", cfg.Name, cfg.Type)
	default:
		return nil, fmt.Errorf("unknown step type: %s", cfg.Type)
	}
}

// IsSensor reports whether the step type is polled rather than run.
func IsSensor(typ string) bool {
	return typ == api.StepTypeFileSensor || typ == api.StepTypeFolderSensor
}

// NewSensor creates a Sensor implementation from a StepConfig.
func NewSensor(cfg api.StepConfig) (Sensor, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("step %q: source is required", cfg.Name)
	}
	switch cfg.Type {
	case api.StepTypeFileSensor:
		return NewFileSensor(cfg.Name, *cfg.Source), nil
	case api.StepTypeFolderSensor:
		return NewFolderSensor(cfg.Name, *cfg.Source), nil
	default:
		return nil, fmt.Errorf("step %q: %s is not a sensor", cfg.Name, cfg.Type)
	}
}
