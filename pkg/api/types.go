package api

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StepTypeDownload       = "download"
	StepTypeDownloadFolder = "download-folder"
	StepTypeTransfer       = "transfer"
	StepTypeTransform      = "transform"
	StepTypeFileSensor     = "file-sensor"
	StepTypeFolderSensor   = "folder-sensor"
	StepTypeCleanup        = "cleanup"

	DefaultPokeInterval  = 60 * time.Second
	DefaultSensorTimeout = 7 * 24 * time.Hour
)

// Pipeline is the .ferry.yaml configuration format.
type Pipeline struct {
	Context  map[string]any `yaml:"context"`
	Defaults Defaults       `yaml:"defaults"`
	Pipeline []StepConfig   `yaml:"pipeline"`

	// Set by the loader, not from YAML.
	Dir      string `yaml:"-"`
	FilePath string `yaml:"-"`
}

// Defaults apply to every step that does not override them.
type Defaults struct {
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// StepConfig defines a single step within a pipeline.
type StepConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	Source *Location `yaml:"source,omitempty"`
	Dest   *Location `yaml:"dest,omitempty"`

	// Replace applies to download steps; default true.
	Replace *bool `yaml:"replace,omitempty"`

	Transform *TransformConfig `yaml:"transform,omitempty"`
	Sensor    *SensorConfig    `yaml:"sensor,omitempty"`
	Cleanup   *CleanupConfig   `yaml:"cleanup,omitempty"`

	Retries    *int           `yaml:"retries,omitempty"`
	RetryDelay *time.Duration `yaml:"retryDelay,omitempty"`
}

// Location names a path on a backend. Conn is a connection reference
// resolved at run time; local locations leave it empty.
type Location struct {
	Type string `yaml:"type"`
	Conn string `yaml:"conn"`
	Path string `yaml:"path"`
}

func (l Location) String() string {
	if l.Conn == "" {
		return fmt.Sprintf("%s:%s", l.Type, l.Path)
	}
	return fmt.Sprintf("%s(%s):%s", l.Type, l.Conn, l.Path)
}

// TransformConfig configures the transform step.
type TransformConfig struct {
	Command   []string          `yaml:"command"`
	UseStdin  *bool             `yaml:"useStdin,omitempty"`  // default true
	UseStdout *bool             `yaml:"useStdout,omitempty"` // default true
	Timeout   time.Duration     `yaml:"timeout"`
	Dir       string            `yaml:"dir"`
	Env       map[string]string `yaml:"env"`
}

// SensorConfig configures how the scheduler polls a sensor.
type SensorConfig struct {
	PokeInterval time.Duration `yaml:"pokeInterval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// CleanupConfig configures the cleanup step. Type defaults to local.
type CleanupConfig struct {
	Type  string   `yaml:"type"`
	Conn  string   `yaml:"conn"`
	Paths PathList `yaml:"paths"`
}

// PathList accepts either a single scalar or a sequence of paths.
type PathList []string

func (l *PathList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = PathList{s}
		return nil
	case yaml.SequenceNode:
		var s []string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = s
		return nil
	default:
		return fmt.Errorf("line %d: paths must be a string or a list of strings", value.Line)
	}
}

// BoolOr dereferences b, falling back to def when unset.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// InstancesConfig is the top-level structure of an instances file.
type InstancesConfig struct {
	Instances []Instance `yaml:"instances"`
}

// Instance runs the pipeline once with its context merged over the
// pipeline's own.
type Instance struct {
	Name    string         `yaml:"name"`
	Context map[string]any `yaml:"context"`
}
