package api

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/systemstart/ferry/pkg/backend"
)

// ConnectionsFile is the format of the connections file.
type ConnectionsFile struct {
	Connections map[string]backend.Connection `yaml:"connections"`
}

// LoadConnections reads a connections YAML file. ${VAR} and $VAR references
// in string values are expanded from the environment after parsing, so
// secrets can stay in the environment or a .env file.
func LoadConnections(filename string) (backend.StaticResolver, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading connections file: %w", err)
	}

	var f ConnectionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing connections file: %w", err)
	}

	r := make(backend.StaticResolver, len(f.Connections))
	for name, c := range f.Connections {
		if name == "" {
			return nil, fmt.Errorf("connections file %s: empty connection name", filename)
		}
		r[name] = expandConnection(c)
	}
	return r, nil
}

func expandConnection(c backend.Connection) backend.Connection {
	c.Host = os.ExpandEnv(c.Host)
	c.User = os.ExpandEnv(c.User)
	c.Password = os.ExpandEnv(c.Password)
	c.PrivateKey = os.ExpandEnv(c.PrivateKey)
	c.PrivateKeyFile = os.ExpandEnv(c.PrivateKeyFile)
	c.KnownHostsFile = os.ExpandEnv(c.KnownHostsFile)
	c.HostKeyFingerprint = os.ExpandEnv(c.HostKeyFingerprint)
	if len(c.Extra) > 0 {
		extra := make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			extra[k] = os.ExpandEnv(v)
		}
		c.Extra = extra
	}
	return c
}
