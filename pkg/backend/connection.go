package backend

import (
	"fmt"
	"net"
	"strconv"
)

// Connection holds what a backend needs to reach a remote service. It is
// resolved from an opaque reference and never written anywhere by this
// package.
type Connection struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	PrivateKey         string `yaml:"privateKey"`
	PrivateKeyFile     string `yaml:"privateKeyFile"`
	KnownHostsFile     string `yaml:"knownHostsFile"`
	HostKeyFingerprint string `yaml:"hostKeyFingerprint"`

	// Extra carries backend-specific settings (bucket, region, endpoint, ...).
	Extra map[string]string `yaml:"extra"`
}

// Addr joins Host and Port, falling back to defaultPort.
func (c Connection) Addr(defaultPort int) string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Get returns Extra[key] or def when unset.
func (c Connection) Get(key, def string) string {
	if v, ok := c.Extra[key]; ok && v != "" {
		return v
	}
	return def
}

// Resolver looks up a connection reference. Implementations must be safe
// for concurrent reads.
type Resolver interface {
	Resolve(ref string) (Connection, error)
}

// StaticResolver is an in-memory Resolver keyed by reference name.
type StaticResolver map[string]Connection

func (r StaticResolver) Resolve(ref string) (Connection, error) {
	c, ok := r[ref]
	if !ok {
		return Connection{}, fmt.Errorf("connection %q not defined", ref)
	}
	return c, nil
}

// resolve wraps lookup failures as ConnectionError.
func resolve(r Resolver, backend, ref string) (Connection, error) {
	if r == nil {
		return Connection{}, &ConnectionError{Backend: backend, Ref: ref, Err: fmt.Errorf("no connection resolver configured")}
	}
	c, err := r.Resolve(ref)
	if err != nil {
		return Connection{}, &ConnectionError{Backend: backend, Ref: ref, Err: err}
	}
	return c, nil
}
