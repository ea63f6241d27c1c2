package backend

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestDefaultRegistry_BuiltinTags(t *testing.T) {
	tags := Default.Tags()
	for _, want := range []string{TypeLocal, TypeFTP, TypeSFTP, TypeS3, TypeObjectStore, TypeAzureBlob} {
		if !slices.Contains(tags, want) {
			t.Errorf("Default registry missing %q (have %v)", want, tags)
		}
	}
}

func TestRegistry_New(t *testing.T) {
	r := NewRegistry()
	r.Register("mem", func(ref string, _ Resolver) (Backend, error) {
		if ref == "" {
			return nil, errors.New("ref required")
		}
		return NewLocal(), nil
	})

	b, err := r.New("mem", "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.Name() != TypeLocal {
		t.Errorf("Name() = %q", b.Name())
	}

	if _, err := r.New("mem", "", nil); err == nil {
		t.Error("expected factory error")
	}

	_, err = r.New("gopher", "x", nil)
	if err == nil || !strings.Contains(err.Error(), "gopher") {
		t.Errorf("unknown tag error = %v, want it to name the tag", err)
	}
}

func TestRegistry_FactoriesDoNotDial(t *testing.T) {
	// No resolver entries exist; construction must still succeed.
	for _, tag := range []string{TypeFTP, TypeSFTP, TypeS3, TypeAzureBlob} {
		b, err := New(tag, "missing", StaticResolver{})
		if err != nil {
			t.Fatalf("New(%q): %v", tag, err)
		}
		if err := b.Close(); err != nil {
			t.Errorf("Close on unused %s backend: %v", tag, err)
		}
	}
}

func TestResolve(t *testing.T) {
	r := StaticResolver{"etl": {Host: "sftp.example.com", Port: 2222}}

	c, err := resolve(r, TypeSFTP, "etl")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Addr(22); got != "sftp.example.com:2222" {
		t.Errorf("Addr = %q", got)
	}

	_, err = resolve(r, TypeSFTP, "nope")
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Ref != "nope" {
		t.Errorf("resolve(missing) = %v, want ConnectionError", err)
	}

	if _, err := resolve(nil, TypeFTP, "etl"); !errors.As(err, &ce) {
		t.Errorf("resolve(nil resolver) = %v, want ConnectionError", err)
	}
}

func TestConnection_Get(t *testing.T) {
	c := Connection{Extra: map[string]string{"region": "eu-west-1", "empty": ""}}
	if got := c.Get("region", "us-east-1"); got != "eu-west-1" {
		t.Errorf("Get(region) = %q", got)
	}
	if got := c.Get("empty", "def"); got != "def" {
		t.Errorf("Get(empty) = %q", got)
	}
	if got := (Connection{}).Get("bucket", "b"); got != "b" {
		t.Errorf("Get on nil Extra = %q", got)
	}
	if got := (Connection{Host: "h"}).Addr(21); got != "h:21" {
		t.Errorf("Addr default port = %q", got)
	}
}
