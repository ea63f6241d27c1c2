package processing

import (
	"bytes"
	"fmt"
	"maps"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/systemstart/ferry/pkg/api"
)

// renderString expands a text/template string against data. Strings
// without actions are returned unchanged.
func renderString(name, s string, data map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(sprig.TxtFuncMap()).Parse(s)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", s, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %q: %w", s, err)
	}
	return buf.String(), nil
}

// renderStep returns a copy of cfg with every path, connection reference
// and command argument rendered. cfg itself is not modified.
func renderStep(cfg api.StepConfig, data map[string]any) (api.StepConfig, error) {
	r := renderer{name: cfg.Name, data: data}
	out := cfg

	out.Source = r.location("source", cfg.Source)
	out.Dest = r.location("dest", cfg.Dest)

	if cfg.Transform != nil {
		t := *cfg.Transform
		t.Command = make([]string, len(cfg.Transform.Command))
		for i, arg := range cfg.Transform.Command {
			t.Command[i] = r.str(fmt.Sprintf("transform.command[%d]", i), arg)
		}
		t.Dir = r.str("transform.dir", cfg.Transform.Dir)
		if cfg.Transform.Env != nil {
			t.Env = maps.Clone(cfg.Transform.Env)
			for k, v := range t.Env {
				t.Env[k] = r.str("transform.env."+k, v)
			}
		}
		out.Transform = &t
	}

	if cfg.Cleanup != nil {
		c := *cfg.Cleanup
		c.Conn = r.str("cleanup.conn", cfg.Cleanup.Conn)
		c.Paths = make(api.PathList, len(cfg.Cleanup.Paths))
		for i, p := range cfg.Cleanup.Paths {
			c.Paths[i] = r.str(fmt.Sprintf("cleanup.paths[%d]", i), p)
		}
		out.Cleanup = &c
	}

	if r.err != nil {
		return api.StepConfig{}, fmt.Errorf("step %q: rendering %s: %w", cfg.Name, r.field, r.err)
	}
	return out, nil
}

// renderer keeps the first error so renderStep reads as a flat list of
// fields.
type renderer struct {
	name  string
	data  map[string]any
	err   error
	field string
}

func (r *renderer) str(field, s string) string {
	if r.err != nil {
		return s
	}
	out, err := renderString(r.name+"."+field, s, r.data)
	if err != nil {
		r.err, r.field = err, field
		return s
	}
	return out
}

func (r *renderer) location(field string, l *api.Location) *api.Location {
	if l == nil {
		return nil
	}
	out := *l
	out.Conn = r.str(field+".conn", l.Conn)
	out.Path = r.str(field+".path", l.Path)
	return &out
}
