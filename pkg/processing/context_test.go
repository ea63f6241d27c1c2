package processing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadContextFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]any
		wantErr bool
	}{
		{
			name:    "values",
			content: "bucket: landing\nretention: 7\n",
			want:    map[string]any{"bucket": "landing", "retention": 7},
		},
		{name: "empty", content: "", want: map[string]any{}},
		{name: "comments only", content: "# nothing yet\n", want: map[string]any{}},
		{name: "invalid yaml", content: "{{invalid", wantErr: true},
		{name: "not a mapping", content: "- a\n- b\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := filepath.Join(t.TempDir(), "context.yaml")
			if err := os.WriteFile(f, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			ctx, err := LoadContextFile(f)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", ctx)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ctx == nil {
				t.Fatal("expected non-nil map")
			}
			if len(ctx) != len(tt.want) {
				t.Fatalf("got %v, want %v", ctx, tt.want)
			}
			for k, v := range tt.want {
				if ctx[k] != v {
					t.Errorf("%s = %v, want %v", k, ctx[k], v)
				}
			}
		})
	}

	if _, err := LoadContextFile("/nonexistent/context.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMergeContext(t *testing.T) {
	tests := []struct {
		name   string
		global map[string]any
		local  map[string]any
		check  func(t *testing.T, merged map[string]any)
	}{
		{
			name:   "local overrides global",
			global: map[string]any{"domain": "global.com", "port": 8080},
			local:  map[string]any{"domain": "local.com", "extra": "value"},
			check: func(t *testing.T, m map[string]any) {
				t.Helper()
				if m["domain"] != "local.com" {
					t.Errorf("expected local override, got %v", m["domain"])
				}
				if m["port"] != 8080 {
					t.Errorf("expected global port preserved, got %v", m["port"])
				}
				if m["extra"] != "value" {
					t.Errorf("expected local extra, got %v", m["extra"])
				}
			},
		},
		{
			name:  "nil global",
			local: map[string]any{"key": "val"},
			check: func(t *testing.T, m map[string]any) {
				t.Helper()
				if m["key"] != "val" {
					t.Errorf("expected key=val, got %v", m["key"])
				}
			},
		},
		{
			name:   "nil local",
			global: map[string]any{"key": "val"},
			check: func(t *testing.T, m map[string]any) {
				t.Helper()
				if m["key"] != "val" {
					t.Errorf("expected key=val, got %v", m["key"])
				}
			},
		},
		{
			name: "both nil",
			check: func(t *testing.T, m map[string]any) {
				t.Helper()
				if len(m) != 0 {
					t.Errorf("expected empty map, got %v", m)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, MergeContext(tt.global, tt.local))
		})
	}
}

func TestMergeContext_Layers(t *testing.T) {
	global := map[string]any{"a": 1, "b": 1, "c": 1}
	pipeline := map[string]any{"b": 2, "c": 2}
	instance := map[string]any{"c": 3}

	m := MergeContext(global, pipeline, instance)
	if m["a"] != 1 || m["b"] != 2 || m["c"] != 3 {
		t.Errorf("unexpected merge result: %v", m)
	}
	if global["c"] != 1 {
		t.Error("inputs must not be modified")
	}
}

func TestLoadContextFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "base.yaml")
	second := filepath.Join(dir, "prod.yaml")
	if err := os.WriteFile(first, []byte("env: dev\nbucket: shared\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("env: prod\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, err := LoadContextFiles(first, second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx["env"] != "prod" || ctx["bucket"] != "shared" {
		t.Errorf("unexpected context: %v", ctx)
	}

	if _, err := LoadContextFiles(first, filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	empty, err := LoadContextFiles()
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty context, got %v, %v", empty, err)
	}
}
