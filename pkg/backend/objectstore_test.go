package backend

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

// memObjects is an in-memory objectClient keyed by "bucket/key".
type memObjects struct {
	mu      sync.Mutex
	objects map[string]string
}

func newMemObjects(objects map[string]string) *memObjects {
	m := &memObjects{objects: map[string]string{}}
	for k, v := range objects {
		m.objects[k] = v
	}
	return m
}

func (m *memObjects) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

func (m *memObjects) Put(_ context.Context, bucket, key string, body io.ReadSeeker) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = string(data)
	return nil
}

func (m *memObjects) Exists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+key]
	return ok, nil
}

func (m *memObjects) List(_ context.Context, bucket, prefix string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if key, ok := strings.CutPrefix(k, bucket+"/"); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *memObjects) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func newTestObjectStore(m *memObjects, defaultBucket string) *ObjectStore {
	return newObjectStore("s3", "s3", "lake", StaticResolver{"lake": {}},
		func(context.Context, Connection) (objectClient, string, error) {
			return m, defaultBucket, nil
		})
}

func TestObjectStore_Locate(t *testing.T) {
	o := newTestObjectStore(newMemObjects(nil), "default")
	o.bucket = "default"

	tests := []struct {
		in          string
		bucket, key string
		wantErr     bool
	}{
		{in: "s3://raw/in/a.csv", bucket: "raw", key: "in/a.csv"},
		{in: "s3://raw", bucket: "raw", key: ""},
		{in: "/in/a.csv", bucket: "default", key: "in/a.csv"},
		{in: "in/a.csv", bucket: "default", key: "in/a.csv"},
		{in: "s3:///a.csv", wantErr: true},
	}
	for _, tt := range tests {
		bucket, key, err := o.locate(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("locate(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("locate(%q): %v", tt.in, err)
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("locate(%q) = (%q, %q), want (%q, %q)", tt.in, bucket, key, tt.bucket, tt.key)
		}
	}

	o.bucket = ""
	if _, _, err := o.locate("in/a.csv"); err == nil {
		t.Error("expected error without default bucket")
	}
}

func TestObjectStore_ExistsAndDelete(t *testing.T) {
	m := newMemObjects(map[string]string{
		"raw/in/a.csv":       "a",
		"raw/in/sub/b.csv":   "b",
		"raw/inbox/c.csv":    "c",
		"other/in/x.csv":     "x",
		"raw/marker/":        "",
		"raw/marker/inner.t": "i",
	})
	o := newTestObjectStore(m, "raw")
	ctx := context.Background()

	tests := []struct {
		name   string
		path   string
		folder bool
		want   bool
	}{
		{"file", "s3://raw/in/a.csv", false, true},
		{"file in default bucket", "in/a.csv", false, true},
		{"prefix is not a file", "s3://raw/in", false, false},
		{"folder", "s3://raw/in", true, true},
		{"folder with slash", "s3://raw/in/", true, true},
		{"partial prefix is not a folder", "s3://raw/inb", true, false},
		{"missing", "s3://raw/none.csv", false, false},
		{"bucket root is not a folder", "s3://raw", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				got bool
				err error
			)
			if tt.folder {
				got, err = o.FolderExists(ctx, tt.path)
			} else {
				got, err = o.FileExists(ctx, tt.path)
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if err := o.Delete(ctx, "s3://raw/in"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.objects["raw/in/sub/b.csv"]; ok {
		t.Error("prefix delete left objects")
	}
	if _, ok := m.objects["raw/inbox/c.csv"]; !ok {
		t.Error("prefix delete removed a sibling prefix")
	}
	if _, ok := m.objects["other/in/x.csv"]; !ok {
		t.Error("prefix delete crossed buckets")
	}
}

func TestObjectStore_Streams(t *testing.T) {
	m := newMemObjects(map[string]string{"raw/in/a.csv": "a,b,c"})
	o := newTestObjectStore(m, "raw")
	ctx := context.Background()

	r, err := o.Open(ctx, "in/a.csv", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(r)
	_ = r.Close()
	if string(data) != "a,b,c" {
		t.Errorf("read %q", data)
	}

	w, err := o.Open(ctx, "s3://clean/out/a.csv", ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, "A,B,C"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.objects["clean/out/a.csv"]; ok {
		t.Error("object committed before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if m.objects["clean/out/a.csv"] != "A,B,C" {
		t.Errorf("committed %q", m.objects["clean/out/a.csv"])
	}

	for _, mode := range []Mode{ModeAppend, ModeReadWrite} {
		if _, err := o.Open(ctx, "in/a.csv", mode); !errors.As(err, new(*UnsupportedModeError)) {
			t.Errorf("Open(%v) = %v, want UnsupportedModeError", mode, err)
		}
	}
}

func TestObjectStore_SpoolDirAndAbort(t *testing.T) {
	m := newMemObjects(nil)
	o := newTestObjectStore(m, "raw")
	dir := t.TempDir()
	o.SetSpoolDir(dir)
	ctx := context.Background()

	w, err := o.Open(ctx, "out/a.csv", ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, "half"); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one spool file in %s, got %d", dir, len(entries))
	}

	if err := w.(Aborter).Abort(errors.New("read failed")); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.objects["raw/out/a.csv"]; ok {
		t.Error("aborted write was uploaded")
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("spool file left behind: %v", entries)
	}
}

func TestObjectStore_DownloadUpload(t *testing.T) {
	m := newMemObjects(map[string]string{
		"raw/in/a.csv":     "a",
		"raw/in/sub/b.csv": "b",
		"raw/in/dir/":      "",
	})
	o := newTestObjectStore(m, "raw")
	ctx := context.Background()
	dir := t.TempDir()

	local := filepath.Join(dir, "x", "a.csv")
	if err := o.Download(ctx, "in/a.csv", local, true); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, local); got != "a" {
		t.Errorf("downloaded %q", got)
	}
	if err := o.Download(ctx, "in/a.csv", local, false); !errors.As(err, new(*AlreadyExistsError)) {
		t.Errorf("Download(replace=false) = %v", err)
	}

	tree := filepath.Join(dir, "tree")
	if err := o.DownloadFolder(ctx, "s3://raw/in", tree, true); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(tree, "sub", "b.csv")); got != "b" {
		t.Errorf("sub/b.csv = %q", got)
	}

	src := filepath.Join(dir, "up.csv")
	writeFile(t, src, "up")
	if err := o.Upload(ctx, src, "in/a.csv", false); !errors.As(err, new(*AlreadyExistsError)) {
		t.Errorf("Upload(replace=false) = %v", err)
	}
	if m.objects["raw/in/a.csv"] != "a" {
		t.Error("existing object modified")
	}
	if err := o.Upload(ctx, src, "in/up.csv", false); err != nil {
		t.Fatal(err)
	}
	if m.objects["raw/in/up.csv"] != "up" {
		t.Errorf("uploaded %q", m.objects["raw/in/up.csv"])
	}
}
