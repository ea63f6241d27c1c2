package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// objectClient is the flat key/value surface an object store exposes.
// limit caps List results; zero means no cap.
type objectClient interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body io.ReadSeeker) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string, limit int) ([]string, error)
	Delete(ctx context.Context, bucket, key string) error
}

type objectDialer func(ctx context.Context, c Connection) (client objectClient, bucket string, err error)

// ObjectStore implements Backend over a bucket of keys. Folders are key
// prefixes ending in "/". Paths are either "<scheme>://bucket/key" or a key
// in the connection's default bucket.
type ObjectStore struct {
	tag      string
	scheme   string
	ref      string
	resolver Resolver
	dial     objectDialer

	client   objectClient
	bucket   string
	spoolDir string
}

func newObjectStore(tag, scheme, ref string, r Resolver, dial objectDialer) *ObjectStore {
	return &ObjectStore{tag: tag, scheme: scheme, ref: ref, resolver: r, dial: dial}
}

func (o *ObjectStore) Name() string { return o.tag }

// SetSpoolDir sets where write streams are buffered before upload.
func (o *ObjectStore) SetSpoolDir(dir string) { o.spoolDir = dir }

func (o *ObjectStore) Close() error {
	o.client = nil
	return nil
}

func (o *ObjectStore) conn(ctx context.Context) (objectClient, error) {
	if o.client != nil {
		return o.client, nil
	}
	c, err := resolve(o.resolver, o.tag, o.ref)
	if err != nil {
		return nil, err
	}
	slog.Info("creating object store client", "backend", o.tag, "conn", o.ref)
	client, bucket, err := o.dial(ctx, c)
	if err != nil {
		return nil, &ConnectionError{Backend: o.tag, Ref: o.ref, Err: err}
	}
	o.client, o.bucket = client, bucket
	return client, nil
}

// locate splits p into bucket and key.
func (o *ObjectStore) locate(p string) (string, string, error) {
	if rest, ok := strings.CutPrefix(p, o.scheme+"://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return "", "", fmt.Errorf("%s: no bucket in %q", o.tag, p)
		}
		return bucket, key, nil
	}
	if o.bucket == "" {
		return "", "", fmt.Errorf("%s: no bucket in %q and connection %q has no default bucket", o.tag, p, o.ref)
	}
	return o.bucket, strings.TrimPrefix(p, "/"), nil
}

func (o *ObjectStore) target(ctx context.Context, p string) (objectClient, string, string, error) {
	client, err := o.conn(ctx)
	if err != nil {
		return nil, "", "", err
	}
	bucket, key, err := o.locate(p)
	if err != nil {
		return nil, "", "", err
	}
	return client, bucket, key, nil
}

func folderPrefix(key string) string {
	key = strings.TrimRight(key, "/")
	if key == "" {
		return ""
	}
	return key + "/"
}

func (o *ObjectStore) Open(ctx context.Context, p string, mode Mode) (File, error) {
	if err := streamOnly(o.tag, mode); err != nil {
		return nil, err
	}
	client, bucket, key, err := o.target(ctx, p)
	if err != nil {
		return nil, err
	}
	if mode == ModeRead {
		rc, err := client.Get(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("getting %s/%s: %w", bucket, key, err)
		}
		return ReadOnly(rc), nil
	}
	w, err := newSpoolCommit(o.spoolDir, "ferry-"+o.tag+"-*", func(f *os.File) error {
		if err := client.Put(ctx, bucket, key, f); err != nil {
			return fmt.Errorf("putting %s/%s: %w", bucket, key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return WriteOnly(w), nil
}

func (o *ObjectStore) Download(ctx context.Context, remotePath, localPath string, replace bool) error {
	if err := checkReplace(localPath, replace); err != nil {
		return err
	}
	if err := ensureParent(localPath); err != nil {
		return err
	}
	client, bucket, key, err := o.target(ctx, remotePath)
	if err != nil {
		return err
	}
	return o.get(ctx, client, bucket, key, localPath)
}

func (o *ObjectStore) get(ctx context.Context, client objectClient, bucket, key, localPath string) error {
	slog.Info("downloading object", "backend", o.tag, "bucket", bucket, "key", key, "local", localPath)
	rc, err := client.Get(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("getting %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = rc.Close() }()
	return writeLocal(localPath, rc)
}

func (o *ObjectStore) DownloadFolder(ctx context.Context, remotePath, localPath string, replace bool) error {
	if err := resetDir(localPath, replace); err != nil {
		return err
	}
	if err := os.MkdirAll(localPath, dirPerm); err != nil {
		return fmt.Errorf("creating directory %s: %w", localPath, err)
	}
	client, bucket, key, err := o.target(ctx, remotePath)
	if err != nil {
		return err
	}
	prefix := folderPrefix(key)
	keys, err := client.List(ctx, bucket, prefix, 0)
	if err != nil {
		return fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)
	}
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		local := filepath.FromSlash(rel)
		if !filepath.IsLocal(local) {
			slog.Warn("skipping object outside folder", "backend", o.tag, "key", k)
			continue
		}
		target := filepath.Join(localPath, local)
		if err := ensureParent(target); err != nil {
			return err
		}
		if err := o.get(ctx, client, bucket, k, target); err != nil {
			return err
		}
	}
	return nil
}

func (o *ObjectStore) Upload(ctx context.Context, localPath, remotePath string, replace bool) error {
	client, bucket, key, err := o.target(ctx, remotePath)
	if err != nil {
		return err
	}
	if !replace {
		exists, err := client.Exists(ctx, bucket, key)
		if err != nil {
			return fmt.Errorf("checking %s/%s: %w", bucket, key, err)
		}
		if exists {
			return &AlreadyExistsError{Path: remotePath}
		}
	}
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer func() { _ = in.Close() }()

	slog.Info("uploading object", "backend", o.tag, "bucket", bucket, "key", key)
	if err := client.Put(ctx, bucket, key, in); err != nil {
		return fmt.Errorf("putting %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (o *ObjectStore) Delete(ctx context.Context, p string) error {
	isDir, err := o.FolderExists(ctx, p)
	if err != nil {
		return err
	}
	client, bucket, key, err := o.target(ctx, p)
	if err != nil {
		return err
	}
	if !isDir {
		if err := client.Delete(ctx, bucket, key); err != nil {
			return fmt.Errorf("deleting %s/%s: %w", bucket, key, err)
		}
		return nil
	}
	prefix := folderPrefix(key)
	keys, err := client.List(ctx, bucket, prefix, 0)
	if err != nil {
		return fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)
	}
	for _, k := range keys {
		if err := client.Delete(ctx, bucket, k); err != nil {
			return fmt.Errorf("deleting %s/%s: %w", bucket, k, err)
		}
	}
	return nil
}

func (o *ObjectStore) FileExists(ctx context.Context, p string) (bool, error) {
	client, bucket, key, err := o.target(ctx, p)
	if err != nil {
		return false, err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return false, nil
	}
	exists, err := client.Exists(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("checking %s/%s: %w", bucket, key, err)
	}
	return exists, nil
}

func (o *ObjectStore) FolderExists(ctx context.Context, p string) (bool, error) {
	client, bucket, key, err := o.target(ctx, p)
	if err != nil {
		return false, err
	}
	prefix := folderPrefix(key)
	if prefix == "" {
		return false, nil
	}
	keys, err := client.List(ctx, bucket, prefix, 1)
	if err != nil {
		return false, fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)
	}
	return len(keys) > 0, nil
}
