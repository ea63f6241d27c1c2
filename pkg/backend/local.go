package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	TypeLocal = "local"

	dirPerm = 0o750
)

func init() {
	Register(TypeLocal, func(string, Resolver) (Backend, error) { return NewLocal(), nil })
}

// Local is the filesystem backend. Connection references are ignored.
type Local struct{}

// NewLocal returns a local filesystem backend.
func NewLocal() *Local { return &Local{} }

func (l *Local) Name() string { return TypeLocal }

func (l *Local) Close() error { return nil }

func (l *Local) Open(_ context.Context, p string, mode Mode) (File, error) {
	var flag int
	switch mode {
	case ModeRead:
		flag = os.O_RDONLY
	case ModeWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeReadWrite:
		return nil, &UnsupportedModeError{Backend: TypeLocal, Mode: mode, Reason: "cannot open a read/write stream"}
	default:
		return nil, &UnsupportedModeError{Backend: TypeLocal, Mode: mode, Reason: "unknown mode"}
	}
	f, err := os.OpenFile(p, flag, 0o600)
	if err != nil {
		return nil, err
	}
	if mode == ModeRead {
		return ReadOnly(f), nil
	}
	return WriteOnly(f), nil
}

func (l *Local) Download(_ context.Context, remotePath, localPath string, replace bool) error {
	if err := checkReplace(localPath, replace); err != nil {
		return err
	}
	slog.Debug("copying local file", "source", remotePath, "dest", localPath)
	return copyFile(remotePath, localPath)
}

func (l *Local) DownloadFolder(_ context.Context, remotePath, localPath string, replace bool) error {
	if err := resetDir(localPath, replace); err != nil {
		return err
	}
	slog.Debug("copying local tree", "source", remotePath, "dest", localPath)
	return copyTree(remotePath, localPath)
}

func (l *Local) Upload(_ context.Context, localPath, remotePath string, replace bool) error {
	if err := checkReplace(remotePath, replace); err != nil {
		return err
	}
	return copyFile(localPath, remotePath)
}

func (l *Local) Delete(_ context.Context, p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return os.RemoveAll(p)
	}
	return os.Remove(p)
}

func (l *Local) FileExists(_ context.Context, p string) (bool, error) {
	return statIs(p, func(fi fs.FileInfo) bool { return fi.Mode().IsRegular() })
}

func (l *Local) FolderExists(_ context.Context, p string) (bool, error) {
	return statIs(p, fs.FileInfo.IsDir)
}

func statIs(p string, pred func(fs.FileInfo) bool) (bool, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return pred(info), nil
}

// checkReplace fails with AlreadyExistsError when p exists and replace is off.
func checkReplace(p string, replace bool) error {
	if replace {
		return nil
	}
	if _, err := os.Lstat(p); err == nil {
		return &AlreadyExistsError{Path: p}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	return nil
}

// resetDir applies the replace policy of a folder download: an existing
// tree is removed when replace is set, and is a collision otherwise.
func resetDir(p string, replace bool) error {
	_, err := os.Lstat(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat %s: %w", p, err)
	case !replace:
		return &AlreadyExistsError{Path: p}
	}
	slog.Debug("removing existing local tree", "path", p)
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	return nil
}

// ensureParent creates the parent directory of p if it is missing.
func ensureParent(p string) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// writeLocal streams r into a newly truncated file at p.
func writeLocal(p string, r io.Reader) error {
	out, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("creating %s: %w", p, err)
	}
	_, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("writing %s: %w", p, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", p, closeErr)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()
	return writeLocal(dst, in)
}

func copyTree(src, dst string) error {
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk error at %s: %w", p, err)
		}
		rel, relErr := filepath.Rel(src, p)
		if relErr != nil {
			return fmt.Errorf("computing relative path for %s: %w", p, relErr)
		}
		return copyEntry(dst, rel, p, d)
	})
	if err != nil {
		return fmt.Errorf("copying tree: %w", err)
	}
	return nil
}

func copyEntry(dst, rel, srcPath string, d fs.DirEntry) error {
	target := filepath.Join(dst, rel)

	if d.IsDir() {
		if err := os.MkdirAll(target, dirPerm); err != nil {
			return fmt.Errorf("creating directory %s: %w", target, err)
		}
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}
	if err := copyFile(srcPath, target); err != nil {
		return err
	}
	if err := os.Chmod(target, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	return nil
}
