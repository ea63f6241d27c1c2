package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
)

const (
	TypeFTP = "ftp"

	defaultFTPPort    = 21
	defaultFTPTimeout = 30 * time.Second
)

func init() {
	Register(TypeFTP, func(ref string, r Resolver) (Backend, error) { return NewFTP(ref, r), nil })
}

// ftpConn is the part of *ftp.ServerConn the backend uses.
type ftpConn interface {
	Retr(p string) (io.ReadCloser, error)
	Stor(p string, r io.Reader) error
	List(p string) ([]*ftp.Entry, error)
	Delete(p string) error
	RemoveDirRecur(p string) error
	Quit() error
}

type serverConn struct{ *ftp.ServerConn }

func (c serverConn) Retr(p string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(p)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FTP is the FTP backend. One control connection is opened lazily and
// reused for every call; streams must be closed before the next call.
type FTP struct {
	ref      string
	resolver Resolver
	dial     func(ctx context.Context, c Connection) (ftpConn, error)
	conn     ftpConn
}

// NewFTP returns an FTP backend for the given connection reference.
func NewFTP(ref string, r Resolver) *FTP {
	return &FTP{ref: ref, resolver: r, dial: dialFTP}
}

func dialFTP(ctx context.Context, c Connection) (ftpConn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(defaultFTPTimeout),
	}
	if c.Get("disableEPSV", "") == "true" {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}
	if c.Get("tls", "") == "explicit" {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12}))
	}

	conn, err := ftp.Dial(c.Addr(defaultFTPPort), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := conn.Login(c.User, c.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login: %w", err)
	}
	return serverConn{conn}, nil
}

func (f *FTP) Name() string { return TypeFTP }

func (f *FTP) client(ctx context.Context) (ftpConn, error) {
	if f.conn != nil {
		return f.conn, nil
	}
	c, err := resolve(f.resolver, TypeFTP, f.ref)
	if err != nil {
		return nil, err
	}
	slog.Info("establishing ftp connection", "conn", f.ref, "host", c.Host)
	conn, err := f.dial(ctx, c)
	if err != nil {
		return nil, &ConnectionError{Backend: TypeFTP, Ref: f.ref, Err: err}
	}
	f.conn = conn
	return conn, nil
}

func (f *FTP) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Quit()
	f.conn = nil
	return err
}

func (f *FTP) Open(ctx context.Context, p string, mode Mode) (File, error) {
	if err := streamOnly(TypeFTP, mode); err != nil {
		return nil, err
	}
	conn, err := f.client(ctx)
	if err != nil {
		return nil, err
	}
	if mode == ModeRead {
		rc, err := conn.Retr(p)
		if err != nil {
			return nil, fmt.Errorf("retrieving %s: %w", p, err)
		}
		return ReadOnly(rc), nil
	}
	store := func(r io.Reader) error {
		if err := conn.Stor(p, r); err != nil {
			return fmt.Errorf("storing %s: %w", p, err)
		}
		return nil
	}
	// Servers keep what arrived before an aborted STOR.
	discard := func() error {
		exists, err := f.FileExists(ctx, p)
		if err != nil || !exists {
			return err
		}
		slog.Info("removing partial upload", "path", p)
		return conn.Delete(p)
	}
	return WriteOnly(newPipeCommit(store, discard)), nil
}

func (f *FTP) Download(ctx context.Context, remotePath, localPath string, replace bool) error {
	if err := checkReplace(localPath, replace); err != nil {
		return err
	}
	if err := ensureParent(localPath); err != nil {
		return err
	}
	conn, err := f.client(ctx)
	if err != nil {
		return err
	}
	return f.retrieve(conn, remotePath, localPath)
}

func (f *FTP) retrieve(conn ftpConn, remotePath, localPath string) error {
	slog.Info("retrieving file from ftp", "path", remotePath)
	rc, err := conn.Retr(remotePath)
	if err != nil {
		return fmt.Errorf("retrieving %s: %w", remotePath, err)
	}
	writeErr := writeLocal(localPath, rc)
	closeErr := rc.Close()
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return fmt.Errorf("finishing retrieval of %s: %w", remotePath, closeErr)
	}
	return nil
}

func (f *FTP) DownloadFolder(ctx context.Context, remotePath, localPath string, replace bool) error {
	if err := resetDir(localPath, replace); err != nil {
		return err
	}
	if err := os.MkdirAll(localPath, dirPerm); err != nil {
		return fmt.Errorf("creating directory %s: %w", localPath, err)
	}
	conn, err := f.client(ctx)
	if err != nil {
		return err
	}

	base := path.Clean(remotePath)
	visited := make(map[string]bool)

	var walk func(current, local string) error
	walk = func(current, local string) error {
		if visited[current] {
			return nil
		}
		visited[current] = true

		entries, err := conn.List(current)
		if err != nil {
			return fmt.Errorf("listing %s: %w", current, err)
		}
		for _, e := range entries {
			name := path.Base(e.Name)
			if isDotEntry(name) {
				continue
			}
			remote := path.Join(current, name)
			target := filepath.Join(local, name)
			switch e.Type {
			case ftp.EntryTypeFile:
				if err := f.retrieve(conn, remote, target); err != nil {
					return err
				}
			case ftp.EntryTypeFolder:
				if err := os.MkdirAll(target, dirPerm); err != nil {
					return fmt.Errorf("creating directory %s: %w", target, err)
				}
				if err := walk(remote, target); err != nil {
					return err
				}
			}
		}
		return nil
	}

	slog.Info("retrieving folder from ftp", "path", base)
	return walk(base, localPath)
}

func (f *FTP) Upload(ctx context.Context, localPath, remotePath string, replace bool) error {
	if !replace {
		exists, err := f.FileExists(ctx, remotePath)
		if err != nil {
			return err
		}
		if exists {
			return &AlreadyExistsError{Path: remotePath}
		}
	}
	conn, err := f.client(ctx)
	if err != nil {
		return err
	}
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer func() { _ = in.Close() }()

	slog.Info("storing file on ftp", "path", remotePath)
	if err := conn.Stor(remotePath, in); err != nil {
		return fmt.Errorf("storing %s: %w", remotePath, err)
	}
	return nil
}

func (f *FTP) Delete(ctx context.Context, p string) error {
	isDir, err := f.FolderExists(ctx, p)
	if err != nil {
		return err
	}
	conn, err := f.client(ctx)
	if err != nil {
		return err
	}
	if isDir {
		err = conn.RemoveDirRecur(p)
	} else {
		err = conn.Delete(p)
	}
	if err != nil {
		return fmt.Errorf("deleting %s: %w", p, err)
	}
	return nil
}

func (f *FTP) FileExists(ctx context.Context, p string) (bool, error) {
	return f.match(ctx, p, ftp.EntryTypeFile)
}

func (f *FTP) FolderExists(ctx context.Context, p string) (bool, error) {
	return f.match(ctx, p, ftp.EntryTypeFolder)
}

// match lists the parent of p and reports whether an entry of the given
// type matches the base-name pattern.
func (f *FTP) match(ctx context.Context, p string, typ ftp.EntryType) (bool, error) {
	conn, err := f.client(ctx)
	if err != nil {
		return false, err
	}
	dir, pattern := splitPattern(p)
	slog.Debug("listing ftp folder", "dir", dir, "pattern", pattern)

	entries, err := conn.List(dir)
	if err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
			return false, nil
		}
		return false, fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, e := range entries {
		name := path.Base(e.Name)
		if isDotEntry(name) {
			continue
		}
		if e.Type == typ && matchName(pattern, name) {
			return true, nil
		}
	}
	return false, nil
}

// isDotEntry reports the self and parent entries MLSD listings include.
func isDotEntry(name string) bool {
	return name == "." || name == ".."
}
