package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	TypeSFTP = "sftp"

	defaultSSHPort    = 22
	defaultSSHTimeout = 30 * time.Second
)

func init() {
	Register(TypeSFTP, func(ref string, r Resolver) (Backend, error) { return NewSFTP(ref, r), nil })
}

// SFTP is the SSH file transfer backend. The ssh and sftp sessions are
// opened on first use and closed together.
type SFTP struct {
	ref      string
	resolver Resolver
	dial     func(ctx context.Context, c Connection) (*sftp.Client, io.Closer, error)
	client   *sftp.Client
	closer   io.Closer
}

// NewSFTP returns an SFTP backend for the given connection reference.
func NewSFTP(ref string, r Resolver) *SFTP {
	return &SFTP{ref: ref, resolver: r, dial: dialSFTP}
}

func dialSFTP(ctx context.Context, c Connection) (*sftp.Client, io.Closer, error) {
	auth, err := sshAuth(c)
	if err != nil {
		return nil, nil, err
	}
	hostKey, err := hostKeyCallback(c)
	if err != nil {
		return nil, nil, err
	}
	config := &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         defaultSSHTimeout,
	}

	addr := c.Addr(defaultSSHPort)
	d := net.Dialer{Timeout: defaultSSHTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial: %w", err)
	}
	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, config)
	if err != nil {
		_ = nc.Close()
		return nil, nil, fmt.Errorf("ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(sc, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, fmt.Errorf("starting sftp subsystem: %w", err)
	}
	return client, sshClient, nil
}

func sshAuth(c Connection) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	key := []byte(c.PrivateKey)
	if c.PrivateKeyFile != "" {
		data, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		key = data
	}
	if len(key) > 0 {
		// Keys stored in env vars are commonly base64 encoded PEM.
		if !strings.Contains(string(key), "PRIVATE KEY") {
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(key)))
			if err != nil {
				return nil, fmt.Errorf("failed to decode private key: %w", err)
			}
			key = decoded
		}
		var (
			signer ssh.Signer
			err    error
		)
		if pass := c.Get("keyPassphrase", ""); pass != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(pass))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no password or private key configured")
	}
	return methods, nil
}

func hostKeyCallback(c Connection) (ssh.HostKeyCallback, error) {
	switch {
	case c.KnownHostsFile != "":
		cb, err := knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		return cb, nil
	case c.HostKeyFingerprint != "":
		want := c.HostKeyFingerprint
		return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			if got := ssh.FingerprintSHA256(key); got != want {
				return fmt.Errorf("host key mismatch for %s: got %s", hostname, got)
			}
			return nil
		}, nil
	default:
		slog.Warn("sftp host key is not verified; set knownHostsFile or hostKeyFingerprint", "host", c.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
}

func (s *SFTP) Name() string { return TypeSFTP }

func (s *SFTP) conn(ctx context.Context) (*sftp.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	c, err := resolve(s.resolver, TypeSFTP, s.ref)
	if err != nil {
		return nil, err
	}
	slog.Info("establishing secure connection", "conn", s.ref, "host", c.Host)
	client, closer, err := s.dial(ctx, c)
	if err != nil {
		return nil, &ConnectionError{Backend: TypeSFTP, Ref: s.ref, Err: err}
	}
	s.client, s.closer = client, closer
	return client, nil
}

func (s *SFTP) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	s.client, s.closer = nil, nil
	return err
}

func (s *SFTP) Open(ctx context.Context, p string, mode Mode) (File, error) {
	if err := streamOnly(TypeSFTP, mode); err != nil {
		return nil, err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if mode == ModeRead {
		f, err := client.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", p, err)
		}
		return ReadOnly(f), nil
	}
	f, err := client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", p, err)
	}
	return WriteOnly(f), nil
}

func (s *SFTP) Download(ctx context.Context, remotePath, localPath string, replace bool) error {
	if err := checkReplace(localPath, replace); err != nil {
		return err
	}
	if err := ensureParent(localPath); err != nil {
		return err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return s.retrieve(client, remotePath, localPath)
}

func (s *SFTP) retrieve(client *sftp.Client, remotePath, localPath string) error {
	slog.Info("retrieving file from sftp", "path", remotePath)
	in, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", remotePath, err)
	}
	defer func() { _ = in.Close() }()
	return writeLocal(localPath, in)
}

func (s *SFTP) DownloadFolder(ctx context.Context, remotePath, localPath string, replace bool) error {
	if err := resetDir(localPath, replace); err != nil {
		return err
	}
	if err := os.MkdirAll(localPath, dirPerm); err != nil {
		return fmt.Errorf("creating directory %s: %w", localPath, err)
	}
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}

	slog.Info("retrieving folder from sftp", "path", remotePath)
	var walk func(remote, local string) error
	walk = func(remote, local string) error {
		entries, err := client.ReadDir(remote)
		if err != nil {
			return fmt.Errorf("listing %s: %w", remote, err)
		}
		for _, e := range entries {
			src := path.Join(remote, e.Name())
			dst := filepath.Join(local, e.Name())
			switch {
			case e.IsDir():
				if err := os.MkdirAll(dst, dirPerm); err != nil {
					return fmt.Errorf("creating directory %s: %w", dst, err)
				}
				if err := walk(src, dst); err != nil {
					return err
				}
			case e.Mode().IsRegular():
				if err := s.retrieve(client, src, dst); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(path.Clean(remotePath), localPath)
}

func (s *SFTP) Upload(ctx context.Context, localPath, remotePath string, replace bool) error {
	if !replace {
		exists, err := s.FileExists(ctx, remotePath)
		if err != nil {
			return err
		}
		if exists {
			return &AlreadyExistsError{Path: remotePath}
		}
	}
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer func() { _ = in.Close() }()

	out, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("creating %s: %w", remotePath, err)
	}
	slog.Info("storing file on sftp", "path", remotePath)
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("writing %s: %w", remotePath, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", remotePath, closeErr)
	}
	return nil
}

func (s *SFTP) Delete(ctx context.Context, p string) error {
	isDir, err := s.FolderExists(ctx, p)
	if err != nil {
		return err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if !isDir {
		if err := client.Remove(p); err != nil {
			return fmt.Errorf("deleting %s: %w", p, err)
		}
		return nil
	}
	return removeRemoteTree(client, path.Clean(p))
}

func removeRemoteTree(client *sftp.Client, dir string) error {
	entries, err := client.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, e := range entries {
		child := path.Join(dir, e.Name())
		if e.IsDir() {
			if err := removeRemoteTree(client, child); err != nil {
				return err
			}
			continue
		}
		if err := client.Remove(child); err != nil {
			return fmt.Errorf("deleting %s: %w", child, err)
		}
	}
	if err := client.RemoveDirectory(dir); err != nil {
		return fmt.Errorf("deleting %s: %w", dir, err)
	}
	return nil
}

func (s *SFTP) FileExists(ctx context.Context, p string) (bool, error) {
	return s.match(ctx, p, func(m fs.FileMode) bool { return m.IsRegular() })
}

func (s *SFTP) FolderExists(ctx context.Context, p string) (bool, error) {
	return s.match(ctx, p, fs.FileMode.IsDir)
}

// match searches the parent directory listing instead of calling Stat so
// that wildcard patterns resolve the same way as literal names.
func (s *SFTP) match(ctx context.Context, p string, modeFilter func(fs.FileMode) bool) (bool, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	dir, pattern := splitPattern(p)
	slog.Debug("listing sftp folder", "dir", dir, "pattern", pattern)

	entries, err := client.ReadDir(dir)
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("listing %s: %w", dir, err)
	}
	var found []string
	for _, e := range entries {
		if modeFilter(e.Mode()) && matchName(pattern, e.Name()) {
			found = append(found, e.Name())
		}
	}
	slog.Debug("matched sftp entries", "dir", dir, "pattern", pattern, "found", found)
	return len(found) > 0, nil
}

func isNotExist(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var se *sftp.StatusError
	return errors.As(err, &se) && se.FxCode() == sftp.ErrSSHFxNoSuchFile
}
