package backend

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// pipeCommit streams writes into a consumer running until the writer is
// closed. Close waits for the consumer and returns its error. Abort fails
// the consumer's reads with the cause and then runs discard, which removes
// whatever the consumer already stored; discard may be nil.
type pipeCommit struct {
	pw      *io.PipeWriter
	done    chan error
	discard func() error
	once    sync.Once
	err     error
}

func newPipeCommit(consume func(r io.Reader) error, discard func() error) *pipeCommit {
	pr, pw := io.Pipe()
	w := &pipeCommit{pw: pw, done: make(chan error, 1), discard: discard}
	go func() {
		err := consume(pr)
		// Unblock pending writes and drain anything the consumer left behind.
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

func (w *pipeCommit) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *pipeCommit) Close() error {
	w.once.Do(func() {
		_ = w.pw.Close()
		w.err = <-w.done
	})
	return w.err
}

func (w *pipeCommit) Abort(cause error) error {
	var err error
	w.once.Do(func() {
		_ = w.pw.CloseWithError(cause)
		<-w.done
		if w.discard != nil {
			err = w.discard()
		}
	})
	return err
}

// spoolCommit buffers writes in a local temp file under dir and hands it to
// commit on Close. Abort skips the commit. The temp file is removed on
// every path.
type spoolCommit struct {
	f      *os.File
	commit func(f *os.File) error
	once   sync.Once
	err    error
}

func newSpoolCommit(dir, pattern string, commit func(f *os.File) error) (*spoolCommit, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	return &spoolCommit{f: f, commit: commit}, nil
}

func (s *spoolCommit) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *spoolCommit) Close() error {
	s.once.Do(func() {
		defer s.remove()
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			s.err = fmt.Errorf("rewinding spool file: %w", err)
			return
		}
		s.err = s.commit(s.f)
	})
	return s.err
}

func (s *spoolCommit) Abort(error) error {
	s.once.Do(s.remove)
	return nil
}

func (s *spoolCommit) remove() {
	_ = s.f.Close()
	if err := os.Remove(s.f.Name()); err != nil {
		slog.Warn("failed to remove spool file", "path", s.f.Name(), "error", err)
	}
}
