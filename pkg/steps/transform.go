package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
)

// killGrace bounds how long Wait blocks on inherited pipes after the
// process group was killed.
const killGrace = 5 * time.Second

type transformStep struct {
	name   string
	source api.Location
	dest   api.Location
	cfg    *api.TransformConfig
}

// NewTransformStep creates a step that pipes source through an external
// command into dest.
func NewTransformStep(name string, source, dest api.Location, cfg *api.TransformConfig) Step {
	return &transformStep{name: name, source: source, dest: dest, cfg: cfg}
}

func (s *transformStep) Name() string { return s.name }

func (s *transformStep) Run(ctx context.Context, sc StepContext) (*StepResult, error) {
	if s.cfg == nil || len(s.cfg.Command) == 0 {
		return nil, fmt.Errorf("step %q: transform command is required", s.name)
	}

	inPath, releaseIn, err := tempFile(sc.TempDir, "ferry-transform-in-*")
	if err != nil {
		return nil, err
	}
	defer releaseIn()

	outPath, releaseOut, err := tempFile(sc.TempDir, "ferry-transform-out-*")
	if err != nil {
		return nil, err
	}
	defer releaseOut()

	local := backend.NewLocal()

	src, err := sc.newBackend(s.source)
	if err != nil {
		return nil, err
	}
	defer closeBackend(src)

	slog.Info("staging transform input", "step", s.name, "source", s.source.String())
	if _, err := stream(ctx, src, s.source.Path, local, inPath); err != nil {
		return nil, &TransferError{Step: s.name, Err: err}
	}

	if err := s.execute(ctx, inPath, outPath); err != nil {
		return nil, err
	}

	dst, err := sc.newBackend(s.dest)
	if err != nil {
		return nil, err
	}
	defer closeBackend(dst)

	slog.Info("writing transform output", "step", s.name, "dest", s.dest.String())
	if _, err := stream(ctx, local, outPath, dst, s.dest.Path); err != nil {
		return nil, &TransferError{Step: s.name, Err: err}
	}

	return &StepResult{Path: s.dest.Path}, nil
}

// execute runs the command with inPath on stdin or as an argument, and
// stdout captured to outPath or outPath as an argument.
func (s *transformStep) execute(ctx context.Context, inPath, outPath string) error {
	useStdin := api.BoolOr(s.cfg.UseStdin, true)
	useStdout := api.BoolOr(s.cfg.UseStdout, true)

	argv := slices.Clone(s.cfg.Command)
	if !useStdin {
		argv = append(argv, inPath)
	}
	if !useStdout {
		argv = append(argv, outPath)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for _, k := range slices.Sorted(maps.Keys(s.cfg.Env)) {
			cmd.Env = append(cmd.Env, k+"="+s.cfg.Env[k])
		}
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = killGrace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if useStdin {
		in, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("opening transform input: %w", err)
		}
		defer func() { _ = in.Close() }()
		cmd.Stdin = in
	}
	if useStdout {
		out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("opening transform output: %w", err)
		}
		defer func() { _ = out.Close() }()
		cmd.Stdout = out
	}

	slog.Info("running transform", "step", s.name, "command", argv, "useStdin", useStdin, "useStdout", useStdout)
	start := time.Now()
	err := cmd.Run()
	if err != nil {
		return s.commandError(ctx, argv, err, stderr.String())
	}
	slog.Info("transform finished", "step", s.name, "duration", time.Since(start))
	if stderr.Len() > 0 {
		slog.Debug("transform stderr", "step", s.name, "stderr", stderr.String())
	}
	return nil
}

func (s *transformStep) commandError(ctx context.Context, argv []string, err error, stderr string) error {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%w)", err, ctxErr)
	}
	return &TransformError{
		Step:     s.name,
		Command:  argv,
		ExitCode: code,
		Stderr:   stderr,
		Err:      err,
	}
}
