package processing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
	"github.com/systemstart/ferry/pkg/retry"
	"github.com/systemstart/ferry/pkg/steps"
)

// Options configures a run.
type Options struct {
	Registry    *backend.Registry // nil means backend.Default
	Connections backend.Resolver
	TempDir     string

	// Context is the global template context; each pipeline's own context
	// overrides it.
	Context map[string]any

	MaxDepth int // discovery depth for RunAll; -1 is unlimited
	Parallel int // concurrent pipelines or instances; < 1 means 1
}

func (o Options) stepContext() steps.StepContext {
	return steps.StepContext{
		Registry:    o.Registry,
		Connections: o.Connections,
		TempDir:     o.TempDir,
	}
}

// SensorTimeoutError reports that a sensor did not succeed within its
// timeout.
type SensorTimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *SensorTimeoutError) Error() string {
	return fmt.Sprintf("step %q: sensor timed out after %s", e.Step, e.Timeout)
}

// Results maps step names to the path each step produced.
type Results map[string]string

// RunPipeline executes a single pipeline's steps sequentially. Every
// string field of a step is rendered against the merged context plus
// {steps: {name: path}} of the steps that already ran.
func RunPipeline(ctx context.Context, pipeline *api.Pipeline, opts Options) (Results, error) {
	return runPipeline(ctx, pipeline, opts, nil)
}

func runPipeline(ctx context.Context, pipeline *api.Pipeline, opts Options, instance map[string]any) (Results, error) {
	data := MergeContext(opts.Context, pipeline.Context, instance)
	results := make(Results, len(pipeline.Pipeline))
	data["steps"] = results

	for _, stepCfg := range pipeline.Pipeline {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		slog.Info("running step", "pipeline", pipeline.FilePath, "step", stepCfg.Name, "type", stepCfg.Type)
		start := time.Now()
		path, err := runStep(ctx, stepCfg, pipeline.Defaults, opts, data)
		if err != nil {
			return results, fmt.Errorf("step %q failed: %w", stepCfg.Name, err)
		}
		results[stepCfg.Name] = path
		slog.Info("step succeeded", "step", stepCfg.Name, "path", path, "duration", time.Since(start))
	}

	return results, nil
}

func runStep(ctx context.Context, stepCfg api.StepConfig, defaults api.Defaults, opts Options, data map[string]any) (string, error) {
	rendered, err := renderStep(stepCfg, data)
	if err != nil {
		return "", err
	}

	retryOpts := retryOptions(stepCfg, defaults)
	sc := opts.stepContext()

	if steps.IsSensor(rendered.Type) {
		sensor, err := steps.NewSensor(rendered)
		if err != nil {
			return "", fmt.Errorf("creating sensor %q: %w", stepCfg.Name, err)
		}
		err = retry.Do(ctx, retryOpts, isRetryable, func(ctx context.Context) error {
			return poke(ctx, sensor, sc, rendered.Sensor)
		})
		if err != nil {
			return "", err
		}
		return rendered.Source.Path, nil
	}

	step, err := steps.NewStep(rendered)
	if err != nil {
		return "", fmt.Errorf("creating step %q: %w", stepCfg.Name, err)
	}

	var result *steps.StepResult
	err = retry.Do(ctx, retryOpts, isRetryable, func(ctx context.Context) error {
		var runErr error
		result, runErr = step.Run(ctx, sc)
		return runErr
	})
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return result.Path, nil
}

func retryOptions(stepCfg api.StepConfig, defaults api.Defaults) retry.Options {
	retries, delay := defaults.Retries, defaults.RetryDelay
	if stepCfg.Retries != nil {
		retries = *stepCfg.Retries
	}
	if stepCfg.RetryDelay != nil {
		delay = *stepCfg.RetryDelay
	}
	return retry.FromRetries(retries, delay)
}

// isRetryable rejects failures that repeat identically on every attempt.
func isRetryable(err error) bool {
	var (
		unsupported *backend.UnsupportedModeError
		transform   *steps.TransformError
		tempRes     *steps.TempResourceError
		timeout     *SensorTimeoutError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, fs.ErrExist):
		return false
	case errors.As(err, &unsupported), errors.As(err, &transform),
		errors.As(err, &tempRes), errors.As(err, &timeout):
		return false
	}
	return true
}

// poke checks the sensor every poke interval until it reports true or the
// timeout elapses.
func poke(ctx context.Context, sensor steps.Sensor, sc steps.StepContext, cfg *api.SensorConfig) error {
	interval, timeout := api.DefaultPokeInterval, api.DefaultSensorTimeout
	if cfg != nil && cfg.PokeInterval > 0 {
		interval = cfg.PokeInterval
	}
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	deadline := time.Now().Add(timeout)

	for {
		found, err := sensor.Check(ctx, sc)
		if err != nil {
			return err
		}
		if found {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &SensorTimeoutError{Step: sensor.Name(), Timeout: timeout}
		}
		wait := min(interval, remaining)
		slog.Debug("sensor poking again", "step", sensor.Name(), "in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunSingle loads one pipeline file and executes it.
func RunSingle(ctx context.Context, pipelineFile string, opts Options) (Results, error) {
	pipeline, err := api.LoadPipeline(pipelineFile)
	if err != nil {
		return nil, fmt.Errorf("loading pipeline: %w", err)
	}

	slog.Info("executing single pipeline", "path", pipeline.FilePath)
	results, err := RunPipeline(ctx, pipeline, opts)
	if err != nil {
		return results, fmt.Errorf("pipeline failed: %w", err)
	}
	return results, nil
}

// RunAll discovers pipelines under root and executes them concurrently,
// at most opts.Parallel at a time. One pipeline failing does not stop the
// others.
func RunAll(ctx context.Context, root string, opts Options) error {
	pipelines, err := DiscoverPipelines(root, opts.MaxDepth)
	if err != nil {
		return fmt.Errorf("discovering pipelines: %w", err)
	}

	if len(pipelines) == 0 {
		slog.Warn("no *" + ConfigSuffix + " files found", "dir", root)
		return nil
	}

	slog.Info("discovered pipelines", "count", len(pipelines), "parallel", max(opts.Parallel, 1))

	jobs := make([]job, len(pipelines))
	for i, p := range pipelines {
		jobs[i] = job{label: p.FilePath, pipeline: p}
	}
	if failed := runJobs(ctx, jobs, opts); len(failed) > 0 {
		return fmt.Errorf("%d pipeline(s) failed: %v", len(failed), failed)
	}
	return nil
}

// RunInstances executes the pipeline once per instance, each with the
// instance context merged over the pipeline context and "instance" set to
// the instance name.
func RunInstances(ctx context.Context, pipeline *api.Pipeline, cfg *api.InstancesConfig, opts Options) error {
	jobs := make([]job, len(cfg.Instances))
	for i, inst := range cfg.Instances {
		jobs[i] = job{
			label:    inst.Name,
			pipeline: pipeline,
			instance: MergeContext(inst.Context, map[string]any{"instance": inst.Name}),
		}
	}
	if failed := runJobs(ctx, jobs, opts); len(failed) > 0 {
		return fmt.Errorf("%d instance(s) failed: %v", len(failed), failed)
	}
	return nil
}

type job struct {
	label    string
	pipeline *api.Pipeline
	instance map[string]any
}

// runJobs runs every job with bounded concurrency and returns the sorted
// labels of the ones that failed.
func runJobs(ctx context.Context, jobs []job, opts Options) []string {
	var (
		mu     sync.Mutex
		failed []string
	)

	var g errgroup.Group
	g.SetLimit(max(opts.Parallel, 1))

	for _, j := range jobs {
		g.Go(func() error {
			slog.Info("executing pipeline", "job", j.label, "path", j.pipeline.FilePath)
			if _, err := runPipeline(ctx, j.pipeline, opts, j.instance); err != nil {
				slog.Error("pipeline failed", "job", j.label, "error", err)
				mu.Lock()
				failed = append(failed, j.label)
				mu.Unlock()
				return nil
			}
			slog.Info("pipeline succeeded", "job", j.label)
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(failed)
	return failed
}

// EnsureTempDir creates dir when it is set and missing.
func EnsureTempDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating temp dir %s: %w", dir, err)
	}
	return nil
}
