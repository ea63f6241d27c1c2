package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
	"github.com/systemstart/ferry/pkg/logging"
	"github.com/systemstart/ferry/pkg/processing"
)

var version = "dev"

const (
	_ = iota
	exitNoPipelineParameter
	exitDotenvError
	exitLoggingSetupFailed
	exitLoadConnectionsFailed
	exitLoadContextFailed
	exitLoadInstancesFailed
	exitLoadPipelineFailed
	exitTempDirectoryFailed
	exitPipelinesDirectoryCheckFailed
	exitPipelineErrors
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var (
	pipelineFile    string
	pipelinesDir    string
	instancesFile   string
	connectionsFile string
	contextFiles    stringList
	maxDepth        int
	parallel        int
	tempDir         string
	loggingType     string
	logLevel        string
	showVersion     bool
)

func init() {
	flag.StringVar(
		&pipelineFile,
		"pipeline",
		"",
		"single .ferry.yaml to run")
	flag.StringVar(
		&pipelinesDir,
		"pipelines-dir",
		"",
		"directory searched for *.ferry.yaml files")
	flag.StringVar(
		&instancesFile,
		"instances",
		"",
		"instances YAML; runs -pipeline once per instance")
	flag.StringVar(
		&connectionsFile,
		"connections",
		"",
		"connections YAML file (${VAR} references are expanded)")
	flag.Var(
		&contextFiles,
		"context-file",
		"global context YAML file; repeat to layer, later files win")
	flag.IntVar(
		&maxDepth,
		"max-depth",
		-1,
		"max directory recursion depth (-1 = unlimited, 0 = root only)")
	flag.IntVar(
		&parallel,
		"parallel",
		1,
		"pipelines or instances run concurrently")
	flag.StringVar(
		&tempDir,
		"temp-dir",
		"",
		"parent directory for temporary files (default: system temp dir)")
	flag.StringVar(
		&loggingType,
		"logging-type",
		"tint",
		"logging type: json, text or tint")
	flag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
	flag.BoolVar(
		&showVersion,
		"version",
		false,
		"print version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := logging.Initialize(loggingType, logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitLoggingSetupFailed)
	}

	includeEnv()

	if pipelineFile == "" && pipelinesDir == "" {
		slog.Error("either -pipeline or -pipelines-dir must be set")
		os.Exit(exitNoPipelineParameter)
	}
	if instancesFile != "" && pipelineFile == "" {
		slog.Error("-instances requires -pipeline")
		os.Exit(exitNoPipelineParameter)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := processing.Options{
		Registry:    backend.Default,
		Connections: loadConnections(),
		TempDir:     tempDir,
		Context:     loadGlobalContext(),
		MaxDepth:    maxDepth,
		Parallel:    parallel,
	}
	if err := processing.EnsureTempDir(tempDir); err != nil {
		slog.Error("failed to prepare temp directory", "error", err)
		os.Exit(exitTempDirectoryFailed)
	}

	slog.Info("starting ferry", "version", version, "backends", backend.Default.Tags())

	var err error
	switch {
	case instancesFile != "":
		err = runInstances(ctx, opts)
	case pipelineFile != "":
		_, err = processing.RunSingle(ctx, pipelineFile, opts)
	default:
		checkPipelinesDirectory()
		err = processing.RunAll(ctx, pipelinesDir, opts)
	}
	if err != nil {
		stop()
		slog.Error("processing failed", "error", err)
		os.Exit(exitPipelineErrors)
	}

	slog.Info("done")
}

func runInstances(ctx context.Context, opts processing.Options) error {
	cfg, err := api.LoadInstances(instancesFile)
	if err != nil {
		slog.Error("failed to load instances", "filename", instancesFile, "error", err)
		os.Exit(exitLoadInstancesFailed)
	}
	pipeline, err := api.LoadPipeline(pipelineFile)
	if err != nil {
		slog.Error("failed to load pipeline", "filename", pipelineFile, "error", err)
		os.Exit(exitLoadPipelineFailed)
	}
	return processing.RunInstances(ctx, pipeline, cfg, opts)
}

func loadConnections() backend.Resolver {
	if connectionsFile == "" {
		return backend.StaticResolver{}
	}

	conns, err := api.LoadConnections(connectionsFile)
	if err != nil {
		slog.Error("failed to load connections", "filename", connectionsFile, "error", err)
		os.Exit(exitLoadConnectionsFailed)
	}
	slog.Info("loaded connections", "filename", connectionsFile, "count", len(conns))
	return conns
}

func loadGlobalContext() map[string]any {
	if len(contextFiles) == 0 {
		return nil
	}

	ctx, err := processing.LoadContextFiles(contextFiles...)
	if err != nil {
		slog.Error("failed to load context files", "filenames", contextFiles.String(), "error", err)
		os.Exit(exitLoadContextFailed)
	}
	return ctx
}

func includeEnv() {
	err := godotenv.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Error("failed to load .env", "error", err)
			os.Exit(exitDotenvError)
		}
		slog.Info("no .env file found")
	} else {
		slog.Info("using .env file")
	}
}

func checkPipelinesDirectory() {
	st, err := os.Stat(pipelinesDir)
	if err != nil {
		slog.Error("failed to check pipelines directory", "directory", pipelinesDir, "error", err)
		os.Exit(exitPipelinesDirectoryCheckFailed)
	}

	if !st.IsDir() {
		slog.Error("-pipelines-dir is not a directory", "directory", pipelinesDir)
		os.Exit(exitPipelinesDirectoryCheckFailed)
	}
}
