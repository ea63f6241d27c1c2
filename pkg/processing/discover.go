package processing

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/systemstart/ferry/pkg/api"
)

// ConfigSuffix marks a file as a pipeline definition.
const ConfigSuffix = ".ferry.yaml"

// DiscoverPipelines walks root looking for *.ferry.yaml files up to maxDepth.
// A maxDepth of -1 means unlimited. 0 means only root itself. Hidden
// directories below root are skipped.
// Results are sorted by path depth (parents before children), then by path.
// Every invalid file is reported, not only the first.
func DiscoverPipelines(root string, maxDepth int) ([]*api.Pipeline, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	paths, err := collectConfigPaths(absRoot, maxDepth)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(paths, func(a, b string) int {
		if d := pathDepth(a) - pathDepth(b); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})

	return loadAll(paths)
}

func collectConfigPaths(absRoot string, maxDepth int) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk error at %s: %w", path, err)
		}

		if d.IsDir() && path != absRoot {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if maxDepth >= 0 {
				rel, relErr := filepath.Rel(absRoot, path)
				if relErr != nil {
					return fmt.Errorf("computing relative path for %s: %w", path, relErr)
				}
				if pathDepth(rel) > maxDepth {
					return filepath.SkipDir
				}
			}
		}

		if !d.IsDir() && strings.HasSuffix(d.Name(), ConfigSuffix) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory tree: %w", err)
	}
	return paths, nil
}

func loadAll(paths []string) ([]*api.Pipeline, error) {
	pipelines := make([]*api.Pipeline, 0, len(paths))
	var errs []error
	for _, p := range paths {
		pipeline, err := api.LoadPipeline(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("loading %s: %w", p, err))
			continue
		}
		pipelines = append(pipelines, pipeline)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return pipelines, nil
}

func pathDepth(p string) int {
	if p == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(p), "/") + 1
}
