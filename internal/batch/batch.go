// Package batch runs the pipeline over many input files with a bounded
// worker pool. The core pipeline holds no shared state, so runs only
// need distinct inputs to execute in parallel; this package supplies
// the scheduling around it.
package batch

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/CGK-Laboratory/pycroglia/pkg/pipeline"
)

// Process runs the pipeline over every path using at most workers
// concurrent runs (NumCPU when workers is zero or negative). Results
// are returned in input order. The first failing run cancels the rest
// and its error is returned.
func Process(ctx context.Context, paths []string, cfg pipeline.Config, workers int) ([]*pipeline.Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]*pipeline.Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res, err := pipeline.Run(ctx, pipeline.FileSource{Path: path}, cfg)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
