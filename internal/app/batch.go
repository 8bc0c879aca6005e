package app

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakaura/internal/analysis"
	"github.com/MrWong99/speakaura/internal/observe"
)

// BatchItem is one run of a batch, usually one input file.
type BatchItem struct {
	Name  string
	Input analysis.Input
}

// BatchResult is the outcome of one [BatchItem]. Error is set when the run
// failed or completed only partially; Report is set whenever a result was
// assembled.
type BatchResult struct {
	Name   string           `json:"name"`
	Report *analysis.Report `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// AnalyzeBatch runs every item through the pipeline, at most
// analysis.concurrency at a time, and persists each assembled result.
// Results keep the order of items. Per-item failures are reported in the
// results; the returned error is only set when ctx ends before all items
// ran.
func (a *App) AnalyzeBatch(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	results := make([]BatchResult, len(items))

	var g errgroup.Group
	g.SetLimit(max(a.cfg.Analysis.Concurrency, 1))
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = a.analyzeOne(ctx, item)
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func (a *App) analyzeOne(ctx context.Context, item BatchItem) BatchResult {
	log := observe.Logger(ctx).With("item", item.Name)
	out := BatchResult{Name: item.Name}

	rep, runErr := a.pipeline.Run(ctx, item.Input)
	out.Report = rep
	if rep == nil || rep.Result == nil {
		if runErr == nil {
			runErr = errors.New("no result")
		}
		log.Warn("batch item failed", "err", runErr)
		out.Error = runErr.Error()
		return out
	}

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := a.store.Save(ctx, rep.Result); err != nil {
		log.Error("saving batch result", "run_id", rep.Result.RunID, "err", err)
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		out.Error = err.Error()
	}
	return out
}
