package analysis

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one file in a batch. Exactly one of Result
// and Err is set.
type Outcome struct {
	Path   string
	Result *Result
	Err    error
}

// AnalyzeBatch analyzes paths on a pool of Workers goroutines. A failing
// file never stops its siblings. Once ctx is done no new file is started
// and the remaining outcomes carry ErrSkipped. Outcomes are in input order.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, paths []string) []Outcome {
	outcomes := make([]Outcome, len(paths))
	for i, p := range paths {
		outcomes[i] = Outcome{Path: p, Err: &StageError{Path: p, Stage: StageLoad, Err: ErrSkipped}}
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	g.SetLimit(a.workers)

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := a.Analyze(ctx, path)
			if err != nil {
				a.log.Warn("file failed", "path", path, "kind", Classify(err).String(), "err", err)
				mu.Lock()
				failed++
				mu.Unlock()
				outcomes[i] = Outcome{Path: path, Err: err}
				return nil
			}
			outcomes[i] = Outcome{Path: path, Result: res}
			return nil
		})
	}
	_ = g.Wait()

	a.log.Info("batch finished", "files", len(paths), "failed", failed)
	return outcomes
}
