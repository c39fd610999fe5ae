package actions

import (
	"context"
	"time"
)

// Worker drains the ledger queue: claim one run, execute it, repeat.
// Several worker processes may run against the same database; the
// store's claim protocol keeps each run on exactly one of them.
type Worker struct {
	Runner *Runner

	IdleSleep time.Duration // default 1s
	MaxRuns   int           // 0 means run forever
}

func (w *Worker) idleSleep() time.Duration {
	if w.IdleSleep > 0 {
		return w.IdleSleep
	}
	return time.Second
}

// Run loops until the context is cancelled or MaxRuns executions have
// completed. Execution errors are logged and do not stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	log := w.Runner.Deps.logger()
	executed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		run, err := w.Runner.Deps.Ledger.Claim(ctx)
		if err != nil {
			log.Error("claim failed", "error", err)
			run = nil
		}
		if run == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.idleSleep()):
			}
			continue
		}
		if err := w.Runner.Execute(ctx, run); err != nil {
			log.Error("ledger write failed", "run_id", run.RunID, "error", err)
		}
		executed++
		if w.MaxRuns > 0 && executed >= w.MaxRuns {
			return nil
		}
	}
}

// SweepStuck fails running rows older than horizon. Meant to be called
// from a ticker alongside the worker loop.
func (w *Worker) SweepStuck(ctx context.Context, horizon time.Duration) {
	n, err := w.Runner.Deps.Ledger.FailStuckRuns(ctx, horizon)
	log := w.Runner.Deps.logger()
	if err != nil {
		log.Error("stuck-run sweep failed", "error", err)
		return
	}
	if n > 0 {
		log.Warn("swept stuck runs", "count", n)
	}
}
