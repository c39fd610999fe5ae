package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/observability"
)

// Runner executes claimed ledger rows. It owns the running → terminal
// transitions; the queued → running claim belongs to the store.
type Runner struct {
	Registry *Registry
	Deps     *Deps

	// Obs records per-run spans and RED metrics when set.
	Obs *observability.Provider
}

// summaryKeys are promoted from handler results into the log line.
var summaryKeys = []string{"selected_count", "saved_count", "failed_count", "skipped_no_key"}

// Execute runs one claimed row to a terminal state. Handler panics are
// contained and recorded as failures; Execute itself only errors when
// the ledger write fails.
func (r *Runner) Execute(ctx context.Context, run *model.ActionRun) error {
	log := r.Deps.logger().With("run_id", run.RunID, "action", run.Action)

	handler, err := r.Registry.Lookup(run.Action)
	if err != nil {
		log.Warn("action not registered")
		return r.Deps.Ledger.MarkFailed(ctx, run.RunID, nil, err.Error())
	}

	var payload Payload
	if len(run.Payload) > 0 {
		if err := json.Unmarshal(run.Payload, &payload); err != nil {
			return r.Deps.Ledger.MarkFailed(ctx, run.RunID, nil, fmt.Sprintf("malformed payload: %v", err))
		}
	}
	payload.Action = run.Action

	var done func(error)
	if r.Obs != nil {
		ctx, done = r.Obs.TrackRun(ctx, run.Action)
	}

	result, handlerErr := r.runHandler(ctx, handler, &payload)
	if done != nil {
		done(handlerErr)
	}
	resultJSON := marshalResult(result)

	if handlerErr != nil {
		log.Warn("action failed", "error", handlerErr)
		return r.Deps.Ledger.MarkFailed(ctx, run.RunID, resultJSON, handlerErr.Error())
	}
	log.Info("action succeeded", summaryArgs(result)...)
	return r.Deps.Ledger.MarkSucceeded(ctx, run.RunID, resultJSON)
}

func (r *Runner) runHandler(ctx context.Context, h Handler, p *Payload) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, r.Deps, p)
}

func marshalResult(result map[string]any) []byte {
	if result == nil {
		return nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"marshal_error": err.Error()})
	}
	return b
}

func summaryArgs(result map[string]any) []any {
	var args []any
	for _, k := range summaryKeys {
		if v, ok := result[k]; ok {
			args = append(args, k, v)
		}
	}
	return args
}

// substep is one pipeline stage line in a handler result.
func substep(step, status string, count int) map[string]any {
	return map[string]any{"step": step, "status": status, "count": count}
}

func stepStatus(failures int) string {
	if failures > 0 {
		return "partial"
	}
	return "ok"
}
