package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/actions"
	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

// Server enqueues action runs and reports their state. It never
// executes handlers; the worker drains the ledger.
type Server struct {
	Ledger *store.ActionRunStore
	Secret string
	Log    *slog.Logger

	// Known guards enqueues against typos; nil skips the check.
	Known *actions.Registry
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Handler builds the routed, authenticated, rate-limited handler.
// /healthz stays outside the secret check for load-balancer probes.
func (s *Server) Handler() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("/actions/run", s.handleRun)
	protected.HandleFunc("/actions/run/", s.handleGetRun)

	idem := NewIdempotencyStore(10 * time.Minute)
	var h http.Handler = protected
	h = IdempotencyMiddleware(idem)(h)
	h = RequireSecret(s.Secret, h)

	root := http.NewServeMux()
	root.HandleFunc("/healthz", s.handleHealth)
	root.Handle("/", h)

	limiter := NewGlobalRateLimiter(10, 20)
	return limiter.Middleware(root)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRun validates the payload, assigns a run id, and enqueues.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteInvalidPayload(w, "body is not valid JSON")
		return
	}
	if err := ValidatePayload(raw); err != nil {
		WriteInvalidPayload(w, err.Error())
		return
	}

	var payload actions.Payload
	body, _ := json.Marshal(raw)
	if err := json.Unmarshal(body, &payload); err != nil {
		WriteInvalidPayload(w, err.Error())
		return
	}
	if s.Known != nil {
		if _, err := s.Known.Lookup(payload.Action); err != nil {
			WriteInvalidPayload(w, err.Error())
			return
		}
	}

	requestedBy, _ := json.Marshal(payload.RequestedBy)
	run := &model.ActionRun{
		RunID:       actions.NewRunID(time.Now()),
		Action:      payload.Action,
		Payload:     body,
		RequestedBy: requestedBy,
	}
	if err := s.Ledger.Enqueue(r.Context(), run); err != nil {
		WriteInternal(w, err)
		return
	}

	s.logger().Info("run enqueued", "run_id", run.RunID, "action", run.Action)
	writeJSON(w, http.StatusOK, map[string]string{
		"run_id": run.RunID,
		"status": model.RunStatusQueued,
	})
}

// runView is the GET response shape.
type runView struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	StartedAt  *time.Time      `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Result     json.RawMessage `json:"result"`
	ErrorText  *string         `json:"error_text"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/actions/run/")
	if runID == "" || strings.Contains(runID, "/") {
		WriteNotFound(w, "no such run")
		return
	}

	run, err := s.Ledger.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "no such run")
			return
		}
		WriteInternal(w, err)
		return
	}

	view := runView{
		RunID:      run.RunID,
		Status:     run.Status,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	if len(run.Result) > 0 {
		view.Result = json.RawMessage(run.Result)
	}
	if run.ErrorText != "" {
		view.ErrorText = &run.ErrorText
	}
	writeJSON(w, http.StatusOK, view)
}
