// Package api provides the HTTP control surface: plan creation from
// manifests, run execution, run status and operator-triggered rollback.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/industriverse/industriverse-sub007/internal/core/graph"
	"github.com/industriverse/industriverse-sub007/internal/core/manifest"
	"github.com/industriverse/industriverse-sub007/internal/core/plan"
	"github.com/industriverse/industriverse-sub007/internal/shell/engine"
	"github.com/industriverse/industriverse-sub007/internal/shell/rollback"
	"github.com/industriverse/industriverse-sub007/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the control API.
type Handler struct {
	store    store.Store
	engine   *engine.Engine
	rollback *rollback.Manager
	logger   *slog.Logger

	// active runs, keyed by run ID
	runsMu sync.Mutex
	runs   map[string]*engine.Run
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, e *engine.Engine, rb *rollback.Manager, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:    s,
		engine:   e,
		rollback: rb,
		logger:   l.With("component", "api"),
		runs:     make(map[string]*engine.Run),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Post("/", h.handleCreatePlan)
			r.Get("/", h.handleListPlans)
			r.Get("/{id}", h.handleGetPlan)
			r.Post("/{id}/execute", h.handleExecutePlan)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/{id}", h.handleGetRun)
			r.Get("/{id}/steps", h.handleListRunSteps)
			r.Post("/{id}/rollback", h.handleRollbackRun)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if _, err := h.store.ListPlans(r.Context()); err != nil {
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Plan Handlers
// =============================================================================

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	parsed, err := manifest.Parse(req.Manifest)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "manifest_invalid")
		return
	}
	for _, warning := range parsed.Warnings {
		h.logger.Warn("manifest warning", "warning", warning)
	}

	g, err := graph.Build(parsed.Nodes, parsed.Edges)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), graphErrorCode(err))
		return
	}

	p, err := plan.FromGraph(g)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "plan_invalid")
		return
	}

	if err := h.store.SavePlan(r.Context(), p); err != nil {
		h.logger.Error("failed to save plan", "plan_id", p.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to save plan", "internal_error")
		return
	}

	h.logger.Info("plan created", "plan_id", p.ID, "phases", len(p.Phases), "steps", p.StepCount())
	h.writeJSON(w, http.StatusCreated, planToResponse(p, parsed.Warnings))
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListPlans(r.Context())
	if err != nil {
		h.logger.Error("failed to list plans", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list plans", "internal_error")
		return
	}

	resp := make([]PlanSummaryResponse, len(records))
	for i, rec := range records {
		resp[i] = PlanSummaryResponse{
			ID:        rec.ID,
			Phases:    rec.Phases,
			Steps:     rec.Steps,
			CreatedAt: rec.CreatedAt,
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.store.GetPlan(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "plan not found", "not_found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get plan", "plan_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get plan", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, planToResponse(p, nil))
}

// =============================================================================
// Run Handlers
// =============================================================================

func (h *Handler) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.store.GetPlan(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "plan not found", "not_found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get plan", "plan_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get plan", "internal_error")
		return
	}

	run := h.engine.NewRun(p)

	h.runsMu.Lock()
	h.runs[run.ID] = run
	h.runsMu.Unlock()

	// The run outlives the request; execution is detached from the
	// request context.
	go func() {
		defer func() {
			h.runsMu.Lock()
			delete(h.runs, run.ID)
			h.runsMu.Unlock()
		}()
		result := run.Execute(context.Background())
		h.logger.Info("run finished", "run_id", run.ID, "plan_id", p.ID, "state", result.State)
	}()

	h.logger.Info("run started", "run_id", run.ID, "plan_id", p.ID)
	h.writeJSON(w, http.StatusAccepted, ExecuteResponse{
		RunID:  run.ID,
		PlanID: p.ID,
		State:  string(engine.RunRunning),
	})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Live runs answer from the in-memory tracker, finished runs from the
	// store.
	if run := h.activeRun(id); run != nil {
		h.writeJSON(w, http.StatusOK, run.Status())
		return
	}

	status, err := h.storedRunStatus(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "run not found", "not_found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleListRunSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if run := h.activeRun(id); run != nil {
		h.writeJSON(w, http.StatusOK, run.Status().Steps)
		return
	}

	status, err := h.storedRunStatus(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "run not found", "not_found")
		return
	}
	if err != nil {
		h.logger.Error("failed to list run steps", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list run steps", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, status.Steps)
}

func (h *Handler) handleRollbackRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// An active run is cancelled; the engine rolls back the current phase
	// itself.
	if run := h.activeRun(id); run != nil {
		run.Cancel()
		h.logger.Info("run cancellation requested", "run_id", id)
		h.writeJSON(w, http.StatusAccepted, RollbackResponse{RunID: id, Cancelled: true})
		return
	}

	rec, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "run not found", "not_found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	targets, err := h.manualRollbackTargets(r.Context(), rec)
	if err != nil {
		h.logger.Error("failed to resolve rollback targets", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to resolve rollback targets", "internal_error")
		return
	}
	if len(targets) == 0 {
		h.writeError(w, http.StatusConflict, "run has no reversible steps", "nothing_to_rollback")
		return
	}

	result := h.rollback.Rollback(r.Context(), targets)
	h.persistRollbackResult(r.Context(), rec, result)

	status := http.StatusOK
	if !result.Ok() {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, RollbackResponse{
		RunID:      id,
		RolledBack: result.RolledBack,
		Failed:     result.Failed,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) activeRun(id string) *engine.Run {
	h.runsMu.Lock()
	defer h.runsMu.Unlock()
	return h.runs[id]
}

// storedRunStatus reconstructs a status snapshot from persisted records.
// Phase-level state is not persisted, so Phases stays empty.
func (h *Handler) storedRunStatus(ctx context.Context, id string) (*engine.RunStatus, error) {
	rec, err := h.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := h.store.ListStepStates(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &engine.RunStatus{
		RunID:       rec.ID,
		PlanID:      rec.PlanID,
		State:       engine.RunState(rec.State),
		Steps:       make([]engine.StepStatus, len(steps)),
		FailedPhase: rec.FailedPhase,
		FailedStep:  rec.FailedStep,
		Cause:       rec.Cause,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
	}
	for i, s := range steps {
		status.Steps[i] = engine.StepStatus{
			StepID:     s.StepID,
			NodeID:     s.NodeID,
			Phase:      s.Phase,
			State:      plan.StepState(s.State),
			Attempts:   s.Attempts,
			Message:    s.Message,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		}
	}
	return status, nil
}

// manualRollbackTargets returns the run's reversible steps in reverse
// phase and step order: completed steps plus steps whose earlier rollback
// attempt failed.
func (h *Handler) manualRollbackTargets(ctx context.Context, rec *store.RunRecord) ([]plan.Step, error) {
	p, err := h.store.GetPlan(ctx, rec.PlanID)
	if err != nil {
		return nil, err
	}
	states, err := h.store.ListStepStates(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	reversible := make(map[string]bool, len(states))
	for _, s := range states {
		switch plan.StepState(s.State) {
		case plan.StepDone, plan.StepRollbackFailed:
			reversible[s.StepID] = true
		}
	}

	var targets []plan.Step
	for i := len(p.Phases) - 1; i >= 0; i-- {
		phase := p.Phases[i]
		for j := len(phase.Steps) - 1; j >= 0; j-- {
			if reversible[phase.Steps[j].ID] {
				targets = append(targets, phase.Steps[j])
			}
		}
	}
	return targets, nil
}

func (h *Handler) persistRollbackResult(ctx context.Context, rec *store.RunRecord, result *rollback.Result) {
	for _, stepID := range result.RolledBack {
		h.updateStepState(ctx, rec.ID, stepID, plan.StepRolledBack, "")
	}
	for _, stepID := range result.Failed {
		h.updateStepState(ctx, rec.ID, stepID, plan.StepRollbackFailed, "rollback budget exhausted")
	}

	if result.Ok() {
		rec.State = string(engine.RunRolledBack)
		if err := h.store.SaveRun(ctx, rec); err != nil {
			h.logger.Error("failed to persist run state", "run_id", rec.ID, "error", err)
		}
	}
}

func (h *Handler) updateStepState(ctx context.Context, runID, stepID string, state plan.StepState, message string) {
	states, err := h.store.ListStepStates(ctx, runID)
	if err != nil {
		h.logger.Error("failed to load step states", "run_id", runID, "error", err)
		return
	}
	for i := range states {
		if states[i].StepID == stepID {
			states[i].State = string(state)
			states[i].Message = message
			if err := h.store.UpsertStepState(ctx, &states[i]); err != nil {
				h.logger.Error("failed to persist step state", "run_id", runID, "step", stepID, "error", err)
			}
			return
		}
	}
}

func graphErrorCode(err error) string {
	switch {
	case errors.Is(err, graph.ErrDanglingReference):
		return "dangling_reference"
	case errors.Is(err, graph.ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, graph.ErrDuplicateNode):
		return "duplicate_node"
	case errors.Is(err, graph.ErrEmptyGraph):
		return "empty_graph"
	default:
		return "graph_invalid"
	}
}

func planToResponse(p *plan.DeploymentPlan, warnings []string) PlanResponse {
	resp := PlanResponse{
		ID:       p.ID,
		Phases:   make([]PhaseResponse, len(p.Phases)),
		Steps:    p.StepCount(),
		Warnings: warnings,
	}
	for i, phase := range p.Phases {
		pr := PhaseResponse{
			Index:    phase.Index,
			Priority: phase.Priority,
			Steps:    make([]StepResponse, len(phase.Steps)),
		}
		for j, s := range phase.Steps {
			pr.Steps[j] = StepResponse{
				ID:        s.ID,
				NodeID:    s.NodeID,
				Action:    string(s.Action),
				DependsOn: s.DependsOn,
			}
		}
		resp.Phases[i] = pr
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
