package api

import (
	"time"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
)

// =============================================================================
// Request Types
// =============================================================================

// CreatePlanRequest is the request body for creating a plan from a manifest.
type CreatePlanRequest struct {
	Manifest string `json:"manifest"`
}

// =============================================================================
// Response Types
// =============================================================================

// PlanResponse is the response for plan operations.
type PlanResponse struct {
	ID       string          `json:"id"`
	Phases   []PhaseResponse `json:"phases"`
	Steps    int             `json:"steps"`
	Warnings []string        `json:"warnings,omitempty"`
}

// PhaseResponse represents one phase of a plan.
type PhaseResponse struct {
	Index    int            `json:"index"`
	Priority int            `json:"priority"`
	Steps    []StepResponse `json:"steps"`
}

// StepResponse represents one step of a plan.
type StepResponse struct {
	ID        string                `json:"id"`
	NodeID    string                `json:"node_id"`
	Action    string                `json:"action"`
	DependsOn []plan.StepDependency `json:"depends_on,omitempty"`
}

// PlanSummaryResponse is one entry in the plan list.
type PlanSummaryResponse struct {
	ID        string    `json:"id"`
	Phases    int       `json:"phases"`
	Steps     int       `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecuteResponse is the response for starting a run.
type ExecuteResponse struct {
	RunID  string `json:"run_id"`
	PlanID string `json:"plan_id"`
	State  string `json:"state"`
}

// RollbackResponse is the response for a rollback request.
type RollbackResponse struct {
	RunID      string   `json:"run_id"`
	Cancelled  bool     `json:"cancelled,omitempty"`
	RolledBack []string `json:"rolled_back,omitempty"`
	Failed     []string `json:"failed,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the response for health checks.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness checks.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
