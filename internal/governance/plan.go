// Package governance implements the multi-stage plan review pipeline:
// a constitutional policy stage with veto authority, a scored quality gate,
// and an opt-in expert review. Every stage records its reasoning to the
// audit log so decisions stay explainable after the fact.
package governance

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/trustd/internal/trust"
)

// Common errors for governance operations.
var (
	ErrEmptyPlanName    = errors.New("plan name cannot be empty")
	ErrPipelineNotFound = errors.New("review pipeline not found")
)

// Task is one unit of work inside a plan.
type Task struct {
	// ID is unique within the plan.
	ID string `json:"id"`

	// Description says what the task does; quality review penalizes blanks.
	Description string `json:"description"`

	// Priority orders tasks; lower runs earlier.
	Priority int `json:"priority"`

	// DependsOn lists task IDs that must complete first.
	DependsOn []string `json:"depends_on,omitempty"`

	// Assignee is the agent expected to execute the task.
	Assignee trust.Agent `json:"assignee"`
}

// Plan is a named set of tasks submitted for review.
type Plan struct {
	// ID is the unique plan identifier (UUID).
	ID string `json:"id"`

	// Name is a human-readable plan title.
	Name string `json:"name"`

	// Tasks are the plan's units of work.
	Tasks []Task `json:"tasks"`

	// SubmittedBy is the agent that submitted the plan.
	SubmittedBy trust.Agent `json:"submitted_by"`

	// CreatedAt is when the plan was submitted (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// ReviewType identifies a pipeline stage.
type ReviewType string

const (
	// ReviewConstitutional is the veto stage; it always runs first.
	ReviewConstitutional ReviewType = "constitutional"

	// ReviewQuality is the scored quality gate.
	ReviewQuality ReviewType = "quality"

	// ReviewExpert is the opt-in best-practice review.
	ReviewExpert ReviewType = "expert"
)

// Reasoning explains a stage's judgment for the audit trail.
type Reasoning struct {
	// Alternatives lists options the stage considered.
	Alternatives []string `json:"alternatives,omitempty"`

	// Rationale is the stage's explanation.
	Rationale string `json:"rationale"`

	// Confidence is the stage's confidence in its judgment, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`
}

// Review is one stage's result.
type Review struct {
	// Reviewer is the agent role that produced the review.
	Reviewer trust.Agent `json:"reviewer"`

	// Type is the stage that produced it.
	Type ReviewType `json:"type"`

	// Passed is the stage's verdict.
	Passed bool `json:"passed"`

	// Score is 0..100; semantics vary by stage.
	Score int `json:"score"`

	// Tips are non-blocking suggestions.
	Tips []string `json:"tips,omitempty"`

	// Concerns flag risks worth attention.
	Concerns []string `json:"concerns,omitempty"`

	// Recommendations are actionable improvements.
	Recommendations []string `json:"recommendations,omitempty"`

	// Blockers terminate the pipeline; only the constitutional stage
	// produces them.
	Blockers []string `json:"blockers,omitempty"`

	// Reasoning explains the verdict.
	Reasoning Reasoning `json:"reasoning"`
}

// Status is a pipeline's lifecycle state.
type Status string

const (
	// StatusInReview means stages are still running.
	StatusInReview Status = "in_review"

	// StatusApproved is terminal: every required stage passed.
	StatusApproved Status = "approved"

	// StatusRejected is terminal: the constitutional stage vetoed the plan.
	// The same plan must not be resubmitted unmodified.
	StatusRejected Status = "rejected"

	// StatusNeedsRevision is recoverable: the plan may be revised and
	// resubmitted, producing a new pipeline.
	StatusNeedsRevision Status = "needs_revision"
)

// Terminal reports whether the status admits no further transitions.
// NeedsRevision is terminal for this pipeline; resubmission creates a new one.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusNeedsRevision:
		return true
	}
	return false
}

// Pipeline binds one plan to its ordered required review types and
// accumulates stage results. Once terminal it never changes.
type Pipeline struct {
	// ID is the unique pipeline identifier (UUID).
	ID string `json:"id"`

	// PlanID is the reviewed plan.
	PlanID string `json:"plan_id"`

	// PlanName is carried for reporting.
	PlanName string `json:"plan_name"`

	// Required is the ordered list of required review types.
	Required []ReviewType `json:"required"`

	// Reviews accumulates stage results in execution order.
	Reviews []Review `json:"reviews"`

	// Status is the pipeline state.
	Status Status `json:"status"`

	// CreatedAt is when the plan was submitted (UTC).
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is set when the pipeline leaves in_review.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Review returns the result for a stage, or nil if the stage never ran.
func (p *Pipeline) Review(t ReviewType) *Review {
	for i := range p.Reviews {
		if p.Reviews[i].Type == t {
			return &p.Reviews[i]
		}
	}
	return nil
}
