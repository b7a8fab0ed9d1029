package governance

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trustd/internal/audit"
	"github.com/fyrsmithlabs/trustd/internal/bus"
	"github.com/fyrsmithlabs/trustd/internal/trust"
)

// Config configures the review engine.
type Config struct {
	// QualityThreshold is the minimum passing quality score (default: 70).
	QualityThreshold int `koanf:"quality_threshold"`

	// MaxTasks is the plan size above which quality review deducts points
	// (default: 25).
	MaxTasks int `koanf:"max_tasks"`

	// ExpertMaxRecommendations is the count at or above which expert review
	// fails (default: 5).
	ExpertMaxRecommendations int `koanf:"expert_max_recommendations"`

	// Retention is how long terminal pipelines are kept before Sweep
	// removes them (default: 24h).
	Retention time.Duration `koanf:"retention"`
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() *Config {
	return &Config{
		QualityThreshold:         70,
		MaxTasks:                 25,
		ExpertMaxRecommendations: 5,
		Retention:                24 * time.Hour,
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		return fmt.Errorf("quality_threshold must be in [0,100], got %d", c.QualityThreshold)
	}
	if c.MaxTasks <= 0 {
		return fmt.Errorf("max_tasks must be positive, got %d", c.MaxTasks)
	}
	if c.ExpertMaxRecommendations <= 0 {
		return fmt.Errorf("expert_max_recommendations must be positive, got %d", c.ExpertMaxRecommendations)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", c.Retention)
	}
	return nil
}

// ReviewOptions select which optional stages run for one submission.
type ReviewOptions struct {
	// SkipQuality omits the quality gate. The constitutional stage can
	// never be skipped.
	SkipQuality bool

	// Expert opts this submission into expert review.
	Expert bool
}

// Engine runs review pipelines. Each submission gets a fresh pipeline;
// terminal pipelines never change and are eventually swept.
type Engine struct {
	mu        sync.Mutex
	pipelines map[string]*Pipeline

	cfg     *Config
	policy  *PolicyEvaluator
	auditor *audit.Log
	events  *bus.Bus
	logger  *zap.Logger
	clock   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New creates an Engine. The policy evaluator, audit log, and event bus are
// required collaborators.
func New(cfg *Config, policy *PolicyEvaluator, auditor *audit.Log, events *bus.Bus, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if policy == nil {
		return nil, fmt.Errorf("policy evaluator cannot be nil")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit log cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event bus cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		pipelines: make(map[string]*Pipeline),
		cfg:       cfg,
		policy:    policy,
		auditor:   auditor,
		events:    events,
		logger:    logger,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ReviewPlan runs the full pipeline for a plan submission and returns the
// completed pipeline. Stages run in fixed order; the constitutional stage
// short-circuits the rest on any violation. Stage results are appended to
// the audit log before the pipeline reaches its final status.
func (e *Engine) ReviewPlan(plan *Plan, opts ReviewOptions) (*Pipeline, error) {
	if plan == nil || plan.Name == "" {
		return nil, ErrEmptyPlanName
	}
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}

	now := e.clock().UTC()
	pipeline := &Pipeline{
		ID:        uuid.New().String(),
		PlanID:    plan.ID,
		PlanName:  plan.Name,
		Required:  requiredStages(opts),
		Status:    StatusInReview,
		CreatedAt: now,
	}

	e.runStages(pipeline, plan, opts)

	completed := e.clock().UTC()
	pipeline.CompletedAt = &completed

	e.mu.Lock()
	e.pipelines[pipeline.ID] = pipeline
	e.mu.Unlock()

	e.events.Publish(bus.TopicPlanReviewCompleted, pipeline.copy())

	e.logger.Info("plan review completed",
		zap.String("pipeline_id", pipeline.ID),
		zap.String("plan", plan.Name),
		zap.String("status", string(pipeline.Status)),
		zap.Int("reviews", len(pipeline.Reviews)),
	)
	return pipeline.copy(), nil
}

func requiredStages(opts ReviewOptions) []ReviewType {
	required := []ReviewType{ReviewConstitutional}
	if !opts.SkipQuality {
		required = append(required, ReviewQuality)
	}
	if opts.Expert {
		required = append(required, ReviewExpert)
	}
	return required
}

func (e *Engine) runStages(pipeline *Pipeline, plan *Plan, opts ReviewOptions) {
	// Constitutional review runs first and carries veto authority: one
	// violating task rejects the plan and no later stage runs.
	constitutional := e.reviewConstitutional(plan)
	e.recordReview(pipeline, plan, constitutional)
	if !constitutional.Passed {
		pipeline.Status = StatusRejected
		return
	}

	if !opts.SkipQuality {
		quality := e.reviewQuality(plan)
		e.recordReview(pipeline, plan, quality)
		if !quality.Passed {
			pipeline.Status = StatusNeedsRevision
			return
		}
	}

	if opts.Expert {
		expert := e.reviewExpert(plan)
		e.recordReview(pipeline, plan, expert)
		if !expert.Passed {
			pipeline.Status = StatusNeedsRevision
			return
		}
	}

	pipeline.Status = StatusApproved
}

// recordReview appends the stage result to the pipeline and to the audit
// log. The audit trail is written before any status transition surfaces.
func (e *Engine) recordReview(pipeline *Pipeline, plan *Plan, review Review) {
	pipeline.Reviews = append(pipeline.Reviews, review)

	if _, err := e.auditor.Append("plan_review", review.Reviewer, trust.LevelSystem, map[string]any{
		"pipeline_id":  pipeline.ID,
		"plan_id":      plan.ID,
		"stage":        string(review.Type),
		"passed":       review.Passed,
		"score":        review.Score,
		"blockers":     len(review.Blockers),
		"rationale":    review.Reasoning.Rationale,
		"alternatives": review.Reasoning.Alternatives,
		"confidence":   review.Reasoning.Confidence,
	}); err != nil {
		e.logger.Error("failed to audit review stage", zap.Error(err),
			zap.String("pipeline_id", pipeline.ID),
			zap.String("stage", string(review.Type)),
		)
	}
}

// reviewConstitutional evaluates every task against the policy table. Any
// violation is a blocker.
func (e *Engine) reviewConstitutional(plan *Plan) Review {
	violations := e.policy.Evaluate(plan)

	review := Review{
		Reviewer: trust.AgentGuardian,
		Type:     ReviewConstitutional,
		Passed:   len(violations) == 0,
		Score:    100,
		Reasoning: Reasoning{
			Rationale:  "no constitutional violations found",
			Confidence: 0.95,
		},
	}
	if len(violations) > 0 {
		review.Score = 0
		review.Reasoning = Reasoning{
			Alternatives: []string{"request revision", "reject"},
			Rationale: fmt.Sprintf("constitutional violations are not revisable: %d task(s) matched policy rules",
				len(violations)),
			Confidence: 0.99,
		}
		for _, v := range violations {
			review.Blockers = append(review.Blockers,
				fmt.Sprintf("task %s violates %s: %s", v.TaskID, v.RuleID, v.Description))
		}
	}
	return review
}

// reviewQuality scores 100 minus deductions for structural defects.
func (e *Engine) reviewQuality(plan *Plan) Review {
	score := 100
	var concerns, tips []string

	if len(plan.Tasks) == 0 {
		score -= 50
		concerns = append(concerns, "plan has no tasks")
	}

	ids := make(map[string]bool, len(plan.Tasks))
	for _, task := range plan.Tasks {
		ids[task.ID] = true
	}
	for _, task := range plan.Tasks {
		if task.Description == "" {
			score -= 10
			concerns = append(concerns, fmt.Sprintf("task %s has no description", task.ID))
		}
		for _, dep := range task.DependsOn {
			if !ids[dep] {
				score -= 15
				concerns = append(concerns, fmt.Sprintf("task %s depends on unknown task %s", task.ID, dep))
			}
		}
	}

	if len(plan.Tasks) > e.cfg.MaxTasks {
		score -= 20
		tips = append(tips, fmt.Sprintf("plan has %d tasks; consider splitting at %d", len(plan.Tasks), e.cfg.MaxTasks))
	}

	if score < 0 {
		score = 0
	}

	passed := score >= e.cfg.QualityThreshold
	rationale := fmt.Sprintf("quality score %d against threshold %d", score, e.cfg.QualityThreshold)
	return Review{
		Reviewer: trust.AgentReviewer,
		Type:     ReviewQuality,
		Passed:   passed,
		Score:    score,
		Tips:     tips,
		Concerns: concerns,
		Reasoning: Reasoning{
			Rationale:  rationale,
			Confidence: 0.8,
		},
	}
}

var (
	testTaskPattern     = regexp.MustCompile(`(?i)\b(test(s|ing)?|verif(y|ies)|validat(e|ion))\b`)
	rollbackTaskPattern = regexp.MustCompile(`(?i)\b(rollback|roll\s+back|revert|undo)\b`)
	docsTaskPattern     = regexp.MustCompile(`(?i)\b(document(ation)?|docs?|runbook|readme)\b`)
	sensitiveOpsPattern = regexp.MustCompile(`(?i)\b(deploy|migrate|migration|credential|secret|production|prod)\b`)
)

// reviewExpert applies best-practice heuristics: missing test, rollback,
// and documentation tasks each cost a fixed increment; sensitive operations
// without safeguards raise concerns.
func (e *Engine) reviewExpert(plan *Plan) Review {
	score := 100
	var recommendations, concerns []string

	hasTest, hasRollback, hasDocs := false, false, false
	var sensitive []string
	for _, task := range plan.Tasks {
		if testTaskPattern.MatchString(task.Description) {
			hasTest = true
		}
		if rollbackTaskPattern.MatchString(task.Description) {
			hasRollback = true
		}
		if docsTaskPattern.MatchString(task.Description) {
			hasDocs = true
		}
		if sensitiveOpsPattern.MatchString(task.Description) {
			sensitive = append(sensitive, task.ID)
		}
	}

	if !hasTest {
		score -= 10
		recommendations = append(recommendations, "add a testing task before rollout")
	}
	if !hasRollback {
		score -= 10
		recommendations = append(recommendations, "add a rollback task for failure recovery")
	}
	if !hasDocs {
		score -= 10
		recommendations = append(recommendations, "add a documentation task")
	}
	for _, id := range sensitive {
		concerns = append(concerns, fmt.Sprintf("task %s touches sensitive operations", id))
		if !hasRollback {
			score -= 5
			recommendations = append(recommendations, fmt.Sprintf("task %s needs a recovery path", id))
		}
	}

	if score < 0 {
		score = 0
	}

	passed := len(recommendations) < e.cfg.ExpertMaxRecommendations
	return Review{
		Reviewer:        trust.AgentReviewer,
		Type:            ReviewExpert,
		Passed:          passed,
		Score:           score,
		Concerns:        concerns,
		Recommendations: recommendations,
		Reasoning: Reasoning{
			Rationale: fmt.Sprintf("%d outstanding recommendation(s) against limit %d",
				len(recommendations), e.cfg.ExpertMaxRecommendations),
			Confidence: 0.7,
		},
	}
}

// Pipeline returns a copy of the pipeline by ID.
func (e *Engine) Pipeline(id string) (*Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pipelines[id]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	return p.copy(), nil
}

// Stats summarizes pipeline outcomes.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// Stats returns outcome counts for retained pipelines.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{Total: len(e.pipelines), ByStatus: make(map[Status]int)}
	for _, p := range e.pipelines {
		stats.ByStatus[p.Status]++
	}
	return stats
}

// Sweep removes terminal pipelines completed before now minus the retention
// window and returns how many it removed.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Add(-e.cfg.Retention)
	var victims []string
	for id, p := range e.pipelines {
		if p.Status.Terminal() && p.CompletedAt != nil && p.CompletedAt.Before(cutoff) {
			victims = append(victims, id)
		}
	}
	sort.Strings(victims)
	for _, id := range victims {
		delete(e.pipelines, id)
	}

	if len(victims) > 0 {
		e.logger.Debug("swept terminal pipelines", zap.Int("removed", len(victims)))
	}
	return len(victims)
}

func (p *Pipeline) copy() *Pipeline {
	out := *p
	out.Required = append([]ReviewType(nil), p.Required...)
	out.Reviews = append([]Review(nil), p.Reviews...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
