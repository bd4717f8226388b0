package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/tinker/internal/cache"
	"github.com/haasonsaas/tinker/internal/observability"
	"github.com/haasonsaas/tinker/internal/recovery"
	"github.com/haasonsaas/tinker/pkg/models"
)

// Scheduler defaults
const (
	// DefaultParallelism bounds concurrent read-only tool executions.
	DefaultParallelism = 5

	// DefaultCallTimeout bounds a single tool execution attempt.
	DefaultCallTimeout = 30 * time.Second

	// DefaultMaxResultBytes truncates oversized tool output before it
	// enters history.
	DefaultMaxResultBytes = 48 << 10
)

// SchedulerConfig configures batch execution.
type SchedulerConfig struct {
	Parallelism    int
	CallTimeout    time.Duration
	MaxResultBytes int

	// CacheTTL overrides the result cache's default validity window.
	CacheTTL time.Duration

	Policy GatePolicy
}

// Scheduler executes a batch of tool calls. Read-only calls without
// dependencies run concurrently on a bounded pool; mutating or dependent
// calls run one at a time in batch order. Results always come back in batch
// order regardless of completion order.
type Scheduler struct {
	registry   *Registry
	cache      *cache.ResultCache
	grants     *Grants
	confirmer  Confirmer
	stateToken func() string
	logger     *slog.Logger
	metrics    *observability.Metrics
	cfg        SchedulerConfig
}

// NewScheduler creates a scheduler. cache, confirmer, metrics, and
// stateToken may be nil; caching and blocking confirmation are then
// disabled.
func NewScheduler(registry *Registry, grants *Grants, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxResultBytes <= 0 {
		cfg.MaxResultBytes = DefaultMaxResultBytes
	}
	s := &Scheduler{
		registry: registry,
		grants:   grants,
		logger:   slog.Default(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCache attaches a result cache consulted before read-only executions.
func WithCache(c *cache.ResultCache, stateToken func() string) SchedulerOption {
	return func(s *Scheduler) {
		s.cache = c
		s.stateToken = stateToken
	}
}

// WithConfirmer attaches a blocking confirmer for calls the gate defers.
// Without one the scheduler suspends the batch instead.
func WithConfirmer(c Confirmer) SchedulerOption {
	return func(s *Scheduler) { s.confirmer = c }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSchedulerMetrics attaches metrics.
func WithSchedulerMetrics(m *observability.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// Suspension is a paused batch awaiting user approval. Completed results are
// retained so approved resumption never re-runs finished calls.
type Suspension struct {
	batch   []models.ToolCall
	results map[string]models.ToolResult
	pending int
	reason  string
}

// PendingCall returns the tool call awaiting approval.
func (s *Suspension) PendingCall() models.ToolCall {
	return s.batch[s.pending]
}

// Reason returns why approval is required.
func (s *Suspension) Reason() string {
	return s.reason
}

// CompletedCount returns how many calls already have results.
func (s *Suspension) CompletedCount() int {
	return len(s.results)
}

type batchState struct {
	batch   []models.ToolCall
	mu      sync.Mutex
	results map[string]models.ToolResult
}

func (b *batchState) set(res models.ToolResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[res.ToolCallID] = res
}

func (b *batchState) has(callID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.results[callID]
	return ok
}

func (b *batchState) ordered() []models.ToolResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ToolResult, 0, len(b.batch))
	for _, tc := range b.batch {
		if res, ok := b.results[tc.ID]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Run executes a batch. A non-nil Suspension means the batch paused for
// approval; results are nil in that case and the returned suspension feeds
// Resume. The error return is reserved for infrastructure failures; a
// failing tool call produces an error result, never an error return, so one
// bad call cannot take down its siblings.
func (s *Scheduler) Run(ctx context.Context, batch []models.ToolCall) ([]models.ToolResult, *Suspension, error) {
	if len(batch) == 0 {
		return nil, nil, nil
	}
	st := &batchState{batch: batch, results: make(map[string]models.ToolResult, len(batch))}

	s.runParallel(ctx, st)
	return s.runSerial(ctx, st, 0)
}

// Resume continues a suspended batch after the user's decision. Completed
// calls keep their results. A rejected call becomes a denied result and the
// rest of the batch still runs.
func (s *Scheduler) Resume(ctx context.Context, susp *Suspension, approved, remember bool) ([]models.ToolResult, *Suspension, error) {
	if susp == nil {
		return nil, nil, ErrNotSuspended
	}
	st := &batchState{batch: susp.batch, results: susp.results}
	tc := susp.PendingCall()

	if approved {
		if remember && s.grants != nil {
			s.grants.Grant(tc.Name)
		}
		st.set(s.executeCall(ctx, tc))
	} else {
		st.set(s.deniedResult(tc, "rejected by user"))
	}
	return s.runSerial(ctx, st, susp.pending+1)
}

// runParallel executes every read-only, dependency-free, auto-approved call
// concurrently. Anything else falls through to the serial phase.
func (s *Scheduler) runParallel(ctx context.Context, st *batchState) {
	var eligible []models.ToolCall
	for _, tc := range st.batch {
		if len(tc.DependsOn) > 0 {
			continue
		}
		desc, ok := s.registry.Describe(tc.Name)
		if !ok || !desc.ReadOnly {
			continue
		}
		if Authorize(s.cfg.Policy, tc.Name, desc, s.grants).Verdict != VerdictAllow {
			continue
		}
		eligible = append(eligible, tc)
	}
	if len(eligible) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.Parallelism)
	var wg sync.WaitGroup
	for _, tc := range eligible {
		wg.Add(1)
		go func(tc models.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			st.set(s.executeCall(ctx, tc))
		}(tc)
	}
	wg.Wait()
}

// runSerial walks the batch in order from startIdx, executing every call
// that doesn't yet have a result.
func (s *Scheduler) runSerial(ctx context.Context, st *batchState, startIdx int) ([]models.ToolResult, *Suspension, error) {
	for i := startIdx; i < len(st.batch); i++ {
		tc := st.batch[i]
		if st.has(tc.ID) {
			continue
		}

		if err := ctx.Err(); err != nil {
			s.cancelRemaining(st, i)
			break
		}

		if unmet := s.unmetDependency(st, i); unmet != "" {
			st.set(s.errorResult(tc, fmt.Sprintf("dependency %s has no result; dependencies must precede dependents in the batch", unmet)))
			continue
		}

		desc, ok := s.registry.Describe(tc.Name)
		if !ok {
			st.set(s.errorResult(tc, "tool not found: "+tc.Name))
			continue
		}

		decision := Authorize(s.cfg.Policy, tc.Name, desc, s.grants)
		switch decision.Verdict {
		case VerdictDeny:
			st.set(s.deniedResult(tc, decision.Reason))
			continue
		case VerdictAskUser:
			if s.confirmer == nil {
				return nil, &Suspension{
					batch:   st.batch,
					results: st.results,
					pending: i,
					reason:  decision.Reason,
				}, nil
			}
			approved, remember, err := s.confirmer.Confirm(ctx, ApprovalRequest{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Input:      tc.Input,
				Risk:       desc.Risk,
				Reason:     decision.Reason,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("confirm %s: %w", tc.Name, err)
			}
			if !approved {
				st.set(s.deniedResult(tc, "rejected by user"))
				continue
			}
			if remember && s.grants != nil {
				s.grants.Grant(tc.Name)
			}
		}

		st.set(s.executeCall(ctx, tc))
	}

	return st.ordered(), nil, nil
}

// unmetDependency returns the first dependency of batch[idx] that has no
// result yet, or "" when all are satisfied.
func (s *Scheduler) unmetDependency(st *batchState, idx int) string {
	for _, dep := range st.batch[idx].DependsOn {
		if !st.has(dep) {
			return dep
		}
	}
	return ""
}

func (s *Scheduler) cancelRemaining(st *batchState, fromIdx int) {
	for i := fromIdx; i < len(st.batch); i++ {
		tc := st.batch[i]
		if st.has(tc.ID) {
			continue
		}
		st.set(models.ToolResult{
			ToolCallID: tc.ID,
			Status:     models.StatusCancelled,
			Content:    "cancelled before execution",
		})
		s.countTool(tc.Name, "cancelled")
	}
}

// executeCall runs one approved call: schema validation, cache lookup for
// read-only tools, recovery-wrapped execution, then cache fill.
func (s *Scheduler) executeCall(ctx context.Context, tc models.ToolCall) models.ToolResult {
	ctx, span := observability.StartSpan(ctx, "tool.execute",
		attribute.String("tool.name", tc.Name),
		attribute.String("tool.call_id", tc.ID),
	)
	res := s.executeCallInner(ctx, tc)
	var spanErr error
	if res.IsError() {
		spanErr = fmt.Errorf("%s: %s", res.Status, res.Content)
	}
	observability.EndSpan(span, spanErr)
	return res
}

func (s *Scheduler) executeCallInner(ctx context.Context, tc models.ToolCall) models.ToolResult {
	start := time.Now()

	if err := s.registry.Validate(tc.Name, tc.Input); err != nil {
		s.countTool(tc.Name, "error")
		return s.errorResult(tc, err.Error())
	}

	desc, _ := s.registry.Describe(tc.Name)

	var fp cache.Fingerprint
	cacheable := false
	if desc.ReadOnly && s.cache != nil {
		token := ""
		if s.stateToken != nil {
			token = s.stateToken()
		}
		computed, fpErr := cache.ComputeFingerprint(tc.Name, tc.Input, token)
		if fpErr == nil {
			fp = computed
			cacheable = true
			if payload, ok := s.cache.Get(fp); ok {
				s.countCache("hit")
				s.countTool(tc.Name, "cached")
				return models.ToolResult{
					ToolCallID: tc.ID,
					Status:     models.StatusCached,
					Content:    payload,
					FromCache:  true,
					Duration:   time.Since(start),
				}
			}
			s.countCache("miss")
		}
	}

	policy := recovery.SingleAttempt()
	if desc.Idempotent {
		policy = recovery.ToolPolicy()
	}

	outcome := recovery.Attempt(ctx, policy, toolClassifier, func(ctx context.Context) (*ToolResult, error) {
		return s.invoke(ctx, tc)
	})

	elapsed := time.Since(start)
	s.observeToolDuration(tc.Name, elapsed)

	if !outcome.OK() {
		status := "error"
		resStatus := models.StatusError
		if outcome.Kind == recovery.KindCancelled {
			status = "cancelled"
			resStatus = models.StatusCancelled
		}
		s.countTool(tc.Name, status)
		s.logger.Warn("tool call failed",
			"tool", tc.Name,
			"tool_call_id", tc.ID,
			"attempts", outcome.Attempts,
			"kind", outcome.Kind,
			"error", outcome.Err,
		)
		toolErr := NewToolError(tc.Name, outcome.Err).WithToolCallID(tc.ID).WithAttempts(outcome.Attempts)
		return models.ToolResult{
			ToolCallID: tc.ID,
			Status:     resStatus,
			Content:    toolErr.Error(),
			Duration:   elapsed,
			Attempts:   outcome.Attempts,
		}
	}

	content, truncated := s.truncate(outcome.Value.Content)
	status := models.StatusOK
	if outcome.Value.IsError {
		status = models.StatusError
		s.countTool(tc.Name, "error")
	} else {
		s.countTool(tc.Name, "ok")
	}

	res := models.ToolResult{
		ToolCallID: tc.ID,
		Status:     status,
		Content:    content,
		Truncated:  truncated,
		Duration:   elapsed,
		Attempts:   outcome.Attempts,
	}

	if cacheable && status == models.StatusOK {
		s.cache.Put(fp, content, s.cfg.CacheTTL)
	}
	return res
}

// invoke runs the tool once with a per-attempt timeout and a panic guard.
func (s *Scheduler) invoke(ctx context.Context, tc models.ToolCall) (res *ToolResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrToolPanic, r)
		}
	}()

	res, err = s.registry.Execute(ctx, tc.Name, tc.Input)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("tool %s returned no result", tc.Name)
	}
	return res, nil
}

func (s *Scheduler) truncate(content string) (string, bool) {
	if len(content) <= s.cfg.MaxResultBytes {
		return content, false
	}
	return content[:s.cfg.MaxResultBytes] + "\n[output truncated]", true
}

func (s *Scheduler) errorResult(tc models.ToolCall, msg string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: tc.ID,
		Status:     models.StatusError,
		Content:    msg,
	}
}

func (s *Scheduler) deniedResult(tc models.ToolCall, reason string) models.ToolResult {
	s.countTool(tc.Name, "denied")
	return models.ToolResult{
		ToolCallID: tc.ID,
		Status:     models.StatusDenied,
		Content:    "permission denied: " + reason,
	}
}

func (s *Scheduler) countTool(name, status string) {
	if s.metrics != nil {
		s.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	}
}

func (s *Scheduler) countCache(outcome string) {
	if s.metrics != nil {
		s.metrics.CacheLookupCounter.WithLabelValues(outcome).Inc()
	}
}

func (s *Scheduler) observeToolDuration(name string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

// toolClassifier maps tool execution errors onto recovery kinds.
func toolClassifier(err error) recovery.Kind {
	switch ClassifyToolError(err) {
	case ToolErrorCancelled:
		return recovery.KindCancelled
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return recovery.KindTransient
	default:
		return recovery.KindFatal
	}
}
