package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/tinker/internal/observability"
	"github.com/haasonsaas/tinker/internal/recovery"
	"github.com/haasonsaas/tinker/pkg/models"
)

// Loop defaults
const (
	// DefaultMaxRounds bounds provider round trips per turn.
	DefaultMaxRounds = 8

	// DefaultMaxTurnTokens bounds total token usage per turn. Zero disables
	// the budget.
	DefaultMaxTurnTokens = 96_000
)

// Outcome is how a turn ended.
type Outcome string

const (
	// OutcomeFinal means the model produced a final answer.
	OutcomeFinal Outcome = "final"

	// OutcomeAwaitingApproval means the turn suspended on a tool call that
	// needs user approval. Resume continues it.
	OutcomeAwaitingApproval Outcome = "awaiting_approval"

	// OutcomeError means the turn ended on a terminal error. History up to
	// the failure is preserved.
	OutcomeError Outcome = "error"
)

// TurnResult reports how a turn (or a resumed turn) ended.
type TurnResult struct {
	Outcome Outcome

	// Text is the final assistant answer when Outcome is OutcomeFinal.
	Text string

	// Pending describes the approval request when Outcome is
	// OutcomeAwaitingApproval.
	Pending *ApprovalRequest

	// Rounds is the number of provider round trips consumed so far.
	Rounds int

	// Usage is the turn's accumulated token usage.
	Usage models.TokenUsage
}

// LoopConfig configures turn execution.
type LoopConfig struct {
	MaxRounds     int
	MaxTurnTokens int
	Model         string
	System        string
	MaxTokens     int
}

// Loop drives one conversation turn at a time: provider round trip, tool
// batch, repeat until the model answers without tool calls or a bound trips.
// The loop is the sole owner of conversation history; everything else only
// observes it.
type Loop struct {
	provider  Provider
	registry  *Registry
	scheduler *Scheduler
	grants    *Grants
	sink      HistorySink
	logger    *slog.Logger
	metrics   *observability.Metrics
	classify  recovery.Classifier
	policy    recovery.Policy
	cfg       LoopConfig

	mu        sync.Mutex
	sessionID string
	history   []models.Message
	ordinal   int

	// suspended turn state, nil when no turn is awaiting approval
	susp      *Suspension
	suspRound int
	suspUsage models.TokenUsage
}

// NewLoop creates a turn loop for a session.
func NewLoop(provider Provider, registry *Registry, scheduler *Scheduler, grants *Grants, cfg LoopConfig, opts ...LoopOption) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	l := &Loop{
		provider:  provider,
		registry:  registry,
		scheduler: scheduler,
		grants:    grants,
		logger:    slog.Default(),
		classify:  defaultProviderClassifier,
		policy:    recovery.DefaultPolicy(),
		cfg:       cfg,
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithHistorySink attaches a sink receiving every appended message.
func WithHistorySink(sink HistorySink) LoopOption {
	return func(l *Loop) { l.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics attaches metrics.
func WithMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithProviderClassifier overrides the error classifier for provider calls.
// Provider adapters supply classifiers that understand their SDK error types.
func WithProviderClassifier(c recovery.Classifier) LoopOption {
	return func(l *Loop) {
		if c != nil {
			l.classify = c
		}
	}
}

// WithProviderRetryPolicy overrides the retry policy for provider calls.
func WithProviderRetryPolicy(p recovery.Policy) LoopOption {
	return func(l *Loop) { l.policy = p }
}

// WithSessionID pins the session ID, e.g. when resuming a persisted session.
func WithSessionID(id string) LoopOption {
	return func(l *Loop) {
		if id != "" {
			l.sessionID = id
		}
	}
}

// WithHistory seeds prior conversation history, e.g. from a session store.
func WithHistory(msgs []models.Message) LoopOption {
	return func(l *Loop) {
		l.history = append(l.history, msgs...)
		l.ordinal = len(l.history)
	}
}

// SessionID returns the loop's session identifier.
func (l *Loop) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// History returns a copy of the conversation history.
func (l *Loop) History() []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Message, len(l.history))
	copy(out, l.history)
	return out
}

// Suspended reports whether a turn is awaiting approval.
func (l *Loop) Suspended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.susp != nil
}

// Advance runs one conversation turn from a user message. The turn ends with
// a final answer, a suspension awaiting approval, or a terminal error. On
// error the history still holds everything appended before the failure.
func (l *Loop) Advance(ctx context.Context, userText string) (*TurnResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.susp != nil {
		return nil, ErrTurnActive
	}

	ctx, span := observability.StartSpan(ctx, "turn.advance",
		attribute.String("session.id", l.sessionID),
	)
	l.append(ctx, models.Message{
		Role:    models.RoleUser,
		Content: userText,
	})

	res, err := l.runRounds(ctx, 0, models.TokenUsage{})
	observability.EndSpan(span, err)
	return res, err
}

// Resume continues a suspended turn with the user's decision on the pending
// tool call. remember additionally grants the tool for the session.
func (l *Loop) Resume(ctx context.Context, approved, remember bool) (*TurnResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.susp == nil {
		return nil, ErrNotSuspended
	}

	ctx, span := observability.StartSpan(ctx, "turn.resume",
		attribute.String("session.id", l.sessionID),
		attribute.Bool("approved", approved),
	)

	susp := l.susp
	round := l.suspRound
	usage := l.suspUsage
	l.susp = nil

	results, again, err := l.scheduler.Resume(ctx, susp, approved, remember)
	if err != nil {
		observability.EndSpan(span, err)
		return l.errorResult(round, usage), &TurnError{Phase: PhaseResume, Round: round, Cause: err}
	}
	if again != nil {
		l.suspend(again, round, usage)
		observability.EndSpan(span, nil)
		return l.awaitingResult(again, round, usage), nil
	}

	l.appendToolResults(ctx, results)

	if err := ctx.Err(); err != nil {
		observability.EndSpan(span, err)
		return l.errorResult(round, usage), &TurnError{Phase: PhaseResume, Round: round, Cause: err}
	}

	res, err := l.runRounds(ctx, round, usage)
	observability.EndSpan(span, err)
	return res, err
}

// runRounds drives provider round trips until the model stops calling tools
// or a bound trips. Caller holds l.mu.
func (l *Loop) runRounds(ctx context.Context, startRound int, usage models.TokenUsage) (*TurnResult, error) {
	for round := startRound; ; round++ {
		if round >= l.cfg.MaxRounds {
			return l.errorResult(round, usage), &TurnError{
				Phase: PhaseComplete,
				Round: round,
				Cause: ErrMaxRounds,
			}
		}
		if l.cfg.MaxTurnTokens > 0 && usage.Total() >= l.cfg.MaxTurnTokens {
			return l.errorResult(round, usage), &TurnError{
				Phase: PhaseComplete,
				Round: round,
				Cause: ErrTokenBudget,
			}
		}
		if err := ctx.Err(); err != nil {
			return l.errorResult(round, usage), &TurnError{Phase: PhaseComplete, Round: round, Cause: err}
		}

		completion, err := l.complete(ctx, round)
		if err != nil {
			return l.errorResult(round, usage), &TurnError{Phase: PhaseComplete, Round: round, Cause: err}
		}
		usage.Prompt += completion.Usage.Prompt
		usage.Completion += completion.Usage.Completion

		l.append(ctx, models.Message{
			Role:      models.RoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})

		if len(completion.ToolCalls) == 0 {
			return &TurnResult{
				Outcome: OutcomeFinal,
				Text:    completion.Text,
				Rounds:  round + 1,
				Usage:   usage,
			}, nil
		}

		results, susp, err := l.scheduler.Run(ctx, completion.ToolCalls)
		if err != nil {
			return l.errorResult(round+1, usage), &TurnError{Phase: PhaseExecuteTools, Round: round, Cause: err}
		}
		if susp != nil {
			l.suspend(susp, round+1, usage)
			return l.awaitingResult(susp, round+1, usage), nil
		}

		l.appendToolResults(ctx, results)

		if err := ctx.Err(); err != nil {
			return l.errorResult(round+1, usage), &TurnError{Phase: PhaseExecuteTools, Round: round, Cause: err}
		}
	}
}

// complete performs one recovery-wrapped provider call.
func (l *Loop) complete(ctx context.Context, round int) (*Completion, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}

	req := &CompletionRequest{
		Model:     l.cfg.Model,
		System:    l.cfg.System,
		Messages:  append([]models.Message(nil), l.history...),
		Tools:     l.registry.Definitions(),
		MaxTokens: l.cfg.MaxTokens,
	}

	start := time.Now()
	outcome := recovery.Attempt(ctx, l.policy, l.classify, func(ctx context.Context) (*Completion, error) {
		return l.provider.Complete(ctx, req)
	})
	elapsed := time.Since(start)

	l.observeProvider(outcome, elapsed)

	if !outcome.OK() {
		l.logger.Error("provider call failed",
			"provider", l.provider.Name(),
			"round", round,
			"attempts", outcome.Attempts,
			"kind", outcome.Kind,
			"error", outcome.Err,
		)
		return nil, outcome.Err
	}
	if outcome.Status == recovery.StatusRecovered {
		l.logger.Info("provider call recovered",
			"provider", l.provider.Name(),
			"round", round,
			"attempts", outcome.Attempts,
		)
	}
	return outcome.Value, nil
}

func (l *Loop) observeProvider(outcome recovery.Outcome[*Completion], elapsed time.Duration) {
	if l.metrics == nil {
		return
	}
	name := l.provider.Name()
	model := l.cfg.Model

	status := "error"
	switch outcome.Status {
	case recovery.StatusSuccess:
		status = "success"
	case recovery.StatusRecovered:
		status = "recovered"
	}
	l.metrics.ProviderRequestCounter.WithLabelValues(name, model, status).Inc()
	l.metrics.ProviderRequestDuration.WithLabelValues(name, model).Observe(elapsed.Seconds())
	if outcome.Attempts > 1 {
		l.metrics.ProviderRetryCounter.WithLabelValues(name).Add(float64(outcome.Attempts - 1))
	}
	if outcome.OK() {
		l.metrics.TokensUsed.WithLabelValues(name, model, "prompt").Add(float64(outcome.Value.Usage.Prompt))
		l.metrics.TokensUsed.WithLabelValues(name, model, "completion").Add(float64(outcome.Value.Usage.Completion))
	}
}

// append adds a message to history and notifies the sink. Caller holds l.mu.
func (l *Loop) append(ctx context.Context, msg models.Message) {
	msg.ID = uuid.NewString()
	msg.SessionID = l.sessionID
	msg.Ordinal = l.ordinal
	msg.CreatedAt = time.Now()
	l.ordinal++
	l.history = append(l.history, msg)

	if l.sink != nil {
		if err := l.sink.Append(ctx, msg); err != nil {
			l.logger.Warn("history sink append failed",
				"error", err,
				"session_id", l.sessionID,
				"ordinal", msg.Ordinal,
			)
		}
	}
}

func (l *Loop) appendToolResults(ctx context.Context, results []models.ToolResult) {
	l.append(ctx, models.Message{
		Role:        models.RoleTool,
		ToolResults: results,
	})
}

func (l *Loop) suspend(susp *Suspension, round int, usage models.TokenUsage) {
	l.susp = susp
	l.suspRound = round
	l.suspUsage = usage
}

func (l *Loop) awaitingResult(susp *Suspension, round int, usage models.TokenUsage) *TurnResult {
	tc := susp.PendingCall()
	desc, _ := l.registry.Describe(tc.Name)
	return &TurnResult{
		Outcome: OutcomeAwaitingApproval,
		Pending: &ApprovalRequest{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Input:      tc.Input,
			Risk:       desc.Risk,
			Reason:     susp.Reason(),
		},
		Rounds: round,
		Usage:  usage,
	}
}

func (l *Loop) errorResult(round int, usage models.TokenUsage) *TurnResult {
	return &TurnResult{
		Outcome: OutcomeError,
		Rounds:  round,
		Usage:   usage,
	}
}

// defaultProviderClassifier classifies provider errors from message text.
// Provider adapters install sharper classifiers via WithProviderClassifier.
func defaultProviderClassifier(err error) recovery.Kind {
	if err == nil {
		return recovery.KindFatal
	}
	if errors.Is(err, context.Canceled) {
		return recovery.KindCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "529"):
		return recovery.KindTransient
	default:
		return recovery.KindFatal
	}
}
