package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/tinker/internal/cache"
	"github.com/haasonsaas/tinker/pkg/models"
)

func newTestScheduler(t *testing.T, r *Registry, policy GatePolicy, opts ...SchedulerOption) (*Scheduler, *Grants) {
	t.Helper()
	grants := NewGrants()
	s := NewScheduler(r, grants, SchedulerConfig{Policy: policy}, opts...)
	return s, grants
}

func TestSchedulerRunsReadOnlyCallsConcurrently(t *testing.T) {
	var active, peak atomic.Int32
	r := NewRegistry()
	tool := &fakeTool{
		name: "read_file",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return &ToolResult{Content: "data"}, nil
		},
	}
	if err := r.Register(tool, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	batch := []models.ToolCall{
		call("c1", "read_file", `{"path":"a.go"}`),
		call("c2", "read_file", `{"path":"b.go"}`),
		call("c3", "read_file", `{"path":"c.go"}`),
	}
	results, susp, err := s.Run(context.Background(), batch)
	if err != nil || susp != nil {
		t.Fatalf("Run: results=%v susp=%v err=%v", results, susp, err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want at least 2", peak.Load())
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if results[i].ToolCallID != id {
			t.Errorf("results[%d].ToolCallID = %s, want %s", i, results[i].ToolCallID, id)
		}
	}
}

func TestSchedulerSerializesMutatingCalls(t *testing.T) {
	var order []string
	var active atomic.Int32
	r := NewRegistry()
	tool := &fakeTool{
		name: "write_file",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			if active.Add(1) > 1 {
				t.Error("mutating calls ran concurrently")
			}
			var p struct {
				Path string `json:"path"`
			}
			_ = json.Unmarshal(params, &p)
			order = append(order, p.Path)
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return &ToolResult{Content: "written"}, nil
		},
	}
	if err := r.Register(tool, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	batch := []models.ToolCall{
		call("c1", "write_file", `{"path":"a"}`),
		call("c2", "write_file", `{"path":"b"}`),
		call("c3", "write_file", `{"path":"c"}`),
	}
	results, _, err := s.Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("execution order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestSchedulerDependentCallWaitsForDependency(t *testing.T) {
	var order []string
	r := NewRegistry()
	record := func(name string) func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		return func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			order = append(order, name)
			return &ToolResult{Content: name + " done"}, nil
		}
	}
	if err := r.Register(&fakeTool{name: "shell", exec: record("shell")}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeTool{name: "grep", exec: record("grep")}, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	batch := []models.ToolCall{
		call("c1", "shell", `{"cmd":"make"}`),
		{ID: "c2", Name: "grep", Input: json.RawMessage(`{"pattern":"error"}`), DependsOn: []string{"c1"}},
	}
	results, _, err := s.Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != "shell" || order[1] != "grep" {
		t.Errorf("execution order = %v, want [shell grep]", order)
	}
	if results[0].ToolCallID != "c1" || results[1].ToolCallID != "c2" {
		t.Errorf("result order mismatch: %v", results)
	}
}

func TestSchedulerForwardDependencyIsError(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "shell"}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	batch := []models.ToolCall{
		{ID: "c1", Name: "shell", Input: json.RawMessage(`{}`), DependsOn: []string{"c2"}},
		call("c2", "shell", `{}`),
	}
	results, _, err := s.Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Status != models.StatusError {
		t.Errorf("forward dependency: Status = %s, want error", results[0].Status)
	}
	if results[1].Status != models.StatusOK {
		t.Errorf("sibling of bad call: Status = %s, want ok", results[1].Status)
	}
}

func TestSchedulerOneFailureDoesNotAbortSiblings(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{
		name: "bad",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return nil, errors.New("disk on fire")
		},
	}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeTool{name: "good"}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	results, _, err := s.Run(context.Background(), []models.ToolCall{
		call("c1", "bad", `{}`),
		call("c2", "good", `{}`),
	})
	if err != nil {
		t.Fatalf("Run returned error instead of error result: %v", err)
	}
	if results[0].Status != models.StatusError {
		t.Errorf("bad call Status = %s, want error", results[0].Status)
	}
	if results[1].Status != models.StatusOK {
		t.Errorf("good call Status = %s, want ok", results[1].Status)
	}
}

func TestSchedulerCachesReadOnlyResults(t *testing.T) {
	var execs atomic.Int32
	r := NewRegistry()
	if err := r.Register(&fakeTool{
		name: "read_file",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			execs.Add(1)
			return &ToolResult{Content: "contents"}, nil
		},
	}, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatal(err)
	}
	c := cache.New(cache.Options{})
	s, _ := newTestScheduler(t, r, openPolicy(), WithCache(c, func() string { return "clean" }))

	first, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "read_file", `{"path":"a.go"}`)})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	// same args with keys reordered must hit
	second, _, err := s.Run(context.Background(), []models.ToolCall{call("c2", "read_file", `{"path":"a.go"}`)})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if execs.Load() != 1 {
		t.Errorf("tool executed %d times, want 1", execs.Load())
	}
	if first[0].FromCache {
		t.Error("first result unexpectedly from cache")
	}
	if !second[0].FromCache || second[0].Status != models.StatusCached {
		t.Errorf("second result not served from cache: %+v", second[0])
	}
	if second[0].Content != "contents" {
		t.Errorf("cached content = %q", second[0].Content)
	}
}

func TestSchedulerStateTokenChangeMissesCache(t *testing.T) {
	var execs atomic.Int32
	r := NewRegistry()
	if err := r.Register(&fakeTool{
		name: "read_file",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			execs.Add(1)
			return &ToolResult{Content: "contents"}, nil
		},
	}, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatal(err)
	}
	token := "rev1"
	c := cache.New(cache.Options{})
	s, _ := newTestScheduler(t, r, openPolicy(), WithCache(c, func() string { return token }))

	if _, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "read_file", `{"path":"a"}`)}); err != nil {
		t.Fatal(err)
	}
	token = "rev2"
	if _, _, err := s.Run(context.Background(), []models.ToolCall{call("c2", "read_file", `{"path":"a"}`)}); err != nil {
		t.Fatal(err)
	}
	if execs.Load() != 2 {
		t.Errorf("tool executed %d times, want 2 after state change", execs.Load())
	}
}

func TestSchedulerNeverCachesMutatingCalls(t *testing.T) {
	var execs atomic.Int32
	r := NewRegistry()
	if err := r.Register(&fakeTool{
		name: "write_file",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			execs.Add(1)
			return &ToolResult{Content: "written"}, nil
		},
	}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	c := cache.New(cache.Options{})
	s, _ := newTestScheduler(t, r, openPolicy(), WithCache(c, func() string { return "clean" }))

	for i := 0; i < 2; i++ {
		if _, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "write_file", `{"path":"a"}`)}); err != nil {
			t.Fatal(err)
		}
	}
	if execs.Load() != 2 {
		t.Errorf("mutating tool executed %d times, want 2", execs.Load())
	}
}

func TestSchedulerRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	r := NewRegistry()
	if err := r.Register(&fakeTool{
		name: "read_file",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			if attempts.Add(1) < 3 {
				return nil, errors.New("connection refused")
			}
			return &ToolResult{Content: "third time lucky"}, nil
		},
	}, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	results, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "read_file", `{}`)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Status != models.StatusOK {
		t.Fatalf("Status = %s, want ok: %s", results[0].Status, results[0].Content)
	}
	if results[0].Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", results[0].Attempts)
	}
}

func TestSchedulerNeverRetriesNonIdempotentTools(t *testing.T) {
	var attempts atomic.Int32
	r := NewRegistry()
	if err := r.Register(&fakeTool{
		name: "shell",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			attempts.Add(1)
			return nil, errors.New("connection refused")
		},
	}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	results, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "shell", `{}`)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("non-idempotent tool attempted %d times, want 1", attempts.Load())
	}
	if results[0].Status != models.StatusError {
		t.Errorf("Status = %s, want error", results[0].Status)
	}
}

func TestSchedulerDeniesBlockedTool(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "nuke"}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	policy := openPolicy()
	policy.Blocked = map[string]bool{"nuke": true}
	s, _ := newTestScheduler(t, r, policy)

	results, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "nuke", `{}`)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Status != models.StatusDenied {
		t.Errorf("Status = %s, want denied", results[0].Status)
	}
	if !strings.Contains(results[0].Content, "permission denied") {
		t.Errorf("denied result content = %q", results[0].Content)
	}
}

func TestSchedulerSuspendsWithoutConfirmer(t *testing.T) {
	var ran atomic.Int32
	r := NewRegistry()
	if err := r.Register(&fakeTool{
		name: "grep",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			ran.Add(1)
			return &ToolResult{Content: "match"}, nil
		},
	}, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeTool{
		name: "shell",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ran"}, nil
		},
	}, Descriptor{Risk: models.RiskHigh}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, guardedPolicy())

	batch := []models.ToolCall{
		call("c1", "grep", `{"pattern":"x"}`),
		call("c2", "shell", `{"cmd":"make"}`),
	}
	results, susp, err := s.Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results != nil {
		t.Fatalf("expected suspension, got results %v", results)
	}
	if susp == nil {
		t.Fatal("expected suspension")
	}
	if susp.PendingCall().ID != "c2" {
		t.Errorf("pending call = %s, want c2", susp.PendingCall().ID)
	}
	if susp.CompletedCount() != 1 {
		t.Errorf("completed = %d, want 1 (grep already done)", susp.CompletedCount())
	}

	// approve: pending runs, grep is not re-run
	results, susp2, err := s.Resume(context.Background(), susp, true, false)
	if err != nil || susp2 != nil {
		t.Fatalf("Resume: susp=%v err=%v", susp2, err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if ran.Load() != 1 {
		t.Errorf("grep ran %d times, want 1", ran.Load())
	}
	if results[0].ToolCallID != "c1" || results[1].ToolCallID != "c2" {
		t.Errorf("resume result order mismatch: %v", results)
	}
	if results[1].Status != models.StatusOK {
		t.Errorf("approved call Status = %s, want ok", results[1].Status)
	}
}

func TestSchedulerResumeRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "shell"}, Descriptor{Risk: models.RiskHigh}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeTool{name: "read_file"}, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, guardedPolicy())

	batch := []models.ToolCall{
		call("c1", "shell", `{}`),
		call("c2", "read_file", `{}`),
	}
	_, susp, err := s.Run(context.Background(), batch)
	if err != nil || susp == nil {
		t.Fatalf("expected suspension, err=%v", err)
	}

	results, susp2, err := s.Resume(context.Background(), susp, false, false)
	if err != nil || susp2 != nil {
		t.Fatalf("Resume: susp=%v err=%v", susp2, err)
	}
	if results[0].Status != models.StatusDenied {
		t.Errorf("rejected call Status = %s, want denied", results[0].Status)
	}
	if results[1].Status != models.StatusOK && results[1].Status != models.StatusCached {
		t.Errorf("sibling after rejection Status = %s, want ok", results[1].Status)
	}
}

func TestSchedulerResumeRememberGrantsSession(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "shell"}, Descriptor{Risk: models.RiskHigh}); err != nil {
		t.Fatal(err)
	}
	s, grants := newTestScheduler(t, r, guardedPolicy())

	_, susp, err := s.Run(context.Background(), []models.ToolCall{call("c1", "shell", `{}`)})
	if err != nil || susp == nil {
		t.Fatalf("expected suspension, err=%v", err)
	}
	if _, _, err := s.Resume(context.Background(), susp, true, true); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !grants.Has("shell") {
		t.Error("expected session grant for shell after remember")
	}

	// next batch with the same tool no longer suspends
	results, susp, err := s.Run(context.Background(), []models.ToolCall{call("c2", "shell", `{}`)})
	if err != nil || susp != nil {
		t.Fatalf("granted tool still suspends: susp=%v err=%v", susp, err)
	}
	if results[0].Status != models.StatusOK {
		t.Errorf("granted call Status = %s, want ok", results[0].Status)
	}
}

func TestSchedulerBlockingConfirmer(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "shell"}, Descriptor{Risk: models.RiskHigh}); err != nil {
		t.Fatal(err)
	}
	cf := &fakeConfirmer{approve: true}
	s, _ := newTestScheduler(t, r, guardedPolicy(), WithConfirmer(cf))

	results, susp, err := s.Run(context.Background(), []models.ToolCall{call("c1", "shell", `{}`)})
	if err != nil || susp != nil {
		t.Fatalf("Run with confirmer: susp=%v err=%v", susp, err)
	}
	if results[0].Status != models.StatusOK {
		t.Errorf("Status = %s, want ok", results[0].Status)
	}
	if len(cf.asked) != 1 || cf.asked[0].ToolName != "shell" {
		t.Errorf("confirmer asked = %+v", cf.asked)
	}
}

func TestSchedulerCancellationPreservesCompleted(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Register(&fakeTool{
		name: "shell",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			cancel()
			return &ToolResult{Content: "first"}, nil
		},
	}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	batch := []models.ToolCall{
		call("c1", "shell", `{}`),
		call("c2", "shell", `{}`),
		call("c3", "shell", `{}`),
	}
	results, _, err := s.Run(ctx, batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Status != models.StatusOK {
		t.Errorf("completed call Status = %s, want ok", results[0].Status)
	}
	for i := 1; i < 3; i++ {
		if results[i].Status != models.StatusCancelled {
			t.Errorf("results[%d].Status = %s, want cancelled", i, results[i].Status)
		}
	}
}

func TestSchedulerInvalidParamsProduceErrorResult(t *testing.T) {
	r := NewRegistry()
	schema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	if err := r.Register(&fakeTool{name: "read_file", schema: schema}, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	results, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "read_file", `{}`)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Status != models.StatusError {
		t.Errorf("Status = %s, want error", results[0].Status)
	}
}

func TestSchedulerTruncatesOversizedOutput(t *testing.T) {
	r := NewRegistry()
	big := strings.Repeat("x", 1000)
	if err := r.Register(&fakeTool{
		name: "read_file",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: big}, nil
		},
	}, Descriptor{Risk: models.RiskLow, ReadOnly: true}); err != nil {
		t.Fatal(err)
	}
	grants := NewGrants()
	s := NewScheduler(r, grants, SchedulerConfig{Policy: openPolicy(), MaxResultBytes: 100})

	results, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "read_file", `{}`)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !results[0].Truncated {
		t.Error("expected truncated result")
	}
	if !strings.Contains(results[0].Content, "[output truncated]") {
		t.Error("expected truncation marker")
	}
}

func TestSchedulerToolPanicBecomesErrorResult(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{
		name: "shell",
		exec: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			panic("boom")
		},
	}, Descriptor{Risk: models.RiskLow}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScheduler(t, r, openPolicy())

	results, _, err := s.Run(context.Background(), []models.ToolCall{call("c1", "shell", `{}`)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Status != models.StatusError {
		t.Errorf("Status = %s, want error", results[0].Status)
	}
	if !strings.Contains(results[0].Content, "panic") {
		t.Errorf("content = %q, want panic mention", results[0].Content)
	}
}

func TestSchedulerEmptyBatch(t *testing.T) {
	r := NewRegistry()
	s, _ := newTestScheduler(t, r, openPolicy())
	results, susp, err := s.Run(context.Background(), nil)
	if results != nil || susp != nil || err != nil {
		t.Errorf("empty batch: results=%v susp=%v err=%v", results, susp, err)
	}
}
