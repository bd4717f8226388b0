package agent

import (
	"fmt"
	"sync"

	"github.com/haasonsaas/tinker/pkg/models"
)

// Verdict is the permission gate's decision for a single tool call.
type Verdict int

const (
	// VerdictAllow approves the call without user interaction.
	VerdictAllow Verdict = iota

	// VerdictDeny rejects the call. Denied calls are reported to the model
	// as errored results, never silently dropped.
	VerdictDeny

	// VerdictAskUser defers the call to the user.
	VerdictAskUser
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictDeny:
		return "deny"
	case VerdictAskUser:
		return "ask_user"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision pairs a verdict with the reason it was reached. The reason is
// surfaced in approval prompts and in denied tool results.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// GatePolicy is the static configuration of the permission gate.
type GatePolicy struct {
	// AutoApproveBelow approves any tool at or below this risk level.
	AutoApproveBelow models.RiskLevel

	// Blocked lists tool names that are always denied. Blocking wins over
	// every other rule, including session grants.
	Blocked map[string]bool

	// AllowSessionGrants enables "remember this approval" grants.
	AllowSessionGrants bool
}

// Grants is the set of per-session tool approvals. The loop is the only
// writer; the gate only reads.
type Grants struct {
	mu      sync.RWMutex
	granted map[string]bool
}

// NewGrants creates an empty grant set.
func NewGrants() *Grants {
	return &Grants{granted: make(map[string]bool)}
}

// Grant records a session-wide approval for a tool.
func (g *Grants) Grant(toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted[toolName] = true
}

// Has reports whether the tool holds a session grant.
func (g *Grants) Has(toolName string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.granted[toolName]
}

// Revoke removes a session grant.
func (g *Grants) Revoke(toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.granted, toolName)
}

// Authorize decides whether a tool call may run. The decision depends only
// on the policy, the tool's descriptor, and the current grants, so identical
// inputs always produce identical verdicts.
func Authorize(policy GatePolicy, toolName string, desc Descriptor, grants *Grants) Decision {
	if policy.Blocked[toolName] {
		return Decision{Verdict: VerdictDeny, Reason: "tool is blocked by policy"}
	}

	if desc.Risk <= policy.AutoApproveBelow {
		return Decision{Verdict: VerdictAllow, Reason: "risk at or below auto-approve threshold"}
	}

	if policy.AllowSessionGrants && grants != nil && grants.Has(toolName) {
		return Decision{Verdict: VerdictAllow, Reason: "session grant"}
	}

	return Decision{
		Verdict: VerdictAskUser,
		Reason:  fmt.Sprintf("%s risk requires approval", desc.Risk),
	}
}
