// Package policy evaluates ordered allow/deny rule documents against
// authorization decisions. First matching rule wins; no document
// means allow.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/quorum/internal/record"
)

// DocumentVersion is the only document wire version this engine
// accepts.
const DocumentVersion = 1

// EngineVersion is compared against a document's minEngineVersion.
const EngineVersion = 1

// Sentinel errors.
var (
	// ErrDenied matches any policy denial via errors.Is.
	ErrDenied = errors.New("policy: denied")
	// ErrUnknownVersion indicates a document this engine cannot read.
	ErrUnknownVersion = errors.New("policy: unknown policy document version")
	// ErrNotOwner indicates a save attempt by a non-owner.
	ErrNotOwner = errors.New("policy: only OWNER can update the policy document")
)

// Effect is a rule's outcome when it matches.
type Effect string

// Effects.
const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// TimeWindow is a UTC minute-of-day window. Start and End are
// inclusive; End < Start means the window spans midnight.
type TimeWindow struct {
	Start int `json:"start" validate:"gte=0,lte=1439"`
	End   int `json:"end" validate:"gte=0,lte=1439"`
}

// Contains reports whether the UTC minute of t falls in the window.
func (w TimeWindow) Contains(t time.Time) bool {
	minute := t.UTC().Hour()*60 + t.UTC().Minute()
	if w.Start <= w.End {
		return minute >= w.Start && minute <= w.End
	}
	return minute >= w.Start || minute <= w.End
}

// Rule is one entry of a document. Absent filters match everything;
// a rule with no filters matches every decision.
type Rule struct {
	Effect             Effect      `json:"effect" validate:"required,oneof=allow deny"`
	Operations         []string    `json:"operations,omitempty"`
	ActorMinRole       record.Role `json:"actorMinRole,omitempty"`
	TargetMaxRole      record.Role `json:"targetMaxRole,omitempty"`
	NamespaceAllowlist []string    `json:"namespaceAllowlist,omitempty"`
	TimeWindowUTC      *TimeWindow `json:"timeWindowUTC,omitempty"`
	PerActorDailyCap   int         `json:"perActorDailyCap,omitempty" validate:"gte=0"`
}

// Document is the cached, namespace-scoped rule set.
type Document struct {
	Version          int    `json:"version" validate:"required,eq=1"`
	MinEngineVersion int    `json:"minEngineVersion,omitempty" validate:"gte=0"`
	Revision         int    `json:"revision,omitempty" validate:"gte=0"`
	Rules            []Rule `json:"rules" validate:"dive"`
}

// DecisionContext is the complete input to a policy decision. It
// never carries secrets.
type DecisionContext struct {
	Operation  string
	Namespace  string
	ActorID    string
	ActorRole  record.Role
	TargetRole record.Role // "" when the decision has no target
	Now        time.Time
}

// Outcome is the result of evaluating a decision context.
type Outcome struct {
	Allowed     bool
	Rule        *Rule // nil when the default-allow posture decided
	CapExceeded bool
}

// DeniedError reports a dynamic policy denial. It carries the matched
// rule and the context it denied, per the audit contract.
type DeniedError struct {
	Context     DecisionContext
	Rule        *Rule
	CapExceeded bool
}

// Error implements error.
func (e *DeniedError) Error() string {
	if e.CapExceeded {
		return fmt.Sprintf("policy: denied %s for %s: daily cap reached", e.Context.Operation, e.Context.ActorID)
	}
	return fmt.Sprintf("policy: denied %s for %s", e.Context.Operation, e.Context.ActorID)
}

// Is lets errors.Is(err, ErrDenied) match any denial.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// matches reports whether every filter present on the rule matches
// the context. Filter evaluation short-circuits on the first miss.
func (r Rule) matches(in DecisionContext) bool {
	if len(r.Operations) > 0 && !contains(r.Operations, in.Operation) {
		return false
	}
	if r.ActorMinRole != "" && !in.ActorRole.AtLeast(r.ActorMinRole) {
		return false
	}
	if r.TargetMaxRole != "" && in.TargetRole != "" && !r.TargetMaxRole.AtLeast(in.TargetRole) {
		return false
	}
	if len(r.NamespaceAllowlist) > 0 && !contains(r.NamespaceAllowlist, in.Namespace) {
		return false
	}
	if r.TimeWindowUTC != nil && !r.TimeWindowUTC.Contains(in.Now) {
		return false
	}
	return true
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
