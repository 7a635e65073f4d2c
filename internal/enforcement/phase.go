// Package enforcement implements the tenant isolation rollout state machine.
//
// Each tenant moves through a closed set of phases that control how
// isolation violations are handled: observed, audited, or blocked. The
// phase machine is forward-only; administrative rollbacks are possible but
// explicit, reasoned, and always recorded.
package enforcement

import (
	"errors"
	"fmt"
	"time"
)

// Phase is a tenant's position in the isolation rollout.
type Phase string

const (
	// PhasePending applies no enforcement. Cross-tenant operations succeed
	// and are not recorded.
	PhasePending Phase = "pending"

	// PhaseShadow keeps pending's read visibility but records an audit entry
	// for each write that enforcing would have blocked. Audits never fire on
	// reads.
	PhaseShadow Phase = "shadow"

	// PhaseEnforcing blocks cross-tenant writes and filters reads.
	PhaseEnforcing Phase = "enforcing"

	// PhaseComplete is terminal enforcing. Semantics match PhaseEnforcing;
	// the distinct value marks rollout done for operators.
	PhaseComplete Phase = "complete"

	// PhaseUnknown is never stored. It is surfaced when a stored phase
	// cannot be parsed, and is treated fail-closed for writes and
	// fail-open for reads.
	PhaseUnknown Phase = "unknown"
)

// ErrInvalidTransition is returned when a phase change skips a step or
// moves backward without the forced-rollback path.
var ErrInvalidTransition = errors.New("invalid enforcement transition")

// order maps each storable phase to its rollout position.
var order = map[Phase]int{
	PhasePending:   0,
	PhaseShadow:    1,
	PhaseEnforcing: 2,
	PhaseComplete:  3,
}

// ParsePhase validates a stored or user-supplied phase string.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := order[p]; !ok {
		return PhaseUnknown, fmt.Errorf("unknown enforcement phase %q", s)
	}
	return p, nil
}

// Known reports whether p is a storable phase.
func (p Phase) Known() bool {
	_, ok := order[p]
	return ok
}

// Enforces reports whether cross-tenant writes are blocked in this phase.
// Unknown phases enforce: writes fail closed.
func (p Phase) Enforces() bool {
	switch p {
	case PhasePending, PhaseShadow:
		return false
	default:
		return true
	}
}

// Audits reports whether would-be violations are recorded in this phase.
func (p Phase) Audits() bool { return p == PhaseShadow }

// FiltersReads reports whether the enforcing read filter applies. Pending
// and shadow read unfiltered; unknown fails open for reads.
func (p Phase) FiltersReads() bool {
	switch p {
	case PhaseEnforcing, PhaseComplete:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a normal (non-forced) phase change is
// allowed. The chain is forward-only and single-step:
// pending -> shadow -> enforcing -> complete. Self-transitions are allowed
// as no-ops.
func CanTransition(from, to Phase) bool {
	fi, ok := order[from]
	if !ok {
		return false
	}
	ti, ok := order[to]
	if !ok {
		return false
	}
	return ti == fi || ti == fi+1
}

// CanForceRollback reports whether an administrative rollback is allowed.
// Any backward step is permitted, including an emergency rollback straight
// to pending from any later phase; forward movement must use CanTransition.
func CanForceRollback(from, to Phase) bool {
	fi, ok := order[from]
	if !ok {
		return false
	}
	ti, ok := order[to]
	if !ok {
		return false
	}
	return ti < fi
}

// Transition records one phase change for a tenant.
type Transition struct {
	From   Phase
	To     Phase
	At     time.Time
	Actor  string
	Reason string
}
