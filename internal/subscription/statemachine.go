// Package subscription drives tenant plan and status transitions: a fixed
// transition table, one atomic persisted write per transition, and
// best-effort usage-counter invalidation on plan change.
package subscription

import (
	"sort"

	"github.com/visagelab/facegate/internal/apierror"
)

// Subscription states.
const (
	StateTrial     = "TRIAL"
	StateActive    = "ACTIVE"
	StatePastDue   = "PAST_DUE"
	StateSuspended = "SUSPENDED"
	StateCanceled  = "CANCELED"
)

// transitions is the complete table of allowed moves. Anything absent is
// rejected.
var transitions = map[string]map[string]bool{
	StateTrial:     {StateActive: true, StatePastDue: true, StateCanceled: true},
	StateActive:    {StatePastDue: true, StateCanceled: true, StateSuspended: true},
	StatePastDue:   {StateActive: true, StateCanceled: true, StateSuspended: true},
	StateSuspended: {StateActive: true},
	StateCanceled:  {StateActive: true, StateTrial: true},
}

// ValidState reports whether s names a known subscription state.
func ValidState(s string) bool {
	_, ok := transitions[s]
	return ok
}

// ValidTargets returns the sorted set of states reachable from current.
func ValidTargets(current string) []string {
	targets := make([]string, 0, len(transitions[current]))
	for t := range transitions[current] {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// CheckTransition validates a move against the table. Rejections carry the
// current state's valid target set so callers can surface a useful error.
func CheckTransition(current, target string) error {
	if !ValidState(target) {
		return apierror.Validation(apierror.CodeInvalidInput, "unknown subscription state").
			WithDetail("target", target)
	}
	if !transitions[current][target] {
		return apierror.Validation(apierror.CodeInvalidInput, "subscription transition not allowed").
			WithDetail("current", current).
			WithDetail("target", target).
			WithDetail("valid_targets", ValidTargets(current))
	}
	return nil
}
