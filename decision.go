// Package contentblock decides whether the requests of a web page are allowed
// or blocked by the filter lists of the enabled profiles.
package contentblock

import (
	"fmt"

	"github.com/otterbrowser/contentblock/rules"
)

// Decision is the outcome of matching a request.
type Decision uint8

// Decision values.
const (
	// DecisionAllow means that no block rule matched.
	DecisionAllow Decision = iota

	// DecisionBlock means that a block rule matched and no exception did.
	DecisionBlock

	// DecisionBlockExcepted means that both a block rule and an exception
	// matched, so the request is allowed.
	DecisionBlockExcepted
)

// String implements the [fmt.Stringer] interface for Decision.
func (d Decision) String() (s string) {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionBlock:
		return "block"
	case DecisionBlockExcepted:
		return "block_excepted"
	default:
		return fmt.Sprintf("!bad_decision_%d", d)
	}
}

// Blocked returns true if the request must not be loaded.
func (d Decision) Blocked() (ok bool) {
	return d == DecisionBlock
}

// MatchResult is the result of matching a request against an engine.
type MatchResult struct {
	// Rule is the block rule that matched, if any.
	Rule *rules.NetworkRule

	// Exception is the exception rule that overrode Rule, if any.
	Exception *rules.NetworkRule

	// Checked is the number of candidate rules the request was verified
	// against.
	Checked int

	// Decision is the outcome.
	Decision Decision
}
