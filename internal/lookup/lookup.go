// Package lookup implements index structures that we use to improve matching
// speed in the engines.
package lookup

import "github.com/otterbrowser/contentblock/rules"

// Table is a common interface for all lookup tables.  Tables are filled once
// and are safe for concurrent matching after that.
type Table interface {
	// TryAdd attempts to add the rule to the lookup table.  It returns
	// true/false depending on whether the rule is eligible for this lookup
	// table.
	TryAdd(f *rules.NetworkRule) (ok bool)

	// Match returns the first matching rule from this lookup table or nil.
	// checked is the number of rules the request was verified against.
	Match(r *rules.Request) (rule *rules.NetworkRule, checked int)

	// MatchAll finds all matching rules from this lookup table.
	MatchAll(r *rules.Request) (result []*rules.NetworkRule)

	// Len returns the number of rules in the table.
	Len() (n int)
}

// ruleIn checks if the particular rule instance is contained by the slice of
// pointers.
func ruleIn(rule *rules.NetworkRule, rs []*rules.NetworkRule) (ok bool) {
	for _, r := range rs {
		if r == rule {
			return true
		}
	}

	return false
}
