package lookup

import (
	"github.com/otterbrowser/contentblock/rules"
)

// SeqScanTable is basically just a list of network rules that are scanned
// sequentially.  Here we put the rules that are not eligible for other tables.
type SeqScanTable struct {
	rules []*rules.NetworkRule
}

// type check
var _ Table = (*SeqScanTable)(nil)

// TryAdd implements the [Table] interface for *SeqScanTable.  Rules with the
// same text as one of the added rules are not added again.
func (s *SeqScanTable) TryAdd(f *rules.NetworkRule) (ok bool) {
	if containsRule(s.rules, f) {
		return false
	}

	s.rules = append(s.rules, f)

	return true
}

// Match implements the [Table] interface for *SeqScanTable.
func (s *SeqScanTable) Match(r *rules.Request) (rule *rules.NetworkRule, checked int) {
	for _, f := range s.rules {
		checked++
		if f.Match(r) {
			return f, checked
		}
	}

	return nil, checked
}

// MatchAll implements the [Table] interface for *SeqScanTable.
func (s *SeqScanTable) MatchAll(r *rules.Request) (result []*rules.NetworkRule) {
	for _, f := range s.rules {
		if f.Match(r) {
			result = append(result, f)
		}
	}

	return result
}

// Len implements the [Table] interface for *SeqScanTable.
func (s *SeqScanTable) Len() (n int) { return len(s.rules) }

// containsRule is a helper function that checks if the specified rule is
// already in the slice.
func containsRule(rs []*rules.NetworkRule, r *rules.NetworkRule) (ok bool) {
	for _, rule := range rs {
		if rule.RuleText == r.RuleText {
			return true
		}
	}

	return false
}
