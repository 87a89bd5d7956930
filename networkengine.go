package contentblock

import (
	"github.com/otterbrowser/contentblock/filterlist"
	"github.com/otterbrowser/contentblock/internal/lookup"
	"github.com/otterbrowser/contentblock/rules"
)

// NetworkEngine is the engine that supports quick search over network rules.
// It is immutable once built and is safe for concurrent use.
type NetworkEngine struct {
	// blockTables are the lookup tables of the block rules.  Note, that the
	// order of lookup tables is very important, we try to add rules to the
	// faster table first.  If a rule isn't eligible for that lookup table,
	// we proceed to a slower one.
	blockTables []lookup.Table

	// exceptionTables are the lookup tables of the exception rules, ordered
	// the same way as blockTables.
	exceptionTables []lookup.Table

	// cosmetic are the element hiding rules.  They are kept for the callers
	// that inject styles, but are never matched against requests.
	cosmetic []*rules.CosmeticRule

	// RulesCount is the count of network rules added to the engine.
	RulesCount int

	// ExceptionsCount is the part of RulesCount that are exceptions.
	ExceptionsCount int
}

// newTables returns the lookup tables in the order of their speed.
func newTables() (tables []lookup.Table) {
	return []lookup.Table{
		lookup.NewShortcutsTable(),
		lookup.NewDomainsTable(),
		&lookup.SeqScanTable{},
	}
}

// NewNetworkEngine builds an engine from rs.  Rules other than network and
// cosmetic ones are ignored.  A nil or empty rs gives an empty engine that
// allows everything.
func NewNetworkEngine(rs []rules.Rule) (engine *NetworkEngine) {
	engine = &NetworkEngine{
		blockTables:     newTables(),
		exceptionTables: newTables(),
	}

	for _, r := range rs {
		switch r := r.(type) {
		case *rules.NetworkRule:
			engine.addRule(r)
		case *rules.CosmeticRule:
			engine.cosmetic = append(engine.cosmetic, r)
		default:
			// Go on.
		}
	}

	return engine
}

// NewNetworkEngineFromList builds an engine from the rules of l.
func NewNetworkEngineFromList(l *filterlist.List) (engine *NetworkEngine) {
	if l == nil {
		return NewNetworkEngine(nil)
	}

	return NewNetworkEngine(l.Rules)
}

// addRule adds f to the first table of the matching set that accepts it.
func (n *NetworkEngine) addRule(f *rules.NetworkRule) {
	tables := n.blockTables
	if f.Whitelist {
		tables = n.exceptionTables
	}

	for _, table := range tables {
		if table.TryAdd(f) {
			n.RulesCount++
			if f.Whitelist {
				n.ExceptionsCount++
			}

			return
		}
	}
}

// Match finds the block rule and, if there is one, the exception rule for r.
func (n *NetworkEngine) Match(r *rules.Request) (res MatchResult) {
	res.Rule, res.Checked = n.MatchBlock(r)
	if res.Rule == nil {
		res.Decision = DecisionAllow

		return res
	}

	var checked int
	res.Exception, checked = n.MatchException(r)
	res.Checked += checked
	if res.Exception != nil {
		res.Decision = DecisionBlockExcepted
	} else {
		res.Decision = DecisionBlock
	}

	return res
}

// MatchBlock returns the first block rule matching r.
func (n *NetworkEngine) MatchBlock(r *rules.Request) (rule *rules.NetworkRule, checked int) {
	return matchFirst(n.blockTables, r)
}

// MatchException returns the first exception rule matching r.
func (n *NetworkEngine) MatchException(r *rules.Request) (rule *rules.NetworkRule, checked int) {
	return matchFirst(n.exceptionTables, r)
}

// MatchAll finds all rules matching the specified request regardless of their
// polarity.  It is meant for diagnostics, the hot path uses [Match].
func (n *NetworkEngine) MatchAll(r *rules.Request) (result []*rules.NetworkRule) {
	for _, table := range n.blockTables {
		result = append(result, table.MatchAll(r)...)
	}

	for _, table := range n.exceptionTables {
		result = append(result, table.MatchAll(r)...)
	}

	return result
}

// CosmeticRules returns the element hiding rules of the engine.  The caller
// must not modify the returned slice.
func (n *NetworkEngine) CosmeticRules() (rs []*rules.CosmeticRule) {
	return n.cosmetic
}

// matchFirst returns the first rule matching r in tables along with the total
// number of rules verified.
func matchFirst(tables []lookup.Table, r *rules.Request) (rule *rules.NetworkRule, checked int) {
	for _, table := range tables {
		var n int
		rule, n = table.Match(r)
		checked += n
		if rule != nil {
			return rule, checked
		}
	}

	return nil, checked
}
