package lookup

import (
	"math"
	"strings"

	"github.com/otterbrowser/contentblock/internal/fasthash"
	"github.com/otterbrowser/contentblock/rules"
)

// shortcutLength is the length of the shortcut windows used as keys.
const shortcutLength = 5

// ShortcutsTable is a table that relies on the rule "shortcuts" to quickly
// find matching rules.  Here's how it works:
//
//  1. We extract from the rule the longest substring without special
//     characters from, this string is called a "shortcut".
//  2. We take a part of it of length shortcutLength and put it to the
//     internal hashmap.
//  3. When we match a request, we take all substrings of length
//     shortcutLength from it and check if there're any rules in the hashmap.
//
// Note that only the rules with a shortcut are eligible for this table.
type ShortcutsTable struct {
	// lookupTable is a map where the key is the hash of the shortcut and
	// value is a list of rules.
	lookupTable map[uint32][]*rules.NetworkRule

	// histogram helps us choose the best shortcut for the lookup table.
	histogram map[uint32]int

	// count is the number of rules in the table.
	count int
}

// type check
var _ Table = (*ShortcutsTable)(nil)

// NewShortcutsTable creates a new instance of the ShortcutsTable.
func NewShortcutsTable() (s *ShortcutsTable) {
	return &ShortcutsTable{
		lookupTable: map[uint32][]*rules.NetworkRule{},
		histogram:   map[uint32]int{},
	}
}

// TryAdd implements the [Table] interface for *ShortcutsTable.
func (s *ShortcutsTable) TryAdd(f *rules.NetworkRule) (ok bool) {
	if len(f.Shortcut) < shortcutLength || isAnyURLShortcut(f) {
		return false
	}

	// Find the applicable shortcut, the least used one.
	var shortcutHash uint32
	minCount := math.MaxInt
	for i := 0; i <= len(f.Shortcut)-shortcutLength; i++ {
		hash := fasthash.Between(f.Shortcut, i, i+shortcutLength)
		if count := s.histogram[hash]; count < minCount {
			minCount = count
			shortcutHash = hash
		}
	}

	s.histogram[shortcutHash] = minCount + 1
	s.lookupTable[shortcutHash] = append(s.lookupTable[shortcutHash], f)
	s.count++

	return true
}

// Match implements the [Table] interface for *ShortcutsTable.
func (s *ShortcutsTable) Match(r *rules.Request) (rule *rules.NetworkRule, checked int) {
	for i := 0; i <= len(r.URLLowerCase)-shortcutLength; i++ {
		hash := fasthash.Between(r.URLLowerCase, i, i+shortcutLength)
		for _, f := range s.lookupTable[hash] {
			checked++
			if f.Match(r) {
				return f, checked
			}
		}
	}

	return nil, checked
}

// MatchAll implements the [Table] interface for *ShortcutsTable.
func (s *ShortcutsTable) MatchAll(r *rules.Request) (result []*rules.NetworkRule) {
	for i := 0; i <= len(r.URLLowerCase)-shortcutLength; i++ {
		// The lookupTable contains the shortcuts of rules of fixed length and
		// rules itself.  Go through all the substrings of passed URL having
		// such length to find matching rules.
		hash := fasthash.Between(r.URLLowerCase, i, i+shortcutLength)
		for _, f := range s.lookupTable[hash] {
			// Make sure that the same rule isn't returned twice.  This happens
			// when the URL has a repeating pattern.
			if ruleIn(f, result) || !f.Match(r) {
				continue
			}

			result = append(result, f)
		}
	}

	return result
}

// Len implements the [Table] interface for *ShortcutsTable.
func (s *ShortcutsTable) Len() (n int) { return s.count }

// isAnyURLShortcut checks if the rule potentially matches too many URLs.  We'd
// better use another type of lookup table for this kind of rules.
func isAnyURLShortcut(f *rules.NetworkRule) (ok bool) {
	switch shLen := len(f.Shortcut); {
	case
		shLen < len("ws://")+1 && strings.HasPrefix(f.Shortcut, "ws:"),
		shLen < len("wss://")+1 && strings.HasPrefix(f.Shortcut, "wss:"),
		shLen < len("https://")+1 && strings.HasPrefix(f.Shortcut, "http"):
		return true
	default:
		return false
	}
}
