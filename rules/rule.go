// Package rules contains the parser of the filtering rules: it converts a
// single line of a filter list into one of the rule variants.
package rules

import (
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrUnsupportedRule signals that this might be a valid rule type, but it
	// is not supported by this engine, e.g. a scriptlet or an HTML filter.
	ErrUnsupportedRule errors.Error = "this type of rules is unsupported"

	// ErrRegexpRule is returned for rules with regular expression patterns,
	// which the pattern grammar does not include.
	ErrRegexpRule errors.Error = "regular expression rules are unsupported"

	// ErrTooWideRule is returned if the rule matches all urls but has no domain
	// restrictions.
	ErrTooWideRule errors.Error = "the rule is too wide, add domain restrictions or make it more specific"

	// ErrUnknownOption is wrapped by the warnings about ignored rule options.
	ErrUnknownOption errors.Error = "unknown option"

	// ErrInvalidOption is wrapped by the warnings about rule options with
	// values that cannot be parsed.
	ErrInvalidOption errors.Error = "invalid option value"
)

// Kind is the closed set of rule variants.
type Kind uint8

// Kind values.
const (
	KindNetwork Kind = iota + 1
	KindException
	KindCosmetic
	KindMetadata
)

// String implements the [fmt.Stringer] interface for Kind.
func (k Kind) String() (s string) {
	switch k {
	case KindNetwork:
		return "network"
	case KindException:
		return "exception"
	case KindCosmetic:
		return "cosmetic"
	case KindMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// Rule is a parsed filter list line.  The set of implementations is closed:
// *NetworkRule, *CosmeticRule and *MetadataRule.
type Rule interface {
	// Text returns the original rule text.
	Text() (s string)

	// GetFilterListID returns ID of the filter list this rule belongs to.
	GetFilterListID() (id int)

	// Kind returns the variant of the rule.
	Kind() (k Kind)

	// isRule restricts the implementations to this package.
	isRule()
}

// type check
var (
	_ Rule = (*NetworkRule)(nil)
	_ Rule = (*CosmeticRule)(nil)
	_ Rule = (*MetadataRule)(nil)
)

// NewRule creates a new filtering rule from the specified line.  It returns
// nil and no error if the line is empty or if it is a plain comment.
func NewRule(line string, filterListID int) (r Rule, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	if line[0] == '!' {
		return newMetadataRule(line, filterListID), nil
	}

	if marker := findCosmeticMarker(line); marker != "" {
		return NewCosmeticRule(line, marker, filterListID)
	}

	if line[0] == '#' {
		// "# comment" is a comment in hosts-like lists.
		return nil, nil
	}

	return NewNetworkRule(line, filterListID)
}

// newMetadataRule returns a metadata rule for recognized "! Key: value"
// comments or nil for plain comments.  It returns the interface explicitly so
// that a nil *MetadataRule never becomes a non-nil Rule.
func newMetadataRule(line string, filterListID int) (r Rule) {
	mr := NewMetadataRule(line, filterListID)
	if mr == nil {
		return nil
	}

	return mr
}
