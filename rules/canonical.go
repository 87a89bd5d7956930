package rules

import (
	"strings"
)

// Canonical returns the canonical text of the rule: the pattern followed by
// the recognized options in a fixed order.  Unknown and invalid options are
// dropped, aliases are replaced with the full option names.  Parsing the
// canonical text results in a rule with the same canonical text.
func (f *NetworkRule) Canonical() (s string) {
	var opts []string
	for _, n := range requestTypeNames {
		if f.permittedRequestTypes&n.typ != 0 {
			opts = append(opts, n.name)
		}
	}

	for _, n := range requestTypeNames {
		if f.restrictedRequestTypes&n.typ != 0 {
			opts = append(opts, "~"+n.name)
		}
	}

	opts = appendFlagOption(opts, f, OptionThirdParty, "third-party")
	opts = appendFlagOption(opts, f, OptionMatchCase, "match-case")

	if len(f.permittedDomains) > 0 || len(f.restrictedDomains) > 0 {
		domains := make([]string, 0, len(f.permittedDomains)+len(f.restrictedDomains))
		domains = append(domains, f.permittedDomains...)
		for _, d := range f.restrictedDomains {
			domains = append(domains, "~"+d)
		}

		opts = append(opts, "domain="+strings.Join(domains, "|"))
	}

	// Without any options, a "$" inside the pattern would be taken for the
	// options delimiter.  The last character never is.  "~match-case" is the
	// default behavior.
	if len(opts) == 0 && hasOptionsDelimiter(f.pattern) {
		opts = append(opts, "~match-case")
	}

	var sb strings.Builder
	if f.Whitelist {
		sb.WriteString(maskWhiteList)
	}

	sb.WriteString(f.pattern)
	if len(opts) > 0 {
		sb.WriteByte(optionsDelimiter)
		sb.WriteString(strings.Join(opts, ","))
	}

	return sb.String()
}

// hasOptionsDelimiter returns true if pattern contains "$" before its last
// character.
func hasOptionsDelimiter(pattern string) (ok bool) {
	return len(pattern) > 1 && strings.IndexByte(pattern[:len(pattern)-1], optionsDelimiter) != -1
}

// appendFlagOption appends the canonical form of a flag option to opts if it
// is set.
func appendFlagOption(opts []string, f *NetworkRule, o NetworkRuleOption, name string) (res []string) {
	switch {
	case f.IsOptionEnabled(o):
		return append(opts, name)
	case f.IsOptionDisabled(o):
		return append(opts, "~"+name)
	default:
		return opts
	}
}
