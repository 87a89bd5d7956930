package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/otterbrowser/contentblock/internal/ufnet"
)

// NetworkRuleOption is the enumeration of the flag options of a rule.  A flag
// may be enabled, disabled with "~", or unset.
type NetworkRuleOption uint8

// NetworkRuleOption enumeration.
const (
	OptionThirdParty NetworkRuleOption = 1 << iota // $third-party modifier
	OptionMatchCase                                // $match-case modifier
)

// NetworkRule is a basic URL blocking rule or its "@@" exception.
type NetworkRule struct {
	// RuleText is the original rule text.
	RuleText string

	// Shortcut is the longest lowercased substring of the pattern with no
	// special characters.  Every URL the rule matches contains it.
	Shortcut string

	// regex returns the compiled pattern or nil if it cannot be compiled.
	regex func() (re *regexp.Regexp)

	// pattern is the basic rule pattern ready to be converted to a regex.
	pattern string

	// permittedDomains is a sorted list of the domains from $domain.
	permittedDomains []string

	// restrictedDomains is a sorted list of the "~" domains from $domain.
	restrictedDomains []string

	// warnings are the problems with the options that were ignored.
	warnings []error

	// FilterListID is the identifier of the list the rule belongs to.
	FilterListID int

	// permittedRequestTypes are all the permitted request types.  0 means
	// all of them.
	permittedRequestTypes RequestType

	// restrictedRequestTypes are all the restricted request types.  0 means
	// none of them.
	restrictedRequestTypes RequestType

	enabledOptions  NetworkRuleOption
	disabledOptions NetworkRuleOption

	// matchesAll is true if the pattern matches any URL.
	matchesAll bool

	// Whitelist is true for "@@" exception rules.
	Whitelist bool
}

// NewNetworkRule parses the rule text and returns a network rule.  Options
// that are unknown or cannot be parsed don't make the rule invalid, see
// [NetworkRule.Warnings].
func NewNetworkRule(ruleText string, filterListID int) (r *NetworkRule, err error) {
	pattern, options, whitelist, err := parseRuleText(ruleText)
	if err != nil {
		return nil, err
	}

	switch {
	case isRegexpPattern(pattern):
		return nil, fmt.Errorf("pattern %q: %w", pattern, ErrRegexpRule)
	case strings.ContainsAny(pattern, " \t"):
		return nil, fmt.Errorf("pattern %q contains whitespace", pattern)
	}

	r = &NetworkRule{
		RuleText:     ruleText,
		Whitelist:    whitelist,
		FilterListID: filterListID,
		pattern:      pattern,
	}

	r.loadOptions(options)

	// example.org/* -> example.org^
	if p, ok := strings.CutSuffix(r.pattern, "/*"); ok {
		r.pattern = p + MaskSeparator
	}

	if len(r.pattern) < 3 && len(r.permittedDomains) == 0 {
		return nil, ErrTooWideRule
	}

	if shortcut := findShortcut(r.pattern); len(shortcut) > 1 {
		r.Shortcut = strings.ToLower(shortcut)
	}

	r.matchesAll = patternToRegexp(r.pattern) == RegexAnyCharacter
	r.regex = sync.OnceValue(r.compileRegexp)

	return r, nil
}

// Text implements the [Rule] interface for *NetworkRule.
func (f *NetworkRule) Text() (s string) { return f.RuleText }

// GetFilterListID implements the [Rule] interface for *NetworkRule.
func (f *NetworkRule) GetFilterListID() (id int) { return f.FilterListID }

// Kind implements the [Rule] interface for *NetworkRule.
func (f *NetworkRule) Kind() (k Kind) {
	if f.Whitelist {
		return KindException
	}

	return KindNetwork
}

// isRule implements the [Rule] interface for *NetworkRule.
func (f *NetworkRule) isRule() {}

// String implements the [fmt.Stringer] interface for *NetworkRule.
func (f *NetworkRule) String() (s string) { return f.RuleText }

// Pattern returns the basic rule pattern.
func (f *NetworkRule) Pattern() (p string) { return f.pattern }

// Warnings returns the problems with the rule options that were ignored
// during parsing.  Each of them wraps [ErrUnknownOption] or
// [ErrInvalidOption].
func (f *NetworkRule) Warnings() (errs []error) { return f.warnings }

// PermittedDomains returns the domains the rule is limited to.
func (f *NetworkRule) PermittedDomains() (domains []string) { return f.permittedDomains }

// RestrictedDomains returns the domains the rule is disabled on.
func (f *NetworkRule) RestrictedDomains() (domains []string) { return f.restrictedDomains }

// IsOptionEnabled returns true if the specified option is enabled.
func (f *NetworkRule) IsOptionEnabled(option NetworkRuleOption) (ok bool) {
	return f.enabledOptions&option == option
}

// IsOptionDisabled returns true if the specified option is disabled.
func (f *NetworkRule) IsOptionDisabled(option NetworkRuleOption) (ok bool) {
	return f.disabledOptions&option == option
}

// Match checks if this filtering rule matches the specified request.
func (f *NetworkRule) Match(r *Request) (ok bool) {
	switch {
	case
		!f.matchShortcut(r),
		f.IsOptionEnabled(OptionThirdParty) && !r.ThirdParty,
		f.IsOptionDisabled(OptionThirdParty) && r.ThirdParty,
		!f.matchRequestType(r.RequestType),
		!f.matchSourceDomain(r.SourceHostname),
		!f.matchPattern(r):
		return false
	}

	return true
}

// matchShortcut simply checks if shortcut is a substring of the URL.
func (f *NetworkRule) matchShortcut(r *Request) (ok bool) {
	return strings.Contains(r.URLLowerCase, f.Shortcut)
}

// matchRequestType checks if the specified request type matches the rule
// properties.
func (f *NetworkRule) matchRequestType(requestType RequestType) (ok bool) {
	if f.permittedRequestTypes != 0 && f.permittedRequestTypes&requestType != requestType {
		return false
	}

	if f.restrictedRequestTypes != 0 && f.restrictedRequestTypes&requestType == requestType {
		return false
	}

	return true
}

// matchSourceDomain checks if the rule is allowed on the document domain,
// i.e. it checks the domain against the $domain modifier.  The restricted
// domains are checked first, so "~" takes precedence for a domain listed in
// both forms.
func (f *NetworkRule) matchSourceDomain(domain string) (ok bool) {
	if len(f.restrictedDomains) > 0 && ufnet.IsDomainOrSubdomainOfAny(domain, f.restrictedDomains) {
		return false
	}

	if len(f.permittedDomains) > 0 && !ufnet.IsDomainOrSubdomainOfAny(domain, f.permittedDomains) {
		return false
	}

	return true
}

// matchPattern uses the regex pattern to match the request URL.
func (f *NetworkRule) matchPattern(r *Request) (ok bool) {
	if f.matchesAll {
		return true
	}

	re := f.regex()

	return re != nil && re.MatchString(r.URL)
}

// compileRegexp converts the pattern to a regular expression.  A rule with a
// pattern that cannot be compiled never matches.
func (f *NetworkRule) compileRegexp() (re *regexp.Regexp) {
	pattern := patternToRegexp(f.pattern)
	if !f.IsOptionEnabled(OptionMatchCase) {
		pattern = "(?i)" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}

	return re
}

// setOptionEnabled enables or disables the specified option.
func (f *NetworkRule) setOptionEnabled(option NetworkRuleOption, enabled bool) {
	if enabled {
		f.enabledOptions |= option
		f.disabledOptions &^= option
	} else {
		f.disabledOptions |= option
		f.enabledOptions &^= option
	}
}

// setRequestType permits or forbids the specified request type.
func (f *NetworkRule) setRequestType(requestType RequestType, permitted bool) {
	if permitted {
		f.permittedRequestTypes |= requestType
	} else {
		f.restrictedRequestTypes |= requestType
	}
}

// loadOptions loads all the filtering rule options.  Problems are recorded
// as warnings.
func (f *NetworkRule) loadOptions(options string) {
	for _, option := range splitWithEscapeCharacter(options, ',', escapeCharacter) {
		name, value, hasValue := strings.Cut(option, "=")
		name = strings.ToLower(strings.TrimSpace(name))

		err := f.loadOption(name, value, hasValue)
		if err != nil {
			f.warnings = append(f.warnings, fmt.Errorf("option %q: %w", option, err))
		}
	}
}

// loadOption loads the specified option with its value.
func (f *NetworkRule) loadOption(name, value string, hasValue bool) (err error) {
	if name == "domain" {
		return f.loadDomainOption(value)
	}

	if hasValue {
		if f.isKnownFlag(name) {
			return fmt.Errorf("unexpected value %q: %w", value, ErrInvalidOption)
		}

		return ErrUnknownOption
	}

	switch name {
	case "third-party", "3p", "~first-party", "~1p":
		f.setOptionEnabled(OptionThirdParty, true)
	case "~third-party", "~3p", "first-party", "1p":
		f.setOptionEnabled(OptionThirdParty, false)
	case "match-case":
		f.setOptionEnabled(OptionMatchCase, true)
	case "~match-case":
		f.setOptionEnabled(OptionMatchCase, false)
	default:
		return f.loadRequestTypeOption(name)
	}

	return nil
}

// loadDomainOption loads the value of the $domain modifier.  An invalid value
// leaves the rule unconstrained by the document domain.
func (f *NetworkRule) loadDomainOption(value string) (err error) {
	permitted, restricted, err := loadDomains(value, "|")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	f.permittedDomains, f.restrictedDomains = permitted, restricted

	return nil
}

// loadRequestTypeOption loads a request type modifier like "script" or
// "~image".
func (f *NetworkRule) loadRequestTypeOption(name string) (err error) {
	typeName, restricted := strings.CutPrefix(name, "~")
	t, err := ParseRequestType(typeName)
	if err != nil {
		return ErrUnknownOption
	}

	f.setRequestType(t, !restricted)

	return nil
}

// isKnownFlag returns true if name is a known option which takes no value.
func (f *NetworkRule) isKnownFlag(name string) (ok bool) {
	name = strings.TrimPrefix(name, "~")
	switch name {
	case "third-party", "3p", "first-party", "1p", "match-case":
		return true
	default:
		_, err := ParseRequestType(name)

		return err == nil
	}
}
