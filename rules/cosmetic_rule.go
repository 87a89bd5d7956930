package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Cosmetic rule markers.
const (
	markerElementHiding          = "##"
	markerElementHidingException = "#@#"
)

// cosmeticRulesMarkers is the list of all the cosmetic markers known to the
// common list flavors, sorted by length in descending order so that the
// longest marker is found first.
var cosmeticRulesMarkers = []string{
	// HTML filtering.
	"$$", "$@$",
	// Script rules.
	"#%#", "#@%#",
	// Element hiding rules.
	markerElementHiding, markerElementHidingException,
	// CSS injection.
	"#$#", "#@$#",
	// ExtCSS hiding rules.
	"#?#", "#@?#",
	// ExtCSS injection rules.
	"#$?#", "#@$?#",
}

func init() {
	sort.SliceStable(cosmeticRulesMarkers, func(i, j int) bool {
		return len(cosmeticRulesMarkers[i]) > len(cosmeticRulesMarkers[j])
	})
}

// CosmeticRule is an element hiding rule, "example.org##.banner", or its
// exception, "example.org#@#.banner".  These rules are kept for the cosmetic
// layer of the browser and are never used to match requests.
type CosmeticRule struct {
	// RuleText is the original rule text.
	RuleText string

	// Selector is the CSS selector of the elements to hide.
	Selector string

	// permittedDomains are the domains the rule is limited to.
	permittedDomains []string

	// restrictedDomains are the domains the rule is disabled on.
	restrictedDomains []string

	// FilterListID is the identifier of the list the rule belongs to.
	FilterListID int

	// Whitelist is true for "#@#" exceptions.
	Whitelist bool
}

// NewCosmeticRule parses an element hiding rule.  marker is the cosmetic
// marker found in the text.
func NewCosmeticRule(ruleText, marker string, filterListID int) (r *CosmeticRule, err error) {
	if marker != markerElementHiding && marker != markerElementHidingException {
		return nil, fmt.Errorf("cosmetic marker %q: %w", marker, ErrUnsupportedRule)
	}

	idx := strings.Index(ruleText, marker)
	selector := strings.TrimSpace(ruleText[idx+len(marker):])
	if selector == "" {
		return nil, fmt.Errorf("empty element hiding selector in %q", ruleText)
	}

	r = &CosmeticRule{
		RuleText:     ruleText,
		Selector:     selector,
		FilterListID: filterListID,
		Whitelist:    marker == markerElementHidingException,
	}

	if domains := ruleText[:idx]; domains != "" {
		r.permittedDomains, r.restrictedDomains, err = loadDomains(domains, ",")
		if err != nil {
			return nil, fmt.Errorf("cosmetic rule domains: %w", err)
		}
	}

	return r, nil
}

// Text implements the [Rule] interface for *CosmeticRule.
func (r *CosmeticRule) Text() (s string) { return r.RuleText }

// GetFilterListID implements the [Rule] interface for *CosmeticRule.
func (r *CosmeticRule) GetFilterListID() (id int) { return r.FilterListID }

// Kind implements the [Rule] interface for *CosmeticRule.
func (r *CosmeticRule) Kind() (k Kind) { return KindCosmetic }

// isRule implements the [Rule] interface for *CosmeticRule.
func (r *CosmeticRule) isRule() {}

// PermittedDomains returns the domains the rule is limited to.
func (r *CosmeticRule) PermittedDomains() (domains []string) { return r.permittedDomains }

// RestrictedDomains returns the domains the rule is disabled on.
func (r *CosmeticRule) RestrictedDomains() (domains []string) { return r.restrictedDomains }

// findCosmeticMarker looks for a cosmetic rule marker in the rule text and
// returns the marker found or an empty string.
func findCosmeticMarker(ruleText string) (marker string) {
	for _, first := range []byte{'#', '$'} {
		start := strings.IndexByte(ruleText, first)
		if start == -1 {
			continue
		}

		for _, m := range cosmeticRulesMarkers {
			if strings.HasPrefix(ruleText[start:], m) {
				return m
			}
		}
	}

	return ""
}
