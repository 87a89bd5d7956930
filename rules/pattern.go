package rules

import (
	"fmt"
	"strings"
)

// Network rule pattern masks.
const (
	// MaskStartURL anchors the pattern at the start of a domain or any of its
	// subdomains.
	MaskStartURL = "||"

	// MaskPipe anchors the pattern at the start or at the end of the URL.
	MaskPipe = "|"

	// MaskSeparator matches a single separator character or the end of the
	// URL.
	MaskSeparator = "^"

	// MaskAnyCharacter matches zero or more characters.
	MaskAnyCharacter = "*"
)

// Regular expressions the masks are converted to.
const (
	RegexAnyCharacter = ".*"
	RegexSeparator    = "([^a-zA-Z0-9._%-]|$)"
	RegexStartURL     = `^(http|https|ws|wss)://([a-z0-9_.-]+\.)?`
	RegexStartString  = "^"
	RegexEndString    = "$"
)

const (
	maskWhiteList    = "@@"
	maskRegexRule    = "/"
	optionsDelimiter = '$'
	escapeCharacter  = '\\'
)

// specialCharacters are the characters escaped when a pattern literal is
// converted to a regular expression.
const specialCharacters = `.+?$(){}[]|/\`

// patternToRegexp converts a basic rule pattern to a regular expression.  It
// returns [RegexAnyCharacter] for the patterns that match every URL.
func patternToRegexp(pattern string) (re string) {
	switch pattern {
	case "", MaskStartURL, MaskPipe, MaskAnyCharacter:
		return RegexAnyCharacter
	}

	var sb strings.Builder
	rest := pattern
	if r, ok := strings.CutPrefix(rest, MaskStartURL); ok {
		sb.WriteString(RegexStartURL)
		rest = r
	} else if r, ok = strings.CutPrefix(rest, MaskPipe); ok {
		sb.WriteString(RegexStartString)
		rest = r
	}

	rest, anchoredEnd := strings.CutSuffix(rest, MaskPipe)
	for i := range len(rest) {
		switch c := rest[i]; c {
		case '*':
			sb.WriteString(RegexAnyCharacter)
		case '^':
			sb.WriteString(RegexSeparator)
		default:
			if strings.IndexByte(specialCharacters, c) != -1 {
				sb.WriteByte('\\')
			}

			sb.WriteByte(c)
		}
	}

	if anchoredEnd {
		sb.WriteString(RegexEndString)
	}

	return sb.String()
}

// findShortcut searches for the longest substring of the pattern that does not
// contain any of the special characters which are:
//
//	*
//	^
//	|
func findShortcut(pattern string) (shortcut string) {
	for pattern != "" {
		i := strings.IndexAny(pattern, "*^|")
		if i == -1 {
			if len(pattern) > len(shortcut) {
				return pattern
			}

			break
		}

		if i > len(shortcut) {
			shortcut = pattern[:i]
		}

		pattern = pattern[i+1:]
	}

	return shortcut
}

// parseRuleText splits the rule text in multiple parts:
//
//   - pattern is a basic rule pattern which can be converted into a regex;
//   - options is a string with all rule options;
//   - whitelist indicates if the rule is an exception.
//
// The options are separated by the last unescaped "$" which is not the last
// character of the text.
func parseRuleText(ruleText string) (pattern, options string, whitelist bool, err error) {
	startIndex := 0
	if strings.HasPrefix(ruleText, maskWhiteList) {
		whitelist = true
		startIndex = len(maskWhiteList)
	}

	if len(ruleText) <= startIndex {
		return "", "", false, fmt.Errorf("the rule is too short: %q", ruleText)
	}

	pattern = ruleText[startIndex:]

	foundEscaped := false
	for i := len(ruleText) - 2; i >= startIndex; i-- {
		if ruleText[i] != optionsDelimiter {
			continue
		}

		if i > startIndex && ruleText[i-1] == escapeCharacter {
			foundEscaped = true

			continue
		}

		pattern = ruleText[startIndex:i]
		options = ruleText[i+1:]
		if foundEscaped {
			options = strings.ReplaceAll(options, `\$`, "$")
		}

		break
	}

	return pattern, options, whitelist, nil
}

// isRegexpPattern returns true if pattern is a "/regexp/" pattern.
func isRegexpPattern(pattern string) (ok bool) {
	return len(pattern) > 1 &&
		strings.HasPrefix(pattern, maskRegexRule) &&
		strings.HasSuffix(pattern, maskRegexRule)
}
