package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/otterbrowser/contentblock/internal/ufnet"
)

// splitWithEscapeCharacter splits str by sep if it is not escaped with esc.
// Empty tokens are dropped.
func splitWithEscapeCharacter(str string, sep, esc byte) (parts []string) {
	if str == "" {
		return nil
	}

	var sb strings.Builder
	escaped := false
	for i := range len(str) {
		c := str[i]

		switch {
		case c == esc:
			if escaped {
				sb.WriteByte(esc)
			}

			escaped = !escaped
		case c == sep && escaped:
			sb.WriteByte(c)
			escaped = false
		case c == sep:
			if sb.Len() > 0 {
				parts = append(parts, sb.String())
				sb.Reset()
			}
		default:
			if escaped {
				sb.WriteByte(esc)
				escaped = false
			}

			sb.WriteByte(c)
		}
	}

	if escaped {
		sb.WriteByte(esc)
	}

	if sb.Len() > 0 {
		parts = append(parts, sb.String())
	}

	return parts
}

// loadDomains loads the domains of a $domain option or of a cosmetic rule.
// sep is the separator character: "|" for network rules, "," for cosmetic
// ones.  The results are lowercased and sorted.
func loadDomains(domains, sep string) (permitted, restricted []string, err error) {
	if domains == "" {
		return nil, nil, fmt.Errorf("no domains specified")
	}

	for _, d := range strings.Split(domains, sep) {
		d = strings.ToLower(strings.TrimSpace(d))

		isRestricted := false
		if d, isRestricted = strings.CutPrefix(d, "~"); isRestricted {
			d = strings.TrimSpace(d)
		}

		if !ufnet.IsDomainName(d) && !isWildcardTLDDomain(d) {
			return nil, nil, fmt.Errorf("invalid domain %q", d)
		}

		if isRestricted {
			restricted = append(restricted, d)
		} else {
			permitted = append(permitted, d)
		}
	}

	slices.Sort(permitted)
	slices.Sort(restricted)

	return slices.Compact(permitted), slices.Compact(restricted), nil
}

// isWildcardTLDDomain returns true for domains like "example.*".
func isWildcardTLDDomain(d string) (ok bool) {
	name, ok := strings.CutSuffix(d, ".*")

	return ok && ufnet.IsDomainName(name)
}
