package lookup

import (
	"strings"

	"github.com/otterbrowser/contentblock/internal/fasthash"
	"github.com/otterbrowser/contentblock/internal/ufnet"
	"github.com/otterbrowser/contentblock/rules"
)

// DomainsTable is a lookup table that uses domains from the $domain modifier
// to speed up the rules search.  Only the rules with $domain modifier are
// eligible for this lookup table.  The rules with "example.*" domains are
// not, since their domains cannot be hashed.
type DomainsTable struct {
	// lookupTable is the domain lookup table.  Key is the domain name hash.
	lookupTable map[uint32][]*rules.NetworkRule

	// count is the number of rules in the table.
	count int
}

// type check
var _ Table = (*DomainsTable)(nil)

// NewDomainsTable creates a new instance of the DomainsTable.
func NewDomainsTable() (d *DomainsTable) {
	return &DomainsTable{
		lookupTable: map[uint32][]*rules.NetworkRule{},
	}
}

// TryAdd implements the [Table] interface for *DomainsTable.
func (d *DomainsTable) TryAdd(f *rules.NetworkRule) (ok bool) {
	permittedDomains := f.PermittedDomains()
	if len(permittedDomains) == 0 {
		return false
	}

	for _, domain := range permittedDomains {
		if strings.HasSuffix(domain, ".*") {
			return false
		}
	}

	for _, domain := range permittedDomains {
		hash := fasthash.String(domain)
		d.lookupTable[hash] = append(d.lookupTable[hash], f)
	}

	d.count++

	return true
}

// Match implements the [Table] interface for *DomainsTable.
func (d *DomainsTable) Match(r *rules.Request) (rule *rules.NetworkRule, checked int) {
	ufnet.Subdomains(r.SourceHostname, func(domain string) (cont bool) {
		for _, f := range d.lookupTable[fasthash.String(domain)] {
			checked++
			if f.Match(r) {
				rule = f

				return false
			}
		}

		return true
	})

	return rule, checked
}

// MatchAll implements the [Table] interface for *DomainsTable.
func (d *DomainsTable) MatchAll(r *rules.Request) (result []*rules.NetworkRule) {
	ufnet.Subdomains(r.SourceHostname, func(domain string) (cont bool) {
		for _, f := range d.lookupTable[fasthash.String(domain)] {
			if !ruleIn(f, result) && f.Match(r) {
				result = append(result, f)
			}
		}

		return true
	})

	return result
}

// Len implements the [Table] interface for *DomainsTable.
func (d *DomainsTable) Len() (n int) { return d.count }
