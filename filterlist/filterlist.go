// Package filterlist parses whole filter lists: the header block with its
// metadata, the rules, and the diagnostics for the lines that could not be
// parsed.
package filterlist

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/otterbrowser/contentblock/rules"
)

const (
	// ErrInvalidHeader is returned by [Parse] if the list doesn't start with
	// a recognized header marker, like "[Adblock Plus 2.0]".
	ErrInvalidHeader errors.Error = "invalid filter list header"

	// ErrMalformedLine is wrapped by the errors of the diagnostics for lines
	// that were skipped.
	ErrMalformedLine errors.Error = "malformed line"
)

// headerRe matches the header marker of the supported list flavors.
var headerRe = regexp.MustCompile(
	`(?i)^\[\s*(adblock(?:\s+plus)?|adguard|ublock(?:\s+origin)?)(?:\s+(\d+(?:\.\d+)*))?\s*\]$`,
)

// Header is the header marker of a list.
type Header struct {
	// Flavor is the list flavor as written in the marker, e.g. "Adblock
	// Plus".
	Flavor string

	// Version is the optional flavor version, e.g. "2.0".
	Version string
}

// parseHeader parses the header marker line.
func parseHeader(line string) (h Header, ok bool) {
	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		return Header{}, false
	}

	return Header{
		Flavor:  m[1],
		Version: m[2],
	}, true
}

// Metadata are the fields of the "! Key: value" comments of the header block.
type Metadata struct {
	// Title is the human-readable name of the list.
	Title string

	// Homepage is the URL of the list's home page.
	Homepage string

	// Version is the version of the list contents.
	Version string

	// Checksum is the checksum declared by the list, see [VerifyChecksum].
	Checksum string

	// Expires is the update interval suggested by the list, in whole days.
	// It is zero if the list doesn't declare one.
	Expires time.Duration
}

// expiresRe matches the values of the "! Expires:" metadata field.
var expiresRe = regexp.MustCompile(`(?i)^(\d+)\s*(days?|d|hours?|h)\b`)

// ParseExpires parses the value of the "! Expires:" field, e.g. "4 days
// (update frequency)".  Hours are rounded up to whole days.
func ParseExpires(s string) (d time.Duration, err error) {
	m := expiresRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("bad expires value %q", s)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("bad expires number: %w", err)
	} else if n <= 0 {
		return 0, fmt.Errorf("expires value must be positive, got %d", n)
	}

	if unit := strings.ToLower(m[2]); unit[0] == 'h' {
		n = (n + 23) / 24
	}

	return time.Duration(n) * timeutil.Day, nil
}

// Diagnostic is a problem with a single line of a list.  Err wraps
// [ErrMalformedLine] if the line was skipped, otherwise the line was parsed
// with some of its parts ignored.
type Diagnostic struct {
	// Err is the problem.
	Err error

	// Text is the text of the line.
	Text string

	// Line is the 1-based line number.
	Line int
}

// type check
var _ error = (*Diagnostic)(nil)

// Error implements the error interface for *Diagnostic.
func (d *Diagnostic) Error() (msg string) {
	return fmt.Sprintf("line %d: %s", d.Line, d.Err)
}

// Unwrap implements the [errors.Wrapper] interface for *Diagnostic.
func (d *Diagnostic) Unwrap() (err error) {
	return d.Err
}

// Malformed returns true if the line was skipped.
func (d *Diagnostic) Malformed() (ok bool) {
	return errors.Is(d.Err, ErrMalformedLine)
}

// List is a parsed filter list.
type List struct {
	// Header is the header marker of the list.
	Header Header

	// Rules are the network and cosmetic rules of the list in the order of
	// their lines.
	Rules []rules.Rule

	// Diagnostics are the problems found in the list.
	Diagnostics []*Diagnostic

	// Metadata is populated from the header block.
	Metadata Metadata

	// ID is the identifier of the list passed to the rules.
	ID int

	// Lines is the total number of lines read.
	Lines int
}

// Count returns the number of rules of the given kind.
func (l *List) Count(k rules.Kind) (n int) {
	for _, r := range l.Rules {
		if r.Kind() == k {
			n++
		}
	}

	return n
}

// Malformed returns the number of skipped lines.
func (l *List) Malformed() (n int) {
	for _, d := range l.Diagnostics {
		if d.Malformed() {
			n++
		}
	}

	return n
}
