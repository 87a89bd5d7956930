package contentblock

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/otterbrowser/contentblock/filterlist"
)

// UpdateState is the stage of the update pipeline a profile is in.
type UpdateState uint8

// UpdateState values.
const (
	StateIdle UpdateState = iota
	StateChecking
	StateDownloading
	StateValidating
	StateApplying
	StateRejected
)

// String implements the [fmt.Stringer] interface for UpdateState.
func (s UpdateState) String() (str string) {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateDownloading:
		return "downloading"
	case StateValidating:
		return "validating"
	case StateApplying:
		return "applying"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("!bad_state_%d", s)
	}
}

// Status is the update status of a profile.
type Status struct {
	// ErrorTime is the time of the last error.  It is zero if LastError is
	// empty.
	ErrorTime time.Time

	// LastError is the text of the last error.  It is cleared by a
	// successful update.
	LastError string

	// State is the current update state.
	State UpdateState
}

// ProfileConfig is the configuration of a profile.
type ProfileConfig struct {
	// ID is the stable key of the profile.  It must not be empty.
	ID string

	// Title is the name of the profile shown to the user.  If empty, the title
	// from the list metadata is used.
	Title string

	// Source is the location of the list: a local path or a file, HTTP, or
	// HTTPS URL.
	Source string

	// Checksum is the optional published checksum of the list content, in
	// the "algorithm:hex" form.
	Checksum string

	// UpdateInterval is the period of automatic updates.  Zero disables them.
	UpdateInterval time.Duration

	// FollowExpires, if true, makes the "Expires" metadata of each applied
	// list override UpdateInterval.
	FollowExpires bool

	// Enabled tells if the rules of the profile are used.
	Enabled bool
}

// ListInfo is the information about a freshly compiled list.
type ListInfo struct {
	// UpdatedAt is the time of the update.
	UpdatedAt time.Time

	// Metadata is the metadata from the list header block.
	Metadata filterlist.Metadata

	// ContentHash is the hash of the raw list content.
	ContentHash string

	// ETag is the entity tag sent by the server.
	ETag string

	// LastModified is the value of the Last-Modified header sent by the
	// server.
	LastModified string

	// Diagnostics is the number of problematic lines.
	Diagnostics int

	// Malformed is the number of skipped lines.
	Malformed int
}

// Profile is a point-in-time copy of a profile for presentation.
type Profile struct {
	ProfileConfig

	// LastUpdate is the time of the last successful update.
	LastUpdate time.Time

	// LastCheck is the time of the last update attempt that didn't apply a new
	// list, either because the list was unchanged or because the attempt failed.
	LastCheck time.Time

	// Engine is the compiled engine.  It is never nil.
	Engine *NetworkEngine

	// Status is the update status.
	Status Status

	// Metadata is the metadata of the last applied list.
	Metadata filterlist.Metadata

	// ContentHash is the hash of the raw content of the last applied list.
	ContentHash string

	// ETag is the HTTP validator of the last applied list.
	ETag string

	// LastModified is the other HTTP validator of the last applied list.
	LastModified string

	// Diagnostics is the number of problematic lines in the last applied
	// list.
	Diagnostics int

	// Malformed is the number of skipped lines in the last applied list.
	Malformed int

	// AutoUpdate is false when the source is invalid.
	AutoUpdate bool
}

// DisplayTitle returns the configured title, the list title, or the ID, the
// first one that is not empty.
func (p *Profile) DisplayTitle() (title string) {
	switch {
	case p.Title != "":
		return p.Title
	case p.Metadata.Title != "":
		return p.Metadata.Title
	default:
		return p.ID
	}
}

// Due returns true if an automatic update of the profile is due at now.
func (p *Profile) Due(now time.Time) (ok bool) {
	if !p.AutoUpdate || p.UpdateInterval <= 0 {
		return false
	}

	last := p.LastUpdate
	if p.LastCheck.After(last) {
		last = p.LastCheck
	}

	return now.Sub(last) >= p.UpdateInterval
}

// ValidateSource returns an error wrapping [ErrInvalidUpdateURL] if src is not
// a valid list source.
func ValidateSource(src string) (err error) {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("%w: empty source", ErrInvalidUpdateURL)
	}

	if !strings.Contains(src, "://") {
		// A local path.
		return nil
	}

	u, err := url.Parse(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUpdateURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: no host in %q", ErrInvalidUpdateURL, src)
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("%w: no path in %q", ErrInvalidUpdateURL, src)
		}
	default:
		return fmt.Errorf("%w: bad scheme %q", ErrInvalidUpdateURL, u.Scheme)
	}

	return nil
}
