package contentblock

import "github.com/AdguardTeam/golibs/errors"

const (
	// ErrInvalidUpdateURL is returned and recorded on a profile when its
	// source is empty or is neither a local path nor a file, HTTP, or HTTPS
	// URL.
	ErrInvalidUpdateURL errors.Error = "invalid update url"

	// ErrProfileNotFound is returned when there is no profile with the given
	// ID.
	ErrProfileNotFound errors.Error = "profile not found"

	// ErrProfileExists is returned when adding a profile with an ID that is
	// already used.
	ErrProfileExists errors.Error = "profile already exists"

	// ErrNoProfileID is returned when adding a profile with an empty ID.
	ErrNoProfileID errors.Error = "no profile id"
)
