package update

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/otterbrowser/contentblock/filterlist"
	"lukechampine.com/blake3"
)

// ErrChecksumMismatch is wrapped by *ChecksumError.
const ErrChecksumMismatch errors.Error = "checksum mismatch"

// HashAlgo is the algorithm of a published checksum.
type HashAlgo string

// Supported published checksum algorithms.
const (
	HashAlgoBLAKE3 HashAlgo = "blake3"
	HashAlgoSHA256 HashAlgo = "sha256"
)

// ChecksumKind tells which checksum failed.
type ChecksumKind string

// ChecksumKind values.
const (
	// ChecksumEmbedded is the "! Checksum:" line of the list.
	ChecksumEmbedded ChecksumKind = "embedded"

	// ChecksumPublished is the checksum from the profile configuration.
	ChecksumPublished ChecksumKind = "published"
)

// ChecksumError is returned when the content of a list doesn't match its
// checksum.
type ChecksumError struct {
	// Kind is the kind of the failed checksum.
	Kind ChecksumKind

	// Want is the declared checksum.
	Want string

	// Got is the computed checksum.
	Got string
}

// type check
var _ error = (*ChecksumError)(nil)

// Error implements the error interface for *ChecksumError.
func (err *ChecksumError) Error() (msg string) {
	return fmt.Sprintf("%s %s: want %q, got %q", err.Kind, ErrChecksumMismatch, err.Want, err.Got)
}

// Unwrap implements the [errors.Wrapper] interface for *ChecksumError.
func (err *ChecksumError) Unwrap() (unwrapped error) {
	return ErrChecksumMismatch
}

// ContentHash returns the hex-encoded BLAKE3 hash of data.  It is used to skip
// recompiling unchanged lists.
func ContentHash(data []byte) (h string) {
	sum := blake3.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// ParsePublishedChecksum splits a published checksum of the "algo:hex" form.
func ParsePublishedChecksum(s string) (algo HashAlgo, sum string, err error) {
	algoStr, sum, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("checksum %q: no algorithm", s)
	}

	algo = HashAlgo(strings.ToLower(algoStr))
	switch algo {
	case HashAlgoBLAKE3, HashAlgoSHA256:
		// Go on.
	default:
		return "", "", fmt.Errorf("checksum %q: unsupported algorithm %q", s, algoStr)
	}

	sum = strings.ToLower(sum)
	b, err := hex.DecodeString(sum)
	if err != nil {
		return "", "", fmt.Errorf("checksum %q: %w", s, err)
	} else if len(b) != 32 {
		return "", "", fmt.Errorf("checksum %q: bad length %d", s, len(b))
	}

	return algo, sum, nil
}

// HashBytes returns the hex-encoded hash of data using algo.
func HashBytes(data []byte, algo HashAlgo) (h string, err error) {
	switch algo {
	case HashAlgoBLAKE3:
		return ContentHash(data), nil
	case HashAlgoSHA256:
		sum := sha256.Sum256(data)

		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %q", algo)
	}
}

// Verify checks the embedded checksum of data, if there is one, and the
// published checksum, if it is not empty.  The returned error wraps
// [ErrChecksumMismatch] if any of them doesn't match.
func Verify(data []byte, published string) (err error) {
	if declared, computed := filterlist.VerifyChecksum(data); declared != "" && declared != computed {
		return &ChecksumError{
			Kind: ChecksumEmbedded,
			Want: declared,
			Got:  computed,
		}
	}

	if published == "" {
		return nil
	}

	algo, want, err := ParsePublishedChecksum(published)
	if err != nil {
		return fmt.Errorf("published checksum: %w", err)
	}

	got, err := HashBytes(data, algo)
	if err != nil {
		// Must not happen, since the algorithm has been validated.
		panic(err)
	}

	if got != want {
		return &ChecksumError{
			Kind: ChecksumPublished,
			Want: published,
			Got:  string(algo) + ":" + got,
		}
	}

	return nil
}
