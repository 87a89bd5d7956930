package rules

import (
	"strings"
)

// MetadataKey is a recognized "! Key: value" comment key.
type MetadataKey string

// MetadataKey values.
const (
	MetadataTitle    MetadataKey = "Title"
	MetadataExpires  MetadataKey = "Expires"
	MetadataChecksum MetadataKey = "Checksum"
	MetadataHomepage MetadataKey = "Homepage"
	MetadataVersion  MetadataKey = "Version"
)

// metadataKeys are the recognized keys in their lowercase form.
var metadataKeys = map[string]MetadataKey{
	"title":    MetadataTitle,
	"expires":  MetadataExpires,
	"checksum": MetadataChecksum,
	"homepage": MetadataHomepage,
	"version":  MetadataVersion,
}

// MetadataRule is a comment line carrying a filter list metadata field, like
// "! Title: EasyList".  Whether it is applied to the list depends on its
// position, see package filterlist.
type MetadataRule struct {
	// RuleText is the original rule text.
	RuleText string

	// Key is the recognized metadata key.
	Key MetadataKey

	// Value is the trimmed value.
	Value string

	// FilterListID is the identifier of the list the rule belongs to.
	FilterListID int
}

// NewMetadataRule parses a comment line.  It returns nil if the line is not
// a recognized metadata comment.
func NewMetadataRule(line string, filterListID int) (r *MetadataRule) {
	body, ok := strings.CutPrefix(line, "!")
	if !ok {
		return nil
	}

	key, value, ok := strings.Cut(body, ":")
	if !ok {
		return nil
	}

	mk, ok := metadataKeys[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil
	}

	return &MetadataRule{
		RuleText:     line,
		Key:          mk,
		Value:        strings.TrimSpace(value),
		FilterListID: filterListID,
	}
}

// Text implements the [Rule] interface for *MetadataRule.
func (r *MetadataRule) Text() (s string) { return r.RuleText }

// GetFilterListID implements the [Rule] interface for *MetadataRule.
func (r *MetadataRule) GetFilterListID() (id int) { return r.FilterListID }

// Kind implements the [Rule] interface for *MetadataRule.
func (r *MetadataRule) Kind() (k Kind) { return KindMetadata }

// isRule implements the [Rule] interface for *MetadataRule.
func (r *MetadataRule) isRule() {}
