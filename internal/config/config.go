// Package config contains the YAML configuration of the content blocker.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/otterbrowser/contentblock"
	"github.com/otterbrowser/contentblock/internal/ufnet"
	"github.com/otterbrowser/contentblock/update"
	"gopkg.in/yaml.v3"
)

// DefaultUpdateInterval is the update interval of the profiles that don't
// set one.  The interval of such profiles follows the Expires field of their
// lists.
const DefaultUpdateInterval = 4 * timeutil.Day

// Config is the configuration file structure.
type Config struct {
	// UserExceptions are the user-defined domain lists.
	UserExceptions *UserExceptions `yaml:"user_exceptions"`

	// CacheDir is the directory of the cached lists.  If empty, the lists
	// aren't cached.
	CacheDir string `yaml:"cache_dir"`

	// Profiles are the filter profiles in the order of precedence.
	Profiles []*Profile `yaml:"profiles"`

	// CheckPeriod is the period of checking which profiles are due for an
	// update.
	CheckPeriod time.Duration `yaml:"check_period"`

	// FetchTimeout is the timeout of a single list download.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// MaxListSize is the maximum size of a downloaded list, in bytes.
	MaxListSize int64 `yaml:"max_list_size"`

	// Enabled is the global switch of content blocking.
	Enabled bool `yaml:"enabled"`
}

// UserExceptions are the domain lists that take precedence over the filter
// rules.
type UserExceptions struct {
	// AlwaysAccept are the sites on which nothing is blocked.
	AlwaysAccept []string `yaml:"always_accept"`

	// AlwaysReject are the domains to which all requests are blocked.
	AlwaysReject []string `yaml:"always_reject"`
}

// Profile is the configuration of a single filter profile.
type Profile struct {
	// UpdateInterval is the interval of automatic updates.  If nil,
	// [DefaultUpdateInterval] is used and the interval follows the list.
	UpdateInterval *Interval `yaml:"update_interval"`

	// ID is the stable identifier of the profile.
	ID string `yaml:"id"`

	// Title is the title shown instead of the list title, if set.
	Title string `yaml:"title"`

	// Source is the URL or the local path of the list.
	Source string `yaml:"source"`

	// Checksum is the published checksum of the list, for example
	// "sha256:<hex>".
	Checksum string `yaml:"checksum"`

	// Enabled is true if the profile takes part in filtering.  It is true
	// unless set explicitly.
	Enabled bool `yaml:"enabled"`
}

// UnmarshalYAML implements the [yaml.Unmarshaler] interface for *Profile.
func (p *Profile) UnmarshalYAML(n *yaml.Node) (err error) {
	type plain Profile
	pp := &plain{
		Enabled: true,
	}

	err = n.Decode(pp)
	if err != nil {
		return err
	}

	*p = Profile(*pp)

	return nil
}

// ProfileConfig converts p into a profile configuration for the store.
func (p *Profile) ProfileConfig() (conf *contentblock.ProfileConfig) {
	conf = &contentblock.ProfileConfig{
		ID:             p.ID,
		Title:          p.Title,
		Source:         p.Source,
		Checksum:       p.Checksum,
		UpdateInterval: DefaultUpdateInterval,
		FollowExpires:  true,
		Enabled:        p.Enabled,
	}

	if p.UpdateInterval != nil {
		conf.UpdateInterval = p.UpdateInterval.Duration()
		conf.FollowExpires = false
	}

	return conf
}

// Interval is an update interval in whole days.  Zero means that the profile
// is never updated automatically.
type Interval uint

// intervalNever is the text form of a zero [Interval].
const intervalNever = "never"

// type check
var (
	_ yaml.Unmarshaler = (*Interval)(nil)
	_ yaml.Marshaler   = Interval(0)
)

// UnmarshalYAML implements the [yaml.Unmarshaler] interface for *Interval.
// It accepts a number of days or "never".
func (i *Interval) UnmarshalYAML(n *yaml.Node) (err error) {
	if n.Kind == yaml.ScalarNode && strings.EqualFold(n.Value, intervalNever) {
		*i = 0

		return nil
	}

	var days int
	err = n.Decode(&days)
	if err != nil {
		return fmt.Errorf("update interval: want number of days or %q, got %q", intervalNever, n.Value)
	}

	if days < 0 {
		return fmt.Errorf("update interval: negative value %d", days)
	}

	*i = Interval(days)

	return nil
}

// MarshalYAML implements the [yaml.Marshaler] interface for Interval.
func (i Interval) MarshalYAML() (v any, err error) {
	if i == 0 {
		return intervalNever, nil
	}

	return uint(i), nil
}

// Duration returns the interval as a duration.
func (i Interval) Duration() (d time.Duration) {
	return time.Duration(i) * timeutil.Day
}

// Default returns the default configuration without profiles.
func Default() (c *Config) {
	return &Config{
		UserExceptions: &UserExceptions{},
		CheckPeriod:    update.DefaultCheckPeriod,
		FetchTimeout:   update.DefaultFetchTimeout,
		MaxListSize:    update.DefaultMaxSize,
		Enabled:        true,
	}
}

// Load reads and validates the configuration file at path.  The absent fields
// have the values of [Default].
func Load(path string) (c *Config, err error) {
	// #nosec G304 -- The path is provided by the user.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates the configuration from data.  Unknown fields
// are errors.
func Parse(data []byte) (c *Config, err error) {
	c = Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err = dec.Decode(c)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if c.UserExceptions == nil {
		c.UserExceptions = &UserExceptions{}
	}

	err = c.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return c, nil
}

// Validate returns the joined problems of c.  Invalid sources aren't
// reported, since a profile with an invalid source only has its automatic
// updates disabled.
func (c *Config) Validate() (err error) {
	var errs []error

	if c.CheckPeriod <= 0 {
		errs = append(errs, fmt.Errorf("check_period: must be positive, got %s", c.CheckPeriod))
	}

	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch_timeout: must be positive, got %s", c.FetchTimeout))
	}

	if c.MaxListSize <= 0 {
		errs = append(errs, fmt.Errorf("max_list_size: must be positive, got %d", c.MaxListSize))
	}

	errs = append(errs, validateDomains("always_accept", c.UserExceptions.AlwaysAccept)...)
	errs = append(errs, validateDomains("always_reject", c.UserExceptions.AlwaysReject)...)

	ids := container.NewMapSet[string]()
	for i, p := range c.Profiles {
		switch {
		case p == nil:
			errs = append(errs, fmt.Errorf("profiles: at index %d: empty profile", i))
		case p.ID == "":
			errs = append(errs, fmt.Errorf("profiles: at index %d: %w", i, contentblock.ErrNoProfileID))
		case ids.Has(p.ID):
			errs = append(errs, fmt.Errorf("profiles: at index %d: duplicate id %q", i, p.ID))
		default:
			ids.Add(p.ID)
		}
	}

	return errors.Join(errs...)
}

// validateDomains returns the errors for the invalid domains.
func validateDomains(field string, domains []string) (errs []error) {
	for i, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if !ufnet.IsDomainName(d) {
			errs = append(errs, fmt.Errorf("%s: at index %d: bad domain %q", field, i, d))
		}
	}

	return errs
}
