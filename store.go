package contentblock

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
)

// CompiledProfile is an enabled profile in a [Snapshot].
type CompiledProfile struct {
	// Engine is the compiled engine of the profile.  It is never nil.
	Engine *NetworkEngine

	// ID is the ID of the profile.
	ID string
}

// Snapshot is a consistent point-in-time view of the enabled profiles.  It
// must not be modified.
type Snapshot struct {
	// Profiles are the enabled profiles in the order they were added.
	Profiles []*CompiledProfile

	// Version grows with every published snapshot.
	Version uint64
}

// ProfileStoreConfig is the configuration structure for a *ProfileStore.
type ProfileStoreConfig struct {
	// Logger is used to log the changes of the profiles.  It must not be nil.
	Logger *slog.Logger

	// Clock is used to get the error times.  It must not be nil.
	Clock timeutil.Clock
}

// ProfileStore keeps the profiles along with their compiled engines.  The
// enabled engines are published as an immutable [Snapshot] that readers get
// without locking.  All methods are safe for concurrent use.
type ProfileStore struct {
	logger   *slog.Logger
	clock    timeutil.Clock
	snapshot *atomic.Pointer[Snapshot]

	// mu protects profiles, nextHookID, and version.
	mu         *sync.Mutex
	profiles   []*storedProfile
	nextHookID uint64
	version    uint64
}

// storedProfile is a profile with its update cancellation hooks.
type storedProfile struct {
	cancels map[uint64]context.CancelFunc
	Profile
}

// NewProfileStore returns a new store without profiles.  c must not be nil.
func NewProfileStore(c *ProfileStoreConfig) (s *ProfileStore) {
	s = &ProfileStore{
		logger:   c.Logger,
		clock:    c.Clock,
		snapshot: &atomic.Pointer[Snapshot]{},
		mu:       &sync.Mutex{},
	}

	s.snapshot.Store(&Snapshot{})

	return s
}

// Snapshot returns the current snapshot of the enabled profiles.  It never
// blocks.
func (s *ProfileStore) Snapshot() (snap *Snapshot) {
	return s.snapshot.Load()
}

// AddProfile adds a profile with an empty engine.  A profile with an invalid
// source is still added, but its automatic updates are disabled and the error
// is recorded in its status.
func (s *ProfileStore) AddProfile(conf *ProfileConfig) (err error) {
	if conf.ID == "" {
		return ErrNoProfileID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(conf.ID) != nil {
		return fmt.Errorf("%w: %q", ErrProfileExists, conf.ID)
	}

	p := &storedProfile{
		cancels: map[uint64]context.CancelFunc{},
		Profile: Profile{
			ProfileConfig: *conf,
			Engine:        NewNetworkEngine(nil),
			AutoUpdate:    true,
		},
	}

	if err = ValidateSource(conf.Source); err != nil {
		p.AutoUpdate = false
		p.setError(err, s.clock)
		s.logger.Warn("profile source is invalid", "id", conf.ID, slogutil.KeyError, err)
	}

	s.profiles = append(s.profiles, p)
	s.publish()

	s.logger.Debug("profile added", "id", conf.ID, "enabled", conf.Enabled)

	return nil
}

// RemoveProfile removes the profile and cancels its in-flight updates.
func (s *ProfileStore) RemoveProfile(id string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.profiles, func(p *storedProfile) (ok bool) { return p.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, id)
	}

	s.profiles[i].cancelUpdates()
	s.profiles = slices.Delete(s.profiles, i, i+1)
	s.publish()

	s.logger.Debug("profile removed", "id", id)

	return nil
}

// SetEnabled enables or disables the profile.  Disabling cancels its
// in-flight updates but retains its engine, so enabling it again doesn't
// require a fetch.
func (s *ProfileStore) SetEnabled(id string, enabled bool) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, id)
	}

	if p.Enabled == enabled {
		return nil
	}

	p.Enabled = enabled
	if !enabled {
		p.cancelUpdates()
	}

	s.publish()

	return nil
}

// SetSource changes the source of the profile.  A valid source re-enables
// automatic updates and clears the error, while the HTTP validators of the
// old source are dropped.
func (s *ProfileStore) SetSource(id, src string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, id)
	}

	p.cancelUpdates()
	p.Source = src
	p.ETag, p.LastModified = "", ""

	if err = ValidateSource(src); err != nil {
		p.AutoUpdate = false
		p.setError(err, s.clock)

		return err
	}

	p.AutoUpdate = true
	p.clearError()

	return nil
}

// ReplaceCompiled atomically replaces the engine of the profile and records
// info.  If info.UpdatedAt is zero, the current time is used.  The error and
// the update state of the profile are reset.  If ctx is canceled, which
// happens when the profile is removed, disabled, or its source changes, the
// engine is not replaced and the context error is returned.
func (s *ProfileStore) ReplaceCompiled(
	ctx context.Context,
	id string,
	engine *NetworkEngine,
	info *ListInfo,
) (err error) {
	if engine == nil {
		return fmt.Errorf("profile %q: engine is nil", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.findActive(ctx, id)
	if err != nil {
		return err
	}

	p.Engine = engine
	p.LastUpdate = info.UpdatedAt
	if p.LastUpdate.IsZero() {
		p.LastUpdate = s.clock.Now()
	}

	p.Metadata = info.Metadata
	p.ContentHash = info.ContentHash
	p.ETag = info.ETag
	p.LastModified = info.LastModified
	p.Diagnostics = info.Diagnostics
	p.Malformed = info.Malformed
	if p.FollowExpires && info.Metadata.Expires > 0 {
		p.UpdateInterval = info.Metadata.Expires
	}

	p.Status.State = StateIdle
	p.clearError()

	if p.Enabled {
		s.publish()
	}

	s.logger.Debug(
		"profile engine replaced",
		"id", id,
		"rules", engine.RulesCount,
		"diagnostics", info.Diagnostics,
	)

	return nil
}

// MarkChecked records a check at the given time that found the list
// unchanged.  Non-empty validators replace the stored ones.  Like
// [ProfileStore.ReplaceCompiled], it does nothing if ctx is canceled.
func (s *ProfileStore) MarkChecked(ctx context.Context, id string, info *ListInfo) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.findActive(ctx, id)
	if err != nil {
		return err
	}

	p.LastCheck = info.UpdatedAt
	if p.LastCheck.IsZero() {
		p.LastCheck = s.clock.Now()
	}

	if info.ETag != "" {
		p.ETag = info.ETag
	}

	if info.LastModified != "" {
		p.LastModified = info.LastModified
	}

	p.Status.State = StateIdle
	p.clearError()

	return nil
}

// MarkFailed records a failed update attempt: updErr becomes the last error,
// state becomes the update state, and the attempt counts as a check, so the
// next automatic update waits for the full interval.  Like
// [ProfileStore.ReplaceCompiled], it does nothing if ctx is canceled.
func (s *ProfileStore) MarkFailed(
	ctx context.Context,
	id string,
	state UpdateState,
	updErr error,
) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.findActive(ctx, id)
	if err != nil {
		return err
	}

	p.setError(updErr, s.clock)
	p.LastCheck = p.Status.ErrorTime
	p.Status.State = state

	return nil
}

// SetState sets the update state of the profile.
func (s *ProfileStore) SetState(id string, state UpdateState) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, id)
	}

	p.Status.State = state

	return nil
}

// SetError records updErr as the last error of the profile.  A nil updErr
// clears it.
func (s *ProfileStore) SetError(id string, updErr error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, id)
	}

	if updErr == nil {
		p.clearError()
	} else {
		p.setError(updErr, s.clock)
	}

	return nil
}

// Profile returns a copy of the profile with the given ID.
func (s *ProfileStore) Profile(id string) (p *Profile, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp := s.find(id)
	if sp == nil {
		return nil, false
	}

	cp := sp.Profile

	return &cp, true
}

// Profiles returns copies of all profiles in the order they were added.
func (s *ProfileStore) Profiles() (ps []*Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps = make([]*Profile, 0, len(s.profiles))
	for _, sp := range s.profiles {
		cp := sp.Profile
		ps = append(ps, &cp)
	}

	return ps
}

// UpdateContext returns a context for an update of the profile that is
// canceled when the profile is removed, disabled, or its source changes, along
// with a copy of the profile taken at the same moment.  The caller must call
// release once the update is finished.
func (s *ProfileStore) UpdateContext(
	parent context.Context,
	id string,
) (ctx context.Context, prof *Profile, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrProfileNotFound, id)
	}

	ctx, cancel := context.WithCancel(parent)
	hookID := s.nextHookID
	s.nextHookID++
	p.cancels[hookID] = cancel

	release = func() {
		cancel()

		s.mu.Lock()
		defer s.mu.Unlock()

		delete(p.cancels, hookID)
	}

	cp := p.Profile

	return ctx, &cp, release, nil
}

// find returns the profile with the given id or nil.  s.mu must be locked.
func (s *ProfileStore) find(id string) (p *storedProfile) {
	for _, p = range s.profiles {
		if p.ID == id {
			return p
		}
	}

	return nil
}

// findActive returns the profile with the given id if the update with ctx
// hasn't been canceled.  s.mu must be locked.
func (s *ProfileStore) findActive(ctx context.Context, id string) (p *storedProfile, err error) {
	// The hooks are canceled under s.mu, so the check is consistent with the
	// changes of the profile.
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", id, err)
	}

	p = s.find(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, id)
	}

	return p, nil
}

// publish stores a new snapshot of the enabled profiles.  s.mu must be locked.
func (s *ProfileStore) publish() {
	s.version++
	snap := &Snapshot{
		Version: s.version,
	}

	for _, p := range s.profiles {
		if p.Enabled {
			snap.Profiles = append(snap.Profiles, &CompiledProfile{
				Engine: p.Engine,
				ID:     p.ID,
			})
		}
	}

	s.snapshot.Store(snap)
}

// cancelUpdates cancels all in-flight updates of the profile.
func (p *storedProfile) cancelUpdates() {
	for hookID, cancel := range p.cancels {
		cancel()
		delete(p.cancels, hookID)
	}
}

// setError records err with the current time of clock.
func (p *storedProfile) setError(err error, clock timeutil.Clock) {
	p.Status.LastError = err.Error()
	p.Status.ErrorTime = clock.Now()
}

// clearError resets the last error.
func (p *storedProfile) clearError() {
	p.Status.LastError = ""
	p.Status.ErrorTime = time.Time{}
}
