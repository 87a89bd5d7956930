// Package update contains the update pipeline of the profile lists: fetching,
// integrity verification, compilation, and the periodic scheduler.
package update

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/otterbrowser/contentblock"
	"github.com/otterbrowser/contentblock/filterlist"
	"github.com/otterbrowser/contentblock/internal/fasthash"
	"golang.org/x/sync/singleflight"
)

// DefaultCheckPeriod is the default period of checking which profiles are due
// for an update.
const DefaultCheckPeriod = 1 * time.Hour

// Config is the configuration structure for a *Scheduler.
type Config struct {
	// Logger is used to log the updates.  It must not be nil.
	Logger *slog.Logger

	// Store contains the profiles to update.  It must not be nil.
	Store *contentblock.ProfileStore

	// Fetcher retrieves the lists.  It must not be nil.
	Fetcher Fetcher

	// Clock is used to decide which profiles are due.  It must not be nil.
	Clock timeutil.Clock

	// Cache, if not nil, keeps the applied lists for the next start.
	Cache *Cache

	// CheckPeriod is the period of checking which profiles are due.  If
	// zero, [DefaultCheckPeriod] is used.
	CheckPeriod time.Duration
}

// Scheduler periodically updates the lists of the due profiles.  Updates of
// a single profile never run concurrently.
type Scheduler struct {
	logger      *slog.Logger
	store       *contentblock.ProfileStore
	fetcher     Fetcher
	clock       timeutil.Clock
	cache       *Cache
	group       *singleflight.Group
	checkPeriod time.Duration

	// mu protects cancel and done.
	mu     *sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// type check
var (
	_ service.Interface = (*Scheduler)(nil)
	_ service.Refresher = (*Scheduler)(nil)
)

// New returns a new properly initialized *Scheduler.  c must not be nil.
func New(c *Config) (s *Scheduler) {
	s = &Scheduler{
		logger:      c.Logger,
		store:       c.Store,
		fetcher:     c.Fetcher,
		clock:       c.Clock,
		cache:       c.Cache,
		group:       &singleflight.Group{},
		checkPeriod: c.CheckPeriod,
		mu:          &sync.Mutex{},
	}

	if s.checkPeriod <= 0 {
		s.checkPeriod = DefaultCheckPeriod
	}

	return s
}

// Start implements the [service.Interface] interface for *Scheduler.  It
// loads the cached lists and starts the periodic updates in a goroutine.
func (s *Scheduler) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return errors.Error("scheduler already started")
	}

	s.LoadCache(ctx)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)

	return nil
}

// Shutdown implements the [service.Interface] interface for *Scheduler.  It
// cancels the in-flight updates and waits for the loop to exit.
func (s *Scheduler) Shutdown(ctx context.Context) (err error) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler: %w", ctx.Err())
	}
}

// loop runs the due updates every check period until ctx is canceled.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer slogutil.RecoverAndLog(ctx, s.logger)

	ticker := time.NewTicker(s.checkPeriod)
	defer ticker.Stop()

	for {
		err := s.Refresh(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "refreshing profiles", slogutil.KeyError, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Go on.
		}
	}
}

// Refresh implements the [service.Refresher] interface for *Scheduler.  It
// updates every enabled profile that is due, concurrently, and returns the
// joined errors of the failed updates.
func (s *Scheduler) Refresh(ctx context.Context) (err error) {
	now := s.clock.Now()

	var (
		errsMu = &sync.Mutex{}
		errs   []error
		wg     = &sync.WaitGroup{}
	)

	for _, p := range s.store.Profiles() {
		if !p.Enabled || !p.Due(now) {
			continue
		}

		id := p.ID
		wg.Go(func() {
			defer slogutil.RecoverAndLog(ctx, s.logger)

			updErr := s.update(ctx, id)
			if updErr != nil && !errors.Is(updErr, context.Canceled) {
				errsMu.Lock()
				defer errsMu.Unlock()

				errs = append(errs, fmt.Errorf("profile %q: %w", id, updErr))
			}
		})
	}

	wg.Wait()

	return errors.Join(errs...)
}

// UpdateNow updates the profile regardless of whether it is due.  If an
// update of the profile is already in flight, UpdateNow waits for it and
// returns its result.
func (s *Scheduler) UpdateNow(ctx context.Context, id string) (err error) {
	return s.update(ctx, id)
}

// RemoveProfile removes the profile from the store, which cancels its
// in-flight updates, and deletes its cached list, so that a profile added
// later with the same ID doesn't start with the stale content.
func (s *Scheduler) RemoveProfile(id string) (err error) {
	err = s.store.RemoveProfile(id)
	if err != nil {
		return err
	}

	if s.cache == nil {
		return nil
	}

	return s.cache.Remove(id)
}

// update runs an update of the profile coalescing concurrent calls.
func (s *Scheduler) update(ctx context.Context, id string) (err error) {
	_, err, _ = s.group.Do(id, func() (_ any, updErr error) {
		return nil, s.runUpdate(ctx, id)
	})

	return err
}

// runUpdate performs the whole update pipeline for the profile.
func (s *Scheduler) runUpdate(parent context.Context, id string) (err error) {
	// The profile is read along with registering the context, so that any
	// later change of it cancels this update.
	ctx, p, release, err := s.store.UpdateContext(parent, id)
	if err != nil {
		return err
	}
	defer release()

	l := s.logger.With("id", id)

	s.setState(id, contentblock.StateChecking)
	err = contentblock.ValidateSource(p.Source)
	if err != nil {
		return s.fail(ctx, l, id, contentblock.StateIdle, err)
	}

	s.setState(id, contentblock.StateDownloading)
	res, err := s.fetcher.Fetch(ctx, &FetchRequest{
		Source:       p.Source,
		ETag:         p.ETag,
		LastModified: p.LastModified,
	})
	if err != nil {
		return s.fail(ctx, l, id, contentblock.StateIdle, err)
	}

	if res.NotModified {
		l.DebugContext(ctx, "list not modified")

		return s.markChecked(ctx, id, res)
	}

	s.setState(id, contentblock.StateValidating)
	err = Verify(res.Data, p.Checksum)
	if err != nil {
		return s.fail(ctx, l, id, contentblock.StateRejected, err)
	}

	hash := ContentHash(res.Data)
	if hash == p.ContentHash {
		l.DebugContext(ctx, "list content unchanged")

		return s.markChecked(ctx, id, res)
	}

	s.setState(id, contentblock.StateApplying)
	list, err := filterlist.Parse(bytes.NewReader(res.Data), listID(id))
	if err != nil {
		return s.fail(ctx, l, id, contentblock.StateRejected, err)
	}

	engine := contentblock.NewNetworkEngineFromList(list)
	err = s.store.ReplaceCompiled(ctx, id, engine, &contentblock.ListInfo{
		UpdatedAt:    s.clock.Now(),
		Metadata:     list.Metadata,
		ContentHash:  hash,
		ETag:         res.ETag,
		LastModified: res.LastModified,
		Diagnostics:  len(list.Diagnostics),
		Malformed:    list.Malformed(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return s.fail(ctx, l, id, contentblock.StateIdle, err)
		}

		return fmt.Errorf("replacing engine: %w", err)
	}

	l.InfoContext(
		ctx,
		"list updated",
		"rules", engine.RulesCount,
		"exceptions", engine.ExceptionsCount,
		"malformed", list.Malformed(),
	)

	s.storeCache(ctx, l, id, res.Data)

	return nil
}

// markChecked records a check that found no changes.
func (s *Scheduler) markChecked(ctx context.Context, id string, res *FetchResult) (err error) {
	return s.store.MarkChecked(ctx, id, &contentblock.ListInfo{
		UpdatedAt:    s.clock.Now(),
		ETag:         res.ETag,
		LastModified: res.LastModified,
	})
}

// fail records the failed attempt on the profile and sets its state, so that
// the next automatic attempt waits for the full update interval.  A canceled
// update leaves the status untouched except for the state, which is reset.
func (s *Scheduler) fail(
	ctx context.Context,
	l *slog.Logger,
	id string,
	state contentblock.UpdateState,
	err error,
) (res error) {
	if errors.Is(err, context.Canceled) {
		l.DebugContext(ctx, "update canceled")
		s.setState(id, contentblock.StateIdle)

		return err
	}

	l.WarnContext(ctx, "update failed", "state", state, slogutil.KeyError, err)

	markErr := s.store.MarkFailed(ctx, id, state, err)
	if markErr != nil {
		// The profile has been removed or changed while updating.
		l.DebugContext(ctx, "not recording failure", slogutil.KeyError, markErr)
		s.setState(id, contentblock.StateIdle)
	}

	return err
}

// setState sets the state of the profile, ignoring removed profiles.
func (s *Scheduler) setState(id string, state contentblock.UpdateState) {
	_ = s.store.SetState(id, state)
}

// storeCache saves the applied content, if the cache is configured.
func (s *Scheduler) storeCache(ctx context.Context, l *slog.Logger, id string, data []byte) {
	if s.cache == nil {
		return
	}

	err := s.cache.Store(id, data)
	if err != nil {
		l.WarnContext(ctx, "caching list", slogutil.KeyError, err)
	}
}

// LoadCache compiles the cached lists of the profiles that have never been
// updated.  The time the list was cached is used as the update time, so the
// profiles whose cached lists are fresh aren't fetched on start.
func (s *Scheduler) LoadCache(ctx context.Context) {
	if s.cache == nil {
		return
	}

	for _, p := range s.store.Profiles() {
		if !p.LastUpdate.IsZero() {
			continue
		}

		l := s.logger.With("id", p.ID)
		data, storedAt, err := s.cache.Load(p.ID)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				l.WarnContext(ctx, "loading cached list", slogutil.KeyError, err)
			}

			continue
		}

		list, err := filterlist.Parse(bytes.NewReader(data), listID(p.ID))
		if err != nil {
			l.WarnContext(ctx, "parsing cached list", slogutil.KeyError, err)

			continue
		}

		err = s.store.ReplaceCompiled(ctx, p.ID, contentblock.NewNetworkEngineFromList(list), &contentblock.ListInfo{
			UpdatedAt:   storedAt,
			Metadata:    list.Metadata,
			ContentHash: ContentHash(data),
			Diagnostics: len(list.Diagnostics),
			Malformed:   list.Malformed(),
		})
		if err != nil {
			l.WarnContext(ctx, "applying cached list", slogutil.KeyError, err)

			continue
		}

		l.DebugContext(ctx, "loaded cached list", "stored_at", storedAt)
	}
}

// listID returns the numeric list ID used in the rules of the profile.
func listID(profileID string) (id int) {
	return int(fasthash.String(profileID))
}
