package update_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/otterbrowser/contentblock"
	"github.com/otterbrowser/contentblock/update"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 2 * time.Second

// testProfileID is the common profile ID for tests.
const testProfileID = "main"

// testList is a valid list without a checksum.
const testList = "[Adblock Plus 2.0]\n" +
	"! Title: Test list\n" +
	"! Expires: 4 days\n" +
	"||ads.example.com^\n" +
	"@@||ads.example.com/ok.js^\n" +
	"example.com##.banner\n"

// testListOther is another valid list.
const testListOther = "[Adblock Plus 2.0]\n" +
	"! Title: Test list\n" +
	"||tracker.example^\n"

// testNow is the initial time of the test clocks.
var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// testClock is a [timeutil.Clock] for tests that can be moved forward.
type testClock struct {
	mu  *sync.Mutex
	now time.Time
}

// type check
var _ timeutil.Clock = (*testClock)(nil)

// newTestClock returns a clock set to testNow.
func newTestClock() (c *testClock) {
	return &testClock{
		mu:  &sync.Mutex{},
		now: testNow,
	}
}

// Now implements the [timeutil.Clock] interface for *testClock.
func (c *testClock) Now() (now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// add moves the clock forward by d.
func (c *testClock) add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// fetchFunc is a [update.Fetcher] for tests.
type fetchFunc func(ctx context.Context, req *update.FetchRequest) (res *update.FetchResult, err error)

// type check
var _ update.Fetcher = fetchFunc(nil)

// Fetch implements the [update.Fetcher] interface for fetchFunc.
func (f fetchFunc) Fetch(
	ctx context.Context,
	req *update.FetchRequest,
) (res *update.FetchResult, err error) {
	return f(ctx, req)
}

// newTestStore returns a store with a single enabled profile with the given
// source and published checksum.
func newTestStore(
	tb testing.TB,
	clock timeutil.Clock,
	src string,
	checksum string,
) (s *contentblock.ProfileStore) {
	tb.Helper()

	s = contentblock.NewProfileStore(&contentblock.ProfileStoreConfig{
		Logger: slogutil.NewDiscardLogger(),
		Clock:  clock,
	})

	err := s.AddProfile(&contentblock.ProfileConfig{
		ID:             testProfileID,
		Source:         src,
		Checksum:       checksum,
		UpdateInterval: 4 * timeutil.Day,
		Enabled:        true,
	})
	require.NoError(tb, err)

	return s
}

// newTestScheduler returns a scheduler over s.
func newTestScheduler(
	s *contentblock.ProfileStore,
	f update.Fetcher,
	clock timeutil.Clock,
	cache *update.Cache,
) (sched *update.Scheduler) {
	return update.New(&update.Config{
		Logger:  slogutil.NewDiscardLogger(),
		Store:   s,
		Fetcher: f,
		Clock:   clock,
		Cache:   cache,
	})
}

// requireProfile is a helper that returns the profile with testProfileID.
func requireProfile(tb testing.TB, s *contentblock.ProfileStore) (p *contentblock.Profile) {
	tb.Helper()

	p, ok := s.Profile(testProfileID)
	require.True(tb, ok)

	return p
}
