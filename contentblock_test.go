package contentblock_test

import (
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/otterbrowser/contentblock"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testNow is the initial time of the test clocks.
var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// testClock is a [timeutil.Clock] for tests that always returns the same
// time.
type testClock struct {
	now time.Time
}

// type check
var _ timeutil.Clock = (*testClock)(nil)

// newTestClock returns a clock set to testNow.
func newTestClock() (c *testClock) {
	return &testClock{
		now: testNow,
	}
}

// Now implements the [timeutil.Clock] interface for *testClock.
func (c *testClock) Now() (now time.Time) {
	return c.now
}

// newTestStore returns a store for tests with the given clock.
func newTestStore(clock timeutil.Clock) (s *contentblock.ProfileStore) {
	return contentblock.NewProfileStore(&contentblock.ProfileStoreConfig{
		Logger: slogutil.NewDiscardLogger(),
		Clock:  clock,
	})
}
