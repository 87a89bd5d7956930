package update_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/otterbrowser/contentblock"
	"github.com/otterbrowser/contentblock/filterlist"
	"github.com/otterbrowser/contentblock/rules"
	"github.com/otterbrowser/contentblock/update"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchServer is a list server whose content can be changed.
type switchServer struct {
	*httptest.Server

	mu       *sync.Mutex
	body     string
	etag     string
	requests *atomic.Int64
}

// newSwitchServer returns a server serving body with the entity tag etag.
func newSwitchServer(tb testing.TB, body, etag string) (srv *switchServer) {
	tb.Helper()

	srv = &switchServer{
		mu:       &sync.Mutex{},
		body:     body,
		etag:     etag,
		requests: &atomic.Int64{},
	}

	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.requests.Add(1)

		srv.mu.Lock()
		body, etag := srv.body, srv.etag
		srv.mu.Unlock()

		if etag != "" && r.Header.Get(httphdr.IfNoneMatch) == etag {
			w.WriteHeader(http.StatusNotModified)

			return
		}

		if etag != "" {
			w.Header().Set(httphdr.ETag, etag)
		}

		_, _ = w.Write([]byte(body))
	}))
	tb.Cleanup(srv.Close)

	return srv
}

// set changes the content of the server.
func (srv *switchServer) set(body, etag string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.body, srv.etag = body, etag
}

// assertBlocks is a helper that checks whether the engine of the profile
// blocks the URL.
func assertBlocks(tb testing.TB, p *contentblock.Profile, urlStr string, want bool) {
	tb.Helper()

	res := p.Engine.Match(rules.NewRequest(urlStr, "", rules.TypeScript))
	assert.Equal(tb, want, res.Decision == contentblock.DecisionBlock)
}

func TestScheduler_UpdateNow(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	srv := newSwitchServer(t, testList, testETag)
	s := newTestStore(t, clock, srv.URL, "")
	cache := update.NewCache(t.TempDir())
	sched := newTestScheduler(s, update.NewDefaultFetcher(&update.DefaultFetcherConfig{}), clock, cache)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, sched.UpdateNow(ctx, testProfileID))

	p := requireProfile(t, s)
	assert.Equal(t, testNow, p.LastUpdate)
	assert.Equal(t, "Test list", p.Metadata.Title)
	assert.Equal(t, testETag, p.ETag)
	assert.Equal(t, update.ContentHash([]byte(testList)), p.ContentHash)
	assert.Equal(t, 2, p.Engine.RulesCount)
	assert.Len(t, p.Engine.CosmeticRules(), 1)
	assert.Equal(t, contentblock.StateIdle, p.Status.State)
	assertBlocks(t, p, "https://ads.example.com/a.js", true)

	cached, _, err := cache.Load(testProfileID)
	require.NoError(t, err)
	assert.Equal(t, testList, string(cached))

	// Not modified.
	clock.add(time.Hour)
	require.NoError(t, sched.UpdateNow(ctx, testProfileID))

	next := requireProfile(t, s)
	assert.Same(t, p.Engine, next.Engine)
	assert.Equal(t, testNow, next.LastUpdate)
	assert.Equal(t, testNow.Add(time.Hour), next.LastCheck)
	assert.Equal(t, int64(2), srv.requests.Load())

	// Same content with a new entity tag isn't recompiled.
	srv.set(testList, `"v2"`)
	require.NoError(t, sched.UpdateNow(ctx, testProfileID))

	next = requireProfile(t, s)
	assert.Same(t, p.Engine, next.Engine)
	assert.Equal(t, `"v2"`, next.ETag)

	// New content.
	srv.set(testListOther, `"v3"`)
	clock.add(time.Hour)
	require.NoError(t, sched.UpdateNow(ctx, testProfileID))

	next = requireProfile(t, s)
	assert.NotSame(t, p.Engine, next.Engine)
	assert.Equal(t, testNow.Add(2*time.Hour), next.LastUpdate)
	assertBlocks(t, next, "https://ads.example.com/a.js", false)
	assertBlocks(t, next, "https://tracker.example/t.js", true)
}

func TestScheduler_UpdateNow_rejected(t *testing.T) {
	t.Parallel()

	signed := string(filterlist.AddChecksum([]byte(testList)))
	tampered := strings.Replace(signed, "ok.js", "ok2.js", 1)

	testCases := []struct {
		wantErr   error
		name      string
		body      string
		published string
		wantState contentblock.UpdateState
	}{{
		wantErr:   update.ErrChecksumMismatch,
		name:      "embedded_checksum",
		body:      tampered,
		published: "",
		wantState: contentblock.StateRejected,
	}, {
		wantErr:   update.ErrChecksumMismatch,
		name:      "published_checksum",
		body:      signed,
		published: "blake3:" + update.ContentHash([]byte(testList)),
		wantState: contentblock.StateRejected,
	}, {
		wantErr:   filterlist.ErrInvalidHeader,
		name:      "invalid_header",
		body:      "<html>not a list</html>\n",
		published: "",
		wantState: contentblock.StateRejected,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clock := newTestClock()
			srv := newSwitchServer(t, signed, "")
			s := newTestStore(t, clock, srv.URL, "")
			sched := newTestScheduler(s, update.NewDefaultFetcher(&update.DefaultFetcherConfig{}), clock, nil)

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			require.NoError(t, sched.UpdateNow(ctx, testProfileID))

			good := requireProfile(t, s)
			require.Equal(t, testNow, good.LastUpdate)

			if tc.published != "" {
				require.NoError(t, s.RemoveProfile(testProfileID))
				require.NoError(t, s.AddProfile(&contentblock.ProfileConfig{
					ID:             testProfileID,
					Source:         srv.URL,
					Checksum:       tc.published,
					UpdateInterval: timeutil.Day,
					Enabled:        true,
				}))

				good = requireProfile(t, s)
			}

			srv.set(tc.body, "")
			clock.add(timeutil.Day)

			err := sched.UpdateNow(ctx, testProfileID)
			require.ErrorIs(t, err, tc.wantErr)

			p := requireProfile(t, s)
			assert.Equal(t, tc.wantState, p.Status.State)
			assert.Equal(t, good.LastUpdate, p.LastUpdate)
			assert.Same(t, good.Engine, p.Engine)
			assert.NotEmpty(t, p.Status.LastError)
			assert.Equal(t, testNow.Add(timeutil.Day), p.Status.ErrorTime)
			assert.Equal(t, testNow.Add(timeutil.Day), p.LastCheck)
		})
	}
}

func TestScheduler_UpdateNow_fetchError(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, clock, "https://lists.example/main.txt", "")

	fetchErr := &update.FetchError{
		Err:    assert.AnError,
		Source: "https://lists.example/main.txt",
		Kind:   update.FetchErrorTimeout,
	}

	sched := newTestScheduler(s, fetchFunc(func(
		_ context.Context,
		_ *update.FetchRequest,
	) (res *update.FetchResult, err error) {
		return nil, fetchErr
	}), clock, nil)

	err := sched.UpdateNow(testutil.ContextWithTimeout(t, testTimeout), testProfileID)
	require.ErrorIs(t, err, update.ErrTimeout)

	p := requireProfile(t, s)
	assert.Equal(t, contentblock.StateIdle, p.Status.State)
	assert.Equal(t, fetchErr.Error(), p.Status.LastError)
	assert.True(t, p.LastUpdate.IsZero())
	assert.Equal(t, testNow, p.LastCheck)

	// The failed attempt is retried at the normal interval.
	assert.False(t, p.Due(clock.Now().Add(time.Hour)))
	assert.True(t, p.Due(clock.Now().Add(4*timeutil.Day)))
}

func TestScheduler_Refresh_failed(t *testing.T) {
	t.Parallel()

	const src = "https://lists.example/main.txt"

	testCases := []struct {
		fetch     fetchFunc
		name      string
		wantState contentblock.UpdateState
	}{{
		fetch: func(_ context.Context, _ *update.FetchRequest) (res *update.FetchResult, err error) {
			return nil, &update.FetchError{
				Err:    assert.AnError,
				Source: src,
				Kind:   update.FetchErrorTransport,
			}
		},
		name:      "network",
		wantState: contentblock.StateIdle,
	}, {
		fetch: func(_ context.Context, _ *update.FetchRequest) (res *update.FetchResult, err error) {
			return &update.FetchResult{Data: []byte("<html></html>")}, nil
		},
		name:      "rejected",
		wantState: contentblock.StateRejected,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clock := newTestClock()
			s := newTestStore(t, clock, src, "")

			fetches := &atomic.Int64{}
			sched := newTestScheduler(s, fetchFunc(func(
				ctx context.Context,
				req *update.FetchRequest,
			) (res *update.FetchResult, err error) {
				fetches.Add(1)

				return tc.fetch(ctx, req)
			}), clock, nil)

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			require.Error(t, sched.Refresh(ctx))
			require.Equal(t, int64(1), fetches.Load())

			// Hourly checks don't retry the failed list.
			for range 3 {
				clock.add(time.Hour)
				require.NoError(t, sched.Refresh(ctx))
			}

			assert.Equal(t, int64(1), fetches.Load())

			p := requireProfile(t, s)
			assert.Equal(t, tc.wantState, p.Status.State)
			assert.NotEmpty(t, p.Status.LastError)

			// The next attempt comes after the full interval.
			clock.add(4 * timeutil.Day)
			require.Error(t, sched.Refresh(ctx))
			assert.Equal(t, int64(2), fetches.Load())
		})
	}
}

func TestScheduler_UpdateNow_invalidSource(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, clock, "gopher://lists.example/main.txt", "")

	var calls atomic.Int64
	sched := newTestScheduler(s, fetchFunc(func(
		_ context.Context,
		_ *update.FetchRequest,
	) (res *update.FetchResult, err error) {
		calls.Add(1)

		return &update.FetchResult{Data: []byte(testList)}, nil
	}), clock, nil)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	err := sched.UpdateNow(ctx, testProfileID)
	require.ErrorIs(t, err, contentblock.ErrInvalidUpdateURL)

	require.NoError(t, sched.Refresh(ctx))
	assert.Zero(t, calls.Load())

	err = sched.UpdateNow(ctx, "missing")
	assert.ErrorIs(t, err, contentblock.ErrProfileNotFound)
}

func TestScheduler_UpdateNow_coalesced(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, clock, "https://lists.example/main.txt", "")

	var calls atomic.Int64
	started := make(chan struct{})
	unblock := make(chan struct{})

	sched := newTestScheduler(s, fetchFunc(func(
		ctx context.Context,
		_ *update.FetchRequest,
	) (res *update.FetchResult, err error) {
		if calls.Add(1) == 1 {
			close(started)
		}

		select {
		case <-unblock:
			return &update.FetchResult{Data: []byte(testList)}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}), clock, nil)

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	errs := make(chan error, 2)
	go func() { errs <- sched.UpdateNow(ctx, testProfileID) }()

	<-started
	go func() { errs <- sched.UpdateNow(ctx, testProfileID) }()

	// Give the second call the time to join the first one.
	time.Sleep(100 * time.Millisecond)
	close(unblock)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 2, requireProfile(t, s).Engine.RulesCount)
}

func TestScheduler_UpdateNow_canceled(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, clock, "https://lists.example/main.txt", "")

	started := make(chan struct{})
	sched := newTestScheduler(s, fetchFunc(func(
		ctx context.Context,
		_ *update.FetchRequest,
	) (res *update.FetchResult, err error) {
		close(started)
		<-ctx.Done()

		return nil, ctx.Err()
	}), clock, nil)

	errs := make(chan error, 1)
	go func() {
		errs <- sched.UpdateNow(testutil.ContextWithTimeout(t, testTimeout), testProfileID)
	}()

	<-started
	require.NoError(t, s.SetEnabled(testProfileID, false))

	err := <-errs
	require.ErrorIs(t, err, context.Canceled)

	p := requireProfile(t, s)
	assert.Equal(t, contentblock.StateIdle, p.Status.State)
	assert.Empty(t, p.Status.LastError)
	assert.True(t, p.LastUpdate.IsZero())
}

func TestScheduler_Refresh(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, clock, "https://lists.example/main.txt", "")
	require.NoError(t, s.AddProfile(&contentblock.ProfileConfig{
		ID:             "manual",
		Source:         "https://lists.example/manual.txt",
		UpdateInterval: 0,
		Enabled:        true,
	}))
	require.NoError(t, s.AddProfile(&contentblock.ProfileConfig{
		ID:             "disabled",
		Source:         "https://lists.example/disabled.txt",
		UpdateInterval: timeutil.Day,
		Enabled:        false,
	}))

	fetched := &sync.Map{}
	sched := newTestScheduler(s, fetchFunc(func(
		_ context.Context,
		req *update.FetchRequest,
	) (res *update.FetchResult, err error) {
		v, _ := fetched.LoadOrStore(req.Source, &atomic.Int64{})
		v.(*atomic.Int64).Add(1)

		return &update.FetchResult{Data: []byte(testList)}, nil
	}), clock, nil)

	count := func(src string) (n int64) {
		v, ok := fetched.Load(src)
		if !ok {
			return 0
		}

		return v.(*atomic.Int64).Load()
	}

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, sched.Refresh(ctx))

	assert.Equal(t, int64(1), count("https://lists.example/main.txt"))
	assert.Zero(t, count("https://lists.example/manual.txt"))
	assert.Zero(t, count("https://lists.example/disabled.txt"))

	// Not due yet.
	clock.add(time.Hour)
	require.NoError(t, sched.Refresh(ctx))
	assert.Equal(t, int64(1), count("https://lists.example/main.txt"))

	// The list expires in 4 days.
	clock.add(4 * timeutil.Day)
	require.NoError(t, sched.Refresh(ctx))
	assert.Equal(t, int64(2), count("https://lists.example/main.txt"))

	// Manual updates are still possible.
	require.NoError(t, sched.UpdateNow(ctx, "manual"))
	assert.Equal(t, int64(1), count("https://lists.example/manual.txt"))
}

func TestScheduler_StartShutdown(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	dir := t.TempDir()

	// Prepare an outdated cache from a previous run.
	cache := update.NewCache(dir)
	require.NoError(t, cache.Store(testProfileID, []byte(testListOther)))

	storedAt := testNow.Add(-5 * timeutil.Day)
	require.NoError(t, os.Chtimes(filepath.Join(dir, testProfileID+".txt"), storedAt, storedAt))

	srv := newSwitchServer(t, testList, testETag)
	s := newTestStore(t, clock, srv.URL, "")

	sched := newTestScheduler(s, update.NewDefaultFetcher(&update.DefaultFetcherConfig{}), clock, cache)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, sched.Start(ctx))
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		return sched.Shutdown(shutdownCtx)
	})

	require.Error(t, sched.Start(ctx))

	wantHash := update.ContentHash([]byte(testList))
	require.Eventually(t, func() (ok bool) {
		p, ok := s.Profile(testProfileID)

		return ok && p.ContentHash == wantHash
	}, testTimeout, 10*time.Millisecond)

	p := requireProfile(t, s)
	assert.Equal(t, testNow, p.LastUpdate)
	assertBlocks(t, p, "https://ads.example.com/a.js", true)
}

func TestScheduler_LoadCache(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	cache := update.NewCache(t.TempDir())
	require.NoError(t, cache.Store(testProfileID, []byte(testListOther)))

	s := newTestStore(t, clock, "https://lists.example/main.txt", "")
	sched := newTestScheduler(s, fetchFunc(func(
		_ context.Context,
		_ *update.FetchRequest,
	) (res *update.FetchResult, err error) {
		panic("must not be called")
	}), clock, cache)

	sched.LoadCache(testutil.ContextWithTimeout(t, testTimeout))

	p := requireProfile(t, s)
	assert.False(t, p.LastUpdate.IsZero())
	assert.Equal(t, update.ContentHash([]byte(testListOther)), p.ContentHash)
	assertBlocks(t, p, "https://tracker.example/t.js", true)
}

func TestScheduler_RemoveProfile(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	cache := update.NewCache(t.TempDir())
	srv := newSwitchServer(t, testList, "")
	s := newTestStore(t, clock, srv.URL, "")
	sched := newTestScheduler(s, update.NewDefaultFetcher(&update.DefaultFetcherConfig{}), clock, cache)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, sched.UpdateNow(ctx, testProfileID))

	_, _, err := cache.Load(testProfileID)
	require.NoError(t, err)

	require.NoError(t, sched.RemoveProfile(testProfileID))

	_, ok := s.Profile(testProfileID)
	assert.False(t, ok)

	_, _, err = cache.Load(testProfileID)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// The profile added again with the same ID starts empty.
	require.NoError(t, s.AddProfile(&contentblock.ProfileConfig{
		ID:      testProfileID,
		Source:  srv.URL,
		Enabled: true,
	}))

	sched.LoadCache(ctx)

	p := requireProfile(t, s)
	assert.True(t, p.LastUpdate.IsZero())
	assert.Zero(t, p.Engine.RulesCount)

	err = sched.RemoveProfile("missing")
	assert.ErrorIs(t, err, contentblock.ErrProfileNotFound)
}
