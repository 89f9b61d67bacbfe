package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/campusride/internal/logging"
	"github.com/shiva/campusride/internal/model"
)

// fakeNominatim serves /search and /reverse and counts hits per path.
type fakeNominatim struct {
	t        *testing.T
	search   atomic.Int32
	reverse  atomic.Int32
	statuses []int // consumed one per request; 200 after exhaustion
	mu       sync.Mutex
	results  string
	revBody  string
	lastUA   atomic.Value
	limit    atomic.Value // limit parameter of the last /search
}

func (f *fakeNominatim) nextStatus() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return http.StatusOK
	}
	s := f.statuses[0]
	f.statuses = f.statuses[1:]
	return s
}

func (f *fakeNominatim) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastUA.Store(r.Header.Get("User-Agent"))
	switch r.URL.Path {
	case "/search":
		f.search.Add(1)
		f.limit.Store(r.URL.Query().Get("limit"))
		assert.Equal(f.t, "json", r.URL.Query().Get("format"))
	case "/reverse":
		f.reverse.Add(1)
	default:
		http.NotFound(w, r)
		return
	}

	if status := f.nextStatus(); status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/reverse" {
		_, _ = w.Write([]byte(f.revBody))
		return
	}
	_, _ = w.Write([]byte(f.results))
}

const bogotaResults = `[
	{"display_name": "Universidad Nacional de Colombia, Bogotá", "lat": "4.6381", "lon": "-74.0840"},
	{"display_name": "Broken entry", "lat": "north", "lon": "-74.0"},
	{"display_name": "Estación Universidad Nacional, Bogotá", "lat": 4.6413, "lon": -74.0789},
	{"display_name": "Hospital Universitario, Bogotá", "lat": "4.6350", "lon": "-74.0830"}
]`

func testPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       4 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func newTestGateway(t *testing.T, rdb *redis.Client) (*Gateway, *fakeNominatim) {
	t.Helper()
	fake := &fakeNominatim{
		t:       t,
		results: bogotaResults,
		revBody: `{"display_name": "Calle 26, Bogotá", "lat": "4.6380", "lon": "-74.0841"}`,
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Retry = testPolicy()
	return NewGateway(NewClient(srv.URL, "campusride-test/1.0"), rdb, cfg, logging.Discard()), fake
}

func TestResolve_CachesNormalizedText(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	ctx := context.Background()

	p, err := gw.Resolve(ctx, "Universidad Nacional")
	require.NoError(t, err)
	assert.Equal(t, "Universidad Nacional de Colombia, Bogotá", p.Label)
	assert.InDelta(t, 4.6381, p.Lat, 1e-9)
	assert.InDelta(t, -74.0840, p.Lon, 1e-9)

	again, err := gw.Resolve(ctx, "  universidad   NACIONAL ")
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Equal(t, int32(1), fake.search.Load())
	assert.Equal(t, "campusride-test/1.0", fake.lastUA.Load())
}

func TestResolve_RetriesTransientFailures(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	fake.statuses = []int{http.StatusInternalServerError, http.StatusTooManyRequests}

	p, err := gw.Resolve(context.Background(), "Universidad Nacional")
	require.NoError(t, err)
	assert.NotEmpty(t, p.Label)
	assert.Equal(t, int32(3), fake.search.Load())
}

func TestResolve_ExhaustedRetries(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	fake.statuses = []int{503, 503, 503, 503}

	_, err := gw.Resolve(context.Background(), "Universidad Nacional")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, model.ErrGeocodingFailed)
	assert.Equal(t, int32(3), fake.search.Load())
}

func TestResolve_ClientErrorIsNotRetried(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	fake.statuses = []int{http.StatusBadRequest}

	_, err := gw.Resolve(context.Background(), "Universidad Nacional")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGeocodingFailed)
	assert.False(t, errors.Is(err, model.ErrUpstreamUnavailable))
	assert.Equal(t, int32(1), fake.search.Load())
}

func TestResolve_UndecodableBody(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	fake.results = `<html>maintenance</html>`

	_, err := gw.Resolve(context.Background(), "Universidad Nacional")
	assert.ErrorIs(t, err, model.ErrGeocodingFailed)
	assert.Equal(t, int32(1), fake.search.Load())
}

func TestResolve_NotFoundIsNotRetriedOrCached(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	fake.results = `[]`
	ctx := context.Background()

	_, err := gw.Resolve(ctx, "Atlantis")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, int32(1), fake.search.Load())

	_, err = gw.Resolve(ctx, "Atlantis")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, int32(2), fake.search.Load())
}

func TestResolve_InvalidInput(t *testing.T) {
	gw, fake := newTestGateway(t, nil)

	_, err := gw.Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, model.ErrInvalidQuery)

	_, err = gw.ReverseResolve(context.Background(), 91, 0)
	assert.ErrorIs(t, err, model.ErrInvalidQuery)

	assert.Equal(t, int32(0), fake.search.Load()+fake.reverse.Load())
}

func TestResolve_CallerDeadlineReturnsPromptly(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	gw.cfg.Retry.BaseDelay = 200 * time.Millisecond
	gw.cfg.Retry.MaxDelay = 200 * time.Millisecond
	fake.statuses = []int{503, 503, 503}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := gw.Resolve(ctx, "Universidad Nacional")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	// The shared lookup runs out its own retry budget.
	require.Eventually(t, func() bool { return fake.search.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 16)
	up := &blockingUpstream{release: release, started: started}
	gw := NewGateway(up, nil, Config{CacheSize: 10, Retry: testPolicy()}, logging.Discard())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := gw.Resolve(firstCtx, "Universidad Nacional")
		firstErr <- err
	}()
	<-started

	type result struct {
		place model.Place
		err   error
	}
	second := make(chan result, 1)
	go func() {
		p, err := gw.Resolve(context.Background(), "Universidad Nacional")
		second <- result{p, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "Campus", got.place.Label)
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestResolve_ConcurrentCallsShareOneUpstreamCall(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 16)
	up := &blockingUpstream{release: release, started: started}
	gw := NewGateway(up, nil, Config{CacheSize: 10, Retry: testPolicy()}, logging.Discard())

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := gw.Resolve(context.Background(), "Universidad Nacional")
			assert.NoError(t, err)
			assert.Equal(t, "Campus", p.Label)
		}()
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), up.calls.Load())
}

type blockingUpstream struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
}

func (b *blockingUpstream) Search(ctx context.Context, query string, limit int) ([]model.Place, error) {
	b.calls.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.release:
		return []model.Place{{Label: "Campus", Lat: 4.6381, Lon: -74.0840}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingUpstream) Reverse(ctx context.Context, c model.Coordinate) (model.Place, error) {
	return model.Place{}, model.ErrNotFound
}

func TestReverseResolve(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	ctx := context.Background()

	label, err := gw.ReverseResolve(ctx, 4.638012, -74.084031)
	require.NoError(t, err)
	assert.Equal(t, "Calle 26, Bogotá", label)

	// Same point at 5-decimal precision is served from cache.
	_, err = gw.ReverseResolve(ctx, 4.638011, -74.084032)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.reverse.Load())
}

func TestReverseResolve_UpstreamErrorMember(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	fake.revBody = `{"error": "Unable to geocode"}`

	_, err := gw.ReverseResolve(context.Background(), 0, -150)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSuggest(t *testing.T) {
	gw, fake := newTestGateway(t, nil)
	ctx := context.Background()

	got, err := gw.Suggest(ctx, "Bo", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), fake.search.Load())

	// Two runes even though "Bó" is three bytes.
	got, err = gw.Suggest(ctx, "Bó", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), fake.search.Load())

	got, err = gw.Suggest(ctx, "Universidad", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Universidad Nacional de Colombia, Bogotá", got[0].Label)
	assert.Equal(t, "Estación Universidad Nacional, Bogotá", got[1].Label)
	assert.Equal(t, int32(1), fake.search.Load())
	assert.Equal(t, "2", fake.limit.Load())

	fake.results = `[]`
	got, err = gw.Suggest(ctx, "Atlantis", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisTierSharedAcrossGateways(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	first, fakeA := newTestGateway(t, rdb)
	p, err := first.Resolve(ctx, "Universidad Nacional")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fakeA.search.Load())
	assert.Equal(t, "1", fakeA.limit.Load())

	raw, err := mr.Get(redisKeyPrefix + forwardKey("Universidad Nacional"))
	require.NoError(t, err)
	var stored []model.Place
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, []model.Place{p}, stored)

	second, fakeB := newTestGateway(t, rdb)
	q, err := second.Resolve(ctx, "universidad nacional")
	require.NoError(t, err)
	assert.Equal(t, p, q)
	assert.Equal(t, int32(0), fakeB.search.Load())
}

func TestRedisFailureDegradesToMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	gw, fake := newTestGateway(t, rdb)
	p, err := gw.Resolve(context.Background(), "Universidad Nacional")
	require.NoError(t, err)
	assert.NotEmpty(t, p.Label)
	assert.Equal(t, int32(1), fake.search.Load())
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		2 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, p.delay(attempt), "attempt %d", attempt)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{`"4.6381"`, 4.6381, true},
		{`-74.084`, -74.084, true},
		{`" 12.5 "`, 12.5, true},
		{`"north"`, 0, false},
		{`null`, 0, false},
		{``, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNumber(json.RawMessage(tt.raw))
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.InDelta(t, tt.want, got, 1e-12, tt.raw)
	}
}
