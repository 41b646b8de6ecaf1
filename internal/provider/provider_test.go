package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivscan/internal/breaker"
	"ivscan/internal/cache"
	"ivscan/internal/domain"
)

func demoClock() func() time.Time {
	now := time.Date(2026, 3, 2, 21, 15, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestDemoSnapshotIsDeterministic(t *testing.T) {
	d := NewDemoAt(demoClock())
	ctx := context.Background()

	a, err := d.GetFullSnapshot(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, a)
	b, err := d.GetFullSnapshot(ctx, "AAPL")
	require.NoError(t, err)

	aj, err := json.Marshal(a)
	require.NoError(t, err)
	bj, err := json.Marshal(b)
	require.NoError(t, err)
	// timestamps differ between calls; everything else must not
	var am, bm map[string]any
	require.NoError(t, json.Unmarshal(aj, &am))
	require.NoError(t, json.Unmarshal(bj, &bm))
	delete(am, "timestamp")
	delete(bm, "timestamp")
	assert.Equal(t, am, bm)
}

func TestDemoTickersDiffer(t *testing.T) {
	d := NewDemoAt(demoClock())
	ctx := context.Background()

	aapl, err := d.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	msft, err := d.GetCurrentPrice(ctx, "MSFT")
	require.NoError(t, err)
	assert.NotEqual(t, aapl, msft)
	assert.Positive(t, aapl)
}

func TestDemoHistoryShape(t *testing.T) {
	d := NewDemoAt(demoClock())

	bars, err := d.GetPriceHistory(context.Background(), "AAPL", 90)
	require.NoError(t, err)
	require.Len(t, bars, 90)
	for i, b := range bars {
		assert.True(t, b.Valid(), "bar %d violates OHLCV invariant", i)
		if i > 0 {
			assert.True(t, bars[i-1].Timestamp.Before(b.Timestamp), "bars must ascend")
		}
	}

	// the tail is stable regardless of lookback
	full, err := d.GetPriceHistory(context.Background(), "AAPL", 365)
	require.NoError(t, err)
	assert.Equal(t, full[len(full)-1], bars[len(bars)-1])
}

func TestDemoChainShape(t *testing.T) {
	d := NewDemoAt(demoClock())
	ctx := context.Background()

	exps, err := d.GetOptionsExpirations(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, exps, 2)
	assert.True(t, exps[0].Before(exps[1]))

	chain, err := d.GetOptionsChain(ctx, "AAPL", exps[0])
	require.NoError(t, err)
	require.NotEmpty(t, chain.Calls)
	require.Equal(t, len(chain.Calls), len(chain.Puts))
	for i := 1; i < len(chain.Calls); i++ {
		assert.Greater(t, chain.Calls[i].Strike, chain.Calls[i-1].Strike)
	}
	for _, c := range chain.Calls {
		assert.GreaterOrEqual(t, c.Ask, c.Bid)
		assert.Positive(t, c.ImpliedVolatility)
	}
}

func TestHTTPClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": 187.5}`))
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, zerolog.Nop())
	ctx := context.Background()

	price, err := p.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 187.5, price, 1e-9)

	status.Store(http.StatusTooManyRequests)
	_, err = p.GetCurrentPrice(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrRateLimited)

	status.Store(http.StatusInternalServerError)
	_, err = p.GetCurrentPrice(ctx, "AAPL")
	assert.True(t, IsTransient(err), "5xx is retryable")

	status.Store(http.StatusNotFound)
	_, err = p.GetCurrentPrice(ctx, "AAPL")
	assert.True(t, IsPermanent(err), "4xx is not retryable")
	assert.False(t, IsTransient(err))
}

func TestHTTPHistoryRejectsInvalidBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bars":[{"t":"2026-03-02T00:00:00Z","o":100,"h":99,"l":98,"c":100,"v":1000}]}`))
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL}, zerolog.Nop())
	_, err := p.GetPriceHistory(context.Background(), "AAPL", 30)
	assert.True(t, IsPermanent(err), "high below open breaks the OHLCV invariant")
}

func TestHTTPHistorySortsBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bars":[
			{"t":"2026-03-03T00:00:00Z","o":100,"h":101,"l":99,"c":100.5,"v":1000},
			{"t":"2026-03-02T00:00:00Z","o":99,"h":100,"l":98,"c":100,"v":900}
		]}`))
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL}, zerolog.Nop())
	bars, err := p.GetPriceHistory(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp))
}

// fakeUpstream counts upstream invocations per endpoint and can be
// forced to fail.
type fakeUpstream struct {
	calls atomic.Int64
	fail  atomic.Bool
}

var errUpstreamDown = errors.New("upstream down")

func (f *fakeUpstream) GetCurrentPrice(context.Context, string) (float64, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return 0, &TransientError{Op: EndpointCurrentPrice, Err: errUpstreamDown}
	}
	return 187.5, nil
}

func (f *fakeUpstream) GetPriceHistory(context.Context, string, int) ([]domain.PriceBar, error) {
	f.calls.Add(1)
	return []domain.PriceBar{{Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000}}, nil
}

func (f *fakeUpstream) GetOptionsExpirations(context.Context, string) ([]time.Time, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeUpstream) GetOptionsChain(context.Context, string, time.Time) (*domain.OptionsChain, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeUpstream) GetTickerInfo(context.Context, string) (*domain.TickerInfo, error) {
	f.calls.Add(1)
	return &domain.TickerInfo{Ticker: "AAPL"}, nil
}

func (f *fakeUpstream) GetFullSnapshot(ctx context.Context, ticker string) (*domain.MarketSnapshot, error) {
	return buildSnapshot(ctx, f, ticker)
}

type countingCounter struct {
	n atomic.Int64
}

func (c *countingCounter) RecordCall(string) { c.n.Add(1) }

func newCachedForTest(t *testing.T) (*CachedProvider, *fakeUpstream, *countingCounter) {
	t.Helper()
	up := &fakeUpstream{}
	counter := &countingCounter{}
	c := cache.New(0, zerolog.Nop())
	br := breaker.NewRegistry(breaker.Settings{FailureThreshold: 2, RecoveryTimeout: time.Minute}, zerolog.Nop())
	return NewCached(up, c, br, counter, zerolog.Nop()), up, counter
}

func TestCachedProviderServesFromCache(t *testing.T) {
	p, up, counter := newCachedForTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		price, err := p.GetCurrentPrice(ctx, "AAPL")
		require.NoError(t, err)
		assert.InDelta(t, 187.5, price, 1e-9)
	}

	assert.Equal(t, int64(1), up.calls.Load(), "repeat lookups hit the cache")
	assert.Equal(t, int64(1), counter.n.Load(), "cache hits consume no call budget")

	// a different ticker is a different key
	_, err := p.GetCurrentPrice(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, int64(2), up.calls.Load())
}

func TestCachedProviderBreakerOpensAndFailsFast(t *testing.T) {
	p, up, _ := newCachedForTest(t)
	ctx := context.Background()
	up.fail.Store(true)

	_, err := p.GetCurrentPrice(ctx, "AAPL")
	assert.True(t, IsTransient(err))
	_, err = p.GetCurrentPrice(ctx, "AAPL")
	assert.True(t, IsTransient(err))

	before := up.calls.Load()
	_, err = p.GetCurrentPrice(ctx, "AAPL")
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.Equal(t, before, up.calls.Load(), "open breaker must not reach upstream")
}

func TestCachedProviderErrorsAreNotCached(t *testing.T) {
	p, up, _ := newCachedForTest(t)
	ctx := context.Background()

	up.fail.Store(true)
	_, err := p.GetCurrentPrice(ctx, "AAPL")
	require.Error(t, err)

	up.fail.Store(false)
	price, err := p.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 187.5, price, 1e-9)
	assert.Equal(t, int64(2), up.calls.Load())
}
