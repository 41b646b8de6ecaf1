package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ivscan/internal/breaker"
	"ivscan/internal/cache"
	"ivscan/internal/domain"
)

// CallCounter is notified once per upstream call that actually goes
// out. The scheduler uses it to enforce hourly and daily budgets.
type CallCounter interface {
	RecordCall(endpoint string)
}

// CachedProvider decorates an upstream provider with the TTL cache,
// per-endpoint circuit breakers, a politeness rate limiter and call
// accounting. Cache hits consume no budget and bypass the breaker.
type CachedProvider struct {
	upstream Interface
	cache    *cache.Cache
	breakers *breaker.Registry
	limiter  *rate.Limiter
	counter  CallCounter
	log      zerolog.Logger

	// TTL overrides; zero means package defaults.
	HistoryTTL  time.Duration
	IntradayTTL time.Duration
}

// NewCached wraps upstream. counter may be nil.
func NewCached(upstream Interface, c *cache.Cache, br *breaker.Registry, counter CallCounter, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		cache:    c,
		breakers: br,
		limiter:  rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		counter:  counter,
		log:      log.With().Str("component", "provider").Str("kind", "cached").Logger(),
	}
}

func (p *CachedProvider) ttlFor(endpoint string) time.Duration {
	switch endpoint {
	case EndpointCurrentPrice:
		if p.IntradayTTL > 0 {
			return p.IntradayTTL
		}
		return cache.TTLCurrentPrice
	case EndpointPriceHistory:
		if p.HistoryTTL > 0 {
			return p.HistoryTTL
		}
		return cache.TTLPriceHistory
	case EndpointOptionsChain:
		return cache.TTLOptionsChain
	case EndpointExpirations:
		return cache.TTLExpirations
	case EndpointTickerInfo:
		return cache.TTLTickerInfo
	}
	return cache.TTLCurrentPrice
}

// fetch runs one upstream call through the limiter and the endpoint's
// breaker, consulting the cache first.
func (p *CachedProvider) fetch(ctx context.Context, endpoint, key string, call func() (any, error)) (any, error) {
	if v, ok := p.cache.Get(key); ok {
		return v, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &TransientError{Op: endpoint, Err: err}
	}

	var result any
	err := p.breakers.Call(endpoint, func() error {
		if p.counter != nil {
			p.counter.RecordCall(endpoint)
		}
		v, err := call()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		if err := p.cache.Set(key, result, p.ttlFor(endpoint)); err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("failed to cache provider result")
		}
	}
	return result, nil
}

// GetCurrentPrice implements Interface.
func (p *CachedProvider) GetCurrentPrice(ctx context.Context, ticker string) (float64, error) {
	key := fmt.Sprintf("%s:%s", EndpointCurrentPrice, ticker)
	v, err := p.fetch(ctx, EndpointCurrentPrice, key, func() (any, error) {
		return p.upstream.GetCurrentPrice(ctx, ticker)
	})
	if err != nil || v == nil {
		return 0, err
	}
	return v.(float64), nil
}

// GetPriceHistory implements Interface.
func (p *CachedProvider) GetPriceHistory(ctx context.Context, ticker string, lookbackDays int) ([]domain.PriceBar, error) {
	key := fmt.Sprintf("%s:%s:%d", EndpointPriceHistory, ticker, lookbackDays)
	v, err := p.fetch(ctx, EndpointPriceHistory, key, func() (any, error) {
		return p.upstream.GetPriceHistory(ctx, ticker, lookbackDays)
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]domain.PriceBar), nil
}

// GetOptionsExpirations implements Interface.
func (p *CachedProvider) GetOptionsExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	key := fmt.Sprintf("%s:%s", EndpointExpirations, ticker)
	v, err := p.fetch(ctx, EndpointExpirations, key, func() (any, error) {
		return p.upstream.GetOptionsExpirations(ctx, ticker)
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]time.Time), nil
}

// GetOptionsChain implements Interface.
func (p *CachedProvider) GetOptionsChain(ctx context.Context, ticker string, expiration time.Time) (*domain.OptionsChain, error) {
	key := fmt.Sprintf("%s:%s:%s", EndpointOptionsChain, ticker, expiration.Format("2006-01-02"))
	v, err := p.fetch(ctx, EndpointOptionsChain, key, func() (any, error) {
		chain, err := p.upstream.GetOptionsChain(ctx, ticker, expiration)
		if err != nil {
			return nil, err
		}
		if chain == nil {
			return nil, nil
		}
		return chain, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*domain.OptionsChain), nil
}

// GetTickerInfo implements Interface.
func (p *CachedProvider) GetTickerInfo(ctx context.Context, ticker string) (*domain.TickerInfo, error) {
	key := fmt.Sprintf("%s:%s", EndpointTickerInfo, ticker)
	v, err := p.fetch(ctx, EndpointTickerInfo, key, func() (any, error) {
		info, err := p.upstream.GetTickerInfo(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, nil
		}
		return info, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*domain.TickerInfo), nil
}

// GetFullSnapshot composes a snapshot through the cached endpoints.
// Snapshots themselves are never cached; they belong to one scan.
func (p *CachedProvider) GetFullSnapshot(ctx context.Context, ticker string) (*domain.MarketSnapshot, error) {
	return buildSnapshot(ctx, p, ticker)
}
