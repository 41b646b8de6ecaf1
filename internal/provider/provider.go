// Package provider abstracts the external market data vendor. The scan
// pipeline only ever sees this interface; concrete implementations are
// the synthetic demo provider for offline runs and an HTTP client for
// live data, both normally wrapped by the caching decorator.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ivscan/internal/domain"
)

// ErrRateLimited signals an explicit upstream rate limit (HTTP 429).
// The scheduler reacts by entering backoff.
var ErrRateLimited = errors.New("provider rate limited")

// TransientError wraps network failures, 5xx responses and timeouts.
// These are retried by the orchestrator and counted by the breaker.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps non-retryable failures: 4xx other than 429 and
// response decode errors. The affected ticker is skipped.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider failure in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is not worth retrying.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Endpoint names used for breaker and cache keying.
const (
	EndpointCurrentPrice = "current_price"
	EndpointPriceHistory = "price_history"
	EndpointExpirations  = "expirations"
	EndpointOptionsChain = "options_chain"
	EndpointTickerInfo   = "ticker_info"
)

// Interface is the market data contract the pipeline depends on.
// Absent data is (nil, nil) / (0, nil); errors carry the taxonomy above.
type Interface interface {
	GetCurrentPrice(ctx context.Context, ticker string) (float64, error)
	GetPriceHistory(ctx context.Context, ticker string, lookbackDays int) ([]domain.PriceBar, error)
	GetOptionsExpirations(ctx context.Context, ticker string) ([]time.Time, error)
	GetOptionsChain(ctx context.Context, ticker string, expiration time.Time) (*domain.OptionsChain, error)
	GetTickerInfo(ctx context.Context, ticker string) (*domain.TickerInfo, error)
	GetFullSnapshot(ctx context.Context, ticker string) (*domain.MarketSnapshot, error)
}

// buildSnapshot composes a full snapshot from the individual endpoint
// calls of any provider. Price and a usable history are critical; the
// chains and info sections degrade to absent on failure.
func buildSnapshot(ctx context.Context, p Interface, ticker string) (*domain.MarketSnapshot, error) {
	price, err := p.GetCurrentPrice(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, nil
	}

	history, err := p.GetPriceHistory(ctx, ticker, 365)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}

	snapshot := &domain.MarketSnapshot{
		Ticker:        ticker,
		Timestamp:     time.Now().UTC(),
		SpotPrice:     price,
		PriceHistory:  history,
		OptionsChains: make(map[string]*domain.OptionsChain),
	}

	expirations, err := p.GetOptionsExpirations(ctx, ticker)
	if err == nil {
		// Front and back month are enough for the feature engine.
		if len(expirations) > 2 {
			expirations = expirations[:2]
		}
		for _, exp := range expirations {
			chain, err := p.GetOptionsChain(ctx, ticker, exp)
			if err != nil || chain == nil {
				continue
			}
			snapshot.OptionsChains[exp.Format("2006-01-02")] = chain
		}
	}

	info, err := p.GetTickerInfo(ctx, ticker)
	if err == nil {
		snapshot.Info = info
	}

	return snapshot, nil
}
