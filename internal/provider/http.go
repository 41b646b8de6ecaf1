package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ivscan/internal/domain"
)

// HTTPConfig configures the live market data client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider talks to a JSON market data API. Responses are mapped
// onto the domain types; HTTP and decode failures are classified into
// the transient/permanent/rate-limited taxonomy so the orchestrator and
// scheduler can react appropriately.
type HTTPProvider struct {
	client *resty.Client
	log    zerolog.Logger
}

// NewHTTP creates a live provider.
func NewHTTP(cfg HTTPConfig, log zerolog.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			// correlation id so upstream support can trace a single call
			req.SetHeader("X-Request-ID", uuid.NewString())
			return nil
		})
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &HTTPProvider{
		client: client,
		log:    log.With().Str("component", "provider").Str("kind", "http").Logger(),
	}
}

// classify maps a resty outcome onto the provider error taxonomy.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	code := resp.StatusCode()
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("HTTP %d", code)}
	case code >= 400:
		return &PermanentError{Op: op, Err: fmt.Errorf("HTTP %d", code)}
	}
	return nil
}

type priceResponse struct {
	Price float64 `json:"price"`
}

// GetCurrentPrice fetches the latest trade price.
func (p *HTTPProvider) GetCurrentPrice(ctx context.Context, ticker string) (float64, error) {
	var out priceResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetResult(&out).
		Get("/v1/quote/{ticker}")
	if cerr := classify(EndpointCurrentPrice, resp, err); cerr != nil {
		return 0, cerr
	}
	if out.Price <= 0 {
		return 0, nil
	}
	return out.Price, nil
}

type historyResponse struct {
	Bars []struct {
		Timestamp time.Time `json:"t"`
		Open      float64   `json:"o"`
		High      float64   `json:"h"`
		Low       float64   `json:"l"`
		Close     float64   `json:"c"`
		Volume    int64     `json:"v"`
	} `json:"bars"`
}

// GetPriceHistory fetches daily bars, oldest first.
func (p *HTTPProvider) GetPriceHistory(ctx context.Context, ticker string, lookbackDays int) ([]domain.PriceBar, error) {
	var out historyResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetQueryParam("days", fmt.Sprintf("%d", lookbackDays)).
		SetResult(&out).
		Get("/v1/history/{ticker}")
	if cerr := classify(EndpointPriceHistory, resp, err); cerr != nil {
		return nil, cerr
	}

	bars := make([]domain.PriceBar, 0, len(out.Bars))
	for _, b := range out.Bars {
		bar := domain.PriceBar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
		if !bar.Valid() {
			return nil, &PermanentError{Op: EndpointPriceHistory, Err: fmt.Errorf("invalid bar at %s", b.Timestamp)}
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

type expirationsResponse struct {
	Expirations []string `json:"expirations"`
}

// GetOptionsExpirations fetches available expirations, ascending.
func (p *HTTPProvider) GetOptionsExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	var out expirationsResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetResult(&out).
		Get("/v1/options/{ticker}/expirations")
	if cerr := classify(EndpointExpirations, resp, err); cerr != nil {
		return nil, cerr
	}

	dates := make([]time.Time, 0, len(out.Expirations))
	for _, s := range out.Expirations {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, &PermanentError{Op: EndpointExpirations, Err: err}
		}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

type chainResponse struct {
	Calls []domain.OptionContract `json:"calls"`
	Puts  []domain.OptionContract `json:"puts"`
}

// GetOptionsChain fetches one expiration's chain, both sides sorted by
// strike.
func (p *HTTPProvider) GetOptionsChain(ctx context.Context, ticker string, expiration time.Time) (*domain.OptionsChain, error) {
	var out chainResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetQueryParam("expiration", expiration.Format("2006-01-02")).
		SetResult(&out).
		Get("/v1/options/{ticker}/chain")
	if cerr := classify(EndpointOptionsChain, resp, err); cerr != nil {
		return nil, cerr
	}

	chain := &domain.OptionsChain{
		Ticker:     ticker,
		Expiration: expiration,
		SnapshotAt: time.Now().UTC(),
		Calls:      out.Calls,
		Puts:       out.Puts,
	}
	sort.Slice(chain.Calls, func(i, j int) bool { return chain.Calls[i].Strike < chain.Calls[j].Strike })
	sort.Slice(chain.Puts, func(i, j int) bool { return chain.Puts[i].Strike < chain.Puts[j].Strike })
	return chain, nil
}

// GetTickerInfo fetches reference data.
func (p *HTTPProvider) GetTickerInfo(ctx context.Context, ticker string) (*domain.TickerInfo, error) {
	var out domain.TickerInfo
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetResult(&out).
		Get("/v1/info/{ticker}")
	if cerr := classify(EndpointTickerInfo, resp, err); cerr != nil {
		return nil, cerr
	}
	out.Ticker = ticker
	return &out, nil
}

// GetFullSnapshot composes the individual endpoints into one snapshot.
func (p *HTTPProvider) GetFullSnapshot(ctx context.Context, ticker string) (*domain.MarketSnapshot, error) {
	return buildSnapshot(ctx, p, ticker)
}
