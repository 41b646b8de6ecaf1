// Package breaker implements per-endpoint circuit breakers protecting
// the external market data provider. Each endpoint gets its own breaker
// so one failing upstream route does not block the others.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned when a breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state machine position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Settings tunes a breaker.
type Settings struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // base OPEN duration, doubled per open epoch
	MaxBackoffFactor int           // cap on the 2^epoch multiplier
}

// DefaultSettings match the production defaults: open after 5
// consecutive failures, probe after 30s doubling per epoch, capped 32x.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MaxBackoffFactor: 32,
	}
}

// Breaker is a three-state circuit breaker for one endpoint.
type Breaker struct {
	mu sync.Mutex

	name     string
	settings Settings
	log      zerolog.Logger
	now      func() time.Time

	state         State
	consecFails   int
	consecOK      int
	openEpoch     int
	openUntil     time.Time
	probeInFlight bool
}

// NewBreaker creates a CLOSED breaker.
func NewBreaker(name string, settings Settings, log zerolog.Logger) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.RecoveryTimeout <= 0 {
		settings.RecoveryTimeout = DefaultSettings().RecoveryTimeout
	}
	if settings.MaxBackoffFactor <= 0 {
		settings.MaxBackoffFactor = DefaultSettings().MaxBackoffFactor
	}
	return &Breaker{
		name:     name,
		settings: settings,
		log:      log.With().Str("component", "breaker").Str("endpoint", name).Logger(),
		now:      time.Now,
		state:    StateClosed,
	}
}

// SetClock overrides the breaker clock, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Call runs fn under the breaker. In OPEN it fails fast with
// ErrCircuitOpen without invoking fn. In HALF_OPEN only a single probe
// is admitted; concurrent callers fail fast.
func (b *Breaker) Call(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	b.afterCall(err)
	return err
}

// State returns the current state, accounting for OPEN expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot describes a breaker for diagnostics output.
type Snapshot struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	OpenEpoch        int       `json:"open_epoch"`
	OpenUntil        time.Time `json:"open_until,omitempty"`
}

// Snapshot returns the breaker's current counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:             b.name,
		State:            b.state,
		ConsecutiveFails: b.consecFails,
		OpenEpoch:        b.openEpoch,
		OpenUntil:        b.openUntil,
	}
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Before(b.openUntil) {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
		if err != nil {
			b.openEpoch++
			b.open()
			return
		}
		b.consecFails = 0
		b.consecOK = 1
		b.openEpoch = 0
		b.transition(StateClosed)
		return
	}

	if err != nil {
		b.consecOK = 0
		b.consecFails++
		if b.state == StateClosed && b.consecFails >= b.settings.FailureThreshold {
			b.open()
		}
		return
	}

	b.consecFails = 0
	b.consecOK++
}

// open moves to OPEN with a timeout of recovery x 2^epoch, capped.
func (b *Breaker) open() {
	factor := 1
	for i := 0; i < b.openEpoch && factor < b.settings.MaxBackoffFactor; i++ {
		factor *= 2
	}
	if factor > b.settings.MaxBackoffFactor {
		factor = b.settings.MaxBackoffFactor
	}
	b.openUntil = b.now().Add(b.settings.RecoveryTimeout * time.Duration(factor))
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Int("consecutive_failures", b.consecFails).
		Int("open_epoch", b.openEpoch).
		Time("open_until", b.openUntil).
		Msg("breaker state change")
}

// Registry maps endpoint names to breakers, creating them on demand.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	settings Settings
	log      zerolog.Logger
}

// NewRegistry creates an empty registry using the given settings for
// every breaker it mints.
func NewRegistry(settings Settings, log zerolog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		settings: settings,
		log:      log,
	}
}

// Get returns the breaker for endpoint, creating it if needed.
func (r *Registry) Get(endpoint string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	b = NewBreaker(endpoint, r.settings, r.log)
	r.breakers[endpoint] = b
	return b
}

// Call runs fn under the endpoint's breaker.
func (r *Registry) Call(endpoint string, fn func() error) error {
	return r.Get(endpoint).Call(fn)
}

// AnyOpen reports whether any breaker is currently refusing calls.
func (r *Registry) AnyOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		if b.State() == StateOpen {
			return true
		}
	}
	return false
}

// Snapshots lists all breakers for diagnostics.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
