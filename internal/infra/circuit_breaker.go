package infra

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ── Circuit Breaker ───────────────────────────────────────────────────────────
// Guards the terminal's calls to the cash server so an outage fails fast
// instead of stacking request timeouts behind the operator.
//
//   closed ──(FailureThreshold consecutive failures)──▶ open
//   open ──(OpenTimeout elapsed)──▶ half-open
//   half-open ──(SuccessThreshold probe successes)──▶ closed
//   half-open ──(probe failure)──▶ open
//
// Half-open admits a single probe at a time; concurrent callers fail fast.

type CBState int

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute without calling fn.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitBreakerConfig struct {
	Name             string        // log label, defaults to "cash_api"
	FailureThreshold int           // default 5
	SuccessThreshold int           // default 2
	OpenTimeout      time.Duration // default 60s
}

// DefaultCBConfig is what the drawer terminal uses.
func DefaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "cash_api",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      20 * time.Second,
	}
}

type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     CBState
	failures  int // consecutive, while closed
	successes int // consecutive, while half-open
	openedAt  time.Time
	probing   bool
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "cash_api"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	return &CircuitBreaker{cfg: cfg}
}

// State reports the current state, moving open to half-open once the
// timeout has elapsed.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current()
}

// Execute runs fn unless the breaker is open or a half-open probe is
// already in flight. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.current() {
	case CBOpen:
		return false
	case CBHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	wasProbe := cb.state == CBHalfOpen
	if wasProbe {
		cb.probing = false
	}

	if err != nil {
		cb.failures++
		if wasProbe || cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(CBOpen)
			cb.openedAt = time.Now()
		}
		return
	}

	if !wasProbe {
		cb.failures = 0
		return
	}
	cb.successes++
	if cb.successes >= cb.cfg.SuccessThreshold {
		cb.transition(CBClosed)
	}
}

// current must be called with mu held.
func (cb *CircuitBreaker) current() CBState {
	if cb.state == CBOpen && time.Since(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.transition(CBHalfOpen)
	}
	return cb.state
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CBState) {
	if cb.state == to {
		return
	}
	log.Warn().
		Str("breaker", cb.cfg.Name).
		Str("from", cb.state.String()).
		Str("to", to.String()).
		Int("failures", cb.failures).
		Msg("circuit breaker state change")
	cb.state = to
	cb.failures, cb.successes, cb.probing = 0, 0, false
}
