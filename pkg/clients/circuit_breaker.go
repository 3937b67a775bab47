package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerConfig controls when the breaker trips and recovers.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // probe successes that close it again
	Timeout          time.Duration // how long the circuit stays open
	MinRequests      int64         // recent calls needed before the failure rate counts
}

// CircuitState is the breaker position.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Failure rate over the recent outcomes that trips the circuit even without
// a long run of consecutive failures.
const tripFailureRate = 0.5

// HTTPCircuitBreaker stops sending API calls after repeated transport failures
// or server errors. Remote rejections (4xx) never count as failures.
type HTTPCircuitBreaker struct {
	cfg    CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitState
	changedAt time.Time
	failures  int // consecutive, while closed
	successes int // consecutive, while half-open
	probes    int // in flight, while half-open
	recent    outcomes
}

// outcomes is a ring of the most recent call results.
type outcomes struct {
	ring   []bool // true = failed
	next   int
	filled int
	failed int
}

func (o *outcomes) add(failed bool) {
	if o.filled == len(o.ring) {
		if o.ring[o.next] {
			o.failed--
		}
	} else {
		o.filled++
	}
	o.ring[o.next] = failed
	if failed {
		o.failed++
	}
	o.next = (o.next + 1) % len(o.ring)
}

func (o *outcomes) rate() float64 {
	if o.filled == 0 {
		return 0
	}
	return float64(o.failed) / float64(o.filled)
}

func (o *outcomes) reset() {
	clear(o.ring)
	o.next, o.filled, o.failed = 0, 0, 0
}

// NewHTTPCircuitBreaker returns a closed breaker.
func NewHTTPCircuitBreaker(cfg CircuitBreakerConfig, log *zap.Logger) *HTTPCircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPCircuitBreaker{
		cfg:       cfg,
		logger:    log.With(zap.String("component", "circuit_breaker")),
		now:       time.Now,
		changedAt: time.Now(),
		recent:    outcomes{ring: make([]bool, cfg.MinRequests)},
	}
}

// Allow reports whether a call may go out. Once the open timeout has passed
// the breaker admits up to SuccessThreshold probe calls at a time.
func (cb *HTTPCircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.changedAt) < cb.cfg.Timeout {
			return false
		}
		cb.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.cfg.SuccessThreshold {
			return false
		}
		cb.probes++
		return true
	default:
		return true
	}
}

// RecordSuccess notes a call that reached the API and got a non-5xx answer.
func (cb *HTTPCircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.recent.add(false)
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probes--
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// RecordFailure notes a transport failure or 5xx answer.
func (cb *HTTPCircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.recent.add(true)
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold ||
			(int64(cb.recent.filled) >= cb.cfg.MinRequests && cb.recent.rate() >= tripFailureRate) {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held.
func (cb *HTTPCircuitBreaker) setState(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.changedAt = cb.now()
	cb.failures, cb.successes, cb.probes = 0, 0, 0
	if to == StateClosed {
		cb.recent.reset()
	}

	fields := []zap.Field{
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Float64("failure_rate", cb.recent.rate()),
	}
	if to == StateOpen {
		cb.logger.Warn("circuit opened", append(fields, zap.Duration("retry_after", cb.cfg.Timeout))...)
		return
	}
	cb.logger.Info("circuit state changed", fields...)
}

// CircuitBreakerState is a snapshot for stats and logging.
type CircuitBreakerState struct {
	State       string        `json:"state"`
	Since       time.Duration `json:"since"`
	Failures    int           `json:"consecutive_failures"`
	FailureRate float64       `json:"failure_rate"`
	Recent      int           `json:"recent_requests"`
}

// GetState returns the current breaker state.
func (cb *HTTPCircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerState{
		State:       cb.state.String(),
		Since:       cb.now().Sub(cb.changedAt),
		Failures:    cb.failures,
		FailureRate: cb.recent.rate(),
		Recent:      cb.recent.filled,
	}
}
