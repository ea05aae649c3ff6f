// Package circuitbreaker stops the relay hammering a transport that is down.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is where a breaker is in its cycle.
//
//	closed    -> open       MaxFailures consecutive transport failures
//	open      -> half-open  RecoveryTimeout after opening, on the next read
//	half-open -> closed     a probe succeeds
//	half-open -> open       a probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrCircuitOpen matches every rejection made by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is a rejection. RetryAt is when the breaker next lets a probe through.
type OpenError struct {
	Breaker string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: %s unavailable until %s", ErrCircuitOpen, e.Breaker, e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Config tunes one breaker.
type Config struct {
	// Name identifies the transport, e.g. "ses", "twilio", "sqs".
	Name string

	MaxFailures         int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int

	// IsFailure reports whether err says the transport is unhealthy. A
	// rejected recipient is the message's fault and should return false.
	// Nil treats every error as a failure.
	IsFailure func(error) bool

	// OnStateChange runs after every transition, with the lock released.
	OnStateChange func(name string, from, to State)

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// DefaultConfig returns the relay's defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

type counts struct {
	requests  int64
	successes int64
	failures  int64
	rejected  int64

	consecutive int
	probes      int
}

type transition struct{ from, to State }

// CircuitBreaker guards one outbound transport.
type CircuitBreaker struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	counts      counts
	openedAt    time.Time
	lastFailure time.Time
	changedAt   time.Time
}

// New creates a closed breaker.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CircuitBreaker{
		cfg:       cfg,
		logger:    logger.With(zap.String("breaker", cfg.Name)),
		changedAt: cfg.Now(),
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Allow admits a call or returns an *OpenError.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	now := cb.cfg.Now()
	moved := cb.refresh(now)
	cb.counts.requests++

	var err error
	switch cb.state {
	case StateOpen:
		cb.counts.rejected++
		err = &OpenError{Breaker: cb.cfg.Name, RetryAt: cb.openedAt.Add(cb.cfg.RecoveryTimeout)}
	case StateHalfOpen:
		if cb.counts.probes >= cb.cfg.HalfOpenMaxRequests {
			cb.counts.rejected++
			err = &OpenError{Breaker: cb.cfg.Name, RetryAt: now.Add(cb.cfg.RecoveryTimeout)}
			break
		}
		cb.counts.probes++
	}
	cb.mu.Unlock()

	cb.notify(moved)
	return err
}

// Record feeds the result of an admitted call back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	failed := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))

	cb.mu.Lock()
	now := cb.cfg.Now()
	var moved []transition
	if failed {
		moved = cb.onFailure(now)
	} else {
		moved = cb.onSuccess(now)
	}
	cb.mu.Unlock()

	cb.notify(moved)
}

func (cb *CircuitBreaker) onSuccess(now time.Time) []transition {
	cb.counts.successes++
	cb.counts.consecutive = 0
	if cb.state == StateHalfOpen {
		return cb.setState(StateClosed, now)
	}
	return nil
}

func (cb *CircuitBreaker) onFailure(now time.Time) []transition {
	cb.counts.failures++
	cb.counts.consecutive++
	cb.lastFailure = now

	switch cb.state {
	case StateClosed:
		if cb.counts.consecutive >= cb.cfg.MaxFailures {
			return cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		return cb.setState(StateOpen, now)
	}
	return nil
}

// refresh moves an expired open breaker to half-open. Caller holds mu.
func (cb *CircuitBreaker) refresh(now time.Time) []transition {
	if cb.state == StateOpen && !now.Before(cb.openedAt.Add(cb.cfg.RecoveryTimeout)) {
		return cb.setState(StateHalfOpen, now)
	}
	return nil
}

// setState records a transition. Caller holds mu.
func (cb *CircuitBreaker) setState(to State, now time.Time) []transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.changedAt = now
	cb.counts.probes = 0
	if to == StateOpen {
		cb.openedAt = now
	}
	return []transition{{from: from, to: to}}
}

func (cb *CircuitBreaker) notify(moved []transition) {
	for _, t := range moved {
		switch t.to {
		case StateOpen:
			cb.logger.Warn("circuit breaker opened",
				zap.String("from", t.from.String()),
				zap.Int("threshold", cb.cfg.MaxFailures),
				zap.Duration("recovery_timeout", cb.cfg.RecoveryTimeout),
			)
		case StateClosed:
			cb.logger.Info("circuit breaker closed, transport recovered")
		default:
			cb.logger.Info("circuit breaker half-open, allowing probe")
		}
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
		}
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	moved := cb.refresh(cb.cfg.Now())
	s := cb.state
	cb.mu.Unlock()

	cb.notify(moved)
	return s
}

// Reset closes the breaker and clears its failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	moved := cb.setState(StateClosed, cb.cfg.Now())
	cb.counts.consecutive = 0
	cb.mu.Unlock()

	cb.notify(moved)
}

// Stats is a snapshot for the admin API.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	OpenUntil       string `json:"open_until,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

// Stats returns the breaker's counters and state.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:            cb.cfg.Name,
		State:           cb.state.String(),
		FailureCount:    cb.counts.consecutive,
		TotalRequests:   cb.counts.requests,
		TotalFailures:   cb.counts.failures,
		TotalSuccesses:  cb.counts.successes,
		TotalRejected:   cb.counts.rejected,
		LastStateChange: cb.changedAt.UTC().Format(time.RFC3339),
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailure = cb.lastFailure.UTC().Format(time.RFC3339)
	}
	if cb.state == StateOpen {
		s.OpenUntil = cb.openedAt.Add(cb.cfg.RecoveryTimeout).UTC().Format(time.RFC3339)
	}
	return s
}

// Registry collects the breakers of every transport for reporting.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Add registers a breaker under its name, replacing any previous one.
func (r *Registry) Add(cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.Name()] = cb
}

// Get looks up a breaker by name.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Stats lists every breaker's stats ordered by name.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Stats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
