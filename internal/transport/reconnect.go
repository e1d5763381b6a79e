package transport

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BackoffConfig configures the reconnect delay curve.
type BackoffConfig struct {
	BaseDelay time.Duration `json:"base_delay"` // first retry delay (default: 500ms)
	MaxDelay  time.Duration `json:"max_delay"`  // delay ceiling (default: 20s)
}

// DefaultBackoffConfig returns the backoff parameters used against the
// production chat backend.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  20 * time.Second,
	}
}

// reconnectPolicy schedules reconnect attempts after unexpected socket
// closure with exponential backoff. At most one timer is ever pending;
// a Schedule while waiting is a no-op. Cancel stops the pending timer and
// Reset clears the attempt counter after a successful connect.
type reconnectPolicy struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	attempts int
	timer    *time.Timer
}

func newReconnectPolicy(cfg BackoffConfig) *reconnectPolicy {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBackoffConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultBackoffConfig().MaxDelay
	}
	return &reconnectPolicy{cfg: cfg}
}

// delayFor computes min(base * 2^attempt, max).
func (p *reconnectPolicy) delayFor(attempt int) time.Duration {
	delay := p.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	if delay > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return delay
}

// Schedule arms the reconnect timer and returns the chosen delay. When a
// timer is already pending the call is a no-op and returns false.
func (p *reconnectPolicy) Schedule(fn func()) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		return 0, false
	}
	delay := p.delayFor(p.attempts)
	p.attempts++
	p.timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		p.timer = nil
		p.mu.Unlock()
		fn()
	})
	log.Debug().Dur("delay", delay).Int("attempt", p.attempts).Msg("Reconnect scheduled")
	return delay, true
}

// Cancel stops any pending reconnect timer.
func (p *reconnectPolicy) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Reset clears the attempt counter after a successful connect.
func (p *reconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
}

// Waiting reports whether a reconnect timer is pending.
func (p *reconnectPolicy) Waiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}
