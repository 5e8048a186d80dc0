package supervisor

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type RetryConfig struct {
	Backoff1 time.Duration // default: 10 seconds
	Backoff2 time.Duration // default: 15 seconds
	Backoff3 time.Duration // default: 30 seconds
	Backoff4 time.Duration // default: 60 seconds

	// Jitter adds up to this much random delay on top of a backoff step.
	Jitter time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Backoff1: 10 * time.Second,
		Backoff2: 15 * time.Second,
		Backoff3: 30 * time.Second,
		Backoff4: 60 * time.Second,
	}
}

// RetryPolicy decides how long the poller waits after consecutive transient
// failures. It never returns less than the regular poll interval.
type RetryPolicy struct {
	cfg      RetryConfig
	interval time.Duration
	r        Rand
}

func NewRetryPolicy(cfg RetryConfig, interval time.Duration, r Rand) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RetryPolicy{cfg: cfg, interval: interval, r: r}
}

// Delay returns the wait before the next poll given the number of
// consecutive failures so far. Zero failures means the regular interval.
func (p *RetryPolicy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return p.interval
	}
	var d time.Duration
	switch failures {
	case 1:
		d = p.cfg.Backoff1
	case 2:
		d = p.cfg.Backoff2
	case 3:
		d = p.cfg.Backoff3
	default:
		d = p.cfg.Backoff4
	}
	if sec := int(p.cfg.Jitter.Seconds()); sec > 0 {
		d += time.Duration(p.r.Intn(sec+1)) * time.Second
	}
	if d < p.interval {
		d = p.interval
	}
	return d
}
