package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Fallbacks when the gateway config leaves rate limiting unset.
const (
	defaultLimitRPS   = 50
	defaultLimitBurst = 100
)

// limits resolves the configured rate/burst pair for one caller.
func (c SecConfig) limits() (rate.Limit, int) {
	rps := c.RPS
	if rps <= 0 {
		rps = defaultLimitRPS
	}
	burst := c.Burst
	if burst <= 0 {
		burst = defaultLimitBurst
	}
	return rate.Limit(rps), burst
}

// limiterPool hands out one token bucket per caller key (api key or
// client ip). Buckets live for the process lifetime.
type limiterPool struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	cfg     SecConfig
}

func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	l, ok := p.buckets[key]
	if !ok {
		if p.buckets == nil {
			p.buckets = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(p.cfg.limits())
		p.buckets[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
