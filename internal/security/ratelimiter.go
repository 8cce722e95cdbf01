package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ibsfleet/controller/internal/logging"
)

// RateLimiter throttles API requests using a token bucket per client ID.
// It sits in front of the API surface only; enforcement paths are never
// rate limited.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	logger   *logging.Logger
}

// NewRateLimiter returns a limiter allowing requestsPerWindow requests per
// window, per client.
func NewRateLimiter(requestsPerWindow int, window time.Duration, logger *logging.Logger) *RateLimiter {
	if requestsPerWindow <= 0 {
		requestsPerWindow = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limiters: map[string]*rate.Limiter{},
		rps:      rate.Limit(float64(requestsPerWindow) / window.Seconds()),
		burst:    requestsPerWindow,
		logger:   logger,
	}
}

// Allow reports whether clientID may proceed, consuming a token if so.
func (r *RateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(r.rps, r.burst)
		r.limiters[clientID] = limiter
	}
	r.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed && r.logger != nil {
		r.logger.WithField("client_id", clientID).Warn("rate limit exceeded")
	}
	return allowed
}

// Forget drops per-client state, used to bound memory for long-lived
// processes with a churning client population.
func (r *RateLimiter) Forget(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, clientID)
}
