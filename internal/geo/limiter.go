package geo

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval keeps external lookups under one request per second.
const DefaultMinInterval = 1100 * time.Millisecond

// ServiceLimiter spaces calls per external service name. It is safe for
// concurrent use within one process; it does not coordinate across processes.
type ServiceLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

// NewServiceLimiter creates a limiter allowing one call per interval per
// service. A non-positive interval uses DefaultMinInterval.
func NewServiceLimiter(interval time.Duration) *ServiceLimiter {
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &ServiceLimiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *ServiceLimiter) limiter(service string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[service]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.interval), 1)
		s.limiters[service] = l
	}
	return l
}

// Wait blocks until service may be called again or ctx is done.
func (s *ServiceLimiter) Wait(ctx context.Context, service string) error {
	return s.limiter(service).Wait(ctx)
}

// Throttle returns a Wait bound to one service, suitable as a pre-request hook.
func (s *ServiceLimiter) Throttle(service string) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.Wait(ctx, service)
	}
}
