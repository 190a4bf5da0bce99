package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const minIdleTTL = 10 * time.Minute

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterSet hands out one limiter per client address and forgets clients
// that have been idle for longer than ttl. An idle client's bucket has
// refilled by then, so forgetting it never grants extra requests.
type limiterSet struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	ttl := minIdleTTL
	if limit > 0 {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > ttl {
			ttl = refill
		}
	}
	return &limiterSet{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	now := s.now()
	s.sweep(now)
	c, ok := s.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = c
	}
	c.seen = now
	s.mu.Unlock()

	return c.lim.AllowN(now, 1)
}

// sweep runs at most once per ttl; callers hold mu.
func (s *limiterSet) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.ttl {
		return
	}
	s.lastSweep = now
	for key, c := range s.clients {
		if now.Sub(c.seen) >= s.ttl {
			delete(s.clients, key)
		}
	}
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
