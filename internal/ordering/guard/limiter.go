package guard

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type LimitConfig struct {
	PerMinute   int
	PerHour     int
	MinInterval time.Duration
	// IdleAfter is how long a user's buckets are kept without traffic.
	IdleAfter time.Duration
}

func (c LimitConfig) withDefaults() LimitConfig {
	if c.PerMinute <= 0 {
		c.PerMinute = 10
	}
	if c.PerHour <= 0 {
		c.PerHour = 100
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 2 * time.Hour
	}
	return c
}

type buckets struct {
	minute   *rate.Limiter
	hour     *rate.Limiter
	interval *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces per-user message budgets. A message must fit every
// bucket or it consumes none.
type Limiter struct {
	mu     sync.Mutex
	config LimitConfig
	users  map[string]*buckets
	now    func() time.Time
}

func NewLimiter(config LimitConfig, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		config: config.withDefaults(),
		users:  make(map[string]*buckets),
		now:    now,
	}
}

func (l *Limiter) bucketsFor(userID string) *buckets {
	b, ok := l.users[userID]
	if !ok {
		c := l.config
		b = &buckets{
			minute: rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.PerMinute)), c.PerMinute),
			hour:   rate.NewLimiter(rate.Every(time.Hour/time.Duration(c.PerHour)), c.PerHour),
		}
		if c.MinInterval > 0 {
			b.interval = rate.NewLimiter(rate.Every(c.MinInterval), 1)
		}
		l.users[userID] = b
	}
	return b
}

// Allow records one message for userID. When refused, retryAfter is how
// long until the tightest bucket has room.
func (l *Limiter) Allow(userID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucketsFor(userID)
	b.lastSeen = now

	limiters := []*rate.Limiter{b.interval, b.minute, b.hour}
	reserved := make([]*rate.Reservation, 0, len(limiters))
	var wait time.Duration
	for _, lim := range limiters {
		if lim == nil {
			continue
		}
		r := lim.ReserveN(now, 1)
		reserved = append(reserved, r)
		if d := r.DelayFrom(now); d > wait {
			wait = d
		}
	}
	if wait == 0 {
		return true, 0
	}
	for _, r := range reserved {
		r.CancelAt(now)
	}
	return false, wait
}

// Prune drops users idle for longer than IdleAfter and returns how many.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.config.IdleAfter)
	n := 0
	for id, b := range l.users {
		if b.lastSeen.Before(cutoff) {
			delete(l.users, id)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// Run prunes on every tick until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
