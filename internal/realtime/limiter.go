package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool holds one token bucket per browser session. Entries not seen
// for ttl are dropped by the cleanup loop.
type limiterPool struct {
	mu    sync.Mutex
	m     map[uuid.UUID]*limiterEntry
	limit rate.Limit
	burst int
	ttl   time.Duration

	startCleanup sync.Once
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// newLimiterPool allows at most perMinute messages per session in any minute.
// Half of them may be sent at once, the rest refill evenly over the minute.
func newLimiterPool(perMinute int) *limiterPool {
	if perMinute <= 0 {
		perMinute = 20
	}
	burst := (perMinute + 1) / 2
	refill := max(perMinute-burst, 1)
	return &limiterPool{
		m:      make(map[uuid.UUID]*limiterEntry),
		limit:  rate.Every(time.Minute / time.Duration(refill)),
		burst:  burst,
		ttl:    10 * time.Minute,
		stopCh: make(chan struct{}),
	}
}

func (p *limiterPool) get(key uuid.UUID) *rate.Limiter {
	p.startCleanup.Do(func() {
		go p.cleanupLoop(time.Minute)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = time.Now()
		return e.l
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: time.Now()}
	return l
}

func (p *limiterPool) Allow(key uuid.UUID) bool {
	return p.allowAt(key, time.Now())
}

func (p *limiterPool) allowAt(key uuid.UUID, now time.Time) bool {
	return p.get(key).AllowN(now, 1)
}

func (p *limiterPool) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.ttl)
			p.mu.Lock()
			for k, e := range p.m {
				if e.lastSeen.Before(cutoff) {
					delete(p.m, k)
				}
			}
			p.mu.Unlock()
		}
	}
}

func (p *limiterPool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
