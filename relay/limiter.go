package relay

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/beacon/event"
)

// Limiter applies a token bucket per channel. It is safe for concurrent
// use.
type Limiter struct {
	mu       sync.Mutex
	limit    float64
	burst    int
	channels map[event.Channel]*rate.Limiter
}

// NewLimiter creates a Limiter allowing perSecond envelopes per channel
// with the given burst. A zero rate disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{
		limit:    perSecond,
		burst:    burst,
		channels: make(map[event.Channel]*rate.Limiter),
	}
}

func newBucket(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Allow reports whether one envelope on ch may pass now.
func (l *Limiter) Allow(ch event.Channel) bool {
	return l.AllowAt(ch, time.Now())
}

// AllowAt reports whether one envelope on ch may pass at the given time.
func (l *Limiter) AllowAt(ch event.Channel, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.channels[ch]
	if !ok {
		b = newBucket(l.limit, l.burst)
		l.channels[ch] = b
	}
	if b == nil {
		return true
	}
	return b.AllowN(now, 1)
}

// SetRate reconfigures one channel's bucket. The bucket starts full.
func (l *Limiter) SetRate(ch event.Channel, perSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels[ch] = newBucket(perSecond, burst)
}
