package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

// ReaderHeader identifies the card reader a request comes from. Several
// readers may share one NAT address, so it takes precedence over the IP.
const ReaderHeader = "X-Reader-ID"

// SimpleTokenBucket is an in-memory rate limiter keyed by reader.
type SimpleTokenBucket struct {
	capacity int
	rate     int
	clock    clockwork.Clock
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int, c clockwork.Clock) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		rate:     perMinute,
		clock:    c,
		state:    make(map[string]*bucket),
	}
}

// GinMiddleware returns gin handler enforcing per-reader limits.
func (l *SimpleTokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(ReaderHeader)
		if key == "" {
			key = c.ClientIP()
		}
		if key == "" {
			key = "unknown"
		}
		if !l.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *SimpleTokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.state[key]
	now := l.clock.Now()
	if !ok {
		b = &bucket{tokens: l.capacity - 1, last: now}
		l.state[key] = b
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
