package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xxxsen/kbchat/internal/pkg/response"
)

type keyLimiter struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*rate.Limiter
}

// RateLimit allows perMinute requests per api key with burst equal to the
// rate, keyed on the id the auth middleware resolved.
func RateLimit(perMinute int) gin.HandlerFunc {
	limiter := &keyLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
	return limiter.handle
}

func (l *keyLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.limiters[key] = lim
	}
	return lim
}

func (l *keyLimiter) handle(c *gin.Context) {
	if l.perMinute <= 0 {
		c.Next()
		return
	}
	key := APIKeyID(c)
	if key == "" {
		key = c.ClientIP()
	}
	if !l.get(key).Allow() {
		logutil.GetLogger(c.Request.Context()).Warn("rate limit hit",
			zap.String("api_key_id", key),
			zap.String("path", c.FullPath()),
		)
		response.Error(c, http.StatusTooManyRequests, "rate_limited", http.StatusText(http.StatusTooManyRequests))
		c.Abort()
		return
	}
	c.Next()
}
