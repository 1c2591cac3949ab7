package httpapi

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/m3rciful/botengine/core/logger"
)

// Recover turns a panic into a 500 and logs the stack.
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.HTTP.Error("panic recovered",
					slog.String("event", "http.panic"),
					slog.String("rid", logger.RIDFrom(c.Request.Context())),
					slog.String("err", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// RequestLogger assigns a request id and logs one line per request.
func RequestLogger() gin.HandlerFunc {
	var seq atomic.Uint64
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-Id")
		if rid == "" {
			rid = fmt.Sprintf("http-%d-%d", start.UnixMilli(), seq.Add(1))
		}
		rid = logger.SanitizeLimit(rid, 64)
		c.Request = c.Request.WithContext(logger.WithRID(c.Request.Context(), rid))
		c.Header("X-Request-Id", rid)

		c.Next()

		code := c.Writer.Status()
		level, status := slog.LevelInfo, "ok"
		switch {
		case code == http.StatusTooManyRequests:
			level, status = slog.LevelWarn, "rate_limited"
		case code >= http.StatusInternalServerError:
			level, status = slog.LevelError, "fail"
		case code >= http.StatusBadRequest:
			level, status = slog.LevelWarn, "fail"
		}
		logger.LogEvent(c.Request.Context(), logger.HTTP, level, "http.request",
			slog.String("status", status),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("http_code", code),
			slog.Duration("duration", logger.Took(start)),
		)
	}
}

// Limiters holds one token bucket per messenger. Buckets are created only for
// messengers that resolved, so the set is bounded by the stored accounts.
type Limiters struct {
	rps   float64
	burst int

	mu   sync.Mutex
	byID map[int64]*rate.Limiter
}

// NewLimiters returns a limiter set allowing rps requests per second with the
// given burst. rps <= 0 disables limiting.
func NewLimiters(rps float64, burst int) *Limiters {
	if burst <= 0 {
		burst = 1
	}
	return &Limiters{rps: rps, burst: burst, byID: make(map[int64]*rate.Limiter)}
}

// Allow takes a token from the bucket of messenger id.
func (l *Limiters) Allow(id int64) bool {
	if l == nil || l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.byID[id]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.byID[id] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Len reports how many buckets exist.
func (l *Limiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// RateLimit throttles each resolved messenger on its own bucket. It must run
// after ResolveMessenger.
func RateLimit(limits *Limiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := messengerFrom(c)
		if !ok {
			c.Next()
			return
		}
		if !limits.Allow(m.ID) {
			logger.Warn(c.Request.Context(), "http", "http.rate_limit",
				slog.String("status", "rate_limited"),
				slog.Int64("messenger_id", m.ID),
			)
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// RequireAdmin checks the bearer token. An empty token rejects every call.
func RequireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}
		c.Next()
	}
}
