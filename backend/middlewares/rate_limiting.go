package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ravigill3969/depo-billing/backend/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitWindow = 1 * time.Minute

// incrWindow counts a hit and makes sure the key expires. The TTL check also
// repairs a key left without one.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RateLimiter is a fixed-window counter per client IP kept in Redis.
// X-Forwarded-For is only honoured when TrustProxy is set.
type RateLimiter struct {
	Redis       redis.Cmdable
	MaxRequests int
	TrustProxy  bool
	Logger      *zap.Logger
}

func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.key(r)

		allowed, err := rl.allow(r.Context(), key)
		if err != nil {
			rl.Logger.Error("rate limit check failed", zap.String("key", key), zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "Internal Error")
			return
		}
		if !allowed {
			utils.RespondError(w, http.StatusTooManyRequests, "Too many requests, wait for one minute!")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) key(r *http.Request) string {
	return "rate_limit:payments:" + ClientIP(r, rl.TrustProxy)
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	count, err := incrWindow.Run(ctx, rl.Redis, []string{key}, rateLimitWindow.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}

	return count <= int64(rl.MaxRequests), nil
}

// ClientIP returns the peer address of r. With trustProxy the first
// X-Forwarded-For hop set by the load balancer wins.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
