package cache

import (
	"fmt"
	"time"
)

// RateLimitWindow is the length of one rate limiting window.
const RateLimitWindow = time.Minute

// RateLimitKey generates the Redis key counting a client's requests in the
// window that contains now.
func RateLimitKey(clientIP string, now time.Time) string {
	return fmt.Sprintf("ratelimit:ip:%s:%d", clientIP, now.Unix()/int64(RateLimitWindow/time.Second))
}
