package cache

import (
	"fmt"
	"time"
)

// RefreshStatusKey is the hash holding one refresh status per tenant.
const RefreshStatusKey = "refresh:status"

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// UpstreamBudgetKey names the request counter of one token fingerprint for
// the fixed window starting at windowStart.
func UpstreamBudgetKey(fingerprint string, windowStart time.Time) string {
	return fmt.Sprintf("github:budget:%s:%d", fingerprint, windowStart.Unix())
}
