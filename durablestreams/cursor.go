package durablestreams

import (
	"math/rand"
	"strconv"
	"time"
)

// cursorEpoch anchors the interval numbering; any fixed instant works since
// the cursor is opaque to clients and only needs to be monotonic per server.
var cursorEpoch = time.Date(2024, 10, 9, 0, 0, 0, 0, time.UTC)

const cursorIntervalSeconds = 20

// jitterMax bounds the random(0..3600) term from spec §4.J's cursor formula.
const jitterMax = 3600

// cursorRand is a dedicated, non-cryptographic source for jitter: the
// cursor is a cache-busting key, not a secret, so math/rand is the
// appropriate tool (spec Design Notes).
var cursorRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// currentCursorInterval computes (now_seconds - cursor_epoch) / cursor_interval_seconds.
func currentCursorInterval(now time.Time) int64 {
	return (now.Unix() - cursorEpoch.Unix()) / cursorIntervalSeconds
}

// generateResponseCursor implements the monotonic-cursor rule: if the
// client's presented cursor is already at or ahead of the server's own
// computed interval, jitter it forward so two long-poll/SSE responses in
// the same interval don't collapse onto an identical CDN cache key.
func generateResponseCursor(clientCursor string) string {
	current := currentCursorInterval(time.Now())

	if clientCursor == "" {
		return strconv.FormatInt(current, 10)
	}

	clientInterval, err := strconv.ParseInt(clientCursor, 10, 64)
	if err != nil || clientInterval < current {
		return strconv.FormatInt(current, 10)
	}

	jitter := int64(cursorRand.Intn(jitterMax + 1))
	return strconv.FormatInt(clientInterval+1+jitter, 10)
}
