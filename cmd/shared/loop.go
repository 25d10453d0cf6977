package shared

import (
	"context"
	"time"
)

// Loop calls tick every interval until ctx is done or tick returns false.
func Loop(ctx context.Context, interval time.Duration, tick func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !tick() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
