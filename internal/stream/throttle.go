package stream

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds the token bucket burst so a single throttled write
// doesn't reserve an unreasonably large token grant up front.
const maxBurstSize = 256 * 1024

// throttledWriter rate-limits Write calls to a fixed bytes/sec budget,
// chunking writes larger than the burst size so the limiter drains
// gradually instead of admitting the whole write at once.
type throttledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// newThrottledWriter wraps w with a token-bucket limiter capped at
// bytesPerSec. If bytesPerSec <= 0, w is returned unwrapped (no throttle).
func newThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &throttledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return totalWritten, err
		}

		n, err := tw.w.Write(p[:chunk])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[n:]
	}

	return totalWritten, nil
}
