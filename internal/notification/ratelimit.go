package notification

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

type rateLimitedSender struct {
	next    Sender
	limiter *rate.Limiter
}

// RateLimited wraps next so that it sends at most perSecond messages per
// second. A non-positive rate returns next unchanged.
func RateLimited(next Sender, perSecond float64) Sender {
	if perSecond <= 0 {
		return next
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedSender{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimitedSender) Channel() storage.Channel { return r.next.Channel() }

func (r *rateLimitedSender) Send(ctx context.Context, sub *storage.Subscriber, deal *storage.Deal) Result {
	if err := r.limiter.Wait(ctx); err != nil {
		return Failed("rate limit wait: %v", err)
	}
	return r.next.Send(ctx, sub, deal)
}
