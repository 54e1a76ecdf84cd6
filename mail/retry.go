package mail

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetrySender retries transient failures of the wrapped sender with
// exponential backoff. Errors wrapping ErrPermanent are returned at once.
type RetrySender struct {
	next       Sender
	base       time.Duration
	maxRetries uint64
}

// NewRetrySender wraps next. maxRetries counts retries after the first attempt.
func NewRetrySender(next Sender, base time.Duration, maxRetries uint64) *RetrySender {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &RetrySender{next: next, base: base, maxRetries: maxRetries}
}

func (r *RetrySender) Send(ctx context.Context, msg Message) error {
	b := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.base))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := r.next.Send(ctx, msg)
		if err == nil || errors.Is(err, ErrPermanent) {
			return err
		}
		return retry.RetryableError(err)
	})
}
