package publisher

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerPublisher wraps a platform client with a circuit breaker so a dead
// platform stops consuming rate-limiter slots after a few consecutive
// failures. An open breaker surfaces as a network-kind error.
type BreakerPublisher struct {
	inner Publisher
	cb    *gobreaker.CircuitBreaker
}

func WithBreaker(inner Publisher) *BreakerPublisher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Platform(),
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &BreakerPublisher{inner: inner, cb: cb}
}

func (p *BreakerPublisher) Platform() string {
	return p.inner.Platform()
}

func (p *BreakerPublisher) Publish(ctx context.Context, req Request) (*Result, error) {
	res, err := p.cb.Execute(func() (interface{}, error) {
		return p.inner.Publish(ctx, req)
	})
	if err != nil {
		return nil, translateBreakerErr(err)
	}
	return res.(*Result), nil
}

func (p *BreakerPublisher) DeletePost(ctx context.Context, externalPostID string) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.inner.DeletePost(ctx, externalPostID)
	})
	return translateBreakerErr(err)
}

func translateBreakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return &Error{Kind: KindNetwork, Message: "circuit breaker open: " + err.Error()}
	}
	return err
}
