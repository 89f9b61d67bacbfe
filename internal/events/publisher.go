// Package events fans trip events out to live subscribers and the message bus.
package events

import (
	"context"
	"errors"

	"github.com/shiva/campusride/internal/model"
)

// Publisher delivers a trip event to one sink.
type Publisher interface {
	Publish(ctx context.Context, evt model.TripEvent) error
}

// Multi publishes to every sink and joins their failures.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt model.TripEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
