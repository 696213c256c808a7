package notify

import (
	"context"
	"errors"
)

// fanoutPublisher delivers each message to every wrapped Publisher in
// order, continuing past a failure so one broken channel cannot block the
// others.
type fanoutPublisher struct {
	publishers []Publisher
}

// Fanout combines several publishers into one, e.g. an external queue plus
// a local audit trail that must both see every completion event. A nil
// publisher in the list is dropped; fanning out to exactly one publisher
// returns it unwrapped.
func Fanout(publishers ...Publisher) Publisher {
	nonNil := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			nonNil = append(nonNil, p)
		}
	}
	if len(nonNil) == 1 {
		return nonNil[0]
	}
	return &fanoutPublisher{publishers: nonNil}
}

func (f *fanoutPublisher) Publish(ctx context.Context, msg BundleCompletion) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutPublisher) Close() error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
