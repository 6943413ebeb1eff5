package events

import (
	"context"
	"errors"
)

// Multi fans an event out to every sink and joins their errors.
type Multi []Bus

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
