package adapter

import (
	"context"
	"errors"
)

// Fanout publishes every update to a set of adapters. Each target gets
// the update even when an earlier one fails; errors are joined.
type Fanout struct {
	targets []Adapter
}

// NewFanout creates a fanout over the given adapters. Nil entries are
// skipped. A fanout over zero or one adapter is still valid.
func NewFanout(targets ...Adapter) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		if t != nil {
			f.targets = append(f.targets, t)
		}
	}
	return f
}

// Publish delivers the update to all targets.
func (f *Fanout) Publish(ctx context.Context, update *ApplyUpdate) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.Publish(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all targets.
func (f *Fanout) Close() error {
	var errs []error
	for _, t := range f.targets {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = (*Fanout)(nil)
