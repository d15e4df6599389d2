// Package sink delivers encoded snapshot records.
package sink

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("sink: closed")

// Sink accepts one complete record per Write. Writes come from a single
// goroutine; implementations need not be safe for concurrent Write.
type Sink interface {
	Write(ctx context.Context, record []byte) error
	Close() error
}

type tee []Sink

// Tee fans each record out to every sink. A failure in one sink does not
// stop delivery to the others.
func Tee(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return tee(sinks)
}

func (t tee) Write(ctx context.Context, record []byte) error {
	var errs []error
	for _, s := range t {
		if err := s.Write(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
