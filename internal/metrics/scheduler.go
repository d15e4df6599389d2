package metrics

import (
	"context"
	"fmt"
	"time"

	"hwsampler/internal/codec"
	"hwsampler/internal/domain"
	"hwsampler/internal/logger"
	"hwsampler/internal/sink"
)

// Scheduler runs sample → emit cycles. The interval is the sleep after a
// cycle finishes, so slow cycles stretch the period instead of being
// skipped.
type Scheduler struct {
	interval time.Duration
	log      logger.Logger
	sample   func(context.Context) domain.Snapshot
	emit     func(context.Context, domain.Snapshot) error

	// MaxCycles stops the loop after that many cycles. Zero runs until the
	// context is cancelled.
	MaxCycles uint64
}

func NewScheduler(
	interval time.Duration,
	log logger.Logger,
	sample func(context.Context) domain.Snapshot,
	emit func(context.Context, domain.Snapshot) error,
) *Scheduler {
	return &Scheduler{
		interval: interval,
		log:      log,
		sample:   sample,
		emit:     emit,
	}
}

// Emitter encodes a snapshot and hands the record to out.
func Emitter(enc codec.Encoder, out sink.Sink) func(context.Context, domain.Snapshot) error {
	return func(ctx context.Context, snap domain.Snapshot) error {
		record, err := enc.Encode(snap)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if err := out.Write(ctx, record); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		return nil
	}
}

// Run samples immediately and then once per interval until ctx is
// cancelled or MaxCycles is reached. Cancellation is observed between
// cycles only; an in-flight cycle always completes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("sampling started", "interval", s.interval, "max_cycles", s.MaxCycles)

	var cycles uint64
	for {
		if ctx.Err() != nil {
			s.log.Info("sampling stopped", "cycles", cycles)
			return nil
		}

		s.tick(context.WithoutCancel(ctx), cycles)
		cycles++

		if s.MaxCycles > 0 && cycles >= s.MaxCycles {
			s.log.Info("sampling finished", "cycles", cycles)
			return nil
		}

		s.idle(ctx)
	}
}

func (s *Scheduler) tick(ctx context.Context, cycle uint64) {
	if s.sample == nil || s.emit == nil {
		return
	}

	snap := s.sample(ctx)
	if err := s.emit(ctx, snap); err != nil {
		s.log.Error("emit failed", "cycle", cycle, "error", err)
	}
}

func (s *Scheduler) idle(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
