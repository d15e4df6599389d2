// Package metrics assembles snapshots and drives the sampling loop.
package metrics

import (
	"context"
	"time"

	"hwsampler/internal/domain"
	"hwsampler/internal/logger"
)

type Sampler struct {
	host domain.HostSource
	gpus domain.GPUSource
	log  logger.Logger

	// now stamps snapshots; nil leaves Timestamp unset.
	now func() time.Time
}

func NewSampler(host domain.HostSource, gpus domain.GPUSource, log logger.Logger) *Sampler {
	return &Sampler{
		host: host,
		gpus: gpus,
		log:  log,
	}
}

// WithClock makes Collect stamp each snapshot with now().
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// Collect refreshes the host source and composes one snapshot. A failed
// refresh is logged; the snapshot then carries the last good host values.
func (s *Sampler) Collect(ctx context.Context) domain.Snapshot {
	if err := s.host.Refresh(ctx); err != nil {
		s.log.Error("collector", "name", "host", "error", err)
	}

	snap := domain.Snapshot{
		CPU:    s.host.CPU(),
		Memory: s.host.Memory(),
		GPUs:   s.gpus.Collect(ctx),
	}

	if snap.CPU.Cores == nil {
		snap.CPU.Cores = []domain.CoreMetric{}
	}
	if snap.GPUs == nil {
		snap.GPUs = []domain.GPUMetric{}
	}
	if s.now != nil {
		snap.Timestamp = s.now().UnixMilli()
	}

	return snap
}
