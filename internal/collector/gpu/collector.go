// Package gpu enumerates GPUs once and reads per-device telemetry each tick.
//
// Two backends exist. NVML covers NVIDIA cards through libnvidia-ml; the DRM
// backend reads amdgpu/i915 attributes from sysfs. A device that fails to
// read is left out of that tick's result and retried on the next one.
package gpu

import (
	"context"
	"errors"
	"fmt"

	"hwsampler/internal/config"
	"hwsampler/internal/domain"
	"hwsampler/internal/logger"
)

// ErrUnavailable means no GPU driver interface could be opened.
var ErrUnavailable = errors.New("gpu: no driver interface available")

// Device is one enumerated GPU. Handles live as long as the Collector.
type Device interface {
	Name() string
	Read(ctx context.Context) (domain.GPUMetric, error)
}

type Collector struct {
	log     logger.Logger
	backend string
	devices []Device
	closer  func() error

	// failing marks devices whose last read failed, so a dead device is
	// reported once instead of every tick.
	failing []bool
}

// Open selects a backend per cfg and enumerates its devices. Zero devices
// is not an error. When no backend can be opened the error wraps
// ErrUnavailable.
func Open(ctx context.Context, cfg config.GPUConfig, log logger.Logger) (*Collector, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return NewCollector(log, config.BackendNone, nil, nil), nil

	case config.BackendNVML:
		devices, closer, err := openNVML(ctx)
		if err != nil {
			return nil, err
		}
		return NewCollector(log, config.BackendNVML, devices, closer), nil

	case config.BackendDRM:
		devices, err := openDRM(defaultSysRoot)
		if err != nil {
			return nil, err
		}
		return NewCollector(log, config.BackendDRM, devices, nil), nil

	case config.BackendAuto, "":
		return openAuto(ctx, log)
	}

	return nil, fmt.Errorf("gpu: unknown backend %q", cfg.Backend)
}

// openAuto prefers NVML. A working NVML with no devices still falls through
// to DRM, since amdgpu and i915 cards are invisible to it.
func openAuto(ctx context.Context, log logger.Logger) (*Collector, error) {
	devices, closer, nvmlErr := openNVML(ctx)
	if nvmlErr == nil && len(devices) > 0 {
		return NewCollector(log, config.BackendNVML, devices, closer), nil
	}
	if nvmlErr == nil {
		if err := closer(); err != nil {
			log.Warn("nvml close failed", "error", err)
		}
	} else {
		log.Debug("nvml unavailable, trying drm", "error", nvmlErr)
	}

	drmDevices, drmErr := openDRM(defaultSysRoot)
	if drmErr != nil {
		if nvmlErr == nil {
			return NewCollector(log, config.BackendNVML, nil, nil), nil
		}
		return nil, errors.Join(nvmlErr, drmErr)
	}

	return NewCollector(log, config.BackendDRM, drmDevices, nil), nil
}

// NewCollector wraps already enumerated devices. closer may be nil.
func NewCollector(log logger.Logger, backend string, devices []Device, closer func() error) *Collector {
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name()
	}
	log.Info("gpu devices enumerated", "backend", backend, "count", len(devices), "names", names)

	return &Collector{
		log:     log,
		backend: backend,
		devices: devices,
		closer:  closer,
		failing: make([]bool, len(devices)),
	}
}

func (c *Collector) Backend() string {
	return c.backend
}

func (c *Collector) Len() int {
	return len(c.devices)
}

// Collect reads every device in enumeration order. The result is never nil.
func (c *Collector) Collect(ctx context.Context) []domain.GPUMetric {
	out := make([]domain.GPUMetric, 0, len(c.devices))

	for i, d := range c.devices {
		m, err := d.Read(ctx)
		if err != nil {
			if !c.failing[i] {
				c.log.Warn("gpu read failed, omitting device", "index", i, "name", d.Name(), "error", err)
				c.failing[i] = true
			}
			continue
		}

		if c.failing[i] {
			c.log.Info("gpu read recovered", "index", i, "name", d.Name())
			c.failing[i] = false
		}

		out = append(out, m)
	}

	return out
}

func (c *Collector) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
