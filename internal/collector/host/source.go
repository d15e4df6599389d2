// Package host reads CPU and memory counters for the local machine.
package host

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"hwsampler/internal/domain"
	"hwsampler/internal/logger"
)

const unknownName = "unknown"

// reader is the subset of gopsutil the source needs.
type reader interface {
	Percent(ctx context.Context, perCPU bool) ([]float64, error)
	Info(ctx context.Context) ([]cpu.InfoStat, error)
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error)
}

type psutil struct{}

// Percent uses a zero interval: usage is the delta since the previous call.
func (psutil) Percent(ctx context.Context, perCPU bool) ([]float64, error) {
	return cpu.PercentWithContext(ctx, 0, perCPU)
}

func (psutil) Info(ctx context.Context) ([]cpu.InfoStat, error) {
	return cpu.InfoWithContext(ctx)
}

func (psutil) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (psutil) SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error) {
	return mem.SwapMemoryWithContext(ctx)
}

// Source holds the last refreshed CPU and memory readings. CPU and Memory
// return zero values until Refresh has been called once.
type Source struct {
	log     logger.Logger
	r       reader
	sysRoot string

	brand string
	// baseMHz is the per-core frequency gopsutil reported at startup, used
	// when cpufreq is not exposed.
	baseMHz []uint64

	cpu domain.CPUMetric
	mem domain.MemoryMetric
}

// New opens the OS stats interface. An error means no CPU/memory telemetry
// is possible on this machine.
func New(ctx context.Context, log logger.Logger) (*Source, error) {
	return newSource(ctx, log, psutil{}, "/sys", "/proc")
}

func newSource(ctx context.Context, log logger.Logger, r reader, sysRoot, procRoot string) (*Source, error) {
	s := &Source{
		log:     log,
		r:       r,
		sysRoot: sysRoot,
	}

	// Prime the usage deltas and prove the interface works.
	if _, err := r.Percent(ctx, false); err != nil {
		return nil, fmt.Errorf("host: cpu times: %w", err)
	}
	if _, err := r.Percent(ctx, true); err != nil {
		return nil, fmt.Errorf("host: per-cpu times: %w", err)
	}
	if _, err := r.VirtualMemory(ctx); err != nil {
		return nil, fmt.Errorf("host: memory: %w", err)
	}

	infos, err := r.Info(ctx)
	if err != nil {
		log.Warn("cpu info unavailable", "error", err)
	}
	s.brand = brandFrom(infos)
	if s.brand == "" {
		s.brand = brandFromCPUInfo(filepath.Join(procRoot, "cpuinfo"))
	}
	if s.brand == "" {
		s.brand = unknownName
	}

	s.baseMHz = make([]uint64, len(infos))
	for i, info := range infos {
		s.baseMHz[i] = roundMHz(info.Mhz)
	}

	log.Debug("host source ready", "cpu", s.brand, "cores", len(infos))

	return s, nil
}

// Refresh re-samples CPU and memory. On error the affected readings keep
// their previous values.
func (s *Source) Refresh(ctx context.Context) error {
	var errs []error

	if c, err := s.readCPU(ctx); err != nil {
		errs = append(errs, err)
	} else {
		s.cpu = c
	}

	if m, err := s.readMemory(ctx); err != nil {
		errs = append(errs, err)
	} else {
		s.mem = m
	}

	return errors.Join(errs...)
}

func (s *Source) CPU() domain.CPUMetric {
	return s.cpu
}

func (s *Source) Memory() domain.MemoryMetric {
	return s.mem
}

func (s *Source) readCPU(ctx context.Context) (domain.CPUMetric, error) {
	total, err := s.r.Percent(ctx, false)
	if err != nil {
		return domain.CPUMetric{}, fmt.Errorf("host: cpu usage: %w", err)
	}

	perCore, err := s.r.Percent(ctx, true)
	if err != nil {
		return domain.CPUMetric{}, fmt.Errorf("host: per-core usage: %w", err)
	}

	freqs := make([]uint64, len(perCore))
	for i := range perCore {
		freqs[i] = s.coreFrequency(i)
	}

	var usage float64
	if len(total) > 0 {
		usage = total[0]
	}

	return buildCPUMetric(s.brand, usage, perCore, freqs), nil
}

func (s *Source) coreFrequency(idx int) uint64 {
	if mhz, err := readCurFreqMHz(s.sysRoot, idx); err == nil {
		return mhz
	}
	if idx < len(s.baseMHz) {
		return s.baseMHz[idx]
	}
	return 0
}

func (s *Source) readMemory(ctx context.Context) (domain.MemoryMetric, error) {
	vm, err := s.r.VirtualMemory(ctx)
	if err != nil {
		return domain.MemoryMetric{}, fmt.Errorf("host: memory: %w", err)
	}

	m := domain.MemoryMetric{
		RAMUsed:  vm.Used,
		RAMTotal: vm.Total,
	}

	// Machines without swap can fail here; that is not a memory failure.
	sw, err := s.r.SwapMemory(ctx)
	if err != nil {
		s.log.Debug("swap unavailable", "error", err)
		return m, nil
	}
	m.SwapUsed = sw.Used
	m.SwapTotal = sw.Total

	return m, nil
}

// buildCPUMetric assembles the CPU reading. Cores follows perCore; freqs is
// indexed alongside it. The aggregate frequency is the mean over cores.
func buildCPUMetric(name string, usage float64, perCore []float64, freqs []uint64) domain.CPUMetric {
	cores := make([]domain.CoreMetric, len(perCore))

	var sum uint64
	for i, u := range perCore {
		var f uint64
		if i < len(freqs) {
			f = freqs[i]
		}
		cores[i] = domain.CoreMetric{Usage: u, Frequency: f}
		sum += f
	}

	var freq uint64
	if len(cores) > 0 {
		freq = sum / uint64(len(cores))
	}

	return domain.CPUMetric{
		Name:      name,
		Usage:     usage,
		Frequency: freq,
		Cores:     cores,
	}
}

func brandFrom(infos []cpu.InfoStat) string {
	for _, info := range infos {
		if name := strings.TrimSpace(info.ModelName); name != "" {
			return name
		}
	}
	return ""
}

func roundMHz(v float64) uint64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return uint64(math.Round(v))
}
