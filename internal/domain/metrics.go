package domain

import "context"

// Snapshot is one complete reading for a single tick. It is built, emitted
// and dropped; nothing holds on to it after the sink accepts it.
type Snapshot struct {
	CPU       CPUMetric    `json:"cpu"`
	Memory    MemoryMetric `json:"memory"`
	GPUs      []GPUMetric  `json:"gpus"`
	Timestamp int64        `json:"timestamp,omitempty"`
}

type CPUMetric struct {
	Name      string       `json:"name"`
	Usage     float64      `json:"usage"`
	Frequency uint64       `json:"frequency"`
	Cores     []CoreMetric `json:"cores"`
}

// CoreMetric is one logical core. Usage is a percentage, Frequency is MHz.
type CoreMetric struct {
	Usage     float64 `json:"usage"`
	Frequency uint64  `json:"frequency"`
}

// MemoryMetric holds byte counts exactly as the OS reported them.
type MemoryMetric struct {
	RAMUsed   uint64 `json:"ram_used"`
	RAMTotal  uint64 `json:"ram_total"`
	SwapUsed  uint64 `json:"swap_used"`
	SwapTotal uint64 `json:"swap_total"`
}

type GPUMetric struct {
	Name    string  `json:"name"`
	Usage   float64 `json:"usage"`
	Decoder float64 `json:"decoder"`
	// Memory is used/total in [0, 1].
	Memory      float64 `json:"memory"`
	Temperature uint32  `json:"temperature"`
}

// HostSource is the CPU/memory side of the sampler.
type HostSource interface {
	Refresh(ctx context.Context) error
	CPU() CPUMetric
	Memory() MemoryMetric
}

// GPUSource yields one metric per readable device, in enumeration order.
type GPUSource interface {
	Collect(ctx context.Context) []GPUMetric
}

// MemoryFraction returns used/total clamped to [0, 1], or 0 when total is 0.
func MemoryFraction(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	if used >= total {
		return 1
	}
	return float64(used) / float64(total)
}
