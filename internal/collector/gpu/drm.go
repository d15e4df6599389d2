package gpu

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hwsampler/internal/domain"
)

const defaultSysRoot = "/sys"

// drmDevice reads amdgpu style attributes under /sys/class/drm/cardN/device.
// The kernel does not expose decoder utilization there, so Decoder is 0.
// Cards whose driver lacks the attributes (virtio, simpledrm, bochs, i915)
// are not enumerated.
type drmDevice struct {
	card string
	dir  string
	name string
}

func openDRM(sysRoot string) ([]Device, error) {
	base := filepath.Join(sysRoot, "class/drm")

	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, base, err)
	}

	var devices []Device
	for _, e := range entries {
		card := e.Name()
		if !isCardDevice(card) {
			continue
		}

		dir := filepath.Join(base, card, "device")
		if !hasTelemetry(dir) {
			continue
		}

		devices = append(devices, &drmDevice{
			card: card,
			dir:  dir,
			name: readModel(dir),
		})
	}

	return devices, nil
}

// telemetryFiles are the attributes Read needs. hwmon temperature is
// optional.
var telemetryFiles = []string{"vendor", "gpu_busy_percent", "mem_info_vram_used", "mem_info_vram_total"}

func hasTelemetry(dir string) bool {
	for _, name := range telemetryFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// isCardDevice accepts card0, card1, ... but not connectors (card0-DP-1).
func isCardDevice(name string) bool {
	suffix, ok := strings.CutPrefix(name, "card")
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (d *drmDevice) Name() string {
	return d.name
}

func (d *drmDevice) Read(_ context.Context) (domain.GPUMetric, error) {
	// A vanished device directory means the card was removed or the driver
	// unbound.
	if _, err := os.Stat(d.dir); err != nil {
		return domain.GPUMetric{}, fmt.Errorf("gpu %s: %w", d.card, err)
	}

	usage, err := readFloat(filepath.Join(d.dir, "gpu_busy_percent"))
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("gpu %s: busy percent: %w", d.card, err)
	}
	used, err := readUint(filepath.Join(d.dir, "mem_info_vram_used"))
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("gpu %s: vram used: %w", d.card, err)
	}
	total, err := readUint(filepath.Join(d.dir, "mem_info_vram_total"))
	if err != nil {
		return domain.GPUMetric{}, fmt.Errorf("gpu %s: vram total: %w", d.card, err)
	}

	return domain.GPUMetric{
		Name:        d.name,
		Usage:       usage,
		Memory:      domain.MemoryFraction(used, total),
		Temperature: d.readTemperature(),
	}, nil
}

// readTemperature returns whole degrees from the first hwmon temp1_input,
// which is in millidegrees.
func (d *drmDevice) readTemperature() uint32 {
	hwmonRoot := filepath.Join(d.dir, "hwmon")

	hwmons, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return 0
	}

	for _, hw := range hwmons {
		v, err := readFloat(filepath.Join(hwmonRoot, hw.Name(), "temp1_input"))
		if err != nil || v < 0 {
			continue
		}
		return uint32(math.Round(v / 1000))
	}

	return 0
}

func readModel(dir string) string {
	if b, err := os.ReadFile(filepath.Join(dir, "product_name")); err == nil {
		if name := strings.TrimSpace(string(b)); name != "" {
			return name
		}
	}

	vendor := readVendor(dir)
	if b, err := os.ReadFile(filepath.Join(dir, "device")); err == nil {
		return vendor + " " + strings.TrimSpace(string(b))
	}

	return vendor
}

func readVendor(dir string) string {
	b, err := os.ReadFile(filepath.Join(dir, "vendor"))
	if err != nil {
		return "unknown"
	}

	val := strings.TrimSpace(string(b))
	switch val {
	case "0x1002":
		return "AMD"
	case "0x10de":
		return "NVIDIA"
	case "0x8086":
		return "INTEL"
	}

	return val
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

func readUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}
