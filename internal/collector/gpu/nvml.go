//go:build linux

package gpu

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"hwsampler/internal/domain"
)

// nvmlHandle is the part of nvml.Device the sampler reads.
type nvmlHandle interface {
	GetName() (string, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetDecoderUtilization() (uint32, uint32, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
}

// errorString is swapped in tests, which run without libnvidia-ml.
var errorString = nvml.ErrorString

type nvmlDevice struct {
	index  int
	name   string
	handle nvmlHandle
}

// nvmlLib is the part of the NVML library used to enumerate devices.
type nvmlLib interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (nvml.Device, nvml.Return)
}

type systemNVML struct{}

func (systemNVML) Init() nvml.Return { return nvml.Init() }
func (systemNVML) Shutdown() nvml.Return { return nvml.Shutdown() }
func (systemNVML) DeviceGetCount() (int, nvml.Return) { return nvml.DeviceGetCount() }

func (systemNVML) DeviceGetHandleByIndex(index int) (nvml.Device, nvml.Return) {
	return nvml.DeviceGetHandleByIndex(index)
}

func openNVML(_ context.Context) ([]Device, func() error, error) {
	return openNVMLFrom(systemNVML{})
}

func openNVMLFrom(lib nvmlLib) ([]Device, func() error, error) {
	if ret := lib.Init(); ret != nvml.SUCCESS {
		return nil, nil, fmt.Errorf("%w: nvml init: %s", ErrUnavailable, errorString(ret))
	}

	shutdown := func() error {
		if ret := lib.Shutdown(); ret != nvml.SUCCESS {
			return fmt.Errorf("gpu: nvml shutdown: %s", errorString(ret))
		}
		return nil
	}

	count, ret := lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		err := fmt.Errorf("%w: nvml device count: %s", ErrUnavailable, errorString(ret))
		return nil, nil, errors.Join(err, shutdown())
	}

	devices := make([]Device, 0, count)
	for i := 0; i < count; i++ {
		handle, ret := lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			err := fmt.Errorf("gpu: nvml device %d: %s", i, errorString(ret))
			return nil, nil, errors.Join(err, shutdown())
		}
		devices = append(devices, newNVMLDevice(i, handle))
	}

	return devices, shutdown, nil
}

// newNVMLDevice resolves the name once; it does not change while the
// handle is valid.
func newNVMLDevice(index int, handle nvmlHandle) *nvmlDevice {
	name, ret := handle.GetName()
	if ret != nvml.SUCCESS || name == "" {
		name = "GPU " + strconv.Itoa(index)
	}
	return &nvmlDevice{index: index, name: name, handle: handle}
}

func (d *nvmlDevice) Name() string {
	return d.name
}

func (d *nvmlDevice) Read(_ context.Context) (domain.GPUMetric, error) {
	util, ret := d.handle.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return domain.GPUMetric{}, d.errorf("utilization", ret)
	}

	// Cards without NVDEC report NOT_SUPPORTED; that is a zero, not a
	// device failure.
	decoder, _, ret := d.handle.GetDecoderUtilization()
	if ret == nvml.ERROR_NOT_SUPPORTED {
		decoder = 0
	} else if ret != nvml.SUCCESS {
		return domain.GPUMetric{}, d.errorf("decoder utilization", ret)
	}

	mem, ret := d.handle.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return domain.GPUMetric{}, d.errorf("memory info", ret)
	}

	temp, ret := d.handle.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret == nvml.ERROR_NOT_SUPPORTED {
		temp = 0
	} else if ret != nvml.SUCCESS {
		return domain.GPUMetric{}, d.errorf("temperature", ret)
	}

	return domain.GPUMetric{
		Name:        d.name,
		Usage:       float64(util.Gpu),
		Decoder:     float64(decoder),
		Memory:      domain.MemoryFraction(mem.Used, mem.Total),
		Temperature: temp,
	}, nil
}

func (d *nvmlDevice) errorf(what string, ret nvml.Return) error {
	return fmt.Errorf("gpu %d: nvml %s: %s", d.index, what, errorString(ret))
}
