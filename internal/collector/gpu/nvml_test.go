//go:build linux

package gpu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type fakeHandle struct {
	name    string
	nameRet nvml.Return
	util    nvml.Utilization
	utilRet nvml.Return
	decoder uint32
	decRet  nvml.Return
	mem     nvml.Memory
	memRet  nvml.Return
	temp    uint32
	tempRet nvml.Return
}

func (f *fakeHandle) GetName() (string, nvml.Return) { return f.name, f.nameRet }

func (f *fakeHandle) GetUtilizationRates() (nvml.Utilization, nvml.Return) {
	return f.util, f.utilRet
}

func (f *fakeHandle) GetDecoderUtilization() (uint32, uint32, nvml.Return) {
	return f.decoder, 167000, f.decRet
}

func (f *fakeHandle) GetMemoryInfo() (nvml.Memory, nvml.Return) { return f.mem, f.memRet }

func (f *fakeHandle) GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return) {
	return f.temp, f.tempRet
}

func healthyHandle() *fakeHandle {
	return &fakeHandle{
		name:    "NVIDIA GeForce RTX 3080",
		nameRet: nvml.SUCCESS,
		util:    nvml.Utilization{Gpu: 73, Memory: 20},
		utilRet: nvml.SUCCESS,
		decoder: 12,
		decRet:  nvml.SUCCESS,
		mem:     nvml.Memory{Total: 10 << 30, Used: 5 << 30, Free: 5 << 30},
		memRet:  nvml.SUCCESS,
		temp:    64,
		tempRet: nvml.SUCCESS,
	}
}

func stubErrorString(t *testing.T) {
	t.Helper()
	prev := errorString
	errorString = func(r nvml.Return) string { return fmt.Sprintf("nvml return %d", int32(r)) }
	t.Cleanup(func() { errorString = prev })
}

func TestNVMLDeviceRead(t *testing.T) {
	d := newNVMLDevice(0, healthyHandle())

	got, err := d.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Name != "NVIDIA GeForce RTX 3080" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Usage != 73 || got.Decoder != 12 || got.Temperature != 64 {
		t.Errorf("Read() = %+v", got)
	}
	if got.Memory != 0.5 {
		t.Errorf("Memory = %f, want 0.5", got.Memory)
	}
}

func TestNVMLDeviceNameFallback(t *testing.T) {
	h := healthyHandle()
	h.nameRet = nvml.ERROR_UNKNOWN

	if got := newNVMLDevice(2, h).Name(); got != "GPU 2" {
		t.Errorf("Name() = %q, want %q", got, "GPU 2")
	}
}

func TestNVMLDeviceUnsupportedSensors(t *testing.T) {
	h := healthyHandle()
	h.decRet = nvml.ERROR_NOT_SUPPORTED
	h.tempRet = nvml.ERROR_NOT_SUPPORTED
	h.mem = nvml.Memory{}

	got, err := newNVMLDevice(0, h).Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Decoder != 0 || got.Temperature != 0 || got.Memory != 0 {
		t.Errorf("Read() = %+v, want zero decoder, temperature, memory", got)
	}
}

func TestNVMLDeviceLost(t *testing.T) {
	stubErrorString(t)

	tests := []struct {
		name string
		fail func(*fakeHandle)
	}{
		{name: "utilization", fail: func(h *fakeHandle) { h.utilRet = nvml.ERROR_GPU_IS_LOST }},
		{name: "decoder", fail: func(h *fakeHandle) { h.decRet = nvml.ERROR_GPU_IS_LOST }},
		{name: "memory", fail: func(h *fakeHandle) { h.memRet = nvml.ERROR_GPU_IS_LOST }},
		{name: "temperature", fail: func(h *fakeHandle) { h.tempRet = nvml.ERROR_GPU_IS_LOST }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := healthyHandle()
			test.fail(h)
			if _, err := newNVMLDevice(1, h).Read(context.Background()); err == nil {
				t.Fatal("Read succeeded on a lost device")
			}
		})
	}
}

type fakeLib struct {
	initRet     nvml.Return
	count       int
	countRet    nvml.Return
	handleRet   nvml.Return
	shutdownRet nvml.Return
	shutdowns   int
}

func (f *fakeLib) Init() nvml.Return { return f.initRet }

func (f *fakeLib) Shutdown() nvml.Return {
	f.shutdowns++
	return f.shutdownRet
}

func (f *fakeLib) DeviceGetCount() (int, nvml.Return) { return f.count, f.countRet }

func (f *fakeLib) DeviceGetHandleByIndex(int) (nvml.Device, nvml.Return) {
	return nil, f.handleRet
}

func TestOpenNVMLFailures(t *testing.T) {
	stubErrorString(t)

	tests := []struct {
		name         string
		lib          *fakeLib
		unavailable  bool
		shutdowns    int
		wantShutdown bool
	}{
		{
			name:        "init fails",
			lib:         &fakeLib{initRet: nvml.ERROR_LIBRARY_NOT_FOUND},
			unavailable: true,
		},
		{
			name:        "count fails",
			lib:         &fakeLib{countRet: nvml.ERROR_UNKNOWN},
			unavailable: true,
			shutdowns:   1,
		},
		{
			name:         "count and shutdown fail",
			lib:          &fakeLib{countRet: nvml.ERROR_UNKNOWN, shutdownRet: nvml.ERROR_UNINITIALIZED},
			unavailable:  true,
			shutdowns:    1,
			wantShutdown: true,
		},
		{
			name:         "handle and shutdown fail",
			lib:          &fakeLib{count: 2, handleRet: nvml.ERROR_GPU_IS_LOST, shutdownRet: nvml.ERROR_UNINITIALIZED},
			shutdowns:    1,
			wantShutdown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices, closer, err := openNVMLFrom(tt.lib)
			if err == nil {
				t.Fatalf("openNVMLFrom succeeded with %d devices", len(devices))
			}
			if closer != nil {
				t.Error("closer returned alongside an error")
			}
			if got := errors.Is(err, ErrUnavailable); got != tt.unavailable {
				t.Errorf("errors.Is(err, ErrUnavailable) = %v, want %v (%v)", got, tt.unavailable, err)
			}
			if tt.lib.shutdowns != tt.shutdowns {
				t.Errorf("shutdown called %d times, want %d", tt.lib.shutdowns, tt.shutdowns)
			}
			if got := strings.Contains(err.Error(), "nvml shutdown"); got != tt.wantShutdown {
				t.Errorf("shutdown error reported = %v, want %v: %v", got, tt.wantShutdown, err)
			}
		})
	}
}

func TestOpenNVMLNoDevices(t *testing.T) {
	lib := &fakeLib{}

	devices, closer, err := openNVMLFrom(lib)
	if err != nil {
		t.Fatalf("openNVMLFrom: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("len(devices) = %d, want 0", len(devices))
	}
	if err := closer(); err != nil {
		t.Errorf("closer: %v", err)
	}
	if lib.shutdowns != 1 {
		t.Errorf("shutdown called %d times, want 1", lib.shutdowns)
	}
}
