package gpu

import (
	"context"
	"errors"
	"testing"

	"hwsampler/internal/config"
	"hwsampler/internal/domain"
	"hwsampler/internal/logger"
)

type fakeDevice struct {
	name   string
	metric domain.GPUMetric
	err    error
	reads  int
}

func (f *fakeDevice) Name() string { return f.name }

func (f *fakeDevice) Read(context.Context) (domain.GPUMetric, error) {
	f.reads++
	if f.err != nil {
		return domain.GPUMetric{}, f.err
	}
	return f.metric, nil
}

func fakeDevices(n int) []*fakeDevice {
	out := make([]*fakeDevice, n)
	for i := range out {
		name := "gpu" + string(rune('0'+i))
		out[i] = &fakeDevice{
			name: name,
			metric: domain.GPUMetric{
				Name:        name,
				Usage:       float64(10 * (i + 1)),
				Decoder:     float64(i),
				Memory:      0.25,
				Temperature: uint32(40 + i),
			},
		}
	}
	return out
}

func asDevices(fakes []*fakeDevice) []Device {
	out := make([]Device, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func TestCollectNoDevices(t *testing.T) {
	c := NewCollector(logger.Nop(), config.BackendNone, nil, nil)

	got := c.Collect(context.Background())
	if got == nil {
		t.Fatal("Collect() = nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("len(Collect()) = %d, want 0", len(got))
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestCollectOmitsFailingDevice(t *testing.T) {
	fakes := fakeDevices(3)
	fakes[1].err = errors.New("gpu has fallen off the bus")

	c := NewCollector(logger.Nop(), "fake", asDevices(fakes), nil)

	for tick := 0; tick < 3; tick++ {
		got := c.Collect(context.Background())
		if len(got) != 2 {
			t.Fatalf("tick %d: len = %d, want 2", tick, len(got))
		}
		if got[0] != fakes[0].metric || got[1] != fakes[2].metric {
			t.Errorf("tick %d: got %+v, want devices 0 and 2", tick, got)
		}
	}

	// Every device is attempted every tick; the failing one is retried.
	for i, f := range fakes {
		if f.reads != 3 {
			t.Errorf("device %d read %d times, want 3", i, f.reads)
		}
	}
}

func TestCollectRecoversDevice(t *testing.T) {
	fakes := fakeDevices(2)
	c := NewCollector(logger.Nop(), "fake", asDevices(fakes), nil)

	fakes[0].err = errors.New("reset")
	if got := c.Collect(context.Background()); len(got) != 1 || got[0].Name != "gpu1" {
		t.Fatalf("Collect() during failure = %+v", got)
	}
	if !c.failing[0] {
		t.Error("device 0 not marked failing")
	}

	fakes[0].err = nil
	got := c.Collect(context.Background())
	if len(got) != 2 || got[0].Name != "gpu0" || got[1].Name != "gpu1" {
		t.Fatalf("Collect() after recovery = %+v", got)
	}
	if c.failing[0] {
		t.Error("device 0 still marked failing")
	}
}

func TestCollectorClose(t *testing.T) {
	closed := 0
	c := NewCollector(logger.Nop(), "fake", nil, func() error {
		closed++
		return nil
	})

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if closed != 1 {
		t.Errorf("closer called %d times, want 1", closed)
	}
}

func TestOpenNone(t *testing.T) {
	c, err := Open(context.Background(), config.GPUConfig{Backend: config.BackendNone}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 || c.Backend() != config.BackendNone {
		t.Errorf("Open(none) = %d devices, backend %q", c.Len(), c.Backend())
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.GPUConfig{Backend: "vulkan"}, logger.Nop()); err == nil {
		t.Fatal("Open accepted an unknown backend")
	}
}

func TestMemoryFraction(t *testing.T) {
	tests := []struct {
		used, total uint64
		want        float64
	}{
		{used: 0, total: 0, want: 0},
		{used: 5, total: 0, want: 0},
		{used: 0, total: 100, want: 0},
		{used: 25, total: 100, want: 0.25},
		{used: 100, total: 100, want: 1},
		{used: 150, total: 100, want: 1},
	}

	for _, test := range tests {
		got := domain.MemoryFraction(test.used, test.total)
		if got != test.want {
			t.Errorf("MemoryFraction(%d, %d) = %f, want %f", test.used, test.total, got, test.want)
		}
		if got < 0 || got > 1 {
			t.Errorf("MemoryFraction(%d, %d) = %f out of range", test.used, test.total, got)
		}
	}
}
