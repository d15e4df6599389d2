//go:build !linux

package gpu

import (
	"context"
	"fmt"
	"runtime"
)

func openNVML(_ context.Context) ([]Device, func() error, error) {
	return nil, nil, fmt.Errorf("%w: nvml not supported on %s", ErrUnavailable, runtime.GOOS)
}
