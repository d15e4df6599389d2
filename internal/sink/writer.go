package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Writer writes records to an io.Writer, optionally through zstd.
type Writer struct {
	w      io.Writer
	zw     *zstd.Encoder
	closer io.Closer
	closed bool
}

// NewWriter wraps w. Close does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// OpenFile appends records to path, creating it if needed. With compress,
// the file is a zstd stream flushed after every record so a reader never
// waits on a partial frame.
func OpenFile(path string, compress bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}

	if !compress {
		return &Writer{w: f, closer: f}, nil
	}

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sink: zstd: %w", err)
	}

	return &Writer{w: zw, zw: zw, closer: f}, nil
}

func (s *Writer) Write(_ context.Context, record []byte) error {
	if s.closed {
		return ErrClosed
	}

	if _, err := s.w.Write(record); err != nil {
		return fmt.Errorf("sink: write: %w", err)
	}

	if s.zw != nil {
		if err := s.zw.Flush(); err != nil {
			return fmt.Errorf("sink: flush: %w", err)
		}
	}

	return nil
}

func (s *Writer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.zw != nil {
		errs = append(errs, s.zw.Close())
	}
	if s.closer != nil {
		errs = append(errs, s.closer.Close())
	}
	return errors.Join(errs...)
}
