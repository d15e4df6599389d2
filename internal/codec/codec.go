// Package codec serializes snapshots into self-delimiting records.
package codec

import (
	"fmt"
	"io"

	"hwsampler/internal/config"
	"hwsampler/internal/domain"
)

// Encoder turns one snapshot into one complete record, separator included.
type Encoder interface {
	Encode(s domain.Snapshot) ([]byte, error)
	// Binary reports whether records are not valid UTF-8 text.
	Binary() bool
}

// Decoder reads records written by the matching Encoder back, one per call.
type Decoder interface {
	Decode(s *domain.Snapshot) error
}

func NewEncoder(format string) (Encoder, error) {
	switch format {
	case config.FormatJSON, "":
		return jsonEncoder{}, nil
	case config.FormatCBOR:
		return cborEncoder{}, nil
	case config.FormatText:
		return textEncoder{}, nil
	}
	return nil, fmt.Errorf("codec: unknown format %q", format)
}

// NewDecoder returns a stream decoder. The text format is write-only.
func NewDecoder(format string, r io.Reader) (Decoder, error) {
	switch format {
	case config.FormatJSON, "":
		return &jsonDecoder{dec: jsonAPI.NewDecoder(r)}, nil
	case config.FormatCBOR:
		return &cborDecoder{dec: decMode.NewDecoder(r)}, nil
	}
	return nil, fmt.Errorf("codec: format %q cannot be decoded", format)
}
