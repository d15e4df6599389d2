package codec

import (
	jsoniter "github.com/json-iterator/go"

	"hwsampler/internal/domain"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonEncoder writes one object per line.
type jsonEncoder struct{}

func (jsonEncoder) Encode(s domain.Snapshot) ([]byte, error) {
	b, err := jsonAPI.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (jsonEncoder) Binary() bool { return false }

type jsonDecoder struct {
	dec *jsoniter.Decoder
}

func (d *jsonDecoder) Decode(s *domain.Snapshot) error {
	return d.dec.Decode(s)
}
