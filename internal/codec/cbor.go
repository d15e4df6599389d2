package codec

import (
	"github.com/fxamacker/cbor/v2"

	"hwsampler/internal/domain"
)

// encMode uses Core Deterministic Encoding: the same snapshot always
// produces the same bytes. CBOR items are self-delimiting, so records are
// simply concatenated.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborEncoder struct{}

func (cborEncoder) Encode(s domain.Snapshot) ([]byte, error) {
	return encMode.Marshal(s)
}

func (cborEncoder) Binary() bool { return true }

type cborDecoder struct {
	dec *cbor.Decoder
}

func (d *cborDecoder) Decode(s *domain.Snapshot) error {
	return d.dec.Decode(s)
}
