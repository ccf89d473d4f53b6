package embed

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same vector always
// produces identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("embed: CBOR encoder initialization failed: " + err.Error())
	}
}

// EncodeVector serializes a vector for storage.
func EncodeVector(v []float32) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return data, nil
}

// DecodeVector parses a stored vector.
func DecodeVector(data []byte) ([]float32, error) {
	var v []float32
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return v, nil
}
