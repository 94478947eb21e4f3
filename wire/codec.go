package wire

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so that the same logical
// command always produces identical bytes on the wire.
var encMode cbor.EncMode

// decMode decodes any-typed targets into map[string]any rather than
// the CBOR default of map[interface{}]interface{}.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: cbor decoder initialization failed: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// Codec encodes outbound command values and decodes inbound PDU
// payloads. Every inbound value is an object at the top level.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (map[string]any, error)
}

// CBOR is the default Codec.
var CBOR Codec = cborCodec{}

type cborCodec struct{}

func (cborCodec) Encode(v any) ([]byte, error) { return Marshal(v) }

func (cborCodec) Decode(b []byte) (map[string]any, error) {
	var v any
	if err := Unmarshal(b, &v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("wire: expected an object, got %T", v)
	}
	return m, nil
}
