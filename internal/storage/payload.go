package storage

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Serializer turns opaque timer info into bytes and back.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// encMode uses Core Deterministic Encoding so equal payloads produce equal
// documents.
var encMode cbor.EncMode

// decMode decodes maps into map[string]any.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR is the default Serializer.
type CBOR struct{}

func (CBOR) Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func (CBOR) Unmarshal(data []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
