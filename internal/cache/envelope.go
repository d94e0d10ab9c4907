package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Stored values carry a tagged envelope so Get can reconstruct the
// original shape without out-of-band type information:
//
//	magic(4) | kind(1) | payload
//
// Composite values (maps, slices, arrays, structs) are msgpack encoded,
// scalars are JSON text. Values without the magic prefix are decoded
// opportunistically (JSON, then raw string) for compatibility with keys
// written by other producers.
const (
	kindComposite byte = 1
	kindScalar    byte = 2
)

var (
	magic4 = [...]byte{'U', 'H', 'B', '1'}

	errCorruptEnvelope = errors.New("cache: corrupt envelope")
)

func hasMagic(b []byte) bool {
	return len(b) >= 5 && bytes.Equal(b[:4], magic4[:])
}

func isComposite(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		// []byte rides the composite path so the payload survives
		// without a base64 round trip
		return true
	default:
		return false
	}
}

func encodeValue(v any) ([]byte, error) {
	var (
		kind    byte
		payload []byte
		err     error
	)
	if v != nil && isComposite(v) {
		kind = kindComposite
		payload, err = msgpack.Marshal(v)
	} else {
		kind = kindScalar
		payload, err = json.Marshal(v)
	}
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 5+len(payload))
	buf = append(buf, magic4[:]...)
	buf = append(buf, kind)
	buf = append(buf, payload...)
	return buf, nil
}

func decodeValue(data []byte) (any, error) {
	if hasMagic(data) {
		payload := data[5:]
		switch data[4] {
		case kindComposite:
			var v any
			if err := msgpack.Unmarshal(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		case kindScalar:
			var v any
			if err := json.Unmarshal(payload, &v); err != nil {
				return string(payload), nil
			}
			return v, nil
		default:
			return nil, errCorruptEnvelope
		}
	}
	// untagged value written by someone else
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data), nil
	}
	return v, nil
}

func decodeValueInto(data []byte, dst any) error {
	if hasMagic(data) {
		payload := data[5:]
		switch data[4] {
		case kindComposite:
			return msgpack.Unmarshal(payload, dst)
		case kindScalar:
			return json.Unmarshal(payload, dst)
		default:
			return errCorruptEnvelope
		}
	}
	return json.Unmarshal(data, dst)
}
