package message

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// envelopeFields is the fixed arity of an encoded envelope.
const envelopeFields = 3

// Encode packs an envelope into its msgpack wire form.
//
// Numbers are written with fixed-width format tags so that Decode returns
// the same Go kind that was encoded (int32, int64, float32, float64).
func Encode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(envelopeFields); err != nil {
		return nil, encodeErr("", err)
	}
	if err := enc.EncodeString(env.Type); err != nil {
		return nil, encodeErr("type", err)
	}
	if env.Payload == nil {
		if err := enc.EncodeNil(); err != nil {
			return nil, encodeErr("payload", err)
		}
	} else if err := encodeMap(enc, "", env.Payload); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(env.NodeID); err != nil {
		return nil, encodeErr("node_id", err)
	}
	return buf.Bytes(), nil
}

func encodeMap(enc *msgpack.Encoder, path string, m map[string]any) error {
	if err := enc.EncodeMapLen(len(m)); err != nil {
		return encodeErr(path, err)
	}
	for k, v := range m {
		if err := enc.EncodeString(k); err != nil {
			return encodeErr(path, err)
		}
		if err := encodeValue(enc, joinPath(path, k), v); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(enc *msgpack.Encoder, path string, v any) error {
	var err error
	switch val := v.(type) {
	case nil:
		err = enc.EncodeNil()
	case bool:
		err = enc.EncodeBool(val)
	case string:
		err = enc.EncodeString(val)
	case int32:
		err = enc.EncodeInt32(val)
	case int64:
		err = enc.EncodeInt64(val)
	case int:
		err = enc.EncodeInt64(int64(val))
	case float32:
		err = enc.EncodeFloat32(val)
	case float64:
		err = enc.EncodeFloat64(val)
	case map[string]any:
		return encodeMap(enc, path, val)
	case []any:
		if err = enc.EncodeArrayLen(len(val)); err != nil {
			break
		}
		for i, item := range val {
			if err := encodeValue(enc, fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	case *Histogram:
		return encodeHistogram(enc, path, val)
	default:
		return encodeErr(path, fmt.Errorf("%w: %T", ErrUnsupportedType, v))
	}
	if err != nil {
		return encodeErr(path, err)
	}
	return nil
}

func encodeHistogram(enc *msgpack.Encoder, path string, h *Histogram) error {
	if err := enc.EncodeMapLen(h.Len()); err != nil {
		return encodeErr(path, err)
	}
	var err error
	h.Each(func(key, count int64) {
		if err != nil {
			return
		}
		if err = enc.EncodeInt64(key); err != nil {
			return
		}
		err = enc.EncodeInt64(count)
	})
	if err != nil {
		return encodeErr(path, err)
	}
	return nil
}

// Decode unpacks the msgpack wire form produced by Encode or by a Locust
// master.
func Decode(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, decodeErr("", fmt.Errorf("%w: empty buffer", ErrMalformed))
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Envelope{}, decodeErr("", malformed(err))
	}
	if n != envelopeFields {
		return Envelope{}, decodeErr("", fmt.Errorf("%w: expected %d fields, got %d", ErrMalformed, envelopeFields, n))
	}

	var env Envelope
	if env.Type, err = decodeOptionalString(dec); err != nil {
		return Envelope{}, decodeErr("type", err)
	}

	code, err := dec.PeekCode()
	if err != nil {
		return Envelope{}, decodeErr("payload", malformed(err))
	}
	if code == msgpcode.Nil {
		if err := dec.DecodeNil(); err != nil {
			return Envelope{}, decodeErr("payload", malformed(err))
		}
	} else {
		payload, err := decodeValue(dec, "")
		if err != nil {
			return Envelope{}, err
		}
		m, ok := payload.(map[string]any)
		if !ok {
			return Envelope{}, decodeErr("payload", fmt.Errorf("%w: payload is %T, not a map", ErrMalformed, payload))
		}
		env.Payload = m
	}

	if env.NodeID, err = decodeOptionalString(dec); err != nil {
		return Envelope{}, decodeErr("node_id", err)
	}
	return env, nil
}

func decodeOptionalString(dec *msgpack.Decoder) (string, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return "", malformed(err)
	}
	if code == msgpcode.Nil {
		return "", dec.DecodeNil()
	}
	if !msgpcode.IsString(code) && !msgpcode.IsBin(code) {
		return "", fmt.Errorf("%w: expected string, got code 0x%x", ErrMalformed, code)
	}
	s, err := dec.DecodeString()
	if err != nil {
		return "", malformed(err)
	}
	return s, nil
}

func decodeValue(dec *msgpack.Decoder, path string) (any, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, decodeErr(path, malformed(err))
	}

	var (
		v    any
		derr error
	)
	switch {
	case code == msgpcode.Nil:
		derr = dec.DecodeNil()
	case code == msgpcode.False || code == msgpcode.True:
		v, derr = dec.DecodeBool()
	case code == msgpcode.Float:
		v, derr = dec.DecodeFloat32()
	case code == msgpcode.Double:
		v, derr = dec.DecodeFloat64()
	case code == msgpcode.Int32:
		v, derr = dec.DecodeInt32()
	case code == msgpcode.Uint64:
		var u uint64
		if u, derr = dec.DecodeUint64(); derr == nil {
			if u > math.MaxInt64 {
				return nil, decodeErr(path, fmt.Errorf("%w: uint64 %d overflows int64", ErrMalformed, u))
			}
			v = int64(u)
		}
	case isInteger(code):
		v, derr = dec.DecodeInt64()
	case msgpcode.IsString(code) || msgpcode.IsBin(code):
		v, derr = dec.DecodeString()
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		return decodeList(dec, path)
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		return decodeMap(dec, path)
	default:
		return nil, decodeErr(path, fmt.Errorf("%w: format code 0x%x", ErrUnsupportedType, code))
	}
	if derr != nil {
		return nil, decodeErr(path, malformed(derr))
	}
	return v, nil
}

func isInteger(code byte) bool {
	if msgpcode.IsFixedNum(code) {
		return true
	}
	switch code {
	case msgpcode.Int8, msgpcode.Int16, msgpcode.Int64,
		msgpcode.Uint8, msgpcode.Uint16, msgpcode.Uint32:
		return true
	}
	return false
}

func decodeList(dec *msgpack.Decoder, path string) (any, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, decodeErr(path, malformed(err))
	}
	list := make([]any, 0, n)
	for i := 0; i < n; i++ {
		item, err := decodeValue(dec, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}

// decodeMap returns a map[string]any, or a *Histogram when the first key is
// an integer.
func decodeMap(dec *msgpack.Decoder, path string) (any, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, decodeErr(path, malformed(err))
	}
	if n == 0 {
		return map[string]any{}, nil
	}

	code, err := dec.PeekCode()
	if err != nil {
		return nil, decodeErr(path, malformed(err))
	}
	if isInteger(code) || code == msgpcode.Int32 || code == msgpcode.Uint64 {
		return decodeHistogram(dec, path, n)
	}

	m := make(map[string]any, n)
	for i := 0; i < n; i++ {
		code, err := dec.PeekCode()
		if err != nil {
			return nil, decodeErr(path, malformed(err))
		}
		var key string
		skip := false
		switch {
		case code == msgpcode.Nil:
			// nil keys carry nothing addressable; drop the pair.
			if err := dec.DecodeNil(); err != nil {
				return nil, decodeErr(path, malformed(err))
			}
			skip = true
		case msgpcode.IsString(code) || msgpcode.IsBin(code):
			if key, err = dec.DecodeString(); err != nil {
				return nil, decodeErr(path, malformed(err))
			}
		default:
			return nil, decodeErr(path, fmt.Errorf("%w: map key code 0x%x", ErrMalformed, code))
		}
		val, err := decodeValue(dec, joinPath(path, key))
		if err != nil {
			return nil, err
		}
		if !skip {
			m[key] = val
		}
	}
	return m, nil
}

func decodeHistogram(dec *msgpack.Decoder, path string, n int) (any, error) {
	h := NewHistogram()
	for i := 0; i < n; i++ {
		key, err := decodeValue(dec, path)
		if err != nil {
			return nil, err
		}
		count, err := decodeValue(dec, path)
		if err != nil {
			return nil, err
		}
		k, ok := asInt64(key)
		if !ok {
			return nil, decodeErr(path, fmt.Errorf("%w: histogram key %T", ErrMalformed, key))
		}
		c, ok := asInt64(count)
		if !ok {
			return nil, decodeErr(path, fmt.Errorf("%w: histogram count %T", ErrMalformed, count))
		}
		h.AddN(k, c)
	}
	return h, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
