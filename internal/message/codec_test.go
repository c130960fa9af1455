package message_test

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/torosent/crankworker/internal/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rt := message.NewHistogram()
	rt.Add(150)
	rt.Add(150)
	rt.Add(3400)

	tests := []struct {
		name string
		env  message.Envelope
	}{
		{
			name: "nil payload",
			env:  message.New(message.TypeClientReady, nil, "host_abc"),
		},
		{
			name: "scalars",
			env: message.New(message.TypeHeartbeat, map[string]any{
				"state":             "running",
				"current_cpu_usage": 12.5,
				"ratio":             float32(0.25),
				"index":             int32(7),
				"big":               int64(math.MaxInt64),
				"negative":          int64(math.MinInt64),
				"flag":              true,
				"nothing":           nil,
			}, "node"),
		},
		{
			name: "nested",
			env: message.New(message.TypeStats, map[string]any{
				"stats": []any{
					map[string]any{"name": "a", "response_times": rt},
					"x",
					int64(3),
				},
				"stats_total": map[string]any{"num_requests": int64(3)},
				"errors":      map[string]any{},
			}, "node"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := message.Encode(tt.env)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := message.Decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.env) {
				t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, tt.env)
			}
		})
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	type custom struct{ A int }
	cases := []any{custom{A: 1}, []string{"a"}, map[string]int{"a": 1}, uint8(1), make(chan int)}
	for _, v := range cases {
		_, err := message.Encode(message.New(message.TypeStats, map[string]any{"v": v}, "n"))
		if err == nil {
			t.Fatalf("expected error for %T", v)
		}
		var codecErr *message.CodecError
		if !errors.As(err, &codecErr) {
			t.Fatalf("expected CodecError for %T, got %T", v, err)
		}
		if !errors.Is(err, message.ErrUnsupportedType) {
			t.Fatalf("expected ErrUnsupportedType for %T, got %v", v, err)
		}
	}
}

func TestEncodeUnsupportedNestedType(t *testing.T) {
	payload := map[string]any{"outer": []any{map[string]any{"inner": struct{}{}}}}
	_, err := message.Encode(message.New(message.TypeStats, payload, "n"))
	if !errors.Is(err, message.ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestEncodeFieldOrder(t *testing.T) {
	data, err := message.Encode(message.New(message.TypeSpawning, nil, "worker-1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var fields []any
	if err := msgpack.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if fields[0] != message.TypeSpawning || fields[1] != nil || fields[2] != "worker-1" {
		t.Fatalf("unexpected field layout: %#v", fields)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := message.Encode(message.New(message.TypeStop, nil, "n"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	twoFields, _ := msgpack.Marshal([]any{"stop", nil})
	badPayload, _ := msgpack.Marshal([]any{"stop", "not a map", "n"})

	cases := map[string][]byte{
		"empty":       nil,
		"truncated":   valid[:len(valid)-2],
		"not array":   {0xa3, 'a', 'b', 'c'},
		"two fields":  twoFields,
		"bad payload": badPayload,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := message.Decode(data)
			var codecErr *message.CodecError
			if !errors.As(err, &codecErr) {
				t.Fatalf("expected CodecError, got %v", err)
			}
		})
	}
}

// Locust masters pack integers with the smallest format that fits.
func TestDecodeCompactIntegersFromMaster(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	_ = enc.EncodeArrayLen(3)
	_ = enc.EncodeString(message.TypeSpawn)
	_ = enc.EncodeMapLen(2)
	_ = enc.EncodeString("user_classes_count")
	_ = enc.EncodeMapLen(1)
	_ = enc.EncodeString("Dummy")
	_ = enc.EncodeInt(3)
	_ = enc.EncodeString("host")
	_ = enc.EncodeString("http://localhost")
	_ = enc.EncodeString("master")

	env, err := message.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	counts, ok := env.Payload["user_classes_count"].(map[string]any)
	if !ok {
		t.Fatalf("user_classes_count has type %T", env.Payload["user_classes_count"])
	}
	if counts["Dummy"] != int64(3) {
		t.Fatalf("expected int64(3), got %#v", counts["Dummy"])
	}
}

func TestDecodeHistogramKeys(t *testing.T) {
	h := message.NewHistogram()
	h.Add(1700000000)
	h.AddN(1700000001, 4)
	data, err := message.Encode(message.New(message.TypeStats, map[string]any{"num_reqs_per_sec": h}, "n"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := message.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := env.Payload["num_reqs_per_sec"].(*message.Histogram)
	if !ok {
		t.Fatalf("expected *Histogram, got %T", env.Payload["num_reqs_per_sec"])
	}
	if got.Get(1700000001) != 4 || got.Total() != 5 {
		t.Fatalf("unexpected histogram contents: len=%d total=%d", got.Len(), got.Total())
	}
}
