package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode(%v): %v", v, err)
	}
	return b
}

func TestEncode_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"alpha": 1, "beta": "x", "gamma": true}
	b := map[string]any{"gamma": true, "alpha": 1, "beta": "x"}

	if !bytes.Equal(mustEncode(t, a), mustEncode(t, b)) {
		t.Error("maps with identical entries in different insertion order encoded differently")
	}
}

func TestEncode_IntFloatEquality(t *testing.T) {
	// Invariant: value semantics, not textual form. 3 and 3.0 are the same
	// number.
	cases := []struct {
		a, b any
	}{
		{int(3), float64(3.0)},
		{int64(0), float64(0)},
		{int(-7), float32(-7)},
		{json.Number("42"), int(42)},
		{json.Number("2.5"), float64(2.5)},
	}
	for _, tc := range cases {
		if !bytes.Equal(mustEncode(t, tc.a), mustEncode(t, tc.b)) {
			t.Errorf("%v (%T) and %v (%T) encoded differently", tc.a, tc.a, tc.b, tc.b)
		}
	}
}

func TestEncode_DistinctValuesDiffer(t *testing.T) {
	cases := []struct {
		name string
		a, b any
	}{
		{"null vs absent key", map[string]any{"k": nil}, map[string]any{}},
		{"string vs number", "3", 3},
		{"bool vs string", true, "true"},
		{"nested list order", []any{1, 2}, []any{2, 1}},
		{"near-miss strings", []any{"ab", "c"}, []any{"a", "bc"}},
		{"float precision", 2.5, 2.25},
	}
	for _, tc := range cases {
		if bytes.Equal(mustEncode(t, tc.a), mustEncode(t, tc.b)) {
			t.Errorf("%s: distinct values encoded identically", tc.name)
		}
	}
}

func TestEncode_SetOrderIndependent(t *testing.T) {
	a := Set{"x", "y", "z"}
	b := Set{"z", "x", "y"}
	if !bytes.Equal(mustEncode(t, a), mustEncode(t, b)) {
		t.Error("sets with same elements in different order encoded differently")
	}

	// Ordered slices keep their order.
	l1 := []any{"x", "y", "z"}
	l2 := []any{"z", "x", "y"}
	if bytes.Equal(mustEncode(t, l1), mustEncode(t, l2)) {
		t.Error("ordered lists with different element order encoded identically")
	}
}

func TestEncode_Deterministic(t *testing.T) {
	payload := map[string]any{
		"id":     "dc-123",
		"score":  0.97,
		"count":  12,
		"flags":  Set{"a", "b"},
		"nested": map[string]any{"deep": []any{1, nil, true}},
	}
	first := mustEncode(t, payload)
	for i := 0; i < 100; i++ {
		if !bytes.Equal(first, mustEncode(t, payload)) {
			t.Fatalf("encoding differed on iteration %d", i)
		}
	}
}

func TestEncode_NonFiniteNumbers(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Encode(f); !errors.Is(err, ErrEncoding) {
			t.Errorf("Encode(%v): got %v, want ErrEncoding", f, err)
		}
	}
}

func TestEncode_UnsupportedType(t *testing.T) {
	_, err := Encode(map[string]any{"ch": make(chan int)})
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("got %v, want ErrEncoding", err)
	}
}

func TestEncode_DepthLimit(t *testing.T) {
	// Self-referencing payloads must error, not hang.
	inner := map[string]any{}
	inner["self"] = inner
	if _, err := Encode(inner); !errors.Is(err, ErrEncoding) {
		t.Fatalf("got %v, want ErrEncoding for cyclic payload", err)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	enc := mustEncode(t, map[string]any{"k": "v"})
	if Fingerprint(enc) != Fingerprint(enc) {
		t.Error("fingerprint not stable over identical bytes")
	}

	other := mustEncode(t, map[string]any{"k": "w"})
	if Fingerprint(enc) == Fingerprint(other) {
		t.Error("different payloads produced the same fingerprint")
	}
}

func TestDataName_Length(t *testing.T) {
	enc := mustEncode(t, map[string]any{"k": "v"})
	name := DataName(Fingerprint(enc))
	if len(name) != 63 {
		t.Fatalf("DataName length = %d, want 63", len(name))
	}
	if name[:3] != "fp_" {
		t.Errorf("DataName prefix = %q, want fp_", name[:3])
	}
}

func TestTruncate(t *testing.T) {
	long := bytes.Repeat([]byte{0xAA}, 100)
	got := Truncate(long, MaxDataValue)
	if len(got) != MaxDataValue {
		t.Fatalf("truncated length = %d, want %d", len(got), MaxDataValue)
	}
	if got[MaxDataValue-1] != TruncationMarker {
		t.Errorf("last byte = %#x, want truncation marker %#x", got[MaxDataValue-1], TruncationMarker)
	}

	short := []byte("fits")
	if !bytes.Equal(Truncate(short, MaxDataValue), short) {
		t.Error("value under the limit was modified")
	}

	exact := bytes.Repeat([]byte{0xBB}, MaxDataValue)
	if !bytes.Equal(Truncate(exact, MaxDataValue), exact) {
		t.Error("value exactly at the limit was modified")
	}
}
