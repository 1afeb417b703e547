// Package canonical produces a deterministic byte encoding of decision
// payloads and the SHA-256 fingerprint over it. Two payloads that are equal
// under value semantics (key order, int vs float textual form, set element
// order) encode to identical bytes; differing payloads never collide because
// every element is tagged and length-delimited.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrEncoding is returned when a payload contains values with no canonical
// form (unsupported types, NaN, cycles). This is a programmer error and is
// never retried.
var ErrEncoding = errors.New("canonical: cannot encode payload")

// maxDepth bounds recursion so cyclic payloads fail instead of hanging.
const maxDepth = 256

// Set marks a slice as set-typed: elements are sorted by their canonical
// encoding before serialization, so element order never affects the
// fingerprint.
type Set []any

// Encode returns the canonical byte encoding of v. It is total and
// deterministic over nil, bools, numbers, strings, byte slices, ordered
// slices, Sets, and string-keyed maps of the same.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Fingerprint returns the SHA-256 hash of canonical bytes.
func Fingerprint(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func encode(buf *bytes.Buffer, v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d levels (cycle?)", ErrEncoding, maxDepth)
	}

	switch x := v.(type) {
	case nil:
		buf.WriteByte('z')
	case bool:
		if x {
			buf.WriteByte('t')
		} else {
			buf.WriteByte('f')
		}
	case string:
		writeDelimited(buf, 's', []byte(x))
	case []byte:
		writeDelimited(buf, 'b', x)
	case json.RawMessage:
		writeDelimited(buf, 'b', x)
	case int:
		writeNumber(buf, strconv.FormatInt(int64(x), 10))
	case int32:
		writeNumber(buf, strconv.FormatInt(int64(x), 10))
	case int64:
		writeNumber(buf, strconv.FormatInt(x, 10))
	case uint:
		writeNumber(buf, strconv.FormatUint(uint64(x), 10))
	case uint64:
		writeNumber(buf, strconv.FormatUint(x, 10))
	case float32:
		return encodeFloat(buf, float64(x))
	case float64:
		return encodeFloat(buf, x)
	case json.Number:
		return encodeJSONNumber(buf, x)
	case Set:
		return encodeSet(buf, x, depth)
	case []any:
		buf.WriteByte('l')
		for _, el := range x {
			if err := encode(buf, el, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case map[string]any:
		return encodeMap(buf, x, depth)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrEncoding, v)
	}
	return nil
}

// encodeFloat normalizes numbers so that integral floats encode identically
// to integers of the same value. Non-integral floats use the shortest decimal
// form Go can round-trip.
func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: non-finite number %v", ErrEncoding, f)
	}
	if f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
		writeNumber(buf, strconv.FormatInt(int64(f), 10))
		return nil
	}
	writeNumber(buf, strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func encodeJSONNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		writeNumber(buf, strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("%w: malformed number %q", ErrEncoding, n.String())
	}
	return encodeFloat(buf, f)
}

// encodeMap writes entries sorted lexicographically by the UTF-8 bytes of
// their keys. Absent keys are simply absent; a nil value encodes as the
// explicit null tag, so null and absent never collide.
func encodeMap(buf *bytes.Buffer, m map[string]any, depth int) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('m')
	for _, k := range keys {
		writeDelimited(buf, 's', []byte(k))
		if err := encode(buf, m[k], depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

func encodeSet(buf *bytes.Buffer, s Set, depth int) error {
	encoded := make([][]byte, len(s))
	for i, el := range s {
		var eb bytes.Buffer
		if err := encode(&eb, el, depth+1); err != nil {
			return err
		}
		encoded[i] = eb.Bytes()
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	buf.WriteByte('S')
	for _, eb := range encoded {
		buf.Write(eb)
	}
	buf.WriteByte('e')
	return nil
}

func writeNumber(buf *bytes.Buffer, text string) {
	buf.WriteByte('n')
	buf.WriteString(text)
	buf.WriteByte(';')
}

func writeDelimited(buf *bytes.Buffer, tag byte, b []byte) {
	buf.WriteByte(tag)
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteByte(':')
	buf.Write(b)
}
