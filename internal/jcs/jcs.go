// Package jcs implements the JSON Canonicalization Scheme (RFC 8785):
// a deterministic byte encoding of a JSON value with object keys sorted
// and numbers serialized per the ECMAScript Number::toString convention.
//
// It generalizes the teacher's sorted-key JSON marshaler into the full
// canonicalization rule the DID document and VJSON substrates hash over:
// every self-hash is computed over, and every document is persisted as,
// the JCS form of the value — never the sender's original byte ordering.
package jcs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Marshal returns the canonical JSON encoding of v.
//
// v may be any value encoding/json can marshal; maps are re-encoded with
// their keys sorted (bytewise, which agrees with RFC 8785's UTF-16 code
// unit order for the ASCII field names used throughout this module),
// and float64 values are formatted with the ECMAScript-compatible
// shortest round-trip representation rather than Go's default.
func Marshal(v interface{}) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON is an alias for Marshal kept for callers migrating from the
// teacher's canonical.MarshalJSON name.
func MarshalJSON(v interface{}) ([]byte, error) {
	return Marshal(v)
}

// toGeneric round-trips v through encoding/json to obtain map[string]interface{}
// / []interface{} / json.Number / string / bool / nil, using json.Number so
// that integers are not corrupted by float64 round-tripping.
func toGeneric(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: re-decode during canonicalization: %w", err)
	}
	return generic, nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		return encodeObject(buf, val)
	case []interface{}:
		return encodeArray(buf, val)
	case json.Number:
		return encodeNumber(buf, val)
	case string:
		return encodeString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case nil:
		buf.WriteString("null")
		return nil
	default:
		// Shouldn't happen: toGeneric only ever produces the cases above.
		return fmt.Errorf("jcs: unsupported value type %T", v)
	}
}

func encodeObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// encodeString writes s using encoding/json's escaping rules but with HTML
// escaping disabled, matching RFC 8785's "escape only what JSON requires".
func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	innerEnc := json.NewEncoder(&tmp)
	innerEnc.SetEscapeHTML(false)
	if err := innerEnc.Encode(s); err != nil {
		return err
	}
	// json.Encoder.Encode appends a trailing newline; strip it.
	b := bytes.TrimRight(tmp.Bytes(), "\n")
	buf.Write(b)
	return nil
}

// encodeNumber formats n per the ECMAScript Number::toString convention
// used by RFC 8785: integers that fit exactly are printed without a
// fractional part or exponent; everything else uses the shortest
// round-trip decimal representation.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()

	if i, err := n.Int64(); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}

	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("jcs: invalid number %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("jcs: number %q is not representable in JSON", s)
	}
	buf.WriteString(formatECMANumber(f))
	return nil
}

// formatECMANumber renders f the way ECMAScript's Number::toString would,
// which is what RFC 8785 mandates for non-integral JSON numbers.
func formatECMANumber(f float64) string {
	abs := math.Abs(f)
	var mode byte = 'f'
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		mode = 'e'
	}
	out := strconv.FormatFloat(f, mode, -1, 64)
	if mode == 'e' {
		// Go emits e.g. "1e+21"; ECMAScript emits "1e+21" too, but with no
		// leading zero in the exponent and a mandatory sign, which Go
		// already provides — only normalize "e+0"/"e-0" forms.
		out = normalizeExponent(out)
	}
	return out
}

func normalizeExponent(s string) string {
	idx := bytes.IndexByte([]byte(s), 'e')
	if idx < 0 {
		return s
	}
	mantissa, exp := s[:idx], s[idx+1:]
	sign := "+"
	if len(exp) > 0 && (exp[0] == '+' || exp[0] == '-') {
		if exp[0] == '-' {
			sign = "-"
		}
		exp = exp[1:]
	}
	for len(exp) > 1 && exp[0] == '0' {
		exp = exp[1:]
	}
	return mantissa + "e" + sign + exp
}

// Unmarshal parses canonical (or any well-formed) JSON into v, using
// json.Number for numeric literals so that a subsequent Marshal round-trips
// exactly. It is the counterpart used by the round-trip invariant
// jcs(parse(jcs(v))) == jcs(v).
func Unmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
