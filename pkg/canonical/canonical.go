// Package canonical implements a bespoke, byte-exact encoder for attestation
// payloads. It is deliberately not a general-purpose JSON re-marshaler:
// keys are sorted at every depth (not just the top level), floats use a
// fixed minimal decimal form, and the token set for booleans/null is frozen,
// so that two semantically identical payloads always produce identical bytes
// on any platform.
package canonical

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Encode renders v as its canonical byte sequence.
func Encode(v interface{}) ([]byte, error) {
	var b strings.Builder
	if err := encodeValue(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func encodeValue(b *strings.Builder, v interface{}) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case string:
		encodeString(b, t)
		return nil
	case float64:
		return encodeFloat(b, t)
	case float32:
		return encodeFloat(b, float64(t))
	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(t), 10))
		return nil
	case uint64:
		b.WriteString(strconv.FormatUint(t, 10))
		return nil
	case map[string]interface{}:
		return encodeObject(b, t)
	case []interface{}:
		return encodeArray(b, t)
	case []string:
		arr := make([]interface{}, len(t))
		for i, s := range t {
			arr[i] = s
		}
		return encodeArray(b, arr)
	default:
		return fmt.Errorf("canonical: unsupported value type %T", v)
	}
}

func encodeObject(b *strings.Builder, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeString(b, k)
		b.WriteByte(':')
		if err := encodeValue(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func encodeArray(b *strings.Builder, arr []interface{}) error {
	b.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encodeValue(b, item); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

// encodeString writes s with the mandatory JSON escapes only: quote,
// backslash, and control characters. No extraneous escaping (e.g. of
// forward slashes or non-ASCII) is performed, keeping the byte form minimal.
func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// encodeFloat writes f using the fixed minimal decimal representation:
// integral floats are emitted without a fractional part or exponent,
// everything else uses the shortest round-tripping decimal form with no
// exponent notation, matching a deterministic canonical rendering across
// platforms.
func encodeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical: non-finite float %v is not representable", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	b.WriteString(s)
	return nil
}
