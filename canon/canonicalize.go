package canon

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize renders v as deterministic JSON: object keys sorted by
// Unicode code point, no insignificant whitespace, and numbers in their
// shortest round-tripping form — loosely RFC 8785 (JCS). Two payloads
// that are semantically equal but built with differently-ordered map
// keys always canonicalize to the same string, which is what lets
// downstream consumers dedupe or hash a UnifiedMessage by content.
//
// v is first round-tripped through encoding/json so struct field tags,
// MarshalJSON overrides (including UnifiedMessage's own), and omitempty
// behavior are honored exactly as a normal Marshal would produce them;
// only the resulting generic value is then walked and re-rendered in
// sorted-key form.
func Canonicalize(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}
	var b strings.Builder
	if err := writeCanonical(&b, generic); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		return writeCanonicalNumber(b, val)
	case string:
		writeCanonicalString(b, val)
	case []any:
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, elem); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalString(b, k)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("canon: cannot canonicalize value of type %T", v)
	}
	return nil
}

// writeCanonicalNumber reduces a decoded json.Number to the shortest
// form that round-trips: integral values lose any trailing ".0", and
// everything else uses Go's shortest float formatting. NaN/Inf cannot
// occur here since they never survive an encoding/json round trip.
func writeCanonicalNumber(b *strings.Builder, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		b.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: invalid number %q", n.String())
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canon: non-finite number %q", n.String())
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func writeCanonicalString(b *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	b.Write(data)
}
