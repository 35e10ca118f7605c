package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the document value types.
// Only Null, Bool, Int, Float, String, Array, and Doc implement it.
// Entities are schema-free documents built from these variants, so every
// payload that enters the cache can be serialized, hashed, and replayed.
type Value interface {
	isValue() // Sealed - only these types implement it
}

// Null represents a JSON null field value.
// An explicit type keeps nil out of documents entirely.
type Null struct{}

func (Null) isValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string field value.
type String string

func (String) isValue() {}

// Int represents an integer field value. Always int64.
type Int int64

func (Int) isValue() {}

// Float represents a fractional field value.
// NaN and infinities are rejected at marshal time; they have no JSON form.
type Float float64

func (Float) isValue() {}

// Bool represents a boolean field value.
type Bool bool

func (Bool) isValue() {}

// Array represents an ordered sequence of values.
type Array []Value

func (Array) isValue() {}

// Doc represents an entity document: string keys to field values.
// Use SortedKeys for deterministic iteration.
type Doc map[string]Value

func (Doc) isValue() {}

// D builds a Doc from alternating key/value pairs. It panics on an odd
// argument count or a non-string key, so it is meant for literals in
// tests and seed data, not for decoding untrusted input.
func D(pairs ...any) Doc {
	if len(pairs)%2 != 0 {
		panic("entity.D: odd number of arguments")
	}
	d := make(Doc, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("entity.D: key %d is %T, not string", i/2, pairs[i]))
		}
		v, err := FromGo(pairs[i+1])
		if err != nil {
			panic(fmt.Sprintf("entity.D: value for %q: %v", k, err))
		}
		d[k] = v
	}
	return d
}

// SortedKeys returns keys ordered by UTF-16 code units, the canonical-JSON
// ordering. Go's sort.Strings compares UTF-8 bytes, which produces a
// different order for strings outside the BMP.
func (d Doc) SortedKeys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// compareKeysUTF16 compares strings by UTF-16 code units, as canonical JSON
// requires. utf16.Encode handles surrogate pairs correctly.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// Clone returns a deep copy of v. Scalars are returned as-is; arrays and
// documents are copied recursively. Transitions never share mutable
// structure between old and new collection values.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Doc:
		return val.Clone()
	default:
		return v
	}
}

// Clone returns a deep copy of the document.
func (d Doc) Clone() Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = Clone(v)
	}
	return out
}

// Merge returns a new document holding d's fields overlaid with changes.
// The merge is shallow: a changed field replaces the old value wholesale,
// untouched fields are preserved. Neither input is mutated.
func (d Doc) Merge(changes Doc) Doc {
	out := make(Doc, len(d)+len(changes))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}

// Equal reports whether two values are deeply equal.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Doc:
		bv, ok := b.(Doc)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromGo converts a plain Go value (as produced by yaml or cue decoding)
// into a Value. Integers stay integers; float64 values with no fractional
// part remain floats, the distinction is the caller's. nil becomes Null.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(val), nil
	case float32:
		return floatValue(float64(val))
	case float64:
		return floatValue(val)
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			n, err := val.Int64()
			if err != nil {
				return nil, fmt.Errorf("number out of int64 range: %s", val)
			}
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number: %s", val)
		}
		return floatValue(f)
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		doc := make(Doc, len(val))
		for k, elem := range val {
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			doc[k] = ev
		}
		return doc, nil
	case map[any]any:
		// yaml.v3 may decode nested mappings this way.
		doc := make(Doc, len(val))
		for k, elem := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("object key %v is %T, not string", k, k)
			}
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", ks, err)
			}
			doc[ks] = ev
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// DocFromGo converts a decoded map into a Doc.
func DocFromGo(m map[string]any) (Doc, error) {
	v, err := FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(Doc), nil
}

func floatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite numbers have no JSON form: %v", f)
	}
	return Float(f), nil
}

// UnmarshalJSON implements json.Unmarshaler for Doc.
func (d *Doc) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = make(Doc, len(raw))
	for k, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("document key %q: %w", k, err)
		}
		(*d)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (a *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = make(Array, len(raw))
	for i, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*a)[i] = val
	}
	return nil
}

// UnmarshalValue decodes JSON bytes into a Value. Integer literals without
// a fraction or exponent become Int, every other number becomes Float.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Null{}, nil

	case '[':
		var arr Array
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		var doc Doc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return doc, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return FromGo(n)
	}
}

// MarshalJSON implements json.Marshaler for Doc with UTF-16-sorted keys.
// This ordering matches the canonical form; the canonical marshaler adds
// NFC normalization and escaping rules on top.
func (d Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	keys := d.SortedKeys()
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(d[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue marshals a Value to JSON bytes with sorted object keys.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return nil, fmt.Errorf("non-finite numbers have no JSON form: %v", float64(val))
		}
		return json.Marshal(float64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			elemBytes, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(elemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Doc:
		return val.MarshalJSON()
	case nil:
		return nil, fmt.Errorf("nil is not a Value; use Null")
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}
