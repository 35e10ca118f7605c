package entity

import (
	"fmt"
	"math"
	"strconv"
)

// Key is a sealed interface over primary-key types. Only StringKey and
// IntKey implement it. Both variants are comparable, so a Key is usable
// directly as a Go map key.
type Key interface {
	isKey() // Sealed - only these types implement it

	// String returns the display form of the key: digits for IntKey,
	// the raw string for StringKey. Used for snapshot encoding and
	// remote resource paths.
	String() string

	// Value returns the key as a document value.
	Value() Value
}

// StringKey is a string-valued primary key.
type StringKey string

func (StringKey) isKey() {}

func (k StringKey) String() string { return string(k) }

// Value implements Key.
func (k StringKey) Value() Value { return String(k) }

// IntKey is an integer-valued primary key.
type IntKey int64

func (IntKey) isKey() {}

func (k IntKey) String() string { return strconv.FormatInt(int64(k), 10) }

// Value implements Key.
func (k IntKey) Value() Value { return Int(k) }

// KeyOf converts a scalar document value to a Key. Strings and ints map
// directly; a float with no fractional part is accepted as an integer key
// because wire formats with a single number type deliver ids that way.
// Everything else is rejected.
func KeyOf(v Value) (Key, error) {
	switch val := v.(type) {
	case String:
		if val == "" {
			return nil, fmt.Errorf("%w: empty string", ErrInvalidKey)
		}
		return StringKey(val), nil
	case Int:
		return IntKey(val), nil
	case Float:
		f := float64(val)
		if math.Trunc(f) != f || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: fractional number %v", ErrInvalidKey, f)
		}
		if f < math.MinInt64 || f > math.MaxInt64 {
			return nil, fmt.Errorf("%w: number out of range %v", ErrInvalidKey, f)
		}
		return IntKey(int64(f)), nil
	case nil:
		return nil, fmt.Errorf("%w: missing value", ErrInvalidKey)
	default:
		return nil, fmt.Errorf("%w: %T is not a string or number", ErrInvalidKey, v)
	}
}

// CompareKeys orders keys for deterministic listings: integer keys before
// string keys, then natural order within each kind.
func CompareKeys(a, b Key) int {
	switch av := a.(type) {
	case IntKey:
		bv, ok := b.(IntKey)
		if !ok {
			return -1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case StringKey:
		bv, ok := b.(StringKey)
		if !ok {
			return 1
		}
		return compareKeysUTF16(string(av), string(bv))
	default:
		return 0
	}
}
