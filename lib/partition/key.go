package partition

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// KeyType identifies how a partition is addressed.
type KeyType uint8

const (
	KeyTypeNone KeyType = iota
	KeyTypeInt64Range
	KeyTypeString
)

func (k KeyType) String() string {
	switch k {
	case KeyTypeNone:
		return "none"
	case KeyTypeInt64Range:
		return "int64range"
	case KeyTypeString:
		return "string"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Key is an immutable partition key: no key, an inclusive int64 range, or a
// string. A single int64 value is a range whose bounds are equal.
type Key struct {
	kind KeyType
	low  int64
	high int64
	str  string
}

// NoneKey returns the key of a singleton (unpartitioned) service.
func NoneKey() Key {
	return Key{kind: KeyTypeNone}
}

// Int64Key returns the key addressing exactly one int64 value.
func Int64Key(v int64) Key {
	return Key{kind: KeyTypeInt64Range, low: v, high: v}
}

// Int64RangeKey returns the key for the inclusive range [low, high].
func Int64RangeKey(low, high int64) (Key, error) {
	if low > high {
		return Key{}, oops.In("partition").Errorf("invalid int64 range [%d, %d]", low, high)
	}
	return Key{kind: KeyTypeInt64Range, low: low, high: high}, nil
}

func StringKey(s string) Key {
	return Key{kind: KeyTypeString, str: s}
}

func (k Key) Type() KeyType { return k.kind }
func (k Key) Low() int64    { return k.low }
func (k Key) High() int64   { return k.high }
func (k Key) Str() string   { return k.str }

// IsSingleton reports whether an int64 key names exactly one value.
func (k Key) IsSingleton() bool {
	return k.kind == KeyTypeInt64Range && k.low == k.high
}

// IsValidTarget reports whether k can address a session target. Ranges are
// only valid when they collapse to a single value.
func (k Key) IsValidTarget() bool {
	switch k.kind {
	case KeyTypeNone, KeyTypeString:
		return true
	case KeyTypeInt64Range:
		return k.IsSingleton()
	default:
		return false
	}
}

// Contains reports whether other addresses a value inside k. For ranges this
// is inclusion; for other kinds it is equality.
func (k Key) Contains(other Key) bool {
	if k.kind != other.kind {
		return false
	}
	if k.kind == KeyTypeInt64Range {
		return k.low <= other.low && other.high <= k.high
	}
	return k.str == other.str
}

// Compare is the total order used for indexing: kind, then bounds, then the
// string value.
func Compare(a, b Key) int {
	if c := cmp.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	if c := cmp.Compare(a.low, b.low); c != 0 {
		return c
	}
	if c := cmp.Compare(a.high, b.high); c != 0 {
		return c
	}
	return strings.Compare(a.str, b.str)
}

// FindCompare is the lookup comparison: a singleton int64 key compares equal
// to any range that contains it. Otherwise it falls back to Compare.
func FindCompare(a, b Key) int {
	if a.kind == KeyTypeInt64Range && b.kind == KeyTypeInt64Range {
		if a.IsSingleton() && b.Contains(a) {
			return 0
		}
		if b.IsSingleton() && a.Contains(b) {
			return 0
		}
	}
	return Compare(a, b)
}

// Equal reports exact equality.
func (k Key) Equal(other Key) bool {
	return Compare(k, other) == 0
}

func (k Key) String() string {
	switch k.kind {
	case KeyTypeNone:
		return ""
	case KeyTypeInt64Range:
		if k.IsSingleton() {
			return strconv.FormatInt(k.low, 10)
		}
		return fmt.Sprintf("%d..%d", k.low, k.high)
	default:
		return k.str
	}
}

// ParseKey parses the textual form produced by String: empty for none, an
// integer, "low..high", or anything else as a string key.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return NoneKey(), nil
	}
	if lo, hi, ok := strings.Cut(s, ".."); ok {
		low, errLow := strconv.ParseInt(lo, 10, 64)
		high, errHigh := strconv.ParseInt(hi, 10, 64)
		if errLow == nil && errHigh == nil {
			return Int64RangeKey(low, high)
		}
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int64Key(v), nil
	}
	return StringKey(s), nil
}
