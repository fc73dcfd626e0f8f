package scan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind is the representation of a scanned cell.
type ValueKind int

const (
	// Int32 is a 4-byte native-endian two's-complement integer.
	Int32 ValueKind = iota
	// Int64 is an 8-byte native-endian two's-complement integer.
	Int64
	// StringPrefix is a fixed-size window of bytes matched by prefix.
	StringPrefix
)

// ValueType is a ValueKind plus, for StringPrefix, the size of the
// window read around every match. The window is deliberately allowed to
// be larger than the pattern searched for: scanning for "flag" with a
// 16-byte window reads the 12 bytes that follow every occurrence, which
// is the whole point of a string scan.
type ValueType struct {
	Kind   ValueKind
	Window int
}

// Int32Type returns the type of 4-byte integer cells.
func Int32Type() ValueType { return ValueType{Kind: Int32} }

// Int64Type returns the type of 8-byte integer cells.
func Int64Type() ValueType { return ValueType{Kind: Int64} }

// StringType returns a StringPrefix type with the given window size.
func StringType(window int) ValueType {
	return ValueType{Kind: StringPrefix, Window: window}
}

// Size returns the number of bytes read for one value of this type.
func (t ValueType) Size() int {
	switch t.Kind {
	case Int32:
		return 4
	case Int64:
		return 8
	case StringPrefix:
		return t.Window
	}
	return 0
}

func (t ValueType) String() string {
	switch t.Kind {
	case Int32:
		return "int32 (4B)"
	case Int64:
		return "int64 (8B)"
	case StringPrefix:
		return fmt.Sprintf("str (%dB window)", t.Window)
	}
	return fmt.Sprintf("ValueType(%d)", int(t.Kind))
}

var (
	// ErrShortBuffer is returned by Decode when the buffer does not
	// hold exactly one value of the requested type.
	ErrShortBuffer = errors.New("buffer does not hold a full value")

	// ErrUnsupportedComparison is returned when an ordering comparison
	// is applied to a value kind that has no ordering. It is a usage
	// error; the scan is not attempted.
	ErrUnsupportedComparison = errors.New("comparison not supported for this value type")
)

// Value is one decoded cell, immutable once read.
type Value struct {
	typ ValueType
	raw []byte
}

// Decode interprets buf as one value. Int32/Int64 require exactly 4/8
// bytes, StringPrefix exactly the configured window.
func (t ValueType) Decode(buf []byte) (Value, error) {
	if len(buf) != t.Size() || t.Size() == 0 {
		return Value{}, ErrShortBuffer
	}
	raw := make([]byte, len(buf))
	copy(raw, buf)
	return Value{typ: t, raw: raw}, nil
}

// Int32Value returns an Int32 Value holding n.
func Int32Value(n int32) Value {
	raw := make([]byte, 4)
	binary.NativeEndian.PutUint32(raw, uint32(n))
	return Value{typ: Int32Type(), raw: raw}
}

// Int64Value returns an Int64 Value holding n.
func Int64Value(n int64) Value {
	raw := make([]byte, 8)
	binary.NativeEndian.PutUint64(raw, uint64(n))
	return Value{typ: Int64Type(), raw: raw}
}

// StringValue returns a StringPrefix value holding pattern, to be used
// as a scan target. The pattern may be shorter than the window.
func StringValue(pattern string, window int) (Value, error) {
	if len(pattern) == 0 || len(pattern) > window {
		return Value{}, fmt.Errorf("pattern length must be between 1 and the window size (%d)", window)
	}
	return Value{typ: StringType(window), raw: []byte(pattern)}, nil
}

// Type returns the value's type.
func (v Value) Type() ValueType { return v.typ }

// Bytes returns a copy of the value's raw bytes.
func (v Value) Bytes() []byte {
	raw := make([]byte, len(v.raw))
	copy(raw, v.raw)
	return raw
}

// Int returns the numeric interpretation of the value. Meaningless for
// StringPrefix values.
func (v Value) Int() int64 {
	switch v.typ.Kind {
	case Int32:
		return int64(int32(binary.NativeEndian.Uint32(v.raw)))
	case Int64:
		return int64(binary.NativeEndian.Uint64(v.raw))
	}
	return 0
}

// MatchesPrefix reports whether the value's leading bytes equal pattern.
func (v Value) MatchesPrefix(pattern []byte) bool {
	if len(pattern) == 0 || len(pattern) > len(v.raw) {
		return false
	}
	return string(v.raw[:len(pattern)]) == string(pattern)
}

// equalBytes reports bytewise equality with o.
func (v Value) equalBytes(o Value) bool {
	return string(v.raw) == string(o.raw)
}

func (v Value) String() string {
	switch v.typ.Kind {
	case Int32, Int64:
		return strconv.FormatInt(v.Int(), 10)
	case StringPrefix:
		return strconv.Quote(strings.TrimRight(string(v.raw), "\x00"))
	}
	return fmt.Sprintf("% x", v.raw)
}

// ParseValue parses a user-entered value of the given type. Numeric
// values accept decimal and 0x-prefixed hex.
func ParseValue(t ValueType, s string) (Value, error) {
	switch t.Kind {
	case Int32:
		n, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a 32-bit integer", s)
		}
		return Int32Value(int32(n)), nil
	case Int64:
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a 64-bit integer", s)
		}
		return Int64Value(n), nil
	case StringPrefix:
		return StringValue(s, t.Window)
	}
	return Value{}, fmt.Errorf("unknown value type %v", t)
}

// CompareOp is the filter applied by a next scan to each candidate.
type CompareOp int

const (
	// CompareExact keeps candidates whose current value equals a fresh
	// target (prefix match for StringPrefix).
	CompareExact CompareOp = iota
	// CompareChanged keeps candidates whose value differs from the one
	// stored by the previous scan.
	CompareChanged
	// CompareUnchanged keeps candidates whose value equals the stored one.
	CompareUnchanged
	// CompareIncreased keeps candidates whose value grew. Numeric only.
	CompareIncreased
	// CompareDecreased keeps candidates whose value shrank. Numeric only.
	CompareDecreased
)

func (op CompareOp) String() string {
	switch op {
	case CompareExact:
		return "exact"
	case CompareChanged:
		return "changed"
	case CompareUnchanged:
		return "unchanged"
	case CompareIncreased:
		return "increased"
	case CompareDecreased:
		return "decreased"
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

// needsTarget reports whether the operator requires a fresh target value.
func (op CompareOp) needsTarget() bool { return op == CompareExact }

// check verifies that op is applicable to values of type t. Ordering
// comparisons need an ordering, which StringPrefix values do not have;
// changed/unchanged on a prefix-matched window has no obviously right
// meaning either, so it is rejected instead of guessed at.
func (op CompareOp) check(t ValueType) error {
	if t.Kind == StringPrefix && op != CompareExact {
		return ErrUnsupportedComparison
	}
	return nil
}

// matchTarget reports whether cur equals target: bytewise for integers,
// by prefix for strings.
func matchTarget(target, cur Value) bool {
	if target.typ.Kind == StringPrefix {
		return cur.MatchesPrefix(target.raw)
	}
	return cur.equalBytes(target)
}

// eval applies op to a candidate's previous and freshly read values.
// target is consulted only by CompareExact. op.check must have been
// called for the value type beforehand.
func (op CompareOp) eval(prev, cur, target Value) bool {
	switch op {
	case CompareExact:
		return matchTarget(target, cur)
	case CompareChanged:
		return !cur.equalBytes(prev)
	case CompareUnchanged:
		return cur.equalBytes(prev)
	case CompareIncreased:
		return cur.Int() > prev.Int()
	case CompareDecreased:
		return cur.Int() < prev.Int()
	}
	return false
}
