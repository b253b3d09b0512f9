package engine

import (
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Value: tagged runtime value for Structured Text variables
// ---------------------------------------------------------------------------

// Kind discriminates the runtime representation of a Value.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt       // all signed integer types (SINT..LINT)
	KindReal      // REAL and LREAL
	KindString
	KindTime // IEC TIME, stored as a duration
	KindStruct
	KindArray
	KindRef // reference into the storage reference table
)

// Value is one runtime value. Exactly the fields relevant to Kind are
// meaningful; the rest stay zero.
type Value struct {
	Kind Kind
	Type string // declared type name, e.g. "DINT", "MotorDrive"

	Bool bool
	Int  int64
	Real float64
	Str  string
	Dur  time.Duration

	Fields []Field // KindStruct, declaration order
	Elems  []Value // KindArray
	Ref    int     // KindRef; 0 is the null reference
}

// Field is one named member of a struct value.
type Field struct {
	Name  string
	Value Value
}

// BoolValue returns a BOOL value.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Type: "BOOL", Bool: b}
}

// IntValue returns an integer value with the given declared type.
func IntValue(typ string, v int64) Value {
	return Value{Kind: KindInt, Type: typ, Int: v}
}

// RealValue returns a floating-point value with the given declared type.
func RealValue(typ string, v float64) Value {
	return Value{Kind: KindReal, Type: typ, Real: v}
}

// StringValue returns a STRING value.
func StringValue(s string) Value {
	return Value{Kind: KindString, Type: "STRING", Str: s}
}

// TimeValue returns a TIME value.
func TimeValue(d time.Duration) Value {
	return Value{Kind: KindTime, Type: "TIME", Dur: d}
}

// StructValue returns a struct value with fields in declaration order.
func StructValue(typ string, fields []Field) Value {
	return Value{Kind: KindStruct, Type: typ, Fields: fields}
}

// ArrayValue returns an array value.
func ArrayValue(typ string, elems []Value) Value {
	return Value{Kind: KindArray, Type: typ, Elems: elems}
}

// RefValue returns a reference value pointing into the reference table.
func RefValue(typ string, ref int) Value {
	return Value{Kind: KindRef, Type: typ, Ref: ref}
}

// TypeName returns the declared type name, falling back to a default
// name for the kind when the declaration is missing.
func (v Value) TypeName() string {
	if v.Type != "" {
		return v.Type
	}
	switch v.Kind {
	case KindBool:
		return "BOOL"
	case KindInt:
		return "DINT"
	case KindReal:
		return "LREAL"
	case KindString:
		return "STRING"
	case KindTime:
		return "TIME"
	case KindStruct:
		return "STRUCT"
	case KindArray:
		return "ARRAY"
	case KindRef:
		return "REF"
	}
	return "ANY"
}

// Expandable reports whether the value has children a debug client can
// page into (struct fields, array elements, or a reference pointee).
func (v Value) Expandable() bool {
	switch v.Kind {
	case KindStruct, KindArray:
		return true
	case KindRef:
		return v.Ref != 0
	}
	return false
}

// String renders the value in ST literal form. Aggregates render as a
// short summary; clients expand them through a variable reference.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindReal:
		return fmt.Sprintf("%g", v.Real)
	case KindString:
		return "'" + v.Str + "'"
	case KindTime:
		return "T#" + formatIECDuration(v.Dur)
	case KindStruct:
		return fmt.Sprintf("%s(%d fields)", v.TypeName(), len(v.Fields))
	case KindArray:
		return fmt.Sprintf("[%d elements]", len(v.Elems))
	case KindRef:
		if v.Ref == 0 {
			return "REF(null)"
		}
		return fmt.Sprintf("REF(#%d)", v.Ref)
	}
	return "<invalid>"
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	out := v
	if len(v.Fields) > 0 {
		out.Fields = make([]Field, len(v.Fields))
		for i, f := range v.Fields {
			out.Fields[i] = Field{Name: f.Name, Value: f.Value.Clone()}
		}
	}
	if len(v.Elems) > 0 {
		out.Elems = make([]Value, len(v.Elems))
		for i, e := range v.Elems {
			out.Elems[i] = e.Clone()
		}
	}
	return out
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindReal:
		return v.Real == o.Real
	case KindString:
		return v.Str == o.Str
	case KindTime:
		return v.Dur == o.Dur
	case KindRef:
		return v.Ref == o.Ref
	case KindStruct:
		if len(v.Fields) != len(o.Fields) {
			return false
		}
		for i := range v.Fields {
			if v.Fields[i].Name != o.Fields[i].Name || !v.Fields[i].Value.Equal(o.Fields[i].Value) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.Elems) != len(o.Elems) {
			return false
		}
		for i := range v.Elems {
			if !v.Elems[i].Equal(o.Elems[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Coerce converts a decoded JSON value (bool, float64, string) into a
// Value matching the kind of the current value. Used when a client
// writes a variable: the declared type never changes.
func (v Value) Coerce(raw interface{}) (Value, error) {
	switch v.Kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected boolean for %s", v.TypeName())
		}
		out := v
		out.Bool = b
		return out, nil
	case KindInt:
		f, ok := raw.(float64)
		if !ok {
			return Value{}, fmt.Errorf("expected number for %s", v.TypeName())
		}
		out := v
		out.Int = int64(f)
		return out, nil
	case KindReal:
		f, ok := raw.(float64)
		if !ok {
			return Value{}, fmt.Errorf("expected number for %s", v.TypeName())
		}
		out := v
		out.Real = f
		return out, nil
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string for %s", v.TypeName())
		}
		out := v
		out.Str = s
		return out, nil
	case KindTime:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected TIME literal string for %s", v.TypeName())
		}
		d, err := ParseIECDuration(strings.TrimPrefix(strings.TrimPrefix(s, "T#"), "TIME#"))
		if err != nil {
			return Value{}, err
		}
		out := v
		out.Dur = d
		return out, nil
	}
	return Value{}, fmt.Errorf("cannot write aggregate type %s directly", v.TypeName())
}

// ---------------------------------------------------------------------------
// IEC duration literals
// ---------------------------------------------------------------------------

// ParseIECDuration parses the payload of a TIME literal (after the
// "T#" prefix): day/hour/minute/second/millisecond components in
// order, e.g. "2d4h", "1h30m", "500ms", "1.5s".
func ParseIECDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty TIME literal")
	}
	rest := strings.ToLower(s)
	var total time.Duration
	for rest != "" {
		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("bad TIME literal %q", s)
		}
		var num float64
		if _, err := fmt.Sscanf(rest[:i], "%g", &num); err != nil {
			return 0, fmt.Errorf("bad TIME literal %q", s)
		}
		rest = rest[i:]
		var unit time.Duration
		switch {
		case strings.HasPrefix(rest, "ms"):
			unit = time.Millisecond
			rest = rest[2:]
		case strings.HasPrefix(rest, "d"):
			unit = 24 * time.Hour
			rest = rest[1:]
		case strings.HasPrefix(rest, "h"):
			unit = time.Hour
			rest = rest[1:]
		case strings.HasPrefix(rest, "m"):
			unit = time.Minute
			rest = rest[1:]
		case strings.HasPrefix(rest, "s"):
			unit = time.Second
			rest = rest[1:]
		default:
			return 0, fmt.Errorf("bad TIME unit in %q", s)
		}
		total += time.Duration(num * float64(unit))
	}
	return total, nil
}

// formatIECDuration renders a duration in compact IEC form.
func formatIECDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	neg := d < 0
	if neg {
		d = -d
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dh", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dm", m)
		d -= m * time.Minute
	}
	if s := d / time.Second; s > 0 {
		fmt.Fprintf(&b, "%ds", s)
		d -= s * time.Second
	}
	if ms := d / time.Millisecond; ms > 0 {
		fmt.Fprintf(&b, "%dms", ms)
	}
	return b.String()
}
