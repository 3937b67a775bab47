package record

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/ajitpratap0/orbit/pkg/json"
)

// Kind tags how a field value is carried on the wire.
type Kind uint8

const (
	// KindJSON is any JSON value: string, number, bool, null, or nested JSON
	// returned by queries.
	KindJSON Kind = iota
	// KindBinary is raw bytes, base64 encoded on the wire.
	KindBinary
	// KindReference points at another pending operation of the same unit of work.
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindBinary:
		return "binary"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged field value.
type Value struct {
	kind   Kind
	scalar interface{}
	binary []byte
	ref    ReferenceID
}

// JSON wraps an already decoded JSON value.
func JSON(v interface{}) Value { return Value{kind: KindJSON, scalar: v} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindJSON, scalar: s} }

// Int returns an integer value.
func Int(n int64) Value { return Value{kind: KindJSON, scalar: n} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindJSON, scalar: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindJSON, scalar: b} }

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindJSON} }

// Binary returns a binary value. The slice is copied.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, binary: append([]byte(nil), b...)}
}

// Ref returns a value that resolves to the id of the record registered under id.
func Ref(id ReferenceID) Value { return Value{kind: KindReference, ref: id} }

// Kind reports the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool { return v.kind == KindJSON && v.scalar == nil }

// Interface returns the JSON value. It is nil for binary and reference values.
func (v Value) Interface() interface{} {
	if v.kind != KindJSON {
		return nil
	}
	return v.scalar
}

// Bytes returns a copy of a binary value.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return append([]byte(nil), v.binary...), true
}

// Reference returns the reference carried by the value.
func (v Value) Reference() (ReferenceID, bool) {
	if v.kind != KindReference {
		return ReferenceID{}, false
	}
	return v.ref, true
}

// AsString returns the value as a string when it is a JSON string.
func (v Value) AsString() (string, bool) {
	s, ok := v.scalar.(string)
	return s, ok && v.kind == KindJSON
}

// Text renders the value as a flat text cell: strings unchanged, numbers in
// canonical form, booleans as true/false, binary as base64 and nested JSON
// compacted. Null renders as nullText. References cannot be rendered.
func (v Value) Text(nullText string) (string, error) {
	switch v.kind {
	case KindBinary:
		return base64.StdEncoding.EncodeToString(v.binary), nil
	case KindReference:
		return "", fmt.Errorf("reference %s has no text form outside a unit of work", v.ref)
	}

	switch s := v.scalar.(type) {
	case nil:
		return nullText, nil
	case string:
		return s, nil
	case bool:
		return strconv.FormatBool(s), nil
	case int:
		return strconv.Itoa(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case json.Number:
		return s.String(), nil
	default:
		out, err := json.Marshal(s)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// MarshalJSON encodes the value as it is sent in a request body. References
// encode as their placeholder token.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBinary:
		return json.Marshal(base64.StdEncoding.EncodeToString(v.binary))
	case KindReference:
		return json.Marshal(v.ref.Placeholder())
	default:
		return json.Marshal(v.scalar)
	}
}

// Equal reports whether two values carry the same tag and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBinary:
		return string(v.binary) == string(o.binary)
	case KindReference:
		return v.ref == o.ref
	}
	a, errA := v.Text("")
	b, errB := o.Text("")
	return errA == nil && errB == nil && a == b && (v.scalar == nil) == (o.scalar == nil)
}
