package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Data is the closed set of payload types a Value can carry.
type Data interface {
	isData()
	// Kind names the variant; it is also the JSON tag of the variant.
	Kind() string
}

// StringData holds UTF-8 text.
type StringData string

// IntData holds a signed integer.
type IntData int64

// FloatData holds a float64.
type FloatData float64

// BoolData holds a boolean.
type BoolData bool

// BytesData holds opaque bytes.
type BytesData []byte

// RefData points at another node, making the attribute an edge.
type RefData NodeID

func (StringData) isData() {}
func (IntData) isData()    {}
func (FloatData) isData()  {}
func (BoolData) isData()   {}
func (BytesData) isData()  {}
func (RefData) isData()    {}

func (StringData) Kind() string { return "string" }
func (IntData) Kind() string    { return "int" }
func (FloatData) Kind() string  { return "float" }
func (BoolData) Kind() string   { return "bool" }
func (BytesData) Kind() string  { return "bytes" }
func (RefData) Kind() string    { return "ref" }

// Value wraps a Data payload.
type Value struct {
	Data Data
}

// StringValue is shorthand for a Value holding StringData.
func StringValue(s string) Value {
	return Value{Data: StringData(s)}
}

// Equal reports whether two values carry the same variant and payload.
func (v Value) Equal(other Value) bool {
	switch a := v.Data.(type) {
	case nil:
		return other.Data == nil
	case BytesData:
		b, ok := other.Data.(BytesData)
		return ok && bytes.Equal(a, b)
	default:
		return v.Data == other.Data
	}
}

// String renders the payload for logs and debugging.
func (v Value) String() string {
	if v.Data == nil {
		return "<nil>"
	}
	if r, ok := v.Data.(RefData); ok {
		return "->" + NodeID(r).String()
	}
	return fmt.Sprintf("%v", v.Data)
}

// MarshalJSON encodes a value as a single-field object keyed by its kind,
// e.g. {"string":"Linux"} or {"ref":{"graph":"g","id":"7"}}.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Data == nil {
		return []byte("null"), nil
	}
	var payload any = v.Data
	if r, ok := v.Data.(RefData); ok {
		payload = NodeID(r)
	}
	return json.Marshal(map[string]any{v.Data.Kind(): payload})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		v.Data = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("value must have exactly one variant, got %d", len(raw))
	}
	for kind, msg := range raw {
		var err error
		switch kind {
		case "string":
			var s string
			err = json.Unmarshal(msg, &s)
			v.Data = StringData(s)
		case "int":
			var i int64
			err = json.Unmarshal(msg, &i)
			v.Data = IntData(i)
		case "float":
			var f float64
			err = json.Unmarshal(msg, &f)
			v.Data = FloatData(f)
		case "bool":
			var t bool
			err = json.Unmarshal(msg, &t)
			v.Data = BoolData(t)
		case "bytes":
			var p []byte
			err = json.Unmarshal(msg, &p)
			v.Data = BytesData(p)
		case "ref":
			var id NodeID
			err = json.Unmarshal(msg, &id)
			v.Data = RefData(id)
		default:
			return fmt.Errorf("unknown value kind %q", kind)
		}
		if err != nil {
			return fmt.Errorf("value %s: %w", kind, err)
		}
	}
	return nil
}
