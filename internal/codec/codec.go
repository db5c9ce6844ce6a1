// Package codec turns fragments into bytes and back using the protobuf wire
// format. Messages are written field by field with protowire so the layout is
// readable by any protobuf decoder given the matching schema:
//
//	message NodeID   { string graph = 1; string id = 2; }
//	message Address  { NodeID node_id = 1; }
//	message Key      { uint64 timestamp = 1; string name = 2; }
//	message Value    { oneof data { string str = 1; sint64 int = 2; double float = 3;
//	                                bool bool = 4; bytes bytes = 5; NodeID ref = 6; } }
//	message Fragment { Address id = 1; repeated Key keys = 2; repeated Value values = 3; }
package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dreamware/graphshard/internal/graph"
)

var (
	// ErrEncode is returned when a fragment cannot be serialized.
	ErrEncode = errors.New("codec: encode")
	// ErrDecode is returned for malformed input.
	ErrDecode = errors.New("codec: decode")
)

const (
	fieldFragmentID     protowire.Number = 1
	fieldFragmentKeys   protowire.Number = 2
	fieldFragmentValues protowire.Number = 3

	fieldAddressNodeID protowire.Number = 1

	fieldNodeGraph protowire.Number = 1
	fieldNodeID    protowire.Number = 2

	fieldKeyTimestamp protowire.Number = 1
	fieldKeyName      protowire.Number = 2

	fieldValueString protowire.Number = 1
	fieldValueInt    protowire.Number = 2
	fieldValueFloat  protowire.Number = 3
	fieldValueBool   protowire.Number = 4
	fieldValueBytes  protowire.Number = 5
	fieldValueRef    protowire.Number = 6
)

// Codec is the encode/decode contract the shard worker depends on.
type Codec interface {
	Encode(f *graph.Fragment) ([]byte, error)
	Decode(b []byte) (*graph.Fragment, error)
}

// Proto is the default Codec.
type Proto struct{}

// Encode validates f and serializes it.
func (Proto) Encode(f *graph.Fragment) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return AppendFragment(nil, f)
}

// Decode parses b into a fragment and checks the key/value pairing.
func (Proto) Decode(b []byte) (*graph.Fragment, error) {
	f, err := decodeFragment(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(f.Keys) != len(f.Values) {
		return nil, fmt.Errorf("%w: %d keys but %d values", ErrDecode, len(f.Keys), len(f.Values))
	}
	return f, nil
}

// AppendFragment appends the wire form of f to b without validating it.
func AppendFragment(b []byte, f *graph.Fragment) ([]byte, error) {
	b = protowire.AppendTag(b, fieldFragmentID, protowire.BytesType)
	b = protowire.AppendBytes(b, appendAddress(nil, f.ID))
	for _, k := range f.Keys {
		b = protowire.AppendTag(b, fieldFragmentKeys, protowire.BytesType)
		b = protowire.AppendBytes(b, appendKey(nil, k))
	}
	for i, v := range f.Values {
		vb, err := appendValue(nil, v)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: %w", ErrEncode, i, err)
		}
		b = protowire.AppendTag(b, fieldFragmentValues, protowire.BytesType)
		b = protowire.AppendBytes(b, vb)
	}
	return b, nil
}

func appendNodeID(b []byte, id graph.NodeID) []byte {
	if id.Graph != "" {
		b = protowire.AppendTag(b, fieldNodeGraph, protowire.BytesType)
		b = protowire.AppendString(b, id.Graph)
	}
	if id.ID != "" {
		b = protowire.AppendTag(b, fieldNodeID, protowire.BytesType)
		b = protowire.AppendString(b, id.ID)
	}
	return b
}

func appendAddress(b []byte, a graph.AddressBlock) []byte {
	b = protowire.AppendTag(b, fieldAddressNodeID, protowire.BytesType)
	return protowire.AppendBytes(b, appendNodeID(nil, a.NodeID))
}

func appendKey(b []byte, k graph.Key) []byte {
	if k.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldKeyTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, k.Timestamp)
	}
	b = protowire.AppendTag(b, fieldKeyName, protowire.BytesType)
	return protowire.AppendString(b, k.Name)
}

func appendValue(b []byte, v graph.Value) ([]byte, error) {
	switch d := v.Data.(type) {
	case graph.StringData:
		b = protowire.AppendTag(b, fieldValueString, protowire.BytesType)
		b = protowire.AppendString(b, string(d))
	case graph.IntData:
		b = protowire.AppendTag(b, fieldValueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(d)))
	case graph.FloatData:
		b = protowire.AppendTag(b, fieldValueFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(float64(d)))
	case graph.BoolData:
		b = protowire.AppendTag(b, fieldValueBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(bool(d)))
	case graph.BytesData:
		b = protowire.AppendTag(b, fieldValueBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, d)
	case graph.RefData:
		b = protowire.AppendTag(b, fieldValueRef, protowire.BytesType)
		b = protowire.AppendBytes(b, appendNodeID(nil, graph.NodeID(d)))
	case nil:
		return nil, errors.New("value has no data")
	default:
		return nil, fmt.Errorf("unsupported data kind %s", d.Kind())
	}
	return b, nil
}

// field is one decoded tag/value pair; bytes is set for BytesType, num64 for
// the scalar wire types.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	bytes []byte
	num64 uint64
}

// walk calls fn for every field in b, skipping groups and unknown fields.
func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.num64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.num64, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.num64 = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func expect(f field, typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: wire type %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

func decodeFragment(b []byte) (*graph.Fragment, error) {
	frag := &graph.Fragment{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldFragmentID:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			return walk(f.bytes, func(a field) error {
				if a.num != fieldAddressNodeID {
					return nil
				}
				if err := expect(a, protowire.BytesType); err != nil {
					return err
				}
				id, err := decodeNodeID(a.bytes)
				frag.ID.NodeID = id
				return err
			})
		case fieldFragmentKeys:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			k, err := decodeKey(f.bytes)
			if err != nil {
				return err
			}
			frag.Keys = append(frag.Keys, k)
		case fieldFragmentValues:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			v, err := decodeValue(f.bytes)
			if err != nil {
				return err
			}
			frag.Values = append(frag.Values, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frag, nil
}

func decodeNodeID(b []byte) (graph.NodeID, error) {
	var id graph.NodeID
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldNodeGraph:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			id.Graph = string(f.bytes)
		case fieldNodeID:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			id.ID = string(f.bytes)
		}
		return nil
	})
	return id, err
}

func decodeKey(b []byte) (graph.Key, error) {
	var k graph.Key
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldKeyTimestamp:
			if err := expect(f, protowire.VarintType); err != nil {
				return err
			}
			k.Timestamp = f.num64
		case fieldKeyName:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			k.Name = string(f.bytes)
		}
		return nil
	})
	return k, err
}

func decodeValue(b []byte) (graph.Value, error) {
	var v graph.Value
	err := walk(b, func(f field) error {
		var want protowire.Type
		switch f.num {
		case fieldValueString, fieldValueBytes, fieldValueRef:
			want = protowire.BytesType
		case fieldValueInt, fieldValueBool:
			want = protowire.VarintType
		case fieldValueFloat:
			want = protowire.Fixed64Type
		default:
			return nil
		}
		if err := expect(f, want); err != nil {
			return err
		}

		// Last member of the oneof wins, as in protobuf.
		switch f.num {
		case fieldValueString:
			v.Data = graph.StringData(f.bytes)
		case fieldValueInt:
			v.Data = graph.IntData(protowire.DecodeZigZag(f.num64))
		case fieldValueFloat:
			v.Data = graph.FloatData(math.Float64frombits(f.num64))
		case fieldValueBool:
			v.Data = graph.BoolData(protowire.DecodeBool(f.num64))
		case fieldValueBytes:
			v.Data = graph.BytesData(append([]byte(nil), f.bytes...))
		case fieldValueRef:
			id, err := decodeNodeID(f.bytes)
			if err != nil {
				return err
			}
			v.Data = graph.RefData(id)
		}
		return nil
	})
	if err != nil {
		return v, err
	}
	if v.Data == nil {
		return v, errors.New("value has no data")
	}
	return v, nil
}
