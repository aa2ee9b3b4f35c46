// Package value implements the opaque, self-describing data tree that
// flows between steps: null, bool, number, string, sequence and mapping,
// plus the success/failure Payload envelope carried by every request and
// response.
package value

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the variant a Value currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Value is an immutable tree node. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	seq  []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64. Integers are represented exactly up to 2^53.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Sequence wraps an ordered list of values. The slice is copied.
func Sequence(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindSequence, seq: cp}
}

// Mapping wraps a string-keyed map of values. The map is copied.
func Mapping(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMapping, m: cp}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload and whether v held one.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload and whether v held one.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string payload and whether v held one.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsSequence returns the sequence payload and whether v held one. The
// returned slice is the caller's to read but not to mutate in place.
func (v Value) AsSequence() ([]Value, bool) { return v.seq, v.kind == KindSequence }

// AsMapping returns the mapping payload and whether v held one. The
// returned map is the caller's to read but not to mutate in place.
func (v Value) AsMapping() (map[string]Value, bool) { return v.m, v.kind == KindMapping }

// Payload is the success-or-failure envelope carried by every request and
// response: either an ok value or an error value, each optionally empty.
type Payload struct {
	ok       bool
	value    Value
	hasValue bool
}

// Ok wraps a successful value.
func Ok(v Value) Payload { return Payload{ok: true, value: v, hasValue: true} }

// OkEmpty is a successful payload carrying no value.
func OkEmpty() Payload { return Payload{ok: true} }

// Err wraps a failure value.
func Err(v Value) Payload { return Payload{ok: false, value: v, hasValue: true} }

// ErrEmpty is a failure payload carrying no value.
func ErrEmpty() Payload { return Payload{ok: false} }

// IsOk reports whether the payload is the success variant.
func (p Payload) IsOk() bool { return p.ok }

// Value returns the carried value and whether one is present.
func (p Payload) Value() (Value, bool) { return p.value, p.hasValue }

// jsonValue mirrors Value for marshalling, since Value's fields are
// unexported and the exact wire shape (tagged by "kind") needs to survive
// round trips through --json dumps and the YAML parsed-form decoder.
type jsonValue struct {
	Kind string          `json:"kind"`
	Bool bool            `json:"bool,omitempty"`
	Num  float64         `json:"number,omitempty"`
	Str  string          `json:"string,omitempty"`
	Seq  []Value         `json:"sequence,omitempty"`
	Map  map[string]Value `json:"mapping,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Kind: v.kind.String()}
	switch v.kind {
	case KindBool:
		jv.Bool = v.b
	case KindNumber:
		jv.Num = v.n
	case KindString:
		jv.Str = v.s
	case KindSequence:
		jv.Seq = v.seq
	case KindMapping:
		jv.Map = v.m
	}
	return json.Marshal(jv)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	switch jv.Kind {
	case "", "null":
		*v = Null()
	case "bool":
		*v = Bool(jv.Bool)
	case "number":
		*v = Number(jv.Num)
	case "string":
		*v = String(jv.Str)
	case "sequence":
		*v = Sequence(jv.Seq...)
	case "mapping":
		*v = Mapping(jv.Map)
	default:
		return fmt.Errorf("value: unknown kind %q", jv.Kind)
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler so parsed-form step params can
// be decoded directly into a Value tree without an intermediate any.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return v.unmarshalScalar(node)
	case yaml.SequenceNode:
		items := make([]Value, len(node.Content))
		for i, child := range node.Content {
			if err := items[i].UnmarshalYAML(child); err != nil {
				return err
			}
		}
		*v = Sequence(items...)
		return nil
	case yaml.MappingNode:
		m := make(map[string]Value, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			var val Value
			if err := val.UnmarshalYAML(node.Content[i+1]); err != nil {
				return err
			}
			m[key] = val
		}
		*v = Mapping(m)
		return nil
	case yaml.AliasNode:
		return v.UnmarshalYAML(node.Alias)
	default:
		*v = Null()
		return nil
	}
}

func (v *Value) unmarshalScalar(node *yaml.Node) error {
	if node.Tag == "!!null" || node.Value == "" && node.Tag == "" {
		*v = Null()
		return nil
	}
	switch node.Tag {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = Bool(b)
	case "!!int", "!!float":
		var n float64
		if err := node.Decode(&n); err != nil {
			return err
		}
		*v = Number(n)
	default:
		*v = String(node.Value)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (interface{}, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindNumber:
		return v.n, nil
	case KindString:
		return v.s, nil
	case KindSequence:
		return v.seq, nil
	case KindMapping:
		return v.m, nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}
