// Package jsonvalue provides an order-preserving tagged union over JSON values.
//
// Backend payloads in this system have no fixed schema, so classifiers and
// URL discovery walk them generically. Objects keep their keys in source
// order which makes every walk deterministic.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Field is a single key/value member of an object
type Field struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value. The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	s      string // string contents, or the literal text of a number
	items  []Value
	fields []Field
}

// Constructors

func NullValue() Value {
	return Value{}
}

func BoolValue(b bool) Value {
	return Value{kind: Bool, b: b}
}

func StringValue(s string) Value {
	return Value{kind: String, s: s}
}

func NumberValue(n string) Value {
	return Value{kind: Number, s: n}
}

func ArrayValue(items ...Value) Value {
	return Value{kind: Array, items: items}
}

func ObjectValue(fields ...Field) Value {
	return Value{kind: Object, fields: fields}
}

// Kind returns the variant held by v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is JSON null
func (v Value) IsNull() bool { return v.kind == Null }

// Bool returns the boolean held by v and whether v is a boolean
func (v Value) Bool() (bool, bool) {
	if v.kind != Bool {
		return false, false
	}
	return v.b, true
}

// Str returns the string held by v and whether v is a string
func (v Value) Str() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.s, true
}

// Number returns the literal text of a number and whether v is a number
func (v Value) Number() (string, bool) {
	if v.kind != Number {
		return "", false
	}
	return v.s, true
}

// Items returns the elements of an array, nil for other kinds
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	return v.items
}

// Fields returns the members of an object in source order, nil for other kinds
func (v Value) Fields() []Field {
	if v.kind != Object {
		return nil
	}
	return v.fields
}

// Get looks up key in an object. Duplicate keys resolve to the last occurrence.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	for i := len(v.fields) - 1; i >= 0; i-- {
		if v.fields[i].Key == key {
			return v.fields[i].Value, true
		}
	}
	return Value{}, false
}

// IsTrue reports whether key holds the boolean true
func (v Value) IsTrue(key string) bool {
	field, ok := v.Get(key)
	if !ok {
		return false
	}
	b, ok := field.Bool()
	return ok && b
}

// StringField returns the string at key, or "" when absent or not a string
func (v Value) StringField(key string) string {
	field, ok := v.Get(key)
	if !ok {
		return ""
	}
	s, _ := field.Str()
	return s
}

// Scalar renders strings and numbers as text, useful for identifier and amount fields
func (v Value) Scalar() (string, bool) {
	switch v.kind {
	case String, Number:
		return v.s, v.s != ""
	}
	return "", false
}

// ContainsFold reports whether the string at key contains substr, ignoring case
func (v Value) ContainsFold(key, substr string) bool {
	s := v.StringField(key)
	if s == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Walk visits every string value reachable from v in source order.
// The path slice is only valid for the duration of the callback.
func (v Value) Walk(visit func(path []string, s string)) {
	v.walk(nil, visit)
}

func (v Value) walk(path []string, visit func(path []string, s string)) {
	switch v.kind {
	case String:
		visit(path, v.s)
	case Array:
		for i, item := range v.items {
			item.walk(append(path, fmt.Sprintf("[%d]", i)), visit)
		}
	case Object:
		for _, f := range v.fields {
			f.Value.walk(append(path, f.Key), visit)
		}
	}
}

var errTrailingData = errors.New("jsonvalue: trailing data after top-level value")

// Parse decodes one JSON document into a Value
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, errTrailingData
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("jsonvalue: %w", err)
	}

	switch t := tok.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		return NumberValue(t.String()), nil
	case string:
		return StringValue(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("jsonvalue: %w", err)
			}
			return ArrayValue(items...), nil
		case '{':
			fields := []Field{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("jsonvalue: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("jsonvalue: unexpected object key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				fields = append(fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("jsonvalue: %w", err)
			}
			return ObjectValue(fields...), nil
		}
	}
	return Value{}, fmt.Errorf("jsonvalue: unexpected token %v", tok)
}

// MarshalJSON renders v back to JSON, keeping object key order
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		buf.WriteString(v.s)
	case String:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON lets Value be embedded in ordinary structs
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
