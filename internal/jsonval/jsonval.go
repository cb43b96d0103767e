// Package jsonval implements a generic JSON value as a tagged variant
// (object/array/string/number/bool/null) with recursive visitors, rather
// than decoding into map[string]any. The stdlib decodes objects into
// unordered Go maps, which cannot preserve "keys in insertion order" — a
// requirement the JSON walker needs so two runs over the same payload visit
// (and therefore rewrite) string leaves in the same deterministic order.
package jsonval

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind tags the variant held by a Value.
type Kind int

// Variant kinds, one per JSON type.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a single JSON value, tagged by Kind. Only the field matching Kind
// is meaningful.
type Value struct {
	Kind   Kind
	Bool   bool
	Number json.Number
	Str    string
	Array  []*Value
	Object *Object
}

// Object holds JSON object members in source key order. Duplicate keys (rare
// but legal JSON) keep only the last value, matching encoding/json's own
// behavior, but the first occurrence's position in Keys.
type Object struct {
	keys []string
	vals map[string]*Value
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{vals: make(map[string]*Value)}
}

// Keys returns the member names in insertion order.
func (o *Object) Keys() []string { return o.keys }

// Get returns the value for key, or nil if absent.
func (o *Object) Get(key string) (*Value, bool) {
	v, ok := o.vals[key]
	return v, ok
}

// Set inserts or overwrites key, appending to Keys only on first insertion.
func (o *Object) Set(key string, v *Value) {
	if _, exists := o.vals[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

// Parse decodes a single JSON value from data, preserving object key order.
func Parse(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	// Reject trailing garbage after the single top-level value.
	if dec.More() {
		return nil, fmt.Errorf("jsonval: trailing data after top-level value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return parseFromToken(dec, tok)
}

func parseFromToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("jsonval: expected string object key, got %T", keyTok)
				}
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return &Value{Kind: KindObject, Object: obj}, nil
		case '[':
			var arr []*Value
			for dec.More() {
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return &Value{Kind: KindArray, Array: arr}, nil
		default:
			return nil, fmt.Errorf("jsonval: unexpected delimiter %v", t)
		}
	case json.Number:
		return &Value{Kind: KindNumber, Number: t}, nil
	case string:
		return &Value{Kind: KindString, Str: t}, nil
	case bool:
		return &Value{Kind: KindBool, Bool: t}, nil
	case nil:
		return &Value{Kind: KindNull}, nil
	default:
		return nil, fmt.Errorf("jsonval: unexpected token type %T", tok)
	}
}

// Encode serializes v back to compact JSON, preserving object key order and
// array order exactly as parsed (or as constructed).
func (v *Value) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encodeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) encodeTo(buf *bytes.Buffer) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(string(v.Number))
	case KindString:
		b, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, el := range v.Array {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := el.encodeTo(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.Object.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			val, _ := v.Object.Get(k)
			if err := val.encodeTo(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("jsonval: unknown kind %d", v.Kind)
	}
	return nil
}

// String returns the string value for a KindString Value and true, or ""
// and false otherwise.
func (v *Value) String() (string, bool) {
	if v == nil || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}
