package update

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// ValueKind is the closed set of metadata value kinds.
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a single metadata value.
type Value struct {
	kind ValueKind
	s    string
	n    float64
	b    bool
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string payload; ok is false for other kinds.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Num returns the number payload; ok is false for other kinds.
func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }

// Boolean returns the bool payload; ok is false for other kinds.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// String renders the value for logs and CLI output.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Metadata is an insertion-ordered map of string keys to simple values.
// The zero value is ready to use.
type Metadata struct {
	keys []string
	vals map[string]Value
}

// NewMetadata returns an empty metadata map.
func NewMetadata() *Metadata {
	return &Metadata{vals: make(map[string]Value)}
}

// Set stores v under key, keeping the original position of an existing key.
func (m *Metadata) Set(key string, v Value) {
	if v.kind == 0 {
		return
	}
	if m.vals == nil {
		m.vals = make(map[string]Value)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

func (m *Metadata) SetString(key, s string) { m.Set(key, String(s)) }
func (m *Metadata) SetNumber(key string, n float64) { m.Set(key, Number(n)) }
func (m *Metadata) SetBool(key string, b bool) { m.Set(key, Bool(b)) }

// SetAny converts raw into a Value and stores it. Values outside the
// string/number/bool set are dropped and SetAny reports false.
func (m *Metadata) SetAny(key string, raw any) bool {
	v, ok := ValueOf(raw)
	if !ok {
		return false
	}
	m.Set(key, v)
	return true
}

// ValueOf converts a Go value into a metadata Value.
func ValueOf(raw any) (Value, bool) {
	switch x := raw.(type) {
	case nil:
		return Value{}, false
	case string:
		return String(x), true
	case bool:
		return Bool(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, false
		}
		return Number(f), true
	case Value:
		return x, x.kind != 0
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(float64(rv.Uint())), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, false
		}
		return Number(f), true
	}
	return Value{}, false
}

// Get returns the value stored under key.
func (m *Metadata) Get(key string) (Value, bool) {
	if m == nil || m.vals == nil {
		return Value{}, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// GetString returns the string stored under key, or "" if absent or not a string.
func (m *Metadata) GetString(key string) string {
	v, _ := m.Get(key)
	s, _ := v.Str()
	return s
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Merge applies patch on top of m. Keys present in patch are set; no key is removed.
func (m *Metadata) Merge(patch *Metadata) {
	if patch == nil {
		return
	}
	for _, k := range patch.keys {
		m.Set(k, patch.vals[k])
	}
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	out := NewMetadata()
	if m == nil {
		return out
	}
	out.Merge(m)
	return out
}

// Map returns the entries as a plain map. Order is lost.
func (m *Metadata) Map() map[string]any {
	out := make(map[string]any, m.Len())
	if m == nil {
		return out
	}
	for _, k := range m.keys {
		out[k] = m.vals[k].Interface()
	}
	return out
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if m != nil {
		for i, k := range m.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(m.vals[k].Interface())
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, keeping key order. Nested
// objects, arrays and nulls are dropped.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{vals: make(map[string]Value)}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("metadata: expected key, got %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		m.SetAny(key, raw)
	}
	_, err = dec.Token()
	return err
}
