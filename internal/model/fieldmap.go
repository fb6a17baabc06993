package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Absent marks a field that a source did not report. It is a display
// marker, distinct from an empty extracted value.
const Absent = "—"

// Value is a single field value: either a scalar string or a nested map.
type Value struct {
	Str    string
	Nested *FieldMap
}

// StringValue wraps a scalar string as a Value.
func StringValue(s string) Value {
	return Value{Str: s}
}

// NestedValue wraps a FieldMap as a Value.
func NestedValue(fm *FieldMap) Value {
	return Value{Nested: fm}
}

// IsNested reports whether the value is a nested map.
func (v Value) IsNested() bool {
	return v.Nested != nil
}

// String renders the value for comparison tables and logs. Nested maps
// render as compact JSON.
func (v Value) String() string {
	if v.Nested != nil {
		b, err := json.Marshal(v.Nested)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return v.Str
}

// Equal compares two values: trimmed string equality for scalars,
// structural equality for nested maps.
func (v Value) Equal(other Value) bool {
	if v.IsNested() != other.IsNested() {
		return false
	}
	if v.IsNested() {
		return v.Nested.Equal(other.Nested)
	}
	return strings.TrimSpace(v.Str) == strings.TrimSpace(other.Str)
}

// FieldMap is an ordered mapping from field name to Value. Order is
// insertion order, which for extracted documents mirrors the order fields
// appear in the source. A FieldMap is immutable by convention once an
// extraction step has produced it.
type FieldMap struct {
	keys   []string
	values map[string]Value
}

// NewFieldMap returns an empty FieldMap.
func NewFieldMap() *FieldMap {
	return &FieldMap{values: make(map[string]Value)}
}

// Set stores a value under name, preserving first-insertion order.
func (m *FieldMap) Set(name string, v Value) {
	if m.values == nil {
		m.values = make(map[string]Value)
	}
	if _, ok := m.values[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.values[name] = v
}

// SetString stores a scalar string value under name.
func (m *FieldMap) SetString(name, s string) {
	m.Set(name, StringValue(s))
}

// Get returns the value for name and whether it exists.
func (m *FieldMap) Get(name string) (Value, bool) {
	v, ok := m.values[name]
	return v, ok
}

// GetString returns the scalar value for name, or "" if absent or nested.
func (m *FieldMap) GetString(name string) string {
	v, ok := m.values[name]
	if !ok || v.IsNested() {
		return ""
	}
	return v.Str
}

// Has reports whether name is present.
func (m *FieldMap) Has(name string) bool {
	_, ok := m.values[name]
	return ok
}

// Keys returns field names in insertion order. The returned slice must
// not be mutated.
func (m *FieldMap) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Len returns the number of fields.
func (m *FieldMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Equal compares two maps structurally: same field set and equal values.
// Order is not significant for equality.
func (m *FieldMap) Equal(other *FieldMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	for _, k := range m.Keys() {
		ov, ok := other.Get(k)
		if !ok {
			return false
		}
		v, _ := m.Get(k)
		if !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the map as a JSON object preserving field order.
func (m *FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v := m.values[k]
		var vb []byte
		if v.IsNested() {
			vb, err = json.Marshal(v.Nested)
		} else {
			vb, err = json.Marshal(v.Str)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the map, preserving the order
// fields appear in the document. Non-string scalar values (numbers,
// booleans, null) are stored in their literal textual form; arrays are
// stored as compact JSON text.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "fieldmap: decode")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return eris.New("fieldmap: expected JSON object")
	}

	*m = *NewFieldMap()
	return decodeObject(dec, m)
}

func decodeObject(dec *json.Decoder, m *FieldMap) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "fieldmap: decode key")
		}
		key, ok := keyTok.(string)
		if !ok {
			return eris.New("fieldmap: non-string key")
		}

		v, err := decodeValue(dec)
		if err != nil {
			return eris.Wrapf(err, "fieldmap: decode value for %q", key)
		}
		m.Set(key, v)
	}

	// Consume closing brace.
	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "fieldmap: decode close")
	}
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			nested := NewFieldMap()
			if err := decodeObject(dec, nested); err != nil {
				return Value{}, err
			}
			return NestedValue(nested), nil
		case '[':
			var raw []json.RawMessage
			for dec.More() {
				var item json.RawMessage
				if err := dec.Decode(&item); err != nil {
					return Value{}, err
				}
				raw = append(raw, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			parts := make([]string, len(raw))
			for i, r := range raw {
				parts[i] = string(r)
			}
			return StringValue("[" + strings.Join(parts, ",") + "]"), nil
		}
		return Value{}, eris.Errorf("fieldmap: unexpected delimiter %v", t)
	case string:
		return StringValue(t), nil
	case json.Number:
		return StringValue(t.String()), nil
	case bool:
		if t {
			return StringValue("true"), nil
		}
		return StringValue("false"), nil
	case nil:
		return StringValue(""), nil
	default:
		return Value{}, eris.Errorf("fieldmap: unexpected token %v", tok)
	}
}
