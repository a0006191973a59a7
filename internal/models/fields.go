package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Tags is an ordered string set persisted as a JSON array.
type Tags []string

// Add returns t with every tag not already present appended.
func (t Tags) Add(tags ...string) Tags {
	out := append(Tags{}, t...)
	seen := make(map[string]bool, len(out))
	for _, tag := range out {
		seen[tag] = true
	}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// Remove returns t without any of the given tags.
func (t Tags) Remove(tags ...string) Tags {
	drop := make(map[string]bool, len(tags))
	for _, tag := range tags {
		drop[strings.TrimSpace(tag)] = true
	}
	out := Tags{}
	for _, tag := range t {
		if !drop[tag] {
			out = append(out, tag)
		}
	}
	return out
}

// Value stores the set as a JSON array; a nil set is stored as [].
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	return string(b), err
}

func (t *Tags) Scan(src any) error {
	*t = Tags{}
	return scanJSON(src, (*[]string)(t))
}

func (t Tags) Contains(tag string) bool {
	for _, existing := range t {
		if existing == tag {
			return true
		}
	}
	return false
}

// FieldKind enumerates the value shapes a custom field may hold.
type FieldKind int

const (
	FieldString FieldKind = iota + 1
	FieldNumber
	FieldBool
	FieldObject
)

// FieldValue is a custom field value: a string, a number, a boolean or a
// nested mapping of further field values. Null and arrays are rejected.
type FieldValue struct {
	kind FieldKind
	str  string
	num  float64
	b    bool
	obj  map[string]FieldValue
}

func StringField(s string) FieldValue  { return FieldValue{kind: FieldString, str: s} }
func NumberField(n float64) FieldValue { return FieldValue{kind: FieldNumber, num: n} }
func BoolField(b bool) FieldValue      { return FieldValue{kind: FieldBool, b: b} }

func ObjectField(m map[string]FieldValue) FieldValue {
	if m == nil {
		m = map[string]FieldValue{}
	}
	return FieldValue{kind: FieldObject, obj: m}
}

func (v FieldValue) Kind() FieldKind { return v.kind }

func (v FieldValue) AsString() (string, bool) { return v.str, v.kind == FieldString }

func (v FieldValue) AsNumber() (float64, bool) { return v.num, v.kind == FieldNumber }

func (v FieldValue) AsBool() (bool, bool) { return v.b, v.kind == FieldBool }

func (v FieldValue) AsObject() (map[string]FieldValue, bool) { return v.obj, v.kind == FieldObject }

func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case FieldString:
		return json.Marshal(v.str)
	case FieldNumber:
		return json.Marshal(v.num)
	case FieldBool:
		return json.Marshal(v.b)
	case FieldObject:
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("custom field value has no kind")
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty custom field value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringField(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolField(b)
	case '{':
		var m map[string]FieldValue
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*v = ObjectField(m)
	case 'n', '[':
		return fmt.Errorf("unsupported custom field value %s", data)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported custom field value %s", data)
		}
		*v = NumberField(n)
	}
	return nil
}

// CustomFields maps a field name to its constrained value.
type CustomFields map[string]FieldValue

func (f CustomFields) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]FieldValue(f))
	return string(b), err
}

func (f *CustomFields) Scan(src any) error {
	*f = CustomFields{}
	return scanJSON(src, (*map[string]FieldValue)(f))
}

// scanJSON decodes a JSON column into dst. NULL leaves dst untouched.
func scanJSON(src any, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into a JSON column", src)
	}
	if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}
