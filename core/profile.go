package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Attribute is one demographic fact: either a scalar value or an ordered list.
type Attribute struct {
	Key    string
	Value  string
	Values []string
}

// IsList reports whether the attribute holds a list of values.
func (a Attribute) IsList() bool { return a.Values != nil }

// String renders the attribute as "key: value" or "key: a, b, c".
func (a Attribute) String() string {
	if a.IsList() {
		return a.Key + ": " + strings.Join(a.Values, ", ")
	}
	return a.Key + ": " + a.Value
}

// Scalar builds a scalar attribute. Numbers are rendered without trailing zeros.
func Scalar(key string, value interface{}) Attribute {
	return Attribute{Key: key, Value: formatScalar(value)}
}

// List builds a list-valued attribute.
func List(key string, values ...string) Attribute {
	return Attribute{Key: key, Values: append([]string{}, values...)}
}

func formatScalar(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// DemographicProfile is an immutable, ordered set of attributes describing one synthetic consumer.
type DemographicProfile struct {
	id    string
	attrs []Attribute
}

// NewProfile validates and builds a profile. Attribute order is preserved.
func NewProfile(id string, attrs ...Attribute) (DemographicProfile, error) {
	if len(attrs) == 0 {
		return DemographicProfile{}, &ValidationError{Field: "demographic_profile", Value: id, Message: "at least one attribute is required"}
	}
	seen := make(map[string]struct{}, len(attrs))
	out := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		key := strings.TrimSpace(a.Key)
		if key == "" {
			return DemographicProfile{}, &ValidationError{Field: "demographic_profile", Value: id, Message: "attribute key is empty"}
		}
		if _, dup := seen[key]; dup {
			return DemographicProfile{}, &ValidationError{Field: key, Value: id, Message: "duplicate attribute"}
		}
		seen[key] = struct{}{}
		if a.IsList() && len(a.Values) == 0 {
			return DemographicProfile{}, &ValidationError{Field: key, Value: id, Message: "list attribute has no values"}
		}
		cp := Attribute{Key: key, Value: a.Value}
		if a.IsList() {
			cp.Values = append([]string{}, a.Values...)
		}
		out = append(out, cp)
	}
	return DemographicProfile{id: id, attrs: out}, nil
}

// MustProfile is like NewProfile but panics on invalid input. Intended for package-level defaults.
func MustProfile(id string, attrs ...Attribute) DemographicProfile {
	p, err := NewProfile(id, attrs...)
	if err != nil {
		panic(err)
	}
	return p
}

// wellKnownKeys fixes the rendering order of attributes decoded from unordered maps.
var wellKnownKeys = []string{"age", "gender", "income", "location", "occupation", "education", "interests"}

// ProfileFromMap builds a profile from a decoded JSON/YAML mapping. Scalars may be strings,
// numbers or booleans; lists must contain scalars. Well-known keys come first, the rest sorted.
func ProfileFromMap(id string, m map[string]interface{}) (DemographicProfile, error) {
	keys := make([]string, 0, len(m))
	rank := make(map[string]int, len(wellKnownKeys))
	for i, k := range wellKnownKeys {
		rank[k] = i
	}
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	attrs := make([]Attribute, 0, len(keys))
	for _, k := range keys {
		a, err := AttributeFromValue(k, m[k])
		if err != nil {
			return DemographicProfile{}, err
		}
		attrs = append(attrs, a)
	}
	return NewProfile(id, attrs...)
}

// AttributeFromValue converts a decoded value into an Attribute.
func AttributeFromValue(key string, v interface{}) (Attribute, error) {
	switch val := v.(type) {
	case []interface{}:
		values := make([]string, 0, len(val))
		for _, item := range val {
			switch item.(type) {
			case []interface{}, map[string]interface{}:
				return Attribute{}, &ValidationError{Field: key, Value: v, Message: "list items must be scalars"}
			}
			values = append(values, formatScalar(item))
		}
		return List(key, values...), nil
	case []string:
		return List(key, val...), nil
	case map[string]interface{}:
		return Attribute{}, &ValidationError{Field: key, Value: v, Message: "nested objects are not supported"}
	default:
		return Scalar(key, val), nil
	}
}

// ID returns the profile identifier.
func (p DemographicProfile) ID() string { return p.id }

// Attributes returns a copy of the attributes in order.
func (p DemographicProfile) Attributes() []Attribute {
	out := make([]Attribute, len(p.attrs))
	for i, a := range p.attrs {
		out[i] = a
		if a.IsList() {
			out[i].Values = append([]string{}, a.Values...)
		}
	}
	return out
}

// Get returns the attribute for key, if present.
func (p DemographicProfile) Get(key string) (Attribute, bool) {
	for _, a := range p.attrs {
		if a.Key == key {
			return a, true
		}
	}
	return Attribute{}, false
}

// Describe renders the profile as one sentence fragment, e.g. "age: 32; interests: hiking, yoga".
func (p DemographicProfile) Describe() string {
	parts := make([]string, len(p.attrs))
	for i, a := range p.attrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, "; ")
}

// Map returns the profile as a plain mapping (lists as []string), for JSON responses.
func (p DemographicProfile) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(p.attrs))
	for _, a := range p.attrs {
		if a.IsList() {
			m[a.Key] = append([]string{}, a.Values...)
		} else {
			m[a.Key] = a.Value
		}
	}
	return m
}

// IsZero reports whether the profile was never constructed.
func (p DemographicProfile) IsZero() bool { return len(p.attrs) == 0 }
