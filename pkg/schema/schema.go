// SPDX-License-Identifier: Apache-2.0
// Package schema turns the JSON-Schema subset used by tool servers into a
// typed description of tool parameters.
//
// Translation never fails: anything missing, malformed or outside the
// supported subset becomes KindAny. Translating an already translated
// *Schema returns it unchanged.
package schema

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/hive/pkg/errors"
)

// Kind is the typed shape of a parameter.
type Kind string

const (
	KindAny     Kind = "any"
	KindObject  Kind = "object"
	KindString  Kind = "string"
	KindEnum    Kind = "enum"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
)

// Field is a named property of an object schema.
type Field struct {
	Name     string
	Schema   *Schema
	Optional bool
}

// Schema is a translated parameter type.
type Schema struct {
	Kind        Kind
	Description string
	// Fields are sorted by name. Only set for KindObject.
	Fields []Field
	// Enum holds the allowed values of a KindEnum.
	Enum []string
	// Items is the element type of a KindArray.
	Items *Schema

	once       sync.Once
	compiled   *jsonschema.Schema
	compileErr error
}

// Any returns the permissive schema.
func Any() *Schema {
	return &Schema{Kind: KindAny}
}

// Translate converts v into a *Schema. Accepted inputs are *Schema,
// json.RawMessage, []byte, string, map[string]any, mcp.ToolInputSchema and
// nil. Other values are round-tripped through JSON.
func Translate(v any) *Schema {
	switch s := v.(type) {
	case nil:
		return Any()
	case *Schema:
		if s == nil {
			return Any()
		}
		return s
	case map[string]any:
		return fromMap(s)
	case json.RawMessage:
		return fromJSON(s)
	case []byte:
		return fromJSON(s)
	case string:
		return fromJSON([]byte(s))
	case mcp.ToolInputSchema:
		data, err := json.Marshal(s)
		if err != nil {
			return Any()
		}
		return fromJSON(data)
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return Any()
		}
		return fromJSON(data)
	}
}

func fromJSON(data []byte) *Schema {
	if len(data) == 0 {
		return Any()
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Any()
	}
	return fromValue(decoded)
}

func fromValue(v any) *Schema {
	m, ok := v.(map[string]any)
	if !ok {
		return Any()
	}
	return fromMap(m)
}

func fromMap(m map[string]any) *Schema {
	s := &Schema{Kind: KindAny}
	s.Description, _ = m["description"].(string)

	typ := typeName(m["type"])
	if typ == "" {
		if _, ok := m["properties"].(map[string]any); ok {
			typ = "object"
		}
	}

	switch typ {
	case "object":
		s.Kind = KindObject
		s.Fields = objectFields(m)
	case "string":
		s.Kind = KindString
		if values, ok := stringEnum(m["enum"]); ok {
			s.Kind = KindEnum
			s.Enum = values
		}
	case "number":
		s.Kind = KindNumber
	case "integer":
		s.Kind = KindInteger
	case "boolean":
		s.Kind = KindBoolean
	case "array":
		s.Kind = KindArray
		s.Items = fromValue(m["items"])
	}
	return s
}

// typeName accepts "string" or ["string", "null"] and returns the first
// non-null type.
func typeName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if name, ok := item.(string); ok && name != "null" {
				return name
			}
		}
	}
	return ""
}

func objectFields(m map[string]any) []Field {
	props, _ := m["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}

	required := make(map[string]bool)
	if list, ok := m["required"].([]any); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, Field{
			Name:     name,
			Schema:   fromValue(props[name]),
			Optional: !required[name],
		})
	}
	return fields
}

func stringEnum(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	values := make([]string, 0, len(list))
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, false
		}
		values = append(values, str)
	}
	return values, true
}

// Field returns the named property of an object schema.
func (s *Schema) Field(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// RequiredFields returns the names of mandatory properties in sorted order.
func (s *Schema) RequiredFields() []string {
	var names []string
	for _, f := range s.Fields {
		if !f.Optional {
			names = append(names, f.Name)
		}
	}
	return names
}

// JSON renders the schema back to JSON Schema for model tool definitions.
func (s *Schema) JSON() map[string]any {
	out := make(map[string]any)
	if s.Description != "" {
		out["description"] = s.Description
	}

	switch s.Kind {
	case KindObject:
		out["type"] = "object"
		props := make(map[string]any, len(s.Fields))
		for _, f := range s.Fields {
			props[f.Name] = f.Schema.JSON()
		}
		out["properties"] = props
		if required := s.RequiredFields(); len(required) > 0 {
			out["required"] = required
		}
	case KindEnum:
		out["type"] = "string"
		out["enum"] = append([]string(nil), s.Enum...)
	case KindArray:
		out["type"] = "array"
		items := s.Items
		if items == nil {
			items = Any()
		}
		out["items"] = items.JSON()
	case KindString, KindNumber, KindInteger, KindBoolean:
		out["type"] = string(s.Kind)
	}
	return out
}

// Validate checks value against the schema. KindAny accepts everything.
func (s *Schema) Validate(value any) error {
	if s == nil || s.Kind == KindAny {
		return nil
	}
	compiled, err := s.compile()
	if err != nil {
		return errors.New(errors.CodeInternal, "invalid tool schema", err)
	}

	if value == nil && s.Kind == KindObject {
		value = map[string]any{}
	}
	result := compiled.Validate(value)
	if !result.IsValid() {
		return errors.Errorf(errors.CodeInvalidInput, "arguments do not match schema: %s", result.Error())
	}
	return nil
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		data, err := json.Marshal(s.JSON())
		if err != nil {
			s.compileErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		s.compiled, s.compileErr = compiler.Compile(data)
	})
	return s.compiled, s.compileErr
}
