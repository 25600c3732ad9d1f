//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tool derives tool argument schemas from Go types.
package tool

import (
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

// GenerateJSONSchema derives a JSON schema from a Go type.
// Struct fields follow their json tags; fields that are neither pointers nor
// omitempty are required. A nil type yields an open object schema.
func GenerateJSONSchema(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fieldSchema(t, 0)
	}
	return structSchema(t, 0)
}

// maxDepth bounds recursive types such as linked structs.
const maxDepth = 8

func structSchema(t reflect.Type, depth int) *tool.Schema {
	schema := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
	if depth > maxDepth {
		return schema
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fs := fieldSchema(field.Type, depth+1)
		if desc := field.Tag.Get("description"); desc != "" {
			fs.Description = desc
		}
		schema.Properties[name] = fs
		if field.Type.Kind() != reflect.Ptr && !omitEmpty {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func jsonFieldName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func fieldSchema(t reflect.Type, depth int) *tool.Schema {
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: fieldSchema(t.Elem(), depth+1)}
	case reflect.Map:
		return &tool.Schema{Type: "object", AdditionalProperties: fieldSchema(t.Elem(), depth+1)}
	case reflect.Ptr:
		return fieldSchema(t.Elem(), depth)
	case reflect.Struct:
		return structSchema(t, depth)
	default:
		// interfaces and anything else accept any value.
		return &tool.Schema{}
	}
}
