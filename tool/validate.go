//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidArguments is returned when tool arguments do not match the
// declared input schema.
var ErrInvalidArguments = errors.New("invalid tool arguments")

var schemaCache sync.Map

// ValidateArguments checks jsonArgs against decl.InputSchema.
// Empty arguments are treated as an empty object. A declaration without an
// input schema accepts anything that is valid JSON.
func ValidateArguments(decl *Declaration, jsonArgs []byte) error {
	if decl == nil {
		return nil
	}
	payload := bytes.TrimSpace(jsonArgs)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%w: tool %s: malformed json: %v", ErrInvalidArguments, decl.Name, err)
	}
	if decl.InputSchema == nil {
		return nil
	}
	compiled, err := compileSchema(decl.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: compile input schema: %w", decl.Name, err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%w: tool %s: %v", ErrInvalidArguments, decl.Name, err)
	}
	return nil
}

func compileSchema(schema *Schema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
