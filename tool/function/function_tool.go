//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package function provides function-based tool implementations.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	itool "trpc.group/trpc-go/trpc-agent-flow/internal/tool"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

// FunctionTool wraps a typed Go function as a callable tool. Input is
// decoded from the json arguments; the input schema is derived from I.
type FunctionTool[I, O any] struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
	fn           func(context.Context, I) (O, error)
}

// Option configures a FunctionTool.
type Option func(*options)

type options struct {
	name        string
	description string
	inputSchema *tool.Schema
}

// WithName sets the tool name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDescription sets the tool description.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// WithInputSchema overrides the schema derived from the input type.
func WithInputSchema(schema *tool.Schema) Option {
	return func(o *options) { o.inputSchema = schema }
}

// NewFunctionTool creates a tool from fn.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	var (
		emptyI I
		emptyO O
	)
	in := o.inputSchema
	if in == nil {
		in = itool.GenerateJSONSchema(reflect.TypeOf(emptyI))
	}
	return &FunctionTool[I, O]{
		name:         o.name,
		description:  o.description,
		inputSchema:  in,
		outputSchema: itool.GenerateJSONSchema(reflect.TypeOf(emptyO)),
		fn:           fn,
	}
}

// Call decodes jsonArgs into I and runs the function.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, fmt.Errorf("function tool %s: decode arguments: %w", ft.name, err)
		}
	}
	return ft.fn(ctx, input)
}

// Declaration implements tool.Tool.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:         ft.name,
		Description:  ft.description,
		InputSchema:  ft.inputSchema,
		OutputSchema: ft.outputSchema,
	}
}
