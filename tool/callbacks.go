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
	"context"
)

// BeforeToolCallback is called before a tool is executed.
// Rewriting *jsonArgs continues with modified arguments.
// Returning a non-nil result skips the tool and every later before-tool
// callback; the result is used as the tool's output.
type BeforeToolCallback func(
	ctx context.Context,
	toolName string,
	toolDeclaration *Declaration,
	jsonArgs *[]byte,
) (any, error)

// AfterToolCallback is called after a tool is executed.
// Returning a non-nil result replaces the tool's output.
type AfterToolCallback func(
	ctx context.Context,
	toolName string,
	toolDeclaration *Declaration,
	jsonArgs []byte,
	result any,
	runErr error,
) (any, error)

// OnToolErrorCallback is called when a tool fails.
// Returning a non-nil result recovers with that result as a fallback.
type OnToolErrorCallback func(
	ctx context.Context,
	toolName string,
	toolDeclaration *Declaration,
	jsonArgs []byte,
	runErr error,
) (any, error)

// Callbacks holds the ordered tool hooks.
type Callbacks struct {
	// BeforeTool is a list of callbacks called before the tool is executed.
	BeforeTool []BeforeToolCallback
	// AfterTool is a list of callbacks called after the tool is executed.
	AfterTool []AfterToolCallback
	// OnToolError is a list of callbacks called when the tool fails.
	OnToolError []OnToolErrorCallback
}

// NewCallbacks creates a new Callbacks instance.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeTool registers a callback to be called before the tool is executed.
func (c *Callbacks) RegisterBeforeTool(cb BeforeToolCallback) *Callbacks {
	c.BeforeTool = append(c.BeforeTool, cb)
	return c
}

// RegisterAfterTool registers a callback to be called after the tool is executed.
func (c *Callbacks) RegisterAfterTool(cb AfterToolCallback) *Callbacks {
	c.AfterTool = append(c.AfterTool, cb)
	return c
}

// RegisterOnToolError registers a callback to be called when the tool fails.
func (c *Callbacks) RegisterOnToolError(cb OnToolErrorCallback) *Callbacks {
	c.OnToolError = append(c.OnToolError, cb)
	return c
}

// RunBeforeTool runs all before tool callbacks in order.
// It stops at the first callback that returns a result or an error.
func (c *Callbacks) RunBeforeTool(
	ctx context.Context,
	toolName string,
	toolDeclaration *Declaration,
	jsonArgs *[]byte,
) (any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeTool {
		customResult, err := cb(ctx, toolName, toolDeclaration, jsonArgs)
		if err != nil {
			return nil, err
		}
		if customResult != nil {
			return customResult, nil
		}
	}
	return nil, nil
}

// RunAfterTool runs all after tool callbacks in order.
// It stops at the first callback that returns a result or an error.
func (c *Callbacks) RunAfterTool(
	ctx context.Context,
	toolName string,
	toolDeclaration *Declaration,
	jsonArgs []byte,
	result any,
	runErr error,
) (any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.AfterTool {
		customResult, err := cb(ctx, toolName, toolDeclaration, jsonArgs, result, runErr)
		if err != nil {
			return nil, err
		}
		if customResult != nil {
			return customResult, nil
		}
	}
	return nil, nil
}

// RunOnToolError runs the tool error callbacks until one supplies a fallback.
func (c *Callbacks) RunOnToolError(
	ctx context.Context,
	toolName string,
	toolDeclaration *Declaration,
	jsonArgs []byte,
	runErr error,
) (any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.OnToolError {
		fallback, err := cb(ctx, toolName, toolDeclaration, jsonArgs, runErr)
		if err != nil {
			return nil, err
		}
		if fallback != nil {
			return fallback, nil
		}
	}
	return nil, nil
}
