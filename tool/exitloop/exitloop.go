//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package exitloop provides the exit_loop tool. Calling it escalates, which
// makes an enclosing loop agent stop after the current iteration.
package exitloop

import (
	"context"
	"errors"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

// ToolName is the name of the exit_loop tool.
const ToolName = "exit_loop"

// Tool implements exit_loop.
type Tool struct{}

// New creates the exit_loop tool.
func New() *Tool { return &Tool{} }

// Declaration implements tool.Tool.
func (t *Tool) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name: ToolName,
		Description: "Exits the loop. Call this function only when you are instructed to do so " +
			"or when the task of the loop is complete.",
		InputSchema: &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}},
	}
}

// Call escalates and skips summarization of the tool result.
func (t *Tool) Call(ctx context.Context, _ []byte) (any, error) {
	tc, ok := agent.ToolContextFromContext(ctx)
	if !ok {
		return nil, errors.New("exit_loop: no tool context available")
	}
	tc.Escalate()
	tc.SkipSummarization()
	return map[string]any{"exited": true}, nil
}
