//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

// BeforeAgentCallback is called before the agent runs.
// Returns (customResponse, error).
// - customResponse: if not nil, this response will be returned to user and agent execution will be skipped.
// - error: if not nil, agent execution will be stopped with this error.
type BeforeAgentCallback func(ctx context.Context, invocation *Invocation) (*model.Response, error)

// AfterAgentCallback is called after the agent runs.
// Returns (customResponse, error).
// - customResponse: if not nil, this response will be used instead of the actual agent response.
// - error: if not nil, this error will be returned.
type AfterAgentCallback func(ctx context.Context, invocation *Invocation, runErr error) (*model.Response, error)

// Callbacks holds callbacks for agent operations.
type Callbacks struct {
	BeforeAgent []BeforeAgentCallback
	AfterAgent  []AfterAgentCallback
}

// NewCallbacks creates a new Callbacks instance.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeAgent registers a before agent callback.
func (c *Callbacks) RegisterBeforeAgent(cb BeforeAgentCallback) *Callbacks {
	c.BeforeAgent = append(c.BeforeAgent, cb)
	return c
}

// RegisterAfterAgent registers an after agent callback.
func (c *Callbacks) RegisterAfterAgent(cb AfterAgentCallback) *Callbacks {
	c.AfterAgent = append(c.AfterAgent, cb)
	return c
}

// RunBeforeAgent runs all before agent callbacks in order.
// If any callback returns a custom response, stop and return.
func (c *Callbacks) RunBeforeAgent(
	ctx context.Context,
	invocation *Invocation,
) (*model.Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeAgent {
		customResponse, err := cb(ctx, invocation)
		if err != nil {
			return nil, err
		}
		if customResponse != nil {
			return customResponse, nil
		}
	}
	return nil, nil
}

// RunAfterAgent runs all after agent callbacks in order.
// If any callback returns a custom response, stop and return.
func (c *Callbacks) RunAfterAgent(
	ctx context.Context,
	invocation *Invocation,
	runErr error,
) (*model.Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.AfterAgent {
		customResponse, err := cb(ctx, invocation, runErr)
		if err != nil {
			return nil, err
		}
		if customResponse != nil {
			return customResponse, nil
		}
	}
	return nil, nil
}

// Hooks are hook sets installed on an invocation by the runner's plugins.
type Hooks struct {
	Agent *Callbacks
	Model *model.Callbacks
	Tool  *tool.Callbacks
}

// ChainAgentCallbacks returns callbacks that run first, then second. Either
// may be nil.
func ChainAgentCallbacks(first, second *Callbacks) *Callbacks {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	out := &Callbacks{}
	out.BeforeAgent = append(append(out.BeforeAgent, first.BeforeAgent...), second.BeforeAgent...)
	out.AfterAgent = append(append(out.AfterAgent, first.AfterAgent...), second.AfterAgent...)
	return out
}

// ChainModelCallbacks returns model callbacks that run first, then second.
func ChainModelCallbacks(first, second *model.Callbacks) *model.Callbacks {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	out := model.NewCallbacks()
	out.BeforeModel = append(append(out.BeforeModel, first.BeforeModel...), second.BeforeModel...)
	out.AfterModel = append(append(out.AfterModel, first.AfterModel...), second.AfterModel...)
	out.OnModelError = append(append(out.OnModelError, first.OnModelError...), second.OnModelError...)
	return out
}

// ChainToolCallbacks returns tool callbacks that run first, then second.
func ChainToolCallbacks(first, second *tool.Callbacks) *tool.Callbacks {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	out := tool.NewCallbacks()
	out.BeforeTool = append(append(out.BeforeTool, first.BeforeTool...), second.BeforeTool...)
	out.AfterTool = append(append(out.AfterTool, first.AfterTool...), second.AfterTool...)
	out.OnToolError = append(append(out.OnToolError, first.OnToolError...), second.OnToolError...)
	return out
}
