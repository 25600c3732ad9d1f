//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package flow provides the core flow functionality interfaces and types.
package flow

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// Flow is the interface that all flows must implement.
type Flow interface {
	// Run executes the flow and yields events as they occur.
	// Returns the event channel and any setup error.
	Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error)
}

// RequestProcessor prepares a model request before it is sent. Processors
// run in order on every round.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, invocation *agent.Invocation, req *model.Request)
}

// RequestProcessorFunc adapts a function to RequestProcessor.
type RequestProcessorFunc func(ctx context.Context, invocation *agent.Invocation, req *model.Request)

// ProcessRequest implements RequestProcessor.
func (f RequestProcessorFunc) ProcessRequest(ctx context.Context, invocation *agent.Invocation, req *model.Request) {
	f(ctx, invocation, req)
}
