//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package processor provides the request processors of the LLM flow.
package processor

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// BasicRequestProcessor sets the generation parameters of the request.
type BasicRequestProcessor struct {
	// GenerationConfig contains the default generation configuration.
	GenerationConfig model.GenerationConfig
}

// BasicOption is a functional option for configuring the BasicRequestProcessor.
type BasicOption func(*BasicRequestProcessor)

// WithGenerationConfig sets the default generation configuration.
func WithGenerationConfig(config model.GenerationConfig) BasicOption {
	return func(p *BasicRequestProcessor) {
		p.GenerationConfig = config
	}
}

// NewBasicRequestProcessor creates a basic request processor. Streaming is
// off unless the generation config turns it on.
func NewBasicRequestProcessor(opts ...BasicOption) *BasicRequestProcessor {
	p := &BasicRequestProcessor{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest implements flow.RequestProcessor.
func (p *BasicRequestProcessor) ProcessRequest(_ context.Context, invocation *agent.Invocation, req *model.Request) {
	if req == nil {
		log.Errorf("Basic request processor: request is nil")
		return
	}
	req.GenerationConfig = p.GenerationConfig
	if invocation != nil {
		log.Debugf("Basic request processor: set generation config for agent %s", invocation.AgentName)
	}
}
