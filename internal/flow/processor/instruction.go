//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package processor

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/internal/state"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// InstructionRequestProcessor adds the agent instruction to the system
// message. {key} and {key?} placeholders are filled from session state on
// every round, so writes from earlier steps show up.
type InstructionRequestProcessor struct {
	Instruction string
	// InstructionGetter, if set, supplies the instruction on every round
	// and takes precedence over Instruction.
	InstructionGetter func() string
}

// InstructionOption configures the instruction request processor.
type InstructionOption func(*InstructionRequestProcessor)

// WithInstructionGetter configures a dynamic getter for instruction content.
func WithInstructionGetter(getter func() string) InstructionOption {
	return func(p *InstructionRequestProcessor) {
		p.InstructionGetter = getter
	}
}

// NewInstructionRequestProcessor creates a new instruction request processor.
func NewInstructionRequestProcessor(instruction string, opts ...InstructionOption) *InstructionRequestProcessor {
	p := &InstructionRequestProcessor{Instruction: instruction}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest implements flow.RequestProcessor.
func (p *InstructionRequestProcessor) ProcessRequest(_ context.Context, invocation *agent.Invocation, req *model.Request) {
	if req == nil {
		return
	}
	instruction := p.Instruction
	if p.InstructionGetter != nil {
		instruction = p.InstructionGetter()
	}
	if instruction == "" {
		return
	}
	rendered, err := state.InjectSessionState(instruction, invocation)
	if err != nil {
		log.Warnf("Instruction request processor: state injection failed: %v", err)
		rendered = instruction
	}
	appendSystem(req, rendered)
}
