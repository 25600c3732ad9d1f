//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package llmagent provides an LLM agent implementation.
package llmagent

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/internal/flow"
	"trpc.group/trpc-go/trpc-agent-flow/internal/flow/llmflow"
	"trpc.group/trpc-go/trpc-agent-flow/internal/flow/processor"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
	"trpc.group/trpc-go/trpc-agent-flow/tool/transfer"
)

var defaultChannelBufferSize = 256

// Option is a function that configures an LLMAgent.
type Option func(*Options)

// WithModel sets the model to use.
func WithModel(model model.Model) Option {
	return func(opts *Options) {
		opts.Model = model
	}
}

// WithDescription sets the description of the agent.
func WithDescription(description string) Option {
	return func(opts *Options) {
		opts.Description = description
	}
}

// WithInstruction sets the instruction of the agent. {key} and {key?}
// placeholders are replaced with session state on every model call.
func WithInstruction(instruction string) Option {
	return func(opts *Options) {
		opts.Instruction = instruction
	}
}

// WithGenerationConfig sets the generation configuration.
func WithGenerationConfig(config model.GenerationConfig) Option {
	return func(opts *Options) {
		opts.GenerationConfig = config
	}
}

// WithChannelBufferSize sets the buffer size for event channels.
func WithChannelBufferSize(size int) Option {
	return func(opts *Options) {
		opts.ChannelBufferSize = size
	}
}

// WithTools sets the list of tools available to the agent.
func WithTools(tools []tool.Tool) Option {
	return func(opts *Options) {
		opts.Tools = tools
	}
}

// WithSubAgents sets the list of sub-agents available to the agent. The
// transfer_to_agent tool is added when there is at least one.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(opts *Options) {
		opts.SubAgents = subAgents
	}
}

// WithAgentCallbacks sets the agent callbacks.
func WithAgentCallbacks(callbacks *agent.Callbacks) Option {
	return func(opts *Options) {
		opts.AgentCallbacks = callbacks
	}
}

// WithModelCallbacks sets the model callbacks.
func WithModelCallbacks(callbacks *model.Callbacks) Option {
	return func(opts *Options) {
		opts.ModelCallbacks = callbacks
	}
}

// WithToolCallbacks sets the tool callbacks.
func WithToolCallbacks(callbacks *tool.Callbacks) Option {
	return func(opts *Options) {
		opts.ToolCallbacks = callbacks
	}
}

// WithMaxToolRounds bounds the tool rounds of one run (default 100).
func WithMaxToolRounds(n int) Option {
	return func(opts *Options) {
		opts.MaxToolRounds = n
	}
}

// WithParallelTools runs the tool calls of one model response concurrently.
func WithParallelTools(enable bool) Option {
	return func(opts *Options) {
		opts.ParallelTools = enable
	}
}

// WithToolConfirmation names tools that only run after a human approved
// the call through agent.WithToolConfirmation.
func WithToolConfirmation(toolNames ...string) Option {
	return func(opts *Options) {
		opts.ConfirmTools = append(opts.ConfirmTools, toolNames...)
	}
}

// WithOutputKey also writes the final text of the agent to this state key.
func WithOutputKey(outputKey string) Option {
	return func(opts *Options) {
		opts.OutputKey = outputKey
	}
}

// Options contains configuration options for creating an LLMAgent.
type Options struct {
	Model             model.Model
	Description       string
	Instruction       string
	GenerationConfig  model.GenerationConfig
	ChannelBufferSize int
	Tools             []tool.Tool
	SubAgents         []agent.Agent
	AgentCallbacks    *agent.Callbacks
	ModelCallbacks    *model.Callbacks
	ToolCallbacks     *tool.Callbacks
	MaxToolRounds     int
	ParallelTools     bool
	ConfirmTools      []string
	OutputKey         string
}

// LLMAgent is an agent driven by a model: it calls the model, runs the
// tools it asks for and repeats until the model answers.
type LLMAgent struct {
	name              string
	model             model.Model
	description       string
	tools             []tool.Tool
	subAgents         []agent.Agent
	agentCallbacks    *agent.Callbacks
	flow              flow.Flow
	channelBufferSize int
}

// New creates a new LLMAgent with the given options.
func New(name string, opts ...Option) *LLMAgent {
	options := Options{ChannelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(&options)
	}

	requestProcessors := []flow.RequestProcessor{
		processor.NewBasicRequestProcessor(processor.WithGenerationConfig(options.GenerationConfig)),
	}
	if options.Instruction != "" {
		requestProcessors = append(requestProcessors, processor.NewInstructionRequestProcessor(options.Instruction))
	}
	if name != "" || options.Description != "" {
		requestProcessors = append(requestProcessors,
			processor.NewIdentityRequestProcessor(name, options.Description))
	}

	llmFlow := llmflow.New(requestProcessors, llmflow.Options{
		ChannelBufferSize: options.ChannelBufferSize,
		MaxToolRounds:     options.MaxToolRounds,
		ParallelTools:     options.ParallelTools,
		ModelCallbacks:    options.ModelCallbacks,
		ToolCallbacks:     options.ToolCallbacks,
		ConfirmTools:      options.ConfirmTools,
		OutputKey:         options.OutputKey,
	})

	tools := append([]tool.Tool(nil), options.Tools...)
	if len(options.SubAgents) > 0 {
		infos := make([]agent.Info, len(options.SubAgents))
		for i, sub := range options.SubAgents {
			infos[i] = sub.Info()
		}
		tools = append(tools, transfer.New(infos))
	}

	bufferSize := options.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultChannelBufferSize
	}
	return &LLMAgent{
		name:              name,
		model:             options.Model,
		description:       options.Description,
		tools:             tools,
		subAgents:         options.SubAgents,
		agentCallbacks:    options.AgentCallbacks,
		flow:              llmFlow,
		channelBufferSize: bufferSize,
	}
}

// Run implements the agent.Agent interface.
// It executes the LLM agent flow and returns a channel of events.
func (a *LLMAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	invocation.Agent = a
	invocation.AgentName = a.name
	if a.model != nil {
		invocation.Model = a.model
	}
	ctx = agent.NewInvocationContext(ctx, invocation)

	out := make(chan *event.Event, a.channelBufferSize)
	go func() {
		defer close(out)
		if evt := agent.RunBeforeAgent(ctx, invocation, a.agentCallbacks); evt != nil {
			evt.RequiresCompletion = !evt.IsError()
			_ = agent.EmitEvent(ctx, invocation, out, evt)
			return
		}

		flowCh, err := a.flow.Run(ctx, invocation)
		if err != nil {
			_ = agent.EmitEvent(ctx, invocation, out, agent.NewErrorEvent(invocation,
				agent.NewError(a.name, agent.ErrorTypeFlowError, err)))
			return
		}
		var runErr error
		for evt := range flowCh {
			if e := agent.EventError(evt); e != nil {
				runErr = e
			}
			if err := event.EmitEvent(ctx, out, evt); err != nil {
				for range flowCh {
				}
				return
			}
		}

		if evt := agent.RunAfterAgent(ctx, invocation, a.agentCallbacks, runErr); evt != nil {
			evt.RequiresCompletion = !evt.IsError()
			_ = agent.EmitEvent(ctx, invocation, out, evt)
		}
	}()
	return out, nil
}

// Info implements the agent.Agent interface.
func (a *LLMAgent) Info() agent.Info {
	return agent.Info{Name: a.name, Description: a.description}
}

// Tools implements the agent.Agent interface. It includes the transfer
// tool when the agent has sub-agents.
func (a *LLMAgent) Tools() []tool.Tool {
	return a.tools
}

// SubAgents returns the list of sub-agents for this agent.
func (a *LLMAgent) SubAgents() []agent.Agent {
	return a.subAgents
}

// FindSubAgent finds a sub-agent by name.
// Returns nil if no sub-agent with the given name is found.
func (a *LLMAgent) FindSubAgent(name string) agent.Agent {
	for _, subAgent := range a.subAgents {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}
