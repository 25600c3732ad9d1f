//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package chainagent provides a sequential agent implementation.
package chainagent

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

const defaultChannelBufferSize = 256

// ChainAgent is an agent that runs its sub-agents in sequence.
type ChainAgent struct {
	name              string
	subAgents         []agent.Agent
	tools             []tool.Tool
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// Option configures ChainAgent settings using the functional options pattern.
type Option func(*Options)

// Options contains all configuration options for ChainAgent.
type Options struct {
	subAgents         []agent.Agent
	tools             []tool.Tool
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// WithSubAgents sets the sub-agents that will be executed in sequence.
// Each one sees the events and state written by the ones before it.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(o *Options) { o.subAgents = subAgents }
}

// WithTools sets the tools reported by the chain agent.
func WithTools(tools []tool.Tool) Option {
	return func(o *Options) { o.tools = tools }
}

// WithChannelBufferSize sets the buffer size for the event channel.
// Default is 256 if not specified.
func WithChannelBufferSize(size int) Option {
	return func(o *Options) { o.channelBufferSize = size }
}

// WithAgentCallbacks attaches lifecycle callbacks to the chain agent.
func WithAgentCallbacks(cb *agent.Callbacks) Option {
	return func(o *Options) { o.agentCallbacks = cb }
}

// New creates a new ChainAgent with the given name and options.
func New(name string, opts ...Option) *ChainAgent {
	cfg := Options{
		channelBufferSize: defaultChannelBufferSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.channelBufferSize <= 0 {
		cfg.channelBufferSize = defaultChannelBufferSize
	}
	return &ChainAgent{
		name:              name,
		subAgents:         cfg.subAgents,
		tools:             cfg.tools,
		channelBufferSize: cfg.channelBufferSize,
		agentCallbacks:    cfg.agentCallbacks,
	}
}

// createSubAgentInvocation keeps the chain's branch so that the steps
// observe each other's events.
func (a *ChainAgent) createSubAgentInvocation(
	subAgent agent.Agent,
	baseInvocation *agent.Invocation,
) *agent.Invocation {
	return baseInvocation.Clone(agent.WithInvocationAgent(subAgent))
}

// Run implements the agent.Agent interface.
// It executes sub-agents in sequence, passing events through as they are generated.
func (a *ChainAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	invocation.Agent = a
	invocation.AgentName = a.name
	eventChan := make(chan *event.Event, a.channelBufferSize)

	go func() {
		defer close(eventChan)
		a.executeChainRun(ctx, invocation, eventChan)
	}()

	return eventChan, nil
}

// executeChainRun handles the main execution logic for chain agent.
func (a *ChainAgent) executeChainRun(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) {
	if evt := agent.RunBeforeAgent(ctx, invocation, a.agentCallbacks); evt != nil {
		_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
		return
	}

	runErr := a.executeSubAgents(ctx, invocation, eventChan)
	if ctx.Err() != nil {
		return
	}

	if evt := agent.RunAfterAgent(ctx, invocation, a.agentCallbacks, runErr); evt != nil {
		_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
	}
}

// executeSubAgents runs all sub-agents in sequence. It stops after a step
// that escalated or failed, and returns the failure if there was one.
func (a *ChainAgent) executeSubAgents(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) error {
	for _, subAgent := range a.subAgents {
		if invocation.Ended() || ctx.Err() != nil {
			return nil
		}
		subInvocation := a.createSubAgentInvocation(subAgent, invocation)
		subEventChan, err := subAgent.Run(agent.NewInvocationContext(ctx, subInvocation), subInvocation)
		if err != nil {
			err = agent.NewError(subAgent.Info().Name, agent.ErrorTypeFlowError, err)
			_ = agent.EmitEvent(ctx, invocation, eventChan, agent.NewErrorEvent(invocation, err))
			return err
		}

		var (
			escalated bool
			stepErr   error
		)
		for subEvent := range subEventChan {
			if subEvent.Actions.Escalate {
				escalated = true
			}
			if e := agent.EventError(subEvent); e != nil {
				stepErr = e
			}
			if err := event.EmitEvent(ctx, eventChan, subEvent); err != nil {
				for range subEventChan {
				}
				return nil
			}
		}
		if stepErr != nil {
			return stepErr
		}
		if escalated {
			log.Debugf("Chain agent %s stops after %s escalated", a.name, subAgent.Info().Name)
			return nil
		}
	}
	return nil
}

// Tools implements the agent.Agent interface.
func (a *ChainAgent) Tools() []tool.Tool {
	return a.tools
}

// Info implements the agent.Agent interface.
func (a *ChainAgent) Info() agent.Info {
	return agent.Info{
		Name:        a.name,
		Description: fmt.Sprintf("Chain agent that runs %d sub-agents in sequence", len(a.subAgents)),
	}
}

// SubAgents implements the agent.Agent interface.
func (a *ChainAgent) SubAgents() []agent.Agent {
	return a.subAgents
}

// FindSubAgent implements the agent.Agent interface.
// It finds a sub-agent by name and returns nil if not found.
func (a *ChainAgent) FindSubAgent(name string) agent.Agent {
	for _, subAgent := range a.subAgents {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}
