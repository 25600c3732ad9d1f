//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package conditionalagent provides an agent that runs one of two agents
// depending on a rule evaluated at run time.
package conditionalagent

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

const defaultChannelBufferSize = 256

// Condition decides whether the if agent runs. It must not block.
type Condition func(ctx context.Context, inv *agent.Invocation) bool

// StateFlag returns a Condition that holds when the session value of key
// is the boolean true.
func StateFlag(key string) Condition {
	return func(_ context.Context, inv *agent.Invocation) bool {
		if inv.Session == nil {
			return false
		}
		v, _ := inv.Session.GetValue(key)
		b, _ := v.(bool)
		return b
	}
}

// ConditionalAgent runs ifAgent when its condition holds and the else
// agent, if any, otherwise.
type ConditionalAgent struct {
	name              string
	description       string
	condition         Condition
	ifAgent           agent.Agent
	elseAgent         agent.Agent
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// Option configures a ConditionalAgent.
type Option func(*Options)

// Options holds the ConditionalAgent configuration.
type Options struct {
	description       string
	elseAgent         agent.Agent
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// WithElse sets the agent that runs when the condition does not hold.
// Without it such a run produces no events of its own.
func WithElse(elseAgent agent.Agent) Option {
	return func(o *Options) { o.elseAgent = elseAgent }
}

// WithDescription sets the description of the agent.
func WithDescription(description string) Option {
	return func(o *Options) { o.description = description }
}

// WithChannelBufferSize sets the buffer size for the event channel.
func WithChannelBufferSize(size int) Option {
	return func(o *Options) { o.channelBufferSize = size }
}

// WithAgentCallbacks attaches lifecycle callbacks to the agent.
func WithAgentCallbacks(cb *agent.Callbacks) Option {
	return func(o *Options) { o.agentCallbacks = cb }
}

// New creates a ConditionalAgent. A nil cond never holds.
func New(name string, cond Condition, ifAgent agent.Agent, opts ...Option) *ConditionalAgent {
	cfg := Options{channelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.channelBufferSize <= 0 {
		cfg.channelBufferSize = defaultChannelBufferSize
	}
	return &ConditionalAgent{
		name:              name,
		description:       cfg.description,
		condition:         cond,
		ifAgent:           ifAgent,
		elseAgent:         cfg.elseAgent,
		channelBufferSize: cfg.channelBufferSize,
		agentCallbacks:    cfg.agentCallbacks,
	}
}

// Run implements the agent.Agent interface.
func (a *ConditionalAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	invocation.Agent = a
	invocation.AgentName = a.name
	eventChan := make(chan *event.Event, a.channelBufferSize)

	go func() {
		defer close(eventChan)
		if evt := agent.RunBeforeAgent(ctx, invocation, a.agentCallbacks); evt != nil {
			_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
			return
		}
		runErr := a.runSelected(ctx, invocation, eventChan)
		if ctx.Err() != nil {
			return
		}
		if evt := agent.RunAfterAgent(ctx, invocation, a.agentCallbacks, runErr); evt != nil {
			_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
		}
	}()
	return eventChan, nil
}

// Selected returns the agent a run with inv would delegate to, or nil.
func (a *ConditionalAgent) Selected(ctx context.Context, inv *agent.Invocation) agent.Agent {
	if a.condition != nil && a.condition(ctx, inv) {
		return a.ifAgent
	}
	return a.elseAgent
}

func (a *ConditionalAgent) runSelected(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) error {
	target := a.Selected(ctx, invocation)
	if target == nil {
		log.Debugf("Conditional agent %s: condition false and no else agent", a.name)
		return nil
	}
	return Delegate(ctx, invocation, target, eventChan)
}

// Delegate runs target on a clone of inv and forwards its events to
// eventChan. It returns the error of the first error event.
func Delegate(ctx context.Context, inv *agent.Invocation, target agent.Agent, eventChan chan<- *event.Event) error {
	if inv.Ended() || ctx.Err() != nil {
		return nil
	}
	subInvocation := inv.Clone(agent.WithInvocationAgent(target))
	subEventChan, err := target.Run(agent.NewInvocationContext(ctx, subInvocation), subInvocation)
	if err != nil {
		err = agent.NewError(target.Info().Name, agent.ErrorTypeFlowError, err)
		_ = agent.EmitEvent(ctx, inv, eventChan, agent.NewErrorEvent(inv, err))
		return err
	}
	var runErr error
	for evt := range subEventChan {
		if e := agent.EventError(evt); e != nil && runErr == nil {
			runErr = e
		}
		if err := event.EmitEvent(ctx, eventChan, evt); err != nil {
			for range subEventChan {
			}
			return nil
		}
	}
	return runErr
}

// Tools implements the agent.Agent interface.
func (a *ConditionalAgent) Tools() []tool.Tool {
	return nil
}

// Info implements the agent.Agent interface.
func (a *ConditionalAgent) Info() agent.Info {
	return agent.Info{Name: a.name, Description: a.description}
}

// SubAgents implements the agent.Agent interface.
func (a *ConditionalAgent) SubAgents() []agent.Agent {
	subs := []agent.Agent{a.ifAgent}
	if a.elseAgent != nil {
		subs = append(subs, a.elseAgent)
	}
	return subs
}

// FindSubAgent implements the agent.Agent interface.
func (a *ConditionalAgent) FindSubAgent(name string) agent.Agent {
	for _, subAgent := range a.SubAgents() {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}
