//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package cycleagent provides a looping agent implementation.
package cycleagent

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

const (
	defaultChannelBufferSize = 256
	// DefaultMaxIterations bounds a loop that never escalates.
	DefaultMaxIterations = 1000
)

// EscalationFunc decides whether an event stops the cycle.
type EscalationFunc func(*event.Event) bool

// CycleAgent is an agent that runs its sub-agents in a loop.
// The loop stops after the sub-agent that escalated, on an error, or after
// the maximum number of iterations.
type CycleAgent struct {
	name              string
	subAgents         []agent.Agent
	maxIterations     int
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
	escalationFunc    EscalationFunc
}

// Option configures CycleAgent settings using the functional options pattern.
type Option func(*Options)

// Options contains all configuration options for CycleAgent.
type Options struct {
	subAgents         []agent.Agent
	maxIterations     int
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
	escalationFunc    EscalationFunc
}

// WithSubAgents sets the sub-agents that will be executed in a loop.
func WithSubAgents(sub []agent.Agent) Option {
	return func(o *Options) { o.subAgents = sub }
}

// WithMaxIterations sets the maximum number of loop iterations
// (default 1000). Values below 1 keep the default.
func WithMaxIterations(max int) Option {
	return func(o *Options) { o.maxIterations = max }
}

// WithChannelBufferSize sets the buffer size for the event channel.
// Default is 256 if not specified.
func WithChannelBufferSize(size int) Option {
	return func(o *Options) { o.channelBufferSize = size }
}

// WithAgentCallbacks attaches lifecycle callbacks to the cycle agent.
func WithAgentCallbacks(cb *agent.Callbacks) Option {
	return func(o *Options) { o.agentCallbacks = cb }
}

// WithEscalationFunc replaces the default exit predicate, which looks at
// Actions.Escalate.
func WithEscalationFunc(f EscalationFunc) Option {
	return func(o *Options) { o.escalationFunc = f }
}

// New creates a new CycleAgent with the given name and options.
func New(name string, opts ...Option) *CycleAgent {
	cfg := Options{
		channelBufferSize: defaultChannelBufferSize,
		maxIterations:     DefaultMaxIterations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.channelBufferSize <= 0 {
		cfg.channelBufferSize = defaultChannelBufferSize
	}
	if cfg.maxIterations <= 0 {
		cfg.maxIterations = DefaultMaxIterations
	}
	return &CycleAgent{
		name:              name,
		subAgents:         cfg.subAgents,
		maxIterations:     cfg.maxIterations,
		channelBufferSize: cfg.channelBufferSize,
		agentCallbacks:    cfg.agentCallbacks,
		escalationFunc:    cfg.escalationFunc,
	}
}

// shouldEscalate checks completed events only, never streaming chunks.
func (a *CycleAgent) shouldEscalate(evt *event.Event) bool {
	if evt == nil || (evt.Response != nil && evt.IsPartial) {
		return false
	}
	if a.escalationFunc != nil {
		return a.escalationFunc(evt)
	}
	return evt.Actions.Escalate
}

// stopReason says why an iteration ended early.
type stopReason int

const (
	keepGoing stopReason = iota
	escalated
	failed
	cancelled
)

// runSubAgent executes a single sub-agent and forwards its events. The
// sub-agent runs to completion even when it escalates.
func (a *CycleAgent) runSubAgent(
	ctx context.Context,
	subAgent agent.Agent,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) (stopReason, error) {
	subInvocation := invocation.Clone(agent.WithInvocationAgent(subAgent))
	subEventChan, err := subAgent.Run(agent.NewInvocationContext(ctx, subInvocation), subInvocation)
	if err != nil {
		err = agent.NewError(subAgent.Info().Name, agent.ErrorTypeFlowError, err)
		_ = agent.EmitEvent(ctx, invocation, eventChan, agent.NewErrorEvent(invocation, err))
		return failed, err
	}

	reason := keepGoing
	var runErr error
	for subEvent := range subEventChan {
		if e := agent.EventError(subEvent); e != nil {
			reason, runErr = failed, e
		} else if reason == keepGoing && a.shouldEscalate(subEvent) {
			reason = escalated
		}
		if err := event.EmitEvent(ctx, eventChan, subEvent); err != nil {
			for range subEventChan {
			}
			return cancelled, nil
		}
	}
	return reason, runErr
}

// runIteration executes all sub-agents once, in order.
func (a *CycleAgent) runIteration(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) (stopReason, error) {
	for _, subAgent := range a.subAgents {
		if invocation.Ended() || ctx.Err() != nil {
			return cancelled, nil
		}
		if reason, err := a.runSubAgent(ctx, subAgent, invocation, eventChan); reason != keepGoing {
			return reason, err
		}
	}
	return keepGoing, nil
}

// Run implements the agent.Agent interface.
// It executes sub-agents in a loop until escalation or max iterations.
func (a *CycleAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	invocation.Agent = a
	invocation.AgentName = a.name
	eventChan := make(chan *event.Event, a.channelBufferSize)

	go func() {
		defer close(eventChan)

		if evt := agent.RunBeforeAgent(ctx, invocation, a.agentCallbacks); evt != nil {
			_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
			return
		}

		runErr := a.loop(ctx, invocation, eventChan)
		if ctx.Err() != nil {
			return
		}

		if evt := agent.RunAfterAgent(ctx, invocation, a.agentCallbacks, runErr); evt != nil {
			_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
		}
	}()

	return eventChan, nil
}

func (a *CycleAgent) loop(ctx context.Context, invocation *agent.Invocation, eventChan chan<- *event.Event) error {
	for i := 0; i < a.maxIterations; i++ {
		reason, err := a.runIteration(ctx, invocation, eventChan)
		switch reason {
		case escalated:
			log.Debugf("Cycle agent %s exits after iteration %d", a.name, i+1)
			return nil
		case failed:
			return err
		case cancelled:
			return nil
		}
	}
	if invocation.Ended() || ctx.Err() != nil {
		return nil
	}
	log.Warnf("Cycle agent %s reached the iteration limit (%d)", a.name, a.maxIterations)
	metric.RecordLimitReached(ctx, event.LimitKindLoopIterations)
	limit := event.NewLimitEvent(invocation.InvocationID, a.name, event.LimitKindLoopIterations,
		a.maxIterations, event.WithBranch(invocation.Branch))
	_ = agent.EmitEvent(ctx, invocation, eventChan, limit)
	return nil
}

// Tools implements the agent.Agent interface.
func (a *CycleAgent) Tools() []tool.Tool {
	return []tool.Tool{}
}

// Info implements the agent.Agent interface.
func (a *CycleAgent) Info() agent.Info {
	return agent.Info{
		Name: a.name,
		Description: fmt.Sprintf(
			"Cycle agent that runs %d sub-agents in a loop (max iterations: %d)",
			len(a.subAgents), a.maxIterations,
		),
	}
}

// SubAgents implements the agent.Agent interface.
func (a *CycleAgent) SubAgents() []agent.Agent {
	return a.subAgents
}

// FindSubAgent implements the agent.Agent interface.
// It finds a sub-agent by name and returns nil if not found.
func (a *CycleAgent) FindSubAgent(name string) agent.Agent {
	for _, subAgent := range a.subAgents {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}
