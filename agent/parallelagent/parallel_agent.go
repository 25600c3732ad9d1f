//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package parallelagent provides a parallel agent implementation.
package parallelagent

import (
	"context"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

const defaultChannelBufferSize = 256

// ParallelAgent is an agent that runs its sub-agents concurrently, each on
// its own branch. This suits tasks that want several independent attempts
// or perspectives, for example drafts reviewed by a later agent.
type ParallelAgent struct {
	name              string
	subAgents         []agent.Agent
	tools             []tool.Tool
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// Option configures ParallelAgent settings.
type Option func(*Options)

// Options contains configuration options for creating a ParallelAgent.
type Options struct {
	subAgents         []agent.Agent
	tools             []tool.Tool
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// WithSubAgents sets the sub-agents to run in parallel.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(o *Options) { o.subAgents = subAgents }
}

// WithTools sets the tools reported by the agent.
func WithTools(tools []tool.Tool) Option {
	return func(o *Options) { o.tools = tools }
}

// WithChannelBufferSize sets the buffer size of the merged event channel
// (default 256).
func WithChannelBufferSize(size int) Option {
	return func(o *Options) { o.channelBufferSize = size }
}

// WithAgentCallbacks attaches lifecycle callbacks to the parallel agent.
func WithAgentCallbacks(cb *agent.Callbacks) Option {
	return func(o *Options) { o.agentCallbacks = cb }
}

// New creates a new ParallelAgent with the given name and options.
func New(name string, opts ...Option) *ParallelAgent {
	cfg := Options{channelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.channelBufferSize <= 0 {
		cfg.channelBufferSize = defaultChannelBufferSize
	}
	return &ParallelAgent{
		name:              name,
		subAgents:         cfg.subAgents,
		tools:             cfg.tools,
		channelBufferSize: cfg.channelBufferSize,
		agentCallbacks:    cfg.agentCallbacks,
	}
}

// Run implements the agent.Agent interface.
// It executes sub-agents in parallel and merges their event streams.
func (a *ParallelAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	invocation.Agent = a
	invocation.AgentName = a.name
	eventChan := make(chan *event.Event, a.channelBufferSize)

	go func() {
		defer close(eventChan)

		if evt := agent.RunBeforeAgent(ctx, invocation, a.agentCallbacks); evt != nil {
			_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
			return
		}

		runErr := a.runBranches(ctx, invocation, eventChan)
		if ctx.Err() != nil {
			return
		}

		if evt := agent.RunAfterAgent(ctx, invocation, a.agentCallbacks, runErr); evt != nil {
			_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
		}
	}()

	return eventChan, nil
}

// runBranches starts every sub-agent on its own branch and forwards their
// events as they arrive. It returns once every branch has finished, with
// the first branch failure if any.
func (a *ParallelAgent) runBranches(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) error {
	if invocation.Ended() {
		return nil
	}
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	record := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}

	for _, subAgent := range a.subAgents {
		subEventChan, err := startBranch(ctx, invocation, subAgent)
		if err != nil {
			err = agent.NewError(subAgent.Info().Name, agent.ErrorTypeFlowError, err)
			record(err)
			_ = agent.EmitEvent(ctx, invocation, eventChan, agent.NewErrorEvent(invocation, err))
			continue
		}

		wg.Add(1)
		go func(name string, ch <-chan *event.Event) {
			defer wg.Done()
			for evt := range ch {
				if e := agent.EventError(evt); e != nil {
					record(e)
				}
				if evt.Actions.Escalate {
					log.Debugf("Parallel agent %s: branch %s escalated", a.name, name)
				}
				if err := event.EmitEvent(ctx, eventChan, evt); err != nil {
					for range ch {
					}
					return
				}
			}
		}(subAgent.Info().Name, subEventChan)
	}

	wg.Wait()
	return firstErr
}

// startBranch runs subAgent on a new branch of invocation. A panic while
// starting is turned into an error so that the other branches still run.
func startBranch(
	ctx context.Context,
	invocation *agent.Invocation,
	subAgent agent.Agent,
) (ch <-chan *event.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while starting branch %s: %v", subAgent.Info().Name, r)
			ch, err = nil, fmt.Errorf("panic while starting branch: %v", r)
		}
	}()
	branchInvocation := invocation.CreateBranchInvocation(subAgent)
	return subAgent.Run(agent.NewInvocationContext(ctx, branchInvocation), branchInvocation)
}

// Tools implements the agent.Agent interface.
func (a *ParallelAgent) Tools() []tool.Tool {
	return a.tools
}

// Info implements the agent.Agent interface.
func (a *ParallelAgent) Info() agent.Info {
	return agent.Info{
		Name:        a.name,
		Description: fmt.Sprintf("Parallel agent that runs %d sub-agents concurrently", len(a.subAgents)),
	}
}

// SubAgents implements the agent.Agent interface.
func (a *ParallelAgent) SubAgents() []agent.Agent {
	return a.subAgents
}

// FindSubAgent implements the agent.Agent interface.
// It finds a sub-agent by name and returns nil if not found.
func (a *ParallelAgent) FindSubAgent(name string) agent.Agent {
	for _, subAgent := range a.subAgents {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}
