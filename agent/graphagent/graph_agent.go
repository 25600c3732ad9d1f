//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graphagent exposes a compiled graph as an agent.
package graphagent

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/graph"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

const defaultChannelBufferSize = 256

// Option configures a GraphAgent.
type Option func(*Options)

// Options holds the GraphAgent configuration.
type Options struct {
	description       string
	tools             []tool.Tool
	subAgents         []agent.Agent
	agentCallbacks    *agent.Callbacks
	initialState      graph.State
	channelBufferSize int
	executorOptions   []graph.ExecutorOption
}

// WithDescription sets the description of the agent.
func WithDescription(description string) Option {
	return func(opts *Options) {
		opts.description = description
	}
}

// WithTools sets the tools reported by the agent.
func WithTools(tools []tool.Tool) Option {
	return func(opts *Options) {
		opts.tools = tools
	}
}

// WithSubAgents lists agents the graph runs as nodes, so that they can be
// found by name.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(opts *Options) {
		opts.subAgents = subAgents
	}
}

// WithAgentCallbacks sets the before and after agent callbacks.
func WithAgentCallbacks(callbacks *agent.Callbacks) Option {
	return func(opts *Options) {
		opts.agentCallbacks = callbacks
	}
}

// WithInitialState sets the state every run starts from. Runtime state and
// the user message are merged on top of it.
func WithInitialState(state graph.State) Option {
	return func(opts *Options) {
		opts.initialState = state
	}
}

// WithChannelBufferSize sets the buffer size of the event channel.
func WithChannelBufferSize(size int) Option {
	return func(opts *Options) {
		opts.channelBufferSize = size
	}
}

// WithCheckpointSaver persists the graph threads. The session ID is used as
// the graph ID, so a session resumes its own thread.
func WithCheckpointSaver(saver graph.CheckpointSaver) Option {
	return func(opts *Options) {
		opts.executorOptions = append(opts.executorOptions, graph.WithCheckpointSaver(saver))
	}
}

// WithExecutorOptions passes options to the underlying executor.
func WithExecutorOptions(executorOpts ...graph.ExecutorOption) Option {
	return func(opts *Options) {
		opts.executorOptions = append(opts.executorOptions, executorOpts...)
	}
}

// GraphAgent runs a compiled graph as an agent.
type GraphAgent struct {
	name              string
	description       string
	tools             []tool.Tool
	subAgents         []agent.Agent
	agentCallbacks    *agent.Callbacks
	initialState      graph.State
	channelBufferSize int
	executor          *graph.Executor
}

// New creates a graph agent for g.
func New(name string, g *graph.Graph, opts ...Option) (*GraphAgent, error) {
	cfg := Options{channelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	executorOpts := append([]graph.ExecutorOption{graph.WithChannelBufferSize(cfg.channelBufferSize)},
		cfg.executorOptions...)
	executor, err := graph.NewExecutor(g, executorOpts...)
	if err != nil {
		return nil, fmt.Errorf("graph agent %s: %w", name, err)
	}
	return &GraphAgent{
		name:              name,
		description:       cfg.description,
		tools:             cfg.tools,
		subAgents:         cfg.subAgents,
		agentCallbacks:    cfg.agentCallbacks,
		initialState:      cfg.initialState,
		channelBufferSize: cfg.channelBufferSize,
		executor:          executor,
	}, nil
}

// Executor returns the executor, e.g. to edit a paused thread with
// UpdateState.
func (ga *GraphAgent) Executor() *graph.Executor {
	return ga.executor
}

// Run implements the agent.Agent interface.
func (ga *GraphAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	invocation.Agent = ga
	invocation.AgentName = ga.name
	eventChan := make(chan *event.Event, ga.channelBufferSize)

	go func() {
		defer close(eventChan)
		ga.executeGraphRun(ctx, invocation, eventChan)
	}()
	return eventChan, nil
}

func (ga *GraphAgent) executeGraphRun(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) {
	if evt := agent.RunBeforeAgent(ctx, invocation, ga.agentCallbacks); evt != nil {
		_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
		return
	}

	runErr := ga.executeGraph(ctx, invocation, eventChan)
	if ctx.Err() != nil {
		return
	}
	if evt := agent.RunAfterAgent(ctx, invocation, ga.agentCallbacks, runErr); evt != nil {
		_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
	}
}

// executeGraph forwards the executor's events and returns the failure of
// the run, if any.
func (ga *GraphAgent) executeGraph(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) error {
	var opts []graph.ExecuteOption
	if invocation.Session != nil && ga.executor.CheckpointSaver() != nil {
		opts = append(opts, graph.WithGraphID(invocation.Session.ID))
	}
	if value, ok := invocation.RunOptions.RuntimeState[graph.ResumeChannel]; ok {
		opts = append(opts, graph.WithResume(value))
	}
	graphEvents, err := ga.executor.Execute(ctx, ga.createInitialState(invocation), invocation, opts...)
	if err != nil {
		err = agent.NewError(ga.name, agent.ErrorTypeFlowError, err)
		_ = agent.EmitEvent(ctx, invocation, eventChan, agent.NewErrorEvent(invocation, err))
		return err
	}

	var runErr error
	for evt := range graphEvents {
		if res, ok := graph.ResultOf(evt); ok && res.Status == graph.StatusFailed {
			runErr = res.Err
		}
		if err := event.EmitEvent(ctx, eventChan, evt); err != nil {
			for range graphEvents {
			}
			return nil
		}
	}
	if runErr != nil {
		log.Debugf("graph agent %s: run failed: %v", ga.name, runErr)
	}
	return runErr
}

// createInitialState layers the configured state, the runtime state and
// the user message. A runtime value under graph.ResumeChannel answers a
// pending interrupt instead.
func (ga *GraphAgent) createInitialState(invocation *agent.Invocation) graph.State {
	var state graph.State
	if ga.initialState != nil {
		state = ga.initialState.Clone()
	} else {
		state = make(graph.State)
	}
	for key, value := range invocation.RunOptions.RuntimeState {
		if key == graph.ResumeChannel {
			continue
		}
		state[key] = value
	}
	if invocation.Message.Content != "" {
		state[graph.StateKeyUserInput] = invocation.Message.Content
	}
	if invocation.Session != nil {
		state[graph.StateKeySession] = invocation.Session
	}
	return state
}

// Tools implements the agent.Agent interface.
func (ga *GraphAgent) Tools() []tool.Tool {
	return ga.tools
}

// Info implements the agent.Agent interface.
func (ga *GraphAgent) Info() agent.Info {
	return agent.Info{
		Name:        ga.name,
		Description: ga.description,
	}
}

// SubAgents implements the agent.Agent interface.
func (ga *GraphAgent) SubAgents() []agent.Agent {
	return ga.subAgents
}

// FindSubAgent implements the agent.Agent interface.
func (ga *GraphAgent) FindSubAgent(name string) agent.Agent {
	for _, subAgent := range ga.subAgents {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}
