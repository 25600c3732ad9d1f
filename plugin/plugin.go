//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package plugin bundles hooks into named plugins and runs them in order.
//
// A plugin may set any subset of hooks. Runner-level hooks (OnUserMessage,
// BeforeRun, OnEvent, AfterRun) are run by the runner through a Manager;
// agent, model and tool hooks are projected into agent.Hooks and run before
// the agent's own callbacks of the same kind.
package plugin

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

// OnUserMessageCallback may rewrite the user message before it is stored.
// A nil message keeps the current one.
type OnUserMessageCallback func(ctx context.Context, inv *agent.Invocation, msg model.Message) (*model.Message, error)

// BeforeRunCallback runs before the agent. A non-nil response skips the
// agent and is returned to the caller instead.
type BeforeRunCallback func(ctx context.Context, inv *agent.Invocation) (*model.Response, error)

// OnEventCallback may replace an event after it was persisted and before it
// is forwarded to the caller. A nil event keeps the current one.
type OnEventCallback func(ctx context.Context, inv *agent.Invocation, evt *event.Event) (*event.Event, error)

// AfterRunCallback runs once the invocation is over. It is for cleanup and
// metrics; it cannot emit events.
type AfterRunCallback func(ctx context.Context, inv *agent.Invocation)

// Plugin is a named set of hooks.
type Plugin struct {
	Name string

	OnUserMessage OnUserMessageCallback
	BeforeRun     BeforeRunCallback
	OnEvent       OnEventCallback
	AfterRun      AfterRunCallback

	Agent *agent.Callbacks
	Model *model.Callbacks
	Tool  *tool.Callbacks

	// Close releases the plugin's resources.
	Close func(ctx context.Context) error
}

// New creates a plugin with the given name and options.
func New(name string, opts ...Option) *Plugin {
	p := &Plugin{Name: name}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithOnUserMessage sets the user message hook.
func WithOnUserMessage(cb OnUserMessageCallback) Option {
	return func(p *Plugin) { p.OnUserMessage = cb }
}

// WithBeforeRun sets the before run hook.
func WithBeforeRun(cb BeforeRunCallback) Option {
	return func(p *Plugin) { p.BeforeRun = cb }
}

// WithOnEvent sets the event hook.
func WithOnEvent(cb OnEventCallback) Option {
	return func(p *Plugin) { p.OnEvent = cb }
}

// WithAfterRun sets the after run hook.
func WithAfterRun(cb AfterRunCallback) Option {
	return func(p *Plugin) { p.AfterRun = cb }
}

// WithAgentCallbacks sets the agent hooks.
func WithAgentCallbacks(cb *agent.Callbacks) Option {
	return func(p *Plugin) { p.Agent = cb }
}

// WithModelCallbacks sets the model hooks.
func WithModelCallbacks(cb *model.Callbacks) Option {
	return func(p *Plugin) { p.Model = cb }
}

// WithToolCallbacks sets the tool hooks.
func WithToolCallbacks(cb *tool.Callbacks) Option {
	return func(p *Plugin) { p.Tool = cb }
}

// WithClose sets the close function.
func WithClose(fn func(ctx context.Context) error) Option {
	return func(p *Plugin) { p.Close = fn }
}
