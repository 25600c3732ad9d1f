//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const defaultCloseTimeout = 5 * time.Second

// Manager runs the hooks of an ordered list of plugins.
type Manager struct {
	plugins      []*Plugin
	hooks        agent.Hooks
	closeTimeout time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCloseTimeout bounds the time each plugin may take to close.
func WithCloseTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.closeTimeout = d }
}

// NewManager creates a manager. Plugins run in the given order.
func NewManager(plugins []*Plugin, opts ...ManagerOption) *Manager {
	m := &Manager{closeTimeout: defaultCloseTimeout}
	for _, p := range plugins {
		if p != nil {
			m.plugins = append(m.plugins, p)
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range m.plugins {
		m.hooks.Agent = agent.ChainAgentCallbacks(m.hooks.Agent, p.Agent)
		m.hooks.Model = agent.ChainModelCallbacks(m.hooks.Model, p.Model)
		m.hooks.Tool = agent.ChainToolCallbacks(m.hooks.Tool, p.Tool)
	}
	return m
}

// Len returns the number of plugins.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return len(m.plugins)
}

// Names returns the plugin names in order.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.plugins))
	for _, p := range m.plugins {
		names = append(names, p.Name)
	}
	return names
}

// Hooks returns the agent, model and tool hooks of every plugin, in plugin
// order.
func (m *Manager) Hooks() agent.Hooks {
	if m == nil {
		return agent.Hooks{}
	}
	return m.hooks
}

// RunOnUserMessage passes msg through every OnUserMessage hook. Each hook
// sees the message produced by the previous one.
func (m *Manager) RunOnUserMessage(ctx context.Context, inv *agent.Invocation, msg model.Message) (model.Message, error) {
	if m == nil {
		return msg, nil
	}
	for _, p := range m.plugins {
		if p.OnUserMessage == nil {
			continue
		}
		modified, err := p.OnUserMessage(ctx, inv, msg)
		if err != nil {
			log.Warnf("plugin %s: on user message: %v", p.Name, err)
			return msg, fmt.Errorf("plugin %s: %w", p.Name, err)
		}
		if modified != nil {
			log.Debugf("plugin %s: user message modified", p.Name)
			msg = *modified
		}
	}
	return msg, nil
}

// RunBeforeRun runs BeforeRun hooks until one returns a response.
func (m *Manager) RunBeforeRun(ctx context.Context, inv *agent.Invocation) (*model.Response, error) {
	if m == nil {
		return nil, nil
	}
	for _, p := range m.plugins {
		if p.BeforeRun == nil {
			continue
		}
		rsp, err := p.BeforeRun(ctx, inv)
		if err != nil {
			log.Warnf("plugin %s: before run: %v", p.Name, err)
			return nil, fmt.Errorf("plugin %s: %w", p.Name, err)
		}
		if rsp != nil {
			log.Debugf("plugin %s: before run short-circuited", p.Name)
			return rsp, nil
		}
	}
	return nil, nil
}

// RunOnEvent passes evt through every OnEvent hook.
func (m *Manager) RunOnEvent(ctx context.Context, inv *agent.Invocation, evt *event.Event) (*event.Event, error) {
	if m == nil {
		return evt, nil
	}
	for _, p := range m.plugins {
		if p.OnEvent == nil {
			continue
		}
		modified, err := p.OnEvent(ctx, inv, evt)
		if err != nil {
			log.Warnf("plugin %s: on event %s: %v", p.Name, evt.ID, err)
			return evt, fmt.Errorf("plugin %s: %w", p.Name, err)
		}
		if modified != nil {
			evt = modified
		}
	}
	return evt, nil
}

// RunAfterRun runs every AfterRun hook.
func (m *Manager) RunAfterRun(ctx context.Context, inv *agent.Invocation) {
	if m == nil {
		return
	}
	for _, p := range m.plugins {
		if p.AfterRun != nil {
			p.AfterRun(ctx, inv)
		}
	}
}

// Close closes every plugin, each bounded by the close timeout. Errors
// are joined.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, p := range m.plugins {
		if p.Close == nil {
			continue
		}
		closeCtx, cancel := context.WithTimeout(ctx, m.closeTimeout)
		done := make(chan error, 1)
		go func(p *Plugin) { done <- p.Close(closeCtx) }(p)
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name, err))
			}
		case <-closeCtx.Done():
			log.Warnf("plugin %s: close timed out", p.Name)
			errs = append(errs, fmt.Errorf("plugin %s: close: %w", p.Name, closeCtx.Err()))
		}
		cancel()
	}
	return errors.Join(errs...)
}
