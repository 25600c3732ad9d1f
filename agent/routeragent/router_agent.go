//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package routeragent provides an agent that asks a model to classify the
// user message and hands the invocation to the agent of that label.
package routeragent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/agent/conditionalagent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

const defaultChannelBufferSize = 256

// MetadataKeyRoute is the event metadata key holding the chosen label.
const MetadataKeyRoute = "route"

// Setup errors of New.
var (
	ErrNoInstruction = errors.New("router agent: instruction is required")
	ErrNoRoutes      = errors.New("router agent: at least one route is required")
	ErrNoModel       = errors.New("router agent: model is required")
)

// ErrNoRoute is reported when the label matches no route and there is no
// default agent.
var ErrNoRoute = errors.New("no route for classification")

type route struct {
	label string
	agent agent.Agent
}

// RouterAgent routes each run to one sub-agent chosen by a model.
type RouterAgent struct {
	name              string
	description       string
	model             model.Model
	instruction       string
	routes            []route
	defaultAgent      agent.Agent
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// Option configures a RouterAgent.
type Option func(*Options)

// Options holds the RouterAgent configuration.
type Options struct {
	description       string
	instruction       string
	routes            []route
	defaultAgent      agent.Agent
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// WithInstruction sets the classification instruction. It should ask the
// model to answer with one of the route labels only.
func WithInstruction(instruction string) Option {
	return func(o *Options) { o.instruction = instruction }
}

// WithRoute maps label, compared case-insensitively, to target. Adding a
// label twice replaces its agent.
func WithRoute(label string, target agent.Agent) Option {
	return func(o *Options) {
		label = strings.ToLower(strings.TrimSpace(label))
		for i := range o.routes {
			if o.routes[i].label == label {
				o.routes[i].agent = target
				return
			}
		}
		o.routes = append(o.routes, route{label: label, agent: target})
	}
}

// WithDefaultRoute sets the agent used when no label matches.
func WithDefaultRoute(target agent.Agent) Option {
	return func(o *Options) { o.defaultAgent = target }
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

// New creates a RouterAgent that classifies with m.
func New(name string, m model.Model, opts ...Option) (*RouterAgent, error) {
	cfg := Options{channelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case m == nil:
		return nil, ErrNoModel
	case strings.TrimSpace(cfg.instruction) == "":
		return nil, ErrNoInstruction
	case len(cfg.routes) == 0:
		return nil, ErrNoRoutes
	}
	if cfg.channelBufferSize <= 0 {
		cfg.channelBufferSize = defaultChannelBufferSize
	}
	return &RouterAgent{
		name:              name,
		description:       cfg.description,
		model:             m,
		instruction:       cfg.instruction,
		routes:            cfg.routes,
		defaultAgent:      cfg.defaultAgent,
		channelBufferSize: cfg.channelBufferSize,
		agentCallbacks:    cfg.agentCallbacks,
	}, nil
}

// Run implements the agent.Agent interface.
func (a *RouterAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	invocation.Agent = a
	invocation.AgentName = a.name
	invocation.Model = a.model
	eventChan := make(chan *event.Event, a.channelBufferSize)

	go func() {
		defer close(eventChan)
		if evt := agent.RunBeforeAgent(ctx, invocation, a.agentCallbacks); evt != nil {
			_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
			return
		}
		runErr := a.route(ctx, invocation, eventChan)
		if ctx.Err() != nil {
			return
		}
		if evt := agent.RunAfterAgent(ctx, invocation, a.agentCallbacks, runErr); evt != nil {
			_ = agent.EmitEvent(ctx, invocation, eventChan, evt)
		}
	}()
	return eventChan, nil
}

func (a *RouterAgent) route(ctx context.Context, inv *agent.Invocation, eventChan chan<- *event.Event) error {
	label, err := a.classify(ctx, inv)
	if err != nil {
		_ = agent.EmitEvent(ctx, inv, eventChan, agent.NewErrorEvent(inv, err))
		return err
	}
	if inv.Ended() {
		return nil
	}
	routing := event.NewResponseEvent(inv.InvocationID, a.name,
		model.NewTextResponse(fmt.Sprintf("[Routing to: %s]", label)),
		event.WithBranch(inv.Branch), event.WithMetadata(MetadataKeyRoute, label))
	if err := agent.EmitEvent(ctx, inv, eventChan, routing); err != nil {
		return nil
	}

	target := a.Match(label)
	if target == nil {
		err := agent.NewError(a.name, agent.ErrorTypeFlowError,
			fmt.Errorf("%w %q, routes: %s", ErrNoRoute, label, strings.Join(a.labels(), ", ")))
		_ = agent.EmitEvent(ctx, inv, eventChan, agent.NewErrorEvent(inv, err))
		return err
	}
	log.Debugf("Router agent %s: %q routed to %s", a.name, label, target.Info().Name)
	return conditionalagent.Delegate(ctx, inv, target, eventChan)
}

// classify asks the model for a label and normalizes it.
func (a *RouterAgent) classify(ctx context.Context, inv *agent.Invocation) (string, error) {
	modelName := a.model.Info().Name
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCallLLM)
	defer span.End()

	req := &model.Request{Messages: []model.Message{
		model.NewUserMessage(a.instruction + "\n\nUser input: " + inv.Message.Content),
	}}
	cbs := agent.ChainModelCallbacks(inv.Hooks.Model, nil)
	final, err := cbs.RunBeforeModel(ctx, req)
	if err != nil {
		return "", agent.NewError("callback", agent.ErrorTypeCallbackError, err)
	}
	var modelErr error
	if final == nil {
		final, modelErr = a.generate(ctx, req)
		metric.RecordModelCall(ctx, modelName, modelErr)
	}
	after, err := cbs.RunAfterModel(ctx, final, modelErr)
	if err != nil {
		return "", agent.NewError("callback", agent.ErrorTypeCallbackError, err)
	}
	if after != nil {
		final, modelErr = after, nil
	}
	if modelErr != nil {
		return "", agent.NewError(modelName, agent.ErrorTypeModelError, modelErr)
	}
	text := ""
	if final != nil && len(final.Choices) > 0 {
		text = final.Choices[0].Message.Content
	}
	return strings.ToLower(strings.TrimSpace(text)), nil
}

// generate drains the model stream. Partial responses are concatenated
// when no complete response arrives.
func (a *RouterAgent) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	ch, err := a.model.GenerateContent(ctx, req)
	if err != nil {
		return nil, err
	}
	var (
		final   *model.Response
		partial strings.Builder
	)
	for rsp := range ch {
		if rsp == nil {
			continue
		}
		if rsp.Error != nil {
			for range ch {
			}
			return nil, rsp.Error
		}
		if rsp.IsPartial {
			if len(rsp.Choices) > 0 {
				partial.WriteString(rsp.Choices[0].Message.Content)
			}
			continue
		}
		final = rsp
	}
	if final == nil {
		if partial.Len() == 0 {
			return nil, errors.New("empty classification")
		}
		final = model.NewTextResponse(partial.String())
	}
	return final, nil
}

// Match returns the agent for label: the route with that exact label, else
// the first route whose label occurs in it, else the default agent.
func (a *RouterAgent) Match(label string) agent.Agent {
	label = strings.ToLower(strings.TrimSpace(label))
	for _, r := range a.routes {
		if r.label == label {
			return r.agent
		}
	}
	for _, r := range a.routes {
		if strings.Contains(label, r.label) {
			return r.agent
		}
	}
	return a.defaultAgent
}

func (a *RouterAgent) labels() []string {
	out := make([]string, 0, len(a.routes))
	for _, r := range a.routes {
		out = append(out, r.label)
	}
	sort.Strings(out)
	return out
}

// Tools implements the agent.Agent interface.
func (a *RouterAgent) Tools() []tool.Tool {
	return nil
}

// Info implements the agent.Agent interface.
func (a *RouterAgent) Info() agent.Info {
	return agent.Info{Name: a.name, Description: a.description}
}

// SubAgents implements the agent.Agent interface. It lists the route
// agents in registration order, then the default agent.
func (a *RouterAgent) SubAgents() []agent.Agent {
	var subs []agent.Agent
	seen := make(map[string]bool)
	add := func(sub agent.Agent) {
		if sub != nil && !seen[sub.Info().Name] {
			seen[sub.Info().Name] = true
			subs = append(subs, sub)
		}
	}
	for _, r := range a.routes {
		add(r.agent)
	}
	add(a.defaultAgent)
	return subs
}

// FindSubAgent implements the agent.Agent interface.
func (a *RouterAgent) FindSubAgent(name string) agent.Agent {
	for _, subAgent := range a.SubAgents() {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}
