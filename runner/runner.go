//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package runner provides the core runner functionality.
//
// A Runner owns the invocations of one agent tree. It persists every
// complete event through the session service before the caller sees it,
// releases producers waiting for that commit, runs the plugin run hooks and
// compacts the session history when configured.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/compaction"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/plugin"
	"trpc.group/trpc-go/trpc-agent-flow/session"
	"trpc.group/trpc-go/trpc-agent-flow/session/inmemory"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/trace"
)

// Author types for events.
const (
	authorUser = "user"
)

const defaultChannelBufferSize = 256

// Option is a function that configures a Runner.
type Option func(*Options)

// WithSessionService sets the session service to use.
func WithSessionService(service session.Service) Option {
	return func(opts *Options) {
		opts.sessionService = service
	}
}

// WithPlugins installs plugins. They run in the given order.
func WithPlugins(plugins ...*plugin.Plugin) Option {
	return func(opts *Options) {
		opts.plugins = append(opts.plugins, plugins...)
	}
}

// WithCompactor compacts the session history after every run.
func WithCompactor(c *compaction.Compactor) Option {
	return func(opts *Options) {
		opts.compactor = c
	}
}

// WithChannelBufferSize sets the buffer of the returned event channel.
func WithChannelBufferSize(size int) Option {
	return func(opts *Options) {
		opts.channelBufferSize = size
	}
}

// Options is the options for the Runner.
type Options struct {
	sessionService    session.Service
	plugins           []*plugin.Plugin
	compactor         *compaction.Compactor
	channelBufferSize int
}

// Runner is the interface for running agents.
type Runner interface {
	// Run appends message to the session and runs the agent tree on it.
	// The channel is closed when the invocation is over.
	Run(
		ctx context.Context,
		userID string,
		sessionID string,
		message model.Message,
		runOpts ...agent.RunOption,
	) (<-chan *event.Event, error)

	// Close closes the plugins.
	Close(ctx context.Context) error
}

// runner runs agents.
type runner struct {
	appName           string
	agent             agent.Agent
	sessionService    session.Service
	plugins           *plugin.Manager
	compactor         *compaction.Compactor
	channelBufferSize int
}

// NewRunner creates a new Runner.
func NewRunner(appName string, ag agent.Agent, opts ...Option) Runner {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.sessionService == nil {
		options.sessionService = inmemory.NewSessionService()
	}
	if options.channelBufferSize <= 0 {
		options.channelBufferSize = defaultChannelBufferSize
	}
	return &runner{
		appName:           appName,
		agent:             ag,
		sessionService:    options.sessionService,
		plugins:           plugin.NewManager(options.plugins),
		compactor:         options.compactor,
		channelBufferSize: options.channelBufferSize,
	}
}

// Run runs the agent.
func (r *runner) Run(
	ctx context.Context,
	userID string,
	sessionID string,
	message model.Message,
	runOpts ...agent.RunOption,
) (<-chan *event.Event, error) {
	if r.agent == nil {
		return nil, errors.New("runner: no agent")
	}
	sess, err := r.getOrCreateSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	var ro agent.RunOptions
	for _, opt := range runOpts {
		opt(&ro)
	}
	invocation := agent.NewInvocation(
		agent.WithInvocationID("invocation-"+uuid.New().String()),
		agent.WithInvocationSession(sess),
		agent.WithInvocationMessage(message),
		agent.WithInvocationRunOptions(ro),
		agent.WithInvocationRootAgent(r.agent),
		agent.WithInvocationHooks(r.plugins.Hooks()),
	)

	msg, err := r.plugins.RunOnUserMessage(ctx, invocation, message)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	invocation.Message = msg
	if msg.Content != "" {
		if err := r.sessionService.AppendEvent(ctx, sess, newUserEvent(invocation.InvocationID, msg)); err != nil {
			return nil, fmt.Errorf("runner: append user message: %w", err)
		}
	}

	selected := findAgentToRun(r.agent, sess)
	invocation.Agent = selected
	invocation.AgentName = selected.Info().Name
	invocation.EnableCompletionNotices()
	log.Debugf("Runner %s: invocation %s runs agent %s on session %s",
		r.appName, invocation.InvocationID, invocation.AgentName, sess.ID)

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameInvocation)
	itelemetry.TraceInvocation(span, invocation.InvocationID, sess.ID, invocation.AgentName)

	out := make(chan *event.Event, r.channelBufferSize)
	go func() {
		defer span.End()
		defer close(out)
		r.execute(ctx, invocation, out)
		r.finish(ctx, invocation)
	}()
	return out, nil
}

// Close implements Runner.
func (r *runner) Close(ctx context.Context) error {
	return r.plugins.Close(ctx)
}

func (r *runner) getOrCreateSession(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	key := session.Key{AppName: r.appName, UserID: userID, SessionID: sessionID}
	if sessionID != "" {
		sess, err := r.sessionService.GetSession(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("runner: get session: %w", err)
		}
		if sess != nil {
			return sess, nil
		}
	}
	sess, err := r.sessionService.CreateSession(ctx, key, session.StateMap{})
	if err != nil {
		return nil, fmt.Errorf("runner: create session: %w", err)
	}
	return sess, nil
}

// execute runs BeforeRun and then the selected agent, handling every event
// it emits.
func (r *runner) execute(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) {
	rsp, err := r.plugins.RunBeforeRun(ctx, inv)
	if err != nil {
		inv.EndInvocation()
		r.handle(ctx, inv, out, agent.NewErrorEvent(inv, agent.NewError("plugin", agent.ErrorTypeCallbackError, err)))
		return
	}
	if rsp != nil {
		r.handle(ctx, inv, out, event.NewResponseEvent(inv.InvocationID, inv.AgentName, rsp))
		return
	}

	agentCh, err := inv.Agent.Run(agent.NewInvocationContext(ctx, inv), inv)
	if err != nil {
		inv.EndInvocation()
		r.handle(ctx, inv, out, agent.NewErrorEvent(inv, agent.NewError(inv.AgentName, agent.ErrorTypeFlowError, err)))
		return
	}
	for evt := range agentCh {
		if !r.handle(ctx, inv, out, evt) {
			// The caller is gone: keep releasing producers until the agent stops.
			for evt := range agentCh {
				if evt != nil && evt.RequiresCompletion {
					inv.NotifyCompletion(evt.CompletionID)
				}
			}
			return
		}
	}
}

// handle persists a complete event, acknowledges its commit, runs the
// OnEvent hooks and forwards the result. It reports false once the caller
// can no longer receive events.
func (r *runner) handle(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, evt *event.Event) bool {
	if evt == nil {
		return true
	}
	if evt.Response == nil || !evt.IsPartial {
		if err := r.sessionService.AppendEvent(ctx, inv.Session, evt); err != nil {
			if errors.Is(err, session.ErrInvalidStateKey) {
				return r.rejectEvent(ctx, inv, out, evt, err)
			}
			log.Errorf("Runner %s: failed to append event %s to session %s: %v",
				r.appName, evt.ID, inv.Session.ID, err)
		}
	}
	if evt.RequiresCompletion {
		inv.NotifyCompletion(evt.CompletionID)
	}

	forwarded, err := r.plugins.RunOnEvent(ctx, inv, evt)
	if err != nil {
		if emitErr := event.EmitEvent(ctx, out, evt); emitErr != nil {
			return false
		}
		inv.EndInvocation()
		return r.handle(ctx, inv, out,
			agent.NewErrorEvent(inv, agent.NewError("plugin", agent.ErrorTypeCallbackError, err)))
	}
	return event.EmitEvent(ctx, out, forwarded) == nil
}

// rejectEvent drops an event whose state delta failed validation and ends
// the invocation with a validation error.
func (r *runner) rejectEvent(
	ctx context.Context,
	inv *agent.Invocation,
	out chan<- *event.Event,
	evt *event.Event,
	err error,
) bool {
	log.Warnf("Runner %s: rejected event %s from %s: %v", r.appName, evt.ID, evt.Author, err)
	inv.EndInvocation()
	if evt.RequiresCompletion {
		inv.NotifyCompletion(evt.CompletionID)
	}
	errEvt := event.NewErrorEvent(inv.InvocationID, evt.Author, agent.ErrorTypeValidationError,
		fmt.Sprintf("session [%s]: %v", agent.ErrorTypeValidationError, err), event.WithBranch(evt.Branch))
	return r.handle(ctx, inv, out, errEvt)
}

// finish runs AfterRun, drops temp: state and compacts the session.
func (r *runner) finish(ctx context.Context, inv *agent.Invocation) {
	r.plugins.RunAfterRun(ctx, inv)
	inv.Session.ClearTempState()
	if r.compactor == nil || ctx.Err() != nil {
		return
	}
	if _, err := r.compactor.MaybeCompact(ctx, r.sessionService, inv.Session); err != nil {
		log.Warnf("Runner %s: compaction of session %s failed: %v", r.appName, inv.Session.ID, err)
	}
}

func newUserEvent(invocationID string, msg model.Message) *event.Event {
	evt := event.NewResponseEvent(invocationID, authorUser, &model.Response{
		Object:    model.ObjectTypeChatCompletion,
		Done:      true,
		Timestamp: time.Now(),
		Choices:   []model.Choice{{Index: 0, Message: msg}},
	})
	return evt
}
