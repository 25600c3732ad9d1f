//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package llmflow provides an LLM-based flow implementation: the
// reasoning and tool loop of a model-driven agent.
package llmflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/internal/flow"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

const (
	defaultChannelBufferSize = 256
	// DefaultMaxToolRounds bounds the tool rounds of one run.
	DefaultMaxToolRounds = 100
)

// Options contains configuration options for creating a Flow.
type Options struct {
	// ChannelBufferSize is the buffer of the event channel (default 256).
	ChannelBufferSize int
	// MaxToolRounds bounds the number of tool rounds (default 100).
	MaxToolRounds int
	// ParallelTools runs the tool calls of one response concurrently.
	ParallelTools bool
	// ModelCallbacks and ToolCallbacks are the agent's own hooks. Plugin
	// hooks from the invocation run first.
	ModelCallbacks *model.Callbacks
	ToolCallbacks  *tool.Callbacks
	// ConfirmTools names the tools that need a human decision.
	ConfirmTools []string
	// OutputKey, if set, also writes the final text to this state key.
	OutputKey string
}

// Flow provides the basic flow implementation.
type Flow struct {
	requestProcessors []flow.RequestProcessor
	channelBufferSize int
	maxToolRounds     int
	parallelTools     bool
	modelCallbacks    *model.Callbacks
	toolCallbacks     *tool.Callbacks
	confirmTools      map[string]bool
	outputKey         string
}

// New creates a new flow with the provided request processors.
func New(requestProcessors []flow.RequestProcessor, opts Options) *Flow {
	f := &Flow{
		requestProcessors: requestProcessors,
		channelBufferSize: opts.ChannelBufferSize,
		maxToolRounds:     opts.MaxToolRounds,
		parallelTools:     opts.ParallelTools,
		modelCallbacks:    opts.ModelCallbacks,
		toolCallbacks:     opts.ToolCallbacks,
		confirmTools:      make(map[string]bool, len(opts.ConfirmTools)),
		outputKey:         opts.OutputKey,
	}
	if f.channelBufferSize <= 0 {
		f.channelBufferSize = defaultChannelBufferSize
	}
	if f.maxToolRounds <= 0 {
		f.maxToolRounds = DefaultMaxToolRounds
	}
	for _, name := range opts.ConfirmTools {
		f.confirmTools[name] = true
	}
	return f
}

// Run executes the flow in a loop until completion.
func (f *Flow) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	if invocation == nil {
		return nil, errors.New("llmflow: nil invocation")
	}
	out := make(chan *event.Event, f.channelBufferSize)
	go func() {
		defer close(out)
		f.run(ctx, invocation, out)
	}()
	return out, nil
}

// run drives CallingModel -> ExecutingTools rounds until a final answer,
// an exit action, an error, the round bound or the end of the invocation.
func (f *Flow) run(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) {
	var produced []*event.Event
	emit := func(evt *event.Event) bool {
		evt.RequiresCompletion = true
		if err := agent.EmitEvent(ctx, inv, out, evt); err != nil {
			return false
		}
		produced = append(produced, evt)
		return true
	}

	for toolRounds := 0; ; {
		if inv.Ended() || ctx.Err() != nil {
			return
		}
		req := f.buildRequest(ctx, inv, produced)
		rspEvent, err := f.callModel(ctx, inv, req, out)
		if err != nil {
			f.fail(ctx, inv, out, err)
			return
		}
		if rspEvent == nil {
			return
		}

		calls := rspEvent.ToolCalls()
		if len(calls) == 0 {
			if text := rspEvent.Text(); f.outputKey != "" && text != "" {
				rspEvent.Actions.StateDelta = map[string]any{f.outputKey: text}
			}
			emit(rspEvent)
			return
		}
		if !emit(rspEvent) {
			return
		}
		if toolRounds >= f.maxToolRounds {
			log.Warnf("Agent %s reached the tool round limit (%d)", inv.AgentName, f.maxToolRounds)
			metric.RecordLimitReached(ctx, event.LimitKindToolRounds)
			emit(event.NewLimitEvent(inv.InvocationID, inv.AgentName, event.LimitKindToolRounds,
				f.maxToolRounds, event.WithBranch(inv.Branch)))
			return
		}
		toolRounds++

		round := f.executeTools(ctx, inv, calls, req.Tools)
		if round.err != nil {
			f.fail(ctx, inv, out, round.err)
			return
		}
		if inv.Ended() {
			return
		}
		if round.event != nil && !emit(round.event) {
			return
		}
		if len(round.confirmations) > 0 {
			for _, c := range round.confirmations {
				if !emit(confirmationEvent(inv, c)) {
					return
				}
			}
			inv.EndInvocation()
			return
		}
		if round.event == nil {
			return
		}
		actions := round.event.Actions
		switch {
		case actions.Escalate, actions.SkipSummarization:
			return
		case actions.TransferToAgent != "":
			f.transfer(ctx, inv, actions.TransferToAgent, out)
			return
		}
	}
}

func (f *Flow) buildRequest(ctx context.Context, inv *agent.Invocation, produced []*event.Event) *model.Request {
	req := &model.Request{
		Messages: buildMessages(inv, produced),
		Tools:    make(map[string]tool.Tool),
	}
	for _, p := range f.requestProcessors {
		p.ProcessRequest(ctx, inv, req)
	}
	if inv.Agent != nil {
		for _, t := range inv.Agent.Tools() {
			req.Tools[t.Declaration().Name] = t
		}
	}
	return req
}

// callModel runs one model call through the model hooks. Partial chunks
// are emitted as they arrive; the complete response is returned as an
// event that is not emitted yet. A nil event means the invocation ended.
func (f *Flow) callModel(
	ctx context.Context,
	inv *agent.Invocation,
	req *model.Request,
	out chan<- *event.Event,
) (*event.Event, error) {
	modelName := "model"
	if inv.Model != nil {
		modelName = inv.Model.Info().Name
	}
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCallLLM)
	defer span.End()

	cbs := agent.ChainModelCallbacks(inv.Hooks.Model, f.modelCallbacks)
	final, err := cbs.RunBeforeModel(ctx, req)
	if err != nil {
		return nil, agent.NewError("callback", agent.ErrorTypeCallbackError, err)
	}
	var modelErr error
	if final == nil {
		final, modelErr = f.generate(ctx, inv, req, out)
		metric.RecordModelCall(ctx, modelName, modelErr)
		if inv.Ended() {
			return nil, nil
		}
		if modelErr != nil {
			fallback, err := cbs.RunOnModelError(ctx, req, modelErr)
			if err != nil {
				return nil, agent.NewError("callback", agent.ErrorTypeCallbackError, err)
			}
			if fallback != nil {
				final, modelErr = fallback, nil
			}
		}
	}
	after, err := cbs.RunAfterModel(ctx, final, modelErr)
	if err != nil {
		return nil, agent.NewError("callback", agent.ErrorTypeCallbackError, err)
	}
	if after != nil {
		final, modelErr = after, nil
	}
	if modelErr != nil {
		return nil, agent.NewError(modelName, agent.ErrorTypeModelError, modelErr)
	}
	if inv.Ended() {
		return nil, nil
	}

	rsp := final.Clone()
	rsp.IsPartial = false
	rsp.Done = true
	evt := event.NewResponseEvent(inv.InvocationID, inv.AgentName, rsp, event.WithBranch(inv.Branch))
	sessionID := ""
	if inv.Session != nil {
		sessionID = inv.Session.ID
	}
	itelemetry.TraceCallLLM(span, inv.InvocationID, sessionID, modelName, req, rsp, evt.ID)
	return evt, nil
}

// generate calls the model and collects its stream. Chunks flagged partial
// are forwarded; text deltas are accumulated in case the stream ends
// without a complete response.
func (f *Flow) generate(
	ctx context.Context,
	inv *agent.Invocation,
	req *model.Request,
	out chan<- *event.Event,
) (*model.Response, error) {
	if inv.Model == nil {
		return nil, errors.New("no model available for LLM call")
	}
	log.Debugf("Calling model %s for agent %s", inv.Model.Info().Name, inv.AgentName)
	ch, err := inv.Model.GenerateContent(ctx, req)
	if err != nil {
		return nil, err
	}
	var (
		final *model.Response
		text  strings.Builder
	)
	for rsp := range ch {
		if rsp == nil || inv.Ended() {
			continue
		}
		if rsp.Error != nil {
			final = rsp
			continue
		}
		if rsp.IsPartial {
			text.WriteString(rsp.Text())
			partial := event.NewResponseEvent(inv.InvocationID, inv.AgentName, rsp, event.WithBranch(inv.Branch))
			if err := agent.EmitEvent(ctx, inv, out, partial); err != nil {
				return nil, err
			}
			continue
		}
		final = rsp
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case final != nil && final.Error != nil:
		return nil, fmt.Errorf("%s: %s", final.Error.Type, final.Error.Message)
	case final != nil:
		return final, nil
	case text.Len() > 0:
		return model.NewTextResponse(text.String()), nil
	default:
		return nil, errors.New("model returned no response")
	}
}

// fail emits the typed error event of err and ends the invocation.
func (f *Flow) fail(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Debugf("Flow for agent %s stopped: %v", inv.AgentName, err)
		return
	}
	log.Errorf("Flow for agent %s failed: %v", inv.AgentName, err)
	_ = agent.EmitEvent(ctx, inv, out, agent.NewErrorEvent(inv, err))
	inv.EndInvocation()
}

func confirmationEvent(inv *agent.Invocation, c *event.ToolConfirmation) *event.Event {
	evt := event.New(inv.InvocationID, inv.AgentName,
		event.WithBranch(inv.Branch),
		event.WithObject(model.ObjectTypeToolConfirmation),
		event.WithActions(event.Actions{ToolConfirmation: c}),
	)
	evt.Done = true
	return evt
}
