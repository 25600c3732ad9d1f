//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package llmflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
	"trpc.group/trpc-go/trpc-agent-flow/tool/transfer"
)

// DeniedToolResult is the result reported to the model for a call that a
// human denied.
const DeniedToolResult = "tool call denied by user"

// callOutcome is the result of one tool call.
type callOutcome struct {
	message      model.Message
	actions      event.Actions
	confirmation *event.ToolConfirmation
	err          error
}

// roundOutcome is the result of all tool calls of one model response.
type roundOutcome struct {
	// event is the merged tool response event. Nil when nothing ran.
	event *event.Event
	// confirmations are the calls waiting for a human decision.
	confirmations []*event.ToolConfirmation
	err           error
}

// executeTools runs the tool calls of rsp and merges their results into
// one tool response event, in call order.
func (f *Flow) executeTools(
	ctx context.Context,
	inv *agent.Invocation,
	calls []model.ToolCall,
	tools map[string]tool.Tool,
) roundOutcome {
	outcomes := make([]callOutcome, len(calls))
	if f.parallelTools && len(calls) > 1 {
		if err := f.executeParallel(ctx, inv, calls, tools, outcomes); err != nil {
			return roundOutcome{err: agent.NewError("flow", agent.ErrorTypeFlowError, err)}
		}
	} else {
		for i, call := range calls {
			outcomes[i] = f.executeCall(ctx, inv, call, tools)
			if outcomes[i].err != nil || inv.Ended() {
				break
			}
		}
	}

	var (
		out     roundOutcome
		choices []model.Choice
		actions event.Actions
	)
	for i, o := range outcomes {
		if o.err != nil {
			out.err = o.err
			return out
		}
		if o.confirmation != nil {
			out.confirmations = append(out.confirmations, o.confirmation)
			continue
		}
		if o.message.ToolID == "" {
			// Not run: the invocation ended before this call.
			continue
		}
		choices = append(choices, model.Choice{Index: i, Message: o.message})
		actions = actions.Merge(o.actions)
	}
	if len(choices) == 0 {
		return out
	}
	rsp := &model.Response{
		Object:  model.ObjectTypeToolResponse,
		Done:    true,
		Choices: choices,
	}
	out.event = event.NewResponseEvent(inv.InvocationID, inv.AgentName, rsp,
		event.WithBranch(inv.Branch), event.WithActions(actions))
	rsp.Timestamp = out.event.Timestamp
	return out
}

// executeParallel runs calls on an ants pool sized to the batch.
func (f *Flow) executeParallel(
	ctx context.Context,
	inv *agent.Invocation,
	calls []model.ToolCall,
	tools map[string]tool.Tool,
	outcomes []callOutcome,
) error {
	pool, err := ants.NewPool(len(calls))
	if err != nil {
		return fmt.Errorf("create tool pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		idx, tc := i, call
		if err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Tool %s panicked (agent %s): %v", tc.Function.Name, inv.AgentName, r)
					outcomes[idx] = callOutcome{err: agent.NewError("tool:"+tc.Function.Name,
						agent.ErrorTypeToolError, fmt.Errorf("panic: %v", r))}
				}
			}()
			outcomes[idx] = f.executeCall(ctx, inv, tc, tools)
		}); err != nil {
			wg.Done()
			outcomes[idx] = callOutcome{err: agent.NewError("flow", agent.ErrorTypeFlowError,
				fmt.Errorf("submit tool %s: %w", tc.Function.Name, err))}
		}
	}
	wg.Wait()
	return nil
}

// executeCall runs one tool call through validation, confirmation and the
// tool hooks.
func (f *Flow) executeCall(
	ctx context.Context,
	inv *agent.Invocation,
	call model.ToolCall,
	tools map[string]tool.Tool,
) callOutcome {
	if inv.Ended() {
		return callOutcome{}
	}
	name, args := call.Function.Name, call.Function.Arguments
	tl, ok := tools[name]
	if !ok {
		if tl, args = compatibleTool(inv, name, args, tools); tl == nil {
			return callOutcome{err: agent.NewError("tool:"+name, agent.ErrorTypeToolError,
				fmt.Errorf("tool %q not found", name))}
		}
		name = tl.Declaration().Name
	}
	decl := tl.Declaration()

	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewExecuteToolSpanName(name))
	defer span.End()

	if err := tool.ValidateArguments(decl, args); err != nil {
		return callOutcome{err: agent.NewError("tool:"+name, agent.ErrorTypeValidationError, err)}
	}

	if f.confirmTools[name] {
		decision, decided := inv.RunOptions.ConfirmationFor(call.ID, name)
		switch {
		case !decided:
			return callOutcome{confirmation: &event.ToolConfirmation{
				ToolName:  name,
				CallID:    call.ID,
				Hint:      fmt.Sprintf("Tool %s requires confirmation before it runs.", name),
				Arguments: args,
			}}
		case decision == agent.ConfirmationDeny:
			content, _ := json.Marshal(map[string]string{"error": DeniedToolResult})
			return callOutcome{message: model.NewToolMessage(call.ID, name, string(content))}
		}
	}

	toolCtx, tc := agent.NewToolContext(ctx, inv, name, call.ID)
	result, err := f.runTool(toolCtx, inv, name, decl, tl, &args)
	metric.RecordToolCall(ctx, name, err)
	if err != nil {
		return callOutcome{err: err}
	}
	if inv.Ended() {
		log.Debugf("Invocation %s ended while tool %s ran; dropping result", inv.InvocationID, name)
		return callOutcome{}
	}
	content, err := marshalResult(result)
	if err != nil {
		return callOutcome{err: agent.NewError("tool:"+name, agent.ErrorTypeToolError, err)}
	}
	msg := model.NewToolMessage(call.ID, name, content)
	out := callOutcome{message: msg, actions: tc.Actions()}
	itelemetry.TraceToolCall(span, decl, call.ID, args, nil)
	return out
}

// runTool applies the before, error and after tool hooks around the call.
func (f *Flow) runTool(
	ctx context.Context,
	inv *agent.Invocation,
	name string,
	decl *tool.Declaration,
	tl tool.Tool,
	args *[]byte,
) (any, error) {
	cbs := agent.ChainToolCallbacks(inv.Hooks.Tool, f.toolCallbacks)
	result, err := cbs.RunBeforeTool(ctx, name, decl, args)
	if err != nil {
		return nil, agent.NewError("callback", agent.ErrorTypeCallbackError, err)
	}
	var runErr error
	if result == nil {
		callable, ok := tl.(tool.CallableTool)
		if !ok {
			return nil, agent.NewError("tool:"+name, agent.ErrorTypeToolError,
				errors.New("tool is not callable"))
		}
		result, runErr = callable.Call(ctx, *args)
	}
	if runErr != nil {
		fallback, err := cbs.RunOnToolError(ctx, name, decl, *args, runErr)
		if err != nil {
			return nil, agent.NewError("callback", agent.ErrorTypeCallbackError, err)
		}
		if fallback != nil {
			result, runErr = fallback, nil
		}
	}
	after, err := cbs.RunAfterTool(ctx, name, decl, *args, result, runErr)
	if err != nil {
		return nil, agent.NewError("callback", agent.ErrorTypeCallbackError, err)
	}
	if after != nil {
		result, runErr = after, nil
	}
	if runErr != nil {
		return nil, agent.NewError("tool:"+name, agent.ErrorTypeToolError, runErr)
	}
	return result, nil
}

func marshalResult(result any) (string, error) {
	if s, ok := result.(string); ok {
		return s, nil
	}
	bts, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(bts), nil
}

// compatibleTool maps a call naming a sub-agent directly onto the transfer
// tool, which some models do instead of calling transfer_to_agent.
func compatibleTool(inv *agent.Invocation, requested string, args []byte, tools map[string]tool.Tool) (tool.Tool, []byte) {
	tr, ok := tools[transfer.TransferToolName]
	if !ok || inv.Agent == nil || inv.Agent.FindSubAgent(requested) == nil {
		return nil, args
	}
	converted, err := json.Marshal(transfer.Request{AgentName: requested})
	if err != nil {
		return nil, args
	}
	return tr, converted
}
