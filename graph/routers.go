//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// Ready-made conditions for AddConditionalEdges. Each returns a target that
// is used as a path map key, or as a node ID when there is no path map.

// RouteByField routes to the string stored under field. A missing or
// non-string value routes to End.
func RouteByField(field string) ConditionalFunc {
	return func(_ context.Context, state State) (string, error) {
		if target, ok := state[field].(string); ok && target != "" {
			return target, nil
		}
		return End, nil
	}
}

// RouteByBool routes to ifTrue when field holds the boolean true.
func RouteByBool(field, ifTrue, ifFalse string) ConditionalFunc {
	return func(_ context.Context, state State) (string, error) {
		if b, _ := state[field].(bool); b {
			return ifTrue, nil
		}
		return ifFalse, nil
	}
}

// RouteOnToolCalls routes to ifTrue when the last message under
// messagesField asks for tool calls.
func RouteOnToolCalls(messagesField, ifTrue, ifFalse string) ConditionalFunc {
	return func(_ context.Context, state State) (string, error) {
		var last *model.Message
		switch msgs := state[messagesField].(type) {
		case []model.Message:
			if len(msgs) > 0 {
				last = &msgs[len(msgs)-1]
			}
		case []any:
			if len(msgs) > 0 {
				if m, ok := msgs[len(msgs)-1].(model.Message); ok {
					last = &m
				}
			}
		}
		if last != nil && len(last.ToolCalls) > 0 {
			return ifTrue, nil
		}
		return ifFalse, nil
	}
}

// RouteByMaxIterations routes to continueTarget while the counter under
// counterField is below maxIterations, then to doneTarget. A missing counter is zero.
func RouteByMaxIterations(counterField string, maxIterations int, continueTarget, doneTarget string) ConditionalFunc {
	return func(_ context.Context, state State) (string, error) {
		count, ok := asInt(state[counterField])
		if !ok {
			if f, isFloat := state[counterField].(float64); isFloat {
				count = int64(f)
			}
		}
		if count < int64(maxIterations) {
			return continueTarget, nil
		}
		return doneTarget, nil
	}
}

// RouteOnError routes to errorTarget when errorField holds a value other
// than nil or the empty string.
func RouteOnError(errorField, errorTarget, successTarget string) ConditionalFunc {
	return func(_ context.Context, state State) (string, error) {
		switch v := state[errorField].(type) {
		case nil:
		case string:
			if v != "" {
				return errorTarget, nil
			}
		default:
			return errorTarget, nil
		}
		return successTarget, nil
	}
}
