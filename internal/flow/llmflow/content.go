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
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const authorUser = "user"

// buildMessages converts the effective session history plus the events this
// run produced and the runner has not persisted yet into model messages.
func buildMessages(inv *agent.Invocation, produced []*event.Event) []model.Message {
	var history []event.Event
	if inv.Session != nil {
		history = event.ApplyCompactions(inv.Session.GetEvents())
	}
	seen := make(map[string]struct{}, len(history))
	userTurnSeen := false
	for _, evt := range history {
		seen[evt.ID] = struct{}{}
		if evt.InvocationID == inv.InvocationID && evt.Author == authorUser {
			userTurnSeen = true
		}
	}

	var messages []model.Message
	for i := range history {
		messages = append(messages, eventMessages(inv, &history[i])...)
	}
	if !userTurnSeen && inv.Message.Content != "" {
		messages = append(messages, inv.Message)
	}
	for _, evt := range produced {
		if _, ok := seen[evt.ID]; ok {
			continue
		}
		messages = append(messages, eventMessages(inv, evt)...)
	}
	return messages
}

// eventMessages returns the messages an event contributes to the request
// of inv. Events of sibling branches, partial chunks, errors and control
// events contribute nothing. Text of other agents is passed as context.
func eventMessages(inv *agent.Invocation, evt *event.Event) []model.Message {
	if evt == nil || !visibleFrom(inv.Branch, evt.Branch) {
		return nil
	}
	if c := evt.Actions.Compaction; c != nil {
		return []model.Message{model.NewUserMessage("Summary of the earlier conversation: " + c.CompactedContent)}
	}
	rsp := evt.Response
	if rsp == nil || rsp.IsPartial || rsp.Error != nil || evt.LimitReached != nil || len(rsp.Choices) == 0 {
		return nil
	}
	if evt.Author == authorUser {
		if text := rsp.Text(); text != "" {
			return []model.Message{model.NewUserMessage(text)}
		}
		return nil
	}
	if evt.Author != inv.AgentName {
		// Tool traffic of other agents would leave dangling tool calls.
		if rsp.IsToolCallResponse() || rsp.IsToolResultResponse() {
			return nil
		}
		text := rsp.Text()
		if text == "" {
			return nil
		}
		return []model.Message{model.NewUserMessage(fmt.Sprintf("For context: [%s] said: %s", evt.Author, text))}
	}
	var messages []model.Message
	for _, choice := range rsp.Choices {
		msg := choice.Message
		if msg.Role == "" {
			msg.Role = model.RoleAssistant
		}
		if msg.Content == "" && len(msg.ToolCalls) == 0 && msg.ToolID == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

// visibleFrom reports whether an event on branch is part of the history of
// an invocation on current: events of ancestors and descendants are, events
// of siblings are not.
func visibleFrom(current, branch string) bool {
	if branch == "" || current == "" || branch == current {
		return true
	}
	return strings.HasPrefix(current, branch+agent.BranchDelimiter) ||
		strings.HasPrefix(branch, current+agent.BranchDelimiter)
}
