//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package transfer provides transfer_to_agent tool implementation.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

const (
	// TransferToolName is the name of the transfer_to_agent tool.
	TransferToolName = "transfer_to_agent"
	// FieldAgentName is the name of the agent_name field.
	FieldAgentName = "agent_name"
)

// Request represents the request structure for transfer_to_agent tool.
type Request struct {
	// AgentName is the name of the target agent to transfer to.
	AgentName string `json:"agent_name"`
}

// Response represents the response from transfer_to_agent tool.
type Response struct {
	// Success indicates if the transfer was successful.
	Success bool `json:"success"`
	// Message provides details about the transfer.
	Message string `json:"message"`
	// TargetAgent is the name of the agent control was transferred to.
	TargetAgent string `json:"target_agent,omitempty"`
}

// Tool implements the transfer_to_agent functionality.
type Tool struct {
	availableAgents []agent.Info
}

// New creates a new transfer_to_agent tool with the provided agent information.
func New(agents []agent.Info) *Tool {
	return &Tool{availableAgents: agents}
}

func (t *Tool) findAgentInfo(name string) *agent.Info {
	for i := range t.availableAgents {
		if t.availableAgents[i].Name == name {
			return &t.availableAgents[i]
		}
	}
	return nil
}

func (t *Tool) agentNames() []string {
	names := make([]string, len(t.availableAgents))
	for i, info := range t.availableAgents {
		names[i] = info.Name
	}
	return names
}

// Declaration implements the tool.Tool interface.
func (t *Tool) Declaration() *tool.Declaration {
	descriptions := make([]string, 0, len(t.availableAgents))
	for _, info := range t.availableAgents {
		descriptions = append(descriptions, fmt.Sprintf("- %s: %s", info.Name, info.Description))
	}
	return &tool.Declaration{
		Name:        TransferToolName,
		Description: "Transfer control to another agent. This will hand over the conversation to the specified agent.",
		InputSchema: &tool.Schema{
			Type: "object",
			Properties: map[string]*tool.Schema{
				FieldAgentName: {
					Type: "string",
					Description: fmt.Sprintf("Name of the agent to transfer control to.\n\nAvailable agents:\n%s",
						strings.Join(descriptions, "\n")),
				},
			},
			Required: []string{FieldAgentName},
		},
	}
}

// Call records the transfer in the tool context. Once the tool round is
// over the flow hands the current user message to the target.
func (t *Tool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var req Request
	if err := json.Unmarshal(jsonArgs, &req); err != nil {
		return nil, fmt.Errorf("transfer: decode arguments: %w", err)
	}
	if t.findAgentInfo(req.AgentName) == nil {
		return Response{
			Message: fmt.Sprintf("Agent '%s' not found. Available agents: %v", req.AgentName, t.agentNames()),
		}, nil
	}
	tc, ok := agent.ToolContextFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("transfer: no tool context available")
	}
	tc.TransferTo(req.AgentName)
	return Response{
		Success:     true,
		Message:     fmt.Sprintf("Transfer initiated to agent '%s'", req.AgentName),
		TargetAgent: req.AgentName,
	}, nil
}
