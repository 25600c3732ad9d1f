//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import "trpc.group/trpc-go/trpc-agent-flow/tool"

// Role is the author role of a message.
type Role string

// Role constants.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Message is one entry of the conversation sent to or received from a model.
type Message struct {
	Role      Role       `json:"role"`                 // The role of the message author
	Content   string     `json:"content"`              // The message content
	ToolID    string     `json:"tool_id,omitempty"`    // Used by tool response
	ToolName  string     `json:"tool_name,omitempty"`  // Used by tool response
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // Optional tool calls for the message
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool result message answering the call toolID.
func NewToolMessage(toolID, toolName, content string) Message {
	return Message{Role: RoleTool, ToolID: toolID, ToolName: toolName, Content: content}
}

// GenerationConfig contains the generation parameters.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`
	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`
	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`
	// Stream indicates whether to stream the response.
	Stream bool `json:"stream"`
	// Stop sequences where the model will stop generating further tokens.
	Stop []string `json:"stop,omitempty"`
}

// Request is the request sent to a model.
type Request struct {
	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// GenerationConfig contains the generation parameters.
	GenerationConfig `json:",inline"`

	// Tools are not serialized, a model client converts the declarations.
	Tools map[string]tool.Tool `json:"-"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	// Type of the tool. Currently, only `function` is supported.
	Type string `json:"type"`
	// Function holds the name and the json encoded arguments.
	Function FunctionDefinitionParam `json:"function,omitempty"`
	// ID of the tool call returned by the model.
	ID string `json:"id,omitempty"`
}

// FunctionDefinitionParam is the function part of a tool call.
type FunctionDefinitionParam struct {
	// Name of the function to be called.
	Name string `json:"name"`
	// Description of what the function does.
	Description string `json:"description,omitempty"`
	// Arguments to pass to the function, json-encoded.
	Arguments []byte `json:"arguments,omitempty"`
}
