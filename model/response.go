//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"time"
)

// Error types reported in Response.Error.Type by model clients.
const (
	ErrorTypeStreamError = "stream_error"
	ErrorTypeAPIError    = "api_error"
)

// Object types carried by responses and events.
const (
	// ObjectTypeError is the object type for error responses.
	ObjectTypeError = "error"
	// ObjectTypeToolResponse is the object type for tool results.
	ObjectTypeToolResponse = "tool.response"
	// ObjectTypeChatCompletionChunk is a streaming chunk.
	ObjectTypeChatCompletionChunk = "chat.completion.chunk"
	// ObjectTypeChatCompletion is a complete model answer.
	ObjectTypeChatCompletion = "chat.completion"
	// ObjectTypeTransfer marks an agent transfer notice.
	ObjectTypeTransfer = "agent.transfer"
	// ObjectTypeRunnerCompletion marks the end of a runner invocation.
	ObjectTypeRunnerCompletion = "runner.completion"
	// ObjectTypeStateUpdate marks a pure state update.
	ObjectTypeStateUpdate = "state.update"
	// ObjectTypeCompaction marks a compaction summary.
	ObjectTypeCompaction = "session.compaction"
	// ObjectTypeToolConfirmation marks a pending tool confirmation.
	ObjectTypeToolConfirmation = "tool.confirmation"
	// ObjectTypeLimitReached marks a bounded loop that stopped at its limit.
	ObjectTypeLimitReached = "flow.limit_reached"
)

// Choice is one completion choice.
type Choice struct {
	Index int `json:"index"`
	// Message is the complete message, set for non-streaming responses.
	Message Message `json:"message,omitempty"`
	// Delta is the incremental message, set for streaming chunks.
	Delta Message `json:"delta,omitempty"`
	// FinishReason is why the model stopped.
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage is token accounting for a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is what a model returns, and the payload carried by events.
type Response struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	Created   int64          `json:"created"`
	Model     string         `json:"model"`
	Choices   []Choice       `json:"choices"`
	Usage     *Usage         `json:"usage,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Done      bool           `json:"done"`
	IsPartial bool           `json:"is_partial"`
}

// ResponseError describes a failed response.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Error implements error.
func (e *ResponseError) Error() string {
	if e == nil {
		return ""
	}
	return e.Type + ": " + e.Message
}

// Clone returns a copy of rsp that shares no mutable slices with it.
func (rsp *Response) Clone() *Response {
	if rsp == nil {
		return nil
	}
	clone := *rsp
	if rsp.Choices != nil {
		clone.Choices = make([]Choice, len(rsp.Choices))
		for i, c := range rsp.Choices {
			c.Message = cloneMessage(c.Message)
			c.Delta = cloneMessage(c.Delta)
			clone.Choices[i] = c
		}
	}
	if rsp.Usage != nil {
		u := *rsp.Usage
		clone.Usage = &u
	}
	if rsp.Error != nil {
		e := *rsp.Error
		clone.Error = &e
	}
	return &clone
}

func cloneMessage(m Message) Message {
	if m.ToolCalls == nil {
		return m
	}
	calls := make([]ToolCall, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		if tc.Function.Arguments != nil {
			tc.Function.Arguments = append([]byte(nil), tc.Function.Arguments...)
		}
		calls[i] = tc
	}
	m.ToolCalls = calls
	return m
}

// IsToolCallResponse reports whether the response requests tool calls.
func (rsp *Response) IsToolCallResponse() bool {
	if rsp == nil {
		return false
	}
	for _, choice := range rsp.Choices {
		if len(choice.Message.ToolCalls) > 0 {
			return true
		}
	}
	return false
}

// IsToolResultResponse reports whether the response carries tool results.
func (rsp *Response) IsToolResultResponse() bool {
	if rsp == nil {
		return false
	}
	for _, choice := range rsp.Choices {
		if choice.Message.ToolID != "" {
			return true
		}
	}
	return false
}

// ToolCalls returns all tool calls of the response in order.
func (rsp *Response) ToolCalls() []ToolCall {
	if rsp == nil {
		return nil
	}
	var calls []ToolCall
	for _, choice := range rsp.Choices {
		calls = append(calls, choice.Message.ToolCalls...)
	}
	return calls
}

// Text returns the content of the first choice, preferring the message over
// the delta.
func (rsp *Response) Text() string {
	if rsp == nil || len(rsp.Choices) == 0 {
		return ""
	}
	if rsp.Choices[0].Message.Content != "" {
		return rsp.Choices[0].Message.Content
	}
	return rsp.Choices[0].Delta.Content
}

// NewTextResponse builds a complete assistant response with a single choice.
func NewTextResponse(text string) *Response {
	return &Response{
		Object:    ObjectTypeChatCompletion,
		Created:   time.Now().Unix(),
		Timestamp: time.Now(),
		Done:      true,
		Choices: []Choice{{
			Index:   0,
			Message: NewAssistantMessage(text),
		}},
	}
}
