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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponse_ToolHelpers(t *testing.T) {
	rsp := &Response{Choices: []Choice{{
		Message: Message{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "c1", Type: "function", Function: FunctionDefinitionParam{Name: "a", Arguments: []byte(`{}`)}},
				{ID: "c2", Type: "function", Function: FunctionDefinitionParam{Name: "b"}},
			},
		},
	}}}
	assert.True(t, rsp.IsToolCallResponse())
	assert.False(t, rsp.IsToolResultResponse())
	calls := rsp.ToolCalls()
	assert.Len(t, calls, 2)
	assert.Equal(t, "b", calls[1].Function.Name)

	result := &Response{Choices: []Choice{{Message: NewToolMessage("c1", "a", "ok")}}}
	assert.True(t, result.IsToolResultResponse())
	assert.False(t, result.IsToolCallResponse())
}

func TestResponse_CloneIsDeep(t *testing.T) {
	rsp := &Response{
		Usage: &Usage{TotalTokens: 3},
		Error: &ResponseError{Type: "t", Message: "m"},
		Choices: []Choice{{Message: Message{ToolCalls: []ToolCall{
			{ID: "c1", Function: FunctionDefinitionParam{Arguments: []byte(`{"a":1}`)}},
		}}}},
	}
	clone := rsp.Clone()
	clone.Usage.TotalTokens = 9
	clone.Error.Message = "changed"
	clone.Choices[0].Message.ToolCalls[0].Function.Arguments[0] = 'x'

	assert.Equal(t, 3, rsp.Usage.TotalTokens)
	assert.Equal(t, "m", rsp.Error.Message)
	assert.Equal(t, `{"a":1}`, string(rsp.Choices[0].Message.ToolCalls[0].Function.Arguments))
	assert.Nil(t, (*Response)(nil).Clone())
}

func TestResponse_Text(t *testing.T) {
	assert.Equal(t, "", (*Response)(nil).Text())
	assert.Equal(t, "hi", NewTextResponse("hi").Text())
	chunk := &Response{IsPartial: true, Choices: []Choice{{Delta: Message{Content: "h"}}}}
	assert.Equal(t, "h", chunk.Text())
}

func TestRole_IsValid(t *testing.T) {
	assert.True(t, RoleTool.IsValid())
	assert.False(t, Role("robot").IsValid())
}
