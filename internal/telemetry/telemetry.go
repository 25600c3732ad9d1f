//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the span names, attribute keys and span helpers
// shared by the runner, the flows and the graph executor.
package telemetry

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

// telemetry service constants.
const (
	ServiceName      = "agentflow"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-agent"
	InstrumentName   = "trpc.agent.flow"

	SpanNameInvocation        = "invocation"
	SpanNameCallLLM           = "call_llm"
	SpanNamePrefixExecuteTool = "execute_tool"
	SpanNameGraphStep         = "graph.step"
	SpanNamePrefixGraphNode   = "graph.node"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attributes constants.
var (
	KeyEventID      = "trpc.go.agent.event_id"
	KeySessionID    = "trpc.go.agent.session_id"
	KeyInvocationID = "trpc.go.agent.invocation_id"
	KeyAgentName    = "trpc.go.agent.agent_name"
	KeyBranch       = "trpc.go.agent.branch"
	KeyLLMRequest   = "trpc.go.agent.llm_request"
	KeyLLMResponse  = "trpc.go.agent.llm_response"
	KeyToolCallID   = "trpc.go.agent.tool_id"
	KeyToolArgs     = "trpc.go.agent.tool_call_args"
	KeyToolResponse = "trpc.go.agent.tool_response"
	KeyGraphStep    = "trpc.go.agent.graph.step"
	KeyGraphNode    = "trpc.go.agent.graph.node"
	KeyGraphNodes   = "trpc.go.agent.graph.active_nodes"
)

// NewExecuteToolSpanName returns "execute_tool <name>".
func NewExecuteToolSpanName(toolName string) string {
	return fmt.Sprintf("%s %s", SpanNamePrefixExecuteTool, toolName)
}

// NewGraphNodeSpanName returns "graph.node <id>".
func NewGraphNodeSpanName(nodeID string) string {
	return fmt.Sprintf("%s %s", SpanNamePrefixGraphNode, nodeID)
}

// TraceInvocation annotates the root span of a runner invocation.
func TraceInvocation(span trace.Span, invocationID, sessionID, agentName string) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "trpc.go.agent"),
		attribute.String(KeyInvocationID, invocationID),
		attribute.String(KeySessionID, sessionID),
		attribute.String(KeyAgentName, agentName),
	)
}

// TraceToolCall traces the invocation of a tool call.
func TraceToolCall(span trace.Span, declaration *tool.Declaration, callID string, args []byte, rspEvent *event.Event) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "trpc.go.agent"),
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", declaration.Name),
		attribute.String("gen_ai.tool.description", declaration.Description),
		attribute.String(KeyToolCallID, callID),
		attribute.String(KeyToolArgs, string(args)),
	)
	if rspEvent == nil {
		return
	}
	span.SetAttributes(attribute.String(KeyEventID, rspEvent.ID))
	span.SetAttributes(attribute.String(KeyToolResponse, marshalOrPlaceholder(rspEvent.Response)))
}

// TraceCallLLM traces the invocation of an LLM call.
func TraceCallLLM(span trace.Span, invocationID, sessionID, modelName string,
	req *model.Request, rsp *model.Response, eventID string) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "trpc.go.agent"),
		attribute.String(KeyInvocationID, invocationID),
		attribute.String(KeySessionID, sessionID),
		attribute.String(KeyEventID, eventID),
		attribute.String("gen_ai.request.model", modelName),
		attribute.String(KeyLLMRequest, marshalOrPlaceholder(req)),
		attribute.String(KeyLLMResponse, marshalOrPlaceholder(rsp)),
	)
}

// TraceGraphStep annotates a superstep span.
func TraceGraphStep(span trace.Span, step int, activeNodes []string) {
	span.SetAttributes(
		attribute.Int(KeyGraphStep, step),
		attribute.StringSlice(KeyGraphNodes, activeNodes),
	)
}

func marshalOrPlaceholder(v any) string {
	bts, err := json.Marshal(v)
	if err != nil {
		return "<not json serializable>"
	}
	return string(bts)
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Note the use of insecure transport here. TLS is recommended in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
