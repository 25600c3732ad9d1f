//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package model defines the narrow contract between the agent runtime and a
// language model: a request goes in, a stream of partial or final responses
// comes out.
package model

import "context"

// Model is the interface that all language models must implement.
type Model interface {
	// GenerateContent generates content from the given request.
	// When request.Stream is true the channel may carry partial responses
	// (IsPartial) before the final one. The channel is closed when the
	// generation is complete. Errors that occur after the stream started are
	// reported through Response.Error.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	// Name is the name of the model.
	Name string
}
