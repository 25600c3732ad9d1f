//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const (
	// conversationPlaceholder is replaced by the transcript.
	conversationPlaceholder = "{conversation_history}"
	// maxWordsPlaceholder is replaced by the word budget.
	maxWordsPlaceholder = "{max_summary_words}"

	// AuthorSystem authors summary events.
	AuthorSystem = "system"
	// InvocationID is the invocation ID of summary events.
	InvocationID = "compaction"

	authorUnknown = "unknown"
)

func defaultPrompt(maxWords int) string {
	prompt := "The following is a conversation history between a user and an AI agent. " +
		"Please summarize the conversation, focusing on key information and decisions made, " +
		"as well as any unresolved questions or tasks. " +
		"The summary should be concise and capture the essence of the interaction."
	if maxWords > 0 {
		prompt += " Keep the summary within " + maxWordsPlaceholder + " words."
	}
	return prompt + "\n\n" + conversationPlaceholder
}

// Summarizer turns a window of events into one summary event carrying
// Actions.Compaction. A nil event means there was nothing to summarize.
type Summarizer interface {
	Summarize(ctx context.Context, events []event.Event) (*event.Event, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, events []event.Event) (*event.Event, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, events []event.Event) (*event.Event, error) {
	return f(ctx, events)
}

// SummarizerOption configures a ModelSummarizer.
type SummarizerOption func(*ModelSummarizer)

// WithPrompt sets the prompt template. It must contain
// {conversation_history}.
func WithPrompt(prompt string) SummarizerOption {
	return func(s *ModelSummarizer) {
		if prompt != "" {
			s.prompt = prompt
		}
	}
}

// WithMaxSummaryWords asks the model to stay within maxWords words.
func WithMaxSummaryWords(maxWords int) SummarizerOption {
	return func(s *ModelSummarizer) {
		if maxWords > 0 {
			s.maxWords = maxWords
		}
	}
}

// ModelSummarizer summarizes events with a model.
type ModelSummarizer struct {
	model    model.Model
	prompt   string
	maxWords int
}

// NewModelSummarizer creates a summarizer backed by m.
func NewModelSummarizer(m model.Model, opts ...SummarizerOption) *ModelSummarizer {
	s := &ModelSummarizer{model: m}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompt == "" {
		s.prompt = defaultPrompt(s.maxWords)
	}
	return s
}

// Summarize implements Summarizer.
func (s *ModelSummarizer) Summarize(ctx context.Context, events []event.Event) (*event.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	if s.model == nil {
		return nil, errors.New("compaction: no model configured for summarization")
	}
	transcript := Transcript(events)
	if transcript == "" {
		return nil, nil
	}

	prompt := strings.Replace(s.prompt, conversationPlaceholder, transcript, 1)
	if s.maxWords > 0 {
		prompt = strings.Replace(prompt, maxWordsPlaceholder, fmt.Sprintf("%d", s.maxWords), 1)
	} else {
		prompt = strings.Replace(prompt, maxWordsPlaceholder, "", 1)
	}

	summary, err := s.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		return nil, fmt.Errorf("compaction: model returned an empty summary (input_chars=%d)", len(transcript))
	}
	return NewSummaryEvent(events, summary), nil
}

func (s *ModelSummarizer) generate(ctx context.Context, prompt string) (string, error) {
	req := &model.Request{
		Messages:         []model.Message{model.NewUserMessage(prompt)},
		GenerationConfig: model.GenerationConfig{Stream: false},
	}
	ch, err := s.model.GenerateContent(ctx, req)
	if err != nil {
		return "", fmt.Errorf("compaction: generate summary: %w", err)
	}
	var b strings.Builder
	for rsp := range ch {
		if rsp == nil {
			continue
		}
		if rsp.Error != nil {
			return "", fmt.Errorf("compaction: model error: %s", rsp.Error.Message)
		}
		if rsp.IsPartial {
			continue
		}
		b.WriteString(rsp.Text())
	}
	return strings.TrimSpace(b.String()), nil
}

// Transcript renders events as "author: text" lines. Earlier summaries are
// rendered with their content. Events without text are skipped.
func Transcript(events []event.Event) string {
	var lines []string
	for i := range events {
		e := &events[i]
		author := e.Author
		if author == "" {
			author = authorUnknown
		}
		if c := e.Actions.Compaction; c != nil {
			lines = append(lines, fmt.Sprintf("%s: %s", author, strings.TrimSpace(c.CompactedContent)))
			continue
		}
		if e.Response == nil || e.IsPartial || e.Error != nil {
			continue
		}
		if text := strings.TrimSpace(e.Text()); text != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", author, text))
		}
	}
	return strings.Join(lines, "\n")
}

// NewSummaryEvent builds the system event that replaces events with summary.
func NewSummaryEvent(events []event.Event, summary string) *event.Event {
	ids := make([]string, len(events))
	for i := range events {
		ids[i] = events[i].ID
	}
	evt := event.New(InvocationID, AuthorSystem, event.WithActions(event.Actions{
		Compaction: &event.Compaction{
			StartTimestamp:   events[0].Timestamp,
			EndTimestamp:     events[len(events)-1].Timestamp,
			CompactedContent: summary,
			EventIDs:         ids,
		},
	}))
	evt.Object = model.ObjectTypeCompaction
	evt.Done = true
	return evt
}
