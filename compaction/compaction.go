//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package compaction bounds the history a model sees by replacing older
// session events with a summary event.
//
// Every Interval invocations the Compactor summarizes the effective history
// except its newest OverlapSize events and appends the summary through the
// session service. Request building then shows the summary in place of the
// events it covers.
package compaction

import (
	"context"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/session"
)

const authorUser = "user"

// ErrInvalidConfig is returned by New for an unusable configuration.
var ErrInvalidConfig = errors.New("compaction: invalid config")

// Config configures a Compactor.
type Config struct {
	// Interval is the number of invocations between compactions.
	Interval int
	// OverlapSize is the number of newest events that are never compacted.
	OverlapSize int
	// Summarizer produces the summary event.
	Summarizer Summarizer
}

// Compactor compacts session histories.
type Compactor struct {
	cfg Config
}

// New validates cfg and returns a Compactor.
func New(cfg Config) (*Compactor, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidConfig, cfg.Interval)
	}
	if cfg.OverlapSize < 0 {
		return nil, fmt.Errorf("%w: overlap size must not be negative, got %d", ErrInvalidConfig, cfg.OverlapSize)
	}
	if cfg.Summarizer == nil {
		return nil, fmt.Errorf("%w: summarizer is required", ErrInvalidConfig)
	}
	return &Compactor{cfg: cfg}, nil
}

// Config returns the configuration of the compactor.
func (c *Compactor) Config() Config {
	return c.cfg
}

// InvocationCount is the number of user-authored events in events.
func InvocationCount(events []event.Event) int {
	n := 0
	for i := range events {
		if events[i].Author == authorUser {
			n++
		}
	}
	return n
}

// Window returns the events of the effective history that a compaction
// would replace: all but the newest overlap events. It is empty when there
// is nothing to compact.
func Window(events []event.Event, overlap int) []event.Event {
	effective := event.ApplyCompactions(events)
	if len(effective) <= overlap {
		return nil
	}
	return effective[:len(effective)-overlap]
}

// MaybeCompact compacts sess when its invocation count is a multiple of
// the interval. It returns the appended summary event, or nil when nothing
// was compacted.
func (c *Compactor) MaybeCompact(ctx context.Context, svc session.Service, sess *session.Session) (*event.Event, error) {
	if sess == nil || svc == nil {
		return nil, nil
	}
	events := sess.GetEvents()
	count := InvocationCount(events)
	if count == 0 || count%c.cfg.Interval != 0 {
		return nil, nil
	}
	window := Window(events, c.cfg.OverlapSize)
	if len(window) == 0 {
		log.Debugf("compaction: session %s has nothing to compact", sess.ID)
		return nil, nil
	}

	summary, err := c.cfg.Summarizer.Summarize(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("compaction: summarize session %s: %w", sess.ID, err)
	}
	if summary == nil {
		return nil, nil
	}
	if summary.Actions.Compaction == nil {
		return nil, fmt.Errorf("compaction: summarizer returned event %s without compaction", summary.ID)
	}
	if err := svc.AppendEvent(ctx, sess, summary); err != nil {
		return nil, fmt.Errorf("compaction: append summary to session %s: %w", sess.ID, err)
	}
	log.Debugf("compaction: session %s: %d events replaced by summary %s", sess.ID, len(window), summary.ID)
	return summary, nil
}
