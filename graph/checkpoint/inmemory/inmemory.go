//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory checkpoint storage implementation
// for graph execution state persistence and recovery.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-agent-flow/graph"
)

// Saver provides an in-memory implementation of graph.CheckpointSaver.
// This is suitable for testing and single-process use.
type Saver struct {
	mu     sync.RWMutex
	graphs map[string][]*graph.Checkpoint // graphID -> checkpoints, oldest first
	byID   map[string]*graph.Checkpoint
	// maxPerGraph limits the checkpoints kept per graph; 0 keeps all.
	maxPerGraph int
}

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{
		graphs: make(map[string][]*graph.Checkpoint),
		byID:   make(map[string]*graph.Checkpoint),
	}
}

// WithMaxCheckpointsPerGraph keeps at most max checkpoints per graph,
// dropping the oldest.
func (s *Saver) WithMaxCheckpointsPerGraph(max int) *Saver {
	s.maxPerGraph = max
	return s
}

// Save stores a copy of cp.
func (s *Saver) Save(ctx context.Context, cp *graph.Checkpoint) error {
	if cp == nil || cp.ID == "" || cp.GraphID == "" {
		return fmt.Errorf("checkpoint and its ID and graph ID are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[cp.ID]; ok {
		return fmt.Errorf("%w: %s", graph.ErrCheckpointExists, cp.ID)
	}
	stored := cp.Copy()
	s.byID[stored.ID] = stored
	list := append(s.graphs[stored.GraphID], stored)
	if s.maxPerGraph > 0 && len(list) > s.maxPerGraph {
		for _, old := range list[:len(list)-s.maxPerGraph] {
			delete(s.byID, old.ID)
		}
		list = append([]*graph.Checkpoint(nil), list[len(list)-s.maxPerGraph:]...)
	}
	s.graphs[stored.GraphID] = list
	return nil
}

// Load returns the newest checkpoint of graphID at step, or the newest
// overall for graph.LatestStep.
func (s *Saver) Load(ctx context.Context, graphID string, step int) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.graphs[graphID]
	for i := len(list) - 1; i >= 0; i-- {
		if step == graph.LatestStep || list[i].Step == step {
			return list[i].Copy(), nil
		}
	}
	return nil, nil
}

// LoadByID returns the checkpoint with the given ID.
func (s *Saver) LoadByID(ctx context.Context, id string) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Copy(), nil
}

// List returns the checkpoints of graphID, oldest first.
func (s *Saver) List(ctx context.Context, graphID string) ([]*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.graphs[graphID]
	out := make([]*graph.Checkpoint, 0, len(list))
	for _, cp := range list {
		out = append(out, cp.Copy())
	}
	return out, nil
}

// Delete removes every checkpoint of graphID.
func (s *Saver) Delete(ctx context.Context, graphID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cp := range s.graphs[graphID] {
		delete(s.byID, cp.ID)
	}
	delete(s.graphs, graphID)
	return nil
}

// Close implements graph.CheckpointSaver.
func (s *Saver) Close() error { return nil }
