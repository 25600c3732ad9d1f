//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-based checkpoint storage implementation
// for graph execution state persistence and recovery.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"trpc.group/trpc-go/trpc-agent-flow/graph"
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

const (
	sqliteCreateCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"seq INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"checkpoint_id TEXT NOT NULL UNIQUE, " +
		"graph_id TEXT NOT NULL, " +
		"parent_id TEXT, " +
		"step INTEGER NOT NULL, " +
		"values_json BLOB NOT NULL, " +
		"next_nodes_json BLOB NOT NULL, " +
		"source TEXT NOT NULL, " +
		"interrupt_kind TEXT, " +
		"interrupt_node TEXT, " +
		"interrupt_value_json BLOB, " +
		"ts INTEGER NOT NULL" +
		")"

	sqliteCreateGraphIndex = "CREATE INDEX IF NOT EXISTS idx_checkpoints_graph " +
		"ON checkpoints (graph_id, seq)"

	sqliteInsertCheckpoint = "INSERT INTO checkpoints (" +
		"checkpoint_id, graph_id, parent_id, step, values_json, next_nodes_json, " +
		"source, interrupt_kind, interrupt_node, interrupt_value_json, ts) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	sqliteColumns = "checkpoint_id, graph_id, parent_id, step, values_json, next_nodes_json, " +
		"source, interrupt_kind, interrupt_node, interrupt_value_json, ts"

	sqliteSelectLatest = "SELECT " + sqliteColumns + " FROM checkpoints " +
		"WHERE graph_id = ? ORDER BY seq DESC LIMIT 1"

	sqliteSelectLatestAtStep = "SELECT " + sqliteColumns + " FROM checkpoints " +
		"WHERE graph_id = ? AND step = ? ORDER BY seq DESC LIMIT 1"

	sqliteSelectByID = "SELECT " + sqliteColumns + " FROM checkpoints WHERE checkpoint_id = ?"

	sqliteSelectByGraph = "SELECT " + sqliteColumns + " FROM checkpoints " +
		"WHERE graph_id = ? ORDER BY seq ASC"

	sqliteDeleteGraph = "DELETE FROM checkpoints WHERE graph_id = ?"
)

// Saver is a SQLite-backed implementation of graph.CheckpointSaver.
// Channel values are stored as JSON; the executor converts them back to
// the schema's field types on resume.
type Saver struct {
	db     *sql.DB
	ownsDB bool
}

// NewSaver creates a new saver using the provided DB.
// The DB must use a SQLite driver. The constructor creates tables if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := db.Exec(sqliteCreateGraphIndex); err != nil {
		return nil, fmt.Errorf("create checkpoints index: %w", err)
	}
	return &Saver{db: db}, nil
}

// Open opens the SQLite database at path with the go-sqlite3 driver and
// returns a saver that closes it on Close.
func Open(path string) (*Saver, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	s, err := NewSaver(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Save inserts cp. Checkpoint IDs are unique.
func (s *Saver) Save(ctx context.Context, cp *graph.Checkpoint) error {
	if cp == nil || cp.ID == "" || cp.GraphID == "" {
		return errors.New("checkpoint and its ID and graph ID are required")
	}
	values, err := json.Marshal(cp.Values)
	if err != nil {
		return fmt.Errorf("marshal channel values: %w", err)
	}
	next, err := json.Marshal(cp.NextNodes)
	if err != nil {
		return fmt.Errorf("marshal next nodes: %w", err)
	}
	var interruptValue []byte
	if cp.InterruptValue != nil {
		if interruptValue, err = json.Marshal(cp.InterruptValue); err != nil {
			return fmt.Errorf("marshal interrupt value: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertCheckpoint,
		cp.ID, cp.GraphID, cp.ParentID, cp.Step, values, next,
		cp.Source, cp.InterruptKind, cp.InterruptNode, interruptValue, cp.Timestamp.UnixNano(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", graph.ErrCheckpointExists, cp.ID)
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	log.Debugf("sqlite checkpoint saver: saved %s (graph %s, step %d)", cp.ID, cp.GraphID, cp.Step)
	return nil
}

// Load returns the newest checkpoint of graphID at step, or the newest
// overall for graph.LatestStep.
func (s *Saver) Load(ctx context.Context, graphID string, step int) (*graph.Checkpoint, error) {
	if step == graph.LatestStep {
		return s.queryOne(ctx, sqliteSelectLatest, graphID)
	}
	return s.queryOne(ctx, sqliteSelectLatestAtStep, graphID, step)
}

// LoadByID returns the checkpoint with the given ID.
func (s *Saver) LoadByID(ctx context.Context, id string) (*graph.Checkpoint, error) {
	return s.queryOne(ctx, sqliteSelectByID, id)
}

// List returns the checkpoints of graphID, oldest first.
func (s *Saver) List(ctx context.Context, graphID string) ([]*graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectByGraph, graphID)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer rows.Close()
	var out []*graph.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// Delete removes every checkpoint of graphID.
func (s *Saver) Delete(ctx context.Context, graphID string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteGraph, graphID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// Close closes the database when the saver opened it.
func (s *Saver) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Saver) queryOne(ctx context.Context, query string, args ...any) (*graph.Checkpoint, error) {
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*graph.Checkpoint, error) {
	var (
		cp                           graph.Checkpoint
		parentID, kind, node         sql.NullString
		values, next, interruptValue []byte
		ts                           int64
	)
	if err := row.Scan(&cp.ID, &cp.GraphID, &parentID, &cp.Step, &values, &next,
		&cp.Source, &kind, &node, &interruptValue, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.ParentID = parentID.String
	cp.InterruptKind = kind.String
	cp.InterruptNode = node.String
	cp.Timestamp = time.Unix(0, ts).UTC()
	if err := json.Unmarshal(values, &cp.Values); err != nil {
		return nil, fmt.Errorf("unmarshal channel values of %s: %w", cp.ID, err)
	}
	if err := json.Unmarshal(next, &cp.NextNodes); err != nil {
		return nil, fmt.Errorf("unmarshal next nodes of %s: %w", cp.ID, err)
	}
	if len(interruptValue) > 0 {
		if err := json.Unmarshal(interruptValue, &cp.InterruptValue); err != nil {
			return nil, fmt.Errorf("unmarshal interrupt value of %s: %w", cp.ID, err)
		}
	}
	if cp.Values == nil {
		cp.Values = map[string]any{}
	}
	return &cp, nil
}
