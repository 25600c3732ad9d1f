//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-flow/graph"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

func openSaver(t *testing.T) *Saver {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaverRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openSaver(t)

	first := graph.NewCheckpoint("g", "", 0, map[string]any{"name": "x"}, []string{"a"}, graph.CheckpointSourceInput)
	second := graph.NewCheckpoint("g", first.ID, 1, map[string]any{"name": "y", "n": 2}, []string{"b", "c"}, graph.CheckpointSourceLoop)
	paused := graph.NewCheckpoint("g", second.ID, 1, map[string]any{"name": "y"}, []string{"b"}, graph.CheckpointSourceInterrupt)
	paused.InterruptKind = graph.InterruptNode
	paused.InterruptNode = "b"
	paused.InterruptValue = map[string]any{"question": "ok?"}
	for _, cp := range []*graph.Checkpoint{first, second, paused} {
		require.NoError(t, s.Save(ctx, cp))
	}

	latest, err := s.Load(ctx, "g", graph.LatestStep)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, paused.ID, latest.ID)
	assert.Equal(t, second.ID, latest.ParentID)
	assert.Equal(t, graph.InterruptNode, latest.InterruptKind)
	assert.Equal(t, "b", latest.InterruptNode)
	assert.Equal(t, map[string]any{"question": "ok?"}, latest.InterruptValue)
	assert.Equal(t, paused.Timestamp.UnixNano(), latest.Timestamp.UnixNano())

	loop, err := s.LoadByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, loop.NextNodes)
	// Values come back as JSON shapes.
	assert.Equal(t, map[string]any{"name": "y", "n": float64(2)}, loop.Values)

	atZero, err := s.Load(ctx, "g", 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, atZero.ID)

	missing, err := s.Load(ctx, "other", graph.LatestStep)
	require.NoError(t, err)
	assert.Nil(t, missing)
	none, err := s.LoadByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, none)

	list, err := s.List(ctx, "g")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, paused.ID, list[2].ID)
}

func TestSaverIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := openSaver(t)
	cp := graph.NewCheckpoint("g", "", 0, nil, nil, graph.CheckpointSourceInput)
	require.NoError(t, s.Save(ctx, cp))
	assert.ErrorIs(t, s.Save(ctx, cp), graph.ErrCheckpointExists)
	assert.Error(t, s.Save(ctx, &graph.Checkpoint{ID: "no-graph"}))
}

func TestSaverDelete(t *testing.T) {
	ctx := context.Background()
	s := openSaver(t)
	require.NoError(t, s.Save(ctx, graph.NewCheckpoint("g", "", 0, nil, nil, graph.CheckpointSourceInput)))
	require.NoError(t, s.Save(ctx, graph.NewCheckpoint("keep", "", 0, nil, nil, graph.CheckpointSourceInput)))

	require.NoError(t, s.Delete(ctx, "g"))
	list, err := s.List(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, list)
	kept, err := s.List(ctx, "keep")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestNewSaverWithSharedDB(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	defer db.Close()

	s, err := NewSaver(db)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	// The caller owns the DB.
	require.NoError(t, db.Ping())

	_, err = NewSaver(nil)
	assert.Error(t, err)
}

func TestResumeFromSQLiteIsDeterministic(t *testing.T) {
	ctx := context.Background()
	schema := graph.MessagesStateSchema().
		AddField("count", graph.StateField{Type: reflect.TypeOf(0), Reducer: func(existing, update any) any {
			n, _ := existing.(int)
			return n + update.(int)
		}})
	build := func(interrupt bool) *graph.Graph {
		sg := graph.NewStateGraph(schema).
			AddNode("greet", func(ctx context.Context, state graph.State) (any, error) {
				return graph.State{
					graph.StateKeyMessages: []model.Message{model.NewAssistantMessage("hello")},
					"count":                1,
				}, nil
			}).
			AddNode("count", func(ctx context.Context, state graph.State) (any, error) {
				msgs := state[graph.StateKeyMessages].([]model.Message)
				return graph.State{"count": len(msgs)}, nil
			}).
			SetEntryPoint("greet").
			AddEdge("greet", "count")
		if interrupt {
			sg.WithInterruptBefore("count")
		}
		g, err := sg.Compile()
		require.NoError(t, err)
		return g
	}
	input := graph.State{graph.StateKeyMessages: []model.Message{model.NewUserMessage("hi")}}

	plain, err := graph.NewExecutor(build(false))
	require.NoError(t, err)
	straight, err := plain.Invoke(ctx, input)
	require.NoError(t, err)

	s := openSaver(t)
	e, err := graph.NewExecutor(build(true), graph.WithCheckpointSaver(s))
	require.NoError(t, err)
	res, err := e.Invoke(ctx, input, graph.WithGraphID("sql"))
	require.NoError(t, err)
	require.Equal(t, graph.StatusInterrupted, res.Status)

	res, err = e.Invoke(ctx, nil, graph.WithGraphID("sql"))
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, straight.State, res.State)
	assert.Equal(t, 3, res.State["count"])
}
