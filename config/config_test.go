//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-flow/compaction"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/graph"
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

const sample = `
log:
  level: debug
  format: json
runner:
  max_tool_rounds: 8
  parallel_tools: true
loop:
  max_iterations: 3
compaction:
  interval: 2
  overlap_size: 1
graph:
  recursion_limit: 12
  max_concurrency: 4
  checkpoint_db: ${FLOW_TEST_DB}
telemetry:
  service_name: flow-test
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadExpandsEnvAndKeepsDefaults(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cp.db")
	t.Setenv("FLOW_TEST_DB", db)

	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	assert.Equal(t, log.LevelDebug, cfg.Log.Level)
	assert.Equal(t, log.FormatJSON, cfg.Log.Format)
	assert.Equal(t, 8, cfg.Runner.MaxToolRounds)
	assert.True(t, cfg.Runner.ParallelTools)
	assert.Equal(t, DefaultChannelBufferSize, cfg.Runner.ChannelBufferSize)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, CompactionConfig{Interval: 2, OverlapSize: 1}, cfg.Compaction)
	assert.Equal(t, GraphConfig{RecursionLimit: 12, MaxConcurrency: 4, CheckpointDB: db}, cfg.Graph)
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)
	assert.Equal(t, "flow-test", cfg.Telemetry.ServiceName)
}

func TestEmptyDocumentIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("runner: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Runner.MaxToolRounds = 0
	cfg.Loop.MaxIterations = -1
	cfg.Compaction.OverlapSize = -2
	cfg.Graph.RecursionLimit = 0
	cfg.Graph.MaxConcurrency = -1
	cfg.Telemetry.Protocol = "udp"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	for _, field := range []string{
		"log.level", "log.format", "runner.max_tool_rounds", "loop.max_iterations",
		"compaction.overlap_size", "graph.recursion_limit", "graph.max_concurrency",
		"telemetry.protocol",
	} {
		assert.Contains(t, err.Error(), field)
	}
	assert.NoError(t, Default().Validate())
}

func TestMarshalRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Graph.RecursionLimit = 7
	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "recursion_limit: 7")

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestProjections(t *testing.T) {
	cfg := Default()
	cfg.Graph.RecursionLimit = 1
	assert.Len(t, cfg.AgentOptions(), 2)
	assert.Len(t, cfg.LoopOptions(), 1)

	// The compiled graph honours the configured limit.
	loop := graph.NewStateGraph(nil).
		AddNode("spin", func(ctx context.Context, state graph.State) (any, error) { return nil, nil }).
		SetEntryPoint("spin").
		AddEdge("spin", "spin")
	g, err := loop.Compile(cfg.GraphCompileOptions()...)
	require.NoError(t, err)
	assert.Equal(t, 1, g.RecursionLimit())

	summarizer := compaction.SummarizerFunc(func(ctx context.Context, events []event.Event) (*event.Event, error) {
		return nil, nil
	})
	cc := cfg.CompactionConfig(summarizer)
	assert.Equal(t, 0, cc.Interval)
	assert.NotNil(t, cc.Summarizer)

	opts, err := cfg.RunnerOptions(summarizer)
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	cfg.Compaction.Interval = 3
	opts, err = cfg.RunnerOptions(summarizer)
	require.NoError(t, err)
	assert.Len(t, opts, 2)
	opts, err = cfg.RunnerOptions(nil)
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestGraphExecutorOptionsOpensCheckpointDB(t *testing.T) {
	cfg := Default()
	opts, closeFn, err := cfg.GraphExecutorOptions()
	require.NoError(t, err)
	require.NoError(t, closeFn())
	e, err := graph.NewExecutor(graph.NewStateGraph(nil).
		AddNode("a", func(context.Context, graph.State) (any, error) { return nil, nil }).
		SetEntryPoint("a").MustCompile(), opts...)
	require.NoError(t, err)
	assert.Nil(t, e.CheckpointSaver())

	cfg.Graph.CheckpointDB = filepath.Join(t.TempDir(), "cp.db")
	opts, closeFn, err = cfg.GraphExecutorOptions()
	require.NoError(t, err)
	defer closeFn()
	e, err = graph.NewExecutor(graph.NewStateGraph(nil).
		AddNode("a", func(context.Context, graph.State) (any, error) { return nil, nil }).
		SetEntryPoint("a").MustCompile(), opts...)
	require.NoError(t, err)
	require.NotNil(t, e.CheckpointSaver())

	res, err := e.Invoke(context.Background(), nil, graph.WithGraphID("cfg"))
	require.NoError(t, err)
	list, err := e.CheckpointSaver().List(context.Background(), "cfg")
	require.NoError(t, err)
	assert.NotEmpty(t, list)
	assert.Equal(t, res.CheckpointID, list[len(list)-1].ID)
}

func TestApplyLog(t *testing.T) {
	before := log.GetLevel()
	defer log.SetLevel(before)

	cfg := Default()
	cfg.Log.Level = log.LevelWarn
	cfg.ApplyLog()
	assert.Equal(t, "warn", log.GetLevel())
}

func TestStartTelemetryWithoutEndpoints(t *testing.T) {
	shutdown, err := Default().StartTelemetry(context.Background())
	require.NoError(t, err)
	assert.NoError(t, shutdown())
}
