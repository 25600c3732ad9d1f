//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the YAML configuration of an agent application and
// projects it onto the options of the packages it configures.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-agent-flow/agent/cycleagent"
	"trpc.group/trpc-go/trpc-agent-flow/agent/llmagent"
	"trpc.group/trpc-go/trpc-agent-flow/compaction"
	"trpc.group/trpc-go/trpc-agent-flow/graph"
	"trpc.group/trpc-go/trpc-agent-flow/graph/checkpoint/sqlite"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/runner"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/trace"
)

// Default values of an empty file.
const (
	DefaultMaxToolRounds     = 100
	DefaultChannelBufferSize = 256
)

// ErrInvalid is wrapped by every Validate error.
var ErrInvalid = errors.New("config: invalid")

// Config is the root of the configuration file.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Runner     RunnerConfig     `yaml:"runner"`
	Loop       LoopConfig       `yaml:"loop"`
	Compaction CompactionConfig `yaml:"compaction"`
	Graph      GraphConfig      `yaml:"graph"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RunnerConfig configures the runner and its model-driven agents.
type RunnerConfig struct {
	MaxToolRounds     int  `yaml:"max_tool_rounds"`
	ParallelTools     bool `yaml:"parallel_tools"`
	ChannelBufferSize int  `yaml:"channel_buffer_size"`
}

// LoopConfig configures loop agents.
type LoopConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// CompactionConfig configures history compaction. An interval of zero
// disables it.
type CompactionConfig struct {
	Interval    int `yaml:"interval"`
	OverlapSize int `yaml:"overlap_size"`
}

// GraphConfig configures graph compilation and execution.
type GraphConfig struct {
	RecursionLimit int `yaml:"recursion_limit"`
	MaxConcurrency int `yaml:"max_concurrency"`
	// CheckpointDB is a sqlite file. Empty means no persistence.
	CheckpointDB string `yaml:"checkpoint_db"`
}

// TelemetryConfig configures the OTLP exporters. Empty endpoints disable
// the matching exporter.
type TelemetryConfig struct {
	ServiceName     string `yaml:"service_name"`
	TracesEndpoint  string `yaml:"traces_endpoint"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
	Protocol        string `yaml:"protocol"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: log.LevelInfo, Format: log.FormatConsole},
		Runner: RunnerConfig{
			MaxToolRounds:     DefaultMaxToolRounds,
			ChannelBufferSize: DefaultChannelBufferSize,
		},
		Loop:      LoopConfig{MaxIterations: cycleagent.DefaultMaxIterations},
		Graph:     GraphConfig{RecursionLimit: graph.DefaultRecursionLimit},
		Telemetry: TelemetryConfig{Protocol: itelemetry.ProtocolGRPC},
	}
}

// Load reads path, expands ${VAR} references from the environment, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	switch c.Log.Level {
	case log.LevelDebug, log.LevelInfo, log.LevelWarn, log.LevelError, log.LevelFatal:
	default:
		bad("log.level %q", c.Log.Level)
	}
	if c.Log.Format != log.FormatConsole && c.Log.Format != log.FormatJSON {
		bad("log.format %q", c.Log.Format)
	}
	if c.Runner.MaxToolRounds <= 0 {
		bad("runner.max_tool_rounds must be positive, got %d", c.Runner.MaxToolRounds)
	}
	if c.Runner.ChannelBufferSize < 0 {
		bad("runner.channel_buffer_size must not be negative, got %d", c.Runner.ChannelBufferSize)
	}
	if c.Loop.MaxIterations <= 0 {
		bad("loop.max_iterations must be positive, got %d", c.Loop.MaxIterations)
	}
	if c.Compaction.Interval < 0 {
		bad("compaction.interval must not be negative, got %d", c.Compaction.Interval)
	}
	if c.Compaction.OverlapSize < 0 {
		bad("compaction.overlap_size must not be negative, got %d", c.Compaction.OverlapSize)
	}
	if c.Graph.RecursionLimit <= 0 {
		bad("graph.recursion_limit must be positive, got %d", c.Graph.RecursionLimit)
	}
	if c.Graph.MaxConcurrency < 0 {
		bad("graph.max_concurrency must not be negative, got %d", c.Graph.MaxConcurrency)
	}
	if c.Telemetry.Protocol != itelemetry.ProtocolGRPC && c.Telemetry.Protocol != itelemetry.ProtocolHTTP {
		bad("telemetry.protocol %q", c.Telemetry.Protocol)
	}
	return errors.Join(errs...)
}

// Marshal renders the effective configuration.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyLog configures the default logger.
func (c *Config) ApplyLog() {
	log.SetFormat(c.Log.Format)
	log.SetLevel(c.Log.Level)
}

// AgentOptions returns the options of model-driven agents.
func (c *Config) AgentOptions() []llmagent.Option {
	return []llmagent.Option{
		llmagent.WithMaxToolRounds(c.Runner.MaxToolRounds),
		llmagent.WithParallelTools(c.Runner.ParallelTools),
	}
}

// LoopOptions returns the options of loop agents.
func (c *Config) LoopOptions() []cycleagent.Option {
	return []cycleagent.Option{cycleagent.WithMaxIterations(c.Loop.MaxIterations)}
}

// CompactionConfig returns the compactor configuration for summarizer.
func (c *Config) CompactionConfig(summarizer compaction.Summarizer) compaction.Config {
	return compaction.Config{
		Interval:    c.Compaction.Interval,
		OverlapSize: c.Compaction.OverlapSize,
		Summarizer:  summarizer,
	}
}

// RunnerOptions returns the runner options. A compactor is installed when
// compaction is enabled and summarizer is not nil.
func (c *Config) RunnerOptions(summarizer compaction.Summarizer) ([]runner.Option, error) {
	opts := []runner.Option{runner.WithChannelBufferSize(c.Runner.ChannelBufferSize)}
	if c.Compaction.Interval == 0 || summarizer == nil {
		return opts, nil
	}
	compactor, err := compaction.New(c.CompactionConfig(summarizer))
	if err != nil {
		return nil, err
	}
	return append(opts, runner.WithCompactor(compactor)), nil
}

// GraphCompileOptions returns the options of StateGraph.Compile.
func (c *Config) GraphCompileOptions() []graph.CompileOption {
	return []graph.CompileOption{graph.WithRecursionLimit(c.Graph.RecursionLimit)}
}

// GraphExecutorOptions returns the executor options. When a checkpoint DB
// is configured it is opened, and the returned close function releases it.
func (c *Config) GraphExecutorOptions() ([]graph.ExecutorOption, func() error, error) {
	opts := []graph.ExecutorOption{graph.WithMaxConcurrency(c.Graph.MaxConcurrency)}
	if c.Graph.CheckpointDB == "" {
		return opts, func() error { return nil }, nil
	}
	saver, err := sqlite.Open(c.Graph.CheckpointDB)
	if err != nil {
		return nil, nil, err
	}
	return append(opts, graph.WithCheckpointSaver(saver)), saver.Close, nil
}

// StartTelemetry starts the configured exporters. The returned function
// flushes and stops them.
func (c *Config) StartTelemetry(ctx context.Context) (func() error, error) {
	var cleanups []func() error
	shutdown := func() error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			errs = append(errs, cleanups[i]())
		}
		return errors.Join(errs...)
	}
	if c.Telemetry.TracesEndpoint != "" {
		opts := []trace.Option{
			trace.WithEndpoint(c.Telemetry.TracesEndpoint),
			trace.WithProtocol(c.Telemetry.Protocol),
		}
		if c.Telemetry.ServiceName != "" {
			opts = append(opts, trace.WithServiceName(c.Telemetry.ServiceName))
		}
		clean, err := trace.Start(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("start traces: %w", err)
		}
		cleanups = append(cleanups, clean)
	}
	if c.Telemetry.MetricsEndpoint != "" {
		opts := []metric.Option{
			metric.WithEndpoint(c.Telemetry.MetricsEndpoint),
			metric.WithProtocol(c.Telemetry.Protocol),
		}
		if c.Telemetry.ServiceName != "" {
			opts = append(opts, metric.WithServiceName(c.Telemetry.ServiceName))
		}
		clean, err := metric.Start(ctx, opts...)
		if err != nil {
			_ = shutdown()
			return nil, fmt.Errorf("start metrics: %w", err)
		}
		cleanups = append(cleanups, clean)
	}
	return shutdown, nil
}
