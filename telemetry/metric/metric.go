//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metric bootstraps OpenTelemetry metrics and owns the counters
// recorded by agent runs.
package metric

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
)

// Instrument names.
const (
	NameModelCalls        = "agentflow.model.calls"
	NameToolCalls         = "agentflow.tool.calls"
	NameGraphSteps        = "agentflow.graph.steps"
	NameLimitReached      = "agentflow.limit.reached"
	NameGraphStepDuration = "agentflow.graph.step.duration"
)

// Attribute keys attached to the instruments.
const (
	AttrModel    = "model"
	AttrTool     = "tool"
	AttrGraph    = "graph"
	AttrKind     = "kind"
	AttrOutcome  = "outcome"
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type instruments struct {
	modelCalls   metric.Int64Counter
	toolCalls    metric.Int64Counter
	graphSteps   metric.Int64Counter
	limitReached metric.Int64Counter
	stepDuration metric.Float64Histogram
}

var (
	mu      sync.RWMutex
	meter   metric.Meter = noopm.Meter{}
	current *instruments
)

// Meter returns the meter the instruments are created from.
func Meter() metric.Meter {
	mu.RLock()
	defer mu.RUnlock()
	return meter
}

// SetMeter replaces the meter and recreates the instruments.
func SetMeter(m metric.Meter) error {
	inst, err := newInstruments(m)
	if err != nil {
		return err
	}
	mu.Lock()
	meter, current = m, inst
	mu.Unlock()
	return nil
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var (
		inst instruments
		err  error
	)
	if inst.modelCalls, err = m.Int64Counter(NameModelCalls,
		metric.WithDescription("Model generation calls.")); err != nil {
		return nil, err
	}
	if inst.toolCalls, err = m.Int64Counter(NameToolCalls,
		metric.WithDescription("Tool executions.")); err != nil {
		return nil, err
	}
	if inst.graphSteps, err = m.Int64Counter(NameGraphSteps,
		metric.WithDescription("Graph supersteps executed.")); err != nil {
		return nil, err
	}
	if inst.limitReached, err = m.Int64Counter(NameLimitReached,
		metric.WithDescription("Bounded loops stopped at their limit.")); err != nil {
		return nil, err
	}
	if inst.stepDuration, err = m.Float64Histogram(NameGraphStepDuration,
		metric.WithDescription("Graph superstep duration."), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &inst, nil
}

func load() *instruments {
	mu.RLock()
	inst := current
	mu.RUnlock()
	if inst != nil {
		return inst
	}
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		// The noop meter never fails.
		current, _ = newInstruments(meter)
	}
	return current
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// RecordModelCall counts one model call.
func RecordModelCall(ctx context.Context, modelName string, err error) {
	load().modelCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrModel, modelName),
		attribute.String(AttrOutcome, outcome(err)),
	))
}

// RecordToolCall counts one tool execution.
func RecordToolCall(ctx context.Context, toolName string, err error) {
	load().toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTool, toolName),
		attribute.String(AttrOutcome, outcome(err)),
	))
}

// RecordGraphStep counts a superstep and its duration.
func RecordGraphStep(ctx context.Context, graphName string, d time.Duration) {
	inst := load()
	opt := metric.WithAttributes(attribute.String(AttrGraph, graphName))
	inst.graphSteps.Add(ctx, 1, opt)
	inst.stepDuration.Record(ctx, d.Seconds(), opt)
}

// RecordLimitReached counts a loop that stopped at its bound.
func RecordLimitReached(ctx context.Context, kind string) {
	load().limitReached.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrKind, kind)))
}

// Start installs an OTLP metric exporter and recreates the instruments on
// its meter.
//
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT and OTEL_EXPORTER_OTLP_ENDPOINT are
// honoured when no endpoint option is given.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	options := &options{
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
		protocol:         itelemetry.ProtocolGRPC,
		interval:         time.Minute,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.metricsEndpoint == "" {
		options.metricsEndpoint = metricsEndpoint(options.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(options.serviceNamespace),
			semconv.ServiceName(options.serviceName),
			semconv.ServiceVersion(options.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch options.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(options.metricsEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
	case itelemetry.ProtocolGRPC:
		conn, connErr := itelemetry.NewGRPCConn(options.metricsEndpoint)
		if connErr != nil {
			return nil, fmt.Errorf("failed to initialize metrics connection: %w", connErr)
		}
		exporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	default:
		return nil, fmt.Errorf("unsupported metric protocol %q", options.protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(options.interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	if err := SetMeter(mp.Meter(itelemetry.InstrumentName)); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return func() error {
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown MeterProvider: %w", err)
		}
		return nil
	}, nil
}

func metricsEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == itelemetry.ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// Option is a function that configures meter options.
type Option func(*options)

type options struct {
	metricsEndpoint  string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
	protocol         string
	interval         time.Duration
}

// WithEndpoint sets the host:port of the collector.
func WithEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.metricsEndpoint = endpoint
	}
}

// WithProtocol selects "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(opts *options) {
		opts.protocol = protocol
	}
}

// WithServiceName overrides the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(opts *options) {
		opts.serviceName = name
	}
}

// WithInterval sets the export interval.
func WithInterval(d time.Duration) Option {
	return func(opts *options) {
		if d > 0 {
			opts.interval = d
		}
	}
}
