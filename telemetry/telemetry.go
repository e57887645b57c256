//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry exposes the tracer used across trpc-prmeval-go.
// It relies on the global OpenTelemetry provider: deployments decide which
// exporter, if any, receives the spans.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentName identifies this instrumentation scope.
const InstrumentName = "trpc.group/trpc-go/trpc-prmeval-go"

// Tracer is the tracer all pipeline spans are created from.
var Tracer = otel.Tracer(InstrumentName)

// StartSpan starts a pipeline span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
