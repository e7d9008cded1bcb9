// Package tracing exposes the single OpenTelemetry tracer shared by the
// Session State Machine's hot paths: the Adaptive Selection Engine pipeline
// and the Submit/auto-expire scoring transaction. Spans here are a read-only
// side channel — nothing about selection determinism or score computation
// depends on a tracer being registered; an unconfigured global provider
// degrades to the OTel no-op implementation.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is used by every span start in the core. It is initialized lazily
// from the global otel provider so instrumentation works whether or not the
// process wires a real exporter.
var Tracer trace.Tracer = otel.Tracer("github.com/jordigilh/medlearn-core")
