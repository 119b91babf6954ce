package observability

import "go.opentelemetry.io/otel"

// Tracer is the package-wide tracer for request-path spans. It resolves
// through the global TracerProvider, which is a no-op until main wires an
// OTLP exporter, so every call site can start a span unconditionally.
var Tracer = otel.Tracer("al-call-hierarchy")
