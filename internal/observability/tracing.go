package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used by every vulngraph component.
const InstrumentationName = "github.com/xkilldash9x/vulngraph"

// Tracer returns the tracer for a component. Without a configured
// TracerProvider the global no-op provider is used.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(InstrumentationName + "/" + component)
}

// TracerFrom returns a tracer from provider, falling back to the global
// provider when provider is nil.
func TracerFrom(provider trace.TracerProvider, component string) trace.Tracer {
	if provider == nil {
		return Tracer(component)
	}
	return provider.Tracer(InstrumentationName + "/" + component)
}
