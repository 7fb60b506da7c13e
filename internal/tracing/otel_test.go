// ABOUTME: Tests for the OTLP tracer provider setup
// ABOUTME: Uses the in-memory span exporter instead of a real collector

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewProvider_ExportsWithServiceName(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := NewProvider(exp, Config{ServiceName: "agentlens-test", ServiceVersion: "1.2.3"})

	_, span := tp.Tracer("test").Start(context.Background(), "conversation.turn")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "conversation.turn", spans[0].Name)

	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "agentlens-test", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])

	require.NoError(t, tp.Shutdown(context.Background()))
}
