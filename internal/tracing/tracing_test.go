package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartTaskRecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("bgqueue-test", "dev", exp))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	_, ok := StartTask(context.Background(), "ok-task", 3)
	ok.End(nil)
	_, bad := StartTask(context.Background(), "bad-task", 0)
	bad.End(errors.New("failed"))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "background.task ok-task", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, "background.task bad-task", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestNilSpanEndIsSafe(t *testing.T) {
	var s *Span
	assert.NotPanics(t, func() { s.End(nil) })
}
