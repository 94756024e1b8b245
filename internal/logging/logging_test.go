package logging

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
	"github.com/hanpama/querycore/internal/report"
	reqid "github.com/hanpama/querycore/internal/reqid"
)

func TestSubscribe(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	core, logs := observer.New(zapcore.DebugLevel)
	unsubscribe := Subscribe(zap.New(core))

	ctx, rid := reqid.NewContext(context.Background())
	eventbus.Publish(ctx, events.RequestServed{Request: httptest.NewRequest("POST", "/graphql", nil), Status: 200, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.OperationFinished{Operation: events.Operation{Name: "Q"}, Errors: []error{errors.New("boom")}})
	eventbus.Publish(ctx, events.ValidationFailed{DocumentID: "d", Errors: []error{errors.New("bad")}})
	eventbus.Publish(ctx, events.CollectionDiagnostics{Diagnostics: []report.Diagnostic{
		{Code: report.CodeFragmentNotFound, Message: `Unknown fragment "F".`},
		{Code: report.CodeUnknownType, Message: `Unknown type "T".`},
	}})
	eventbus.Publish(ctx, events.SegmentPoolOverflow{Capacity: 1, Overflow: 3})
	eventbus.Publish(context.Background(), events.MergeLeftover{TypeName: "A", Schemas: []string{"a", "b"}})

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	require.Equal(t, []string{
		"http request",
		"graphql operation failed",
		"document validation failed",
		"field collection",
		"field collection",
		"path segment pool exhausted",
		"type not merged",
	}, msgs)

	require.Equal(t, rid, logs.All()[0].ContextMap()["request_id"])
	require.Equal(t, int64(200), logs.All()[0].ContextMap()["status"])
	require.NotContains(t, logs.All()[6].ContextMap(), "request_id")
	require.Equal(t, 4, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	unsubscribe()
	eventbus.Publish(ctx, events.SegmentPoolOverflow{})
	require.Equal(t, 7, logs.Len())
}

func TestNew(t *testing.T) {
	log, err := New("debug", true)
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = New("warn", false)
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", false)
	require.Error(t, err)
}
