// Package logging writes bus events as structured zap records.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
	reqid "github.com/hanpama/querycore/internal/reqid"
)

// New builds a production logger at level, or a development logger.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Subscribe logs events from the global bus with log until unsubscribe is
// called.
func Subscribe(log *zap.Logger) (unsubscribe func()) {
	l := &subscriber{log: log}
	unsubs := []func(){
		eventbus.Subscribe(l.httpFinish),
		eventbus.Subscribe(l.graphqlFinish),
		eventbus.Subscribe(l.documentParsed),
		eventbus.Subscribe(l.validationFailed),
		eventbus.Subscribe(l.collectionDiagnostics),
		eventbus.Subscribe(l.segmentPoolOverflow),
		eventbus.Subscribe(l.mergeLeftover),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

type subscriber struct {
	log *zap.Logger
}

func (l *subscriber) with(ctx context.Context) *zap.Logger {
	if rid, ok := reqid.FromContext(ctx); ok {
		return l.log.With(zap.String("request_id", rid))
	}
	return l.log
}

func (l *subscriber) httpFinish(ctx context.Context, e events.RequestServed) {
	l.with(ctx).Info("http request",
		zap.String("method", e.Request.Method),
		zap.String("path", e.Request.URL.Path),
		zap.Int("status", e.Status),
		zap.Duration("duration", e.Duration),
	)
}

func (l *subscriber) graphqlFinish(ctx context.Context, e events.OperationFinished) {
	log := l.with(ctx)
	fields := []zap.Field{
		zap.String("operation", e.Name),
		zap.String("type", e.Type),
		zap.String("document_id", e.DocumentID),
		zap.Duration("duration", e.Duration),
	}
	if len(e.Errors) > 0 {
		log.Info("graphql operation failed", append(fields, zap.Errors("errors", e.Errors))...)
		return
	}
	log.Debug("graphql operation", fields...)
}

func (l *subscriber) documentParsed(ctx context.Context, e events.DocumentParsed) {
	l.with(ctx).Debug("document parsed",
		zap.String("document_id", e.DocumentID),
		zap.Bool("cached", e.Cached),
		zap.Duration("duration", e.Duration),
	)
}

func (l *subscriber) validationFailed(ctx context.Context, e events.ValidationFailed) {
	l.with(ctx).Info("document validation failed",
		zap.String("document_id", e.DocumentID),
		zap.Int("error_count", len(e.Errors)),
		zap.Errors("errors", e.Errors),
	)
}

func (l *subscriber) collectionDiagnostics(ctx context.Context, e events.CollectionDiagnostics) {
	log := l.with(ctx)
	for _, d := range e.Diagnostics {
		log.Warn("field collection", zap.String("code", string(d.Code)), zap.String("message", d.Error()))
	}
}

func (l *subscriber) segmentPoolOverflow(ctx context.Context, e events.SegmentPoolOverflow) {
	l.with(ctx).Warn("path segment pool exhausted",
		zap.Int("capacity", e.Capacity),
		zap.Int64("overflow", e.Overflow),
	)
}

func (l *subscriber) mergeLeftover(ctx context.Context, e events.MergeLeftover) {
	l.with(ctx).Warn("type not merged",
		zap.String("type", e.TypeName),
		zap.Strings("schemas", e.Schemas),
	)
}
