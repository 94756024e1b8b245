// Package server exposes a GraphQL pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/metadata"

	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
	executor "github.com/hanpama/querycore/internal/executor"
	"github.com/hanpama/querycore/internal/pipeline"
	reqid "github.com/hanpama/querycore/internal/reqid"
	schema "github.com/hanpama/querycore/internal/schema"
)

// RequestIDHeader carries the request ID in responses, and in requests when
// a caller forwards its own.
const RequestIDHeader = "X-Request-Id"

// requestIDKey is the outgoing gRPC metadata key holding the request ID.
const requestIDKey = "graphql-request-id"

type Options struct {
	// Timeout bounds requests whose context has no deadline. 0 disables it.
	Timeout time.Duration

	// Pretty indents JSON responses.
	Pretty bool

	// MaxBodyBytes caps POST bodies. 0 means unlimited.
	MaxBodyBytes int64

	// AllowedOrigins enables CORS for the listed origins; "*" allows any.
	AllowedOrigins []string

	// MetadataHeaders are copied from the HTTP request into outgoing gRPC
	// metadata under their lower-cased names.
	MetadataHeaders []string

	GraphiQL bool

	// BatchConcurrency bounds how many operations of one batch run at once.
	BatchConcurrency int

	// ValidationStatus is proposed as the HTTP status of responses to
	// documents failing validation. 0 keeps 200.
	ValidationStatus int

	Executor []executor.Option
	Pipeline []pipeline.Option
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option           { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                           { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option              { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option            { return func(o *Options) { o.AllowedOrigins = origins } }
func WithMetadataHeaders(headers ...string) Option { return func(o *Options) { o.MetadataHeaders = headers } }
func WithGraphiQL(enable bool) Option              { return func(o *Options) { o.GraphiQL = enable } }
func WithBatchConcurrency(n int) Option            { return func(o *Options) { o.BatchConcurrency = n } }
func WithValidationStatus(code int) Option         { return func(o *Options) { o.ValidationStatus = code } }

func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *Options) { o.Executor = append(o.Executor, opts...) }
}

func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *Options) { o.Pipeline = append(o.Pipeline, opts...) }
}

// Handler serves GraphQL over GET and POST, including JSON batches.
type Handler struct {
	pipeline  *pipeline.Pipeline
	opt       Options
	forwarded map[string]struct{}
}

// New builds the default pipeline over runtime and s and wraps it in a
// Handler. GraphiQL is on and batches run four operations at a time unless
// opts say otherwise.
func New(runtime executor.Runtime, s *schema.Schema, opts ...Option) (*Handler, error) {
	o := Options{Timeout: 10 * time.Second, GraphiQL: true, BatchConcurrency: 4}
	for _, apply := range opts {
		apply(&o)
	}
	p, err := pipeline.Default(s, executor.NewExecutor(runtime, s, o.Executor...), o.Pipeline...)
	if err != nil {
		return nil, err
	}
	h := &Handler{pipeline: p, opt: o, forwarded: make(map[string]struct{}, len(o.MetadataHeaders))}
	for _, name := range o.MetadataHeaders {
		h.forwarded[strings.ToLower(name)] = struct{}{}
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	ctx, rid := h.requestID(ctx, r)
	w.Header().Set(RequestIDHeader, rid)

	rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	eventbus.Publish(ctx, events.RequestReceived{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.RequestServed{Request: r, Status: rw.status, Duration: time.Since(start)})
	}()

	h.cors(rw, r)
	switch {
	case r.Method == http.MethodOptions:
		rw.WriteHeader(http.StatusNoContent)
		return
	case r.Method != http.MethodGet && r.Method != http.MethodPost:
		h.write(rw, http.StatusMethodNotAllowed, errorResult("method not allowed"))
		return
	case h.wantsGraphiQL(r):
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(rw, graphiqlPage)
		return
	}

	single, batch, err := decodeRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		h.write(rw, err.status, errorResult(err.message))
		return
	}
	ctx = metadata.NewOutgoingContext(ctx, h.metadata(r, rid))

	if batch == nil {
		res, status := h.executeOne(ctx, single)
		h.write(rw, status, res)
		return
	}
	results := make([]*pipeline.Result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	if h.opt.BatchConcurrency > 0 {
		g.SetLimit(h.opt.BatchConcurrency)
	}
	for i := range batch {
		g.Go(func() error {
			results[i], _ = h.executeOne(gctx, batch[i])
			return nil
		})
	}
	_ = g.Wait()
	h.write(rw, http.StatusOK, results)
}

// requestID adopts a valid forwarded ID or mints a new one.
func (h *Handler) requestID(ctx context.Context, r *http.Request) (context.Context, string) {
	if id := r.Header.Get(RequestIDHeader); id != "" && reqid.Valid(id) {
		return reqid.WithID(ctx, id), id
	}
	return reqid.NewContext(ctx)
}

func (h *Handler) wantsGraphiQL(r *http.Request) bool {
	return h.opt.GraphiQL && r.Method == http.MethodGet &&
		r.URL.Query().Get("query") == "" && acceptsHTML(r.Header.Get("Accept"))
}

// executeOne runs one operation and returns its result with the HTTP status
// it calls for.
func (h *Handler) executeOne(ctx context.Context, req pipeline.Request) (*pipeline.Result, int) {
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	rc := h.pipeline.NewRequestContext(req)
	if h.opt.ValidationStatus != 0 {
		rc.ContextData[pipeline.HTTPStatusCodeKey] = h.opt.ValidationStatus
	}
	err := h.pipeline.Run(ctx, rc)
	if err == nil && rc.Result == nil {
		err = pipeline.ErrNoResult
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errorResult(err.Error()), http.StatusGatewayTimeout
	case err != nil:
		return errorResult(err.Error()), http.StatusInternalServerError
	}
	if code, _ := rc.Result.ContextData[pipeline.HTTPStatusCodeKey].(int); code != 0 {
		return rc.Result, code
	}
	return rc.Result, http.StatusOK
}

// metadata selects the forwarded headers of r and adds the request ID.
func (h *Handler) metadata(r *http.Request, rid string) metadata.MD {
	md := metadata.MD{requestIDKey: {rid}}
	for name, values := range r.Header {
		if _, ok := h.forwarded[strings.ToLower(name)]; ok {
			md[strings.ToLower(name)] = values
		}
	}
	return md
}
