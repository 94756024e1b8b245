package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanpama/querycore/internal/collector"
	"github.com/hanpama/querycore/internal/eventbus"
	"github.com/hanpama/querycore/internal/events"
	"github.com/hanpama/querycore/internal/executor"
	"github.com/hanpama/querycore/internal/introspection"
	"github.com/hanpama/querycore/internal/jsonrt"
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/logging"
	"github.com/hanpama/querycore/internal/merge"
	"github.com/hanpama/querycore/internal/metrics"
	"github.com/hanpama/querycore/internal/otel"
	"github.com/hanpama/querycore/internal/pipeline"
	"github.com/hanpama/querycore/internal/report"
	"github.com/hanpama/querycore/internal/rewrite"
	"github.com/hanpama/querycore/internal/schema"
	"github.com/hanpama/querycore/internal/server"
)

const rootUsage = `querycore: GraphQL query planning, execution and schema tools

USAGE:
  querycore <command> [flags]

COMMANDS:
  serve            Run the HTTP GraphQL endpoint over a JSON fixture
  plan             Print the collected field plan of an operation
  merge-sdl        Merge GraphQL SDL files into one schema
  rewrite          Print a query document after rewrite passes
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -schema <file>                      GraphQL SDL file. Repeatable; at least one required
  -data <file>                        JSON document keyed by root type name (required)
  -server.addr <addr>                 HTTP listen address (default: :8080)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.metadata-header <name>      Forward HTTP header to outgoing metadata. Repeatable
  -server.cors-origin <origin>        Allowed CORS origin, "*" for any. Repeatable
  -server.max-body <bytes>            Maximum request body size (default: 1048576)
  -server.batch-concurrency <n>       Concurrent operations per batch (default: 4)
  -server.validation-status <code>    HTTP status for validation failures (default: 200)
  -server.graphiql <bool>             Serve GraphiQL to browsers (default: true)
  -graphql.introspection <bool>       Answer __schema and __type queries (default: true)
  -exec.segment-capacity <n>          Pooled path segments per request (default: 256)
  -plan.cache-size <n>                Collected selection sets kept (default: 1024)
  -pipeline.document-cache <n>        Parsed documents kept (default: 512)
  -pipeline.max-depth <n>             Reject deeper selections, 0 for no limit
  -pipeline.inline-fragments          Inline fragment spreads before validation
  -metrics                            Serve Prometheus metrics on /metrics
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: querycore)
  -log.level <level>                  debug, info, warn or error (default: info)
  -log.development                    Human-readable development logging
`

const planUsage = `plan FLAGS:
  -schema <file>           GraphQL SDL file. Repeatable; at least one required
  -query <file>            Query document (required)
  -operation <name>        Operation to plan (default: the only one)
  -variables <json>        Variable values for @skip and @include
`

const mergeSDLUsage = `merge-sdl FLAGS:
  -out <file>              Write merged SDL to file (default: stdout)
  -log.level <level>       Level for merge reports (default: warn)
  <file>...                SDL files, merged in order
  (Exits non-zero when some types could not be merged)
`

const rewriteUsage = `rewrite FLAGS:
  -query <file>            Query document (required)
  -inline-fragments        Replace fragment spreads with inline fragments
  -inject-directive <name> Add @name to every field
  -variables <json>        Evaluate @skip and @include with these values
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("querycore", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer))
	if err := global.Parse(args); err != nil {
		fmt.Fprint(stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs, stderr)
	case "plan":
		return cmdPlan(cmdArgs, stdout, stderr)
	case "merge-sdl":
		return cmdMergeSDL(cmdArgs, stdout, stderr)
	case "rewrite":
		return cmdRewrite(cmdArgs, stdout, stderr)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	case "plan":
		fmt.Fprint(stdout, planUsage)
	case "merge-sdl":
		fmt.Fprint(stdout, mergeSDLUsage)
	case "rewrite":
		fmt.Fprint(stdout, rewriteUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type serveConfig struct {
	schemaFiles      stringListFlag
	dataFile         string
	addr             string
	pretty           bool
	timeout          time.Duration
	metadataHeaders  stringListFlag
	corsOrigins      stringListFlag
	maxBody          int64
	batchConcurrency int
	validationStatus int
	graphiql         bool
	introspection    bool
	segmentCapacity  int
	planCacheSize    int
	documentCache    int
	maxDepth         int
	inlineFragments  bool
	metrics          bool
	otelEndpoint     string
	otelService      string
	logLevel         string
	logDevelopment   bool
}

func cmdServe(args []string, stderr io.Writer) error {
	cfg := serveConfig{
		addr:             ":8080",
		timeout:          10 * time.Second,
		maxBody:          1 << 20,
		batchConcurrency: 4,
		graphiql:         true,
		introspection:    true,
		segmentCapacity:  executor.DefaultSegmentCapacity,
		planCacheSize:    collector.DefaultCacheSize,
		documentCache:    pipeline.DefaultDocumentCacheSize,
		otelService:      "querycore",
		logLevel:         "info",
	}
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.Var(&cfg.schemaFiles, "schema", "GraphQL SDL file")
	fs.StringVar(&cfg.dataFile, "data", cfg.dataFile, "JSON fixture document")
	fs.StringVar(&cfg.addr, "server.addr", cfg.addr, "HTTP listen address")
	fs.BoolVar(&cfg.pretty, "server.pretty", cfg.pretty, "Pretty-print JSON responses")
	fs.DurationVar(&cfg.timeout, "server.timeout", cfg.timeout, "Per-request timeout")
	fs.Var(&cfg.metadataHeaders, "server.metadata-header", "Forward HTTP header to metadata")
	fs.Var(&cfg.corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.Int64Var(&cfg.maxBody, "server.max-body", cfg.maxBody, "Maximum request body size")
	fs.IntVar(&cfg.batchConcurrency, "server.batch-concurrency", cfg.batchConcurrency, "Concurrent operations per batch")
	fs.IntVar(&cfg.validationStatus, "server.validation-status", cfg.validationStatus, "HTTP status for validation failures")
	fs.BoolVar(&cfg.graphiql, "server.graphiql", cfg.graphiql, "Serve GraphiQL")
	fs.BoolVar(&cfg.introspection, "graphql.introspection", cfg.introspection, "Answer introspection queries")
	fs.IntVar(&cfg.segmentCapacity, "exec.segment-capacity", cfg.segmentCapacity, "Pooled path segments per request")
	fs.IntVar(&cfg.planCacheSize, "plan.cache-size", cfg.planCacheSize, "Collected selection sets kept")
	fs.IntVar(&cfg.documentCache, "pipeline.document-cache", cfg.documentCache, "Parsed documents kept")
	fs.IntVar(&cfg.maxDepth, "pipeline.max-depth", cfg.maxDepth, "Maximum selection depth")
	fs.BoolVar(&cfg.inlineFragments, "pipeline.inline-fragments", cfg.inlineFragments, "Inline fragment spreads")
	fs.BoolVar(&cfg.metrics, "metrics", cfg.metrics, "Serve Prometheus metrics")
	fs.StringVar(&cfg.otelEndpoint, "otel.endpoint", cfg.otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&cfg.otelService, "otel.service", cfg.otelService, "OpenTelemetry service name")
	fs.StringVar(&cfg.logLevel, "log.level", cfg.logLevel, "Log level")
	fs.BoolVar(&cfg.logDevelopment, "log.development", cfg.logDevelopment, "Development logging")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, serveUsage)
		return err
	}
	if len(cfg.schemaFiles) == 0 || cfg.dataFile == "" {
		fmt.Fprint(stderr, serveUsage)
		return fmt.Errorf("-schema and -data are required")
	}

	logger, err := logging.New(cfg.logLevel, cfg.logDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eventbus.Use(eventbus.New())
	defer logging.Subscribe(logger)()
	shutdown, err := otel.Setup(cfg.otelEndpoint, cfg.otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	handler, cleanup, err := newServeHandler(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{Addr: cfg.addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("graphql server listening", zap.String("addr", cfg.addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newServeHandler wires the GraphQL endpoint and, when enabled, the metrics
// endpoint. cleanup detaches the metrics subscriber.
func newServeHandler(cfg serveConfig) (http.Handler, func(), error) {
	sch, err := loadSchema(cfg.schemaFiles)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(cfg.dataFile)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	var runtime executor.Runtime
	if runtime, err = jsonrt.Load(f); err != nil {
		return nil, nil, err
	}
	if cfg.introspection {
		if runtime, sch, err = introspection.Wrap(runtime, sch); err != nil {
			return nil, nil, err
		}
	}

	col, err := collector.New(sch, collector.WithCacheSize(cfg.planCacheSize))
	if err != nil {
		return nil, nil, err
	}
	popts := []pipeline.Option{pipeline.WithDocumentCacheSize(cfg.documentCache)}
	if cfg.maxDepth > 0 {
		popts = append(popts, pipeline.WithRules(pipeline.MaxDepth(cfg.maxDepth)))
	}
	if cfg.inlineFragments {
		popts = append(popts, pipeline.WithPasses(pipeline.InlineFragmentsPass()))
	}
	sopts := []server.Option{
		server.WithExecutorOptions(executor.WithCollector(col), executor.WithSegmentCapacity(cfg.segmentCapacity)),
		server.WithPipelineOptions(popts...),
		server.WithGraphiQL(cfg.graphiql),
		server.WithMaxBodyBytes(cfg.maxBody),
		server.WithBatchConcurrency(cfg.batchConcurrency),
	}
	if cfg.pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.timeout > 0 {
		sopts = append(sopts, server.WithTimeout(cfg.timeout))
	}
	if len(cfg.metadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(cfg.metadataHeaders...))
	}
	if len(cfg.corsOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.corsOrigins...))
	}
	if cfg.validationStatus > 0 {
		sopts = append(sopts, server.WithValidationStatus(cfg.validationStatus))
	}
	h, err := server.New(runtime, sch, sopts...)
	if err != nil {
		return nil, nil, fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	cleanup := func() {}
	if cfg.metrics {
		m := metrics.New()
		cleanup = m.Subscribe()
		mux.Handle("/metrics", m.Handler())
	}
	return mux, cleanup, nil
}

func loadSchema(files []string) (*schema.Schema, error) {
	sources := make([]*language.Source, 0, len(files))
	for _, name := range files {
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, &language.Source{Name: name, Input: string(b)})
	}
	sch, err := schema.BuildFromSources(sources...)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return sch, nil
}

func loadQuery(file, variables string) (*language.QueryDocument, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	doc, err := language.ParseQuery(string(b))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	if variables == "" {
		return doc, nil
	}
	var vars map[string]any
	if err := json.Unmarshal([]byte(variables), &vars); err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}
	return rewrite.EvaluateConditions(doc, vars)
}

func cmdPlan(args []string, stdout, stderr io.Writer) error {
	var schemaFiles stringListFlag
	queryFile := ""
	operation := ""
	variables := ""
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.Var(&schemaFiles, "schema", "GraphQL SDL file")
	fs.StringVar(&queryFile, "query", queryFile, "Query document")
	fs.StringVar(&operation, "operation", operation, "Operation name")
	fs.StringVar(&variables, "variables", variables, "Variable values as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, planUsage)
		return err
	}
	if len(schemaFiles) == 0 || queryFile == "" {
		fmt.Fprint(stderr, planUsage)
		return fmt.Errorf("-schema and -query are required")
	}

	sch, err := loadSchema(schemaFiles)
	if err != nil {
		return err
	}
	doc, err := loadQuery(queryFile, variables)
	if err != nil {
		return err
	}
	op, err := pickOperation(doc, operation)
	if err != nil {
		return err
	}
	var root *schema.Type
	switch op.Operation {
	case language.Mutation:
		root = sch.GetMutationType()
	case language.Subscription:
		root = sch.GetSubscriptionType()
	default:
		root = sch.GetQueryType()
	}
	if root == nil {
		return fmt.Errorf("schema has no %s type", op.Operation)
	}

	col, err := collector.New(sch, collector.WithCacheSize(0))
	if err != nil {
		return err
	}
	var diags report.Report
	col = col.Bind(collector.FragmentsOf(doc), &diags)

	fmt.Fprintln(stdout, root.Name)
	writePlan(stdout, sch, col, col.Collect(op.SelectionSet, root.Name), 1)
	for _, d := range diags.Diagnostics() {
		fmt.Fprintf(stdout, "diagnostic %s: %s\n", d.Code, d.Error())
	}
	return nil
}

func pickOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) != 1 {
			return nil, fmt.Errorf("document has %d operations, use -operation", len(doc.Operations))
		}
		return doc.Operations[0], nil
	}
	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, fmt.Errorf("operation %q not found", name)
}

func writePlan(w io.Writer, sch *schema.Schema, col *collector.Collector, vs *collector.VariantSet, depth int) {
	writeGroups(w, sch, col, vs.TypeName, vs.Fields, depth, "")
	indent := strings.Repeat("  ", depth)
	for _, v := range vs.Variants {
		fmt.Fprintf(w, "%s... on %s\n", indent, v.TypeName)
		writeGroups(w, sch, col, v.TypeName, v.Fields, depth+1, "")
		writeGroups(w, sch, col, v.TypeName, v.Extensions, depth+1, " (extends)")
	}
}

func writeGroups(w io.Writer, sch *schema.Schema, col *collector.Collector, typeName string, groups []collector.FieldGroup, depth int, suffix string) {
	indent := strings.Repeat("  ", depth)
	for _, g := range groups {
		name := g.Fields[0].Name
		var ref *schema.TypeRef
		if name == "__typename" {
			ref = schema.NonNullType(schema.NamedType("String"))
		} else if t := sch.Types[typeName]; t != nil {
			if f := t.Field(name); f != nil {
				ref = f.Type
			}
		}
		if ref == nil {
			fmt.Fprintf(w, "%s%s: ?%s\n", indent, g.ResponseName, suffix)
			continue
		}
		fmt.Fprintf(w, "%s%s: %s%s\n", indent, g.ResponseName, ref, suffix)
		if len(g.Fields[0].SelectionSet) > 0 {
			writePlan(w, sch, col, col.CollectFields(g.Fields, ref.GetNamedType()), depth+1)
		}
	}
}

func cmdMergeSDL(args []string, stdout, stderr io.Writer) error {
	outFile := ""
	logLevel := "warn"
	fs := flag.NewFlagSet("merge-sdl", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&outFile, "out", outFile, "Write merged SDL to file")
	fs.StringVar(&logLevel, "log.level", logLevel, "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, mergeSDLUsage)
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprint(stderr, mergeSDLUsage)
		return fmt.Errorf("no SDL files given")
	}

	logger, err := logging.New(logLevel, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	eventbus.Use(eventbus.New())
	defer logging.Subscribe(logger)()

	var sources []*language.Source
	for _, name := range fs.Args() {
		b, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		sources = append(sources, &language.Source{Name: name, Input: string(b)})
	}
	m := merge.NewMerger(merge.WithLeftoverHandler(func(types []merge.TypeInfo) {
		e := events.MergeLeftover{TypeName: types[0].Name()}
		for _, t := range types {
			e.Schemas = append(e.Schemas, fmt.Sprintf("%s (%s)", t.Schema.Name, t.Kind()))
		}
		eventbus.Publish(context.Background(), e)
	}))
	res, err := m.MergeSDL(sources...)
	if err != nil {
		return err
	}

	sdl := language.PrintSchema(res.Document)
	if outFile == "" {
		fmt.Fprint(stdout, sdl)
	} else if err := os.WriteFile(outFile, []byte(sdl), 0o644); err != nil {
		return err
	}
	if len(res.Leftovers) > 0 {
		names := make([]string, len(res.Leftovers))
		for i, group := range res.Leftovers {
			names[i] = group[0].Name()
		}
		return fmt.Errorf("types not merged: %s", strings.Join(names, ", "))
	}
	return nil
}

func cmdRewrite(args []string, stdout, stderr io.Writer) error {
	queryFile := ""
	inline := false
	inject := ""
	variables := ""
	fs := flag.NewFlagSet("rewrite", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&queryFile, "query", queryFile, "Query document")
	fs.BoolVar(&inline, "inline-fragments", inline, "Inline fragment spreads")
	fs.StringVar(&inject, "inject-directive", inject, "Directive added to every field")
	fs.StringVar(&variables, "variables", variables, "Variable values as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, rewriteUsage)
		return err
	}
	if queryFile == "" {
		fmt.Fprint(stderr, rewriteUsage)
		return fmt.Errorf("-query is required")
	}

	doc, err := loadQuery(queryFile, variables)
	if err != nil {
		return err
	}
	if inline {
		if doc, err = rewrite.InlineFragments(doc); err != nil {
			return err
		}
	}
	if inject != "" {
		if doc, err = rewrite.InjectDirective(doc, &language.Directive{Name: inject}); err != nil {
			return err
		}
	}
	fmt.Fprint(stdout, language.PrintQuery(doc))
	return nil
}
