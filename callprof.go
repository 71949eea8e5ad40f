// Package callprof measures how often methods are called, how long they run
// and how much they allocate, per calling thread, and writes ranked reports.
//
// A host fires Enter and Leave for every instrumented call; Flush drains all
// threads into one report.
package callprof

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fllarpy/callprof/config"
	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/domain/metrics"
	"github.com/fllarpy/callprof/exporter"
	"github.com/fllarpy/callprof/infrastructure/probe"
	"github.com/fllarpy/callprof/infrastructure/sink"
	"github.com/fllarpy/callprof/infrastructure/storage/inmemory"
	"github.com/fllarpy/callprof/infrastructure/telemetry"
	"github.com/fllarpy/callprof/internal/application/aggregator"
	"github.com/fllarpy/callprof/internal/application/collector"
	"github.com/fllarpy/callprof/internal/application/dispatch"
	"github.com/fllarpy/callprof/internal/application/flusher"
	"github.com/fllarpy/callprof/internal/application/registry"
	"github.com/fllarpy/callprof/internal/host"
	"github.com/fllarpy/callprof/internal/logging"
	"github.com/fllarpy/callprof/internal/ports/http_middleware"
	"github.com/fllarpy/callprof/internal/ports/http_reporter"
)

// MethodID and ThreadID are the handles hosts pass in.
type (
	MethodID = domain.MethodID
	ThreadID = domain.ThreadID
)

// GoroutineHost returns a host for programs that instrument themselves:
// each goroutine is a thread and method names are interned with Intern.
func GoroutineHost() *host.Goroutines {
	return host.NewGoroutines()
}

// Option customizes a Profiler.
type Option func(*options)

type options struct {
	sink   aggregator.Sink
	logger *zerolog.Logger
	clock  domain.Clock
	allocs domain.AllocationProbe
}

// WithSink replaces the configured report file.
func WithSink(s aggregator.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithClock replaces the monotonic clock.
func WithClock(c domain.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithAllocationProbe replaces the configured allocation probe.
func WithAllocationProbe(p domain.AllocationProbe) Option {
	return func(o *options) { o.allocs = p }
}

// Profiler records calls fired by a host and reports them.
type Profiler struct {
	host       domain.Host
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	reporter   *aggregator.Reporter
	store      *inmemory.Store
	metrics    *telemetry.Metrics
	gatherer   *prometheus.Registry
	cfg        config.Config
	logger     zerolog.Logger

	mu          sync.Mutex
	stopFlusher func()
	providers   []*sdktrace.TracerProvider
	closed      bool
}

// New builds a profiler for host from cfg.
func New(cfg config.Config, host domain.Host, opts ...Option) (*Profiler, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: host is required", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stderr})
	if o.logger != nil {
		logger = *o.logger
	}

	if o.clock == nil {
		o.clock = probe.NewMonotonicClock()
	}
	if o.allocs == nil {
		allocs, ok := probe.ByName(cfg.AllocationProbe)
		if !ok {
			return nil, fmt.Errorf("%w: allocation_probe %q", config.ErrInvalid, cfg.AllocationProbe)
		}
		o.allocs = allocs
	}
	if o.sink == nil {
		file, err := sink.NewFile(cfg.Output, cfg.Format, cfg.UniqueNames)
		if err != nil {
			return nil, err
		}
		o.sink = file
	}

	gatherer := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(gatherer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	reg := registry.New(m)
	agg, err := aggregator.New(reg, host, metrics.Granularity(cfg.Granularity), cfg.NameCacheSize)
	if err != nil {
		return nil, err
	}
	store := inmemory.NewStore(cfg.HistorySize)

	p := &Profiler{
		host: host,
		dispatcher: dispatch.New(reg, collector.Config{
			Clock:         o.clock,
			Allocs:        o.allocs,
			Anomalies:     m,
			StackCapacity: cfg.StackCapacity,
		}),
		registry: reg,
		reporter: aggregator.NewReporter(agg, o.sink, store, m, logging.Component(logger, "aggregator")),
		store:    store,
		metrics:  m,
		gatherer: gatherer,
		cfg:      cfg,
		logger:   logger,
	}

	logger.Info().
		Str("granularity", string(agg.Granularity())).
		Str("format", cfg.Format).
		Str("allocation_probe", cfg.AllocationProbe).
		Msg("Call profiler initialized")
	return p, nil
}

// Enter records entry into method on the calling thread.
func (p *Profiler) Enter(method domain.MethodID) {
	p.dispatcher.OnMethodEnter(p.host.CurrentThread(), method)
}

// Leave records the return from method on the calling thread.
func (p *Profiler) Leave(method domain.MethodID) {
	p.dispatcher.OnMethodLeave(p.host.CurrentThread(), method)
}

// ThreadExit must be called by a thread that will fire no more events.
func (p *Profiler) ThreadExit() {
	p.dispatcher.OnThreadTeardown(p.host.CurrentThread())
}

// Depth is the calling thread's active call depth.
func (p *Profiler) Depth() int {
	return p.dispatcher.Depth(p.host.CurrentThread())
}

// Dispatcher is the event shim for hosts that pass thread ids themselves.
func (p *Profiler) Dispatcher() *dispatch.Dispatcher {
	return p.dispatcher
}

// Interner returns the host's symbol table, or nil if the host does not
// intern names.
func (p *Profiler) Interner() domain.Interner {
	interner, _ := p.host.(domain.Interner)
	return interner
}

// LiveThreads is the number of threads currently collecting.
func (p *Profiler) LiveThreads() int {
	return p.registry.Len()
}

// Report drains every thread and writes the report. The report is returned
// even when the sink failed.
func (p *Profiler) Report() (*metrics.Report, error) {
	return p.reporter.Report()
}

// Flush writes a report and swallows any sink failure; it can be called at
// any time. Concurrent flushes are not ordered: the sink keeps whichever
// report was written last.
func (p *Profiler) Flush() {
	_, _ = p.reporter.Report()
}

// History returns the report history store.
func (p *Profiler) History() domain.StoreReader {
	return p.store
}

// Gatherer exposes the profiler's own metrics.
func (p *Profiler) Gatherer() prometheus.Gatherer {
	return p.gatherer
}

// Start begins periodic reporting if a flush interval is configured.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.stopFlusher != nil {
		return
	}
	p.stopFlusher = flusher.Start(p.reporter, p.store, p.cfg.FlushInterval, logging.Component(p.logger, "flusher"))
}

// Handler serves the report history, the flush trigger and /metrics.
func (p *Profiler) Handler() http.Handler {
	return http_reporter.NewMux(p.store, p.reporter, p.gatherer)
}

// Middleware profiles every request served by next. It is a no-op when the
// host cannot intern names.
func (p *Profiler) Middleware() func(http.Handler) http.Handler {
	interner := p.Interner()
	if interner == nil {
		return http_middleware.ProfileMiddleware(nil, nil)
	}
	return http_middleware.ProfileMiddleware(interner, p)
}

// Transport profiles outbound requests made through base, which may be nil.
func (p *Profiler) Transport(base http.RoundTripper) http.RoundTripper {
	interner := p.Interner()
	if interner == nil {
		return http_middleware.NewProfileTransport(base, nil, nil)
	}
	return http_middleware.NewProfileTransport(base, interner, p)
}

// SpanExporter returns an OpenTelemetry exporter that records finished
// traces into this profiler. It requires a host that interns names.
func (p *Profiler) SpanExporter() (*exporter.SpanBridge, error) {
	interner := p.Interner()
	if interner == nil {
		return nil, fmt.Errorf("host %T cannot intern span names", p.host)
	}
	return exporter.NewSpanBridge(p.registry, interner, p.metrics, logging.Component(p.logger, "exporter")), nil
}

// NewTracerProvider returns a tracer provider batching spans into this
// profiler. It is shut down with the profiler.
func (p *Profiler) NewTracerProvider(serviceName, serviceVersion string) (*sdktrace.TracerProvider, error) {
	bridge, err := p.SpanExporter()
	if err != nil {
		return nil, err
	}
	res, err := newResource(serviceName, serviceVersion)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(bridge),
		sdktrace.WithResource(res),
	)

	p.mu.Lock()
	p.providers = append(p.providers, tp)
	p.mu.Unlock()
	return tp, nil
}

// Shutdown stops periodic reporting, flushes pending spans and writes a
// final report. Later calls do nothing.
func (p *Profiler) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stop := p.stopFlusher
	providers := p.providers
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, tp := range providers {
		if err := tp.Shutdown(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("Error shutting down tracer provider")
		}
	}

	_, err := p.reporter.Report()
	return err
}

func newResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
}
