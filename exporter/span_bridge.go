// Package exporter turns finished OpenTelemetry spans into profiler calls.
//
// Every trace is replayed as a synthetic thread: spans are entered and left
// in tree order with the clock pinned to their recorded timestamps, so a
// span's duration lands in the report exactly as it was traced.
package exporter

import (
	"cmp"
	"context"
	"encoding/binary"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/infrastructure/probe"
	"github.com/fllarpy/callprof/internal/application/collector"
	"github.com/fllarpy/callprof/internal/application/dispatch"
	"github.com/fllarpy/callprof/internal/application/registry"
)

var _ sdktrace.SpanExporter = (*SpanBridge)(nil)

// traceThreadBit keeps trace threads apart from host thread ids.
const traceThreadBit = 1 << 63

// ThreadFor returns the synthetic thread a trace is replayed on.
func ThreadFor(id trace.TraceID) domain.ThreadID {
	return domain.ThreadID(traceThreadBit | binary.BigEndian.Uint64(id[:8]))
}

// replayClock reports whatever instant the replay last pinned it to.
type replayClock struct {
	now atomic.Int64
}

func (c *replayClock) set(t time.Time) { c.now.Store(t.UnixNano()) }

func (c *replayClock) Now() time.Duration { return time.Duration(c.now.Load()) }

// SpanBridge is a SpanExporter that records spans into a registry.
type SpanBridge struct {
	interner   domain.Interner
	clock      *replayClock
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger

	// mu serializes replays; they share the clock.
	mu      sync.Mutex
	stopped atomic.Bool
}

// NewSpanBridge creates a bridge whose trace threads register in reg. Span
// names are interned through interner. anomalies may be nil.
func NewSpanBridge(reg *registry.Registry, interner domain.Interner, anomalies collector.Anomalies, logger zerolog.Logger) *SpanBridge {
	clock := &replayClock{}
	return &SpanBridge{
		interner: interner,
		clock:    clock,
		dispatcher: dispatch.New(reg, collector.Config{
			Clock:     clock,
			Allocs:    probe.NoAllocs{},
			Anomalies: anomalies,
		}),
		logger: logger,
	}
}

// ExportSpans replays spans trace by trace. Each trace thread is torn down
// afterwards, so its numbers wait in the registry for the next report.
func (b *SpanBridge) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if b.stopped.Load() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, group := range groupByTrace(spans) {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.replay(group)
	}
	b.logger.Debug().Int("spans", len(spans)).Msg("Spans recorded")
	return nil
}

// Shutdown stops accepting spans.
func (b *SpanBridge) Shutdown(ctx context.Context) error {
	b.stopped.Store(true)
	b.logger.Debug().Msg("Span bridge shut down")
	return nil
}

func groupByTrace(spans []sdktrace.ReadOnlySpan) [][]sdktrace.ReadOnlySpan {
	index := make(map[trace.TraceID]int)
	var groups [][]sdktrace.ReadOnlySpan
	for _, span := range spans {
		id := span.SpanContext().TraceID()
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], span)
	}
	return groups
}

// replay walks one trace depth first. Spans whose parent is not in the
// batch are treated as roots.
func (b *SpanBridge) replay(spans []sdktrace.ReadOnlySpan) {
	present := make(map[trace.SpanID]struct{}, len(spans))
	for _, span := range spans {
		present[span.SpanContext().SpanID()] = struct{}{}
	}

	var roots []sdktrace.ReadOnlySpan
	children := make(map[trace.SpanID][]sdktrace.ReadOnlySpan)
	for _, span := range spans {
		parent := span.Parent()
		if _, ok := present[parent.SpanID()]; parent.IsValid() && ok {
			children[parent.SpanID()] = append(children[parent.SpanID()], span)
			continue
		}
		roots = append(roots, span)
	}

	thread := ThreadFor(spans[0].SpanContext().TraceID())
	sortByStart(roots)
	for _, root := range roots {
		b.visit(thread, root, children)
	}
	b.dispatcher.OnThreadTeardown(thread)
}

func (b *SpanBridge) visit(thread domain.ThreadID, span sdktrace.ReadOnlySpan, children map[trace.SpanID][]sdktrace.ReadOnlySpan) {
	method := b.interner.Intern(MethodName(span))

	start, end := span.StartTime(), span.EndTime()
	if end.Before(start) {
		end = start
	}

	b.clock.set(start)
	b.dispatcher.OnMethodEnter(thread, method)

	kids := children[span.SpanContext().SpanID()]
	sortByStart(kids)
	for _, child := range kids {
		b.visit(thread, child, children)
	}

	b.clock.set(end)
	b.dispatcher.OnMethodLeave(thread, method)
}

// MethodName is the name a span is recorded under. Database client spans
// are prefixed with their database system.
func MethodName(span sdktrace.ReadOnlySpan) string {
	if span.SpanKind() == trace.SpanKindClient {
		for _, attr := range span.Attributes() {
			if attr.Key == semconv.DBSystemKey {
				return attr.Value.AsString() + ": " + span.Name()
			}
		}
	}
	return span.Name()
}

func sortByStart(spans []sdktrace.ReadOnlySpan) {
	slices.SortStableFunc(spans, func(x, y sdktrace.ReadOnlySpan) int {
		return cmp.Compare(x.StartTime().UnixNano(), y.StartTime().UnixNano())
	})
}
