package aggregator

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/domain/metrics"
	"github.com/fllarpy/callprof/internal/application/registry"
)

// DefaultNameCacheSize bounds how many resolved method names are remembered
// between reports.
const DefaultNameCacheSize = 4096

// Source hands out every table collected since the previous call.
type Source interface {
	SnapshotAndDrainAll() []registry.Drained
}

// NameResolver turns method handles into display names.
type NameResolver interface {
	DisplayName(method domain.MethodID) string
}

// Aggregator drains all threads and folds the result into ranked rows.
type Aggregator struct {
	source      Source
	resolver    NameResolver
	names       *lru.Cache
	granularity metrics.Granularity
	now         func() time.Time
}

// New creates an aggregator. A cacheSize of 0 selects DefaultNameCacheSize.
func New(source Source, resolver NameResolver, granularity metrics.Granularity, cacheSize int) (*Aggregator, error) {
	switch granularity {
	case "":
		granularity = metrics.PerThread
	case metrics.PerThread, metrics.Merged:
	default:
		return nil, fmt.Errorf("unknown report granularity %q", granularity)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultNameCacheSize
	}
	names, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}
	return &Aggregator{
		source:      source,
		resolver:    resolver,
		names:       names,
		granularity: granularity,
		now:         time.Now,
	}, nil
}

// Granularity returns the row folding mode.
func (a *Aggregator) Granularity() metrics.Granularity {
	return a.granularity
}

// Collect drains every thread and returns the rows ranked by total duration,
// longest first. Calling it again with no new events yields no rows.
func (a *Aggregator) Collect() *metrics.Report {
	drained := a.source.SnapshotAndDrainAll()

	report := &metrics.Report{
		ID:          uuid.NewString(),
		GeneratedAt: a.now(),
		Granularity: a.granularity,
		Threads:     countThreads(drained),
	}

	switch a.granularity {
	case metrics.Merged:
		report.Rows = a.mergeByMethod(drained)
	default:
		report.Rows = a.perThread(drained)
	}

	rank(report.Rows)
	return report
}

type threadMethod struct {
	thread domain.ThreadID
	method domain.MethodID
}

// perThread keeps one row per thread and method. A thread id shows up more
// than once when a retired table and a live one share it; those are summed.
func (a *Aggregator) perThread(drained []registry.Drained) []metrics.ReportRow {
	var n int
	for _, d := range drained {
		n += len(d.Table)
	}
	folded := make(map[threadMethod]metrics.MethodStats, n)
	for _, d := range drained {
		for method, stats := range d.Table {
			key := threadMethod{thread: d.Thread, method: method}
			total := folded[key]
			total.Add(stats)
			folded[key] = total
		}
	}
	rows := make([]metrics.ReportRow, 0, len(folded))
	for key, stats := range folded {
		rows = append(rows, a.row(uint64(key.thread), key.method, stats))
	}
	return rows
}

// mergeByMethod sums counters across threads.
func (a *Aggregator) mergeByMethod(drained []registry.Drained) []metrics.ReportRow {
	merged := make(map[domain.MethodID]metrics.MethodStats)
	for _, d := range drained {
		for method, stats := range d.Table {
			total := merged[method]
			total.Add(stats)
			merged[method] = total
		}
	}
	rows := make([]metrics.ReportRow, 0, len(merged))
	for method, stats := range merged {
		rows = append(rows, a.row(0, method, stats))
	}
	return rows
}

func (a *Aggregator) row(thread uint64, method domain.MethodID, stats metrics.MethodStats) metrics.ReportRow {
	return metrics.ReportRow{
		ThreadID:       thread,
		Method:         a.displayName(method),
		Calls:          stats.Calls,
		TotalDuration:  stats.TotalDuration,
		AllocatedBytes: stats.AllocatedBytes,
	}
}

func (a *Aggregator) displayName(method domain.MethodID) string {
	if name, ok := a.names.Get(method); ok {
		return name.(string)
	}
	name := a.resolver.DisplayName(method)
	a.names.Add(method, name)
	return name
}

// rank orders rows by total duration, descending. Ties are ordered by name
// and thread only to keep output stable between runs.
func rank(rows []metrics.ReportRow) {
	slices.SortFunc(rows, func(x, y metrics.ReportRow) int {
		if c := cmp.Compare(y.TotalDuration, x.TotalDuration); c != 0 {
			return c
		}
		if c := strings.Compare(x.Method, y.Method); c != 0 {
			return c
		}
		return cmp.Compare(x.ThreadID, y.ThreadID)
	})
}

func countThreads(drained []registry.Drained) int {
	seen := make(map[domain.ThreadID]struct{}, len(drained))
	for _, d := range drained {
		seen[d.Thread] = struct{}{}
	}
	return len(seen)
}
