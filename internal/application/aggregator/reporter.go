package aggregator

import (
	"github.com/rs/zerolog"

	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/domain/metrics"
)

var _ domain.Flusher = (*Reporter)(nil)

// Sink persists a rendered report and returns where it ended up.
type Sink interface {
	Write(report *metrics.Report) (string, error)
}

// Outcomes counts reports by sink result.
type Outcomes interface {
	ReportWritten(rows int)
	ReportFailed(rows int)
}

// Reporter drains, ranks and writes one report per call.
//
// Calls are not serialized against each other: two concurrent reports each
// get a disjoint share of the data and the sink keeps whichever wrote last.
type Reporter struct {
	aggregator *Aggregator
	sink       Sink
	store      domain.StoreWriter
	outcomes   Outcomes
	logger     zerolog.Logger
}

// NewReporter wires an aggregator to its sink. store and outcomes may be nil.
func NewReporter(a *Aggregator, sink Sink, store domain.StoreWriter, outcomes Outcomes, logger zerolog.Logger) *Reporter {
	return &Reporter{
		aggregator: a,
		sink:       sink,
		store:      store,
		outcomes:   outcomes,
		logger:     logger,
	}
}

// Report produces a report and writes it to the sink. A sink failure is
// returned but the report is still handed back; the drained data is gone
// either way.
func (r *Reporter) Report() (*metrics.Report, error) {
	report := r.aggregator.Collect()

	path, err := r.sink.Write(report)
	if r.store != nil {
		r.store.RecordReport(report, path, err)
	}

	if err != nil {
		if r.outcomes != nil {
			r.outcomes.ReportFailed(len(report.Rows))
		}
		r.logger.Warn().Err(err).
			Str("report_id", report.ID).
			Int("rows", len(report.Rows)).
			Msg("Report could not be written, dropping it")
		return report, err
	}

	if r.outcomes != nil {
		r.outcomes.ReportWritten(len(report.Rows))
	}
	r.logger.Info().
		Str("report_id", report.ID).
		Str("path", path).
		Int("rows", len(report.Rows)).
		Int("threads", report.Threads).
		Msg("Report written")
	return report, nil
}
