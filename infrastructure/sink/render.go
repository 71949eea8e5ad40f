package sink

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"
	"github.com/ryanuber/columnize"

	"github.com/fllarpy/callprof/domain/metrics"
)

// ErrUnknownFormat is returned for a report format nobody renders.
var ErrUnknownFormat = errors.New("unknown report format")

// Header names the report columns, in output order.
var Header = []string{
	"thread_id",
	"method_name",
	"call_count",
	"total_duration_nanoseconds",
	"total_allocated_bytes",
}

// Renderer encodes a report into one output format.
type Renderer interface {
	Render(w io.Writer, report *metrics.Report) error
	Extension() string
}

// RendererFor returns the renderer for a configured format name.
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "csv":
		return CSV{}, nil
	case "table":
		return Table{}, nil
	case "json":
		return JSON{}, nil
	case "pprof":
		return Pprof{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func fields(row metrics.ReportRow) []string {
	return []string{
		strconv.FormatUint(row.ThreadID, 10),
		row.Method,
		strconv.FormatUint(row.Calls, 10),
		strconv.FormatInt(row.TotalDuration.Nanoseconds(), 10),
		strconv.FormatUint(row.AllocatedBytes, 10),
	}
}

// CSV writes a header row followed by one record per report row.
type CSV struct{}

func (CSV) Extension() string { return ".csv" }

func (CSV) Render(w io.Writer, report *metrics.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, row := range report.Rows {
		if err := cw.Write(fields(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Table writes aligned, human-readable columns.
type Table struct{}

func (Table) Extension() string { return ".txt" }

func (Table) Render(w io.Writer, report *metrics.Report) error {
	_, err := io.WriteString(w, FormatTable(report.Rows)+"\n")
	return err
}

// tableDelim separates columns for columnize. Method names may contain "|",
// so an ASCII unit separator is used instead.
const tableDelim = "\x1f"

// FormatTable lays rows out in columns under the report header.
func FormatTable(rows []metrics.ReportRow) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(Header, tableDelim))
	for _, row := range rows {
		cols := fields(row)
		cols[1] = strings.ReplaceAll(cols[1], tableDelim, " ")
		lines = append(lines, strings.Join(cols, tableDelim))
	}

	conf := columnize.DefaultConfig()
	conf.Delim = tableDelim
	conf.Empty = "<none>"
	return columnize.Format(lines, conf)
}

// JSON writes the whole report as one indented document.
type JSON struct{}

func (JSON) Extension() string { return ".json" }

func (JSON) Render(w io.Writer, report *metrics.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// Pprof writes a gzipped pprof profile with one sample per row, so reports
// can be explored with `go tool pprof`.
type Pprof struct{}

func (Pprof) Extension() string { return ".pb.gz" }

func (Pprof) Render(w io.Writer, report *metrics.Report) error {
	prof, err := ToProfile(report)
	if err != nil {
		return err
	}
	return prof.Write(w)
}

// ToProfile converts a report into a pprof profile. Sample values are
// calls, duration in nanoseconds and allocated bytes; the owning thread is
// kept as the numeric label "thread_id".
func ToProfile(report *metrics.Report) (*profile.Profile, error) {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "calls", Unit: "count"},
			{Type: "duration", Unit: "nanoseconds"},
			{Type: "alloc_space", Unit: "bytes"},
		},
		DefaultSampleType: "duration",
		PeriodType:        &profile.ValueType{Type: "duration", Unit: "nanoseconds"},
		Period:            1,
		TimeNanos:         report.GeneratedAt.UnixNano(),
	}

	locations := make(map[string]*profile.Location)
	for _, row := range report.Rows {
		loc, ok := locations[row.Method]
		if !ok {
			fn := &profile.Function{
				ID:         uint64(len(prof.Function) + 1),
				Name:       row.Method,
				SystemName: row.Method,
			}
			prof.Function = append(prof.Function, fn)

			loc = &profile.Location{
				ID:   uint64(len(prof.Location) + 1),
				Line: []profile.Line{{Function: fn}},
			}
			prof.Location = append(prof.Location, loc)
			locations[row.Method] = loc
		}

		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value: []int64{
				int64(row.Calls),
				row.TotalDuration.Nanoseconds(),
				int64(row.AllocatedBytes),
			},
			NumLabel: map[string][]int64{"thread_id": {int64(row.ThreadID)}},
		})
	}

	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid pprof profile: %w", err)
	}
	return prof, nil
}
