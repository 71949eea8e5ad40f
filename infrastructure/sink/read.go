package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/fllarpy/callprof/domain/metrics"
)

// ReadCSV parses a report written by the CSV renderer.
func ReadCSV(r io.Reader) ([]metrics.ReportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read report header: %w", err)
	}
	if !slices.Equal(header, Header) {
		return nil, fmt.Errorf("unexpected report header %q", header)
	}

	var rows []metrics.ReportRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read report row: %w", err)
		}
		row, err := parseRow(record)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(record []string) (metrics.ReportRow, error) {
	thread, err := strconv.ParseUint(record[0], 10, 64)
	if err != nil {
		return metrics.ReportRow{}, fmt.Errorf("bad thread_id: %w", err)
	}
	calls, err := strconv.ParseUint(record[2], 10, 64)
	if err != nil {
		return metrics.ReportRow{}, fmt.Errorf("bad call_count: %w", err)
	}
	nanos, err := strconv.ParseInt(record[3], 10, 64)
	if err != nil {
		return metrics.ReportRow{}, fmt.Errorf("bad total_duration_nanoseconds: %w", err)
	}
	allocated, err := strconv.ParseUint(record[4], 10, 64)
	if err != nil {
		return metrics.ReportRow{}, fmt.Errorf("bad total_allocated_bytes: %w", err)
	}
	return metrics.ReportRow{
		ThreadID:       thread,
		Method:         record[1],
		Calls:          calls,
		TotalDuration:  time.Duration(nanos),
		AllocatedBytes: allocated,
	}, nil
}
