// Package sink renders reports and puts them somewhere: a single file that is
// truncated on every report, or any io.Writer.
package sink

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/fllarpy/callprof/domain/metrics"
)

// DefaultPath is the report file used when none is configured.
const DefaultPath = "callprof.csv"

const uniqueSuffixLayout = "2006-01-02_15-04-05"

// File writes each report over the same file, or to a fresh file per report.
type File struct {
	path     string
	unique   bool
	renderer Renderer
	now      func() time.Time
}

// NewFile creates a file sink for format. With unique set, every report goes
// to its own "<base>_<timestamp><ext>" file next to path instead.
func NewFile(path, format string, unique bool) (*File, error) {
	renderer, err := RendererFor(format)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = strings.TrimSuffix(DefaultPath, filepath.Ext(DefaultPath)) + renderer.Extension()
	}
	return &File{
		path:     path,
		unique:   unique,
		renderer: renderer,
		now:      time.Now,
	}, nil
}

// Path returns the file reports are rendered into.
func (f *File) Path() string {
	return f.path
}

// Write renders report and then replaces the file with it. Nothing is
// written when rendering fails. It returns the final location of the report.
func (f *File) Write(report *metrics.Report) (string, error) {
	var rendered bytes.Buffer
	if err := f.renderer.Render(&rendered, report); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	if !f.unique {
		out, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return "", fmt.Errorf("failed to open report file: %w", err)
		}
		return f.path, writeAndClose(out, rendered.Bytes())
	}

	out, dest, err := f.createUnique()
	if err != nil {
		return "", err
	}
	return dest, writeAndClose(out, rendered.Bytes())
}

// createUnique creates "<base>_<timestamp><ext>", adding a "_N" counter
// while that name is taken. Existing reports are never replaced.
func (f *File) createUnique() (*os.File, string, error) {
	ext := filepath.Ext(f.path)
	if strings.HasSuffix(f.path, ".pb.gz") {
		ext = ".pb.gz"
	}
	base := fmt.Sprintf("%s_%s", strings.TrimSuffix(f.path, ext), f.now().Format(uniqueSuffixLayout))

	dest := base + ext
	for n := 1; ; n++ {
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return out, dest, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create report file: %w", err)
		}
		dest = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
}

func writeAndClose(out *os.File, data []byte) error {
	var result *multierror.Error
	if _, err := out.Write(data); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to write report: %w", err))
	}
	if err := out.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close report file: %w", err))
	}
	return result.ErrorOrNil()
}

// Stream renders reports to a writer, e.g. stdout.
type Stream struct {
	w        io.Writer
	renderer Renderer
}

// NewStream creates a writer sink for format.
func NewStream(w io.Writer, format string) (*Stream, error) {
	renderer, err := RendererFor(format)
	if err != nil {
		return nil, err
	}
	return &Stream{w: w, renderer: renderer}, nil
}

// Write renders report to the writer. The returned location is always "-".
func (s *Stream) Write(report *metrics.Report) (string, error) {
	if err := s.renderer.Render(s.w, report); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return "-", nil
}
