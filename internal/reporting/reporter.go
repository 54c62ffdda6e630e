// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/rules"
)

// Formats lists the accepted output formats.
var Formats = []string{"text", "json", "sarif", "markdown"}

// Reporter defines the interface for writing scan results to an output.
type Reporter interface {
	// Write records the result of one unit.
	Write(result core.ScanResult) error
	// Close renders the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// Options configures a reporter.
type Options struct {
	ToolVersion string
	// Catalog describes the rules in the run. SARIF uses it for rule descriptors, the
	// human formats for remediation text of rules missing from a finding.
	Catalog []rules.Metadata
}

// New creates a new reporter based on the specified format and output path. An empty
// path, "-" or "stdout" writes to stdout.
func New(format, outputPath string, opts Options) (Reporter, error) {
	var build func(io.WriteCloser, Options) Reporter
	switch format {
	case "sarif":
		build = func(w io.WriteCloser, o Options) Reporter { return NewSARIFReporter(w, o) }
	case "json":
		build = func(w io.WriteCloser, o Options) Reporter { return NewJSONReporter(w, o) }
	case "markdown", "md":
		build = func(w io.WriteCloser, o Options) Reporter { return NewMarkdownReporter(w, o) }
	case "text", "":
		build = func(w io.WriteCloser, o Options) Reporter { return NewTextReporter(w, o) }
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "-" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return build(writer, opts), nil
}

// collector buffers results until Close. Write may be called from several goroutines.
type collector struct {
	mu      sync.Mutex
	results []core.ScanResult
	closed  bool
}

func (c *collector) add(result core.ScanResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("reporter is closed; dropping result for %s", result.UnitID)
	}
	c.results = append(c.results, result)
	return nil
}

// drain marks the collector closed and returns its results ordered by unit id.
func (c *collector) drain() ([]core.ScanResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("reporter already closed")
	}
	c.closed = true
	out := append([]core.ScanResult(nil), c.results...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

// finish closes w after a render, preferring the render error.
func finish(w io.Closer, renderErr error) error {
	closeErr := w.Close()
	if renderErr != nil {
		return renderErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

// catalogIndex maps rule ids to their metadata.
func catalogIndex(catalog []rules.Metadata) map[string]rules.Metadata {
	m := make(map[string]rules.Metadata, len(catalog))
	for _, meta := range catalog {
		m[meta.ID] = meta
	}
	return m
}

// statusText describes a unit that did not complete cleanly.
func statusText(r core.ScanResult) string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Status, r.Err)
	}
	return string(r.Status)
}

func sortedIDs(catalog map[string]rules.Metadata) []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
