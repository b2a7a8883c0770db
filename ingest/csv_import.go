package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pocketbase/pocketbase/core"
)

// Delimiter is the field separator for all delimited subscriber files.
const Delimiter = ','

// csvHeader is the fixed export column order. Input files must carry a header
// row naming at least the first six columns, in any order.
var csvHeader = []string{
	"account_number",
	"subscriber_name",
	"region",
	"meter_number",
	"category",
	"last_reading",
	"status",
	"is_refused",
}

// CSVImport loads a delimited subscriber file into the store.
type CSVImport struct {
	app   core.App
	path  string
	stats Stats
}

// NewCSVImport creates the CSV ingest service. An empty path falls back to
// imports/subscribers.csv under the data directory.
func NewCSVImport(app core.App, path string) *CSVImport {
	if path == "" {
		path = filepath.Join(app.DataDir(), "imports", "subscribers.csv")
	}
	return &CSVImport{app: app, path: path}
}

// Name returns the service name.
func (s *CSVImport) Name() string { return "csv_import" }

// GetStats returns the counters of the last run.
func (s *CSVImport) GetStats() Stats { return s.stats }

// Run reads the file, builds canonical records and bulk-loads them. A missing
// file or unusable header is a setup failure; bad rows are counted and
// skipped.
func (s *CSVImport) Run(ctx context.Context) error {
	s.stats = Stats{}

	slog.Info("Starting CSV import", "path", s.path)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading input file: %w", err)
	}

	content := strings.TrimPrefix(string(raw), "\uFEFF")
	lines := SplitRecords(content)
	if len(lines) == 0 {
		return fmt.Errorf("input file %s is empty", s.path)
	}

	layout, err := layoutFromHeader(ParseLine(lines[0], Delimiter))
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	rc := NewRunContext()
	var records []CanonicalRecord

	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, reason := BuildFromFields(ParseLine(line, Delimiter), layout, rc)
		if rec == nil {
			slog.Debug("Row rejected", "row", i+2, "reason", string(reason))
			continue
		}
		records = append(records, *rec)
	}

	for _, preview := range rc.PreviewLines() {
		slog.Info("Preview " + preview)
	}

	result, err := NewBulkLoader(s.app).Load(ctx, records)
	if err != nil {
		return fmt.Errorf("bulk load: %w", err)
	}

	s.stats = Stats{
		Processed: rc.Processed,
		Uploaded:  result.Uploaded,
		Rejected:  rc.Rejected,
		Failed:    result.Failed,
	}

	slog.Info("CSV import complete",
		"processed", s.stats.Processed, "uploaded", s.stats.Uploaded,
		"rejected", s.stats.Rejected, "failed", s.stats.Failed)

	AppendActivityLog(s.app, "csv_import",
		fmt.Sprintf("uploaded=%d failed=%d rejected=%d source=%s",
			s.stats.Uploaded, s.stats.Failed, s.stats.Rejected, filepath.Base(s.path)))

	return nil
}

// layoutFromHeader locates the six canonical columns in the header row.
// The identifying columns are required; category and last_reading may be
// absent and then never contribute.
func layoutFromHeader(header []string) (ColumnLayout, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(CleanText(name))] = i
	}

	var missing []string
	at := func(name string) int {
		if idx, ok := index[name]; ok {
			return idx
		}
		missing = append(missing, name)
		return -1
	}

	layout := ColumnLayout{
		Account: at("account_number"),
		Name:    at("subscriber_name"),
		Region:  at("region"),
		Meter:   at("meter_number"),
	}
	if len(missing) > 0 {
		return ColumnLayout{}, fmt.Errorf("missing required columns: %v (found: %v)", missing, header)
	}

	// Optional columns: point past any real field when absent
	layout.Category = optionalColumn(index, "category", len(header))
	layout.LastReading = optionalColumn(index, "last_reading", len(header))

	return layout, nil
}

func optionalColumn(index map[string]int, name string, fallback int) int {
	if idx, ok := index[name]; ok {
		return idx
	}
	return fallback
}
