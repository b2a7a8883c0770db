package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pocketbase/pocketbase/core"
)

// PDFTextImport recovers (account, meter) pairs from text extracted off
// scanned billing ledgers and upserts them into the store. The text file is
// produced upstream by the page OCR step; this service only sees plain text.
type PDFTextImport struct {
	app   core.App
	path  string
	stats Stats
}

// NewPDFTextImport creates the extraction ingest service. An empty path falls
// back to imports/extracted_pages.txt under the data directory.
func NewPDFTextImport(app core.App, path string) *PDFTextImport {
	if path == "" {
		path = filepath.Join(app.DataDir(), "imports", "extracted_pages.txt")
	}
	return &PDFTextImport{app: app, path: path}
}

// Name returns the service name.
func (s *PDFTextImport) Name() string { return "pdf_import" }

// GetStats returns the counters of the last run.
func (s *PDFTextImport) GetStats() Stats { return s.stats }

// Run scans the extracted text for pairs and upserts them. Re-running over the
// same pages is safe: existing pairs count as duplicates, not inserts.
func (s *PDFTextImport) Run(ctx context.Context) error {
	s.stats = Stats{}

	slog.Info("Starting PDF text import", "path", s.path)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading extracted text: %w", err)
	}

	rc := NewRunContext()
	pairs := ExtractPairs(string(raw), rc)
	slog.Info("Extraction finished", "pairs", len(pairs))

	result, err := NewUpsertLoader(s.app).LoadPairs(ctx, pairs)
	if err != nil {
		return fmt.Errorf("upsert load: %w", err)
	}

	s.stats = Stats{
		Processed:  len(pairs),
		Uploaded:   result.Inserted,
		Duplicates: result.Duplicates,
		Failed:     result.Failed,
	}

	slog.Info("PDF text import complete",
		"pairs", s.stats.Processed, "inserted", s.stats.Uploaded,
		"duplicates", s.stats.Duplicates, "failed", s.stats.Failed)

	AppendActivityLog(s.app, "pdf_import",
		fmt.Sprintf("pairs=%d inserted=%d duplicates=%d failed=%d source=%s",
			s.stats.Processed, s.stats.Uploaded, s.stats.Duplicates, s.stats.Failed,
			filepath.Base(s.path)))

	return nil
}
