package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"google.golang.org/api/sheets/v4"

	"github.com/sijil-app/sijil/pocketbase/google"
)

// headerAliases maps the column headings seen in field-office spreadsheets to
// canonical field names. The Arabic variants are the ones the offices actually
// use; the English names let test sheets work too.
var headerAliases = map[string]string{
	"account_number":  "account_number",
	"رقم الحساب":      "account_number",
	"رقم المشترك":     "account_number",
	"subscriber_name": "subscriber_name",
	"اسم المشترك":     "subscriber_name",
	"الاسم":           "subscriber_name",
	"region":          "region",
	"المنطقة":         "region",
	"الحي":            "region",
	"meter_number":    "meter_number",
	"رقم العداد":      "meter_number",
	"category":        "category",
	"الفئة":           "category",
	"نوع الاشتراك":    "category",
	"last_reading":    "last_reading",
	"آخر قراءة":       "last_reading",
	"القراءة الأخيرة": "last_reading",
}

// SheetImport loads subscriber rows from the configured Google spreadsheet.
// The first tab is read whole; headers are matched by alias so offices can
// keep their own column order.
type SheetImport struct {
	app    core.App
	sheets *sheets.Service
	stats  Stats
}

// NewSheetImport creates the spreadsheet ingest service.
func NewSheetImport(app core.App, srv *sheets.Service) *SheetImport {
	return &SheetImport{app: app, sheets: srv}
}

// Name returns the service name.
func (s *SheetImport) Name() string { return "sheet_import" }

// GetStats returns the counters of the last run.
func (s *SheetImport) GetStats() Stats { return s.stats }

// Run fetches the first sheet, maps its headers, builds canonical records and
// bulk-loads them.
func (s *SheetImport) Run(ctx context.Context) error {
	s.stats = Stats{}

	if s.sheets == nil {
		return fmt.Errorf("spreadsheet ingest is not configured (set GOOGLE_SHEETS_ENABLED)")
	}
	spreadsheetID := google.GetSpreadsheetID()
	if spreadsheetID == "" {
		return fmt.Errorf("GOOGLE_SHEETS_SPREADSHEET_ID is not set")
	}

	title, err := google.FirstSheetTitle(s.sheets, spreadsheetID)
	if err != nil {
		return err
	}

	slog.Info("Starting sheet import", "spreadsheet", spreadsheetID, "sheet", title)

	resp, err := s.sheets.Spreadsheets.Values.Get(spreadsheetID, title).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet values: %w", err)
	}
	if len(resp.Values) == 0 {
		return fmt.Errorf("sheet %s is empty", title)
	}

	columns, err := mapHeaderRow(resp.Values[0])
	if err != nil {
		return err
	}

	rc := NewRunContext()
	var records []CanonicalRecord

	for i, row := range resp.Values[1:] {
		values := make(map[string]string, len(columns))
		for field, idx := range columns {
			if idx < len(row) {
				values[field] = stringify(row[idx])
			}
		}

		rec, reason := BuildFromMap(values, rc)
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

	slog.Info("Sheet import complete",
		"processed", s.stats.Processed, "uploaded", s.stats.Uploaded,
		"rejected", s.stats.Rejected, "failed", s.stats.Failed)

	AppendActivityLog(s.app, "sheet_import",
		fmt.Sprintf("uploaded=%d failed=%d rejected=%d sheet=%s",
			s.stats.Uploaded, s.stats.Failed, s.stats.Rejected, title))

	return nil
}

// mapHeaderRow resolves header cells to canonical field names through the
// alias table. The identifying columns must all be present.
func mapHeaderRow(header []any) (map[string]int, error) {
	columns := make(map[string]int)
	for i, cell := range header {
		name := strings.ToLower(CleanText(cell))
		if canonical, ok := headerAliases[name]; ok {
			if _, taken := columns[canonical]; !taken {
				columns[canonical] = i
			}
		}
	}

	for _, required := range []string{"account_number", "subscriber_name", "region", "meter_number"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("sheet header is missing a %s column", required)
		}
	}
	return columns, nil
}
