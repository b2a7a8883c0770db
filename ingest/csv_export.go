package ingest

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pocketbase/pocketbase/core"
)

// exportPageSize is how many subscriber rows one store query fetches while
// streaming an export.
const exportPageSize = 500

// ExportCSV streams every subscriber as delimited text. The output starts
// with a UTF-8 BOM so spreadsheet tools pick up the Arabic fields, then the
// fixed header, then one line per record in creation order. Every line is
// produced by WriteLine so the file re-imports losslessly.
func ExportCSV(app core.App, w io.Writer) error {
	if _, err := w.Write([]byte("\uFEFF")); err != nil {
		return fmt.Errorf("writing BOM: %w", err)
	}
	if _, err := io.WriteString(w, WriteLine(csvHeader, Delimiter)+"\n"); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	offset := 0
	for {
		records, err := app.FindRecordsByFilter(
			CollectionSubscribers, "id != ''", "created", exportPageSize, offset)
		if err != nil {
			return fmt.Errorf("fetching subscribers at offset %d: %w", offset, err)
		}
		if len(records) == 0 {
			return nil
		}

		for _, record := range records {
			fields := []string{
				record.GetString("account_number"),
				record.GetString("subscriber_name"),
				record.GetString("region"),
				record.GetString("meter_number"),
				record.GetString("category"),
				record.GetString("last_reading"),
				record.GetString("status"),
				strconv.FormatBool(record.GetBool("is_refused")),
			}
			if _, err := io.WriteString(w, WriteLine(fields, Delimiter)+"\n"); err != nil {
				return fmt.Errorf("writing record %s: %w", record.Id, err)
			}
		}

		if len(records) < exportPageSize {
			return nil
		}
		offset += exportPageSize
	}
}
