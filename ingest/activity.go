package ingest

import (
	"log/slog"

	"github.com/pocketbase/pocketbase/core"
)

// CollectionActivityLogs is the audit trail collection.
const CollectionActivityLogs = "activity_logs"

// AppendActivityLog writes an audit entry. Fire-and-forget: a failed append
// is logged and swallowed so it can never fail the operation being audited.
func AppendActivityLog(app core.App, action, details string) {
	collection, err := app.FindCollectionByNameOrId(CollectionActivityLogs)
	if err != nil {
		slog.Warn("Activity log collection unavailable", "error", err)
		return
	}

	record := core.NewRecord(collection)
	record.Set("action", action)
	record.Set("details", details)

	if err := app.Save(record); err != nil {
		slog.Warn("Failed to append activity log", "action", action, "error", err)
	}
}
