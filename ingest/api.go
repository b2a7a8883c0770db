package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"github.com/sijil-app/sijil/pocketbase/google"
)

// DefaultService is the run parameter value meaning "every registered service"
const DefaultService = "all"

const boolTrueStr = "true"

// requireAuth wraps a handler function to require authentication
func requireAuth(handler func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil {
			return apis.NewUnauthorizedError("Authentication required", nil)
		}
		return handler(e)
	}
}

// Global runner instance
var globalRunner *Runner
var runnerOnce sync.Once

// GetRunner returns the global ingest runner, registering the services on
// first use. The spreadsheet service is only registered when Google Sheets
// access is configured.
func GetRunner(app core.App) *Runner {
	runnerOnce.Do(func() {
		globalRunner = NewRunner(app)
		globalRunner.Register(NewCSVImport(app, ""))
		globalRunner.Register(NewPDFTextImport(app, ""))

		srv, err := google.NewSheetsClient(context.Background())
		if err != nil {
			slog.Error("Google Sheets client unavailable", "error", err)
		} else if srv != nil {
			globalRunner.Register(NewSheetImport(app, srv))
		}
	})
	return globalRunner
}

// InitializeIngestService sets up the ingest API endpoints
func InitializeIngestService(app *pocketbase.PocketBase, e *core.ServeEvent) error {
	runner := GetRunner(app)

	// CSV file upload endpoint. Saves the file where csv_import reads it,
	// backing up any previous upload. ?run=true chains the import.
	e.Router.POST("/api/custom/ingest/upload", requireAuth(func(e *core.RequestEvent) error {
		return handleUpload(e, app, runner)
	}))

	// Run endpoint: ?service=csv_import|sheet_import|pdf_import|all
	e.Router.POST("/api/custom/ingest/run", requireAuth(func(e *core.RequestEvent) error {
		return handleRun(e, runner)
	}))

	// Status endpoint
	e.Router.GET("/api/custom/ingest/status", requireAuth(func(e *core.RequestEvent) error {
		return handleStatus(e, runner)
	}))

	// CSV export endpoint
	e.Router.GET("/api/custom/ingest/export", requireAuth(func(e *core.RequestEvent) error {
		return handleExport(e, app)
	}))

	return nil
}

// handleRun starts one ingest service, or all of them in sequence.
func handleRun(e *core.RequestEvent, runner *Runner) error {
	service := e.Request.URL.Query().Get("service")
	if service == "" {
		service = DefaultService
	}

	if service == DefaultService {
		names := runner.ServiceNames()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
			defer cancel()
			if err := runner.RunSequence(ctx, names); err != nil {
				slog.Error("Ingest sequence aborted", "error", err)
			}
		}()
		return e.JSON(http.StatusOK, map[string]any{
			"message":  "Ingest sequence started",
			"status":   "started",
			"services": names,
		})
	}

	if err := runner.Start(service); err != nil {
		if runner.IsRunning(service) {
			return e.JSON(http.StatusConflict, map[string]any{
				"error":   "Ingest already in progress",
				"status":  "running",
				"service": service,
			})
		}
		return e.JSON(http.StatusBadRequest, map[string]any{
			"error": err.Error(),
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": fmt.Sprintf("%s started", service),
		"status":  "started",
		"service": service,
	})
}

// handleStatus returns the status of every registered ingest service.
func handleStatus(e *core.RequestEvent, runner *Runner) error {
	statuses := make(map[string]any)
	for _, name := range runner.ServiceNames() {
		if status := runner.GetStatus(name); status != nil {
			statuses[name] = status
		} else {
			statuses[name] = map[string]string{"status": "idle"}
		}
	}
	return e.JSON(http.StatusOK, statuses)
}

// handleExport streams the subscribers collection as a CSV download.
func handleExport(e *core.RequestEvent, app core.App) error {
	filename := fmt.Sprintf("subscribers_export_%s.csv", time.Now().Format("2006-01-02"))
	e.Response.Header().Set("Content-Type", "text/csv; charset=utf-8")
	e.Response.Header().Set("Content-Disposition", "attachment; filename="+filename)

	if err := ExportCSV(app, e.Response); err != nil {
		slog.Error("CSV export failed", "error", err)
		return err
	}
	return nil
}

// uploadResult holds the file read from a multipart form
type uploadResult struct {
	data     []byte
	filename string
}

// readFileFromMultipart extracts the uploaded file from a multipart form
func readFileFromMultipart(form *multipart.Reader) (*uploadResult, error) {
	var result uploadResult

	for {
		part, err := form.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading form data")
		}

		if part.FormName() == "file" {
			result.filename = part.FileName()
			result.data, err = io.ReadAll(part)
			if err != nil {
				_ = part.Close()
				return nil, fmt.Errorf("error reading uploaded file")
			}
		}
		if err := part.Close(); err != nil {
			slog.Warn("Error closing multipart part", "error", err)
		}
	}

	if len(result.data) == 0 {
		return nil, fmt.Errorf("no file provided")
	}

	// Strip UTF-8 BOM if present
	if len(result.data) >= 3 && result.data[0] == 0xEF && result.data[1] == 0xBB && result.data[2] == 0xBF {
		result.data = result.data[3:]
		slog.Info("Stripped UTF-8 BOM from uploaded file")
	}

	return &result, nil
}

// saveImportWithBackup writes the upload where csv_import reads it, renaming
// any previous upload to a dated backup first.
func saveImportWithBackup(importDir string, data []byte) (string, error) {
	if err := os.MkdirAll(importDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create import directory")
	}

	latestPath := filepath.Join(importDir, "subscribers.csv")

	if _, err := os.Stat(latestPath); err == nil {
		backupName := fmt.Sprintf("subscribers_backup_%s.csv", time.Now().Format("20060102_150405"))
		if err := os.Rename(latestPath, filepath.Join(importDir, backupName)); err != nil {
			slog.Warn("Failed to back up previous upload", "error", err)
		}
	}

	if err := os.WriteFile(latestPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to save uploaded file")
	}
	return latestPath, nil
}

// handleUpload handles the CSV file upload
func handleUpload(e *core.RequestEvent, app core.App, runner *Runner) error {
	form, err := e.Request.MultipartReader()
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]any{"error": "Invalid multipart form"})
	}

	upload, err := readFileFromMultipart(form)
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}

	// Validate the header before accepting the file
	lines := SplitRecords(string(upload.data))
	if len(lines) == 0 {
		return e.JSON(http.StatusBadRequest, map[string]any{"error": "Uploaded file is empty"})
	}
	if _, err := layoutFromHeader(ParseLine(lines[0], Delimiter)); err != nil {
		return e.JSON(http.StatusBadRequest, map[string]any{
			"error":   err.Error(),
			"details": "The header row must name account_number, subscriber_name, region and meter_number",
		})
	}

	importDir := filepath.Join(app.DataDir(), "imports")
	savedPath, err := saveImportWithBackup(importDir, upload.data)
	if err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	slog.Info("Import file saved", "path", savedPath, "size", len(upload.data))

	metadata := map[string]any{
		"filename":    upload.filename,
		"uploaded_at": time.Now().Format(time.RFC3339),
		"size":        len(upload.data),
	}
	metadataJSON, _ := json.MarshalIndent(metadata, "", "  ")
	if err := os.WriteFile(filepath.Join(importDir, "upload_metadata.json"), metadataJSON, 0600); err != nil {
		slog.Warn("Error writing upload metadata", "error", err)
	}

	runImport := e.Request.URL.Query().Get("run") == boolTrueStr
	if runImport {
		if err := runner.Start("csv_import"); err != nil {
			slog.Warn("Could not start import after upload", "error", err)
			runImport = false
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message":        "File uploaded successfully",
		"filename":       upload.filename,
		"size":           len(upload.data),
		"import_started": runImport,
	})
}
