package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// maxRestoreSize caps how much archive data the restore endpoint reads.
const maxRestoreSize = 2 << 30

// requireAuth wraps a handler function to require authentication
func requireAuth(handler func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil {
			return apis.NewUnauthorizedError("Authentication required", nil)
		}
		return handler(e)
	}
}

// Global archiver instance
var globalArchiver *Archiver
var archiverOnce sync.Once

// GetArchiver returns the global archiver instance
func GetArchiver(app core.App) *Archiver {
	archiverOnce.Do(func() {
		globalArchiver = NewArchiver(app)
	})
	return globalArchiver
}

// InitializeBackupService sets up the backup API endpoints
func InitializeBackupService(app *pocketbase.PocketBase, e *core.ServeEvent) error {
	archiver := GetArchiver(app)

	// Run a backup in the background
	e.Router.POST("/api/custom/backup/run", requireAuth(func(e *core.RequestEvent) error {
		return handleBackupRun(e, archiver)
	}))

	// Archiver state and available archives
	e.Router.GET("/api/custom/backup/status", requireAuth(func(e *core.RequestEvent) error {
		return handleBackupStatus(e, archiver)
	}))

	// Download a named archive
	e.Router.GET("/api/custom/backup/download/{name}", requireAuth(func(e *core.RequestEvent) error {
		return handleBackupDownload(e, archiver)
	}))

	// Restore from an uploaded archive or bare snapshot
	e.Router.POST("/api/custom/backup/restore", requireAuth(func(e *core.RequestEvent) error {
		return handleBackupRestore(e, app)
	}))

	return nil
}

// handleBackupRun launches a backup unless one is in flight.
func handleBackupRun(e *core.RequestEvent, archiver *Archiver) error {
	switch archiver.State() {
	case StateCollectingTables, StateCollectingAssets, StatePacking:
		return e.JSON(http.StatusConflict, map[string]any{
			"error": "Backup already in progress",
			"state": string(archiver.State()),
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		if _, err := archiver.Run(ctx); err != nil {
			slog.Error("Backup failed", "error", err)
		}
	}()

	return e.JSON(http.StatusOK, map[string]any{
		"message": "Backup started",
		"status":  "started",
	})
}

// handleBackupStatus reports the archiver state and the stored archives.
func handleBackupStatus(e *core.RequestEvent, archiver *Archiver) error {
	archives, err := archiver.ListArchives()
	if err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]any{
			"error": "Failed to list archives",
		})
	}
	return e.JSON(http.StatusOK, map[string]any{
		"state":    string(archiver.State()),
		"archives": archives,
	})
}

// handleBackupDownload serves one archive by name.
func handleBackupDownload(e *core.RequestEvent, archiver *Archiver) error {
	name := e.Request.PathValue("name")
	if name == "" || name != filepath.Base(name) ||
		!strings.HasPrefix(name, "sijil_backup_") || !strings.HasSuffix(name, ".zip") {
		return e.JSON(http.StatusBadRequest, map[string]any{
			"error": "Invalid archive name",
		})
	}

	e.Response.Header().Set("Content-Type", "application/zip")
	e.Response.Header().Set("Content-Disposition", "attachment; filename="+name)
	http.ServeFile(e.Response, e.Request, filepath.Join(archiver.Dir(), name))
	return nil
}

// handleBackupRestore applies an uploaded archive to the store.
func handleBackupRestore(e *core.RequestEvent, app core.App) error {
	data, err := io.ReadAll(io.LimitReader(e.Request.Body, maxRestoreSize))
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]any{
			"error": "Failed to read uploaded archive",
		})
	}
	if len(data) == 0 {
		return e.JSON(http.StatusBadRequest, map[string]any{
			"error": "No archive provided",
		})
	}

	result, err := NewRestorer(app).Restore(data)
	if err != nil {
		if errors.Is(err, ErrInvalidArchive) {
			return e.JSON(http.StatusBadRequest, map[string]any{
				"error": err.Error(),
			})
		}
		slog.Error("Restore failed", "error", err)
		return e.JSON(http.StatusInternalServerError, map[string]any{
			"error": "Restore failed",
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": "Restore complete",
		"applied": result,
	})
}
