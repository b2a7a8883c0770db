// Package backup archives the full subscriber store into a portable zip and
// restores from one. An archive is a single backup_data.json snapshot of every
// collection plus the photo binaries under photos/.
package backup

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sijil-app/sijil/pocketbase/ratelimit"
)

// Collections captured in a snapshot.
const (
	CollectionUsers        = "users"
	CollectionSubscribers  = "subscribers"
	CollectionActivityLogs = "activity_logs"
	CollectionPhotos       = "subscriber_photos"
	CollectionSessions     = "_authOrigins"
)

// SchemaVersion is written into every new archive. Restores accept this
// version and the ones listed in acceptedSchemaVersions.
const SchemaVersion = "2"

// SnapshotName is the JSON entry inside every archive.
const SnapshotName = "backup_data.json"

const fetchPageSize = 500

// State tracks where an archiver run currently is. Failures are terminal for
// the run; the next Run starts over from collecting_tables.
type State string

// Archiver states.
const (
	StateIdle             State = "idle"
	StateCollectingTables State = "collecting_tables"
	StateCollectingAssets State = "collecting_assets"
	StatePacking          State = "packing"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Metadata describes the snapshot and pins the counts validation checks on
// restore.
type Metadata struct {
	BackupDate    string `json:"backup_date"`
	TotalRecords  int    `json:"total_records"`
	TotalPhotos   int    `json:"total_photos"`
	TotalUsers    int    `json:"total_users"`
	SchemaVersion string `json:"schema_version"`
}

// Snapshot is the JSON document embedded in every archive. The photos array
// and the binary entries always agree: a photo whose binary could not be
// fetched is dropped from both.
type Snapshot struct {
	Metadata     Metadata         `json:"metadata"`
	Users        []map[string]any `json:"users"`
	Records      []map[string]any `json:"records"`
	ActivityLogs []map[string]any `json:"activity_logs"`
	Photos       []map[string]any `json:"photos"`
	Sessions     []map[string]any `json:"sessions"`
}

type asset struct {
	name string
	data []byte
}

// Archiver builds backup archives under <data>/backups.
type Archiver struct {
	app     core.App
	dir     string
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter

	mu    sync.Mutex
	state State

	// assets staged by the last collectAssets pass, consumed by pack
	assets []asset
}

// NewArchiver creates an archiver writing into the backups directory under
// the data dir. Photo binaries are fetched over the app's own file API;
// SIJIL_BASE_URL overrides the advertised app URL for deployments behind a
// proxy.
func NewArchiver(app core.App) *Archiver {
	baseURL := strings.TrimSpace(os.Getenv("SIJIL_BASE_URL"))
	if baseURL == "" {
		baseURL = app.Settings().Meta.AppURL
	}
	return &Archiver{
		app:     app,
		dir:     filepath.Join(app.DataDir(), "backups"),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: ratelimit.New(nil),
		state:   StateIdle,
	}
}

// Dir returns the archive directory.
func (a *Archiver) Dir() string { return a.dir }

// State returns the current archiver state.
func (a *Archiver) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Archiver) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Run builds one archive and returns its path.
func (a *Archiver) Run(ctx context.Context) (string, error) {
	archivePath, err := a.run(ctx)
	if err != nil {
		a.setState(StateFailed)
		return "", err
	}
	a.setState(StateDone)
	return archivePath, nil
}

func (a *Archiver) run(ctx context.Context) (string, error) {
	start := time.Now()
	a.setState(StateCollectingTables)
	slog.Info("Backup started")

	snapshot := Snapshot{}
	var err error
	if snapshot.Users, err = a.dumpCollection(CollectionUsers); err != nil {
		return "", err
	}
	if snapshot.Records, err = a.dumpCollection(CollectionSubscribers); err != nil {
		return "", err
	}
	if snapshot.ActivityLogs, err = a.dumpCollection(CollectionActivityLogs); err != nil {
		return "", err
	}
	if snapshot.Sessions, err = a.dumpCollection(CollectionSessions); err != nil {
		return "", err
	}

	photoRows, err := a.dumpCollection(CollectionPhotos)
	if err != nil {
		return "", err
	}

	a.setState(StateCollectingAssets)
	snapshot.Photos, err = a.collectAssets(ctx, photoRows)
	if err != nil {
		return "", err
	}

	snapshot.Metadata = Metadata{
		BackupDate:    time.Now().UTC().Format(time.RFC3339),
		TotalRecords:  len(snapshot.Records),
		TotalPhotos:   len(snapshot.Photos),
		TotalUsers:    len(snapshot.Users),
		SchemaVersion: SchemaVersion,
	}

	a.setState(StatePacking)
	archivePath, err := a.pack(snapshot)
	if err != nil {
		return "", err
	}

	slog.Info("Backup complete",
		"path", archivePath,
		"records", snapshot.Metadata.TotalRecords,
		"photos", snapshot.Metadata.TotalPhotos,
		"users", snapshot.Metadata.TotalUsers,
		"duration", time.Since(start).Round(time.Second))
	return archivePath, nil
}

// dumpCollection exports every record of a collection as its public JSON
// shape, paginated in creation order.
func (a *Archiver) dumpCollection(collection string) ([]map[string]any, error) {
	rows := []map[string]any{}
	offset := 0
	for {
		records, err := a.app.FindRecordsByFilter(collection, "id != ''", "created", fetchPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("dumping %s at offset %d: %w", collection, offset, err)
		}
		for _, record := range records {
			rows = append(rows, record.PublicExport())
		}
		if len(records) < fetchPageSize {
			return rows, nil
		}
		offset += fetchPageSize
	}
}

// collectAssets fetches each photo binary and stages it for packing. A photo
// whose binary cannot be fetched is logged and omitted from the snapshot so
// the photo rows and the packed binaries always agree.
func (a *Archiver) collectAssets(ctx context.Context, photoRows []map[string]any) ([]map[string]any, error) {
	kept := []map[string]any{}
	a.assets = a.assets[:0]

	for _, row := range photoRows {
		id, _ := row["id"].(string)
		filename, _ := row["photo"].(string)
		if filename == "" {
			slog.Warn("Photo record without a file, skipping", "record", id)
			continue
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, err := a.fetchAsset(ctx, id, filename)
		if err != nil {
			slog.Warn("Photo fetch failed, omitting from backup",
				"record", id, "file", filename, "error", err)
			continue
		}

		entryName := photoEntryName(id, row, filename)
		row["photo_entry"] = entryName
		a.assets = append(a.assets, asset{name: entryName, data: data})
		kept = append(kept, row)
	}

	return kept, nil
}

func (a *Archiver) fetchAsset(ctx context.Context, recordID, filename string) ([]byte, error) {
	url := fmt.Sprintf("%s/api/files/%s/%s/%s", a.baseURL, CollectionPhotos, recordID, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.limiter.HandleError(err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	a.limiter.Success()
	return io.ReadAll(resp.Body)
}

// photoEntryName builds the deterministic zip entry for a photo binary:
// photos/<recordID>_<role><ext>. Records without a role fall back to their
// creation timestamp so two roleless photos of one subscriber cannot collide.
func photoEntryName(recordID string, row map[string]any, filename string) string {
	role, _ := row["role"].(string)
	if role == "" {
		created, _ := row["created"].(string)
		role = strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, created)
		if role == "" {
			role = "photo"
		}
	}
	return "photos/" + recordID + "_" + role + path.Ext(filename)
}

// pack writes the snapshot and staged assets into a dated zip file.
func (a *Archiver) pack(snapshot Snapshot) (string, error) {
	if err := os.MkdirAll(a.dir, 0750); err != nil {
		return "", fmt.Errorf("creating backup dir: %w", err)
	}

	now := time.Now()
	name := fmt.Sprintf("sijil_backup_%s_%s.zip",
		now.Format("2006-01-02"), now.Format("150405"))
	archivePath := filepath.Join(a.dir, name)

	f, err := os.Create(archivePath) //nolint:gosec // G304: path is built from the data dir
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}

	zw := zip.NewWriter(f)

	if err := writeArchive(zw, snapshot, a.assets); err != nil {
		zw.Close()
		f.Close()
		return "", err
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("finalizing archive: %w", err)
	}
	return archivePath, f.Close()
}

func writeArchive(zw *zip.Writer, snapshot Snapshot, assets []asset) error {
	w, err := zw.Create(SnapshotName)
	if err != nil {
		return fmt.Errorf("creating snapshot entry: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	for _, a := range assets {
		w, err := zw.Create(a.name)
		if err != nil {
			return fmt.Errorf("creating entry %s: %w", a.name, err)
		}
		if _, err := w.Write(a.data); err != nil {
			return fmt.Errorf("writing entry %s: %w", a.name, err)
		}
	}
	return nil
}

// ListArchives returns the archive filenames, newest first.
func (a *Archiver) ListArchives() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "sijil_backup_") &&
			strings.HasSuffix(entry.Name(), ".zip") {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Prune deletes all but the newest keep archives.
func (a *Archiver) Prune(keep int) error {
	names, err := a.ListArchives()
	if err != nil {
		return err
	}
	if len(names) <= keep {
		return nil
	}

	for _, name := range names[keep:] {
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil {
			slog.Warn("Failed to prune archive", "name", name, "error", err)
			continue
		}
		slog.Info("Pruned old archive", "name", name)
	}
	return nil
}
