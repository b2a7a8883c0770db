package backup

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pocketbase/pocketbase/core"
)

// ErrInvalidArchive means the uploaded data is not a backup this version can
// apply. Nothing is written to the store when it is returned.
var ErrInvalidArchive = errors.New("invalid or unrecognized backup archive")

// acceptedSchemaVersions are the snapshot versions restore can apply. Version
// 1 predates the sessions capture and restores without it.
var acceptedSchemaVersions = map[string]bool{
	"1": true,
	"2": true,
}

var zipMagic = []byte("PK\x03\x04")

// RestoreResult reports what a successful restore applied.
type RestoreResult struct {
	Users        int `json:"users"`
	Records      int `json:"records"`
	ActivityLogs int `json:"activity_logs"`
	Photos       int `json:"photos"`
	Sessions     int `json:"sessions"`
}

// Restorer applies a backup archive to the store. The whole restore is one
// transaction: it applies completely or the store is untouched.
type Restorer struct {
	app core.App
}

// NewRestorer creates a restorer.
func NewRestorer(app core.App) *Restorer {
	return &Restorer{app: app}
}

// Restore reads, validates and applies a backup. Both full zip archives and
// bare backup_data.json snapshots are accepted; photo binaries are carried by
// the photo records already in storage and are not re-uploaded here.
func (r *Restorer) Restore(data []byte) (*RestoreResult, error) {
	snapshot, photoEntries, err := readSnapshot(data)
	if err != nil {
		return nil, err
	}

	if err := validateSnapshot(snapshot, photoEntries); err != nil {
		return nil, err
	}

	slog.Info("Applying backup",
		"backup_date", snapshot.Metadata.BackupDate,
		"schema_version", snapshot.Metadata.SchemaVersion,
		"records", snapshot.Metadata.TotalRecords,
		"users", snapshot.Metadata.TotalUsers,
		"photos", snapshot.Metadata.TotalPhotos)

	result := &RestoreResult{}
	err = r.app.RunInTransaction(func(txApp core.App) error {
		plan := []struct {
			collection string
			rows       []map[string]any
			count      *int
		}{
			{CollectionUsers, snapshot.Users, &result.Users},
			{CollectionSubscribers, snapshot.Records, &result.Records},
			{CollectionActivityLogs, snapshot.ActivityLogs, &result.ActivityLogs},
			{CollectionPhotos, snapshot.Photos, &result.Photos},
			{CollectionSessions, snapshot.Sessions, &result.Sessions},
		}
		for _, step := range plan {
			n, err := upsertRows(txApp, step.collection, step.rows)
			if err != nil {
				return err
			}
			*step.count = n
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("applying backup: %w", err)
	}

	slog.Info("Restore complete",
		"users", result.Users, "records", result.Records,
		"activity_logs", result.ActivityLogs, "photos", result.Photos,
		"sessions", result.Sessions)
	return result, nil
}

// readSnapshot decodes the upload: a zip archive carrying backup_data.json,
// or the bare JSON snapshot itself. For zips the photos/ entry count is
// returned for validation; bare snapshots return -1 since they carry no
// binaries.
func readSnapshot(data []byte) (*Snapshot, int, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return readZipSnapshot(data)
	}

	raw, err := decodeSnapshotJSON(data)
	if err != nil {
		return nil, 0, err
	}
	return raw, -1, nil
}

func readZipSnapshot(data []byte) (*Snapshot, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var snapshot *Snapshot
	photoEntries := 0
	for _, file := range zr.File {
		switch {
		case file.Name == SnapshotName:
			rc, err := file.Open()
			if err != nil {
				return nil, 0, fmt.Errorf("%w: opening snapshot: %v", ErrInvalidArchive, err)
			}
			decoded, decErr := decodeSnapshotReader(rc)
			rc.Close()
			if decErr != nil {
				return nil, 0, decErr
			}
			snapshot = decoded
		case strings.HasPrefix(file.Name, "photos/") && !strings.HasSuffix(file.Name, "/"):
			photoEntries++
		}
	}

	if snapshot == nil {
		return nil, 0, fmt.Errorf("%w: missing %s", ErrInvalidArchive, SnapshotName)
	}
	return snapshot, photoEntries, nil
}

// rawSnapshot mirrors Snapshot with raw sections so validation can tell a
// missing key from an empty one.
type rawSnapshot struct {
	Metadata     *Metadata        `json:"metadata"`
	Users        *json.RawMessage `json:"users"`
	Records      []map[string]any `json:"records"`
	ActivityLogs []map[string]any `json:"activity_logs"`
	Photos       []map[string]any `json:"photos"`
	Sessions     []map[string]any `json:"sessions"`
}

func decodeSnapshotJSON(data []byte) (*Snapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return liftRawSnapshot(raw)
}

func decodeSnapshotReader(r io.Reader) (*Snapshot, error) {
	var raw rawSnapshot
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return liftRawSnapshot(raw)
}

func liftRawSnapshot(raw rawSnapshot) (*Snapshot, error) {
	if raw.Metadata == nil {
		return nil, fmt.Errorf("%w: missing metadata", ErrInvalidArchive)
	}
	if raw.Users == nil {
		return nil, fmt.Errorf("%w: missing users section", ErrInvalidArchive)
	}

	var users []map[string]any
	if err := json.Unmarshal(*raw.Users, &users); err != nil {
		return nil, fmt.Errorf("%w: bad users section: %v", ErrInvalidArchive, err)
	}

	return &Snapshot{
		Metadata:     *raw.Metadata,
		Users:        users,
		Records:      raw.Records,
		ActivityLogs: raw.ActivityLogs,
		Photos:       raw.Photos,
		Sessions:     raw.Sessions,
	}, nil
}

// validateSnapshot cross-checks the metadata counts against the actual
// sections before anything touches the store. photoEntries < 0 means the
// upload carried no binaries (bare JSON) and the entry check is skipped.
func validateSnapshot(s *Snapshot, photoEntries int) error {
	if !acceptedSchemaVersions[s.Metadata.SchemaVersion] {
		return fmt.Errorf("%w: unsupported schema_version %q",
			ErrInvalidArchive, s.Metadata.SchemaVersion)
	}
	if s.Metadata.TotalUsers != len(s.Users) {
		return fmt.Errorf("%w: metadata says %d users, snapshot has %d",
			ErrInvalidArchive, s.Metadata.TotalUsers, len(s.Users))
	}
	if s.Metadata.TotalRecords != len(s.Records) {
		return fmt.Errorf("%w: metadata says %d records, snapshot has %d",
			ErrInvalidArchive, s.Metadata.TotalRecords, len(s.Records))
	}
	if s.Metadata.TotalPhotos != len(s.Photos) {
		return fmt.Errorf("%w: metadata says %d photos, snapshot has %d",
			ErrInvalidArchive, s.Metadata.TotalPhotos, len(s.Photos))
	}
	if photoEntries >= 0 && photoEntries != len(s.Photos) {
		return fmt.Errorf("%w: snapshot lists %d photos, archive carries %d binaries",
			ErrInvalidArchive, len(s.Photos), photoEntries)
	}
	return nil
}

// fields never written back on restore. The file field stays as stored since
// binaries are not re-uploaded through this path.
var skippedFields = map[string]bool{
	"id":             true,
	"collectionId":   true,
	"collectionName": true,
	"expand":         true,
	"photo_entry":    true,
}

// upsertRows applies snapshot rows to one collection, matching by id.
func upsertRows(app core.App, collectionName string, rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	collection, err := app.FindCollectionByNameOrId(collectionName)
	if err != nil {
		return 0, fmt.Errorf("finding collection %s: %w", collectionName, err)
	}

	applied := 0
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			return applied, fmt.Errorf("%s row without an id", collectionName)
		}

		record, err := app.FindRecordById(collection, id)
		if err != nil {
			record = core.NewRecord(collection)
			record.Id = id
		}

		for field, value := range row {
			if skippedFields[field] {
				continue
			}
			record.Set(field, value)
		}

		if err := app.Save(record); err != nil {
			return applied, fmt.Errorf("saving %s/%s: %w", collectionName, id, err)
		}
		applied++
	}
	return applied, nil
}
