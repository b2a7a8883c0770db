package backup

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func zipArchive(t *testing.T, snapshot Snapshot, assets []asset) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeArchive(zw, snapshot, assets); err != nil {
		t.Fatalf("building test archive: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadSnapshotZip(t *testing.T) {
	data := zipArchive(t, sampleSnapshot(),
		[]asset{{name: "photos/pho1_front.jpg", data: []byte("jpeg")}})

	snapshot, photoEntries, err := readSnapshot(data)
	if err != nil {
		t.Fatalf("readSnapshot failed: %v", err)
	}
	if photoEntries != 1 {
		t.Errorf("photo entries = %d, want 1", photoEntries)
	}
	if snapshot.Metadata.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %q", snapshot.Metadata.SchemaVersion)
	}
	if len(snapshot.Users) != 1 || len(snapshot.Records) != 1 {
		t.Errorf("sections lost: %d users, %d records",
			len(snapshot.Users), len(snapshot.Records))
	}
}

func TestReadSnapshotBareJSON(t *testing.T) {
	raw, err := json.Marshal(sampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}

	snapshot, photoEntries, err := readSnapshot(raw)
	if err != nil {
		t.Fatalf("readSnapshot failed: %v", err)
	}
	if photoEntries != -1 {
		t.Errorf("bare JSON should report no binaries, got %d", photoEntries)
	}
	if snapshot.Metadata.TotalUsers != 1 {
		t.Errorf("metadata lost: %+v", snapshot.Metadata)
	}
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not json not zip", []byte("hello world")},
		{"truncated zip", []byte("PK\x03\x04broken")},
		{"empty", nil},
		{"json array", []byte(`[1,2,3]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := readSnapshot(tt.data)
			if !errors.Is(err, ErrInvalidArchive) {
				t.Errorf("err = %v, want ErrInvalidArchive", err)
			}
		})
	}
}

func TestReadSnapshotRequiresUsersSection(t *testing.T) {
	// a records-only dump is not a full backup
	raw := []byte(`{
		"metadata": {"backup_date": "2026-08-31T02:00:00Z", "schema_version": "2"},
		"records": []
	}`)
	_, _, err := readSnapshot(raw)
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("err = %v, want ErrInvalidArchive", err)
	}
}

func TestReadSnapshotRequiresMetadata(t *testing.T) {
	raw := []byte(`{"users": [], "records": []}`)
	_, _, err := readSnapshot(raw)
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("err = %v, want ErrInvalidArchive", err)
	}
}

func TestReadSnapshotZipWithoutSnapshotEntry(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("photos/pho1_front.jpg")
	_, _ = w.Write([]byte("jpeg"))
	_ = zw.Close()

	_, _, err := readSnapshot(buf.Bytes())
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("err = %v, want ErrInvalidArchive", err)
	}
}

func TestValidateSnapshot(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*Snapshot)
		photoEntries int
		wantErr      bool
	}{
		{
			name:         "valid",
			mutate:       func(s *Snapshot) {},
			photoEntries: 1,
		},
		{
			name:         "valid bare snapshot skips entry check",
			mutate:       func(s *Snapshot) {},
			photoEntries: -1,
		},
		{
			name:         "older schema version accepted",
			mutate:       func(s *Snapshot) { s.Metadata.SchemaVersion = "1" },
			photoEntries: 1,
		},
		{
			name:         "unknown schema version",
			mutate:       func(s *Snapshot) { s.Metadata.SchemaVersion = "99" },
			photoEntries: 1,
			wantErr:      true,
		},
		{
			name:         "user count mismatch",
			mutate:       func(s *Snapshot) { s.Metadata.TotalUsers = 5 },
			photoEntries: 1,
			wantErr:      true,
		},
		{
			name:         "record count mismatch",
			mutate:       func(s *Snapshot) { s.Metadata.TotalRecords = 0 },
			photoEntries: 1,
			wantErr:      true,
		},
		{
			name:         "photo count mismatch",
			mutate:       func(s *Snapshot) { s.Metadata.TotalPhotos = 3 },
			photoEntries: 1,
			wantErr:      true,
		},
		{
			name:         "binary entries disagree with photo rows",
			mutate:       func(s *Snapshot) {},
			photoEntries: 0,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := sampleSnapshot()
			tt.mutate(&snapshot)

			err := validateSnapshot(&snapshot, tt.photoEntries)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArchive) {
					t.Errorf("err = %v, want ErrInvalidArchive", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
