// Package store persists song records: catalog rows in sqlite, stem and
// original-media blobs as files under the data directory. Writes are
// all-or-nothing so a failed run never leaves a half-written record.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stemmix/api/internal/model"
)

// ErrNotFound is returned when no record matches the requested id.
var ErrNotFound = errors.New("song not found")

// QuotaError reports storage pressure with concrete byte figures so a caller
// can decide to free space and retry the whole run.
type QuotaError struct {
	Needed    int64
	Available int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("not enough storage space: need %d bytes, %d available", e.Needed, e.Available)
}

var stemFiles = []string{"drums.pcm", "bass.pcm", "other.pcm", "vocals.pcm"}

// Store is the catalog plus blob storage for persisted songs.
type Store struct {
	db      *sql.DB
	dataDir string
	quota   int64 // byte budget for all blobs; 0 means unlimited
}

// NewStore opens (creating if needed) the catalog at dataDir/catalog.db and
// the blob directories beside it.
func NewStore(dataDir string, quotaBytes int64) (*Store, error) {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, "stems"), filepath.Join(dataDir, "media"), filepath.Join(dataDir, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "catalog.db"))
	if err != nil {
		return nil, fmt.Errorf("error opening catalog: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &Store{db: db, dataDir: dataDir, quota: quotaBytes}, nil
}

// Close releases the catalog handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func createTables(db *sql.DB) error {
	createSongsTable := `
    CREATE TABLE IF NOT EXISTS songs (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL,
        source_kind TEXT NOT NULL,
        source_ref TEXT,
        duration_seconds REAL NOT NULL,
        sample_rate INTEGER NOT NULL,
        created_at TIMESTAMP NOT NULL,
        has_original INTEGER NOT NULL DEFAULT 0,
        size_bytes INTEGER NOT NULL
    );
    `
	if _, err := db.Exec(createSongsTable); err != nil {
		return fmt.Errorf("error creating songs table: %w", err)
	}
	return nil
}

// Save persists one record atomically: blobs land in a scratch dir first,
// the catalog row is inserted, then the scratch dir is moved into place.
// Any failure cleans up everything written so far.
func (s *Store) Save(rec *model.SongRecord) error {
	if !rec.Tracks.Complete() {
		return fmt.Errorf("track set incomplete: refusing to persist")
	}

	needed := rec.Tracks.TotalBytes() + int64(len(rec.OriginalMedia))
	if s.quota > 0 {
		used, err := s.Usage()
		if err != nil {
			return fmt.Errorf("error checking usage: %w", err)
		}
		if used+needed > s.quota {
			available := s.quota - used
			if available < 0 {
				available = 0
			}
			return &QuotaError{Needed: needed, Available: available}
		}
	}

	tmpDir := filepath.Join(s.dataDir, "tmp", rec.ID)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("error creating scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	stems := [][]byte{rec.Tracks.Drums, rec.Tracks.Bass, rec.Tracks.Other, rec.Tracks.Vocals}
	for i, name := range stemFiles {
		if err := writeFileSync(filepath.Join(tmpDir, name), stems[i]); err != nil {
			cleanup()
			return fmt.Errorf("error writing stem %s: %w", name, err)
		}
	}

	mediaPath := ""
	if len(rec.OriginalMedia) > 0 {
		mediaPath = filepath.Join(tmpDir, "original.bin")
		if err := writeFileSync(mediaPath, rec.OriginalMedia); err != nil {
			cleanup()
			return fmt.Errorf("error writing original media: %w", err)
		}
	}

	hasOriginal := 0
	if mediaPath != "" {
		hasOriginal = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO songs (id, title, source_kind, source_ref, duration_seconds, sample_rate, created_at, has_original, size_bytes)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, string(rec.SourceKind), rec.SourceRef,
		rec.DurationSeconds, rec.SampleRate, rec.CreatedAt, hasOriginal, needed,
	)
	if err != nil {
		cleanup()
		return fmt.Errorf("error inserting song: %w", err)
	}

	stemDir := filepath.Join(s.dataDir, "stems", rec.ID)
	if mediaPath != "" {
		target := filepath.Join(s.dataDir, "media", rec.ID+".bin")
		if err := os.Rename(mediaPath, target); err != nil {
			s.db.Exec("DELETE FROM songs WHERE id = ?", rec.ID)
			cleanup()
			return fmt.Errorf("error placing original media: %w", err)
		}
	}
	if err := os.Rename(tmpDir, stemDir); err != nil {
		s.db.Exec("DELETE FROM songs WHERE id = ?", rec.ID)
		os.Remove(filepath.Join(s.dataDir, "media", rec.ID+".bin"))
		cleanup()
		return fmt.Errorf("error placing stems: %w", err)
	}

	return nil
}

// Get loads one full record including stem blobs.
func (s *Store) Get(id string) (*model.SongRecord, error) {
	summary, err := s.GetSummary(id)
	if err != nil {
		return nil, err
	}

	rec := &model.SongRecord{
		ID:              summary.ID,
		Title:           summary.Title,
		SourceKind:      summary.SourceKind,
		SourceRef:       summary.SourceRef,
		DurationSeconds: summary.DurationSeconds,
		SampleRate:      summary.SampleRate,
		CreatedAt:       summary.CreatedAt,
	}

	stemDir := filepath.Join(s.dataDir, "stems", id)
	blobs := make([][]byte, len(stemFiles))
	for i, name := range stemFiles {
		data, err := os.ReadFile(filepath.Join(stemDir, name))
		if err != nil {
			return nil, fmt.Errorf("error reading stem %s: %w", name, err)
		}
		blobs[i] = data
	}
	rec.Tracks = model.TrackSet{Drums: blobs[0], Bass: blobs[1], Other: blobs[2], Vocals: blobs[3]}

	if summary.HasOriginal {
		data, err := os.ReadFile(filepath.Join(s.dataDir, "media", id+".bin"))
		if err != nil {
			return nil, fmt.Errorf("error reading original media: %w", err)
		}
		rec.OriginalMedia = data
	}

	return rec, nil
}

// GetSummary loads one catalog row without touching blobs.
func (s *Store) GetSummary(id string) (*model.SongSummary, error) {
	row := s.db.QueryRow(
		`SELECT id, title, source_kind, source_ref, duration_seconds, sample_rate, created_at, has_original, size_bytes
         FROM songs WHERE id = ?`, id)
	return scanSummary(row)
}

// List returns all records, newest first.
func (s *Store) List() ([]model.SongSummary, error) {
	rows, err := s.db.Query(
		`SELECT id, title, source_kind, source_ref, duration_seconds, sample_rate, created_at, has_original, size_bytes
         FROM songs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("error querying songs: %w", err)
	}
	defer rows.Close()

	var out []model.SongSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *summary)
	}
	return out, rows.Err()
}

// Rename updates the title, the only record mutation.
func (s *Store) Rename(id, title string) error {
	result, err := s.db.Exec("UPDATE songs SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return fmt.Errorf("error renaming song: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row and frees the underlying blob storage.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM songs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("error deleting song: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	os.RemoveAll(filepath.Join(s.dataDir, "stems", id))
	os.Remove(filepath.Join(s.dataDir, "media", id+".bin"))
	return nil
}

// Usage sums the blob footprint of every persisted record.
func (s *Store) Usage() (int64, error) {
	var used int64
	if err := s.db.QueryRow("SELECT COALESCE(SUM(size_bytes), 0) FROM songs").Scan(&used); err != nil {
		return 0, fmt.Errorf("error summing usage: %w", err)
	}
	return used, nil
}

// Quota returns the configured byte budget (0 = unlimited).
func (s *Store) Quota() int64 {
	return s.quota
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (*model.SongSummary, error) {
	var summary model.SongSummary
	var sourceKind string
	var sourceRef sql.NullString
	var hasOriginal int
	var createdAt time.Time

	err := row.Scan(&summary.ID, &summary.Title, &sourceKind, &sourceRef,
		&summary.DurationSeconds, &summary.SampleRate, &createdAt, &hasOriginal, &summary.SizeBytes)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to retrieve song: %w", err)
	}

	summary.SourceKind = model.SourceKind(sourceKind)
	summary.SourceRef = sourceRef.String
	summary.CreatedAt = createdAt
	summary.HasOriginal = hasOriginal == 1
	return &summary, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
