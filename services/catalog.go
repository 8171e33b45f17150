package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"spectra/types"
)

const trackColumns = `id, title, artist, album, file_ref, duration, bitrate, format,
	archive_id, library_id, cover_ref, bpm, key_signature, waveform_data,
	analysis_status, created_at, updated_at`

// Catalog is the persistent track store backed by SQLite.
type Catalog struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// OpenCatalog opens or creates the catalog database and applies migrations.
func OpenCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure catalog directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	c := &Catalog{db: db, path: path, logger: logger.Named("catalog")}
	if err := c.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	c.logger.Info("catalog opened", zap.String("path", path))
	return c, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Path returns the database file location.
func (c *Catalog) Path() string { return c.path }

// CreateOrGet inserts a track unless one with the same external id (or, for
// tracks with no external id, the same file reference) already exists. The
// boolean result reports whether the existing row was returned.
func (c *Catalog) CreateOrGet(ctx context.Context, nt types.NewTrack) (*types.Track, bool, error) {
	nt.ArchiveID = strings.TrimSpace(nt.ArchiveID)
	nt.LibraryID = strings.TrimSpace(nt.LibraryID)
	if nt.ArchiveID != "" && nt.LibraryID != "" {
		return nil, false, Wrap(ErrValidation, "catalog", "create", "a track cannot carry both external ids", nil)
	}
	if strings.TrimSpace(nt.FileRef) == "" {
		return nil, false, Wrap(ErrValidation, "catalog", "create", "file reference is required", nil)
	}

	if existing, err := c.findDuplicate(ctx, nt); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO tracks (
            title, artist, album, file_ref, duration, bitrate, format,
            archive_id, library_id, analysis_status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nt.Title, nt.Artist, nt.Album, nt.FileRef, nt.Duration, nt.Bitrate, nt.Format,
		nullableString(nt.ArchiveID), nullableString(nt.LibraryID),
		types.AnalysisPending, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent ingest of the same id.
			existing, findErr := c.findDuplicate(ctx, nt)
			if findErr == nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("insert track: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	track, err := c.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return track, false, nil
}

func (c *Catalog) findDuplicate(ctx context.Context, nt types.NewTrack) (*types.Track, error) {
	switch {
	case nt.ArchiveID != "":
		return c.GetByExternalID(ctx, types.SourceArchive, nt.ArchiveID)
	case nt.LibraryID != "":
		return c.GetByExternalID(ctx, types.SourceLibrary, nt.LibraryID)
	default:
		return c.queryOne(ctx,
			`SELECT `+trackColumns+` FROM tracks
             WHERE file_ref = ? AND archive_id IS NULL AND library_id IS NULL
             ORDER BY id LIMIT 1`, nt.FileRef)
	}
}

// GetByID fetches a track by its internal id.
func (c *Catalog) GetByID(ctx context.Context, id int64) (*types.Track, error) {
	return c.queryOne(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id)
}

// GetByExternalID fetches a track by one of its upstream identifiers.
func (c *Catalog) GetByExternalID(ctx context.Context, source types.Source, externalID string) (*types.Track, error) {
	var column string
	switch source {
	case types.SourceArchive:
		column = "archive_id"
	case types.SourceLibrary:
		column = "library_id"
	default:
		return nil, Wrap(ErrValidation, "catalog", "lookup", fmt.Sprintf("unknown source %q", source), nil)
	}
	return c.queryOne(ctx, `SELECT `+trackColumns+` FROM tracks WHERE `+column+` = ?`, externalID)
}

// UpdateAnalysis stores analysis output and marks the track analyzed.
func (c *Catalog) UpdateAnalysis(ctx context.Context, id int64, result types.AnalysisResult) error {
	waveform, err := json.Marshal(result.Waveform)
	if err != nil {
		return fmt.Errorf("marshal waveform: %w", err)
	}
	return c.exec(ctx, id,
		`UPDATE tracks SET bpm = ?, key_signature = ?, waveform_data = ?, analysis_status = ?, updated_at = ?
         WHERE id = ?`,
		result.BPM, result.KeySignature, string(waveform), types.AnalysisAnalyzed, nowString(), id)
}

// MarkAnalysisFailed moves a pending track to failed. Analyzed tracks are
// left untouched.
func (c *Catalog) MarkAnalysisFailed(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE tracks SET analysis_status = ?, updated_at = ?
         WHERE id = ? AND analysis_status != ?`,
		types.AnalysisFailed, nowString(), id, types.AnalysisAnalyzed)
	if err != nil {
		return fmt.Errorf("mark analysis failed: %w", err)
	}
	return nil
}

// ResetAnalysis returns a failed track to pending ahead of an explicit retry.
func (c *Catalog) ResetAnalysis(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE tracks SET analysis_status = ?, updated_at = ? WHERE id = ? AND analysis_status = ?`,
		types.AnalysisPending, nowString(), id, types.AnalysisFailed)
	if err != nil {
		return fmt.Errorf("reset analysis: %w", err)
	}
	return nil
}

// SetCover persists the cover reference for a track.
func (c *Catalog) SetCover(ctx context.Context, id int64, coverRef string) error {
	return c.exec(ctx, id, `UPDATE tracks SET cover_ref = ?, updated_at = ? WHERE id = ?`,
		nullableString(coverRef), nowString(), id)
}

// List returns tracks newest first.
func (c *Catalog) List(ctx context.Context, limit, offset int) ([]*types.Track, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*types.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	return tracks, nil
}

// Search matches query against title, artist and album, newest first.
func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]*types.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, Wrap(ErrValidation, "catalog", "search", "query is required", nil)
	}
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks
		WHERE title LIKE ? ESCAPE '\' OR artist LIKE ? ESCAPE '\' OR album LIKE ? ESCAPE '\'
		ORDER BY id DESC LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*types.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// ListByStatus returns every track in the given analysis state, oldest first.
func (c *Catalog) ListByStatus(ctx context.Context, status types.AnalysisStatus) ([]*types.Track, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE analysis_status = ? ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("list tracks by status: %w", err)
	}
	defer rows.Close()

	var tracks []*types.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

// Stats counts tracks by analysis status.
func (c *Catalog) Stats(ctx context.Context) (types.CatalogStats, error) {
	var stats types.CatalogStats
	err := c.db.QueryRowContext(ctx, `SELECT
            COUNT(1),
            COALESCE(SUM(CASE WHEN analysis_status = 'pending' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN analysis_status = 'analyzed' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN analysis_status = 'failed' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN cover_ref IS NOT NULL AND cover_ref != '' THEN 1 ELSE 0 END), 0)
        FROM tracks`).Scan(&stats.Total, &stats.Pending, &stats.Analyzed, &stats.Failed, &stats.Covered)
	if err != nil {
		return stats, fmt.Errorf("catalog stats: %w", err)
	}
	return stats, nil
}

func (c *Catalog) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update track %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return Wrap(ErrNotFound, "catalog", "update", fmt.Sprintf("track %d", id), nil)
	}
	return nil
}

func (c *Catalog) queryOne(ctx context.Context, query string, args ...any) (*types.Track, error) {
	track, err := scanTrack(c.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Wrap(ErrNotFound, "catalog", "lookup", "track not found", nil)
	}
	return track, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (*types.Track, error) {
	var (
		t                              types.Track
		archiveID, libraryID, coverRef sql.NullString
		waveform                       sql.NullString
		status, created, updated       string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Artist, &t.Album, &t.FileRef, &t.Duration, &t.Bitrate, &t.Format,
		&archiveID, &libraryID, &coverRef, &t.BPM, &t.KeySignature, &waveform,
		&status, &created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan track: %w", err)
	}

	t.ArchiveID = archiveID.String
	t.LibraryID = libraryID.String
	t.CoverRef = coverRef.String
	t.AnalysisStatus = types.AnalysisStatus(status)
	if waveform.Valid && waveform.String != "" {
		// A corrupt waveform should not hide the rest of the row.
		_ = json.Unmarshal([]byte(waveform.String), &t.Waveform)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &t, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
