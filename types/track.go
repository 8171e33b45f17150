package types

import "time"

// AnalysisStatus is the lifecycle of a track's metric analysis.
type AnalysisStatus string

const (
	AnalysisPending  AnalysisStatus = "pending"
	AnalysisAnalyzed AnalysisStatus = "analyzed"
	AnalysisFailed   AnalysisStatus = "failed"
)

// Source identifies which upstream system a track was ingested from.
type Source string

const (
	SourceLocal   Source = "local"
	SourceArchive Source = "archive"
	SourceLibrary Source = "library"
)

// Track is one catalog row.
type Track struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	Artist         string         `json:"artist"`
	Album          string         `json:"album"`
	FileRef        string         `json:"filepath"`
	Duration       float64        `json:"duration"`
	Bitrate        int            `json:"bitrate"`
	Format         string         `json:"format"`
	ArchiveID      string         `json:"archive_id,omitempty"`
	LibraryID      string         `json:"library_id,omitempty"`
	CoverRef       string         `json:"cover,omitempty"`
	BPM            float64        `json:"bpm"`
	KeySignature   string         `json:"key"`
	Waveform       []float64      `json:"waveform,omitempty"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Source reports which external identifier, if any, the track carries.
func (t *Track) Source() Source {
	switch {
	case t.ArchiveID != "":
		return SourceArchive
	case t.LibraryID != "":
		return SourceLibrary
	default:
		return SourceLocal
	}
}

// NewTrack carries the descriptive fields for a catalog insert.
type NewTrack struct {
	Title     string
	Artist    string
	Album     string
	FileRef   string
	Duration  float64
	Bitrate   int
	Format    string
	ArchiveID string
	LibraryID string
}

// AnalysisResult is the derived data written back after analysis.
type AnalysisResult struct {
	BPM          float64
	KeySignature string
	Waveform     []float64
}

// CatalogStats counts tracks by analysis status.
type CatalogStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Analyzed int `json:"analyzed"`
	Failed   int `json:"failed"`
	Covered  int `json:"with_cover"`
}

// AudioMetadata is what could be read from an audio file and its path.
type AudioMetadata struct {
	Title       string  `json:"title,omitempty"`
	Artist      string  `json:"artist,omitempty"`
	Album       string  `json:"album,omitempty"`
	Format      string  `json:"format,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Bitrate     int     `json:"bitrate,omitempty"`
	TrackNumber int     `json:"trackNumber,omitempty"`
}
