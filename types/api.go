package types

import "fmt"

// ArtifactStatus is the answer to a separation or lyric request.
type ArtifactStatus string

const (
	ArtifactReady      ArtifactStatus = "ready"
	ArtifactProcessing ArtifactStatus = "processing"
)

// ArtifactKind names a derived file that can be fetched.
type ArtifactKind string

const (
	ArtifactVocals        ArtifactKind = "vocals"
	ArtifactAccompaniment ArtifactKind = "accompaniment"
	ArtifactLyrics        ArtifactKind = "lyrics"
)

// RemoteIngestRequest asks the core to download and catalog a remote asset.
type RemoteIngestRequest struct {
	URL       string `json:"url" binding:"required"`
	ArchiveID string `json:"archive_id"`
	LibraryID string `json:"library_id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
	Filename  string `json:"filename"`
}

// LocalIngestRequest catalogs a file that already exists in a storage root.
type LocalIngestRequest struct {
	ArchiveID string `json:"archive_id"`
	LibraryID string `json:"library_id"`
	FileRef   string `json:"filepath" binding:"required"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
}

// IngestResponse reports the catalog row an ingest produced or found.
type IngestResponse struct {
	TrackID   int64  `json:"trackId"`
	Duplicate bool   `json:"duplicate"`
	Track     *Track `json:"track"`
}

// StemURLs lists fetch URLs for a stem pair.
type StemURLs struct {
	Vocals        string `json:"vocals"`
	Accompaniment string `json:"accompaniment"`
}

// AnalysisResponse is returned by the analysis lookup.
type AnalysisResponse struct {
	TrackID  int64          `json:"trackId"`
	BPM      float64        `json:"bpm"`
	Key      string         `json:"key"`
	Waveform []float64      `json:"waveform"`
	Status   AnalysisStatus `json:"status"`
	Stems    *StemURLs      `json:"stems,omitempty"`
	Lyrics   string         `json:"lyrics,omitempty"`
}

// ArtifactResponse answers a separation or lyric request.
type ArtifactResponse struct {
	TrackID int64          `json:"trackId"`
	Status  ArtifactStatus `json:"status"`
	Stems   *StemURLs      `json:"stems,omitempty"`
	Lyrics  string         `json:"lyrics,omitempty"`
}

// WorkerStatus is the supervisor's externally visible state.
type WorkerStatus struct {
	State     string `json:"state"`
	Ready     bool   `json:"ready"`
	PID       int    `json:"pid,omitempty"`
	Restarts  int    `json:"restarts"`
	LastError string `json:"lastError,omitempty"`
}

// ArtifactURL is the fetch path for a derived artifact of a track.
func ArtifactURL(trackID int64, kind ArtifactKind) string {
	return fmt.Sprintf("/api/artifacts/%d/%s", trackID, kind)
}

// Valid reports whether k names a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactVocals, ArtifactAccompaniment, ArtifactLyrics:
		return true
	}
	return false
}
