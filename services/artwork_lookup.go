package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/hbollon/go-edlib"
	"go.uber.org/zap"

	"spectra/types"
)

const maxArtworkBytes = 10 << 20

// ArtworkLookup finds a remote image URL for a track. Implementations return
// an ErrNotFound error when they have no match.
type ArtworkLookup interface {
	Name() string
	FindArtwork(ctx context.Context, track *types.Track) (string, error)
}

// ITunesLookup searches the iTunes catalog by cleaned artist and title.
type ITunesLookup struct {
	searchURL string
	client    *http.Client
	minScore  float64
	logger    *zap.Logger
}

// NewITunesLookup creates a search lookup. Matches scoring below minScore
// are ignored.
func NewITunesLookup(searchURL string, client *http.Client, minScore float64, logger *zap.Logger) *ITunesLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ITunesLookup{searchURL: searchURL, client: client, minScore: minScore, logger: logger.Named("itunes")}
}

func (l *ITunesLookup) Name() string { return "itunes" }

type itunesResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []itunesResult `json:"results"`
}

type itunesResult struct {
	TrackName      string `json:"trackName"`
	ArtistName     string `json:"artistName"`
	CollectionName string `json:"collectionName"`
	ArtworkURL100  string `json:"artworkUrl100"`
}

func (l *ITunesLookup) FindArtwork(ctx context.Context, track *types.Track) (string, error) {
	title := cleanSearchTerm(track.Title)
	artist := cleanSearchTerm(track.Artist)
	term := strings.TrimSpace(artist + " " + title)
	if title == "" {
		return "", Wrap(ErrNotFound, "lookup", l.Name(), "track has no title", nil)
	}

	query := url.Values{}
	query.Set("term", term)
	query.Set("entity", "song")
	query.Set("limit", "10")

	var resp itunesResponse
	if err := getJSON(ctx, l.client, l.searchURL+"?"+query.Encode(), &resp); err != nil {
		return "", err
	}

	wantTitle := normalizeForMatch(title)
	wantArtist := normalizeForMatch(artist)
	bestScore := -1.0
	var best itunesResult
	for _, r := range resp.Results {
		if r.ArtworkURL100 == "" {
			continue
		}
		score := similarity(wantTitle, normalizeForMatch(r.TrackName))
		if wantArtist != "" {
			score = 0.6*score + 0.4*similarity(wantArtist, normalizeForMatch(r.ArtistName))
		}
		if score > bestScore {
			bestScore = score
			best = r
		}
	}
	if bestScore < l.minScore {
		return "", Wrap(ErrNotFound, "lookup", l.Name(), fmt.Sprintf("no match for %q", term), nil)
	}
	l.logger.Debug("artwork match",
		zap.String("term", term),
		zap.String("match", best.ArtistName+" - "+best.TrackName),
		zap.Float64("score", bestScore))
	return strings.Replace(best.ArtworkURL100, "100x100bb", "600x600bb", 1), nil
}

// similarity is JaroWinkler similarity in [0,1].
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	return float64(sim)
}

// ArchiveLookup picks the best image file from an archive item's metadata.
// It only applies to tracks ingested with an archive id.
type ArchiveLookup struct {
	baseURL string
	client  *http.Client
}

// NewArchiveLookup creates an archive item lookup rooted at baseURL.
func NewArchiveLookup(baseURL string, client *http.Client) *ArchiveLookup {
	return &ArchiveLookup{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (l *ArchiveLookup) Name() string { return "archive" }

type archiveMetadata struct {
	Files []archiveFile `json:"files"`
}

type archiveFile struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

var (
	archiveImageExt  = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}
	archiveGoodWords = []string{"cover", "front", "folder", "art", "scan"}
	archiveBadWords  = []string{"spectrogram", "waveform", "thumb", "tiny"}
)

func (l *ArchiveLookup) FindArtwork(ctx context.Context, track *types.Track) (string, error) {
	if track.ArchiveID == "" {
		return "", Wrap(ErrNotFound, "lookup", l.Name(), "track has no archive id", nil)
	}
	id := url.PathEscape(track.ArchiveID)

	var meta archiveMetadata
	if err := getJSON(ctx, l.client, l.baseURL+"/metadata/"+id, &meta); err != nil {
		return "", err
	}

	best, ok := bestArchiveImage(meta.Files)
	if !ok {
		// The item thumbnail service always has something to show.
		return l.baseURL + "/services/img/" + id, nil
	}
	return l.baseURL + "/download/" + id + "/" + escapeSegments(best.Name), nil
}

func escapeSegments(name string) string {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func bestArchiveImage(files []archiveFile) (archiveFile, bool) {
	type scored struct {
		file  archiveFile
		score float64
	}
	var candidates []scored
	for _, f := range files {
		if !archiveImageExt[strings.ToLower(path.Ext(f.Name))] {
			continue
		}
		candidates = append(candidates, scored{file: f, score: scoreArchiveImage(f)})
	}
	if len(candidates) == 0 {
		return archiveFile{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return candidates[0].file, true
}

func scoreArchiveImage(f archiveFile) float64 {
	name := strings.ToLower(f.Name)
	score := 0.0
	for _, word := range archiveGoodWords {
		if strings.Contains(name, word) {
			score += 100
			break
		}
	}
	if strings.Contains(f.Name, "/") {
		score += 50
	}
	if size, err := strconv.ParseFloat(f.Size, 64); err == nil {
		score += min(size/1024/10, 150)
	}
	for _, word := range archiveBadWords {
		if strings.Contains(name, word) {
			score -= 200
			break
		}
	}
	return score
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Wrap(ErrValidation, "lookup", "build request", "", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Wrap(ErrUpstreamUnavailable, "lookup", "request", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Wrap(ErrNotFound, "lookup", "request", rawURL, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Wrap(ErrUpstreamUnavailable, "lookup", "request", fmt.Sprintf("%s returned %s", rawURL, resp.Status), nil)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return Wrap(ErrIntegrity, "lookup", "decode", rawURL, err)
	}
	return nil
}

// fetchImage downloads an image, refusing non-image bodies and anything
// larger than maxArtworkBytes.
func fetchImage(ctx context.Context, client *http.Client, rawURL string) (*Picture, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, Wrap(ErrValidation, "artwork", "build request", "", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, Wrap(ErrUpstreamUnavailable, "artwork", "fetch", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, Wrap(ErrUpstreamUnavailable, "artwork", "fetch", fmt.Sprintf("%s returned %s", rawURL, resp.Status), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes+1))
	if err != nil {
		return nil, Wrap(ErrUpstreamUnavailable, "artwork", "read", rawURL, err)
	}
	if len(data) > maxArtworkBytes {
		return nil, Wrap(ErrIntegrity, "artwork", "read", "image too large", nil)
	}
	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, Wrap(ErrIntegrity, "artwork", "read", "response is not an image", nil)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return &Picture{Data: data, MIMEType: mimeType}, nil
}
