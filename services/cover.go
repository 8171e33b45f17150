package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"spectra/types"
)

// CoverSource records which stage produced a cover.
type CoverSource string

const (
	CoverStored      CoverSource = "stored"
	CoverSibling     CoverSource = "sibling"
	CoverEmbedded    CoverSource = "embedded"
	CoverLookup      CoverSource = "lookup"
	CoverPlaceholder CoverSource = "placeholder"
)

// CoverResult is either a file on disk or generated placeholder bytes.
type CoverResult struct {
	Path        string
	Source      CoverSource
	Placeholder []byte
}

// IsPlaceholder reports whether the result was generated rather than found.
func (r CoverResult) IsPlaceholder() bool { return r.Source == CoverPlaceholder }

// ContentType returns the MIME type to serve the cover with.
func (r CoverResult) ContentType() string {
	if r.IsPlaceholder() {
		return "image/svg+xml"
	}
	return ContentType(r.Path)
}

// CoverStore persists the cover reference of a track.
type CoverStore interface {
	SetCover(ctx context.Context, id int64, coverRef string) error
}

// PictureExtractor reads embedded artwork from an audio file.
type PictureExtractor interface {
	ExtractPicture(filePath string) (*Picture, error)
}

// CoverPipelineConfig wires the collaborators of a CoverPipeline.
type CoverPipelineConfig struct {
	CoverDir   string
	CoverNames []string
	Resolver   *PathResolver
	Store      CoverStore
	Extractor  PictureExtractor
	Lookups    []ArtworkLookup
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// CoverPipeline finds artwork for a track, trying cheaper and more reliable
// sources first.
type CoverPipeline struct {
	coverDir  string
	names     []string
	resolver  *PathResolver
	store     CoverStore
	extractor PictureExtractor
	lookups   []ArtworkLookup
	client    *http.Client
	logger    *zap.Logger
}

// NewCoverPipeline creates a pipeline from cfg.
func NewCoverPipeline(cfg CoverPipelineConfig) *CoverPipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	names := cfg.CoverNames
	if len(names) == 0 {
		names = []string{"cover.jpg", "folder.jpg", "album.jpg", "front.jpg"}
	}
	return &CoverPipeline{
		coverDir:  cfg.CoverDir,
		names:     names,
		resolver:  cfg.Resolver,
		store:     cfg.Store,
		extractor: cfg.Extractor,
		lookups:   cfg.Lookups,
		client:    client,
		logger:    logger.Named("cover"),
	}
}

// EnsureCover returns a cover for the track. A persisted reference that still
// exists short-circuits every other stage. When nothing is found the result
// carries a generated placeholder that is never persisted.
func (p *CoverPipeline) EnsureCover(ctx context.Context, track *types.Track) CoverResult {
	log := p.logger.With(zap.Int64("track_id", track.ID))

	if path := p.storedCover(track.CoverRef); path != "" {
		return CoverResult{Path: path, Source: CoverStored}
	}
	if track.CoverRef != "" {
		log.Warn("stored cover is missing, rebuilding", zap.String("cover", track.CoverRef))
	}

	audioPath, err := p.resolver.Resolve(track.FileRef)
	if err != nil {
		log.Debug("audio file unresolved, skipping local stages", zap.Error(err))
	} else {
		if path := p.siblingCover(audioPath); path != "" {
			p.persist(ctx, track, path)
			return CoverResult{Path: path, Source: CoverSibling}
		}
		if path, err := p.embeddedCover(track, audioPath); err == nil {
			p.persist(ctx, track, path)
			return CoverResult{Path: path, Source: CoverEmbedded}
		} else if !errors.Is(err, ErrNotFound) {
			log.Warn("embedded cover extraction failed", zap.Error(err))
		}
	}

	for _, lookup := range p.lookups {
		path, err := p.lookupCover(ctx, lookup, track)
		if err == nil {
			p.persist(ctx, track, path)
			return CoverResult{Path: path, Source: CoverLookup}
		}
		if errors.Is(err, ErrNotFound) {
			log.Debug("no artwork match", zap.String("lookup", lookup.Name()))
		} else {
			log.Warn("artwork lookup failed", zap.String("lookup", lookup.Name()), zap.Error(err))
		}
	}

	return CoverResult{Source: CoverPlaceholder, Placeholder: Placeholder(track.Title, track.Artist)}
}

func (p *CoverPipeline) storedCover(ref string) string {
	if ref == "" {
		return ""
	}
	if filepath.IsAbs(ref) {
		if isFile(ref) {
			return ref
		}
		return ""
	}
	if candidate := filepath.Join(p.coverDir, ref); isFile(candidate) {
		return candidate
	}
	return ""
}

// siblingCover matches conventional names case-insensitively, plus an image
// sharing the audio file's basename.
func (p *CoverPipeline) siblingCover(audioPath string) string {
	dir := filepath.Dir(audioPath)
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))

	wanted := make([]string, 0, len(p.names)+2)
	for _, name := range p.names {
		wanted = append(wanted, strings.ToLower(name))
	}
	wanted = append(wanted, strings.ToLower(base+".jpg"), strings.ToLower(base+".png"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	byName := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			byName[strings.ToLower(entry.Name())] = entry.Name()
		}
	}
	for _, name := range wanted {
		if actual, ok := byName[name]; ok {
			return filepath.Join(dir, actual)
		}
	}
	return ""
}

func (p *CoverPipeline) embeddedCover(track *types.Track, audioPath string) (string, error) {
	if p.extractor == nil {
		return "", Wrap(ErrNotFound, "cover", "embedded", "no extractor configured", nil)
	}
	pic, err := p.extractor.ExtractPicture(audioPath)
	if err != nil {
		return "", err
	}
	return p.writeCover(track.ID, pic)
}

func (p *CoverPipeline) lookupCover(ctx context.Context, lookup ArtworkLookup, track *types.Track) (string, error) {
	imageURL, err := lookup.FindArtwork(ctx, track)
	if err != nil {
		return "", err
	}
	pic, err := fetchImage(ctx, p.client, imageURL)
	if err != nil {
		return "", err
	}
	p.logger.Info("artwork downloaded",
		zap.Int64("track_id", track.ID),
		zap.String("lookup", lookup.Name()),
		zap.String("url", imageURL))
	return p.writeCover(track.ID, pic)
}

// writeCover stores a picture as <coverDir>/<trackID><ext>.
func (p *CoverPipeline) writeCover(trackID int64, pic *Picture) (string, error) {
	if err := os.MkdirAll(p.coverDir, 0o755); err != nil {
		return "", fmt.Errorf("create cover directory: %w", err)
	}
	target := filepath.Join(p.coverDir, fmt.Sprintf("%d%s", trackID, pic.Ext()))
	tmp, err := os.CreateTemp(p.coverDir, ".cover-*")
	if err != nil {
		return "", fmt.Errorf("create temp cover: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(pic.Data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("move cover into place: %w", err)
	}
	return target, nil
}

// persist failures are logged; the caller still gets the file.
func (p *CoverPipeline) persist(ctx context.Context, track *types.Track, path string) {
	if p.store == nil {
		return
	}
	if err := p.store.SetCover(ctx, track.ID, path); err != nil {
		p.logger.Warn("could not persist cover reference",
			zap.Int64("track_id", track.ID),
			zap.String("cover", path),
			zap.Error(err))
		return
	}
	track.CoverRef = path
}
