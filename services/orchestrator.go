package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"spectra/types"
)

// WorkerAPI is the subset of the worker RPC used by queued tasks.
type WorkerAPI interface {
	Analyze(ctx context.Context, inputPath string) (*types.AnalysisResult, error)
	ProcessTrack(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
}

// Queues groups the three job classes.
type Queues struct {
	Analysis   JobQueue
	Separation JobQueue
	Lyrics     JobQueue
}

func (q Queues) all() []JobQueue {
	return []JobQueue{q.Analysis, q.Separation, q.Lyrics}
}

// OrchestratorDeps wires an Orchestrator.
type OrchestratorDeps struct {
	Catalog    *Catalog
	Resolver   *PathResolver
	Covers     *CoverPipeline
	Worker     WorkerAPI
	Downloader Downloader
	Metadata   MetadataReader
	Queues     Queues
	StemsDir   string
	LyricsDir  string
	Events     EventPublisher
	Logger     *zap.Logger
}

// AnalysisKey selects a track by exactly one identifier.
type AnalysisKey struct {
	TrackID   int64
	ArchiveID string
	LibraryID string
}

// Orchestrator is the entry point for ingest, analysis and artifact
// requests.
type Orchestrator struct {
	catalog    *Catalog
	resolver   *PathResolver
	covers     *CoverPipeline
	worker     WorkerAPI
	downloader Downloader
	metadata   MetadataReader
	queues     Queues
	stemsDir   string
	lyricsDir  string
	events     EventPublisher
	logger     *zap.Logger

	inflight *inflightSet
}

// NewOrchestrator creates an orchestrator from deps.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		catalog:    deps.Catalog,
		resolver:   deps.Resolver,
		covers:     deps.Covers,
		worker:     deps.Worker,
		downloader: deps.Downloader,
		metadata:   deps.Metadata,
		queues:     deps.Queues,
		stemsDir:   deps.StemsDir,
		lyricsDir:  deps.LyricsDir,
		events:     deps.Events,
		logger:     logger.Named("orchestrator"),
		inflight:   newInflightSet(),
	}
}

// IngestRemote downloads a remote asset and catalogs it. A known external id
// short-circuits before anything is downloaded.
func (o *Orchestrator) IngestRemote(ctx context.Context, req types.RemoteIngestRequest) (*types.IngestResponse, error) {
	if err := validateExternalIDs(req.ArchiveID, req.LibraryID); err != nil {
		return nil, err
	}
	if existing, err := o.findExternal(ctx, req.ArchiveID, req.LibraryID); err != nil || existing != nil {
		return duplicateResponse(existing), err
	}

	name := req.Filename
	if name == "" && req.Title != "" {
		name = strings.TrimSpace(strings.Trim(req.Artist+" - "+req.Title, " -"))
	}
	rel, err := o.downloader.Download(ctx, req.URL, name)
	if err != nil {
		return nil, err
	}
	audioPath, err := o.resolver.Resolve(rel)
	if err != nil {
		return nil, Wrap(ErrIntegrity, "ingest", "remote", "downloaded file is not resolvable", err)
	}

	nt := o.describe(audioPath, rel, req.Title, req.Artist, req.Album)
	nt.ArchiveID = req.ArchiveID
	nt.LibraryID = req.LibraryID

	track, duplicate, err := o.catalog.CreateOrGet(ctx, nt)
	if err != nil {
		return nil, err
	}
	if duplicate {
		// A concurrent ingest won the row; drop our copy of the file.
		if err := os.Remove(audioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn("could not remove duplicate download", zap.String("path", audioPath), zap.Error(err))
		}
		return duplicateResponse(track), nil
	}

	o.logger.Info("track ingested",
		zap.Int64("track_id", track.ID),
		zap.String("source", string(track.Source())),
		zap.String("file", rel))
	o.enqueueAnalysis(track)
	return &types.IngestResponse{TrackID: track.ID, Track: track}, nil
}

// IngestLocal catalogs a file that already lives in a storage root.
func (o *Orchestrator) IngestLocal(ctx context.Context, req types.LocalIngestRequest) (*types.IngestResponse, error) {
	if err := validateExternalIDs(req.ArchiveID, req.LibraryID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.FileRef) == "" {
		return nil, Wrap(ErrValidation, "ingest", "local", "file reference is required", nil)
	}
	if existing, err := o.findExternal(ctx, req.ArchiveID, req.LibraryID); err != nil || existing != nil {
		return duplicateResponse(existing), err
	}

	audioPath, err := o.resolver.Resolve(req.FileRef)
	if err != nil {
		return nil, err
	}

	nt := o.describe(audioPath, req.FileRef, req.Title, req.Artist, req.Album)
	nt.ArchiveID = req.ArchiveID
	nt.LibraryID = req.LibraryID

	track, duplicate, err := o.catalog.CreateOrGet(ctx, nt)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return duplicateResponse(track), nil
	}

	o.logger.Info("track ingested",
		zap.Int64("track_id", track.ID),
		zap.String("source", string(track.Source())),
		zap.String("file", req.FileRef))
	o.enqueueAnalysis(track)
	return &types.IngestResponse{TrackID: track.ID, Track: track}, nil
}

// describe merges request metadata over tag metadata over the path-derived
// fallback.
func (o *Orchestrator) describe(audioPath, fileRef, title, artist, album string) types.NewTrack {
	meta := &types.AudioMetadata{}
	if o.metadata != nil {
		meta = o.metadata.ReadMetadata(audioPath)
	}
	fromPath := MetadataFromPath(fileRef)

	return types.NewTrack{
		Title:    firstNonEmpty(title, meta.Title, fromPath.Title),
		Artist:   firstNonEmpty(artist, meta.Artist, fromPath.Artist),
		Album:    firstNonEmpty(album, meta.Album, fromPath.Album),
		FileRef:  fileRef,
		Duration: meta.Duration,
		Bitrate:  meta.Bitrate,
		Format:   firstNonEmpty(meta.Format, strings.TrimPrefix(strings.ToLower(filepath.Ext(fileRef)), ".")),
	}
}

func (o *Orchestrator) findExternal(ctx context.Context, archiveID, libraryID string) (*types.Track, error) {
	var (
		track *types.Track
		err   error
	)
	switch {
	case archiveID != "":
		track, err = o.catalog.GetByExternalID(ctx, types.SourceArchive, archiveID)
	case libraryID != "":
		track, err = o.catalog.GetByExternalID(ctx, types.SourceLibrary, libraryID)
	default:
		return nil, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return track, err
}

func duplicateResponse(track *types.Track) *types.IngestResponse {
	if track == nil {
		return nil
	}
	return &types.IngestResponse{TrackID: track.ID, Duplicate: true, Track: track}
}

// RequestAnalysis queues analysis for a pending or failed track. It reports
// whether analysis is now queued or running; analyzed tracks are returned
// unchanged.
func (o *Orchestrator) RequestAnalysis(ctx context.Context, id int64) (*types.Track, bool, error) {
	track, err := o.catalog.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if track.AnalysisStatus == types.AnalysisAnalyzed {
		return track, false, nil
	}
	if track.AnalysisStatus == types.AnalysisFailed {
		if err := o.catalog.ResetAnalysis(ctx, id); err != nil {
			return nil, false, err
		}
		track.AnalysisStatus = types.AnalysisPending
	}
	o.enqueueAnalysis(track)
	return track, true, nil
}

// ResumePending queues analysis for every pending track. It is run when the
// worker becomes healthy so rows left pending by an unavailable worker are
// picked up.
func (o *Orchestrator) ResumePending(ctx context.Context) (int, error) {
	tracks, err := o.catalog.ListByStatus(ctx, types.AnalysisPending)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, track := range tracks {
		if o.enqueueAnalysis(track) {
			queued++
		}
	}
	if queued > 0 {
		o.logger.Info("resumed pending analysis", zap.Int("tracks", queued))
	}
	return queued, nil
}

// enqueueAnalysis submits an analysis job unless one is already in flight
// for the track.
func (o *Orchestrator) enqueueAnalysis(track *types.Track) bool {
	key := inflightKey(types.QueueAnalysis, track.ID)
	if !o.inflight.claim(key) {
		return false
	}
	id, fileRef := track.ID, track.FileRef
	o.submitClaimed(o.queues.Analysis, key, fmt.Sprintf("analyze track %d", id), func(ctx context.Context) (any, error) {
		return o.analyze(ctx, id, fileRef)
	})
	return true
}

// submitClaimed submits task under an in-flight key the caller already
// holds. The key is released when the task returns, or when the job settles
// without running because the queue was closed.
func (o *Orchestrator) submitClaimed(queue JobQueue, key, label string, task Task) *Job {
	var started atomic.Bool
	job := queue.Submit(label, func(ctx context.Context) (any, error) {
		started.Store(true)
		defer o.inflight.release(key)
		return task(ctx)
	})
	go func() {
		<-job.Done()
		if !started.Load() {
			o.inflight.release(key)
		}
	}()
	return job
}

func (o *Orchestrator) analyze(ctx context.Context, id int64, fileRef string) (*types.AnalysisResult, error) {
	log := o.logger.With(zap.Int64("track_id", id))

	audioPath, err := o.resolver.Resolve(fileRef)
	if err != nil {
		log.Warn("analysis skipped, audio file not found", zap.String("file", fileRef))
		o.failAnalysis(ctx, id, err)
		return nil, err
	}

	result, err := o.worker.Analyze(ctx, audioPath)
	switch {
	case err == nil:
	case errors.Is(err, ErrUpstreamUnavailable):
		log.Warn("analysis deferred, worker unavailable", zap.Error(err))
		return nil, err
	default:
		log.Error("analysis failed", zap.Error(err))
		o.failAnalysis(ctx, id, err)
		return nil, err
	}

	if err := o.catalog.UpdateAnalysis(ctx, id, *result); err != nil {
		return nil, fmt.Errorf("store analysis for track %d: %w", id, err)
	}
	log.Info("track analyzed", zap.Float64("bpm", result.BPM), zap.String("key", result.KeySignature))
	o.publishTrack(id, types.EventAnalysisUpdated, string(types.AnalysisAnalyzed), "")
	return result, nil
}

func (o *Orchestrator) failAnalysis(ctx context.Context, id int64, cause error) {
	if err := o.catalog.MarkAnalysisFailed(ctx, id); err != nil {
		o.logger.Error("could not mark analysis failed", zap.Int64("track_id", id), zap.Error(err))
		return
	}
	o.publishTrack(id, types.EventAnalysisUpdated, string(types.AnalysisFailed), cause.Error())
}

// LookupAnalysis returns derived data for the track matching key, plus the
// fetch URLs of any artifacts already on disk.
func (o *Orchestrator) LookupAnalysis(ctx context.Context, key AnalysisKey) (*types.AnalysisResponse, error) {
	set := 0
	if key.TrackID > 0 {
		set++
	}
	if key.ArchiveID != "" {
		set++
	}
	if key.LibraryID != "" {
		set++
	}
	if set != 1 {
		return nil, Wrap(ErrValidation, "analysis", "lookup", "exactly one of id, archive_id or library_id is required", nil)
	}

	var (
		track *types.Track
		err   error
	)
	switch {
	case key.TrackID > 0:
		track, err = o.catalog.GetByID(ctx, key.TrackID)
	case key.ArchiveID != "":
		track, err = o.catalog.GetByExternalID(ctx, types.SourceArchive, key.ArchiveID)
	default:
		track, err = o.catalog.GetByExternalID(ctx, types.SourceLibrary, key.LibraryID)
	}
	if err != nil {
		return nil, err
	}

	resp := &types.AnalysisResponse{
		TrackID:  track.ID,
		BPM:      track.BPM,
		Key:      track.KeySignature,
		Waveform: track.Waveform,
		Status:   track.AnalysisStatus,
	}
	if resp.Waveform == nil {
		resp.Waveform = []float64{}
	}
	if audioPath, err := o.resolver.Resolve(track.FileRef); err == nil {
		if o.stemsReady(audioPath) {
			resp.Stems = stemURLs(track.ID)
		}
		if isFile(o.lyricsPath(audioPath)) {
			resp.Lyrics = types.ArtifactURL(track.ID, types.ArtifactLyrics)
		}
	}
	return resp, nil
}

// ResolveStream returns the track and the file to stream for it. Unknown
// tracks and missing files are both ErrNotFound.
func (o *Orchestrator) ResolveStream(ctx context.Context, id int64) (*types.Track, string, error) {
	track, err := o.catalog.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			o.logger.Info("stream requested for unknown track", zap.Int64("track_id", id))
		}
		return nil, "", err
	}
	audioPath, err := o.resolver.Resolve(track.FileRef)
	if err != nil {
		o.logger.Warn("stream file missing from every storage root",
			zap.Int64("track_id", id),
			zap.String("file", track.FileRef),
			zap.Strings("roots", o.resolver.Roots()))
		return nil, "", err
	}
	return track, audioPath, nil
}

// EnsureCover returns cover artwork for the track.
func (o *Orchestrator) EnsureCover(ctx context.Context, id int64) (CoverResult, error) {
	track, err := o.catalog.GetByID(ctx, id)
	if err != nil {
		return CoverResult{}, err
	}
	return o.covers.EnsureCover(ctx, track), nil
}

// RequestSeparation returns the stem pair when it exists on disk, otherwise
// makes sure exactly one separation job is running for the track.
func (o *Orchestrator) RequestSeparation(ctx context.Context, id int64) (*types.ArtifactResponse, error) {
	track, audioPath, err := o.trackAudio(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.stemsReady(audioPath) {
		return &types.ArtifactResponse{TrackID: track.ID, Status: types.ArtifactReady, Stems: stemURLs(track.ID)}, nil
	}

	processing := &types.ArtifactResponse{TrackID: track.ID, Status: types.ArtifactProcessing}
	// Transcription separates first, so a running lyric job will produce the stems.
	if o.inflight.has(inflightKey(types.QueueLyrics, track.ID)) {
		return processing, nil
	}
	key := inflightKey(types.QueueSeparation, track.ID)
	if !o.inflight.claim(key) {
		return processing, nil
	}

	o.submitClaimed(o.queues.Separation, key, fmt.Sprintf("separate track %d", track.ID), func(ctx context.Context) (any, error) {
		result, err := o.worker.ProcessTrack(ctx, ProcessRequest{
			InputPath:         audioPath,
			OutputDirStems:    o.stemsDir,
			SkipTranscription: true,
		})
		if err != nil {
			return nil, err
		}
		if !o.stemsReady(audioPath) {
			return nil, Wrap(ErrIntegrity, "separation", "", "worker reported success but stems are missing", nil)
		}
		o.publishTrack(track.ID, types.EventJobCompleted, string(types.ArtifactReady), "stems ready")
		return result, nil
	})
	return processing, nil
}

// RequestLyrics returns the lyric file when it exists on disk, otherwise
// makes sure exactly one transcription job is running for the track.
func (o *Orchestrator) RequestLyrics(ctx context.Context, id int64) (*types.ArtifactResponse, error) {
	track, audioPath, err := o.trackAudio(ctx, id)
	if err != nil {
		return nil, err
	}
	lrcPath := o.lyricsPath(audioPath)
	if isFile(lrcPath) {
		return &types.ArtifactResponse{
			TrackID: track.ID,
			Status:  types.ArtifactReady,
			Lyrics:  types.ArtifactURL(track.ID, types.ArtifactLyrics),
		}, nil
	}

	processing := &types.ArtifactResponse{TrackID: track.ID, Status: types.ArtifactProcessing}
	key := inflightKey(types.QueueLyrics, track.ID)
	if !o.inflight.claim(key) {
		return processing, nil
	}

	o.submitClaimed(o.queues.Lyrics, key, fmt.Sprintf("transcribe track %d", track.ID), func(ctx context.Context) (any, error) {
		result, err := o.worker.ProcessTrack(ctx, ProcessRequest{
			InputPath:      audioPath,
			OutputDirStems: o.stemsDir,
			OutputPathLRC:  lrcPath,
		})
		if err != nil {
			return nil, err
		}
		if !isFile(lrcPath) {
			return nil, Wrap(ErrIntegrity, "lyrics", "", "worker reported success but the lyric file is missing", nil)
		}
		o.publishTrack(track.ID, types.EventJobCompleted, string(types.ArtifactReady), "lyrics ready")
		return result, nil
	})
	return processing, nil
}

// ArtifactPath returns the on-disk location of a ready artifact.
func (o *Orchestrator) ArtifactPath(ctx context.Context, id int64, kind types.ArtifactKind) (string, error) {
	if !kind.Valid() {
		return "", Wrap(ErrValidation, "artifact", "", fmt.Sprintf("unknown artifact kind %q", kind), nil)
	}
	_, audioPath, err := o.trackAudio(ctx, id)
	if err != nil {
		return "", err
	}

	var path string
	switch kind {
	case types.ArtifactVocals:
		path, _ = o.stemPaths(audioPath)
	case types.ArtifactAccompaniment:
		_, path = o.stemPaths(audioPath)
	case types.ArtifactLyrics:
		path = o.lyricsPath(audioPath)
	}
	if !isFile(path) {
		return "", Wrap(ErrNotFound, "artifact", string(kind), "not generated yet", nil)
	}
	return path, nil
}

// GetTrack returns one catalog row.
func (o *Orchestrator) GetTrack(ctx context.Context, id int64) (*types.Track, error) {
	return o.catalog.GetByID(ctx, id)
}

// ListTracks returns catalog rows newest first.
func (o *Orchestrator) ListTracks(ctx context.Context, limit, offset int) ([]*types.Track, error) {
	return o.catalog.List(ctx, limit, offset)
}

// SearchTracks matches query against the descriptive fields of the catalog.
func (o *Orchestrator) SearchTracks(ctx context.Context, query string, limit int) ([]*types.Track, error) {
	return o.catalog.Search(ctx, query, limit)
}

// Stats returns catalog counters.
func (o *Orchestrator) Stats(ctx context.Context) (types.CatalogStats, error) {
	return o.catalog.Stats(ctx)
}

// QueueStats returns counters for every queue.
func (o *Orchestrator) QueueStats() []types.QueueStats {
	stats := make([]types.QueueStats, 0, 3)
	for _, q := range o.queues.all() {
		stats = append(stats, q.Stats())
	}
	return stats
}

// Jobs returns the queued and running jobs of every queue, oldest first.
func (o *Orchestrator) Jobs() []types.JobInfo {
	var jobs []types.JobInfo
	for _, q := range o.queues.all() {
		jobs = append(jobs, q.Jobs()...)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// Job looks up a queued or running job by id.
func (o *Orchestrator) Job(id string) (types.JobInfo, bool) {
	for _, q := range o.queues.all() {
		if job, ok := q.Get(id); ok {
			return job.Info(), true
		}
	}
	return types.JobInfo{}, false
}

// Close stops every queue and waits for running jobs until ctx ends.
func (o *Orchestrator) Close(ctx context.Context) error {
	var errs []error
	for _, q := range o.queues.all() {
		if err := q.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s queue: %w", q.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) trackAudio(ctx context.Context, id int64) (*types.Track, string, error) {
	track, err := o.catalog.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	audioPath, err := o.resolver.Resolve(track.FileRef)
	if err != nil {
		return nil, "", err
	}
	return track, audioPath, nil
}

// stemPaths returns the vocals and accompaniment files for an audio file.
func (o *Orchestrator) stemPaths(audioPath string) (string, string) {
	dir := filepath.Join(o.stemsDir, artifactBase(audioPath))
	return filepath.Join(dir, "vocals.wav"), filepath.Join(dir, "accompaniment.wav")
}

func (o *Orchestrator) stemsReady(audioPath string) bool {
	vocals, accompaniment := o.stemPaths(audioPath)
	return isFile(vocals) && isFile(accompaniment)
}

func (o *Orchestrator) lyricsPath(audioPath string) string {
	return filepath.Join(o.lyricsDir, artifactBase(audioPath)+".lrc")
}

func artifactBase(audioPath string) string {
	base := filepath.Base(audioPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func stemURLs(id int64) *types.StemURLs {
	return &types.StemURLs{
		Vocals:        types.ArtifactURL(id, types.ArtifactVocals),
		Accompaniment: types.ArtifactURL(id, types.ArtifactAccompaniment),
	}
}

func (o *Orchestrator) publishTrack(id int64, eventType, status, message string) {
	if o.events == nil {
		return
	}
	o.events.Publish(types.EventMessage{
		Type:      eventType,
		Topic:     fmt.Sprintf("track:%d", id),
		TrackID:   id,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func validateExternalIDs(archiveID, libraryID string) error {
	if strings.TrimSpace(archiveID) != "" && strings.TrimSpace(libraryID) != "" {
		return Wrap(ErrValidation, "ingest", "", "a track cannot carry both archive_id and library_id", nil)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func inflightKey(queue types.QueueName, id int64) string {
	return fmt.Sprintf("%s:%d", queue, id)
}

// inflightSet tracks which per-track jobs are queued or running.
type inflightSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{keys: make(map[string]struct{})}
}

// claim adds key and reports whether it was absent.
func (s *inflightSet) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *inflightSet) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

func (s *inflightSet) release(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}
