package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spectra/config"
	"spectra/services"
	"spectra/types"
	"spectra/websocket"
)

// stubWorker completes every worker call immediately.
type stubWorker struct{}

func (stubWorker) Analyze(ctx context.Context, inputPath string) (*types.AnalysisResult, error) {
	return &types.AnalysisResult{BPM: 128, KeySignature: "8A", Waveform: []float64{0.1, 0.5, 0.3}}, nil
}

func (stubWorker) ProcessTrack(ctx context.Context, req services.ProcessRequest) (*services.ProcessResult, error) {
	base := strings.TrimSuffix(filepath.Base(req.InputPath), filepath.Ext(req.InputPath))
	dir := filepath.Join(req.OutputDirStems, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	for _, name := range []string{"vocals.wav", "accompaniment.wav"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("RIFF-"+name), 0o644); err != nil {
			return nil, err
		}
	}
	if !req.SkipTranscription {
		if err := os.WriteFile(req.OutputPathLRC, []byte("[00:01.00]la la"), 0o644); err != nil {
			return nil, err
		}
	}
	return &services.ProcessResult{Status: "success", StemsDir: dir, LRCPath: req.OutputPathLRC}, nil
}

type staticWorkerStatus types.WorkerStatus

func (s staticWorkerStatus) Status() types.WorkerStatus { return types.WorkerStatus(s) }

// testHelper runs the full router over temporary directories.
type testHelper struct {
	Server *httptest.Server
	Config *config.Config
	Core   *services.Orchestrator
	Hub    websocket.Hub
}

func newTestHelper(t *testing.T) *testHelper {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = dataDir
	cfg.Paths.MediaDir = filepath.Join(dataDir, "media")
	cfg.Paths.CoverDir = filepath.Join(dataDir, "covers")
	cfg.Paths.StemsDir = filepath.Join(dataDir, "stems")
	cfg.Paths.LyricsDir = filepath.Join(dataDir, "lyrics")
	cfg.Paths.DBPath = filepath.Join(dataDir, "spectra.db")
	cfg.Paths.StorageRoots = []string{cfg.Paths.MediaDir}
	cfg.Lookup.Enabled = false
	require.NoError(t, cfg.EnsureDirectories())

	hub := websocket.NewHub(logger)
	go hub.Run()

	catalog, err := services.OpenCatalog(cfg.Paths.DBPath, logger)
	require.NoError(t, err)

	resolver := services.NewPathResolver(cfg.Paths.StorageRoots...)
	metadata := services.NewMetadataReader(logger)
	core := services.NewOrchestrator(services.OrchestratorDeps{
		Catalog:  catalog,
		Resolver: resolver,
		Covers: services.NewCoverPipeline(services.CoverPipelineConfig{
			CoverDir:   cfg.Paths.CoverDir,
			CoverNames: cfg.Paths.CoverNames,
			Resolver:   resolver,
			Store:      catalog,
			Extractor:  metadata,
			Logger:     logger,
		}),
		Worker:     stubWorker{},
		Downloader: services.NewDownloader(cfg.Paths.MediaDir, logger),
		Metadata:   metadata,
		Queues: services.Queues{
			Analysis:   services.NewJobQueue(types.QueueAnalysis, cfg.Queues.Analysis, logger, hub),
			Separation: services.NewJobQueue(types.QueueSeparation, cfg.Queues.Separation, logger, hub),
			Lyrics:     services.NewJobQueue(types.QueueLyrics, cfg.Queues.Lyrics, logger, hub),
		},
		StemsDir:  cfg.Paths.StemsDir,
		LyricsDir: cfg.Paths.LyricsDir,
		Events:    hub,
		Logger:    logger,
	})

	router := NewRouter(RouterDeps{
		Config: &cfg,
		Core:   core,
		Hub:    hub,
		Worker: staticWorkerStatus{State: "healthy", Ready: true, PID: 4242},
		Logger: logger,
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = core.Close(ctx)
		hub.Stop()
		_ = catalog.Close()
	})

	return &testHelper{Server: server, Config: &cfg, Core: core, Hub: hub}
}

// createMediaFile writes content under the media directory and returns its
// catalog reference.
func (h *testHelper) createMediaFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	fullPath := filepath.Join(h.Config.Paths.MediaDir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, content, 0o644))
	return name
}

// ingestLocal catalogs a new media file and returns its track id.
func (h *testHelper) ingestLocal(t *testing.T, name string, content []byte) int64 {
	t.Helper()
	ref := h.createMediaFile(t, name, content)
	var resp types.IngestResponse
	res := h.postJSON(t, "/api/ingest/local", types.LocalIngestRequest{
		FileRef: ref, Title: "Ripple", Artist: "Grateful Dead",
	}, &resp)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	return resp.TrackID
}

func (h *testHelper) request(t *testing.T, method, path string, body any, header http.Header) *http.Response {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// do performs a request and returns the response with its body read.
func (h *testHelper) do(t *testing.T, method, path string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()
	resp := h.request(t, method, path, body, header)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (h *testHelper) getJSON(t *testing.T, path string, target any) *http.Response {
	t.Helper()
	resp, data := h.do(t, http.MethodGet, path, nil, nil)
	if target != nil {
		require.NoError(t, json.Unmarshal(data, target), string(data))
	}
	return resp
}

func (h *testHelper) postJSON(t *testing.T, path string, body, target any) *http.Response {
	t.Helper()
	resp, data := h.do(t, http.MethodPost, path, body, nil)
	if target != nil {
		require.NoError(t, json.Unmarshal(data, target), string(data))
	}
	return resp
}

func (h *testHelper) connectWebSocket(t *testing.T, path string) *gorillaws.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.Server.URL, "http") + path
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}
