package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"spectra/types"
)

// Worker health states reported by GET /health.
const (
	WorkerHealthReady   = "ready"
	WorkerHealthLoading = "loading"
	WorkerHealthError   = "error"
)

// Readiness reports whether the worker may be called.
type Readiness interface {
	Ready() bool
}

// ProcessRequest asks the worker to separate stems and optionally transcribe
// lyrics for one file.
type ProcessRequest struct {
	InputPath         string `json:"input_path"`
	OutputDirStems    string `json:"output_dir_stems"`
	OutputPathLRC     string `json:"output_path_lrc"`
	SkipTranscription bool   `json:"skip_transcription"`
}

// ProcessResult is the worker's answer to a ProcessRequest.
type ProcessResult struct {
	Status   string `json:"status"`
	File     string `json:"file"`
	StemsDir string `json:"stems_dir"`
	LRCPath  string `json:"lrc_path"`
}

type analyzeResponse struct {
	Status   string    `json:"status"`
	BPM      float64   `json:"bpm"`
	Key      string    `json:"key"`
	Waveform []float64 `json:"waveform"`
	Message  string    `json:"message"`
}

// WorkerClient calls the external worker's local RPC endpoints.
type WorkerClient struct {
	baseURL         string
	readiness       Readiness
	client          *http.Client
	healthTimeout   time.Duration
	analysisTimeout time.Duration
	processTimeout  time.Duration
	logger          *zap.Logger
}

// NewWorkerClient creates a client. Calls fail fast with an
// upstream-unavailable error while readiness reports false.
func NewWorkerClient(baseURL string, readiness Readiness, analysisTimeout, processTimeout time.Duration, logger *zap.Logger) *WorkerClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerClient{
		baseURL:         strings.TrimRight(baseURL, "/"),
		readiness:       readiness,
		client:          &http.Client{},
		healthTimeout:   3 * time.Second,
		analysisTimeout: analysisTimeout,
		processTimeout:  processTimeout,
		logger:          logger.Named("worker_client"),
	}
}

// Health returns the worker's self-reported state. It ignores readiness.
func (c *WorkerClient) Health(ctx context.Context) (string, error) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, http.MethodGet, "/health", nil, &body, c.healthTimeout); err != nil {
		return "", err
	}
	return body.Status, nil
}

// Analyze computes tempo, key and a waveform summary for a file.
func (c *WorkerClient) Analyze(ctx context.Context, inputPath string) (*types.AnalysisResult, error) {
	if err := c.checkReady("analyze"); err != nil {
		return nil, err
	}
	var resp analyzeResponse
	req := map[string]string{"input_path": inputPath}
	if err := c.call(ctx, http.MethodPost, "/analyze", req, &resp, c.analysisTimeout); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, Wrap(ErrIntegrity, "worker", "analyze", resp.Message, nil)
	}
	if math.IsNaN(resp.BPM) || resp.BPM < 0 {
		return nil, Wrap(ErrIntegrity, "worker", "analyze", fmt.Sprintf("invalid bpm %v", resp.BPM), nil)
	}
	return &types.AnalysisResult{BPM: resp.BPM, KeySignature: resp.Key, Waveform: resp.Waveform}, nil
}

// ProcessTrack runs stem separation and, unless skipped, lyric
// transcription.
func (c *WorkerClient) ProcessTrack(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if err := c.checkReady("process_track"); err != nil {
		return nil, err
	}
	var resp ProcessResult
	if err := c.call(ctx, http.MethodPost, "/process_track", req, &resp, c.processTimeout); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, Wrap(ErrIntegrity, "worker", "process_track", "unexpected status "+resp.Status, nil)
	}
	return &resp, nil
}

func (c *WorkerClient) checkReady(op string) error {
	if c.readiness != nil && !c.readiness.Ready() {
		return Wrap(ErrUpstreamUnavailable, "worker", op, "worker is not ready", nil)
	}
	return nil
}

func (c *WorkerClient) call(ctx context.Context, method, path string, in, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Wrap(ErrUpstreamUnavailable, "worker", strings.TrimPrefix(path, "/"), "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Wrap(ErrUpstreamUnavailable, "worker", strings.TrimPrefix(path, "/"), "read response", err)
	}
	c.logger.Debug("worker call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return Wrap(ErrUpstreamUnavailable, "worker", strings.TrimPrefix(path, "/"),
			fmt.Sprintf("status %d: %s", resp.StatusCode, workerDetail(raw)), nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Wrap(ErrIntegrity, "worker", strings.TrimPrefix(path, "/"), "malformed response", err)
	}
	return nil
}

// workerDetail pulls the error message out of a worker error body.
func workerDetail(raw []byte) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Message != "" {
			return body.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
