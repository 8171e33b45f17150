package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixedReadiness bool

func (r fixedReadiness) Ready() bool { return bool(r) }

func TestWorkerClientAnalyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req["input_path"] {
		case "/music/good.mp3":
			_, _ = w.Write([]byte(`{"status":"success","bpm":128.0,"key":"8A","waveform":[0.1,0.5,1]}`))
		case "/music/bad.mp3":
			_, _ = w.Write([]byte(`{"status":"error","message":"could not decode"}`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer server.Close()

	client := NewWorkerClient(server.URL, fixedReadiness(true), time.Second, time.Second, zaptest.NewLogger(t))

	result, err := client.Analyze(context.Background(), "/music/good.mp3")
	require.NoError(t, err)
	assert.InDelta(t, 128.0, result.BPM, 0.001)
	assert.Equal(t, "8A", result.KeySignature)
	assert.Equal(t, []float64{0.1, 0.5, 1}, result.Waveform)

	_, err = client.Analyze(context.Background(), "/music/bad.mp3")
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = client.Analyze(context.Background(), "/music/other.mp3")
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestWorkerClientFailsFastWhenNotReady(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewWorkerClient(server.URL, fixedReadiness(false), time.Second, time.Second, zaptest.NewLogger(t))
	_, err := client.ProcessTrack(context.Background(), ProcessRequest{InputPath: "/a.mp3"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.False(t, called)
}

func TestWorkerClientTimeoutIsUpstreamUnavailable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewWorkerClient(server.URL, fixedReadiness(true), 50*time.Millisecond, time.Second, zaptest.NewLogger(t))
	_, err := client.Analyze(context.Background(), "/a.mp3")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestWorkerClientProcessTrack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ProcessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.InputPath == "/music/broken.mp3" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"Demucs failed"}`))
			return
		}
		assert.True(t, req.SkipTranscription)
		_, _ = w.Write([]byte(`{"status":"success","file":"song","stems_dir":"/stems/song","lrc_path":null}`))
	}))
	defer server.Close()

	client := NewWorkerClient(server.URL, fixedReadiness(true), time.Second, time.Second, zaptest.NewLogger(t))
	result, err := client.ProcessTrack(context.Background(), ProcessRequest{
		InputPath: "/music/song.mp3", OutputDirStems: "/stems", SkipTranscription: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "/stems/song", result.StemsDir)
	assert.Empty(t, result.LRCPath)

	_, err = client.ProcessTrack(context.Background(), ProcessRequest{InputPath: "/music/broken.mp3", SkipTranscription: true})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "Demucs failed")
}

func TestWorkerClientHealthIgnoresReadiness(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"loading"}`))
	}))
	defer server.Close()

	client := NewWorkerClient(server.URL, fixedReadiness(false), time.Second, time.Second, zaptest.NewLogger(t))
	status, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WorkerHealthLoading, status)
}
