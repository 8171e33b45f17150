package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectra/types"
)

func TestHealthAndWorkerStatus(t *testing.T) {
	h := newTestHelper(t)

	var health map[string]any
	resp := h.getJSON(t, "/health", &health)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "spectra", health["service"])
	assert.Equal(t, true, health["workerReady"])

	var worker types.WorkerStatus
	resp = h.getJSON(t, "/api/worker", &worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", worker.State)
	assert.Equal(t, 4242, worker.PID)
}

func TestHealthWithoutSupervisor(t *testing.T) {
	status := NewHealthHandler(nil).workerStatus()
	assert.Equal(t, "unmanaged", status.State)
	assert.False(t, status.Ready)
}

func TestQueueStatsAndJobs(t *testing.T) {
	h := newTestHelper(t)
	h.ingestLocal(t, "ripple.mp3", audioBytes(16))

	var body struct {
		Queues []types.QueueStats `json:"queues"`
	}
	require.Eventually(t, func() bool {
		h.getJSON(t, "/api/queues", &body)
		return len(body.Queues) == 3 && body.Queues[0].Completed == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, types.QueueAnalysis, body.Queues[0].Name)
	assert.Equal(t, 2, body.Queues[0].Concurrency)
	assert.Equal(t, 1, body.Queues[1].Concurrency)
	assert.Equal(t, 1, body.Queues[2].Concurrency)

	var jobs struct {
		Jobs  []types.JobInfo `json:"jobs"`
		Total int             `json:"total"`
	}
	resp := h.getJSON(t, "/api/jobs", &jobs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, jobs.Total)

	resp = h.getJSON(t, "/api/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettingsReflectConfig(t *testing.T) {
	h := newTestHelper(t)

	var settings Settings
	resp := h.getJSON(t, "/api/settings", &settings)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, h.Config.Paths.MediaDir, settings.MediaDir)
	assert.Equal(t, []string{h.Config.Paths.MediaDir}, settings.StorageRoots)
	assert.Equal(t, 2, settings.Queues.Analysis)
	assert.False(t, settings.CoverLookup)
}

func TestEventsFeed(t *testing.T) {
	h := newTestHelper(t)
	conn := h.connectWebSocket(t, "/api/ws/events")
	require.Eventually(t, func() bool { return h.Hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.ingestLocal(t, "ripple.mp3", audioBytes(16))

	seen := map[string]bool{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for !seen[types.EventAnalysisUpdated] {
		var msg types.EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		seen[msg.Type] = true
	}
	assert.True(t, seen[types.EventJobQueued])
	assert.True(t, seen[types.EventJobStarted])
}
