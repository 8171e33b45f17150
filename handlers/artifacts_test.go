package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectra/types"
)

func TestRequestStemsThenFetch(t *testing.T) {
	h := newTestHelper(t)
	id := h.ingestLocal(t, "ripple.mp3", audioBytes(16))
	path := fmt.Sprintf("/api/vox/%d", id)

	var resp types.ArtifactResponse
	first := h.postJSON(t, path, nil, &resp)
	assert.Contains(t, []int{http.StatusAccepted, http.StatusOK}, first.StatusCode)

	require.Eventually(t, func() bool {
		res := h.postJSON(t, path, nil, &resp)
		return res.StatusCode == http.StatusOK && resp.Status == types.ArtifactReady
	}, 5*time.Second, 20*time.Millisecond)
	require.NotNil(t, resp.Stems)
	assert.Equal(t, types.ArtifactURL(id, types.ArtifactVocals), resp.Stems.Vocals)

	fetched, body := h.do(t, http.MethodGet, resp.Stems.Vocals, nil, nil)
	require.Equal(t, http.StatusOK, fetched.StatusCode)
	assert.Equal(t, "audio/wav", fetched.Header.Get("Content-Type"))
	assert.Equal(t, "RIFF-vocals.wav", string(body))

	missing, _ := h.do(t, http.MethodGet, types.ArtifactURL(id, types.ArtifactLyrics), nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestRequestLyrics(t *testing.T) {
	h := newTestHelper(t)
	id := h.ingestLocal(t, "ripple.mp3", audioBytes(16))
	path := fmt.Sprintf("/api/lyrics/%d", id)

	var resp types.ArtifactResponse
	require.Eventually(t, func() bool {
		res := h.postJSON(t, path, nil, &resp)
		return res.StatusCode == http.StatusOK && resp.Status == types.ArtifactReady
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, types.ArtifactURL(id, types.ArtifactLyrics), resp.Lyrics)

	fetched, body := h.do(t, http.MethodGet, resp.Lyrics, nil, nil)
	require.Equal(t, http.StatusOK, fetched.StatusCode)
	assert.Equal(t, "[00:01.00]la la", string(body))

	var analysis types.AnalysisResponse
	h.getJSON(t, fmt.Sprintf("/api/analysis?id=%d", id), &analysis)
	assert.Equal(t, resp.Lyrics, analysis.Lyrics)
	require.NotNil(t, analysis.Stems)
}

func TestArtifactRejectsUnknownKind(t *testing.T) {
	h := newTestHelper(t)
	id := h.ingestLocal(t, "ripple.mp3", audioBytes(16))

	var body map[string]string
	resp := h.getJSON(t, fmt.Sprintf("/api/artifacts/%d/drums", id), &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "artifact not available", body["error"])

	resp = h.postJSON(t, "/api/vox/31337", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
