package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spectra/types"
)

func TestITunesLookupPicksBestMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Test Artist Test Song", r.URL.Query().Get("term"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultCount":2,"results":[
			{"trackName":"Another Tune","artistName":"Someone Else","artworkUrl100":"https://img/a/100x100bb.jpg"},
			{"trackName":"Test Song","artistName":"Test Artist","artworkUrl100":"https://img/b/100x100bb.jpg"}
		]}`))
	}))
	defer server.Close()

	lookup := NewITunesLookup(server.URL, server.Client(), 0.8, zaptest.NewLogger(t))
	got, err := lookup.FindArtwork(context.Background(), &types.Track{
		Title: "Test Song (Remastered 2011)", Artist: "Test Artist",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img/b/600x600bb.jpg", got)
}

func TestITunesLookupRejectsWeakMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultCount":1,"results":[
			{"trackName":"Completely Different","artistName":"Unrelated Band","artworkUrl100":"https://img/x/100x100bb.jpg"}
		]}`))
	}))
	defer server.Close()

	lookup := NewITunesLookup(server.URL, server.Client(), 0.8, zaptest.NewLogger(t))
	_, err := lookup.FindArtwork(context.Background(), &types.Track{Title: "Test Song", Artist: "Test Artist"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestITunesLookupUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	lookup := NewITunesLookup(server.URL, server.Client(), 0.8, zaptest.NewLogger(t))
	_, err := lookup.FindArtwork(context.Background(), &types.Track{Title: "Test Song"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.True(t, Retryable(err))
}

func TestArchiveLookupScoresFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/metadata/live-1977", r.URL.Path)
		_, _ = w.Write([]byte(`{"files":[
			{"name":"track01.flac","size":"30000000"},
			{"name":"track01_spectrogram.png","size":"900000"},
			{"name":"__ia_thumb.jpg","size":"8000"},
			{"name":"artwork/front cover.jpg","size":"250000"},
			{"name":"misc.jpg","size":"2000000"}
		]}`))
	}))
	defer server.Close()

	lookup := NewArchiveLookup(server.URL, server.Client())
	got, err := lookup.FindArtwork(context.Background(), &types.Track{ArchiveID: "live-1977"})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/download/live-1977/artwork/front%20cover.jpg", got)

	_, err = lookup.FindArtwork(context.Background(), &types.Track{LibraryID: "L-1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScoreArchiveImage(t *testing.T) {
	assert.InDelta(t, 100+50+150, scoreArchiveImage(archiveFile{Name: "scans/Cover.jpg", Size: "5000000"}), 0.001)
	assert.InDelta(t, 10-200, scoreArchiveImage(archiveFile{Name: "waveform.png", Size: "102400"}), 0.001)
}
