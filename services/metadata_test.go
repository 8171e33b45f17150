package services

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetadataFromPath(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		title       string
		artist      string
		album       string
		trackNumber int
	}{
		{
			name:        "artist album and numbered track",
			path:        "Artist Name/Album Name/01 - Song Title.flac",
			title:       "Song Title",
			artist:      "Artist Name",
			album:       "Album Name",
			trackNumber: 1,
		},
		{
			name:        "dotted track number",
			path:        "Artist/Album/3. Track Name.mp3",
			title:       "Track Name",
			artist:      "Artist",
			album:       "Album",
			trackNumber: 3,
		},
		{
			name:  "single directory is the album",
			path:  "Artist/Song.mp3",
			title: "Song",
			album: "Artist",
		},
		{
			name:  "bare filename",
			path:  "song.wav",
			title: "song",
		},
		{
			name:   "underscores become spaces",
			path:   "a/b/Box_of_Rain.ogg",
			title:  "Box of Rain",
			artist: "a",
			album:  "b",
		},
		{
			name:        "deep path uses the last two directories",
			path:        "/srv/music/Grateful Dead/American Beauty/12 Ripple.flac",
			title:       "Ripple",
			artist:      "Grateful Dead",
			album:       "American Beauty",
			trackNumber: 12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metadata := MetadataFromPath(tt.path)
			assert.Equal(t, tt.title, metadata.Title)
			assert.Equal(t, tt.artist, metadata.Artist)
			assert.Equal(t, tt.album, metadata.Album)
			assert.Equal(t, tt.trackNumber, metadata.TrackNumber)
		})
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"song.flac":   "audio/flac",
		"song.MP3":    "audio/mpeg",
		"vocals.wav":  "audio/wav",
		"take.ogg":    "audio/ogg",
		"take.m4a":    "audio/mp4",
		"song.lrc":    "text/plain; charset=utf-8",
		"cover.jpeg":  "image/jpeg",
		"cover.png":   "image/png",
		"cover.svg":   "image/svg+xml",
		"unknown.xyz": "application/octet-stream",
		"noext":       "application/octet-stream",
	}
	for path, want := range tests {
		assert.Equal(t, want, ContentType(path), path)
	}
}

func TestReadMetadataCorruptedFiles(t *testing.T) {
	reader := NewMetadataReader(zaptest.NewLogger(t))
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content []byte
		title   string
		format  string
	}{
		{name: "garbage flac", file: "07 - Broken.flac", content: []byte("not a flac stream"), title: "Broken", format: "flac"},
		{name: "garbage mp3", file: "Bad_Tags.mp3", content: []byte("garbage bytes without any tags"), title: "Bad Tags", format: "mp3"},
		{name: "empty file", file: "Empty.wav", content: nil, title: "Empty", format: "wav"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, tt.content, 0o644))

			metadata := reader.ReadMetadata(path)
			require.NotNil(t, metadata)
			assert.Equal(t, tt.title, metadata.Title)
			assert.Equal(t, tt.format, metadata.Format)
			assert.Zero(t, metadata.Duration)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		metadata := reader.ReadMetadata(filepath.Join(dir, "02 Gone.flac"))
		assert.Equal(t, "Gone", metadata.Title)
		assert.Equal(t, 2, metadata.TrackNumber)
	})
}

func writeTaggedMP3(t *testing.T, path string, picture []byte) {
	t.Helper()
	tag := id3v2.NewEmptyTag()
	tag.SetTitle("Sugar Magnolia")
	tag.SetArtist("Grateful Dead")
	tag.SetAlbum("American Beauty")
	if picture != nil {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/png",
			PictureType: id3v2.PTFrontCover,
			Description: "Front",
			Picture:     picture,
		})
	}
	var buf bytes.Buffer
	_, err := tag.WriteTo(&buf)
	require.NoError(t, err)
	buf.Write(bytes.Repeat([]byte{0}, 256))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestReadMetadataID3Tags(t *testing.T) {
	reader := NewMetadataReader(zaptest.NewLogger(t))
	path := filepath.Join(t.TempDir(), "track.mp3")
	writeTaggedMP3(t, path, nil)

	metadata := reader.ReadMetadata(path)
	assert.Equal(t, "Sugar Magnolia", metadata.Title)
	assert.Equal(t, "Grateful Dead", metadata.Artist)
	assert.Equal(t, "American Beauty", metadata.Album)
	assert.Equal(t, "mp3", metadata.Format)
}

func TestExtractPicture(t *testing.T) {
	reader := NewMetadataReader(zaptest.NewLogger(t))
	dir := t.TempDir()

	t.Run("embedded id3 picture", func(t *testing.T) {
		path := filepath.Join(dir, "with-art.mp3")
		art := []byte("\x89PNG\r\n\x1a\nfake-image-bytes")
		writeTaggedMP3(t, path, art)

		pic, err := reader.ExtractPicture(path)
		require.NoError(t, err)
		assert.Equal(t, art, pic.Data)
		assert.Equal(t, ".png", pic.Ext())
	})

	t.Run("tags without picture", func(t *testing.T) {
		path := filepath.Join(dir, "no-art.mp3")
		writeTaggedMP3(t, path, nil)

		_, err := reader.ExtractPicture(path)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not audio", func(t *testing.T) {
		path := filepath.Join(dir, "notes.flac")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

		_, err := reader.ExtractPicture(path)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := reader.ExtractPicture(filepath.Join(dir, "absent.mp3"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPictureExt(t *testing.T) {
	assert.Equal(t, ".png", (&Picture{MIMEType: "image/PNG"}).Ext())
	assert.Equal(t, ".webp", (&Picture{MIMEType: "image/webp"}).Ext())
	assert.Equal(t, ".jpg", (&Picture{MIMEType: "image/jpeg"}).Ext())
	assert.Equal(t, ".jpg", (&Picture{}).Ext())
}
