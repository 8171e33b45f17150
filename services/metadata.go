package services

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	goflac "github.com/go-flac/go-flac"
	mewflac "github.com/mewkiz/flac"
	"go.uber.org/zap"

	"spectra/types"
)

var trackNumberPrefix = regexp.MustCompile(`^(\d+)[\.\-\s]+(.+)`)

// Picture is an image embedded in an audio container.
type Picture struct {
	Data     []byte
	MIMEType string
}

// Ext returns a file extension matching the picture's MIME type.
func (p *Picture) Ext() string {
	switch strings.ToLower(p.MIMEType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// MetadataReader reads descriptive tags and embedded artwork from audio files.
type MetadataReader interface {
	ReadMetadata(filePath string) *types.AudioMetadata
	ExtractPicture(filePath string) (*Picture, error)
}

type metadataReader struct {
	logger *zap.Logger
}

// NewMetadataReader creates a metadata reader.
func NewMetadataReader(logger *zap.Logger) MetadataReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &metadataReader{logger: logger.Named("metadata")}
}

// ContentType returns the MIME type served for an audio or artifact file.
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".flac":
		return "audio/flac"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".m4a", ".aac":
		return "audio/mp4"
	case ".lrc":
		return "text/plain; charset=utf-8"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// ReadMetadata extracts descriptive metadata, falling back to container
// specific readers and finally to the file path for missing fields.
func (r *metadataReader) ReadMetadata(filePath string) *types.AudioMetadata {
	metadata := &types.AudioMetadata{Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")}

	if file, err := os.Open(filePath); err != nil {
		r.logger.Warn("could not open audio file", zap.String("path", filePath), zap.Error(err))
	} else {
		meta, err := tag.ReadFrom(file)
		file.Close()
		if err != nil {
			r.logger.Debug("tag reader could not parse file", zap.String("path", filePath), zap.Error(err))
		} else {
			metadata.Title = strings.TrimSpace(meta.Title())
			metadata.Artist = strings.TrimSpace(meta.Artist())
			metadata.Album = strings.TrimSpace(meta.Album())
			metadata.TrackNumber, _ = meta.Track()
			if ft := strings.ToLower(string(meta.FileType())); ft != "" && ft != "unknown" {
				metadata.Format = ft
			}
		}
	}

	switch metadata.Format {
	case "flac":
		r.fillFromFLAC(filePath, metadata)
	case "mp3":
		r.fillFromID3(filePath, metadata)
	}

	// Only the filename is trusted here; MetadataFromPath handles stored refs.
	if metadata.Title == "" {
		fallback := MetadataFromPath(filepath.Base(filePath))
		metadata.Title = fallback.Title
		if metadata.TrackNumber == 0 {
			metadata.TrackNumber = fallback.TrackNumber
		}
	}

	if metadata.Bitrate == 0 && metadata.Duration > 0 {
		if info, err := os.Stat(filePath); err == nil {
			metadata.Bitrate = int(float64(info.Size()) * 8 / metadata.Duration / 1000)
		}
	}
	return metadata
}

// fillFromFLAC reads stream info for duration and Vorbis comments for any
// fields the generic reader missed.
func (r *metadataReader) fillFromFLAC(filePath string, metadata *types.AudioMetadata) {
	if stream, err := mewflac.Open(filePath); err == nil {
		if info := stream.Info; info != nil && info.SampleRate > 0 {
			metadata.Duration = float64(info.NSamples) / float64(info.SampleRate)
		}
		stream.Close()
	} else {
		r.logger.Debug("flac stream info unavailable", zap.String("path", filePath), zap.Error(err))
	}

	if metadata.Title != "" && metadata.Artist != "" && metadata.Album != "" {
		return
	}
	f, err := goflac.ParseFile(filePath)
	if err != nil {
		return
	}
	for _, block := range f.Meta {
		if block.Type != goflac.VorbisComment {
			continue
		}
		comment, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}
		fill := func(target *string, field string) {
			if *target != "" {
				return
			}
			if values, err := comment.Get(field); err == nil && len(values) > 0 {
				*target = strings.TrimSpace(values[0])
			}
		}
		fill(&metadata.Title, flacvorbis.FIELD_TITLE)
		fill(&metadata.Artist, flacvorbis.FIELD_ARTIST)
		fill(&metadata.Album, flacvorbis.FIELD_ALBUM)
	}
}

// fillFromID3 reads the TLEN frame for duration and text frames for any
// fields the generic reader missed.
func (r *metadataReader) fillFromID3(filePath string, metadata *types.AudioMetadata) {
	id3, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return
	}
	defer id3.Close()

	if length := strings.TrimSpace(id3.GetTextFrame("TLEN").Text); length != "" {
		if ms, err := strconv.ParseFloat(length, 64); err == nil && ms > 0 {
			metadata.Duration = ms / 1000
		}
	}
	if metadata.Title == "" {
		metadata.Title = strings.TrimSpace(id3.Title())
	}
	if metadata.Artist == "" {
		metadata.Artist = strings.TrimSpace(id3.Artist())
	}
	if metadata.Album == "" {
		metadata.Album = strings.TrimSpace(id3.Album())
	}
}

// ExtractPicture returns the embedded cover image. It returns ErrNotFound
// when the container holds no picture.
func (r *metadataReader) ExtractPicture(filePath string) (*Picture, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, Wrap(ErrNotFound, "metadata", "picture", "open audio file", err)
	}
	meta, err := tag.ReadFrom(file)
	file.Close()
	if err == nil {
		if pic := meta.Picture(); pic != nil && len(pic.Data) > 0 {
			return &Picture{Data: pic.Data, MIMEType: pic.MIMEType}, nil
		}
	}

	var pic *Picture
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".flac":
		pic, err = flacPicture(filePath)
	case ".mp3":
		pic, err = id3Picture(filePath)
	}
	if err != nil {
		r.logger.Debug("embedded picture fallback failed", zap.String("path", filePath), zap.Error(err))
	}
	if pic == nil {
		return nil, Wrap(ErrNotFound, "metadata", "picture", "no embedded picture", nil)
	}
	return pic, nil
}

func flacPicture(filePath string) (*Picture, error) {
	f, err := goflac.ParseFile(filePath)
	if err != nil {
		return nil, err
	}
	var best *flacpicture.MetadataBlockPicture
	for _, block := range f.Meta {
		if block.Type != goflac.Picture {
			continue
		}
		pic, err := flacpicture.ParseFromMetaDataBlock(*block)
		if err != nil || len(pic.ImageData) == 0 {
			continue
		}
		if best == nil || pic.PictureType == flacpicture.PictureTypeFrontCover {
			best = pic
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Picture{Data: best.ImageData, MIMEType: best.MIME}, nil
}

func id3Picture(filePath string) (*Picture, error) {
	id3, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return nil, err
	}
	defer id3.Close()

	var best *id3v2.PictureFrame
	for _, frame := range id3.GetFrames(id3.CommonID("Attached picture")) {
		pf, ok := frame.(id3v2.PictureFrame)
		if !ok || len(pf.Picture) == 0 {
			continue
		}
		if best == nil || pf.PictureType == id3v2.PTFrontCover {
			best = &pf
		}
	}
	if best == nil {
		return nil, errors.New("no attached picture frame")
	}
	return &Picture{Data: best.Picture, MIMEType: best.MimeType}, nil
}

// MetadataFromPath parses Artist/Album/NN - Title.ext layouts of a relative
// file reference.
func MetadataFromPath(filePath string) *types.AudioMetadata {
	metadata := &types.AudioMetadata{}

	parts := strings.Split(filepath.ToSlash(filePath), "/")
	if len(parts) >= 3 {
		metadata.Artist = parts[len(parts)-3]
	}
	if len(parts) >= 2 {
		metadata.Album = parts[len(parts)-2]
	}

	filename := filepath.Base(filePath)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	if matches := trackNumberPrefix.FindStringSubmatch(title); len(matches) > 2 {
		title = matches[2]
		if trackNum, err := strconv.Atoi(matches[1]); err == nil {
			metadata.TrackNumber = trackNum
		}
	}
	metadata.Title = strings.TrimSpace(strings.ReplaceAll(title, "_", " "))
	return metadata
}
