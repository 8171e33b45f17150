package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".wav": true, ".ogg": true, ".m4a": true, ".aac": true, ".opus": true,
}

// Downloader fetches remote audio into the media directory.
type Downloader interface {
	// Download stores the asset and returns its path relative to the media
	// directory.
	Download(ctx context.Context, rawURL, name string) (string, error)
}

// DownloadOption configures a downloader.
type DownloadOption func(*httpDownloader)

// WithProgress renders a byte progress bar to w while downloading.
func WithProgress(w io.Writer) DownloadOption {
	return func(d *httpDownloader) { d.progress = w }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) DownloadOption {
	return func(d *httpDownloader) { d.client = client }
}

type httpDownloader struct {
	mediaDir string
	client   *http.Client
	progress io.Writer
	logger   *zap.Logger
}

// NewDownloader creates a downloader writing into mediaDir.
func NewDownloader(mediaDir string, logger *zap.Logger, opts ...DownloadOption) Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &httpDownloader{
		mediaDir: mediaDir,
		client:   &http.Client{Timeout: 30 * time.Minute},
		logger:   logger.Named("downloader"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *httpDownloader) Download(ctx context.Context, rawURL, name string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", Wrap(ErrValidation, "download", "", "url must be http or https", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", Wrap(ErrValidation, "download", "build request", "", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", Wrap(ErrUpstreamUnavailable, "download", "fetch", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", Wrap(ErrNotFound, "download", "fetch", rawURL, nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", Wrap(ErrUpstreamUnavailable, "download", "fetch", fmt.Sprintf("%s returned %s", rawURL, resp.Status), nil)
	}

	ext := extensionFor(parsed.Path, resp.Header.Get("Content-Type"))
	stem := safeFileName(name)
	if stem == "" {
		stem = safeFileName(strings.TrimSuffix(path.Base(parsed.Path), path.Ext(parsed.Path)))
	}
	if stem == "" {
		stem = "track"
	}

	if err := os.MkdirAll(d.mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}
	tmp, err := os.CreateTemp(d.mediaDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var dst io.Writer = tmp
	if d.progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(d.progress),
			progressbar.OptionSetDescription(stem+ext),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		dst = io.MultiWriter(tmp, bar)
	}

	written, err := io.Copy(dst, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", Wrap(ErrUpstreamUnavailable, "download", "copy", rawURL, err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return "", Wrap(ErrIntegrity, "download", "copy", fmt.Sprintf("short body: %d of %d bytes", written, resp.ContentLength), nil)
	}

	rel := uniqueName(d.mediaDir, stem, ext)
	if err := os.Rename(tmpName, filepath.Join(d.mediaDir, rel)); err != nil {
		return "", fmt.Errorf("move download into place: %w", err)
	}
	d.logger.Info("download complete",
		zap.String("url", rawURL),
		zap.String("file", rel),
		zap.Int64("bytes", written))
	return rel, nil
}

func extensionFor(urlPath, contentType string) string {
	if ext := strings.ToLower(path.Ext(urlPath)); audioExtensions[ext] {
		return ext
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	default:
		return ".mp3"
	}
}

func uniqueName(dir, stem, ext string) string {
	name := stem + ext
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
