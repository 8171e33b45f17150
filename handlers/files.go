package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spectra/services"
	"spectra/types"
)

const (
	coverCacheControl       = "public, max-age=31536000"
	placeholderCacheControl = "public, max-age=300"
	streamCacheControl      = "public, max-age=3600"
)

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// FileHandler serves audio, cover art and derived artifacts.
type FileHandler struct {
	core   *services.Orchestrator
	logger *zap.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(core *services.Orchestrator, logger *zap.Logger) *FileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHandler{core: core, logger: logger.Named("files")}
}

// StreamTrack streams the audio of a track with support for range requests
func (h *FileHandler) StreamTrack(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}
	_, audioPath, err := h.core.ResolveStream(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "track not available", err)
		return
	}
	h.serveFile(c, audioPath, services.ContentType(audioPath), streamCacheControl)
}

// Cover returns the artwork of a track. A generated placeholder is returned
// when no stage finds real art.
func (h *FileHandler) Cover(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}
	result, err := h.core.EnsureCover(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "cover not available", err)
		return
	}
	c.Header("X-Cover-Source", string(result.Source))
	if result.IsPlaceholder() {
		c.Header("Cache-Control", placeholderCacheControl)
		c.Data(http.StatusOK, result.ContentType(), result.Placeholder)
		return
	}
	h.serveFile(c, result.Path, result.ContentType(), coverCacheControl)
}

// Artifact serves a generated stem or lyric file.
func (h *FileHandler) Artifact(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}
	kind := types.ArtifactKind(c.Param("kind"))
	artifactPath, err := h.core.ArtifactPath(c.Request.Context(), id, kind)
	if err != nil {
		respondError(c, h.logger, "artifact not available", err)
		return
	}
	h.serveFile(c, artifactPath, services.ContentType(artifactPath), streamCacheControl)
}

func (h *FileHandler) serveFile(c *gin.Context, filePath, contentType, cacheControl string) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "file not found",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to open file",
			"details": err.Error(),
		})
		return
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil || fileInfo.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "file not found",
		})
		return
	}
	size := fileInfo.Size()

	c.Header("Content-Type", contentType)
	c.Header("Accept-Ranges", "bytes")
	c.Header("Cache-Control", cacheControl)

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)
		if c.Request.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(c.Writer, file); err != nil {
			h.logger.Debug("stream interrupted", zap.String("file", filePath), zap.Error(err))
		}
		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to seek file",
		})
		return
	}

	contentLength := end - start + 1
	c.Header("Content-Length", strconv.FormatInt(contentLength, 10))
	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	c.Status(http.StatusPartialContent)
	if c.Request.Method == http.MethodHead {
		return
	}

	if _, err := io.CopyN(c.Writer, file, contentLength); err != nil {
		h.logger.Debug("range stream interrupted",
			zap.String("file", filePath),
			zap.Int64("start", start),
			zap.Int64("end", end),
			zap.Error(err))
	}
}

// parseRange resolves a single "bytes=" range against size. Open ended
// ranges run to the last byte and "-N" selects the final N bytes.
func parseRange(header string, size int64) (int64, int64, error) {
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, errRangeNotSatisfiable
	}
	spec := strings.TrimSpace(strings.TrimPrefix(header, "bytes="))
	// Only the first range of a multi-range request is honoured.
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = strings.TrimSpace(spec[:i])
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found || size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	if startStr == "" {
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, errRangeNotSatisfiable
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, errRangeNotSatisfiable
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, nil
}
