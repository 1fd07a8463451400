package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/durianscan/internal/analytics"
	"github.com/your-org/durianscan/internal/auth"
	"github.com/your-org/durianscan/internal/grading"
	"github.com/your-org/durianscan/internal/models"
	"github.com/your-org/durianscan/internal/scan"
	"github.com/your-org/durianscan/internal/storage"
	"github.com/your-org/durianscan/pkg/dto"
)

// ScanService is the part of scan.Service the HTTP layer uses.
type ScanService interface {
	Scan(ctx context.Context, userID string, up scan.Upload, save bool) (*scan.Outcome, error)
	Enqueue(ctx context.Context, userID string, up scan.Upload) (*models.ScanTask, error)
	ClassifyDisease(ctx context.Context, up scan.Upload) (*models.DiseaseVerdict, error)
	History(ctx context.Context, userID string, limit, skip int) ([]models.ScanRecord, error)
	Get(ctx context.Context, id uuid.UUID, userID string) (*models.ScanRecord, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	Analytics(ctx context.Context, userID string, r analytics.TimeRange) (*analytics.Report, error)
	Image(ctx context.Context, userID, key string) ([]byte, error)
}

const (
	imageField       = "image"
	defaultPageLimit = 50
)

type ScannerHandler struct {
	scans     ScanService
	maxUpload int64
	now       func() time.Time
}

func NewScannerHandler(scans ScanService, maxUploadBytes int64) *ScannerHandler {
	return &ScannerHandler{scans: scans, maxUpload: maxUploadBytes, now: time.Now}
}

// Detect grades an uploaded image and stores it in the caller's history when
// save_to_history is "true" (the default).
func (h *ScannerHandler) Detect(c *gin.Context) {
	up, info, ok := h.readUpload(c)
	if !ok {
		return
	}
	save := strings.EqualFold(c.DefaultPostForm("save_to_history", "true"), "true")

	out, err := h.scans.Scan(c.Request.Context(), auth.UserID(c), up, save)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := dto.DetectResponse{
		Success:           true,
		Detection:         out.Result.Detection,
		Analysis:          out.Result.Analysis,
		Color:             out.Result.Color,
		Disease:           out.Result.Disease,
		DroppedDetections: out.Result.Dropped,
		RequestInfo:       info,
	}
	if rec := out.Record; rec != nil {
		resp.ScanSaved = true
		resp.ScanID = &rec.ID
		resp.Status = rec.Status
		resp.Images = &dto.ImageLinks{ImageURL: rec.ImageURL, ThumbnailURL: rec.ThumbnailURL}
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitAsync queues a scan for the workers. The result arrives over the
// WebSocket and in the history.
func (h *ScannerHandler) SubmitAsync(c *gin.Context) {
	up, _, ok := h.readUpload(c)
	if !ok {
		return
	}

	task, err := h.scans.Enqueue(c.Request.Context(), auth.UserID(c), up)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.AsyncScanResponse{
		ScanID:      task.ScanID,
		Status:      "queued",
		ImageURL:    scan.ImageURL(task.ImageKey),
		SubmittedAt: dto.FormatTime(task.SubmittedAt),
	})
}

func (h *ScannerHandler) ClassifyDisease(c *gin.Context) {
	up, info, ok := h.readUpload(c)
	if !ok {
		return
	}

	verdict, err := h.scans.ClassifyDisease(c.Request.Context(), up)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DiseaseResponse{
		Success:        true,
		DiseaseVerdict: *verdict,
		RequestInfo:    info,
	})
}

func (h *ScannerHandler) History(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultPageLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	skip, err := intQuery(c, "skip", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scans, err := h.scans.History(c.Request.Context(), auth.UserID(c), limit, skip)
	if err != nil {
		writeError(c, err)
		return
	}
	if scans == nil {
		scans = []models.ScanRecord{}
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{
		Success: true,
		Scans:   scans,
		Count:   len(scans),
		Limit:   limit,
		Skip:    skip,
	})
}

func (h *ScannerHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scan id"})
		return
	}

	rec, err := h.scans.Get(c.Request.Context(), id, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return
	}

	c.JSON(http.StatusOK, dto.ScanResponse{Success: true, Scan: rec})
}

func (h *ScannerHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scan id"})
		return
	}

	deleted, err := h.scans.Delete(c.Request.Context(), id, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, dto.DeleteResponse{Success: false, Message: "Could not delete scan"})
		return
	}

	c.JSON(http.StatusOK, dto.DeleteResponse{Success: true, Message: "Scan deleted successfully"})
}

// Image serves a stored original or thumbnail to its owner.
func (h *ScannerHandler) Image(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	data, err := h.scans.Image(c.Request.Context(), auth.UserID(c), key)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (h *ScannerHandler) Analytics(c *gin.Context) {
	report, ok := h.report(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.AnalyticsResponse{Success: true, Report: *report})
}

// Stats returns only the headline numbers of the analytics report.
func (h *ScannerHandler) Stats(c *gin.Context) {
	report, ok := h.report(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.StatsResponse{Success: true, Stats: report.Stats})
}

func (h *ScannerHandler) report(c *gin.Context) (*analytics.Report, bool) {
	r := analytics.ParseTimeRange(c.Query("time_range"))
	report, err := h.scans.Analytics(c.Request.Context(), auth.UserID(c), r)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return report, true
}

// readUpload reads the "image" form file. It writes the error response
// itself and reports ok=false when there is nothing to process.
func (h *ScannerHandler) readUpload(c *gin.Context) (scan.Upload, dto.RequestInfo, bool) {
	fh, err := c.FormFile(imageField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		return scan.Upload{}, dto.RequestInfo{}, false
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("File too large: maximum is %d MB", h.maxUpload>>20),
		})
		return scan.Upload{}, dto.RequestInfo{}, false
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read upload: " + err.Error()})
		return scan.Upload{}, dto.RequestInfo{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read upload: " + err.Error()})
		return scan.Upload{}, dto.RequestInfo{}, false
	}

	up := scan.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}
	info := dto.RequestInfo{
		Filename:  fh.Filename,
		FileSize:  len(data),
		FileType:  strings.TrimPrefix(up.Ext(), "."),
		Timestamp: dto.FormatTime(h.now()),
	}
	return up, info, true
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	s := c.Query(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, s)
	}
	return v, nil
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		missing *grading.MissingContextError
		invalid *grading.ValidationError
	)

	switch {
	case errors.As(err, &missing):
		c.JSON(http.StatusBadRequest, gin.H{"error": missing.Error()})
	case errors.As(err, &invalid),
		errors.Is(err, scan.ErrUploadRejected),
		errors.Is(err, scan.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, scan.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scan.ErrModelUnavailable),
		errors.Is(err, scan.ErrAsyncUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("scanner request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
