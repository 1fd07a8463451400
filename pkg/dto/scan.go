package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/durianscan/internal/analytics"
	"github.com/your-org/durianscan/internal/models"
)

// RequestInfo echoes what the server received for an upload.
type RequestInfo struct {
	Filename  string `json:"filename"`
	FileSize  int    `json:"file_size"`
	FileType  string `json:"file_type"`
	Timestamp string `json:"timestamp"`
}

type ImageLinks struct {
	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// DetectResponse is returned by POST /v1/scanner/detect.
type DetectResponse struct {
	Success           bool                   `json:"success"`
	Detection         models.DetectionSet    `json:"detection"`
	Analysis          models.AnalysisSummary `json:"analysis"`
	Color             *models.ColorResult    `json:"color"`
	Disease           *models.DiseaseVerdict `json:"disease,omitempty"`
	DroppedDetections int                    `json:"dropped_detections"`
	ScanSaved         bool                   `json:"scan_saved"`
	ScanID            *uuid.UUID             `json:"scan_id,omitempty"`
	Status            models.ScanStatus      `json:"status,omitempty"`
	Images            *ImageLinks            `json:"images,omitempty"`
	RequestInfo       RequestInfo            `json:"request_info"`
}

// AsyncScanResponse is returned by POST /v1/scanner/scans/async.
type AsyncScanResponse struct {
	ScanID      uuid.UUID `json:"scan_id"`
	Status      string    `json:"status"`
	ImageURL    string    `json:"image_url"`
	SubmittedAt string    `json:"submitted_at"`
}

type DiseaseResponse struct {
	Success bool `json:"success"`
	models.DiseaseVerdict
	RequestInfo RequestInfo `json:"request_info"`
}

type HistoryResponse struct {
	Success bool                `json:"success"`
	Scans   []models.ScanRecord `json:"scans"`
	Count   int                 `json:"count"`
	Limit   int                 `json:"limit"`
	Skip    int                 `json:"skip"`
}

type ScanResponse struct {
	Success bool               `json:"success"`
	Scan    *models.ScanRecord `json:"scan"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type AnalyticsResponse struct {
	Success bool `json:"success"`
	analytics.Report
}

type StatsResponse struct {
	Success bool            `json:"success"`
	Stats   analytics.Stats `json:"stats"`
}

type CreateUserRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name"`
}

type UserResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WSEvent is a WebSocket message pushed to the owner of a scan.
type WSEvent struct {
	Type   string           `json:"type"` // scan_completed
	UserID string           `json:"user_id"`
	Data   models.ScanEvent `json:"data"`
}

const WSScanCompleted = "scan_completed"

// FormatTime renders timestamps the way every response does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
