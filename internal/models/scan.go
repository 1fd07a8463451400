package models

import (
	"time"

	"github.com/google/uuid"
)

type ScanStatus string

const (
	StatusExportReady ScanStatus = "Export Ready"
	StatusLocalSale   ScanStatus = "Local Sale"
	StatusRejected    ScanStatus = "Rejected"
)

// UnknownVariety is recorded when a scan found no durian.
const UnknownVariety = "Unknown"

// ImageRefs locates the stored image and thumbnail for a scan.
type ImageRefs struct {
	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	ImageKey     string `json:"image_key"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
}

// ScanResult is the joined output of all detectors for one image.
type ScanResult struct {
	Detection DetectionSet    `json:"detection"`
	Analysis  AnalysisSummary `json:"analysis"`
	Color     *ColorResult    `json:"color,omitempty"`
	Disease   *DiseaseVerdict `json:"disease,omitempty"`
	Dropped   int             `json:"dropped,omitempty"`
}

// ScanRecord is the persisted unit of one user scan. It is written once and
// only ever deleted afterwards.
type ScanRecord struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	ImageURL     string          `json:"image_url" db:"image_url"`
	ThumbnailURL string          `json:"thumbnail_url" db:"thumbnail_url"`
	ImageKey     string          `json:"-" db:"image_key"`
	ThumbnailKey string          `json:"-" db:"thumbnail_key"`
	Variety      string          `json:"variety" db:"variety"`
	QualityScore float64         `json:"quality_score" db:"quality_score"`
	Confidence   float64         `json:"confidence" db:"confidence"`
	Status       ScanStatus      `json:"status" db:"status"`
	DurianCount  int             `json:"durian_count" db:"durian_count"`
	Detection    DetectionSet    `json:"detection" db:"detection"`
	Analysis     AnalysisSummary `json:"analysis" db:"analysis"`
	Color        *ColorResult    `json:"color,omitempty" db:"color"`
	Disease      *DiseaseVerdict `json:"disease,omitempty" db:"disease"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// ObjectKeys returns the image store keys owned by the record.
func (r *ScanRecord) ObjectKeys() []string {
	keys := make([]string, 0, 2)
	if r.ImageKey != "" {
		keys = append(keys, r.ImageKey)
	}
	if r.ThumbnailKey != "" {
		keys = append(keys, r.ThumbnailKey)
	}
	return keys
}

// ScanTask is the message published to NATS for asynchronous scans.
type ScanTask struct {
	ScanID      uuid.UUID `json:"scan_id"`
	UserID      string    `json:"user_id"`
	ImageKey    string    `json:"image_key"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ScanEvent is published once a scan record is stored.
type ScanEvent struct {
	ScanID       uuid.UUID  `json:"scan_id"`
	UserID       string     `json:"user_id"`
	Variety      string     `json:"variety"`
	QualityScore float64    `json:"quality_score"`
	Status       ScanStatus `json:"status"`
	DurianCount  int        `json:"durian_count"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
