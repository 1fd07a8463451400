package grading

import (
	"strings"
	"time"

	"github.com/your-org/durianscan/internal/models"
)

// Builder assembles scan records. The clock is the only outside input.
type Builder struct {
	now func() time.Time
}

func NewBuilder(now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now}
}

// RequireUser fails with a MissingContextError when userID is blank.
func RequireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &MissingContextError{Field: "user_id"}
	}
	return nil
}

// Build creates the record for one scan. The record carries no ID yet; the
// store assigns it on insert.
func (b *Builder) Build(userID string, images models.ImageRefs, result models.ScanResult) (*models.ScanRecord, error) {
	if err := RequireUser(userID); err != nil {
		return nil, err
	}

	variety := models.UnknownVariety
	if result.Analysis.PrimaryClass != nil {
		variety = *result.Analysis.PrimaryClass
	}

	detection := result.Detection
	if detection == nil {
		detection = models.DetectionSet{}
	}

	return &models.ScanRecord{
		UserID:       userID,
		ImageURL:     images.ImageURL,
		ThumbnailURL: images.ThumbnailURL,
		ImageKey:     images.ImageKey,
		ThumbnailKey: images.ThumbnailKey,
		Variety:      variety,
		QualityScore: result.Analysis.QualityScore,
		Confidence:   result.Analysis.PrimaryConfidence,
		Status:       Classify(result.Analysis.QualityScore),
		DurianCount:  result.Analysis.TotalCount,
		Detection:    detection,
		Analysis:     result.Analysis,
		Color:        result.Color,
		Disease:      result.Disease,
		CreatedAt:    b.now().UTC(),
	}, nil
}
