package grading

import (
	"fmt"
	"strings"

	"github.com/your-org/durianscan/internal/models"
)

const (
	exportReadyThreshold = 70
	localSaleThreshold   = 50
)

// NoDetectionAdvisory accompanies the recommendation when nothing was found.
const NoDetectionAdvisory = "Try taking a clearer photo with better lighting."

// Classify maps a quality score to its status tier. Lower bounds are inclusive.
func Classify(score float64) models.ScanStatus {
	switch {
	case score >= exportReadyThreshold:
		return models.StatusExportReady
	case score >= localSaleThreshold:
		return models.StatusLocalSale
	default:
		return models.StatusRejected
	}
}

// Recommend returns advice for the user based on the primary detection.
func Recommend(primary *models.Detection) string {
	if primary == nil {
		return "No durians detected in image."
	}

	class := strings.ToLower(primary.ClassName)
	switch {
	case primary.Confidence > 0.8:
		return fmt.Sprintf("High confidence detection of %s. Ready for analysis.", class)
	case primary.Confidence > 0.5:
		return fmt.Sprintf("Detected %s. Consider retaking for better accuracy.", class)
	default:
		return "Low confidence. Try better lighting or closer shot."
	}
}

// DiagnoseDisease decides the disease label for a disease detector pass. An
// empty set means the fruit is healthy.
func DiagnoseDisease(set models.DetectionSet) models.DiseaseVerdict {
	sorted := SortByConfidence(set)
	verdict := models.DiseaseVerdict{
		Disease:         models.DiseaseHealthy,
		Confidence:      0,
		TotalDetections: len(sorted),
		Detections:      sorted,
	}
	if primary := sorted.Primary(); primary != nil {
		verdict.Disease = strings.ToLower(primary.ClassName)
		verdict.Confidence = round(primary.Confidence, 4)
	}
	return verdict
}
