package grading

import "github.com/your-org/durianscan/internal/models"

const (
	maxScore   = 100
	sizeWeight = 0.5
	sizeBonus  = 20
)

// Score rates a primary detection from 0 to 100. Confidence dominates; a
// larger box (the fruit filling more of the frame) adds a small bonus.
func Score(primary models.Detection) float64 {
	base := primary.Confidence * 100
	sizeFactor := primary.BBoxNormalized.Area() * sizeWeight
	score := round(base+sizeFactor*sizeBonus, 1)
	return clamp(score, 0, maxScore)
}

// Analyze runs the full grading chain over one detection set. It is
// deterministic: identical input always yields an identical summary.
func Analyze(set models.DetectionSet) models.AnalysisSummary {
	summary := Aggregate(set)
	if !summary.Found {
		summary.Recommendation = Recommend(nil)
		summary.Advisory = NoDetectionAdvisory
		return summary
	}

	primary := SortByConfidence(set)[0]
	summary.QualityScore = Score(primary)
	summary.Recommendation = Recommend(&primary)
	return summary
}
