package grading

import "github.com/your-org/durianscan/internal/models"

// Aggregate summarizes a detection set: counts, per-class breakdown, mean
// confidence and the primary detection. Score and recommendation are left
// for Analyze to fill in.
func Aggregate(set models.DetectionSet) models.AnalysisSummary {
	if len(set) == 0 {
		return models.AnalysisSummary{ClassBreakdown: models.ClassBreakdown{}}
	}

	sorted := SortByConfidence(set)

	breakdown := models.ClassBreakdown{}
	index := make(map[string]int, len(sorted))
	var sum float64
	for _, d := range sorted {
		sum += d.Confidence
		if i, ok := index[d.ClassName]; ok {
			breakdown[i].Count++
			continue
		}
		index[d.ClassName] = len(breakdown)
		breakdown = append(breakdown, models.ClassCount{Class: d.ClassName, Count: 1})
	}

	primary := sorted[0]
	primaryClass := primary.ClassName

	return models.AnalysisSummary{
		Found:             true,
		TotalCount:        len(sorted),
		ClassBreakdown:    breakdown,
		AverageConfidence: round(sum/float64(len(sorted)), 3),
		PrimaryClass:      &primaryClass,
		PrimaryConfidence: primary.Confidence,
	}
}
