package grading

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/durianscan/internal/models"
)

func det(class string, conf, w, h float64) models.Detection {
	return models.Detection{
		ClassName:      class,
		Confidence:     conf,
		BBoxNormalized: models.NormalizedBBox{Width: w, Height: h},
	}
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil)

	assert.False(t, s.Found)
	assert.Equal(t, 0, s.TotalCount)
	assert.Empty(t, s.ClassBreakdown)
	assert.Zero(t, s.AverageConfidence)
	assert.Nil(t, s.PrimaryClass)
	assert.Zero(t, s.PrimaryConfidence)
}

func TestAggregate_AverageAndPrimary(t *testing.T) {
	set := models.DetectionSet{
		det("durian", 0.7, 0.1, 0.1),
		det("durian", 0.9, 0.1, 0.1),
		det("leaf", 0.8, 0.1, 0.1),
	}

	s := Aggregate(set)

	require.True(t, s.Found)
	assert.Equal(t, 3, s.TotalCount)
	assert.InDelta(t, 0.8, s.AverageConfidence, 1e-6)
	require.NotNil(t, s.PrimaryClass)
	assert.Equal(t, "durian", *s.PrimaryClass)
	assert.Equal(t, 0.9, s.PrimaryConfidence)
	assert.Equal(t, 2, s.ClassBreakdown.Get("durian"))
	assert.Equal(t, 1, s.ClassBreakdown.Get("leaf"))
}

func TestAggregate_AverageRoundsHalfToEven(t *testing.T) {
	tests := []struct {
		name string
		set  models.DetectionSet
		want float64
	}{
		{"exact half down", models.DetectionSet{det("durian", 0.375, 0, 0), det("durian", 0.25, 0, 0)}, 0.312},
		{"exact half up", models.DetectionSet{det("durian", 0.875, 0, 0), det("durian", 0.25, 0, 0)}, 0.562},
		{"single value kept", models.DetectionSet{det("durian", 0.4375, 0, 0)}, 0.438},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.set).AverageConfidence)
		})
	}
}

func TestAggregate_PrimaryIsMaxConfidence(t *testing.T) {
	sets := []models.DetectionSet{
		{det("a", 0.1, 0, 0)},
		{det("a", 0.3, 0, 0), det("b", 0.31, 0, 0), det("c", 0.2, 0, 0)},
		{det("a", 0.5, 0, 0), det("b", 0.5, 0, 0)},
		{det("a", 0.05, 0, 0), det("b", 0.99, 0, 0), det("c", 0.98, 0, 0), det("d", 0.01, 0, 0)},
	}

	for _, set := range sets {
		s := Aggregate(set)
		maxConf := 0.0
		var sum float64
		for _, d := range set {
			sum += d.Confidence
			if d.Confidence > maxConf {
				maxConf = d.Confidence
			}
		}
		assert.Equal(t, maxConf, s.PrimaryConfidence)
		assert.InDelta(t, sum/float64(len(set)), s.AverageConfidence, 1e-3)
		assert.NotZero(t, s.AverageConfidence)
	}
}

func TestAggregate_TieKeepsInputOrder(t *testing.T) {
	s := Aggregate(models.DetectionSet{det("first", 0.6, 0, 0), det("second", 0.6, 0, 0)})

	require.NotNil(t, s.PrimaryClass)
	assert.Equal(t, "first", *s.PrimaryClass)
}

func TestAggregate_BreakdownFirstSeenOrder(t *testing.T) {
	s := Aggregate(models.DetectionSet{
		det("musang", 0.5, 0, 0),
		det("durian", 0.9, 0, 0),
		det("musang", 0.7, 0, 0),
	})

	data, err := json.Marshal(s.ClassBreakdown)
	require.NoError(t, err)
	assert.JSONEq(t, `{"durian":1,"musang":2}`, string(data))
	assert.Equal(t, `{"durian":1,"musang":2}`, string(data))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		d    models.Detection
		want float64
	}{
		{"full frame clamps to 100", det("durian", 1.0, 1.0, 1.0), 100},
		{"no area", det("durian", 0.5, 0, 0), 50.0},
		{"typical", det("durian", 0.92, 0.6, 0.5), 95.0},
		{"zero", det("durian", 0, 0, 0), 0},
		{"rounds to one decimal", det("durian", 0.123456, 0, 0), 12.3},
		{"exact half rounds to even", det("durian", 0.8125, 0, 0), 81.2},
		{"exact half rounds up to even", det("durian", 0.8175, 0, 0), 81.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.d))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  models.ScanStatus
	}{
		{100, models.StatusExportReady},
		{70.0, models.StatusExportReady},
		{69.9, models.StatusLocalSale},
		{50.0, models.StatusLocalSale},
		{49.9, models.StatusRejected},
		{0, models.StatusRejected},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
	}
}

func TestRecommend(t *testing.T) {
	high := det("Durian", 0.81, 0, 0)
	mid := det("durian", 0.8, 0, 0)
	low := det("durian", 0.5, 0, 0)

	assert.Equal(t, "High confidence detection of durian. Ready for analysis.", Recommend(&high))
	assert.Equal(t, "Detected durian. Consider retaking for better accuracy.", Recommend(&mid))
	assert.Equal(t, "Low confidence. Try better lighting or closer shot.", Recommend(&low))
	assert.Equal(t, "No durians detected in image.", Recommend(nil))
}

func TestDiagnoseDisease(t *testing.T) {
	t.Run("empty is healthy", func(t *testing.T) {
		v := DiagnoseDisease(nil)
		assert.Equal(t, models.DiseaseHealthy, v.Disease)
		assert.Equal(t, 0.0, v.Confidence)
		assert.Equal(t, 0, v.TotalDetections)
	})

	t.Run("highest confidence wins", func(t *testing.T) {
		v := DiagnoseDisease(models.DetectionSet{
			det("mold", 0.41234567, 0, 0),
			det("rot", 0.87654321, 0, 0),
		})
		assert.Equal(t, models.DiseaseRot, v.Disease)
		assert.Equal(t, 0.8765, v.Confidence)
		assert.Equal(t, 2, v.TotalDetections)
		assert.Equal(t, "rot", v.Detections[0].ClassName)
	})
}

func TestAnalyze_EndToEnd(t *testing.T) {
	set := models.DetectionSet{{
		ClassName:      "durian",
		Confidence:     0.92,
		BBoxNormalized: models.NormalizedBBox{Width: 0.6, Height: 0.5},
	}}

	s := Analyze(set)

	assert.True(t, s.Found)
	assert.InDelta(t, 0.92, s.AverageConfidence, 1e-9)
	assert.Equal(t, 0.92, s.PrimaryConfidence)
	assert.Equal(t, 95.0, s.QualityScore)
	assert.Equal(t, models.StatusExportReady, Classify(s.QualityScore))
	assert.Equal(t, "High confidence detection of durian. Ready for analysis.", s.Recommendation)
	assert.Empty(t, s.Advisory)
}

func TestAnalyze_EmptyEndToEnd(t *testing.T) {
	s := Analyze(models.DetectionSet{})

	assert.False(t, s.Found)
	assert.Zero(t, s.QualityScore)
	assert.Equal(t, "No durians detected in image.", s.Recommendation)
	assert.Equal(t, NoDetectionAdvisory, s.Advisory)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"found": false,
		"total_count": 0,
		"class_breakdown": {},
		"average_confidence": 0,
		"primary_class": null,
		"primary_confidence": 0,
		"quality_score": 0,
		"recommendation": "No durians detected in image.",
		"advisory": "Try taking a clearer photo with better lighting."
	}`, string(data))
}

func TestAnalyze_Idempotent(t *testing.T) {
	set := models.DetectionSet{
		det("durian", 0.66, 0.3, 0.4),
		det("durian", 0.66, 0.5, 0.5),
		det("rambutan", 0.42, 0.1, 0.2),
	}

	first, err := json.Marshal(Analyze(set))
	require.NoError(t, err)
	second, err := json.Marshal(Analyze(set))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnalyze_DoesNotReorderInput(t *testing.T) {
	set := models.DetectionSet{det("a", 0.1, 0, 0), det("b", 0.9, 0, 0)}

	Analyze(set)

	assert.Equal(t, "a", set[0].ClassName)
}
