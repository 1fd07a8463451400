package scan

import (
	"context"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/durianscan/internal/grading"
	"github.com/your-org/durianscan/internal/models"
	"github.com/your-org/durianscan/internal/observability"
	"github.com/your-org/durianscan/internal/vision"
)

const (
	stageObjects = "objects"
	stageDisease = "disease"
	stageColor   = "color"
)

// Analyze runs the three detectors on img concurrently and joins their
// output into one graded result. A failed or missing detector counts as
// having produced nothing; Analyze itself never fails.
func (s *Service) Analyze(ctx context.Context, img image.Image) models.ScanResult {
	var (
		rawObjects []models.RawDetection
		rawDisease []models.RawDetection
		rawColor   *models.RawColor
		diseaseOK  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rawObjects, _ = runDetector(gctx, stageObjects, s.objects, img)
		return nil
	})
	g.Go(func() error {
		rawDisease, diseaseOK = runDetector(gctx, stageDisease, s.disease, img)
		return nil
	})
	g.Go(func() error {
		rawColor = runClassifier(gctx, s.color, img)
		return nil
	})
	_ = g.Wait()

	b := img.Bounds()
	size := grading.ImageSize{Width: b.Dx(), Height: b.Dy()}

	var result models.ScanResult

	objects, dropped := grading.NormalizeDetections(rawObjects, size, nil)
	result.Detection = objects
	result.Dropped += countDropped(stageObjects, len(objects), dropped)
	result.Analysis = grading.Analyze(objects)

	if diseaseOK {
		found, dropped := grading.NormalizeDetections(rawDisease, size, s.diseaseClasses)
		result.Dropped += countDropped(stageDisease, len(found), dropped)
		verdict := grading.DiagnoseDisease(found)
		result.Disease = &verdict
	}

	if rawColor != nil {
		color, err := grading.NormalizeColor(*rawColor)
		if err != nil {
			slog.Warn("drop color result", "error", err)
			observability.DetectionsDropped.WithLabelValues(stageColor).Inc()
			result.Dropped++
		} else {
			result.Color = color
		}
	}

	return result
}

// runDetector reports ok=false when the detector is missing or failed.
func runDetector(ctx context.Context, stage string, d vision.Detector, img image.Image) ([]models.RawDetection, bool) {
	if d == nil {
		return nil, false
	}
	start := time.Now()
	raw, err := d.Detect(ctx, img)
	observability.InferenceDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("detector failed, treating as empty", "detector", stage, "error", err)
		observability.DetectorFailures.WithLabelValues(stage).Inc()
		return nil, false
	}
	return raw, true
}

func runClassifier(ctx context.Context, c vision.Classifier, img image.Image) *models.RawColor {
	if c == nil {
		return nil
	}
	start := time.Now()
	raw, err := c.Classify(ctx, img)
	observability.InferenceDuration.WithLabelValues(stageColor).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("detector failed, treating as empty", "detector", stageColor, "error", err)
		observability.DetectorFailures.WithLabelValues(stageColor).Inc()
		return nil
	}
	return raw
}

func countDropped(stage string, kept int, dropped []error) int {
	observability.DetectionsTotal.WithLabelValues(stage).Add(float64(kept))
	for _, err := range dropped {
		slog.Warn("drop detection", "detector", stage, "error", err)
	}
	if len(dropped) > 0 {
		observability.DetectionsDropped.WithLabelValues(stage).Add(float64(len(dropped)))
	}
	return len(dropped)
}
