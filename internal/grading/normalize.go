package grading

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/your-org/durianscan/internal/models"
)

// ImageSize is the source image size in pixels. A zero size means unknown.
type ImageSize struct {
	Width  int
	Height int
}

// ClassFilter restricts the class names a detector may emit. A nil filter
// accepts every class.
type ClassFilter map[string]struct{}

func NewClassFilter(names ...string) ClassFilter {
	f := make(ClassFilter, len(names))
	for _, n := range names {
		f[strings.ToLower(n)] = struct{}{}
	}
	return f
}

func (f ClassFilter) allows(name string) bool {
	if f == nil {
		return true
	}
	_, ok := f[strings.ToLower(name)]
	return ok
}

// DiseaseClasses is the class universe of the disease detector.
var DiseaseClasses = NewClassFilter(models.DiseaseMold, models.DiseaseRot)

// NormalizeDetection validates one raw record and converts it into a Detection.
func NormalizeDetection(raw models.RawDetection, size ImageSize) (models.Detection, error) {
	if raw.ClassID == nil {
		return models.Detection{}, &ValidationError{Field: "class_id", Reason: "missing"}
	}
	if raw.ClassName == nil || strings.TrimSpace(*raw.ClassName) == "" {
		return models.Detection{}, &ValidationError{Field: "class_name", Reason: "missing"}
	}

	conf, err := finite("confidence", raw.Confidence)
	if err != nil {
		return models.Detection{}, err
	}
	if conf < 0 || conf > 1 {
		return models.Detection{}, &ValidationError{
			Field:  "confidence",
			Reason: fmt.Sprintf("%v outside [0,1]", conf),
		}
	}

	if raw.BBox == nil {
		return models.Detection{}, &ValidationError{Field: "bbox", Reason: "missing"}
	}
	var box models.BBox
	coords := []struct {
		field string
		src   *float64
		dst   *float64
	}{
		{"bbox.x1", raw.BBox.X1, &box.X1},
		{"bbox.y1", raw.BBox.Y1, &box.Y1},
		{"bbox.x2", raw.BBox.X2, &box.X2},
		{"bbox.y2", raw.BBox.Y2, &box.Y2},
	}
	for _, c := range coords {
		v, err := finite(c.field, c.src)
		if err != nil {
			return models.Detection{}, err
		}
		*c.dst = v
	}

	norm, err := normalizedBox(raw.BBoxNormalized, box, size)
	if err != nil {
		return models.Detection{}, err
	}

	return models.Detection{
		ClassID:        *raw.ClassID,
		ClassName:      *raw.ClassName,
		Confidence:     conf,
		BBox:           box,
		BBoxNormalized: norm,
	}, nil
}

// NormalizeDetections converts a detector pass into a sorted DetectionSet.
// Invalid records are dropped; the returned errors describe each drop so the
// caller can log them.
func NormalizeDetections(raw []models.RawDetection, size ImageSize, classes ClassFilter) (models.DetectionSet, []error) {
	set := make(models.DetectionSet, 0, len(raw))
	var dropped []error

	for i, r := range raw {
		d, err := NormalizeDetection(r, size)
		if err == nil && !classes.allows(d.ClassName) {
			err = &ValidationError{Field: "class_name", Reason: fmt.Sprintf("unexpected class %q", d.ClassName)}
		}
		if err != nil {
			dropped = append(dropped, fmt.Errorf("detection %d: %w", i, err))
			continue
		}
		set = append(set, d)
	}

	return SortByConfidence(set), dropped
}

// SortByConfidence returns a copy of set ordered by descending confidence.
// Ties keep their input order.
func SortByConfidence(set models.DetectionSet) models.DetectionSet {
	sorted := make(models.DetectionSet, len(set))
	copy(sorted, set)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	return sorted
}

// NormalizeColor validates a raw color classifier record.
func NormalizeColor(raw models.RawColor) (*models.ColorResult, error) {
	if len(raw.Raw) != len(models.ColorClasses) {
		return nil, &ValidationError{
			Field:  "raw",
			Reason: fmt.Sprintf("expected %d probabilities, got %d", len(models.ColorClasses), len(raw.Raw)),
		}
	}

	var probs [3]float64
	best := 0
	for i, p := range raw.Raw {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, &ValidationError{Field: fmt.Sprintf("raw[%d]", i), Reason: "not finite"}
		}
		if p < 0 || p > 1 {
			return nil, &ValidationError{Field: fmt.Sprintf("raw[%d]", i), Reason: fmt.Sprintf("%v outside [0,1]", p)}
		}
		probs[i] = p
		if p > probs[best] {
			best = i
		}
	}

	index := best
	switch {
	case raw.ColorClass != nil:
		idx := colorIndex(*raw.ColorClass)
		if idx < 0 {
			return nil, &ValidationError{Field: "color_class", Reason: fmt.Sprintf("unknown class %q", *raw.ColorClass)}
		}
		index = idx
	case raw.ClassIndex != nil:
		if *raw.ClassIndex < 0 || *raw.ClassIndex >= len(models.ColorClasses) {
			return nil, &ValidationError{Field: "class_index", Reason: fmt.Sprintf("%d out of range", *raw.ClassIndex)}
		}
		index = *raw.ClassIndex
	}

	conf := probs[index]
	if raw.Confidence != nil {
		c, err := finite("confidence", raw.Confidence)
		if err != nil {
			return nil, err
		}
		if c < 0 || c > 1 {
			return nil, &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v outside [0,1]", c)}
		}
		conf = c
	}

	return &models.ColorResult{
		ColorClass: models.ColorClasses[index],
		Confidence: conf,
		ClassIndex: index,
		Raw:        probs,
	}, nil
}

func colorIndex(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, c := range models.ColorClasses {
		if string(c) == name {
			return i
		}
	}
	return -1
}

func normalizedBox(raw *models.RawNormalizedBox, box models.BBox, size ImageSize) (models.NormalizedBBox, error) {
	if raw != nil {
		var n models.NormalizedBBox
		fields := []struct {
			field string
			src   *float64
			dst   *float64
		}{
			{"bbox_normalized.x", raw.X, &n.X},
			{"bbox_normalized.y", raw.Y, &n.Y},
			{"bbox_normalized.width", raw.Width, &n.Width},
			{"bbox_normalized.height", raw.Height, &n.Height},
		}
		for _, f := range fields {
			v, err := finite(f.field, f.src)
			if err != nil {
				return models.NormalizedBBox{}, err
			}
			*f.dst = clamp(v, 0, 1)
		}
		return n, nil
	}

	if size.Width <= 0 || size.Height <= 0 {
		return models.NormalizedBBox{}, &ValidationError{
			Field:  "bbox_normalized",
			Reason: "missing and image size unknown",
		}
	}

	w := float64(size.Width)
	h := float64(size.Height)
	return models.NormalizedBBox{
		X:      clamp(box.X1/w, 0, 1),
		Y:      clamp(box.Y1/h, 0, 1),
		Width:  clamp((box.X2-box.X1)/w, 0, 1),
		Height: clamp((box.Y2-box.Y1)/h, 0, 1),
	}, nil
}

func finite(field string, v *float64) (float64, error) {
	if v == nil {
		return 0, &ValidationError{Field: field, Reason: "missing"}
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, &ValidationError{Field: field, Reason: "not finite"}
	}
	return *v, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round rounds v to the given number of decimal places using its exact
// binary value, with exact halves going to the even digit (81.25 -> 81.2).
func round(v float64, places int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	if err != nil {
		return v
	}
	return r
}
