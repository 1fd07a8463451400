package models

// BBox is a bounding box in source-image pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// NormalizedBBox is a bounding box relative to the image size, every field in [0,1].
type NormalizedBBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the fraction of the frame covered by the box.
func (b NormalizedBBox) Area() float64 {
	return b.Width * b.Height
}

// Detection is one validated prediction from a detector pass.
type Detection struct {
	ClassID        int            `json:"class_id"`
	ClassName      string         `json:"class_name"`
	Confidence     float64        `json:"confidence"`
	BBox           BBox           `json:"bbox"`
	BBoxNormalized NormalizedBBox `json:"bbox_normalized"`
}

// DetectionSet holds every detection from one detector pass over one image,
// ordered by descending confidence.
type DetectionSet []Detection

// Primary returns the highest-confidence detection, or nil for an empty set.
func (s DetectionSet) Primary() *Detection {
	if len(s) == 0 {
		return nil
	}
	d := s[0]
	return &d
}

type ColorClass string

const (
	ColorGreen  ColorClass = "green"
	ColorBrown  ColorClass = "brown"
	ColorYellow ColorClass = "yellow"
)

// ColorClasses lists the classifier outputs in model index order.
var ColorClasses = [3]ColorClass{ColorGreen, ColorBrown, ColorYellow}

// ColorResult is the rind color classification. It rides alongside the
// detections and is never counted as one.
type ColorResult struct {
	ColorClass ColorClass `json:"color_class"`
	Confidence float64    `json:"confidence"`
	ClassIndex int        `json:"class_index"`
	Raw        [3]float64 `json:"raw"`
}

const (
	DiseaseMold    = "mold"
	DiseaseRot     = "rot"
	DiseaseHealthy = "healthy"
)

// DiseaseVerdict is the disease decision for one image.
type DiseaseVerdict struct {
	Disease         string       `json:"disease"`
	Confidence      float64      `json:"confidence"`
	TotalDetections int          `json:"total_detections"`
	Detections      DetectionSet `json:"detections"`
}
