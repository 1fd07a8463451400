package models

// RawBox is a pixel box as emitted by a detector. Nil fields mean the model
// omitted them.
type RawBox struct {
	X1 *float64 `json:"x1"`
	Y1 *float64 `json:"y1"`
	X2 *float64 `json:"x2"`
	Y2 *float64 `json:"y2"`
}

type RawNormalizedBox struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

// RawDetection is an unvalidated detector record. It is only trusted after
// it passes through the grading normalizer.
type RawDetection struct {
	ClassID        *int              `json:"class_id"`
	ClassName      *string           `json:"class_name"`
	Confidence     *float64          `json:"confidence"`
	BBox           *RawBox           `json:"bbox"`
	BBoxNormalized *RawNormalizedBox `json:"bbox_normalized,omitempty"`
}

// RawColor is an unvalidated color classifier record.
type RawColor struct {
	ColorClass *string   `json:"color_class"`
	Confidence *float64  `json:"confidence"`
	ClassIndex *int      `json:"class_index"`
	Raw        []float64 `json:"raw"`
}

// NewRawDetection builds a fully populated raw record. norm may be nil when
// the model has no normalized output.
func NewRawDetection(classID int, className string, confidence float64, box BBox, norm *NormalizedBBox) RawDetection {
	raw := RawDetection{
		ClassID:    &classID,
		ClassName:  &className,
		Confidence: &confidence,
		BBox: &RawBox{
			X1: &box.X1,
			Y1: &box.Y1,
			X2: &box.X2,
			Y2: &box.Y2,
		},
	}
	if norm != nil {
		n := *norm
		raw.BBoxNormalized = &RawNormalizedBox{
			X:      &n.X,
			Y:      &n.Y,
			Width:  &n.Width,
			Height: &n.Height,
		}
	}
	return raw
}

// NewRawColor builds a raw color record from a probability vector.
func NewRawColor(className string, classIndex int, confidence float64, probs []float64) RawColor {
	return RawColor{
		ColorClass: &className,
		Confidence: &confidence,
		ClassIndex: &classIndex,
		Raw:        probs,
	}
}
