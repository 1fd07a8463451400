package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/durianscan/internal/models"
)

const (
	yoloInputSize = 640
	// 80*80 + 40*40 + 20*20 grid cells at strides 8, 16, 32.
	yoloAnchors = 8400
)

// candidate is one decoded YOLO box in source-image pixels.
type candidate struct {
	box   [4]float32 // x1, y1, x2, y2
	conf  float32
	class int
}

// YOLODetector runs a YOLOv8 detection model with ONNX Runtime. The same type
// serves the durian detector and the disease detector; only the weights and
// class names differ.
type YOLODetector struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	classes      []string
	threshold    float32
	iouThreshold float32
	inputW       int
	inputH       int
}

// NewYOLODetector loads a YOLOv8 ONNX export. classes are the model's class
// names in index order. opts may be nil (ORT defaults).
func NewYOLODetector(modelPath string, classes []string, threshold, iouThreshold float32, opts *ort.SessionOptions) (*YOLODetector, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("detector %s: no class names", modelPath)
	}
	inputW, inputH := yoloInputSize, yoloInputSize

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output: [1, 4+classes, 8400], rows are cx, cy, w, h then class scores.
	outputShape := ort.NewShape(1, int64(4+len(classes)), yoloAnchors)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &YOLODetector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		classes:      classes,
		threshold:    threshold,
		iouThreshold: iouThreshold,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Detect runs one detector pass over img and returns raw records in source
// pixel space, with the model's normalized center box alongside.
func (d *YOLODetector) Detect(ctx context.Context, img image.Image) ([]models.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, fmt.Errorf("detect: empty image")
	}

	input := imageToFloat32CHW(img, d.inputW, d.inputH, unitMean, unitStd)

	d.mu.Lock()
	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("run detection: %w", err)
	}
	cands := decodeYOLO(d.outputTensor.GetData(), len(d.classes), yoloAnchors, d.threshold,
		float32(origW)/float32(d.inputW), float32(origH)/float32(d.inputH), origW, origH)
	d.mu.Unlock()

	cands = nms(cands, d.iouThreshold)

	raw := make([]models.RawDetection, 0, len(cands))
	for _, c := range cands {
		raw = append(raw, toRawDetection(c, d.className(c.class), origW, origH))
	}
	return raw, nil
}

func (d *YOLODetector) className(i int) string {
	if i >= 0 && i < len(d.classes) {
		return d.classes[i]
	}
	return fmt.Sprintf("class_%d", i)
}

func (d *YOLODetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

// decodeYOLO reads a [4+numClasses, anchors] YOLOv8 head. Each anchor takes
// its best class; anchors under threshold are skipped. Boxes are scaled back
// to the source image and clamped to it.
func decodeYOLO(out []float32, numClasses, anchors int, threshold, scaleW, scaleH float32, origW, origH int) []candidate {
	if len(out) < (4+numClasses)*anchors {
		return nil
	}

	var cands []candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for k := 0; k < numClasses; k++ {
			if s := out[(4+k)*anchors+i]; s > bestScore {
				best, bestScore = k, s
			}
		}
		if best < 0 || bestScore < threshold {
			continue
		}

		cx := out[0*anchors+i]
		cy := out[1*anchors+i]
		w := out[2*anchors+i]
		h := out[3*anchors+i]

		x1 := clampF((cx-w/2)*scaleW, 0, float32(origW))
		y1 := clampF((cy-h/2)*scaleH, 0, float32(origH))
		x2 := clampF((cx+w/2)*scaleW, 0, float32(origW))
		y2 := clampF((cy+h/2)*scaleH, 0, float32(origH))

		cands = append(cands, candidate{
			box:   [4]float32{x1, y1, x2, y2},
			conf:  bestScore,
			class: best,
		})
	}
	return cands
}

func toRawDetection(c candidate, className string, origW, origH int) models.RawDetection {
	box := models.BBox{
		X1: float64(c.box[0]),
		Y1: float64(c.box[1]),
		X2: float64(c.box[2]),
		Y2: float64(c.box[3]),
	}
	w, h := float64(origW), float64(origH)
	norm := models.NormalizedBBox{
		X:      (box.X1 + box.X2) / 2 / w,
		Y:      (box.Y1 + box.Y2) / 2 / h,
		Width:  (box.X2 - box.X1) / w,
		Height: (box.Y2 - box.Y1) / h,
	}
	return models.NewRawDetection(c.class, className, float64(c.conf), box, &norm)
}

// nms performs per-class Non-Maximum Suppression. The result is ordered by
// descending confidence.
func nms(cands []candidate, iouThreshold float32) []candidate {
	if len(cands) == 0 {
		return cands
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].conf > cands[j].conf
	})

	keep := make([]bool, len(cands))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(cands); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if !keep[j] || cands[j].class != cands[i].class {
				continue
			}
			if iou(cands[i].box, cands[j].box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []candidate
	for i, c := range cands {
		if keep[i] {
			result = append(result, c)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
