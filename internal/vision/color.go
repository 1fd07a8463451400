package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/durianscan/internal/models"
)

// ColorClassifier predicts the rind color with an EfficientNet-B0 export.
type ColorClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
}

// NewColorClassifier loads the color ONNX model.
func NewColorClassifier(modelPath string, opts *ort.SessionOptions) (*ColorClassifier, error) {
	inputW, inputH := 224, 224

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output: [1, 3] logits in green, brown, yellow order.
	outputShape := ort.NewShape(1, int64(len(models.ColorClasses)))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create color session: %w", err)
	}

	return &ColorClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Classify runs the color model over the whole image.
func (c *ColorClassifier) Classify(ctx context.Context, img image.Image) (*models.RawColor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := imageToFloat32CHW(img, c.inputW, c.inputH, imagenetMean, imagenetStd)

	c.mu.Lock()
	copy(c.inputTensor.GetData(), input)
	if err := c.session.Run(); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("run color: %w", err)
	}
	logits := append([]float32(nil), c.outputTensor.GetData()...)
	c.mu.Unlock()

	if len(logits) < len(models.ColorClasses) {
		return nil, fmt.Errorf("unexpected output size: %d", len(logits))
	}
	return colorFromLogits(logits[:len(models.ColorClasses)]), nil
}

func (c *ColorClassifier) Close() {
	if c.session != nil {
		c.session.Destroy()
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
}

func colorFromLogits(logits []float32) *models.RawColor {
	probs := softmax(logits)
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	raw := models.NewRawColor(string(models.ColorClasses[best]), best, probs[best], probs)
	return &raw
}

func softmax(logits []float32) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, float64(l))
	}

	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(float64(l) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
