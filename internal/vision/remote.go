package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/your-org/durianscan/internal/models"
)

const (
	pathObjects = "/detect/objects"
	pathDisease = "/detect/disease"
	pathColor   = "/classify/color"
	pathHealth  = "/health"
)

// RemoteClient calls an external inference service over HTTP. The service
// takes a multipart "file" upload and answers with raw detector records.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Objects returns the durian detector backed by the service.
func (c *RemoteClient) Objects() Detector { return &remoteDetector{client: c, path: pathObjects} }

// Disease returns the disease detector backed by the service.
func (c *RemoteClient) Disease() Detector { return &remoteDetector{client: c, path: pathDisease} }

// Color returns the color classifier backed by the service.
func (c *RemoteClient) Color() Classifier { return &remoteClassifier{client: c} }

// CheckHealth reports whether the inference service is reachable.
func (c *RemoteClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathHealth, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func (c *RemoteClient) post(ctx context.Context, path string, img image.Image, out any) error {
	data, err := EncodeJPEG(img, 95)
	if err != nil {
		return err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inference %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type remoteDetector struct {
	client *RemoteClient
	path   string
}

func (d *remoteDetector) Detect(ctx context.Context, img image.Image) ([]models.RawDetection, error) {
	var result struct {
		Detections []models.RawDetection `json:"detections"`
	}
	if err := d.client.post(ctx, d.path, img, &result); err != nil {
		return nil, err
	}
	return result.Detections, nil
}

type remoteClassifier struct {
	client *RemoteClient
}

func (r *remoteClassifier) Classify(ctx context.Context, img image.Image) (*models.RawColor, error) {
	var result models.RawColor
	if err := r.client.post(ctx, pathColor, img, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
