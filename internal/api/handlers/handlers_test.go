package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/durianscan/internal/analytics"
	"github.com/your-org/durianscan/internal/auth"
	"github.com/your-org/durianscan/internal/grading"
	"github.com/your-org/durianscan/internal/models"
	"github.com/your-org/durianscan/internal/scan"
	"github.com/your-org/durianscan/internal/storage"
)

// MockScanService lets each test replace only the calls it cares about.
type MockScanService struct {
	ScanFunc      func(ctx context.Context, userID string, up scan.Upload, save bool) (*scan.Outcome, error)
	EnqueueFunc   func(ctx context.Context, userID string, up scan.Upload) (*models.ScanTask, error)
	DiseaseFunc   func(ctx context.Context, up scan.Upload) (*models.DiseaseVerdict, error)
	HistoryFunc   func(ctx context.Context, userID string, limit, skip int) ([]models.ScanRecord, error)
	GetFunc       func(ctx context.Context, id uuid.UUID, userID string) (*models.ScanRecord, error)
	DeleteFunc    func(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	AnalyticsFunc func(ctx context.Context, userID string, r analytics.TimeRange) (*analytics.Report, error)
	ImageFunc     func(ctx context.Context, userID, key string) ([]byte, error)
}

var errUnexpected = errors.New("unexpected call")

func (m *MockScanService) Scan(ctx context.Context, userID string, up scan.Upload, save bool) (*scan.Outcome, error) {
	if m.ScanFunc == nil {
		return nil, errUnexpected
	}
	return m.ScanFunc(ctx, userID, up, save)
}

func (m *MockScanService) Enqueue(ctx context.Context, userID string, up scan.Upload) (*models.ScanTask, error) {
	if m.EnqueueFunc == nil {
		return nil, errUnexpected
	}
	return m.EnqueueFunc(ctx, userID, up)
}

func (m *MockScanService) ClassifyDisease(ctx context.Context, up scan.Upload) (*models.DiseaseVerdict, error) {
	if m.DiseaseFunc == nil {
		return nil, errUnexpected
	}
	return m.DiseaseFunc(ctx, up)
}

func (m *MockScanService) History(ctx context.Context, userID string, limit, skip int) ([]models.ScanRecord, error) {
	if m.HistoryFunc == nil {
		return nil, errUnexpected
	}
	return m.HistoryFunc(ctx, userID, limit, skip)
}

func (m *MockScanService) Get(ctx context.Context, id uuid.UUID, userID string) (*models.ScanRecord, error) {
	if m.GetFunc == nil {
		return nil, errUnexpected
	}
	return m.GetFunc(ctx, id, userID)
}

func (m *MockScanService) Delete(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	if m.DeleteFunc == nil {
		return false, errUnexpected
	}
	return m.DeleteFunc(ctx, id, userID)
}

func (m *MockScanService) Analytics(ctx context.Context, userID string, r analytics.TimeRange) (*analytics.Report, error) {
	if m.AnalyticsFunc == nil {
		return nil, errUnexpected
	}
	return m.AnalyticsFunc(ctx, userID, r)
}

func (m *MockScanService) Image(ctx context.Context, userID, key string) ([]byte, error) {
	if m.ImageFunc == nil {
		return nil, errUnexpected
	}
	return m.ImageFunc(ctx, userID, key)
}

func setupScanner(t *testing.T, svc ScanService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewScannerHandler(svc, 1<<20)
	h.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }

	r := gin.New()
	g := r.Group("/v1", auth.UserMiddleware())
	g.POST("/scanner/detect", h.Detect)
	g.POST("/scanner/scans/async", h.SubmitAsync)
	g.POST("/scanner/classify/disease", h.ClassifyDisease)
	g.GET("/scanner/history", h.History)
	g.GET("/scanner/scans/:id", h.Get)
	g.DELETE("/scanner/scans/:id", h.Delete)
	g.GET("/scanner/images/*key", h.Image)
	g.GET("/scanner/analytics", h.Analytics)
	g.GET("/scanner/analytics/stats", h.Stats)
	return r
}

func multipartRequest(t *testing.T, target string, fields map[string]string, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestDetect_SavesByDefault(t *testing.T) {
	scanID := uuid.New()
	var gotUser string
	var gotSave bool
	svc := &MockScanService{
		ScanFunc: func(_ context.Context, userID string, up scan.Upload, save bool) (*scan.Outcome, error) {
			gotUser, gotSave = userID, save
			assert.Equal(t, "fruit.jpg", up.Filename)
			result := models.ScanResult{
				Detection: models.DetectionSet{},
				Analysis:  grading.Analyze(nil),
			}
			return &scan.Outcome{
				Result: result,
				Record: &models.ScanRecord{
					ID:           scanID,
					Status:       models.StatusRejected,
					ImageURL:     "/v1/scanner/images/a.jpg",
					ThumbnailURL: "/v1/scanner/images/a_thumb.jpg",
				},
			}, nil
		},
	}
	r := setupScanner(t, svc)

	req := multipartRequest(t, "/v1/scanner/detect", map[string]string{"user_id": "u-1"}, "fruit.jpg", []byte("jpeg"))
	w := serve(r, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "u-1", gotUser)
	assert.True(t, gotSave)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["scan_saved"])
	assert.Equal(t, scanID.String(), body["scan_id"])
	assert.Equal(t, "Rejected", body["status"])
	assert.Equal(t, []any{}, body["detection"])

	analysis := body["analysis"].(map[string]any)
	assert.Equal(t, false, analysis["found"])
	assert.Nil(t, analysis["primary_class"])
	assert.Equal(t, map[string]any{}, analysis["class_breakdown"])

	info := body["request_info"].(map[string]any)
	assert.Equal(t, "jpg", info["file_type"])
	assert.Equal(t, float64(4), info["file_size"])
	assert.Equal(t, "2026-03-14T09:30:00Z", info["timestamp"])
}

func TestDetect_WithoutSaving(t *testing.T) {
	svc := &MockScanService{
		ScanFunc: func(_ context.Context, _ string, _ scan.Upload, save bool) (*scan.Outcome, error) {
			assert.False(t, save)
			return &scan.Outcome{Result: models.ScanResult{Analysis: grading.Analyze(nil)}}, nil
		},
	}
	r := setupScanner(t, svc)

	req := multipartRequest(t, "/v1/scanner/detect", map[string]string{"save_to_history": "False"}, "a.png", []byte("x"))
	w := serve(r, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["scan_saved"])
	assert.NotContains(t, body, "scan_id")
}

func TestDetect_SaveFlag(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"off", false},
		{"1", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			var got bool
			svc := &MockScanService{
				ScanFunc: func(_ context.Context, _ string, _ scan.Upload, save bool) (*scan.Outcome, error) {
					got = save
					return &scan.Outcome{Result: models.ScanResult{Analysis: grading.Analyze(nil)}}, nil
				},
			}
			r := setupScanner(t, svc)

			w := serve(r, multipartRequest(t, "/v1/scanner/detect", map[string]string{"save_to_history": tt.value}, "a.png", []byte("x")))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing user", &grading.MissingContextError{Field: "user_id"}, http.StatusBadRequest},
		{"rejected upload", fmt.Errorf("%w: bad type", scan.ErrUploadRejected), http.StatusBadRequest},
		{"undecodable", fmt.Errorf("%w: eof", scan.ErrInvalidImage), http.StatusBadRequest},
		{"unknown user", fmt.Errorf("save scan: %w", storage.ErrNotFound), http.StatusNotFound},
		{"store down", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockScanService{
				ScanFunc: func(context.Context, string, scan.Upload, bool) (*scan.Outcome, error) {
					return nil, tt.err
				},
			}
			r := setupScanner(t, svc)

			w := serve(r, multipartRequest(t, "/v1/scanner/detect", nil, "a.png", []byte("x")))
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, decode(t, w), "error")
		})
	}
}

func TestDetect_UploadChecks(t *testing.T) {
	r := setupScanner(t, &MockScanService{})

	w := serve(r, multipartRequest(t, "/v1/scanner/detect", nil, "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No image provided", decode(t, w)["error"])

	w = serve(r, multipartRequest(t, "/v1/scanner/detect", nil, "big.jpg", make([]byte, 2<<20)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "File too large")
}

func TestDetect_RealServiceRejectsBadType(t *testing.T) {
	r := setupScanner(t, scan.NewService(scan.Deps{MaxUploadBytes: 1 << 20}))

	w := serve(r, multipartRequest(t, "/v1/scanner/detect", map[string]string{"save_to_history": "false"}, "a.tiff", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "not allowed")
}

func TestSubmitAsync(t *testing.T) {
	id := uuid.New()
	svc := &MockScanService{
		EnqueueFunc: func(_ context.Context, userID string, _ scan.Upload) (*models.ScanTask, error) {
			return &models.ScanTask{
				ScanID:      id,
				UserID:      userID,
				ImageKey:    "scans/u-1/" + id.String() + ".png",
				SubmittedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
			}, nil
		},
	}
	r := setupScanner(t, svc)

	req := multipartRequest(t, "/v1/scanner/scans/async", nil, "a.png", []byte("x"))
	req.Header.Set("X-User-Id", "u-1")
	w := serve(r, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, id.String(), body["scan_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "/v1/scanner/images/scans/u-1/"+id.String()+".png", body["image_url"])
}

func TestSubmitAsync_Unavailable(t *testing.T) {
	svc := &MockScanService{
		EnqueueFunc: func(context.Context, string, scan.Upload) (*models.ScanTask, error) {
			return nil, scan.ErrAsyncUnavailable
		},
	}
	r := setupScanner(t, svc)

	w := serve(r, multipartRequest(t, "/v1/scanner/scans/async", nil, "a.png", []byte("x")))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestClassifyDisease(t *testing.T) {
	svc := &MockScanService{
		DiseaseFunc: func(context.Context, scan.Upload) (*models.DiseaseVerdict, error) {
			v := grading.DiagnoseDisease(nil)
			return &v, nil
		},
	}
	r := setupScanner(t, svc)

	w := serve(r, multipartRequest(t, "/v1/scanner/classify/disease", nil, "a.png", []byte("x")))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "healthy", body["disease"])
	assert.Equal(t, float64(0), body["confidence"])
	assert.Equal(t, float64(0), body["total_detections"])
}

func TestClassifyDisease_ModelUnavailable(t *testing.T) {
	svc := &MockScanService{
		DiseaseFunc: func(context.Context, scan.Upload) (*models.DiseaseVerdict, error) {
			return nil, fmt.Errorf("%w: disease detector not loaded", scan.ErrModelUnavailable)
		},
	}
	r := setupScanner(t, svc)

	w := serve(r, multipartRequest(t, "/v1/scanner/classify/disease", nil, "a.png", []byte("x")))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistory(t *testing.T) {
	svc := &MockScanService{
		HistoryFunc: func(_ context.Context, userID string, limit, skip int) ([]models.ScanRecord, error) {
			assert.Equal(t, "u-1", userID)
			assert.Equal(t, 5, limit)
			assert.Equal(t, 10, skip)
			return []models.ScanRecord{{ID: uuid.New(), UserID: userID, Variety: "D24"}}, nil
		},
	}
	r := setupScanner(t, svc)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/history?user_id=u-1&limit=5&skip=10", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, float64(10), body["skip"])

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/history?user_id=u-1&limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistory_EmptyIsArray(t *testing.T) {
	svc := &MockScanService{
		HistoryFunc: func(context.Context, string, int, int) ([]models.ScanRecord, error) {
			return nil, nil
		},
	}
	r := setupScanner(t, svc)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/history?user_id=u-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["scans"])
}

func TestGetScan(t *testing.T) {
	id := uuid.New()
	svc := &MockScanService{
		GetFunc: func(_ context.Context, got uuid.UUID, userID string) (*models.ScanRecord, error) {
			if got != id || userID != "u-1" {
				return nil, nil
			}
			return &models.ScanRecord{ID: id, UserID: userID, ImageKey: "secret"}, nil
		},
	}
	r := setupScanner(t, svc)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/scans/"+id.String()+"?user_id=u-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/scans/"+id.String()+"?user_id=u-2", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/scans/nope?user_id=u-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteScan(t *testing.T) {
	id := uuid.New()
	svc := &MockScanService{
		DeleteFunc: func(_ context.Context, got uuid.UUID, userID string) (bool, error) {
			if userID == "" {
				return false, &grading.MissingContextError{Field: "user_id"}
			}
			return got == id && userID == "u-1", nil
		},
	}
	r := setupScanner(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/v1/scanner/scans/"+id.String(), nil)
	req.Header.Set("X-User-Id", "u-1")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Scan deleted successfully", decode(t, w)["message"])

	req = httptest.NewRequest(http.MethodDelete, "/v1/scanner/scans/"+id.String(), nil)
	req.Header.Set("X-User-Id", "u-2")
	assert.Equal(t, http.StatusNotFound, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/scanner/scans/"+id.String(), nil)
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)
}

func TestImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	svc := &MockScanService{
		ImageFunc: func(_ context.Context, userID, key string) ([]byte, error) {
			if !strings.HasPrefix(key, "scans/"+userID+"/") {
				return nil, scan.ErrForbidden
			}
			return png, nil
		},
	}
	r := setupScanner(t, svc)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/images/scans/u-1/a.png?user_id=u-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, png, w.Body.Bytes())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/images/scans/u-1/a.png?user_id=u-2", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAnalytics(t *testing.T) {
	svc := &MockScanService{
		AnalyticsFunc: func(_ context.Context, _ string, r analytics.TimeRange) (*analytics.Report, error) {
			report := analytics.Build(nil, nil, r, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
			return &report, nil
		},
	}
	r := setupScanner(t, svc)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/analytics?user_id=u-1&time_range=week", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "week", body["time_range"])
	assert.Len(t, body["weekly_data"], 7)
	assert.Equal(t, "N/A", body["stats"].(map[string]any)["top_variety"])

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/scanner/analytics/stats?user_id=u-1&time_range=bogus", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Contains(t, body, "stats")
	assert.NotContains(t, body, "weekly_data")
}

type fakeUsers struct {
	id, name string
	err      error
}

func (f *fakeUsers) UpsertUser(_ context.Context, id, name string) error {
	f.id, f.name = id, name
	return f.err
}

func TestRegisterUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := &fakeUsers{}
	r := gin.New()
	r.POST("/v1/users", NewUserHandler(users).Register)

	req := httptest.NewRequest(http.MethodPost, "/v1/users", strings.NewReader(`{"id":" u-1 ","name":"Ah Meng"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "u-1", users.id)
	assert.Equal(t, "Ah Meng", users.name)

	req = httptest.NewRequest(http.MethodPost, "/v1/users", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/users", strings.NewReader(`{"id":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)
}

func TestReadyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]Check
		want   int
	}{
		{"all ok", map[string]Check{"postgres": ok, "nats": ok}, http.StatusOK},
		{"one down", map[string]Check{"postgres": ok, "minio": down}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSystemHandler(tt.checks)
			r := gin.New()
			r.GET("/readyz", h.Readyz)
			r.GET("/healthz", h.Healthz)

			w := serve(r, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.want, w.Code)
			checks := decode(t, w)["checks"].(map[string]any)
			assert.Len(t, checks, len(tt.checks))

			assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
		})
	}
}
