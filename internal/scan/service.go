// Package scan runs durian scans end to end: upload checks, detector fan-out,
// grading, image storage and persistence.
package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/durianscan/internal/analytics"
	"github.com/your-org/durianscan/internal/grading"
	"github.com/your-org/durianscan/internal/models"
	"github.com/your-org/durianscan/internal/observability"
	"github.com/your-org/durianscan/internal/storage"
	"github.com/your-org/durianscan/internal/vision"
)

// ImageURLPrefix is the API path that serves stored images by key.
const ImageURLPrefix = "/v1/scanner/images/"

const (
	thumbnailSuffix  = "_thumb.jpg"
	thumbnailQuality = 85
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrAsyncUnavailable = errors.New("async scans unavailable")
)

// Store persists users and scan records.
type Store interface {
	SaveScan(ctx context.Context, rec *models.ScanRecord) (uuid.UUID, error)
	ListScansByUser(ctx context.Context, userID string, limit, skip int) ([]models.ScanRecord, error)
	ListScansSince(ctx context.Context, userID string, since time.Time) ([]models.ScanRecord, error)
	GetScan(ctx context.Context, id uuid.UUID) (*models.ScanRecord, error)
	DeleteScan(ctx context.Context, id uuid.UUID, userID string) (bool, error)
}

// ImageStore keeps uploaded images and thumbnails.
type ImageStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

// Publisher hands tasks to workers and announces stored scans.
type Publisher interface {
	PublishTask(ctx context.Context, task models.ScanTask) error
	PublishEvent(ctx context.Context, ev models.ScanEvent) error
}

type Deps struct {
	Objects vision.Detector
	Disease vision.Detector
	Color   vision.Classifier

	// DiseaseClasses defaults to grading.DiseaseClasses.
	DiseaseClasses grading.ClassFilter

	Store     Store
	Images    ImageStore
	Publisher Publisher // optional

	ThumbnailSize  int
	MaxUploadBytes int64
	// MaxImagePixels defaults to DefaultMaxImagePixels.
	MaxImagePixels int64
	Now            func() time.Time
}

type Service struct {
	objects        vision.Detector
	disease        vision.Detector
	color          vision.Classifier
	diseaseClasses grading.ClassFilter

	store     Store
	images    ImageStore
	publisher Publisher

	builder       *grading.Builder
	thumbnailSize int
	maxUpload     int64
	maxPixels     int64
	now           func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.DiseaseClasses == nil {
		d.DiseaseClasses = grading.DiseaseClasses
	}
	if d.ThumbnailSize <= 0 {
		d.ThumbnailSize = 150
	}
	if d.MaxImagePixels <= 0 {
		d.MaxImagePixels = DefaultMaxImagePixels
	}
	return &Service{
		objects:        d.Objects,
		disease:        d.Disease,
		color:          d.Color,
		diseaseClasses: d.DiseaseClasses,
		store:          d.Store,
		images:         d.Images,
		publisher:      d.Publisher,
		builder:        grading.NewBuilder(d.Now),
		thumbnailSize:  d.ThumbnailSize,
		maxUpload:      d.MaxUploadBytes,
		maxPixels:      d.MaxImagePixels,
		now:            d.Now,
	}
}

// Ready reports whether the primary object detector is loaded.
func (s *Service) Ready() bool {
	return s.objects != nil
}

// Outcome is the result of a synchronous scan. Record is nil when the scan
// was not saved.
type Outcome struct {
	Result models.ScanResult
	Record *models.ScanRecord
}

// Scan grades one uploaded image. With save set the image and a thumbnail
// are stored and a record is written for userID; any failure after the
// upload removes the stored images again.
func (s *Service) Scan(ctx context.Context, userID string, up Upload, save bool) (*Outcome, error) {
	if err := ValidateUpload(up, s.maxUpload); err != nil {
		return nil, err
	}
	if save {
		if err := grading.RequireUser(userID); err != nil {
			return nil, err
		}
	}

	img, err := DecodeImage(up.Data, s.maxPixels)
	if err != nil {
		return nil, err
	}

	result := s.Analyze(ctx, img)
	out := &Outcome{Result: result}
	if !save {
		return out, nil
	}

	scanID := uuid.New()
	refs := ImageRefsFor(userID, scanID, up.Ext())
	if err := s.images.PutObject(ctx, refs.ImageKey, up.Data, up.MIMEType()); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}
	refs = s.storeThumbnail(ctx, refs, img)

	rec, err := s.persist(ctx, scanID, userID, refs, result)
	if err != nil {
		s.removeImages(ctx, refs.ImageKey, refs.ThumbnailKey)
		return nil, err
	}
	out.Record = rec
	return out, nil
}

// Enqueue stores the upload and queues it for a worker. The returned task
// carries the scan id the record will get.
func (s *Service) Enqueue(ctx context.Context, userID string, up Upload) (*models.ScanTask, error) {
	if s.publisher == nil {
		return nil, ErrAsyncUnavailable
	}
	if err := ValidateUpload(up, s.maxUpload); err != nil {
		return nil, err
	}
	if err := grading.RequireUser(userID); err != nil {
		return nil, err
	}
	if err := checkDecodable(up.Data, s.maxPixels); err != nil {
		return nil, err
	}

	scanID := uuid.New()
	refs := ImageRefsFor(userID, scanID, up.Ext())
	if err := s.images.PutObject(ctx, refs.ImageKey, up.Data, up.MIMEType()); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	task := models.ScanTask{
		ScanID:      scanID,
		UserID:      userID,
		ImageKey:    refs.ImageKey,
		Filename:    up.Filename,
		ContentType: up.MIMEType(),
		SubmittedAt: s.now().UTC(),
	}
	if err := s.publisher.PublishTask(ctx, task); err != nil {
		s.removeImages(ctx, refs.ImageKey)
		return nil, fmt.Errorf("queue scan: %w", err)
	}
	return &task, nil
}

// ProcessTask grades a queued upload and stores its record. Redelivered
// tasks whose record already exists return that record unchanged.
func (s *Service) ProcessTask(ctx context.Context, task models.ScanTask) (*models.ScanRecord, error) {
	if err := grading.RequireUser(task.UserID); err != nil {
		return nil, err
	}
	if !OwnsKey(task.UserID, task.ImageKey) {
		return nil, fmt.Errorf("%w: image key %q does not belong to user", ErrForbidden, task.ImageKey)
	}

	existing, err := s.store.GetScan(ctx, task.ScanID)
	if err != nil {
		return nil, fmt.Errorf("check scan %s: %w", task.ScanID, err)
	}
	if existing != nil {
		slog.Info("scan already stored, skipping", "scan_id", task.ScanID)
		return existing, nil
	}

	data, err := s.images.GetObject(ctx, task.ImageKey)
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", task.ImageKey, err)
	}
	img, err := DecodeImage(data, s.maxPixels)
	if err != nil {
		s.removeImages(ctx, task.ImageKey)
		return nil, err
	}

	result := s.Analyze(ctx, img)

	refs := s.storeThumbnail(ctx, models.ImageRefs{
		ImageKey: task.ImageKey,
		ImageURL: ImageURL(task.ImageKey),
	}, img)

	rec, err := s.persist(ctx, task.ScanID, task.UserID, refs, result)
	if err != nil {
		// Keep the original for redelivery unless the user is gone for good.
		keys := []string{refs.ThumbnailKey}
		if errors.Is(err, storage.ErrNotFound) {
			keys = append(keys, task.ImageKey)
		}
		s.removeImages(ctx, keys...)
		return nil, err
	}
	return rec, nil
}

// ClassifyDisease runs only the disease detector. Unlike a full scan, a
// missing or failing disease model is an error here.
func (s *Service) ClassifyDisease(ctx context.Context, up Upload) (*models.DiseaseVerdict, error) {
	if err := ValidateUpload(up, s.maxUpload); err != nil {
		return nil, err
	}
	if s.disease == nil {
		return nil, fmt.Errorf("%w: disease detector not loaded", ErrModelUnavailable)
	}
	img, err := DecodeImage(up.Data, s.maxPixels)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := s.disease.Detect(ctx, img)
	observability.InferenceDuration.WithLabelValues(stageDisease).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.DetectorFailures.WithLabelValues(stageDisease).Inc()
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	b := img.Bounds()
	found, dropped := grading.NormalizeDetections(raw, grading.ImageSize{Width: b.Dx(), Height: b.Dy()}, s.diseaseClasses)
	countDropped(stageDisease, len(found), dropped)
	verdict := grading.DiagnoseDisease(found)
	return &verdict, nil
}

// History returns a page of the user's scans, newest first.
func (s *Service) History(ctx context.Context, userID string, limit, skip int) ([]models.ScanRecord, error) {
	if err := grading.RequireUser(userID); err != nil {
		return nil, err
	}
	return s.store.ListScansByUser(ctx, userID, limit, skip)
}

// Get returns the scan if it exists and belongs to userID, nil otherwise.
func (s *Service) Get(ctx context.Context, id uuid.UUID, userID string) (*models.ScanRecord, error) {
	if err := grading.RequireUser(userID); err != nil {
		return nil, err
	}
	rec, err := s.store.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.UserID != userID {
		return nil, nil
	}
	return rec, nil
}

// Delete removes a scan owned by userID together with its images. It
// reports false when there was nothing the user could delete.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	rec, err := s.Get(ctx, id, userID)
	if err != nil || rec == nil {
		return false, err
	}

	deleted, err := s.store.DeleteScan(ctx, id, userID)
	if err != nil || !deleted {
		return false, err
	}
	s.removeImages(ctx, rec.ObjectKeys()...)
	return true, nil
}

// Analytics builds the dashboard report for userID.
func (s *Service) Analytics(ctx context.Context, userID string, r analytics.TimeRange) (*analytics.Report, error) {
	if err := grading.RequireUser(userID); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	history, err := s.store.ListScansSince(ctx, userID, analytics.FetchSince(r, now))
	if err != nil {
		return nil, fmt.Errorf("load scan history: %w", err)
	}
	recent, err := s.store.ListScansByUser(ctx, userID, analytics.RecentLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("load recent scans: %w", err)
	}

	report := analytics.Build(history, recent, r, now)
	return &report, nil
}

// Image returns a stored image if key lives under userID's prefix.
func (s *Service) Image(ctx context.Context, userID, key string) ([]byte, error) {
	if err := grading.RequireUser(userID); err != nil {
		return nil, err
	}
	if !OwnsKey(userID, key) {
		return nil, ErrForbidden
	}
	return s.images.GetObject(ctx, key)
}

func (s *Service) persist(ctx context.Context, scanID uuid.UUID, userID string, refs models.ImageRefs, result models.ScanResult) (*models.ScanRecord, error) {
	rec, err := s.builder.Build(userID, refs, result)
	if err != nil {
		return nil, err
	}
	rec.ID = scanID

	if _, err := s.store.SaveScan(ctx, rec); err != nil {
		return nil, fmt.Errorf("save scan: %w", err)
	}

	observability.ScansProcessed.WithLabelValues(string(rec.Status)).Inc()
	observability.QualityScore.Observe(rec.QualityScore)
	slog.Info("scan stored",
		"scan_id", rec.ID,
		"user_id", rec.UserID,
		"variety", rec.Variety,
		"quality", rec.QualityScore,
		"status", rec.Status,
	)

	if s.publisher != nil {
		if err := s.publisher.PublishEvent(ctx, eventFor(rec)); err != nil {
			slog.Warn("publish scan event", "scan_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

// storeThumbnail adds the thumbnail to refs. A failed thumbnail leaves the
// original image standing in for it.
func (s *Service) storeThumbnail(ctx context.Context, refs models.ImageRefs, img image.Image) models.ImageRefs {
	refs.ThumbnailURL = refs.ImageURL
	refs.ThumbnailKey = ""

	data, err := vision.EncodeJPEG(vision.Thumbnail(img, s.thumbnailSize), thumbnailQuality)
	if err != nil {
		slog.Warn("encode thumbnail", "key", refs.ImageKey, "error", err)
		return refs
	}
	key := thumbnailKey(refs.ImageKey)
	if err := s.images.PutObject(ctx, key, data, "image/jpeg"); err != nil {
		slog.Warn("store thumbnail", "key", key, "error", err)
		return refs
	}
	refs.ThumbnailKey = key
	refs.ThumbnailURL = ImageURL(key)
	return refs
}

func (s *Service) removeImages(ctx context.Context, keys ...string) {
	if err := s.images.DeleteObjects(context.WithoutCancel(ctx), keys); err != nil {
		slog.Warn("remove stored images", "keys", keys, "error", err)
	}
}

func eventFor(rec *models.ScanRecord) models.ScanEvent {
	return models.ScanEvent{
		ScanID:       rec.ID,
		UserID:       rec.UserID,
		Variety:      rec.Variety,
		QualityScore: rec.QualityScore,
		Status:       rec.Status,
		DurianCount:  rec.DurianCount,
		ThumbnailURL: rec.ThumbnailURL,
		CreatedAt:    rec.CreatedAt,
	}
}

// ImageRefsFor returns the storage keys and URLs of a scan's original image.
func ImageRefsFor(userID string, scanID uuid.UUID, ext string) models.ImageRefs {
	key := userPrefix(userID) + scanID.String() + ext
	return models.ImageRefs{
		ImageKey: key,
		ImageURL: ImageURL(key),
	}
}

func ImageURL(key string) string {
	return ImageURLPrefix + key
}

// OwnsKey reports whether key is stored under userID's prefix.
func OwnsKey(userID, key string) bool {
	if strings.TrimSpace(userID) == "" || strings.Contains(key, "..") {
		return false
	}
	prefix := userPrefix(userID)
	return strings.HasPrefix(key, prefix) && len(key) > len(prefix)
}

func userPrefix(userID string) string {
	return storage.ScanKeyPrefix + url.PathEscape(userID) + "/"
}

func thumbnailKey(imageKey string) string {
	if i := strings.LastIndexByte(imageKey, '.'); i > strings.LastIndexByte(imageKey, '/') {
		imageKey = imageKey[:i]
	}
	return imageKey + thumbnailSuffix
}

// Retryable reports whether a failed ProcessTask may succeed on redelivery.
// Bad images, unknown users and foreign keys never will.
func Retryable(err error) bool {
	var missing *grading.MissingContextError
	switch {
	case err == nil:
		return false
	case errors.As(err, &missing),
		errors.Is(err, ErrInvalidImage),
		errors.Is(err, ErrForbidden),
		errors.Is(err, storage.ErrNotFound):
		return false
	default:
		return true
	}
}
