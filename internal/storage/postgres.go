package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/durianscan/internal/config"
	"github.com/your-org/durianscan/internal/models"
)

// ErrNotFound is returned when a write refers to a row that does not exist.
var ErrNotFound = errors.New("not found")

const foreignKeyViolation = "23503"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

// UpsertUser registers a user id so scans can be saved for it.
func (s *PostgresStore) UpsertUser(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		id, name)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// --- Scans ---

const scanColumns = `id, user_id, image_url, thumbnail_url, image_key, thumbnail_key, variety,
	quality_score, confidence, status, durian_count, detection, analysis, color, disease, created_at`

// SaveScan inserts rec for its user and returns the scan id. The user must
// exist; otherwise the error wraps ErrNotFound. A zero rec.ID is assigned.
func (s *PostgresStore) SaveScan(ctx context.Context, rec *models.ScanRecord) (uuid.UUID, error) {
	detection, err := json.Marshal(rec.Detection)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode detection: %w", err)
	}
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode analysis: %w", err)
	}
	color, err := jsonOrNil(rec.Color)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode color: %w", err)
	}
	disease, err := jsonOrNil(rec.Disease)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode disease: %w", err)
	}

	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, rec.UserID,
	).Scan(&exists); err != nil {
		return uuid.Nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return uuid.Nil, fmt.Errorf("save scan: user %q: %w", rec.UserID, ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO scans (`+scanColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		id, rec.UserID, rec.ImageURL, rec.ThumbnailURL, rec.ImageKey, rec.ThumbnailKey, rec.Variety,
		rec.QualityScore, rec.Confidence, string(rec.Status), rec.DurianCount,
		detection, analysis, color, disease, createdAt)
	if err != nil {
		return uuid.Nil, scanWriteError("insert scan", rec.UserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, scanWriteError("commit scan", rec.UserID, err)
	}

	rec.ID = id
	rec.CreatedAt = createdAt
	return id, nil
}

// ListScansByUser returns a page of the user's scans, newest first.
func (s *PostgresStore) ListScansByUser(ctx context.Context, userID string, limit, skip int) ([]models.ScanRecord, error) {
	limit, skip = clampPage(limit, skip)

	rows, err := s.pool.Query(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return collectScans(rows)
}

// ListScansSince returns every scan of the user created at or after since.
func (s *PostgresStore) ListScansSince(ctx context.Context, userID string, since time.Time) ([]models.ScanRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("list scans since: %w", err)
	}
	return collectScans(rows)
}

// GetScan returns a scan by id, or nil when it does not exist.
func (s *PostgresStore) GetScan(ctx context.Context, id uuid.UUID) (*models.ScanRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return rec, nil
}

// DeleteScan removes a scan owned by userID. It reports false when no such
// scan exists for that user.
func (s *PostgresStore) DeleteScan(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scans WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete scan: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// scanWriteError maps a foreign key violation, raised when the user row is
// removed between the existence check and the insert, to ErrNotFound.
func scanWriteError(op, userID string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%s: user %q: %w", op, userID, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func collectScans(rows pgx.Rows) ([]models.ScanRecord, error) {
	defer rows.Close()

	scans := []models.ScanRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scans = append(scans, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return scans, nil
}

func scanRecord(row pgx.Row) (*models.ScanRecord, error) {
	var rec models.ScanRecord
	var status string
	var detection, analysis, color, disease []byte

	if err := row.Scan(&rec.ID, &rec.UserID, &rec.ImageURL, &rec.ThumbnailURL, &rec.ImageKey, &rec.ThumbnailKey,
		&rec.Variety, &rec.QualityScore, &rec.Confidence, &status, &rec.DurianCount,
		&detection, &analysis, &color, &disease, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Status = models.ScanStatus(status)

	if err := decodeJSONB(detection, &rec.Detection); err != nil {
		return nil, fmt.Errorf("decode detection: %w", err)
	}
	if err := decodeJSONB(analysis, &rec.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if len(color) > 0 {
		rec.Color = &models.ColorResult{}
		if err := decodeJSONB(color, rec.Color); err != nil {
			return nil, fmt.Errorf("decode color: %w", err)
		}
	}
	if len(disease) > 0 {
		rec.Disease = &models.DiseaseVerdict{}
		if err := decodeJSONB(disease, rec.Disease); err != nil {
			return nil, fmt.Errorf("decode disease: %w", err)
		}
	}
	if rec.Detection == nil {
		rec.Detection = models.DetectionSet{}
	}
	return &rec, nil
}

func clampPage(limit, skip int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if skip < 0 {
		skip = 0
	}
	return limit, skip
}

// jsonOrNil encodes v, mapping a nil pointer to SQL NULL.
func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeJSONB(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
