package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/durianscan/internal/models"
)

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, skip         int
		wantLimit, wantSkip int
	}{
		{0, 0, 50, 0},
		{-3, -1, 50, 0},
		{10, 20, 10, 20},
		{501, 0, 500, 0},
	}

	for _, tt := range tests {
		limit, skip := clampPage(tt.limit, tt.skip)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantSkip, skip)
	}
}

func TestJSONOrNil(t *testing.T) {
	data, err := jsonOrNil[models.ColorResult](nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = jsonOrNil(&models.DiseaseVerdict{Disease: models.DiseaseHealthy})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"disease":"healthy"`)
}

func TestDecodeJSONB(t *testing.T) {
	var analysis models.AnalysisSummary
	require.NoError(t, decodeJSONB([]byte(`{"found":true,"total_count":2,"class_breakdown":{"durian":2}}`), &analysis))

	assert.True(t, analysis.Found)
	assert.Equal(t, 2, analysis.ClassBreakdown.Get("durian"))

	var set models.DetectionSet
	require.NoError(t, decodeJSONB(nil, &set))
	assert.Nil(t, set)

	assert.Error(t, decodeJSONB([]byte(`{`), &set))
}

func TestScanWriteError(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "scans_user_id_fkey"}

	err := scanWriteError("insert scan", "farm-7", fmt.Errorf("exec: %w", fk))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `"farm-7"`)

	unique := &pgconn.PgError{Code: "23505"}
	err = scanWriteError("insert scan", "farm-7", unique)
	assert.NotErrorIs(t, err, ErrNotFound)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)

	err = scanWriteError("commit scan", "farm-7", errors.New("conn closed"))
	assert.EqualError(t, err, "commit scan: conn closed")
}
