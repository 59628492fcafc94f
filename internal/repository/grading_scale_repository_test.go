package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-results-api/internal/models"
)

var gradingScaleColumnNames = []string{"id", "campus_id", "name", "description", "system", "max_score", "pass_mark", "bands", "is_default", "is_active", "created_by", "updated_by", "created_at", "updated_at"}

func TestGradingScaleRepositoryCreateDefaultDemotesPrevious(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewGradingScaleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock")).
		WithArgs("campus-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE grading_scales SET is_default = FALSE, updated_at = $1")).
		WithArgs(sqlmock.AnyArg(), "campus-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grading_scales")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	scale := &models.GradingScale{CampusID: "campus-1", Name: "Standard", System: models.GradingNumeric20, MaxScore: 20, PassMark: 10, IsDefault: true, IsActive: true}
	require.NoError(t, repo.Create(context.Background(), scale))
	assert.NotEmpty(t, scale.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradingScaleRepositoryCreateDuplicateName(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewGradingScaleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grading_scales")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.GradingScale{CampusID: "campus-1", Name: "Standard"})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradingScaleRepositoryFindForCampus(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewGradingScaleRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE campus_id = $1 AND is_active ORDER BY is_default DESC, created_at ASC LIMIT 1")).
		WithArgs("campus-1").
		WillReturnRows(sqlmock.NewRows(gradingScaleColumnNames).
			AddRow("scale-1", "campus-1", "Standard", nil, "NUMERIC_20", 20.0, 10.0, `[{"min":0,"max":9.99,"label":"Fail"},{"min":10,"max":20,"label":"Pass"}]`, true, true, "admin", nil, now, now))

	scale, err := repo.FindForCampus(context.Background(), "campus-1")
	require.NoError(t, err)
	require.Len(t, scale.Bands, 2)
	assert.Equal(t, "Pass", scale.Bands[1].Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradingScaleRepositoryFindForCampusNone(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewGradingScaleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM grading_scales")).
		WithArgs("campus-2").
		WillReturnRows(sqlmock.NewRows(gradingScaleColumnNames))

	_, err := repo.FindForCampus(context.Background(), "campus-2")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGradingScaleRepositoryListActiveOrdering(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewGradingScaleRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grading_scales WHERE is_active AND campus_id = $1 ORDER BY is_default DESC, name ASC")).
		WithArgs("campus-1").
		WillReturnRows(sqlmock.NewRows(gradingScaleColumnNames).
			AddRow("scale-1", "campus-1", "B", nil, "NUMERIC_20", 20.0, 10.0, `[]`, true, true, "admin", nil, now, now).
			AddRow("scale-2", "campus-1", "A", nil, "NUMERIC_20", 20.0, 10.0, nil, false, true, "admin", nil, now, now))

	scales, err := repo.ListActive(context.Background(), "campus-1")
	require.NoError(t, err)
	require.Len(t, scales, 2)
	assert.True(t, scales[0].IsDefault)
	assert.NotNil(t, scales[1].Bands)
	require.NoError(t, mock.ExpectationsWereMet())
}
