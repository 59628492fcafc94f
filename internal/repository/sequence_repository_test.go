package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveSequenceReturnsFirstOfRange(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (year) DO UPDATE SET seq = result_counters.seq + EXCLUDED.seq")).
		WithArgs(2025, 3).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(10))

	first, err := reserveSequence(context.Background(), db, 2025, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), first)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveSequenceErrors(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	_, err := reserveSequence(context.Background(), db, 2025, 0)
	assert.Error(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO result_counters")).
		WillReturnError(errors.New("connection reset"))
	_, err = reserveSequence(context.Background(), db, 2025, 1)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
