package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-feed-sync/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

// rowArgs expects externalID first and accepts any value for the other
// twenty columns.
func rowArgs(externalID string) []driver.Value {
	args := []driver.Value{externalID}
	for i := 0; i < 20; i++ {
		args = append(args, sqlmock.AnyArg())
	}
	return args
}

func sampleProperty() *models.Property {
	grade := "C"
	surface := 72.5
	return &models.Property{
		ExternalID:     "MK-1",
		Title:          "T3",
		Price:          325000,
		Location:       "Lyon 69003",
		Status:         models.StatusForSale,
		Image:          "/placeholder.jpg",
		Photos:         []string{},
		Prestations:    models.Prestations{"elevator": true},
		SurfaceTotal:   &surface,
		DPEConsumption: &grade,
	}
}

func TestPostgresLookupID(t *testing.T) {
	ps, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id FROM properties WHERE external_id = \$1`).
		WithArgs("MK-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectQuery(`SELECT id FROM properties WHERE external_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, err := ps.LookupID(context.Background(), "MK-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ps.LookupID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertFillsGeneratedColumns(t *testing.T) {
	ps, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO properties`).
		WithArgs(rowArgs("MK-1")...).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(7, created, created))

	p := sampleProperty()
	require.NoError(t, ps.Insert(context.Background(), p))
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, created, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertDuplicate(t *testing.T) {
	ps, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO properties`).
		WithArgs(rowArgs("MK-1")...).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	err := ps.Insert(context.Background(), sampleProperty())
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdate(t *testing.T) {
	ps, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`UPDATE properties SET`).
		WithArgs(rowArgs("MK-1")...).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(7, now.Add(-time.Hour), now))
	mock.ExpectQuery(`UPDATE properties`).
		WithArgs(rowArgs("MK-1")...).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))

	p := sampleProperty()
	require.NoError(t, ps.Update(context.Background(), p))
	assert.Equal(t, int64(7), p.ID)
	assert.True(t, p.UpdatedAt.After(p.CreatedAt))

	err := ps.Update(context.Background(), sampleProperty())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreErrorsAreWrapped(t *testing.T) {
	ps, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(`SELECT id FROM properties`).WillReturnError(boom)

	_, err := ps.LookupID(context.Background(), "MK-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "postgres: lookup")
}

func TestPostgresMigrateAndCount(t *testing.T) {
	ps, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS properties`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM properties`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	require.NoError(t, ps.Migrate(context.Background()))
	n, err := ps.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPropertyArgsNullables(t *testing.T) {
	p := &models.Property{ExternalID: "x"}
	args, err := propertyArgs(p)
	require.NoError(t, err)
	require.Len(t, args, 21)
	assert.Equal(t, "x", args[0])
	assert.Equal(t, "{}", args[12], "nil prestations are stored as an empty object")
	v, err := args[6].(driver.Valuer).Value()
	require.NoError(t, err)
	assert.Nil(t, v, "missing photo_principal is NULL")
	v, err = args[13].(driver.Valuer).Value()
	require.NoError(t, err)
	assert.Nil(t, v, "missing surface is NULL")
}
