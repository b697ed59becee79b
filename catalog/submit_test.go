package catalog

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSubmitWithoutPreset(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO videos`).
		WithArgs(int(Queued), sqlmock.AnyArg(), "http://origin/source.mp4",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	sub, err := store.Submit(context.Background(), "http://origin/source.mp4", "")
	require.NoError(t, err)
	require.Equal(t, int64(42), sub.JobID)
	require.NotEmpty(t, sub.Token)
	require.Len(t, sub.Basename, 32)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitUnknownPreset(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM presets`).
		WithArgs("does-not-exist").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := store.Submit(context.Background(), "http://origin/source.mp4", "does-not-exist")
	require.ErrorContains(t, err, "unknown preset")
}
