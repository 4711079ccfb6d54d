package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// newBunDBWithMock creates a bun.DB backed by go-sqlmock for unit testing,
// using QueryMatcherRegexp so ExpectQuery patterns are treated as regexps.
func newBunDBWithMock(t *testing.T) (*bun.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	bunDB := bun.NewDB(db, pgdialect.New())
	registerModels(bunDB)
	return bunDB, mock
}

func TestWorkflowRepository_GetByID_ReturnsNotFound_WhenNoRows(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewWorkflowRepository(bunDB)

	mock.ExpectQuery("^SELECT").WillReturnRows(sqlmock.NewRows(nil))

	_, err := repo.GetByID(context.Background(), uuid.New().String())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepository_GetByID_RejectsMalformedID(t *testing.T) {
	bunDB, _ := newBunDBWithMock(t)
	repo := NewWorkflowRepository(bunDB)

	_, err := repo.GetByID(context.Background(), "not-a-uuid")
	require.Error(t, err)
}

func TestWorkflowRepository_HasPermission_ReturnsTrue_WhenGrantExists(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewWorkflowRepository(bunDB)

	workflowID := uuid.New()
	userID := uuid.New()

	mock.ExpectQuery("^SELECT").
		WithArgs(workflowID, userID, "execute").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := repo.HasPermission(context.Background(), workflowID.String(), userID.String(), "execute")
	require.NoError(t, err)
	require.True(t, has)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepository_GrantPermission_InsertsOnConflictDoNothing(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewWorkflowRepository(bunDB)

	workflowID := uuid.New()
	userID := uuid.New()

	mock.ExpectExec("^INSERT .*ON CONFLICT .*DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.GrantPermission(context.Background(), workflowID.String(), userID.String(), "execute")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
