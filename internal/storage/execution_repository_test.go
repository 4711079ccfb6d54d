package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/workflow-engine/internal/model"
)

func TestExecutionRepository_GetByID_RejectsMalformedID(t *testing.T) {
	bunDB, _ := newBunDBWithMock(t)
	repo := NewExecutionRepository(bunDB)

	_, err := repo.GetByID(context.Background(), "not-a-uuid")
	require.Error(t, err)
}

func TestExecutionRepository_UpdateStatus_IssuesUpdate(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewExecutionRepository(bunDB)

	id := uuid.New()
	mock.ExpectExec("^UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), id.String(), model.ExecutionRunning)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_GetRunningExecutions_ScansEmptySet(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewExecutionRepository(bunDB)

	mock.ExpectQuery("^SELECT").WillReturnRows(sqlmock.NewRows(nil))

	execs, err := repo.GetRunningExecutions(context.Background())
	require.NoError(t, err)
	require.Empty(t, execs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_SetResults_MarshalsThroughJSONB(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewExecutionRepository(bunDB)

	id := uuid.New()
	mock.ExpectExec("^UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetResults(context.Background(), id.String(), &model.Results{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
