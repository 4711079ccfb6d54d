package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/workflow-engine/internal/model"
)

func TestUIInteractionRepository_Create_Inserts(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewUIInteractionRepository(bunDB)

	mock.ExpectExec("^INSERT").WillReturnResult(sqlmock.NewResult(1, 1))

	interaction := &model.UIInteraction{
		ID:          uuid.New().String(),
		ExecutionID: uuid.New().String(),
		NodeID:      "collect-input",
		Type:        model.UIInteractionUserInput,
		Status:      model.UIInteractionPending,
		Timeout:     model.DefaultInteractionTimeout,
	}

	err := repo.Create(context.Background(), interaction)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUIInteractionRepository_UpdateStatus_SetsCompletedAt_WhenTerminal(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewUIInteractionRepository(bunDB)

	mock.ExpectExec("^UPDATE .*completed_at = ").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), uuid.New().String(), model.UIInteractionCompleted, map[string]any{"approved": true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUIInteractionRepository_GetActiveInteractions_ScansEmptySet(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewUIInteractionRepository(bunDB)

	mock.ExpectQuery("^SELECT").WillReturnRows(sqlmock.NewRows(nil))

	active, err := repo.GetActiveInteractions(context.Background())
	require.NoError(t, err)
	require.Empty(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUIInteractionRepository_GetTimedOutInteractions_ScansEmptySet(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewUIInteractionRepository(bunDB)

	mock.ExpectQuery("^SELECT").WillReturnRows(sqlmock.NewRows(nil))

	timedOut, err := repo.GetTimedOutInteractions(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, timedOut)
	require.NoError(t, mock.ExpectationsWereMet())
}
