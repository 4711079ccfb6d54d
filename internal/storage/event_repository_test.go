package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/workflow-engine/internal/model"
)

func TestEventRepository_Append_RejectsMalformedExecutionID(t *testing.T) {
	bunDB, _ := newBunDBWithMock(t)
	repo := NewEventRepository(bunDB)

	err := repo.Append(context.Background(), "not-a-uuid", model.LogEntry{Message: "hi"})
	require.Error(t, err)
}

func TestEventRepository_Append_Inserts(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewEventRepository(bunDB)

	mock.ExpectExec("^INSERT").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Append(context.Background(), uuid.New().String(), model.LogEntry{
		Timestamp: time.Now(),
		Level:     "info",
		Message:   "node started",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_List_OrdersBySequence(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewEventRepository(bunDB)

	executionID := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "execution_id", "sequence", "level", "node_id", "message", "metadata", "created_at"}).
		AddRow(uuid.New(), executionID, 1, "info", "n1", "started", nil, time.Now()).
		AddRow(uuid.New(), executionID, 2, "info", "n1", "completed", nil, time.Now())

	mock.ExpectQuery(`^SELECT .*ORDER BY "?sequence"? ASC`).WillReturnRows(rows)

	entries, err := repo.List(context.Background(), executionID.String(), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
