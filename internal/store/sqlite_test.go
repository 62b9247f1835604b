package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/pyconsole/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)

	// Running migrate again should be a no-op
	err := s.Migrate(context.Background())
	assert.NoError(t, err)
}

func TestRunCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.Run{
		Code:           "1 / 0",
		Stderr:         "ZeroDivisionError: division by zero",
		ExecutionError: "ZeroDivisionError: division by zero",
		ErrorType:      "ZeroDivisionError",
		ErrorMessage:   "division by zero",
		Status:         models.RunStatusError,
		DurationMs:     12,
	}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.NotEmpty(t, run.ID, "CreateRun assigns a ULID")
	assert.False(t, run.CreatedAt.IsZero())

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Code, got.Code)
	assert.Equal(t, models.RunStatusError, got.Status)
	assert.Equal(t, "ZeroDivisionError", got.ErrorType)
	assert.Equal(t, int64(12), got.DurationMs)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListRuns_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateRun(ctx, &models.Run{
			Code:      fmt.Sprintf("print(%d)", i),
			Status:    models.RunStatusOK,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.ListRuns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "print(4)", runs[0].Code, "most recent first")

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestPruneRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.CreateRun(ctx, &models.Run{
			Code:      "x",
			Status:    models.RunStatusOK,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	deleted, err := s.PruneRuns(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 4)
}

func TestChatMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	msgs := []*models.ChatMessage{
		{Role: models.ChatRoleUser, Content: "fix my code", CreatedAt: base},
		{Role: models.ChatRoleAssistant, Content: "done", CreatedAt: base.Add(time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, s.CreateChatMessage(ctx, m))
	}

	got, err := s.ListChatMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.ChatRoleUser, got[0].Role, "chronological order")
	assert.Equal(t, "done", got[1].Content)

	require.NoError(t, s.ClearChatMessages(ctx))
	got, err = s.ListChatMessages(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListChatMessages_LimitReturnsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateChatMessage(ctx, &models.ChatMessage{
			Role:      models.ChatRoleUser,
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := s.ListChatMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "msg 3", got[0].Content)
	assert.Equal(t, "msg 4", got[1].Content)
}
