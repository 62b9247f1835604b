package store

import (
	"context"

	"github.com/joescharf/pyconsole/internal/models"
)

// Store defines the persistence interface for run and chat history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Chat history
	CreateChatMessage(ctx context.Context, msg *models.ChatMessage) error
	ListChatMessages(ctx context.Context, limit int) ([]*models.ChatMessage, error)
	ClearChatMessages(ctx context.Context) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
