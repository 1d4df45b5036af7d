package ports

import (
	"context"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

// VersionRepository is the key-value persistence contract behind the version store:
// one ordered list of versions per prompt id.
type VersionRepository interface {
	// Load returns the stored list for promptID, or an empty slice if none exists.
	// Inside a transaction the key is locked until the transaction ends.
	Load(ctx context.Context, promptID string) ([]*models.Version, error)

	// Store replaces the full list for promptID. An empty list removes the key.
	Store(ctx context.Context, promptID string, versions []*models.Version) error

	// PromptIDs lists every key that currently holds at least one version.
	PromptIDs(ctx context.Context) ([]string, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction executes a function within a database transaction
	// If the function returns an error, the transaction is rolled back
	// Otherwise, the transaction is committed
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// IDGenerator generates unique IDs for entities
type IDGenerator interface {
	// GenerateVersionID generates a new version ID (pv_xxx)
	GenerateVersionID() string

	// GenerateRunID generates a new optimization run ID (uuid)
	GenerateRunID() string
}
