package store

import (
	"context"

	"github.com/alexander-jackson/fisherman/pkg/schemas"
)

// Store is the only piece of mutable shared process-wide state: per-repository
// deployment locks plus the record of terminal deployment results.
type Store interface {
	// TryLockRepository atomically acquires the deployment lock for a
	// repository identity if it is free. It never blocks: contention is
	// reported through the false return, not by queuing.
	TryLockRepository(ctx context.Context, repository string) (bool, error)

	// UnlockRepository releases the deployment lock for a repository.
	UnlockRepository(ctx context.Context, repository string) error

	// SetDeployment records the terminal result for a repository.
	SetDeployment(ctx context.Context, result schemas.DeploymentResult) error

	// GetDeployment retrieves the last terminal result for a repository.
	GetDeployment(ctx context.Context, repository string) (schemas.DeploymentResult, bool, error)

	// Deployments lists recent terminal results, most recent first.
	Deployments(ctx context.Context) ([]schemas.DeploymentResult, error)

	// DeploymentsCount returns the number of recorded results.
	DeploymentsCount(ctx context.Context) (int64, error)
}

// NewLocalStore returns an in-memory Store.
func NewLocalStore() Store {
	return &Local{
		locks:   make(map[string]struct{}),
		latest:  make(map[string]schemas.DeploymentResult),
		history: make([]schemas.DeploymentResult, 0, localHistoryLimit),
	}
}
