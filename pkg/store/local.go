package store

import (
	"context"
	"sync"

	"github.com/alexander-jackson/fisherman/pkg/schemas"
)

// localHistoryLimit bounds the recent-deployments list so a long-lived agent
// does not grow without bound.
const localHistoryLimit = 100

// Local is an in-memory storage implementation for deployment locks and
// results.
type Local struct {
	locks      map[string]struct{}
	locksMutex sync.Mutex

	latest       map[string]schemas.DeploymentResult
	history      []schemas.DeploymentResult
	resultsMutex sync.RWMutex
}

// TryLockRepository acquires the lock for a repository if it is currently
// free, returning whether acquisition succeeded.
func (l *Local) TryLockRepository(_ context.Context, repository string) (bool, error) {
	l.locksMutex.Lock()
	defer l.locksMutex.Unlock()

	if _, held := l.locks[repository]; held {
		return false, nil
	}

	l.locks[repository] = struct{}{}

	return true, nil
}

// UnlockRepository releases the lock for a repository.
func (l *Local) UnlockRepository(_ context.Context, repository string) error {
	l.locksMutex.Lock()
	defer l.locksMutex.Unlock()

	delete(l.locks, repository)

	return nil
}

// SetDeployment stores a terminal deployment result.
func (l *Local) SetDeployment(_ context.Context, result schemas.DeploymentResult) error {
	l.resultsMutex.Lock()
	defer l.resultsMutex.Unlock()

	l.latest[result.Repository] = result

	l.history = append(l.history, result)
	if len(l.history) > localHistoryLimit {
		l.history = l.history[len(l.history)-localHistoryLimit:]
	}

	return nil
}

// GetDeployment retrieves the last terminal result for a repository.
func (l *Local) GetDeployment(_ context.Context, repository string) (schemas.DeploymentResult, bool, error) {
	l.resultsMutex.RLock()
	defer l.resultsMutex.RUnlock()

	result, found := l.latest[repository]

	return result, found, nil
}

// Deployments lists the recorded results, most recent first.
func (l *Local) Deployments(_ context.Context) ([]schemas.DeploymentResult, error) {
	l.resultsMutex.RLock()
	defer l.resultsMutex.RUnlock()

	results := make([]schemas.DeploymentResult, 0, len(l.history))

	for i := len(l.history) - 1; i >= 0; i-- {
		results = append(results, l.history[i])
	}

	return results, nil
}

// DeploymentsCount returns the number of recorded results.
func (l *Local) DeploymentsCount(_ context.Context) (int64, error) {
	l.resultsMutex.RLock()
	defer l.resultsMutex.RUnlock()

	return int64(len(l.history)), nil
}
