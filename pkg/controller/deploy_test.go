package controller

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexander-jackson/fisherman/pkg/build"
	"github.com/alexander-jackson/fisherman/pkg/config"
	"github.com/alexander-jackson/fisherman/pkg/git"
	"github.com/alexander-jackson/fisherman/pkg/schemas"
	"github.com/alexander-jackson/fisherman/pkg/store"
)

type fakeSyncer struct {
	mu       sync.Mutex
	calls    int
	lastOpts git.SyncOptions

	detail string
	err    error

	// When set, Sync signals started and then blocks until release is
	// closed, letting tests hold a deployment mid-flight.
	started chan struct{}
	release chan struct{}
}

func (f *fakeSyncer) Sync(_ context.Context, opts git.SyncOptions) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastOpts = opts
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}

	return f.detail, f.err
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeBuilder struct {
	mu       sync.Mutex
	calls    int
	lastOpts build.Options

	output string
	err    error
}

func (f *fakeBuilder) Build(_ context.Context, opts build.Options) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastOpts = opts
	f.mu.Unlock()

	return f.output, f.err
}

func (f *fakeBuilder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeSignaler struct {
	mu    sync.Mutex
	calls int
	sha   string
	err   error
}

func (f *fakeSignaler) SignalRestart(_ string, _ []string, commitSHA string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.sha = commitSHA

	return f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	results []schemas.DeploymentResult
}

func (f *fakeNotifier) Notify(_ context.Context, result schemas.DeploymentResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.results = append(f.results, result)

	return nil
}

func (f *fakeNotifier) notified() []schemas.DeploymentResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]schemas.DeploymentResult(nil), f.results...)
}

func testControllerConfig() config.Config {
	return config.Config{
		Defaults: config.GlobalDefaults{
			SSHPrivateKey: "/root/.ssh/id_rsa",
			RepoRoot:      "/srv/repos",
			BuildTool:     "/usr/bin/cargo",
			Secret:        "default-secret",
			Port:          5000,
		},
		Specific: map[string]config.RepositoryOverride{
			"org/secure": {Secret: "secure-secret"},
		},
	}
}

func newTestController() (*Controller, *fakeSyncer, *fakeBuilder, *fakeSignaler, *fakeNotifier) {
	syncer := &fakeSyncer{}
	builder := &fakeBuilder{}
	signaler := &fakeSignaler{}
	notified := &fakeNotifier{}

	c := &Controller{
		Config:   testControllerConfig(),
		Store:    store.NewLocalStore(),
		Syncer:   syncer,
		Builder:  builder,
		Signaler: signaler,
		Notifier: notified,
		UUID:     uuid.New(),
		metrics:  newMetrics(),
	}

	return c, syncer, builder, signaler, notified
}

func masterPushEvent(repository string) schemas.PushEvent {
	return schemas.PushEvent{
		Repository:    repository,
		Ref:           "refs/heads/master",
		CommitSHA:     "abc123def4567890abc123def4567890abc123de",
		CommitMessage: "fix bug",
	}
}

func TestProcessPushEventSuccess(t *testing.T) {
	c, syncer, builder, signaler, notified := newTestController()
	ctx := context.Background()

	result := c.ProcessPushEvent(ctx, masterPushEvent("org/app"))

	assert.Equal(t, schemas.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "abc123def4567890abc123def4567890abc123de", result.CommitSHA)
	assert.Equal(t, "fix bug", result.CommitMessage)

	// The synchronizer ran against the resolved working copy with the
	// configured key.
	assert.Equal(t, 1, syncer.callCount())
	assert.Equal(t, "/srv/repos/org/app", syncer.lastOpts.WorkingDir)
	assert.Equal(t, "master", syncer.lastOpts.Branch)
	assert.Equal(t, "/root/.ssh/id_rsa", syncer.lastOpts.SSHKeyPath)

	// Binaries defaulted to the repository short name.
	assert.Equal(t, 1, builder.callCount())
	assert.Equal(t, []string{"app"}, builder.lastOpts.Binaries)
	assert.Equal(t, "/srv/repos/org/app", builder.lastOpts.CodeDir)

	// Exactly one restart signal, emitted after the build.
	assert.Equal(t, 1, signaler.calls)
	assert.Equal(t, result.CommitSHA, signaler.sha)

	// Exactly one success notification carrying the commit.
	results := notified.notified()
	require.Len(t, results, 1)
	assert.Equal(t, schemas.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, "abc123d", results[0].ShortSHA())

	stored, found, err := c.Store.GetDeployment(ctx, "org/app")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, schemas.OutcomeSuccess, stored.Outcome)
}

func TestProcessPushEventWrongBranch(t *testing.T) {
	c, syncer, builder, signaler, notified := newTestController()

	event := masterPushEvent("org/app")
	event.Ref = "refs/heads/feature/x"

	result := c.ProcessPushEvent(context.Background(), event)

	assert.Equal(t, schemas.OutcomeSkippedWrongBranch, result.Outcome)

	// Neither the synchronizer nor the build executor ever ran.
	assert.Zero(t, syncer.callCount())
	assert.Zero(t, builder.callCount())
	assert.Zero(t, signaler.calls)

	// Skips are recorded but not notified.
	assert.Empty(t, notified.notified())

	stored, found, err := c.Store.GetDeployment(context.Background(), "org/app")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, schemas.OutcomeSkippedWrongBranch, stored.Outcome)
}

func TestProcessPushEventSkipsWhenLockHeld(t *testing.T) {
	c, syncer, _, _, _ := newTestController()
	ctx := context.Background()

	acquired, err := c.Store.TryLockRepository(ctx, "org/app")
	require.NoError(t, err)
	require.True(t, acquired)

	result := c.ProcessPushEvent(ctx, masterPushEvent("org/app"))

	assert.Equal(t, schemas.OutcomeSkippedConcurrent, result.Outcome)
	assert.Zero(t, syncer.callCount())

	// The in-flight holder's lock was not released by the skipped event.
	acquired, err = c.Store.TryLockRepository(ctx, "org/app")
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestProcessPushEventSyncFailure(t *testing.T) {
	c, syncer, builder, signaler, notified := newTestController()
	ctx := context.Background()

	syncer.err = errors.New("fast-forward merge: not possible")
	syncer.detail = "fatal: Not possible to fast-forward, aborting."

	result := c.ProcessPushEvent(ctx, masterPushEvent("org/app"))

	assert.Equal(t, schemas.OutcomeSyncFailed, result.Outcome)
	assert.Contains(t, result.Detail, "Not possible to fast-forward")
	assert.Zero(t, builder.callCount())
	assert.Zero(t, signaler.calls)

	// Failures are surfaced to the operator.
	results := notified.notified()
	require.Len(t, results, 1)
	assert.Equal(t, schemas.OutcomeSyncFailed, results[0].Outcome)

	// The lock was released despite the failure.
	acquired, err := c.Store.TryLockRepository(ctx, "org/app")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestProcessPushEventBuildFailure(t *testing.T) {
	c, _, builder, signaler, notified := newTestController()
	ctx := context.Background()

	builder.err = errors.New("build tool exited with an error")
	builder.output = "error[E0308]: mismatched types"

	result := c.ProcessPushEvent(ctx, masterPushEvent("org/app"))

	assert.Equal(t, schemas.OutcomeBuildFailed, result.Outcome)
	assert.Contains(t, result.Detail, "mismatched types")

	// A failed build emits zero restart signals.
	assert.Zero(t, signaler.calls)

	results := notified.notified()
	require.Len(t, results, 1)
	assert.Equal(t, schemas.OutcomeBuildFailed, results[0].Outcome)

	acquired, err := c.Store.TryLockRepository(ctx, "org/app")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestProcessPushEventRestartSignalFailureStillSucceeds(t *testing.T) {
	c, _, _, signaler, _ := newTestController()

	signaler.err = errors.New("marker directory is not writable")

	result := c.ProcessPushEvent(context.Background(), masterPushEvent("org/app"))

	// The signal is fire and forget: the deployment outcome does not
	// depend on it being observed.
	assert.Equal(t, schemas.OutcomeSuccess, result.Outcome)
}

func TestConcurrentEventsForSameRepository(t *testing.T) {
	c, syncer, builder, _, _ := newTestController()
	ctx := context.Background()

	syncer.started = make(chan struct{}, 1)
	syncer.release = make(chan struct{})

	first := make(chan schemas.DeploymentResult, 1)

	go func() {
		first <- c.ProcessPushEvent(ctx, masterPushEvent("org/app"))
	}()

	// Wait for the first deployment to be mid-sync, holding the lock.
	<-syncer.started

	second := c.ProcessPushEvent(ctx, masterPushEvent("org/app"))
	assert.Equal(t, schemas.OutcomeSkippedConcurrent, second.Outcome)

	close(syncer.release)

	assert.Equal(t, schemas.OutcomeSuccess, (<-first).Outcome)

	// At most one deployment reached the build step.
	assert.Equal(t, 1, builder.callCount())
}
