package controller

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/alexander-jackson/fisherman/pkg/build"
	"github.com/alexander-jackson/fisherman/pkg/config"
	"github.com/alexander-jackson/fisherman/pkg/git"
	"github.com/alexander-jackson/fisherman/pkg/notifier"
	"github.com/alexander-jackson/fisherman/pkg/store"
	"github.com/alexander-jackson/fisherman/pkg/supervisor"
)

// Syncer fast-forwards a local working copy to a pushed commit.
type Syncer interface {
	Sync(ctx context.Context, opts git.SyncOptions) (string, error)
}

// Builder produces the configured binaries from a synchronized working copy.
type Builder interface {
	Build(ctx context.Context, opts build.Options) (string, error)
}

// Controller holds the collaborators needed to turn authenticated push events
// into deployments.
type Controller struct {
	Config   config.Config
	Store    store.Store
	Syncer   Syncer
	Builder  Builder
	Signaler supervisor.Signaler
	Notifier notifier.Notifier

	// UUID uniquely identifies this agent instance in logs.
	UUID uuid.UUID

	metrics *metrics

	// deployments tracks the accepted push events still being processed.
	deployments sync.WaitGroup
}

// New creates and initializes a Controller from a validated configuration.
func New(cfg config.Config) (*Controller, error) {
	c := &Controller{
		Config:   cfg,
		UUID:     uuid.New(),
		Store:    store.NewLocalStore(),
		Syncer:   git.NewSyncer(),
		Builder:  build.NewExecutor(cfg.Defaults.BuildTool),
		Signaler: supervisor.NewFileMarker(restartDir(cfg.Defaults)),
		Notifier: notifier.Noop{},
		metrics:  newMetrics(),
	}

	if cfg.Defaults.Discord != nil {
		c.Notifier = notifier.NewDiscord(cfg.Defaults.Discord.Token, cfg.Defaults.Discord.ChannelID)
	}

	return c, nil
}

// WaitForDeployments blocks until every accepted deployment has reached its
// terminal outcome. The pipeline timeouts bound how long that can take.
func (c *Controller) WaitForDeployments() {
	c.deployments.Wait()
}

func restartDir(defaults config.GlobalDefaults) string {
	if defaults.RestartDir != "" {
		return defaults.RestartDir
	}

	return filepath.Join(defaults.RepoRoot, ".fisherman", "restart")
}
