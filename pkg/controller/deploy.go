package controller

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alexander-jackson/fisherman/pkg/build"
	"github.com/alexander-jackson/fisherman/pkg/config"
	"github.com/alexander-jackson/fisherman/pkg/git"
	"github.com/alexander-jackson/fisherman/pkg/schemas"
)

// Hard ceilings on the blocking pipeline steps. They are deliberately not
// configurable: the lock over a repository must be released eventually even
// if a subprocess hangs.
const (
	syncTimeout  = 5 * time.Minute
	buildTimeout = 15 * time.Minute
)

// detailLimit bounds how much subprocess output is carried on a result.
const detailLimit = 2000

// deploymentState names the coordinator's position in the pipeline, used for
// logging. Transitions are strictly linear: any failure moves directly to
// done carrying that state's error.
type deploymentState string

const (
	stateLocked     deploymentState = "locked"
	stateSyncing    deploymentState = "syncing"
	stateBuilding   deploymentState = "building"
	stateRestarting deploymentState = "restarting"
	stateDone       deploymentState = "done"
)

// ProcessPushEvent runs the full deployment decision for one authenticated
// push event and returns its terminal result. It is safe to call from
// multiple goroutines: per-repository mutual exclusion is enforced through
// the store's lock.
func (c *Controller) ProcessPushEvent(ctx context.Context, event schemas.PushEvent) schemas.DeploymentResult {
	profile := c.Config.Resolve(event.Repository)

	logger := log.WithContext(ctx).WithFields(log.Fields{
		"repository": event.Repository,
		"ref":        event.Ref,
		"commit-sha": event.CommitSHA,
	})

	if !event.TargetsBranch(profile.Branch) {
		logger.WithField("tracked-branch", profile.Branch).
			Debug("push does not target the tracked branch, skipping")

		result := schemas.NewDeploymentResult(event.Repository, schemas.OutcomeSkippedWrongBranch)
		c.finalize(ctx, result)

		return result
	}

	result := c.deploy(ctx, logger, profile, event)
	c.finalize(ctx, result)

	return result
}

// deploy runs Locked -> Syncing -> Building -> Restarting -> Done for one
// event, holding the repository lock for the whole critical section.
func (c *Controller) deploy(ctx context.Context, logger *log.Entry, profile config.RepositoryProfile, event schemas.PushEvent) schemas.DeploymentResult {
	result := schemas.NewDeploymentResult(event.Repository, schemas.OutcomeSuccess)
	result.CommitSHA = event.CommitSHA
	result.CommitMessage = event.CommitMessage

	acquired, err := c.Store.TryLockRepository(ctx, event.Repository)
	if err != nil || !acquired {
		if err != nil {
			logger.WithError(err).Error("acquiring the repository lock")
		} else {
			logger.Info("a deployment is already in flight for this repository, discarding the event")
		}

		result.Outcome = schemas.OutcomeSkippedConcurrent

		return result
	}

	// Exactly one release, on every path out of the critical section.
	defer func() {
		if err := c.Store.UnlockRepository(ctx, event.Repository); err != nil {
			logger.WithError(err).Error("releasing the repository lock")
		}
	}()

	logger.WithField("state", stateLocked).Debug("repository lock acquired")

	started := time.Now()

	logger.WithField("state", stateSyncing).Info("synchronizing the working copy")

	syncCtx, cancelSync := context.WithTimeout(ctx, syncTimeout)
	defer cancelSync()

	detail, err := c.Syncer.Sync(syncCtx, git.SyncOptions{
		WorkingDir: profile.WorkingDir(),
		Branch:     profile.Branch,
		CommitSHA:  event.CommitSHA,
		SSHKeyPath: profile.SSHPrivateKey,
	})
	if err != nil {
		logger.WithError(err).Error("synchronizing the working copy")

		result.Outcome = schemas.OutcomeSyncFailed
		result.Detail = failureDetail(err, detail)
		result.Duration = time.Since(started)

		return result
	}

	syncedAt := time.Now()

	logger.WithField("state", stateBuilding).Info("building the project")

	buildCtx, cancelBuild := context.WithTimeout(ctx, buildTimeout)
	defer cancelBuild()

	output, err := c.Builder.Build(buildCtx, build.Options{
		CodeDir:  profile.CodeDir(),
		Binaries: profile.Binaries,
		Since:    syncedAt,
	})
	if err != nil {
		logger.WithError(err).Error("building the project")

		result.Outcome = schemas.OutcomeBuildFailed
		result.Detail = failureDetail(err, output)
		result.Duration = time.Since(started)

		return result
	}

	// Artifacts are confirmed present at this point; the restart signal is
	// fire and forget, so a failure to emit it is logged but does not fail
	// the deployment.
	logger.WithField("state", stateRestarting).Info("signalling the process supervisor")

	if err := c.Signaler.SignalRestart(event.Repository, profile.Binaries, event.CommitSHA); err != nil {
		logger.WithError(err).Warn("emitting the restart signal")
	}

	result.Duration = time.Since(started)

	logger.WithFields(log.Fields{
		"state":    stateDone,
		"duration": result.Duration,
	}).Info("deployment complete")

	return result
}

// finalize records a terminal result and dispatches the best-effort
// notification for outcomes worth telling an operator about.
func (c *Controller) finalize(ctx context.Context, result schemas.DeploymentResult) {
	if err := c.Store.SetDeployment(ctx, result); err != nil {
		log.WithContext(ctx).
			WithField("repository", result.Repository).
			WithError(err).
			Error("recording the deployment result")
	}

	c.metrics.deployments.WithLabelValues(result.Repository, string(result.Outcome)).Inc()

	if result.Duration > 0 {
		c.metrics.deploymentDuration.WithLabelValues(result.Repository).Observe(result.Duration.Seconds())
	}

	// Skips are expected under normal operation and would only be noise in
	// the channel.
	if result.Outcome.IsSkip() || result.Outcome == schemas.OutcomeMalformedPayload {
		return
	}

	if err := c.Notifier.Notify(ctx, result); err != nil {
		c.metrics.notificationFailures.Inc()

		log.WithContext(ctx).
			WithField("repository", result.Repository).
			WithError(err).
			Warn("delivering the outcome notification")
	}
}

// failureDetail prefers captured subprocess output over the bare error and
// keeps the tail within the detail limit.
func failureDetail(err error, output string) string {
	detail := output
	if detail == "" {
		detail = err.Error()
	}

	if len(detail) > detailLimit {
		detail = detail[len(detail)-detailLimit:]
	}

	return detail
}
