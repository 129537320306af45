package schemas

import (
	"time"
)

const (
	// OutcomeSuccess means the repository was synchronized, every binary was
	// rebuilt and the restart signal was emitted.
	OutcomeSuccess Outcome = "success"

	// OutcomeSkippedWrongBranch means the push targeted a branch other than
	// the tracked one. This is a normal terminal outcome, not an error.
	OutcomeSkippedWrongBranch Outcome = "skipped-wrong-branch"

	// OutcomeSkippedConcurrent means another deployment for the same
	// repository was already in flight and this event was discarded.
	OutcomeSkippedConcurrent Outcome = "skipped-concurrent"

	// OutcomeMalformedPayload means the webhook body authenticated correctly
	// but did not carry the fields required to act on it.
	OutcomeMalformedPayload Outcome = "malformed-payload"

	// OutcomeSyncFailed means fetching or fast-forwarding the local working
	// copy failed.
	OutcomeSyncFailed Outcome = "sync-failed"

	// OutcomeBuildFailed means the build tool exited non-zero or an expected
	// binary artifact was missing afterwards.
	OutcomeBuildFailed Outcome = "build-failed"
)

// Outcome is the terminal state of a processed push event.
type Outcome string

// IsSkip returns whether the outcome is an expected skip rather than a
// deployment attempt that ran.
func (o Outcome) IsSkip() bool {
	return o == OutcomeSkippedWrongBranch || o == OutcomeSkippedConcurrent
}

// IsFailure returns whether the outcome represents a deployment attempt that
// ran and failed.
func (o Outcome) IsFailure() bool {
	return o == OutcomeSyncFailed || o == OutcomeBuildFailed || o == OutcomeMalformedPayload
}

// DeploymentResult is produced exactly once per processed push event and is
// the unit handed to the store and the notifier.
type DeploymentResult struct {
	Repository    string        `json:"repository"`
	Outcome       Outcome       `json:"outcome"`
	CommitSHA     string        `json:"commit_sha,omitempty"`
	CommitMessage string        `json:"commit_message,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	FinishedAt    time.Time     `json:"finished_at"`
	Duration      time.Duration `json:"duration"`
}

// NewDeploymentResult returns a DeploymentResult for the given repository and
// outcome, stamped with the current time.
func NewDeploymentResult(repository string, outcome Outcome) DeploymentResult {
	return DeploymentResult{
		Repository: repository,
		Outcome:    outcome,
		FinishedAt: time.Now().UTC(),
	}
}

// ShortSHA returns the conventional 7 character abbreviation of the commit
// SHA, or the full value when it is already shorter.
func (dr DeploymentResult) ShortSHA() string {
	if len(dr.CommitSHA) > 7 {
		return dr.CommitSHA[:7]
	}

	return dr.CommitSHA
}
