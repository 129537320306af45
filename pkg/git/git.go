// Package git synchronizes local working copies with their remotes by
// invoking the git binary. Only fast-forward updates are ever attempted: a
// diverged or dirty working copy is surfaced to the operator, never forced.
package git

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Env vars that are allowed to be inherited from the os.
var allowedEnvVars = []string{"HOME", "PATH", "http_proxy", "https_proxy", "no_proxy"}

// pipeWaitDelay bounds how long git's output pipes may stay open once git
// itself is gone. Transport helpers like ssh inherit the pipes and must not
// keep the caller blocked past the deadline.
const pipeWaitDelay = 2 * time.Second

// SyncOptions describes one synchronization of a working copy to a pushed
// commit.
type SyncOptions struct {
	// WorkingDir is the local clone, expected to already exist.
	WorkingDir string

	// Branch is the tracked branch being fast-forwarded.
	Branch string

	// CommitSHA is the pushed head commit the branch must end up at.
	CommitSHA string

	// SSHKeyPath is the private key used for transport authentication.
	SSHKeyPath string
}

// Syncer performs fetch and fast-forward merge operations against local
// working copies.
type Syncer struct{}

// NewSyncer returns a Syncer.
func NewSyncer() *Syncer {
	return &Syncer{}
}

// Sync fetches the tracked branch from origin and fast-forwards the working
// copy to the pushed commit. The returned string carries diagnostic output
// suitable for attaching to a failure result; it is empty on success.
//
// Initial clones are an external precondition: a missing working copy is an
// error, not a trigger for cloning.
func (s *Syncer) Sync(ctx context.Context, opts SyncOptions) (string, error) {
	if _, err := os.Stat(filepath.Join(opts.WorkingDir, ".git")); err != nil {
		return "", errors.Errorf("no local clone at %s", opts.WorkingDir)
	}

	cfg := gitCmdConfig{
		dir: opts.WorkingDir,
		env: []string{sshCommandEnv(opts.SSHKeyPath)},
	}

	// A working copy with local modifications would make the fast-forward
	// ambiguous; refuse to touch it.
	status := &bytes.Buffer{}

	if err := execGitCmd(ctx, []string{"status", "--porcelain"}, gitCmdConfig{dir: opts.WorkingDir, out: status}); err != nil {
		return "", errors.Wrap(err, "checking working copy state")
	}

	if dirty := strings.TrimSpace(status.String()); dirty != "" {
		return dirty, errors.Errorf("working copy at %s has local changes", opts.WorkingDir)
	}

	log.WithFields(log.Fields{
		"working-dir": opts.WorkingDir,
		"branch":      opts.Branch,
		"commit-sha":  opts.CommitSHA,
	}).Debug("fetching from origin")

	if err := execGitCmd(ctx, []string{"fetch", "origin", opts.Branch}, cfg); err != nil {
		return err.Error(), errors.Wrap(err, "git fetch")
	}

	// The pushed commit must have arrived with the fetch; a stale or
	// fabricated SHA fails here rather than mid-merge.
	if err := execGitCmd(ctx, []string{"cat-file", "-e", opts.CommitSHA + "^{commit}"}, cfg); err != nil {
		return err.Error(), errors.Errorf("commit %s is not present after fetching", opts.CommitSHA)
	}

	if err := execGitCmd(ctx, []string{"checkout", opts.Branch}, cfg); err != nil {
		return err.Error(), errors.Wrap(err, "git checkout")
	}

	if err := execGitCmd(ctx, []string{"merge", "--ff-only", opts.CommitSHA}, cfg); err != nil {
		return err.Error(), errors.Wrap(err, "fast-forward merge")
	}

	return "", nil
}

// HeadRevision returns the commit the working copy currently points at.
func (s *Syncer) HeadRevision(ctx context.Context, workingDir string) (string, error) {
	out := &bytes.Buffer{}

	if err := execGitCmd(ctx, []string{"rev-parse", "HEAD"}, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return "", err
	}

	return strings.TrimSpace(out.String()), nil
}

// sshCommandEnv pins git transport authentication to the configured key,
// ignoring whatever identities an ssh-agent may offer.
func sshCommandEnv(keyPath string) string {
	return fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", keyPath)
}

type gitCmdConfig struct {
	dir string
	env []string
	out io.Writer
}

func execGitCmd(ctx context.Context, args []string, config gitCmdConfig) error {
	c := exec.CommandContext(ctx, "git", args...)

	if config.dir != "" {
		c.Dir = config.dir
	}

	c.Env = append(env(), config.env...)
	c.Stdout = io.Discard

	if config.out != nil {
		c.Stdout = config.out
	}

	errOut := &bytes.Buffer{}
	c.Stderr = errOut

	// git runs in its own process group so that hitting the deadline kills
	// its descendants too, not just the git process itself.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
	c.WaitDelay = pipeWaitDelay

	err := c.Run()
	if errors.Is(err, exec.ErrWaitDelay) {
		// git exited cleanly, a descendant merely held the pipe open.
		err = nil
	}

	if err != nil {
		if msg := strings.TrimSpace(errOut.String()); msg != "" {
			err = errors.New(msg)
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ctx.Err(), fmt.Sprintf("running git command: git %v", args))
	}

	return err
}

func env() []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}

	for _, name := range allowedEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	return env
}
