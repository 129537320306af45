// Package build runs the configured build tool and verifies it produced the
// expected binary artifacts.
package build

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// artifactSubdir is where the build tool deposits release binaries, relative
// to the code root.
const artifactSubdir = "target/release"

// pipeWaitDelay bounds how long the build tool's output pipes may stay open
// once the tool itself is gone. A descendant that inherited the pipes must
// not keep the caller (and the repository lock it holds) blocked.
const pipeWaitDelay = 2 * time.Second

// Options describe a single build invocation.
type Options struct {
	// CodeDir is the directory the build tool runs in.
	CodeDir string

	// Binaries are the artifact names that must exist afterwards.
	Binaries []string

	// Since is the synchronization timestamp; every artifact must be newer
	// than it. A stale artifact means the build silently skipped it.
	Since time.Time
}

// Executor invokes the build tool configured at startup.
type Executor struct {
	// BuildTool is the path of the build tool binary.
	BuildTool string
}

// NewExecutor returns an Executor for the given build tool path.
func NewExecutor(buildTool string) *Executor {
	return &Executor{BuildTool: buildTool}
}

// Build runs one release build in the code directory and confirms every
// requested binary was freshly produced. There is no partial success: a
// non-zero exit or a single missing artifact fails the whole build. The
// returned string carries the tool's combined output for diagnostics.
func (e *Executor) Build(ctx context.Context, opts Options) (string, error) {
	log.WithFields(log.Fields{
		"code-dir": opts.CodeDir,
		"binaries": opts.Binaries,
	}).Debug("starting release build")

	cmd := exec.CommandContext(ctx, e.BuildTool, "build", "--release")
	cmd.Dir = opts.CodeDir

	// The tool runs in its own process group so that hitting the deadline
	// kills its descendants (rustc, linkers, ..) too, not just the tool.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = pipeWaitDelay

	out, err := cmd.CombinedOutput()
	output := string(out)

	if ctx.Err() == context.DeadlineExceeded {
		return output, errors.Wrap(ctx.Err(), "running the build tool")
	}

	// ErrWaitDelay means the tool exited cleanly but a descendant still held
	// its output pipe open; the artifact check below decides success.
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		return output, errors.Wrap(err, "build tool exited with an error")
	}

	if err := verifyArtifacts(opts); err != nil {
		return output, err
	}

	return output, nil
}

// verifyArtifacts checks that each binary exists under the artifact directory
// and is newer than the synchronization timestamp.
func verifyArtifacts(opts Options) error {
	for _, binary := range opts.Binaries {
		path := filepath.Join(opts.CodeDir, filepath.FromSlash(artifactSubdir), binary)

		info, err := os.Stat(path)
		if err != nil {
			return errors.Errorf("expected artifact %s was not produced", path)
		}

		if info.ModTime().Before(opts.Since) {
			return errors.Errorf("artifact %s predates the synchronization, the build did not refresh it", path)
		}
	}

	return nil
}
