// Package supervisor emits the restart signal an external process supervisor
// observes once a deployment has produced fresh binaries.
package supervisor

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Signaler emits an idempotent "rebuild complete" signal. The supervisor is
// autonomous: there is no acknowledgment channel, the signal is fire and
// forget.
type Signaler interface {
	SignalRestart(repository string, binaries []string, commitSHA string) error
}

// FileMarker signals restarts by rewriting one marker file per binary; the
// supervisor watches their modification times. Rewriting an existing marker
// is the idempotent no-op case.
type FileMarker struct {
	// Dir is the directory the markers live in.
	Dir string
}

// NewFileMarker returns a FileMarker writing under dir.
func NewFileMarker(dir string) *FileMarker {
	return &FileMarker{Dir: dir}
}

// SignalRestart writes the deployed commit SHA into each binary's marker
// file. The marker content exists purely for operator inspection; the
// supervisor only cares about the mtime bump.
func (f *FileMarker) SignalRestart(repository string, binaries []string, commitSHA string) error {
	if err := os.MkdirAll(f.Dir, 0o750); err != nil {
		return errors.Wrap(err, "creating the restart marker directory")
	}

	for _, binary := range binaries {
		path := filepath.Join(f.Dir, binary+".restart")

		if err := os.WriteFile(path, []byte(commitSHA+"\n"), 0o640); err != nil {
			return errors.Wrapf(err, "writing restart marker for %s", binary)
		}

		log.WithFields(log.Fields{
			"repository": repository,
			"binary":     binary,
			"marker":     path,
		}).Debug("restart marker updated")
	}

	return nil
}
