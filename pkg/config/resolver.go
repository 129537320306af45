package config

import (
	"path/filepath"
	"strings"

	"dario.cat/mergo"
)

// DefaultBranch is the tracked branch used when an override does not name one.
const DefaultBranch = "master"

// RepositoryProfile is the fully-resolved merge of GlobalDefaults and a
// RepositoryOverride for a single repository. Every field is populated after
// resolution; resolution itself cannot fail.
type RepositoryProfile struct {
	// Repository is the "owner/repo" identity the profile was resolved for.
	Repository string

	Secret   string
	Branch   string
	CodeRoot string
	Binaries []string

	SSHPrivateKey string
	RepoRoot      string
	BuildTool     string
}

// Resolve produces the RepositoryProfile for a repository identity. Fields
// set in the matching override win; everything else inherits from
// GlobalDefaults. An identity with no override resolves to the defaults with
// the binary list falling back to the repository short name. Resolution
// never fails: a missing override is not an error.
func (c Config) Resolve(repository string) RepositoryProfile {
	profile := RepositoryProfile{
		Repository:    repository,
		Secret:        c.Defaults.Secret,
		Branch:        DefaultBranch,
		Binaries:      []string{shortName(repository)},
		SSHPrivateKey: c.Defaults.SSHPrivateKey,
		RepoRoot:      c.Defaults.RepoRoot,
		BuildTool:     c.Defaults.BuildTool,
	}

	override, found := c.Specific[repository]
	if !found {
		return profile
	}

	// Merge is field-wise: only the fields present in the override replace
	// the inherited values, never the whole record. Merge only errors on
	// non-struct input, which cannot happen here.
	_ = mergo.Merge(&profile, RepositoryProfile{
		Secret:   override.Secret,
		Branch:   override.Branch,
		CodeRoot: override.CodeRoot,
		Binaries: override.Binaries,
	}, mergo.WithOverride)

	return profile
}

// WorkingDir returns the path of the local working copy for the profile's
// repository.
func (p RepositoryProfile) WorkingDir() string {
	return filepath.Join(p.RepoRoot, filepath.FromSlash(p.Repository))
}

// CodeDir returns the directory the build tool runs in, accounting for an
// optional code root within the working copy.
func (p RepositoryProfile) CodeDir() string {
	return filepath.Join(p.WorkingDir(), filepath.FromSlash(strings.TrimPrefix(p.CodeRoot, "/")))
}

func shortName(repository string) string {
	if _, name, found := strings.Cut(repository, "/"); found {
		return name
	}

	return repository
}
