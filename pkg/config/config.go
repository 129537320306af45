package config

import (
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// validate is a global validator instance used to validate struct fields based on tags.
var validate *validator.Validate

// Config holds all the configuration parameters necessary for properly configuring the agent.
type Config struct {
	// Log holds configuration related to logging.
	Log Log `yaml:"log"`

	// Defaults contains the global settings every repository inherits.
	Defaults GlobalDefaults `yaml:"default"`

	// Specific maps "owner/repo" identities to their overrides. Any field
	// left unset in an override inherits from Defaults.
	Specific map[string]RepositoryOverride `yaml:"specific"`
}

// Log holds configuration settings related to runtime logging.
type Log struct {
	// Level sets the logging verbosity level.
	// Valid values: trace, debug, info, warning, error, fatal, panic.
	// Defaults to "info".
	Level string `default:"info" validate:"required,oneof=trace debug info warning error fatal panic"`

	// Format sets the output format of the logs, "text" or "json".
	Format string `default:"text" validate:"oneof=text json"`
}

// GlobalDefaults are the process-wide deployment settings. They are loaded
// once at startup and are immutable for the lifetime of the process.
type GlobalDefaults struct {
	// SSHPrivateKey is the path of the key used to authenticate git
	// transport against the remotes.
	SSHPrivateKey string `validate:"required" yaml:"ssh_private_key"`

	// RepoRoot is the directory containing the local working copies, one
	// per repository at <repo_root>/<owner>/<repo>.
	RepoRoot string `validate:"required" yaml:"repo_root"`

	// BuildTool is the path of the build tool binary (e.g. cargo).
	BuildTool string `validate:"required" yaml:"build_tool"`

	// Secret authenticates webhook deliveries for repositories without a
	// specific secret of their own.
	Secret string `validate:"required" yaml:"secret"`

	// Port is the port the webhook endpoint listens on.
	Port int `default:"5000" validate:"gte=1,lte=65535" yaml:"port"`

	// RestartDir is where restart markers are written for the process
	// supervisor to observe. Defaults to <repo_root>/.fisherman/restart.
	RestartDir string `yaml:"restart_dir"`

	// Discord optionally configures outcome notifications.
	Discord *Discord `yaml:"discord,omitempty"`
}

// Discord holds the credentials used to post deployment outcomes to a
// Discord channel.
type Discord struct {
	Token     string `validate:"required" yaml:"token"`
	ChannelID string `validate:"required" yaml:"channel_id"`
}

// RepositoryOverride holds the per-repository settings which take precedence
// over GlobalDefaults.
type RepositoryOverride struct {
	// Secret replaces the default webhook secret for this repository.
	Secret string `yaml:"secret"`

	// Branch is the single branch whose pushes trigger a deployment.
	// Defaults to "master".
	Branch string `yaml:"branch"`

	// CodeRoot is the subpath within the working copy where the build tool
	// runs, e.g. "/backend". Defaults to the repository root.
	CodeRoot string `yaml:"code_root"`

	// Binaries are the artifacts the build must produce. Defaults to the
	// repository short name.
	Binaries []string `yaml:"binaries"`
}

// UnmarshalYAML implements custom YAML unmarshaling for the Config struct so
// that defaults are applied before the document is decoded over them.
func (c *Config) UnmarshalYAML(v *yaml.Node) (err error) {
	type localConfig struct {
		Log      Log                           `yaml:"log"`
		Defaults GlobalDefaults                `yaml:"default"`
		Specific map[string]RepositoryOverride `yaml:"specific"`
	}

	_cfg := localConfig{}
	defaults.MustSet(&_cfg)

	if err = v.Decode(&_cfg); err != nil {
		return
	}

	c.Log = _cfg.Log
	c.Defaults = _cfg.Defaults
	c.Specific = _cfg.Specific

	return
}

// ToYAML serializes the Config object into a YAML formatted string with
// secrets masked, for operator-facing output.
func (c Config) ToYAML() string {
	c.Defaults.Secret = "*******"

	specific := make(map[string]RepositoryOverride, len(c.Specific))

	for name, override := range c.Specific {
		if override.Secret != "" {
			override.Secret = "*******"
		}

		specific[name] = override
	}

	c.Specific = specific

	if c.Defaults.Discord != nil {
		discord := *c.Defaults.Discord
		discord.Token = "*******"
		c.Defaults.Discord = &discord
	}

	b, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}

	return string(b)
}

// Validate checks if the Config struct's fields are valid according to the
// validation rules defined via struct tags. An invalid configuration is a
// startup-time fatal condition, never a per-event error.
func (c Config) Validate() error {
	if validate == nil {
		validate = validator.New()
	}

	return validate.Struct(c)
}

// CheckForPotentialMistakes logs warnings for configuration shapes which are
// accepted but usually unintended.
func (c Config) CheckForPotentialMistakes() {
	for name, override := range c.Specific {
		if !strings.Contains(name, "/") {
			log.WithField("repository", name).
				Warn("repository identity is not of the form owner/repo, it will never match a webhook")
		}

		if override.Secret == "" {
			log.WithField("repository", name).
				Debug("repository has no specific secret, the default secret applies")
		}
	}
}

// New returns a new Config instance with default parameters set.
func New() (c Config) {
	defaults.MustSet(&c)

	return
}
