package cmd

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	logger "github.com/alexander-jackson/fisherman/internal/logging"
	"github.com/alexander-jackson/fisherman/pkg/config"
)

var start time.Time

// configure loads and validates configuration from the CLI context and sets
// up logging. It returns a populated config object or an error.
func configure(ctx *cli.Context) (cfg config.Config, err error) {
	start = ctx.App.Metadata["startTime"].(time.Time)

	assertStringVariableDefined(ctx, "config")

	cfg, err = config.ParseFile(ctx.String("config"))
	if err != nil {
		return
	}

	configCliOverrides(ctx, &cfg)

	// An incomplete configuration is fatal here, at startup, never at
	// event-processing time.
	if err = cfg.Validate(); err != nil {
		return
	}

	if err = logger.Configure(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		return
	}

	cfg.CheckForPotentialMistakes()

	log.WithFields(
		log.Fields{
			"repo-root":             cfg.Defaults.RepoRoot,
			"build-tool":            cfg.Defaults.BuildTool,
			"port":                  cfg.Defaults.Port,
			"specific-repositories": len(cfg.Specific),
			"discord-configured":    cfg.Defaults.Discord != nil,
		},
	).Info("configured")

	return
}

// configCliOverrides overrides configuration fields with command-line flags
// if present.
func configCliOverrides(ctx *cli.Context, cfg *config.Config) {
	if ctx.String("webhook-secret") != "" {
		cfg.Defaults.Secret = ctx.String("webhook-secret")
	}

	if ctx.Int("port") != 0 {
		cfg.Defaults.Port = ctx.Int("port")
	}
}

// exit logs the execution time and error (if any), then returns a CLI exit
// code.
func exit(exitCode int, err error) cli.ExitCoder {
	defer log.WithFields(
		log.Fields{
			"execution-time": time.Since(start),
		},
	).Debug("exited..")

	if err != nil {
		log.WithError(err).Error()
	}

	return cli.Exit("", exitCode)
}

// ExecWrapper gracefully logs and exits our `run` functions.
func ExecWrapper(f func(ctx *cli.Context) (int, error)) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		return exit(f(ctx))
	}
}

// assertStringVariableDefined ensures a required string flag is set. If not,
// it prints help and exits the program.
func assertStringVariableDefined(ctx *cli.Context, k string) {
	if len(ctx.String(k)) == 0 {
		_ = cli.ShowAppHelp(ctx)

		log.Errorf("'--%s' must be set!", k)
		os.Exit(2)
	}
}
