// Package cli provides the command line interface of the agent.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alexander-jackson/fisherman/internal/cmd"
)

// Run handles the instantiation of the CLI application.
func Run(version string, args []string) {
	err := NewApp(version, time.Now()).Run(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewApp configures the CLI application.
func NewApp(version string, start time.Time) (app *cli.App) {
	app = cli.NewApp()
	app.Name = "fisherman"
	app.Version = version
	app.Usage = "continuous-delivery agent reacting to repository push webhooks"
	app.EnableBashCompletion = true

	app.Flags = cli.FlagsByName{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"FISHERMAN_CONFIG"},
			Usage:   "config `file`",
			Value:   "./fisherman.yml",
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			EnvVars: []string{"FISHERMAN_WEBHOOK_SECRET"},
			Usage:   "override the default webhook `secret`",
		},
		&cli.IntFlag{
			Name:    "port",
			EnvVars: []string{"FISHERMAN_PORT"},
			Usage:   "override the `port` the webhook endpoint listens on",
		},
	}

	app.Action = cmd.ExecWrapper(cmd.Run)

	app.Commands = cli.CommandsByName{
		{
			Name:   "run",
			Usage:  "start the agent",
			Action: cmd.ExecWrapper(cmd.Run),
		},
		{
			Name:   "validate",
			Usage:  "parse and validate the configuration file, then exit",
			Action: cmd.ExecWrapper(cmd.Validate),
		},
	}

	app.Metadata = map[string]interface{}{
		"startTime": start,
	}

	return
}
