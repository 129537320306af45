package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Validate checks whether the agent configuration is valid without starting
// the server.
func Validate(cliCtx *cli.Context) (int, error) {
	cfg, err := configure(cliCtx)
	if err != nil {
		log.WithError(err).Error("configuration is invalid")

		return 1, err
	}

	fmt.Print(cfg.ToYAML())

	log.Debug("configuration is valid")

	return 0, nil
}
