package logger

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // e.g. "info", "debug"
	Format string // "text" or "json"
}

// Configure sets up the standard logger according to the provided Config.
func Configure(c Config) (err error) {
	parsedLevel, err := log.ParseLevel(c.Level)
	if err != nil {
		return
	}

	log.SetLevel(parsedLevel)

	switch c.Format {
	case "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format '%s'", c.Format)
	}

	log.SetOutput(os.Stdout)

	return
}
