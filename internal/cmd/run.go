package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/alexander-jackson/fisherman/pkg/controller"
)

// Run launches the agent.
func Run(cliCtx *cli.Context) (int, error) {
	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	c, err := controller.New(cfg)
	if err != nil {
		return 1, err
	}

	// Setup channel to listen for OS termination signals for graceful
	// shutdown.
	onShutdown := make(chan os.Signal, 1)
	signal.Notify(onShutdown, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)

	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Defaults.Port),
		Handler: mux,
	}

	health := c.HealthCheckHandler()
	mux.HandleFunc("/health/live", health.LiveEndpoint)
	mux.HandleFunc("/health/ready", health.ReadyEndpoint)

	mux.HandleFunc("/metrics", c.MetricsHandler)
	mux.HandleFunc("/deployments", c.DeploymentsHandler)
	mux.HandleFunc("/webhook", c.WebhookHandler)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal()
		}
	}()

	log.WithFields(
		log.Fields{
			"listen-address":  srv.Addr,
			"controller-uuid": c.UUID,
		},
	).Info("http server started, listening for incoming webhooks")

	<-onShutdown

	log.Info("received signal, attempting to gracefully exit..")

	httpServerContext, forceHTTPServerShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer forceHTTPServerShutdown()

	if err := srv.Shutdown(httpServerContext); err != nil {
		return 1, err
	}

	// In-flight deployments must not be orphaned mid-sync or mid-build: the
	// pipeline timeouts bound how long this wait can take.
	log.Info("waiting for in-flight deployments to finish..")
	c.WaitForDeployments()

	log.Info("stopped!")

	return 0, nil
}
