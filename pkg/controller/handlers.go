package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/heptiolabs/healthcheck"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/alexander-jackson/fisherman/pkg/schemas"
	"github.com/alexander-jackson/fisherman/pkg/signature"
)

// maxBodySize caps webhook payloads; GitHub's own limit is 25MB but push
// event bodies are far smaller.
const maxBodySize = 1 << 20

// HealthCheckHandler creates and returns a health check handler for the
// controller.
func (c *Controller) HealthCheckHandler() (h healthcheck.Handler) {
	h = healthcheck.NewHandler()

	h.AddReadinessCheck("repository-root", func() error {
		if _, err := os.Stat(c.Config.Defaults.RepoRoot); err != nil {
			return errors.Wrap(err, "repository root is not accessible")
		}

		return nil
	})

	return
}

// MetricsHandler serves the /metrics HTTP endpoint exposing the agent's
// Prometheus metrics.
func (c *Controller) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(c.metrics.registry, promhttp.HandlerOpts{
		Registry: c.metrics.registry,
	}).ServeHTTP(w, r)
}

// DeploymentsHandler serves the recent terminal deployment results as JSON,
// most recent first.
func (c *Controller) DeploymentsHandler(w http.ResponseWriter, r *http.Request) {
	results, err := c.Store.Deployments(r.Context())
	if err != nil {
		log.WithContext(r.Context()).
			WithError(err).
			Error("reading deployments from the store")
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(results); err != nil {
		log.WithContext(r.Context()).
			WithError(err).
			Warn("encoding the deployments response")
	}
}

// WebhookHandler handles inbound GitHub webhook HTTP requests. Signature
// verification happens before anything else can have a side effect: an
// unauthenticated request never touches the filesystem and never forks a
// process.
func (c *Controller) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")

	// Metric labels come from a fixed set: the raw header value is sender
	// controlled and only ever appears in logs.
	metricEventType := eventType
	switch eventType {
	case "ping", "push":
	default:
		metricEventType = "other"
	}

	logger := log.WithFields(log.Fields{
		"ip-address":  r.RemoteAddr,
		"user-agent":  r.UserAgent(),
		"delivery-id": r.Header.Get("X-GitHub-Delivery"),
		"event-type":  eventType,
	})

	logger.Debug("webhook request received")

	// An empty body is not special-cased here: it flows through signature
	// verification like any other and only then fails validation.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		logger.WithError(err).Warn("unable to read body of a received webhook")
		c.rejectWebhook(w, metricEventType, "unreadable", http.StatusBadRequest, "unable to read body")

		return
	}

	// The secret depends on which repository the payload claims to be for.
	// A body too broken to name a repository is checked against the default
	// secret so that authentication still runs before any parse error is
	// revealed.
	secret := c.Config.Defaults.Secret

	repository, identityErr := schemas.ParseRepositoryIdentity(body)
	if identityErr == nil {
		secret = c.Config.Resolve(repository).Secret
	}

	if err := signature.Verify(body, r.Header.Get(signature.Header), secret); err != nil {
		logger.WithError(err).Debug("invalid signature provided for webhook request")
		c.rejectWebhook(w, metricEventType, "auth-failed", http.StatusUnauthorized, "signature verification failed")

		return
	}

	switch eventType {
	case "ping":
		logger.WithField("repository", repository).Info("received a ping webhook")
		c.metrics.webhooksReceived.WithLabelValues(eventType, "accepted").Inc()
		w.WriteHeader(http.StatusOK)
	case "push":
		c.acceptPushWebhook(w, logger, body, repository)
	default:
		logger.Warn("received unsupported webhook event type")
		c.rejectWebhook(w, metricEventType, "unsupported", http.StatusBadRequest, "unsupported event type")
	}
}

// acceptPushWebhook validates an authenticated push payload and dispatches
// its processing, responding before the deployment pipeline runs.
func (c *Controller) acceptPushWebhook(w http.ResponseWriter, logger *log.Entry, body []byte, repository string) {
	event, err := schemas.NewPushEvent(body)
	if err != nil {
		logger.WithError(err).Warn("authenticated push payload is malformed")

		if repository != "" {
			result := schemas.NewDeploymentResult(repository, schemas.OutcomeMalformedPayload)
			result.Detail = err.Error()
			c.finalize(context.Background(), result)
		}

		c.rejectWebhook(w, "push", "malformed", http.StatusBadRequest, "malformed push payload")

		return
	}

	c.metrics.webhooksReceived.WithLabelValues("push", "accepted").Inc()

	// Process on a background context: the deployment must outlive the
	// request and run to completion once started. The wait group lets a
	// shutdown drain in-flight deployments before the process exits.
	c.deployments.Add(1)

	go func() {
		defer c.deployments.Done()

		c.ProcessPushEvent(context.Background(), event)
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (c *Controller) rejectWebhook(w http.ResponseWriter, eventType, status string, code int, msg string) {
	c.metrics.webhooksReceived.WithLabelValues(eventType, status).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, "{\"error\": %q}", msg)
}
