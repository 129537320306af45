// Package notifier reports deployment outcomes to a Discord channel on a
// best-effort basis. Delivery failures are logged by the caller, never
// retried, and never influence the deployment outcome itself.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/alexander-jackson/fisherman/pkg/schemas"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Notifier dispatches a terminal DeploymentResult exactly once.
type Notifier interface {
	Notify(ctx context.Context, result schemas.DeploymentResult) error
}

// Noop is the Notifier used when no endpoint is configured.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(_ context.Context, _ schemas.DeploymentResult) error {
	return nil
}

// Discord posts outcome messages to a channel using a bot token.
type Discord struct {
	token     string
	channelID string

	// BaseURL points at the Discord API and is overridable for tests.
	BaseURL string

	client *http.Client
}

// NewDiscord returns a Discord notifier for the given bot token and channel.
func NewDiscord(token, channelID string) *Discord {
	return &Discord{
		token:     token,
		channelID: channelID,
		BaseURL:   defaultBaseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify sends one message describing the result to the configured channel.
func (d *Discord) Notify(ctx context.Context, result schemas.DeploymentResult) error {
	payload, err := json.Marshal(map[string]string{
		"content": FormatMessage(result),
	})
	if err != nil {
		return errors.Wrap(err, "encoding notification payload")
	}

	url := fmt.Sprintf("%s/channels/%s/messages", d.BaseURL, d.channelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building notification request")
	}

	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "dispatching notification")
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return errors.Errorf("notification endpoint returned %d: %s", resp.StatusCode, body)
	}

	return nil
}

// FormatMessage renders the human-readable outcome line posted to the
// channel.
func FormatMessage(result schemas.DeploymentResult) string {
	switch result.Outcome {
	case schemas.OutcomeSuccess:
		return fmt.Sprintf("deployed %s at `%s`: %s", result.Repository, result.ShortSHA(), result.CommitMessage)
	default:
		msg := fmt.Sprintf("deployment of %s failed (%s)", result.Repository, result.Outcome)
		if result.Detail != "" {
			msg = fmt.Sprintf("%s: %s", msg, result.Detail)
		}

		return msg
	}
}
