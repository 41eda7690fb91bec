package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCommandFailure    AlertType = "command_failure"
	AlertMaxRetriesReached AlertType = "max_retries_reached"
	AlertIngestFailures    AlertType = "ingest_failures"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a BatchSnapshot and sends alerts via webhook.
type Alerter struct {
	cfg    config.AlertsConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given alerts config.
func NewAlerter(cfg config.AlertsConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool {
	return a.cfg.WebhookURL != ""
}

// CommandFailure builds the alert for a command that exited with err.
func CommandFailure(command, workflow, batchID string, err error) Alert {
	return Alert{
		Type:     AlertCommandFailure,
		Severity: "high",
		Message:  fmt.Sprintf("dsc %s failed for %s batch %q: %v", command, workflow, batchID, err),
		Details: map[string]any{
			"command":  command,
			"workflow": workflow,
			"batch_id": batchID,
		},
		Timestamp: time.Now().UTC(),
	}
}

// Evaluate checks the snapshot and returns any alerts.
func (a *Alerter) Evaluate(snap *BatchSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.MaxRetriesReached > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertMaxRetriesReached,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d item(s) in %s batch %q reached the ingest retry threshold",
				snap.MaxRetriesReached, snap.Workflow, snap.BatchID,
			),
			Details: map[string]any{
				"batch_id": snap.BatchID,
				"items":    snap.Retired,
			},
			Timestamp: now,
		})
	}

	if snap.IngestFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertIngestFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d of %d item(s) in %s batch %q failed ingest",
				snap.IngestFailed, snap.Total, snap.Workflow, snap.BatchID,
			),
			Details: map[string]any{
				"batch_id":      snap.BatchID,
				"ingest_failed": snap.IngestFailed,
				"total":         snap.Total,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
