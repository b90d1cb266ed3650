package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSessionFailureRate AlertType = "session_failure_rate"
	AlertBreakerOpen        AlertType = "breaker_open"
	AlertCostOverrun        AlertType = "cost_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Session failure rate. Skip tiny samples.
	if snap.SessionsTotal >= 5 && snap.SessionFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSessionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Session failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d total in last %dh)",
				snap.SessionFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.SessionsFailed, snap.SessionsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.SessionFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.SessionsFailed,
				"total":        snap.SessionsTotal,
			},
			Timestamp: now,
		})
	}

	// Open circuit breakers.
	if len(snap.OpenBreakers) > 0 {
		open := append([]string(nil), snap.OpenBreakers...)
		sort.Strings(open)
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "critical",
			Message: fmt.Sprintf(
				"%d circuit breaker(s) open: %s",
				len(open), strings.Join(open, ", "),
			),
			Details: map[string]any{
				"open_breakers": open,
			},
			Timestamp: now,
		})
	}

	// Cost overrun.
	if a.cfg.CostThresholdUSD > 0 && snap.TotalCostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"API cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.TotalCostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":       snap.TotalCostUSD,
				"threshold_usd":  a.cfg.CostThresholdUSD,
				"sessions_total": snap.SessionsTotal,
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
