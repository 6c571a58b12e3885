package monitor

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Alert & Webhook System
//
// Structured alert emission for campus security operations. Alerts are:
//   1. Broadcast via WebSocket to connected dashboards
//   2. Pushed to registered webhook endpoints (Slack, ticketing, SIEM)
//   3. Stored in memory for recent alert history
//
// Webhook payloads follow a common JSON format compatible with Slack
// incoming webhooks and generic HTTP receivers.

// Alert is one dashboard-facing alert envelope
type Alert struct {
	ID          string               `json:"id"`
	Timestamp   time.Time            `json:"timestamp"`
	Severity    string               `json:"severity"`  // info/low/medium/high/critical
	AlertType   string               `json:"alertType"` // absence/behavioral/pipeline
	Title       string               `json:"title"`
	Description string               `json:"description"`
	EntityID    string               `json:"entityId,omitempty"`
	Anomaly     *models.AnomalyAlert `json:"anomaly,omitempty"`
}

// WebhookEndpoint is a registered webhook receiver
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"minSeverity"` // Only send alerts >= this severity
}

// AlertManager handles alert emission and webhook delivery
type AlertManager struct {
	mu            sync.RWMutex
	webhooks      []WebhookEndpoint
	recentAlerts  []Alert
	maxHistory    int
	retention     time.Duration
	httpClient    *http.Client
	alertCallback func(Alert) // WebSocket broadcast callback
}

// NewAlertManager creates a new alert system. Alerts older than the
// configured retention are pruned on emission.
func NewAlertManager(cfg config.DashboardConfig, broadcastFn func(Alert)) *AlertManager {
	return &AlertManager{
		webhooks:      make([]WebhookEndpoint, 0),
		recentAlerts:  make([]Alert, 0),
		maxHistory:    1000,
		retention:     time.Duration(cfg.AlertRetentionDays) * 24 * time.Hour,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		alertCallback: broadcastFn,
	}
}

// RegisterWebhook adds a webhook endpoint
func (am *AlertManager) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.webhooks = append(am.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})

	log.Printf("[AlertManager] Registered webhook: %s → %s (min: %s)", name, url, minSeverity)
}

// RemoveWebhook removes a webhook by name
func (am *AlertManager) RemoveWebhook(name string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	for i, wh := range am.webhooks {
		if wh.Name == name {
			am.webhooks = append(am.webhooks[:i], am.webhooks[i+1:]...)
			return
		}
	}
}

// EmitAlert processes and distributes an alert
func (am *AlertManager) EmitAlert(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	// Store in history
	am.mu.Lock()
	am.recentAlerts = append(am.recentAlerts, alert)
	if am.retention > 0 {
		cutoff := time.Now().Add(-am.retention)
		kept := am.recentAlerts[:0]
		for _, a := range am.recentAlerts {
			if !a.Timestamp.Before(cutoff) {
				kept = append(kept, a)
			}
		}
		am.recentAlerts = kept
	}
	if len(am.recentAlerts) > am.maxHistory {
		am.recentAlerts = am.recentAlerts[len(am.recentAlerts)-am.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(am.webhooks))
	copy(webhooks, am.webhooks)
	am.mu.Unlock()

	// Broadcast via WebSocket callback
	if am.alertCallback != nil {
		am.alertCallback(alert)
	}

	// Send to webhooks (async, non-blocking)
	for _, wh := range webhooks {
		if !wh.Enabled {
			continue
		}
		if !severityMeetsThreshold(alert.Severity, wh.MinSeverity) {
			continue
		}
		go am.sendWebhook(wh, alert)
	}

	log.Printf("[Alert] [%s] %s: %s (entity: %s)", alert.Severity, alert.AlertType, alert.Title, alert.EntityID)
}

// EmitAnomaly wraps a detected anomaly in an alert envelope and emits it
func (am *AlertManager) EmitAnomaly(anomaly models.AnomalyAlert) {
	title := "Anomaly detected"
	switch anomaly.AlertType {
	case models.AlertAbsence:
		title = "Prolonged absence detected"
	case models.AlertBehavioral:
		title = "Unusual activity pattern"
	}

	am.EmitAlert(Alert{
		ID:          anomaly.AlertID,
		Timestamp:   anomaly.Timestamp,
		Severity:    anomaly.Severity,
		AlertType:   anomaly.AlertType,
		Title:       title,
		Description: anomaly.Description,
		EntityID:    anomaly.EntityID,
		Anomaly:     &anomaly,
	})
}

// GetRecentAlerts returns the most recent alerts, newest first
func (am *AlertManager) GetRecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.recentAlerts) {
		limit = len(am.recentAlerts)
	}

	start := len(am.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = am.recentAlerts[start+limit-1-i]
	}
	return result
}

// GetAlertsBySeverity returns alerts matching a minimum severity
func (am *AlertManager) GetAlertsBySeverity(minSeverity string) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var filtered []Alert
	for _, alert := range am.recentAlerts {
		if severityMeetsThreshold(alert.Severity, minSeverity) {
			filtered = append(filtered, alert)
		}
	}
	return filtered
}

// GetAlertsByEntity returns the alert history of one entity, newest first
func (am *AlertManager) GetAlertsByEntity(entityID string) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var filtered []Alert
	for i := len(am.recentAlerts) - 1; i >= 0; i-- {
		if am.recentAlerts[i].EntityID == entityID {
			filtered = append(filtered, am.recentAlerts[i])
		}
	}
	return filtered
}

// sendWebhook delivers an alert to a webhook endpoint
func (am *AlertManager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("[Webhook] Failed to marshal alert: %v", err)
		return
	}

	req, err := http.NewRequest("POST", wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		log.Printf("[Webhook] Failed to create request for %s: %v", wh.Name, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := am.httpClient.Do(req)
	if err != nil {
		log.Printf("[Webhook] Failed to send to %s: %v", wh.Name, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[Webhook] %s returned status %d", wh.Name, resp.StatusCode)
	}
}

// severityMeetsThreshold checks if a severity level meets the minimum
func severityMeetsThreshold(severity, minimum string) bool {
	levels := map[string]int{
		"info": 0, "low": 1, "medium": 2, "high": 3, "critical": 4,
	}
	return levels[severity] >= levels[minimum]
}
