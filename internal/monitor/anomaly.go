package monitor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Behavioural alert gates over the outlier decision score
const (
	behavioralScoreThreshold = -0.5
	behavioralHighThreshold  = -0.8
	behavioralWindow         = 10
)

// absenceHighSeverity promotes absence alerts older than a day
const absenceHighSeverity = 24 * time.Hour

// DetectAnomalies checks one entity's fused records for prolonged
// absence and behavioural outliers. Returns nil when the monitor is
// untrained or the record list is empty.
func (m *Monitor) DetectAnomalies(records []models.FusionRecord, profile models.EntityProfile) []models.AnomalyAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained || len(records) == 0 {
		return nil
	}

	var alerts []models.AnomalyAlert
	if alert := m.absenceAlert(records, profile); alert != nil {
		alerts = append(alerts, *alert)
	}

	for _, record := range lastN(records, behavioralWindow) {
		x := m.scaler.Transform(extractFeatures(record, profile))
		score := m.outlierModel.DecisionFunction(x)
		if score < behavioralScoreThreshold {
			alerts = append(alerts, m.behavioralAlert(record, score, profile))
		}
	}
	return alerts
}

// absenceAlert fires when the most recent record is older than the
// configured silence threshold, measured against wall-clock now
func (m *Monitor) absenceAlert(records []models.FusionRecord, profile models.EntityProfile) *models.AnomalyAlert {
	last := records[0]
	for _, r := range records[1:] {
		if r.Timestamp.After(last.Timestamp) {
			last = r
		}
	}

	since := m.now().Sub(last.Timestamp)
	if since <= time.Duration(m.cfg.AlertAbsenceHours)*time.Hour {
		return nil
	}

	severity := "medium"
	if since > absenceHighSeverity {
		severity = "high"
	}

	seen := last.Timestamp
	return &models.AnomalyAlert{
		AlertID:     uuid.NewString(),
		EntityID:    last.UnifiedEntityID,
		AlertType:   models.AlertAbsence,
		Severity:    severity,
		Timestamp:   m.now(),
		Description: fmt.Sprintf("No activity detected for %.1f hours", since.Hours()),
		Evidence: models.AnomalyEvidence{
			LastSeen:             &seen,
			LastLocation:         last.Location,
			AbsenceDurationHours: since.Hours(),
			EntityRole:           alertRole(profile),
		},
		RecommendedActions: []string{
			"Contact entity directly",
			"Check with department/supervisor",
			"Review recent access logs",
			"Verify if planned absence",
		},
	}
}

func (m *Monitor) behavioralAlert(record models.FusionRecord, score float64, profile models.EntityProfile) models.AnomalyAlert {
	severity := "medium"
	if score < behavioralHighThreshold {
		severity = "high"
	}

	sources := make([]string, 0, len(record.SourceRecords))
	for _, sr := range record.SourceRecords {
		sources = append(sources, string(sr.Dataset))
	}

	return models.AnomalyAlert{
		AlertID:     uuid.NewString(),
		EntityID:    record.UnifiedEntityID,
		AlertType:   models.AlertBehavioral,
		Severity:    severity,
		Timestamp:   record.Timestamp,
		Description: fmt.Sprintf("Unusual activity pattern detected at %s", record.Location),
		Evidence: models.AnomalyEvidence{
			AnomalyScore: score,
			Location:     record.Location,
			Activity:     record.ActivityType,
			Confidence:   record.Confidence,
			Sources:      sources,
			EntityRole:   alertRole(profile),
		},
		RecommendedActions: []string{
			"Review activity details",
			"Check for data quality issues",
			"Verify entity authorization for location",
			"Investigate if security concern",
		},
	}
}

// alertRole reports the roster role on alerts; entities without a
// profile report unknown rather than the student default prediction
// heuristics assume
func alertRole(profile models.EntityProfile) string {
	if profile.Role == "" {
		return "unknown"
	}
	return profile.Role
}
