package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campustrace/sentinel-engine/internal/monitor"
	"github.com/campustrace/sentinel-engine/internal/pipeline"
	"github.com/campustrace/sentinel-engine/internal/timeline"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Entity API Handlers — resolution, timelines, predictions
// ════════════════════════════════════════════════════════════════════

// snapshotOrAbort returns the latest pipeline snapshot, or replies 503
// when no run has completed yet.
func (h *APIHandler) snapshotOrAbort(c *gin.Context) *pipeline.Snapshot {
	snap := h.runner.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No pipeline run completed yet. POST /api/v1/pipeline/run first.",
		})
		return nil
	}
	return snap
}

func (h *APIHandler) entityOrAbort(c *gin.Context, snap *pipeline.Snapshot) (*models.ResolvedEntity, bool) {
	entity, ok := snap.Entities[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
		return nil, false
	}
	return entity, true
}

// GET /api/v1/entities
// Lists resolved entities, paginated, optionally filtered by role.
func (h *APIHandler) handleListEntities(c *gin.Context) {
	snap := h.snapshotOrAbort(c)
	if snap == nil {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	roleFilter := c.Query("role")

	type entityRow struct {
		UnifiedID  string   `json:"unifiedId"`
		Name       string   `json:"name"`
		Role       string   `json:"role"`
		Department string   `json:"department"`
		EntityIDs  []string `json:"entityIds"`
		Records    int      `json:"records"`
		Confidence float64  `json:"confidence"`
	}

	ids := make([]string, 0, len(snap.Entities))
	for id := range snap.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]entityRow, 0, len(ids))
	for _, id := range ids {
		entity := snap.Entities[id]
		profile := snap.Profiles[id]
		if roleFilter != "" && profile.Role != roleFilter {
			continue
		}
		rows = append(rows, entityRow{
			UnifiedID:  entity.UnifiedID,
			Name:       profile.Name,
			Role:       profile.Role,
			Department: profile.Department,
			EntityIDs:  entity.EntityIDs,
			Records:    len(entity.RecordIDs),
			Confidence: entity.Confidence,
		})
	}

	total := len(rows)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"entities":   rows[start:end],
		"page":       page,
		"limit":      limit,
		"total":      total,
		"totalPages": (total + limit - 1) / limit,
	})
}

// GET /api/v1/entities/:id
// Returns the full resolved entity with its fused activity span.
func (h *APIHandler) handleGetEntity(c *gin.Context) {
	snap := h.snapshotOrAbort(c)
	if snap == nil {
		return
	}
	entity, ok := h.entityOrAbort(c, snap)
	if !ok {
		return
	}

	profile := snap.Profiles[entity.UnifiedID]
	fused := snap.Fused[entity.UnifiedID]

	payload := gin.H{
		"entity":       entity,
		"profile":      profile,
		"fusedRecords": len(fused),
	}
	if first, last, ok := activitySpan(fused); ok {
		payload["firstSeen"] = first
		payload["lastSeen"] = last
	}

	c.JSON(http.StatusOK, payload)
}

// GET /api/v1/entities/:id/timeline
// Returns the chronological timeline, bounded by from/to (RFC 3339) or
// a trailing day count. Spans are clamped to the configured maximum.
func (h *APIHandler) handleEntityTimeline(c *gin.Context) {
	snap := h.snapshotOrAbort(c)
	if snap == nil {
		return
	}
	entity, ok := h.entityOrAbort(c, snap)
	if !ok {
		return
	}

	fused := snap.Fused[entity.UnifiedID]
	start, end, err := h.timelineBounds(c, fused)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events := h.timeline.Generate(fused, start, end)

	payload := gin.H{
		"entityId": entity.UnifiedID,
		"events":   events,
		"count":    len(events),
	}
	if !start.IsZero() {
		payload["from"] = start
	}
	if !end.IsZero() {
		payload["to"] = end
	}
	c.JSON(http.StatusOK, payload)
}

// GET /api/v1/entities/:id/summary
// Returns the digest of the entity's recent activity window plus the
// quantitative statistics over the full timeline.
func (h *APIHandler) handleEntitySummary(c *gin.Context) {
	snap := h.snapshotOrAbort(c)
	if snap == nil {
		return
	}
	entity, ok := h.entityOrAbort(c, snap)
	if !ok {
		return
	}

	windowHours, _ := strconv.Atoi(c.DefaultQuery("window", "0"))

	events := h.timeline.Generate(snap.Fused[entity.UnifiedID], time.Time{}, time.Time{})
	summary := h.timeline.Summarize(entity.UnifiedID, events, windowHours)

	c.JSON(http.StatusOK, gin.H{
		"summary":    summary,
		"statistics": timeline.ComputeStatistics(events),
	})
}

// POST /api/v1/entities/:id/predict
// Imputes the entity's likely location and activity at a timestamp.
func (h *APIHandler) handlePredict(c *gin.Context) {
	snap := h.snapshotOrAbort(c)
	if snap == nil {
		return
	}
	entity, ok := h.entityOrAbort(c, snap)
	if !ok {
		return
	}

	// Body is optional; an absent timestamp predicts for the present
	var req struct {
		Timestamp string `json:"timestamp"`
	}
	ts := time.Now()
	if err := c.ShouldBindJSON(&req); err == nil && req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be RFC 3339"})
			return
		}
		ts = parsed
	}

	prediction := h.runner.Monitor().Predict(
		entity.UnifiedID, ts, snap.Fused[entity.UnifiedID], snap.Profiles[entity.UnifiedID])
	if prediction == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Prediction model not trained yet. Run the pipeline and try again.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"prediction": prediction})
}

// GET /api/v1/entities/:id/alerts
// Returns one entity's alert history, newest first.
func (h *APIHandler) handleEntityAlerts(c *gin.Context) {
	snap := h.snapshotOrAbort(c)
	if snap == nil {
		return
	}
	entity, ok := h.entityOrAbort(c, snap)
	if !ok {
		return
	}
	if h.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Alerting not configured"})
		return
	}

	alerts := h.alerts.GetAlertsByEntity(entity.UnifiedID)
	c.JSON(http.StatusOK, gin.H{
		"entityId": entity.UnifiedID,
		"alerts":   alerts,
		"count":    len(alerts),
	})
}

// GET /api/v1/alerts
// Returns recent alerts across all entities, optionally filtered by a
// minimum severity.
func (h *APIHandler) handleAlerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Alerting not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	var alerts []monitor.Alert
	if minSeverity := c.Query("severity"); minSeverity != "" {
		alerts = h.alerts.GetAlertsBySeverity(minSeverity)
		if len(alerts) > limit {
			alerts = alerts[:limit]
		}
	} else {
		alerts = h.alerts.GetRecentAlerts(limit)
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// POST /api/v1/entities/search
// Looks up the entity claiming an identifier. Kind restricts the
// search to one identifier set (card_id, device_hash, face_id,
// student_id, staff_id, email); empty searches all of them.
func (h *APIHandler) handleSearch(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Kind       string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	entity, found := h.runner.Resolver().FindByIdentifier(req.Identifier, req.Kind)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "No entity matches that identifier"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity":     entity,
		"identifier": req.Identifier,
	})
}

// timelineBounds derives the [start, end] window from query params.
// Precedence: explicit from/to, then a trailing day count anchored at
// the latest observation. No params means the full activity span.
func (h *APIHandler) timelineBounds(c *gin.Context, fused []models.FusionRecord) (time.Time, time.Time, error) {
	maxDays := h.cfg.Dashboard.MaxTimelineDays
	if maxDays <= 0 {
		maxDays = 7
	}
	maxSpan := time.Duration(maxDays) * 24 * time.Hour

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr != "" || toStr != "" {
		var start, end time.Time
		var err error
		if fromStr != "" {
			if start, err = time.Parse(time.RFC3339, fromStr); err != nil {
				return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
			}
		}
		if toStr != "" {
			if end, err = time.Parse(time.RFC3339, toStr); err != nil {
				return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
			}
		}
		switch {
		case start.IsZero():
			start = end.Add(-maxSpan)
		case end.IsZero():
			end = start.Add(maxSpan)
		case end.Before(start):
			return time.Time{}, time.Time{}, errors.New("to must not precede from")
		case end.Sub(start) > maxSpan:
			end = start.Add(maxSpan)
		}
		return start, end, nil
	}

	if daysStr := c.Query("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days < 1 {
			return time.Time{}, time.Time{}, errors.New("days must be a positive integer")
		}
		if days > maxDays {
			days = maxDays
		}
		_, last, ok := activitySpan(fused)
		if !ok {
			return time.Time{}, time.Time{}, nil
		}
		return last.Add(-time.Duration(days) * 24 * time.Hour), last, nil
	}

	return time.Time{}, time.Time{}, nil
}

// activitySpan returns the earliest and latest fused timestamps.
func activitySpan(fused []models.FusionRecord) (time.Time, time.Time, bool) {
	if len(fused) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, last := fused[0].Timestamp, fused[0].Timestamp
	for _, record := range fused[1:] {
		if record.Timestamp.Before(first) {
			first = record.Timestamp
		}
		if record.Timestamp.After(last) {
			last = record.Timestamp
		}
	}
	return first, last, true
}
