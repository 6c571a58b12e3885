package api

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/internal/db"
	"github.com/campustrace/sentinel-engine/internal/monitor"
	"github.com/campustrace/sentinel-engine/internal/pipeline"
	"github.com/campustrace/sentinel-engine/internal/timeline"
)

// Rate limit shared by every /api/v1 route. Dashboard polling sits
// well under this; bulk export should go through campusctl instead.
const (
	rateLimitPerMin = 240
	rateLimitBurst  = 40
)

type APIHandler struct {
	cfg       *config.Config
	runner    *pipeline.Runner
	store     *db.PostgresStore
	alerts    *monitor.AlertManager
	timeline  *timeline.Generator
	wsHub     *Hub
	startedAt time.Time
}

func SetupRouter(cfg *config.Config, runner *pipeline.Runner, store *db.PostgresStore, alerts *monitor.AlertManager, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://ops.campustrace.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		cfg:       cfg,
		runner:    runner,
		store:     store,
		alerts:    alerts,
		timeline:  timeline.NewGenerator(cfg.Timeline),
		wsHub:     wsHub,
		startedAt: time.Now(),
	}

	limiter := NewRateLimiter(rateLimitPerMin, rateLimitBurst)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())

	// Public: service discovery and the alert stream
	api.GET("/health", handler.handleHealth)
	api.GET("/ws/alerts", wsHub.Subscribe)

	protected := api.Group("")
	protected.Use(AuthMiddleware())
	{
		protected.GET("/stats", handler.handleStats)
		protected.POST("/pipeline/run", handler.handleRunPipeline)
		protected.GET("/pipeline/progress", handler.handlePipelineProgress)

		protected.GET("/entities", handler.handleListEntities)
		protected.GET("/entities/:id", handler.handleGetEntity)
		protected.GET("/entities/:id/timeline", handler.handleEntityTimeline)
		protected.GET("/entities/:id/summary", handler.handleEntitySummary)
		protected.POST("/entities/:id/predict", handler.handlePredict)
		protected.GET("/entities/:id/alerts", handler.handleEntityAlerts)

		protected.GET("/alerts", handler.handleAlerts)
		protected.POST("/entities/search", handler.handleSearch)

		protected.GET("/shadow/drift", handler.handleShadowDrift)
	}

	// Serve Static Dashboard
	r.Static("/dashboard", "./public")

	return r
}

// handleHealth returns engine status, capabilities and process vitals
// for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	dbConnected := h.store != nil

	lastRunID := ""
	if snap := h.runner.Snapshot(); snap != nil {
		lastRunID = snap.RunID
	}

	health := gin.H{
		"status":        "operational",
		"engine":        "CampusTrace Sentinel Engine v1.0",
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
		"capabilities": gin.H{
			"entity_resolution":     true,
			"multi_modal_fusion":    true,
			"timeline_generation":   true,
			"predictive_monitoring": true,
			"shadow_mode":           true,
			"ari_vi_metrics":        true,
		},
		"dbConnected":  dbConnected,
		"modelTrained": h.runner.Monitor().Trained(),
		"lastRunId":    lastRunID,
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			health["memoryRssBytes"] = memInfo.RSS
		}
		if cpuPct, err := proc.CPUPercent(); err == nil {
			health["cpuPercent"] = math.Round(cpuPct*100) / 100
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["systemMemoryUsedPercent"] = math.Round(vm.UsedPercent*100) / 100
	}

	c.JSON(http.StatusOK, health)
}

// handleStats returns the current snapshot's resolution, training and
// quality figures, plus recent run history when a database is attached.
func (h *APIHandler) handleStats(c *gin.Context) {
	snap := h.runner.Snapshot()
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{
			"ready": false,
			"hint":  "No pipeline run completed yet. POST /api/v1/pipeline/run to start one.",
		})
		return
	}

	payload := gin.H{
		"ready":      true,
		"runId":      snap.RunID,
		"loadedAt":   snap.LoadedAt,
		"totalRows":  snap.Tables.TotalRows(),
		"resolution": snap.Stats,
		"training":   snap.Training,
		"quality":    snap.Quality,
	}
	if snap.Shadow != nil {
		payload["shadow"] = snap.Shadow
	}

	if h.store != nil {
		ctx, cancel := h.queryContext(c)
		defer cancel()
		if runs, err := h.store.GetRecentRuns(ctx, 5); err == nil {
			payload["recentRuns"] = runs
		} else {
			log.Printf("Failed to fetch recent runs: %v", err)
		}
	}

	c.JSON(http.StatusOK, payload)
}

// handleRunPipeline launches a pipeline run in the background.
func (h *APIHandler) handleRunPipeline(c *gin.Context) {
	if !h.runner.RunAsync(context.Background()) {
		c.JSON(http.StatusConflict, gin.H{"error": "Pipeline run already in progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "run_started"})
}

// handlePipelineProgress returns the live pipeline counters.
func (h *APIHandler) handlePipelineProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Progress())
}

// handleShadowDrift returns divergence aggregates persisted by the
// shadow scorer across runs, for drift review before any rule change.
func (h *APIHandler) handleShadowDrift(c *gin.Context) {
	ctx, cancel := h.queryContext(c)
	defer cancel()

	stats, err := h.runner.ShadowDrift(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// queryContext bounds store reads with the configured query timeout.
func (h *APIHandler) queryContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(h.cfg.Dashboard.QueryTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

// BroadcastAlert adapts the WebSocket hub into the alert manager's
// broadcast callback.
func BroadcastAlert(wsHub *Hub) func(monitor.Alert) {
	return func(alert monitor.Alert) {
		payload := gin.H{
			"type":  "anomaly_alert",
			"alert": alert,
		}
		alertBytes, _ := json.Marshal(payload)
		wsHub.Broadcast(alert.Severity, alertBytes)
		log.Printf("[ALERT] 🚨 Pushed %s alert %s to dashboard clients", alert.Severity, alert.ID)
	}
}
