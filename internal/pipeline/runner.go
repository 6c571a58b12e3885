package pipeline

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/internal/db"
	"github.com/campustrace/sentinel-engine/internal/fusion"
	"github.com/campustrace/sentinel-engine/internal/ingest"
	"github.com/campustrace/sentinel-engine/internal/metrics"
	"github.com/campustrace/sentinel-engine/internal/monitor"
	"github.com/campustrace/sentinel-engine/internal/resolver"
	"github.com/campustrace/sentinel-engine/internal/shadow"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Pipeline runner
//
// One Run is a full pass over the campus datasets: load -> resolve ->
// per-entity fusion fan-out -> monitor training -> anomaly sweep.
// The finished state is swapped in atomically as a Snapshot; readers
// always see either the previous complete run or the new one, never a
// half-built table. Store, alert manager and shadow runner are all
// optional.

const maxFusionWorkers = 8

// Runner orchestrates the analysis pipeline over one data directory.
type Runner struct {
	cfg     *config.Config
	dataDir string

	resolver *resolver.Resolver
	fuser    *fusion.Fuser
	monitor  *monitor.Monitor

	store        *db.PostgresStore
	alerts       *monitor.AlertManager
	shadowRunner *shadow.Runner

	isRunning     atomic.Bool
	recordsLoaded atomic.Int64
	entitiesFound atomic.Int64
	fusionRecords atomic.Int64
	alertsEmitted atomic.Int64

	mu       sync.RWMutex
	snapshot *Snapshot
	lastRun  *RunResult
}

// Snapshot is the immutable product of one pipeline run.
type Snapshot struct {
	RunID    string                                  `json:"runId"`
	LoadedAt time.Time                               `json:"loadedAt"`
	Tables   *models.Tables                          `json:"-"`
	Records  []models.EntityRecord                   `json:"-"`
	Entities map[string]*models.ResolvedEntity       `json:"-"`
	Profiles map[string]models.EntityProfile         `json:"-"`
	Fused    map[string][]models.FusionRecord        `json:"-"`
	Stats    models.ResolutionStats                  `json:"stats"`
	Matches  []models.EntityMatch                    `json:"-"`
	Training models.TrainingMetrics                  `json:"training"`
	Quality  Quality                                 `json:"quality"`
	Shadow   *shadow.Report                          `json:"shadow,omitempty"`
}

// Quality measures the resolved clustering against the ground-truth
// entity_id labels carried by roster-linked records.
type Quality struct {
	AdjustedRandIndex float64 `json:"adjustedRandIndex"`
	VariationOfInfo   float64 `json:"variationOfInformation"`
	BCubedPrecision   float64 `json:"bcubedPrecision"`
	BCubedRecall      float64 `json:"bcubedRecall"`
	BCubedF1          float64 `json:"bcubedF1"`
	LabeledRecords    int     `json:"labeledRecords"`
}

// RunProgress reports live pipeline counters (thread-safe snapshot).
type RunProgress struct {
	IsRunning     bool   `json:"isRunning"`
	RecordsLoaded int64  `json:"recordsLoaded"`
	Entities      int64  `json:"entities"`
	FusionRecords int64  `json:"fusionRecords"`
	AlertsEmitted int64  `json:"alertsEmitted"`
	LastRunID     string `json:"lastRunId,omitempty"`
}

// RunResult summarises one completed pipeline run.
type RunResult struct {
	RunID         string                 `json:"runId"`
	StartedAt     time.Time              `json:"startedAt"`
	FinishedAt    time.Time              `json:"finishedAt"`
	RecordsLoaded int                    `json:"recordsLoaded"`
	Entities      int                    `json:"entities"`
	FusionRecords int                    `json:"fusionRecords"`
	Alerts        int                    `json:"alerts"`
	Training      models.TrainingMetrics `json:"training"`
	Quality       Quality                `json:"quality"`
}

// NewRunner wires the pipeline stages. store, alerts and shadowRunner
// may all be nil for offline or storage-free operation.
func NewRunner(cfg *config.Config, dataDir string, store *db.PostgresStore, alerts *monitor.AlertManager, shadowRunner *shadow.Runner) *Runner {
	return &Runner{
		cfg:          cfg,
		dataDir:      dataDir,
		resolver:     resolver.NewResolver(cfg.Resolver),
		fuser:        fusion.NewFuser(cfg.Fusion),
		monitor:      monitor.NewMonitor(cfg.Prediction),
		store:        store,
		alerts:       alerts,
		shadowRunner: shadowRunner,
	}
}

// Monitor exposes the predictive monitor for the serving layer.
func (r *Runner) Monitor() *monitor.Monitor {
	return r.monitor
}

// Resolver exposes the entity resolver for identifier lookups.
func (r *Runner) Resolver() *resolver.Resolver {
	return r.resolver
}

// ShadowDrift aggregates persisted shadow divergences across runs.
// Requires shadow mode and an attached database.
func (r *Runner) ShadowDrift(ctx context.Context) (shadow.DriftStats, error) {
	if r.shadowRunner == nil {
		return shadow.DriftStats{}, errors.New("shadow mode is not enabled")
	}
	return r.shadowRunner.DriftReport(ctx)
}

// Snapshot returns the product of the most recent completed run, or
// nil before the first one.
func (r *Runner) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// LastRun returns the most recent run summary, or nil.
func (r *Runner) LastRun() *RunResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun
}

// Progress returns the current pipeline counters (thread-safe).
func (r *Runner) Progress() RunProgress {
	progress := RunProgress{
		IsRunning:     r.isRunning.Load(),
		RecordsLoaded: r.recordsLoaded.Load(),
		Entities:      r.entitiesFound.Load(),
		FusionRecords: r.fusionRecords.Load(),
		AlertsEmitted: r.alertsEmitted.Load(),
	}
	r.mu.RLock()
	if r.lastRun != nil {
		progress.LastRunID = r.lastRun.RunID
	}
	r.mu.RUnlock()
	return progress
}

// RunAsync starts a pipeline run in the background. Returns false if
// one is already in progress.
func (r *Runner) RunAsync(ctx context.Context) bool {
	if r.isRunning.Load() {
		log.Printf("[Pipeline] Run already in progress, skipping")
		return false
	}
	go func() {
		if _, err := r.Run(ctx); err != nil {
			log.Printf("[Pipeline] Run failed: %v", err)
		}
	}()
	return true
}

// Run executes one full pipeline pass synchronously.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if !r.isRunning.CompareAndSwap(false, true) {
		return nil, errors.New("pipeline run already in progress")
	}
	defer r.isRunning.Store(false)

	runID := uuid.New().String()
	startedAt := time.Now()
	log.Printf("[Pipeline] Run %s starting over %s", runID, r.dataDir)

	r.recordsLoaded.Store(0)
	r.entitiesFound.Store(0)
	r.fusionRecords.Store(0)
	r.alertsEmitted.Store(0)

	if r.store != nil {
		if err := r.store.SaveRun(ctx, db.RunRecord{RunID: runID, StartedAt: startedAt, Status: "running"}); err != nil {
			log.Printf("[DB] Failed to record run start: %v", err)
		}
	}

	tables, err := ingest.LoadTables(r.dataDir)
	if err != nil {
		r.failRun(ctx, runID, startedAt)
		return nil, err
	}
	r.recordsLoaded.Store(int64(tables.TotalRows()))

	records := resolver.ExtractRecords(tables)
	entities, err := r.resolver.Resolve(ctx, records)
	if err != nil {
		r.failRun(ctx, runID, startedAt)
		return nil, err
	}
	r.entitiesFound.Store(int64(len(entities)))

	profiles := buildProfiles(entities)
	embeddings := tables.EmbeddingIndex()

	fused, err := r.fuseAll(ctx, entities, tables, embeddings)
	if err != nil {
		r.failRun(ctx, runID, startedAt)
		return nil, err
	}

	allFused := flattenFused(fused)
	training, err := r.monitor.Train(allFused, profiles)
	if err != nil {
		log.Printf("[Pipeline] Monitor training skipped: %v", err)
	}

	quality := ComputeQuality(records, entities)

	snapshot := &Snapshot{
		RunID:    runID,
		LoadedAt: time.Now(),
		Tables:   tables,
		Records:  records,
		Entities: entities,
		Profiles: profiles,
		Fused:    fused,
		Stats:    r.resolver.Stats(),
		Matches:  r.resolver.Matches(),
		Training: training,
		Quality:  quality,
	}

	if r.shadowRunner != nil {
		report, shadowErr := r.shadowRunner.Compare(ctx, records, entities)
		if shadowErr != nil {
			log.Printf("[Pipeline] Shadow comparison incomplete: %v", shadowErr)
		}
		snapshot.Shadow = &report
	}

	alertCount := r.sweepAnomalies(ctx, fused, profiles)

	if r.store != nil {
		if err := r.store.SaveEntities(ctx, runID, entities); err != nil {
			log.Printf("[DB] Failed to save entities: %v", err)
		}
		if err := r.store.SaveFusionRecords(ctx, runID, allFused); err != nil {
			log.Printf("[DB] Failed to save fusion records: %v", err)
		}
	}

	finishedAt := time.Now()
	result := &RunResult{
		RunID:         runID,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		RecordsLoaded: tables.TotalRows(),
		Entities:      len(entities),
		FusionRecords: len(allFused),
		Alerts:        alertCount,
		Training:      training,
		Quality:       quality,
	}

	if r.store != nil {
		record := db.RunRecord{
			RunID:            runID,
			StartedAt:        startedAt,
			FinishedAt:       &finishedAt,
			RecordsLoaded:    result.RecordsLoaded,
			EntitiesResolved: result.Entities,
			FusionRecords:    result.FusionRecords,
			AlertsEmitted:    result.Alerts,
			LocationAccuracy: training.LocationAccuracy,
			ActivityAccuracy: training.ActivityAccuracy,
			Status:           "completed",
		}
		if err := r.store.SaveRun(ctx, record); err != nil {
			log.Printf("[DB] Failed to record run completion: %v", err)
		}
	}

	r.mu.Lock()
	r.snapshot = snapshot
	r.lastRun = result
	r.mu.Unlock()

	log.Printf("[Pipeline] Run %s complete in %s: %d records -> %d entities -> %d fusion records, %d alerts",
		runID, finishedAt.Sub(startedAt).Round(time.Millisecond),
		result.RecordsLoaded, result.Entities, result.FusionRecords, result.Alerts)
	return result, nil
}

// fuseAll fans entity fusion out over a bounded worker pool.
func (r *Runner) fuseAll(ctx context.Context, entities map[string]*models.ResolvedEntity, tables *models.Tables, embeddings map[string][]float64) (map[string][]models.FusionRecord, error) {
	ids := sortedEntityIDs(entities)

	workers := runtime.NumCPU()
	if workers > maxFusionWorkers {
		workers = maxFusionWorkers
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	fused := make(map[string][]models.FusionRecord, len(entities))
	var fusedMu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				records := r.fuser.FuseEntity(entities[id], tables, embeddings)
				if len(records) == 0 {
					continue
				}
				fusedMu.Lock()
				fused[id] = records
				fusedMu.Unlock()
				r.fusionRecords.Add(int64(len(records)))
			}
		}()
	}

feed:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- id:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fused, nil
}

// sweepAnomalies runs anomaly detection for every fused entity and
// routes alerts to the manager and the store.
func (r *Runner) sweepAnomalies(ctx context.Context, fused map[string][]models.FusionRecord, profiles map[string]models.EntityProfile) int {
	count := 0
	for _, id := range sortedFusedIDs(fused) {
		anomalies := r.monitor.DetectAnomalies(fused[id], profiles[id])
		for i := range anomalies {
			if r.alerts != nil {
				r.alerts.EmitAnomaly(anomalies[i])
			}
			if r.store != nil {
				if err := r.store.SaveAlert(ctx, &anomalies[i]); err != nil {
					log.Printf("[DB] Failed to save alert %s: %v", anomalies[i].AlertID, err)
				}
			}
			count++
		}
	}
	r.alertsEmitted.Store(int64(count))
	return count
}

func (r *Runner) failRun(ctx context.Context, runID string, startedAt time.Time) {
	if r.store == nil {
		return
	}
	finishedAt := time.Now()
	record := db.RunRecord{RunID: runID, StartedAt: startedAt, FinishedAt: &finishedAt, Status: "failed"}
	if err := r.store.SaveRun(ctx, record); err != nil {
		log.Printf("[DB] Failed to record run failure: %v", err)
	}
}

// ComputeQuality scores the resolved clustering against the roster's
// entity_id labels. Records without a ground-truth label are excluded.
func ComputeQuality(records []models.EntityRecord, entities map[string]*models.ResolvedEntity) Quality {
	byRecord := make(map[string]string)
	for unifiedID, entity := range entities {
		for _, recordID := range entity.RecordIDs {
			byRecord[recordID] = unifiedID
		}
	}

	var predicted, reference []string
	for i := range records {
		rec := &records[i]
		if rec.EntityID == "" {
			continue
		}
		label, ok := byRecord[rec.RecordID]
		if !ok {
			label = "solo_" + rec.RecordID // dropped by the resolver
		}
		predicted = append(predicted, label)
		reference = append(reference, rec.EntityID)
	}

	quality := Quality{LabeledRecords: len(predicted)}
	if len(predicted) < 2 {
		return quality
	}
	quality.AdjustedRandIndex = metrics.AdjustedRandIndex(predicted, reference)
	quality.VariationOfInfo = metrics.VariationOfInformation(predicted, reference)
	quality.BCubedPrecision, quality.BCubedRecall, quality.BCubedF1 = metrics.BCubed(predicted, reference)
	return quality
}

func buildProfiles(entities map[string]*models.ResolvedEntity) map[string]models.EntityProfile {
	profiles := make(map[string]models.EntityProfile, len(entities))
	for unifiedID, entity := range entities {
		profile := models.EntityProfile{
			EntityID:   unifiedID,
			Role:       entity.Role(),
			Department: entity.Department(),
		}
		if entity.PrimaryProfile != nil {
			profile.Name = entity.PrimaryProfile.Name
		} else if len(entity.Names) > 0 {
			profile.Name = entity.Names[0]
		}
		profiles[unifiedID] = profile
	}
	return profiles
}

// flattenFused yields every fusion record in deterministic entity order
func flattenFused(fused map[string][]models.FusionRecord) []models.FusionRecord {
	ids := sortedFusedIDs(fused)
	var all []models.FusionRecord
	for _, id := range ids {
		all = append(all, fused[id]...)
	}
	return all
}

func sortedEntityIDs(entities map[string]*models.ResolvedEntity) []string {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedFusedIDs(fused map[string][]models.FusionRecord) []string {
	ids := make([]string, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
