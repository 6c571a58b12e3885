package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campustrace/sentinel-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Sentinel Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Campus security schema initialized")
	return nil
}

// GetPool exposes the connection pool for the shadow runner and other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

// SaveEntities persists one run's resolved entity table in a single
// transaction. Re-running a pipeline upserts in place.
func (s *PostgresStore) SaveEntities(ctx context.Context, runID string, entities map[string]*models.ResolvedEntity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertEntitySQL := `
		INSERT INTO resolved_entities
			(unified_id, run_id, entity_ids, names, role, department, confidence, record_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (unified_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			entity_ids = EXCLUDED.entity_ids,
			names = EXCLUDED.names,
			role = EXCLUDED.role,
			department = EXCLUDED.department,
			confidence = EXCLUDED.confidence,
			record_count = EXCLUDED.record_count,
			resolved_at = NOW();
	`
	for unifiedID, entity := range entities {
		_, err = tx.Exec(ctx, insertEntitySQL,
			unifiedID,
			runID,
			entity.EntityIDs,
			entity.Names,
			entity.Role(),
			entity.Department(),
			entity.Confidence,
			len(entity.RecordIDs),
		)
		if err != nil {
			return fmt.Errorf("failed to insert resolved entity %s: %v", unifiedID, err)
		}
	}

	return tx.Commit(ctx)
}

// SaveFusionRecords batch-inserts one run's fused activity records.
func (s *PostgresStore) SaveFusionRecords(ctx context.Context, runID string, records []models.FusionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertRecordSQL := `
		INSERT INTO fusion_records
			(run_id, unified_entity_id, event_time, location, activity_type, confidence, source_count, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	for i := range records {
		rec := &records[i]
		sources := make([]string, 0, len(rec.SourceRecords))
		for _, src := range rec.SourceRecords {
			sources = append(sources, string(src.Dataset))
		}
		_, err = tx.Exec(ctx, insertRecordSQL,
			runID,
			rec.UnifiedEntityID,
			rec.Timestamp,
			rec.Location,
			rec.ActivityType,
			rec.Confidence,
			len(rec.SourceRecords),
			sources,
		)
		if err != nil {
			return fmt.Errorf("failed to insert fusion record: %v", err)
		}
	}

	return tx.Commit(ctx)
}

// SaveAlert persists one anomaly alert. Replays of the same alert ID
// are ignored.
func (s *PostgresStore) SaveAlert(ctx context.Context, alert *models.AnomalyAlert) error {
	sql := `
		INSERT INTO alerts
			(alert_id, entity_id, alert_type, severity, description, recommended_actions, alert_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql,
		alert.AlertID,
		alert.EntityID,
		alert.AlertType,
		alert.Severity,
		alert.Description,
		alert.RecommendedActions,
		alert.Timestamp,
	)
	return err
}

// RunRecord summarises one pipeline execution for durable run history.
type RunRecord struct {
	RunID            string     `json:"runId"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	RecordsLoaded    int        `json:"recordsLoaded"`
	EntitiesResolved int        `json:"entitiesResolved"`
	FusionRecords    int        `json:"fusionRecords"`
	AlertsEmitted    int        `json:"alertsEmitted"`
	LocationAccuracy float64    `json:"locationAccuracy"`
	ActivityAccuracy float64    `json:"activityAccuracy"`
	Status           string     `json:"status"` // running, completed, failed
}

// SaveRun upserts a pipeline run row. The runner writes it once when
// the run starts and again when it finishes.
func (s *PostgresStore) SaveRun(ctx context.Context, run RunRecord) error {
	sql := `
		INSERT INTO pipeline_runs
			(run_id, started_at, finished_at, records_loaded, entities_resolved,
			 fusion_records, alerts_emitted, location_accuracy, activity_accuracy, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			records_loaded = EXCLUDED.records_loaded,
			entities_resolved = EXCLUDED.entities_resolved,
			fusion_records = EXCLUDED.fusion_records,
			alerts_emitted = EXCLUDED.alerts_emitted,
			location_accuracy = EXCLUDED.location_accuracy,
			activity_accuracy = EXCLUDED.activity_accuracy,
			status = EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, sql,
		run.RunID,
		run.StartedAt,
		run.FinishedAt,
		run.RecordsLoaded,
		run.EntitiesResolved,
		run.FusionRecords,
		run.AlertsEmitted,
		run.LocationAccuracy,
		run.ActivityAccuracy,
		run.Status,
	)
	return err
}

// GetRecentRuns returns the newest pipeline runs, newest first.
func (s *PostgresStore) GetRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	sql := `
		SELECT run_id, started_at, finished_at, records_loaded, entities_resolved,
		       fusion_records, alerts_emitted, location_accuracy, activity_accuracy, status
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]RunRecord, 0)
	for rows.Next() {
		var run RunRecord
		err := rows.Scan(&run.RunID, &run.StartedAt, &run.FinishedAt, &run.RecordsLoaded,
			&run.EntitiesResolved, &run.FusionRecords, &run.AlertsEmitted,
			&run.LocationAccuracy, &run.ActivityAccuracy, &run.Status)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}
