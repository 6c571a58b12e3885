package shadow

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/internal/metrics"
	"github.com/campustrace/sentinel-engine/internal/resolver"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Shadow mode for the pair-confidence rule
//
// No change to how channel scores aggregate affects production
// entities immediately. The additive interpretation (weighted sum of
// contributing channels, capped at 1.0) runs here alongside the
// production max rule over the same records for an observation
// window. Divergent pairs are logged and persisted; promotion of the
// additive rule requires a drift review, not a code flip.
//
// Both interpretations share the channel weights and gates of the
// production matcher, so any divergence reflects aggregation alone.

// Runner scores record pairs under both aggregation rules.
type Runner struct {
	cfg     config.ResolverConfig
	matcher *resolver.Matcher
	pool    *pgxpool.Pool
}

// Comparison captures the diff between the two rules on one pair.
type Comparison struct {
	SrcRecordID        string    `json:"srcRecordId"`
	DstRecordID        string    `json:"dstRecordId"`
	ProductionScore    float64   `json:"productionScore"`
	ShadowScore        float64   `json:"shadowScore"`
	ProductionAccepted bool      `json:"productionAccepted"`
	ShadowAccepted     bool      `json:"shadowAccepted"`
	Delta              float64   `json:"delta"` // shadow minus production
	CreatedAt          time.Time `json:"createdAt"`
}

// Report summarises one shadow pass: pair-level divergences plus the
// structural distance between the two resulting clusterings.
type Report struct {
	RecordsScored      int          `json:"recordsScored"`
	PairsScored        int          `json:"pairsScored"`
	AgreedAccepts      int          `json:"agreedAccepts"`
	Divergences        []Comparison `json:"divergences"`
	AvgDelta           float64      `json:"avgDelta"` // mean delta over divergent pairs
	ProductionEntities int          `json:"productionEntities"`
	ShadowEntities     int          `json:"shadowEntities"`
	AdjustedRandIndex  float64      `json:"adjustedRandIndex"`
	VariationOfInfo    float64      `json:"variationOfInformation"`
	GeneratedAt        time.Time    `json:"generatedAt"`
}

// NewRunner creates a shadow runner. A nil pool disables persistence;
// divergences are still logged.
func NewRunner(cfg config.ResolverConfig, pool *pgxpool.Pool) *Runner {
	return &Runner{
		cfg:     cfg,
		matcher: resolver.NewMatcher(cfg),
		pool:    pool,
	}
}

// Compare scores every candidate pair under both rules and measures
// how far the additive clustering drifts from the production one.
// The production partition comes from the caller so the comparison
// reflects what the resolver actually shipped, weak-component drops
// included. On cancellation the report built so far is returned
// alongside the context error.
func (r *Runner) Compare(ctx context.Context, records []models.EntityRecord, production map[string]*models.ResolvedEntity) (Report, error) {
	if r.cfg.MaxPairwiseRecords > 0 && len(records) > r.cfg.MaxPairwiseRecords {
		log.Printf("[Shadow] Capping pairwise scan at %d of %d records", r.cfg.MaxPairwiseRecords, len(records))
		records = records[:r.cfg.MaxPairwiseRecords]
	}
	log.Printf("[Shadow] Scoring %d records under the additive rule", len(records))

	graph := resolver.NewSimilarityGraph()
	for i := range records {
		graph.AddNode(records[i].RecordID)
	}

	report := Report{RecordsScored: len(records), GeneratedAt: time.Now()}
	var deltaSum float64
	var scanErr error

pairScan:
	for i := 0; i < len(records); i++ {
		select {
		case <-ctx.Done():
			scanErr = ctx.Err()
			log.Printf("[Shadow] Cancelled after %d/%d records, reporting partial comparison", i, len(records))
			break pairScan
		default:
		}

		for j := i + 1; j < len(records); j++ {
			a, b := &records[i], &records[j]
			report.PairsScored++

			prodMatch, prodOK := r.matcher.MatchPair(a, b)
			shadowScore, shadowOK := r.additiveScore(a, b)
			if shadowOK {
				graph.AddEdge(a.RecordID, b.RecordID, shadowScore)
			}

			if prodOK == shadowOK {
				if prodOK {
					report.AgreedAccepts++
				}
				continue
			}

			cmp := Comparison{
				SrcRecordID:        a.RecordID,
				DstRecordID:        b.RecordID,
				ProductionScore:    prodMatch.Confidence,
				ShadowScore:        shadowScore,
				ProductionAccepted: prodOK,
				ShadowAccepted:     shadowOK,
				Delta:              shadowScore - prodMatch.Confidence,
				CreatedAt:          time.Now(),
			}
			report.Divergences = append(report.Divergences, cmp)
			deltaSum += cmp.Delta

			log.Printf("[Shadow] DIVERGENCE on %s<->%s: prod_score=%.3f shadow_score=%.3f accepted=%t/%t",
				cmp.SrcRecordID, cmp.DstRecordID, cmp.ProductionScore, cmp.ShadowScore,
				cmp.ProductionAccepted, cmp.ShadowAccepted)

			if r.pool != nil {
				if err := r.persistComparison(ctx, &cmp); err != nil && scanErr == nil {
					scanErr = err
				}
			}
		}
	}

	if len(report.Divergences) > 0 {
		report.AvgDelta = deltaSum / float64(len(report.Divergences))
	}

	prodLabels := productionLabels(records, production)
	shadowLbls := shadowLabels(records, graph)
	report.ProductionEntities = distinctLabels(prodLabels)
	report.ShadowEntities = distinctLabels(shadowLbls)
	report.AdjustedRandIndex = metrics.AdjustedRandIndex(shadowLbls, prodLabels)
	report.VariationOfInfo = metrics.VariationOfInformation(shadowLbls, prodLabels)

	log.Printf("[Shadow] %d pairs scored, %d divergences, ARI=%.3f VI=%.3f",
		report.PairsScored, len(report.Divergences), report.AdjustedRandIndex, report.VariationOfInfo)
	return report, scanErr
}

// additiveScore evaluates one pair under the weighted-sum rule. Same
// channels, weights and gates as the production matcher; a shared
// entity_id still short-circuits at 1.0. The boolean reports whether
// the pair cleared the acceptance threshold.
func (r *Runner) additiveScore(a, b *models.EntityRecord) (float64, bool) {
	if a.EntityID != "" && a.EntityID == b.EntityID {
		return 1.0, true
	}

	var sum float64
	if a.CardID != "" && a.CardID == b.CardID {
		sum += 0.95
	}
	if a.DeviceHash != "" && a.DeviceHash == b.DeviceHash {
		sum += 0.90
	}
	if a.FaceID != "" && a.FaceID == b.FaceID {
		sum += 0.85
	}
	if a.Name != "" && b.Name != "" {
		if sim := resolver.NameSimilarity(a.Name, b.Name); sim >= r.cfg.NameSimilarityThreshold {
			sum += 0.8 * sim
		}
	}
	if a.Email != "" && b.Email != "" {
		if sim := resolver.EmailSimilarity(a.Email, b.Email); sim >= 0.8 {
			sum += 0.7 * sim
		}
	}
	if score := resolver.TemporalProximity(a, b, r.cfg.TimeWindowMinutes); score > 0.5 {
		sum += 0.6 * score
	}
	if overlap := resolver.LocationJaccard(a.Locations, b.Locations); overlap > 0.5 {
		sum += 0.5 * overlap
	}

	if sum > 1.0 {
		sum = 1.0
	}
	return sum, sum >= r.cfg.FuzzyMatchThreshold
}

// persistComparison writes one divergent pair to the database.
func (r *Runner) persistComparison(ctx context.Context, cmp *Comparison) error {
	sql := `INSERT INTO shadow_comparisons
		(src_record_id, dst_record_id, production_score, shadow_score,
		 production_accepted, shadow_accepted, delta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, sql,
		cmp.SrcRecordID,
		cmp.DstRecordID,
		cmp.ProductionScore,
		cmp.ShadowScore,
		cmp.ProductionAccepted,
		cmp.ShadowAccepted,
		cmp.Delta,
		cmp.CreatedAt,
	)
	return err
}

// DriftStats aggregates persisted divergences across shadow passes.
type DriftStats struct {
	TotalDivergences int     `json:"totalDivergences"`
	ShadowOnly       int     `json:"shadowOnly"` // pairs only the additive rule accepted
	AvgDelta         float64 `json:"avgDelta"`
}

// DriftReport computes divergence aggregates over everything persisted
// so far. Requires an attached database.
func (r *Runner) DriftReport(ctx context.Context) (DriftStats, error) {
	var stats DriftStats
	if r.pool == nil {
		return stats, errors.New("drift report requires a database")
	}

	sql := `SELECT
		COUNT(*) as total,
		COUNT(*) FILTER (WHERE shadow_accepted AND NOT production_accepted) as shadow_only,
		COALESCE(AVG(delta), 0) as avg_delta
	FROM shadow_comparisons`

	row := r.pool.QueryRow(ctx, sql)
	err := row.Scan(&stats.TotalDivergences, &stats.ShadowOnly, &stats.AvgDelta)
	return stats, err
}

// productionLabels maps each record to its resolved entity. Records
// the resolver dropped or never saw count as their own singletons.
func productionLabels(records []models.EntityRecord, production map[string]*models.ResolvedEntity) []string {
	byRecord := make(map[string]string)
	for unifiedID, entity := range production {
		for _, recordID := range entity.RecordIDs {
			byRecord[recordID] = unifiedID
		}
	}

	labels := make([]string, len(records))
	for i := range records {
		label, ok := byRecord[records[i].RecordID]
		if !ok {
			label = "solo_" + records[i].RecordID
		}
		labels[i] = label
	}
	return labels
}

// shadowLabels reads each record's component root from the shadow graph
func shadowLabels(records []models.EntityRecord, graph *resolver.SimilarityGraph) []string {
	labels := make([]string, len(records))
	for i := range records {
		labels[i] = graph.Find(records[i].RecordID)
	}
	return labels
}

func distinctLabels(labels []string) int {
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		seen[l] = true
	}
	return len(seen)
}
