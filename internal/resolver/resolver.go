package resolver

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Entity Resolution Engine
//
// Contracts the candidate-record population into resolved entities:
//   1. Pairwise matching over the (bounded) record population
//   2. Similarity graph construction from accepted matches
//   3. Connected-component contraction with a mean-edge-weight gate
//
// Components whose average edge weight falls below the fuzzy match
// threshold are dropped entirely rather than split: a weakly stitched
// cluster is evidence of over-merging, and emitting it would poison
// fusion downstream. Singletons are kept as their own entity with
// confidence 1.0.

// Resolver owns the similarity graph and the resolved entity table.
// The table is replaced atomically on each Resolve; readers never
// observe a half-built resolution.
type Resolver struct {
	cfg     config.ResolverConfig
	matcher *Matcher

	mu       sync.RWMutex
	entities map[string]*models.ResolvedEntity
	matches  []models.EntityMatch
	stats    models.ResolutionStats
}

// NewResolver creates a resolver with the given configuration
func NewResolver(cfg config.ResolverConfig) *Resolver {
	return &Resolver{
		cfg:      cfg,
		matcher:  NewMatcher(cfg),
		entities: make(map[string]*models.ResolvedEntity),
	}
}

// Resolve runs the full resolution pass and atomically replaces the
// entity table. On cancellation the partial resolution built so far
// is stored and returned alongside the context error.
func (r *Resolver) Resolve(ctx context.Context, records []models.EntityRecord) (map[string]*models.ResolvedEntity, error) {
	if r.cfg.MaxPairwiseRecords > 0 && len(records) > r.cfg.MaxPairwiseRecords {
		log.Printf("[Resolver] Capping pairwise scan at %d of %d records", r.cfg.MaxPairwiseRecords, len(records))
		records = records[:r.cfg.MaxPairwiseRecords]
	}
	log.Printf("[Resolver] Resolving %d candidate records", len(records))

	byID := make(map[string]*models.EntityRecord, len(records))
	graph := NewSimilarityGraph()
	for i := range records {
		rec := &records[i]
		byID[rec.RecordID] = rec
		graph.AddNode(rec.RecordID)
	}

	var matches []models.EntityMatch
	var scanErr error

pairScan:
	for i := 0; i < len(records); i++ {
		select {
		case <-ctx.Done():
			scanErr = ctx.Err()
			log.Printf("[Resolver] Cancelled after %d/%d records, contracting partial graph", i, len(records))
			break pairScan
		default:
		}

		for j := i + 1; j < len(records); j++ {
			match, ok := r.matcher.MatchPair(&records[i], &records[j])
			if !ok {
				continue
			}
			matches = append(matches, match)
			graph.AddEdge(match.SrcRecordID, match.DstRecordID, match.Confidence)
		}
	}

	entities, dropped := r.contract(graph, byID)

	stats := buildStats(entities, graph)
	r.mu.Lock()
	r.entities = entities
	r.matches = matches
	r.stats = stats
	r.mu.Unlock()

	log.Printf("[Resolver] Resolved %d entities from %d matches (%d merged, %d weak components dropped)",
		len(entities), len(matches), stats.MergedEntities, dropped)
	return entities, scanErr
}

// contract turns graph components into resolved entities. Returns the
// entity table and the number of dropped weak components.
func (r *Resolver) contract(graph *SimilarityGraph, byID map[string]*models.EntityRecord) (map[string]*models.ResolvedEntity, int) {
	components := graph.Components()

	kept := make([][]string, 0, len(components))
	dropped := 0
	for root, members := range components {
		if len(members) > 1 && graph.MeanEdgeWeight(root) < r.cfg.FuzzyMatchThreshold {
			dropped++
			continue
		}
		kept = append(kept, members)
	}

	// Deterministic numbering: order components by smallest member
	sort.Slice(kept, func(i, j int) bool { return kept[i][0] < kept[j][0] })

	entities := make(map[string]*models.ResolvedEntity, len(kept))
	for i, members := range kept {
		entity := buildEntity(i, members, byID, graph)
		entities[entity.UnifiedID] = entity
	}
	return entities, dropped
}

func buildEntity(index int, members []string, byID map[string]*models.EntityRecord, graph *SimilarityGraph) *models.ResolvedEntity {
	entityIDs := make(map[string]bool)
	names := make(map[string]bool)
	cardIDs := make(map[string]bool)
	deviceHashes := make(map[string]bool)
	faceIDs := make(map[string]bool)
	studentIDs := make(map[string]bool)
	staffIDs := make(map[string]bool)
	emails := make(map[string]bool)

	var primary *models.EntityRecord
	for _, recordID := range members {
		rec := byID[recordID]
		if rec == nil {
			continue
		}
		if rec.EntityID != "" {
			entityIDs[rec.EntityID] = true
		}
		if rec.Name != "" {
			names[rec.Name] = true
		}
		if rec.CardID != "" {
			cardIDs[rec.CardID] = true
		}
		if rec.DeviceHash != "" {
			deviceHashes[rec.DeviceHash] = true
		}
		if rec.FaceID != "" {
			faceIDs[rec.FaceID] = true
		}
		if rec.StudentID != "" {
			studentIDs[rec.StudentID] = true
		}
		if rec.StaffID != "" {
			staffIDs[rec.StaffID] = true
		}
		if rec.Email != "" {
			emails[rec.Email] = true
		}

		// Smallest entity_id among profile records owns the primary profile
		if rec.SourceDataset == models.DatasetProfiles {
			if primary == nil || rec.EntityID < primary.EntityID {
				primary = rec
			}
		}
	}

	confidence := 1.0
	if len(members) > 1 {
		confidence = graph.MeanEdgeWeight(graph.Find(members[0]))
	}

	return &models.ResolvedEntity{
		UnifiedID: unifiedID(index),
		EntityIDs: sortedSet(entityIDs),
		Names:     sortedSet(names),
		Identifiers: models.IdentifierSets{
			CardIDs:      sortedSet(cardIDs),
			DeviceHashes: sortedSet(deviceHashes),
			FaceIDs:      sortedSet(faceIDs),
			StudentIDs:   sortedSet(studentIDs),
			StaffIDs:     sortedSet(staffIDs),
			Emails:       sortedSet(emails),
		},
		Confidence:     confidence,
		RecordIDs:      members,
		PrimaryProfile: primary,
	}
}

func buildStats(entities map[string]*models.ResolvedEntity, graph *SimilarityGraph) models.ResolutionStats {
	stats := models.ResolutionStats{
		TotalResolvedEntities: len(entities),
		GraphNodes:            graph.NodeCount(),
		GraphEdges:            graph.EdgeCount(),
	}
	if len(entities) == 0 {
		return stats
	}

	totalConfidence := 0.0
	for _, e := range entities {
		if len(e.RecordIDs) > 1 {
			stats.MergedEntities++
		}
		totalConfidence += e.Confidence
	}
	stats.MergeRate = float64(stats.MergedEntities) / float64(len(entities))
	stats.AverageConfidence = totalConfidence / float64(len(entities))
	return stats
}

// Entities returns a snapshot of the current entity table
func (r *Resolver) Entities() map[string]*models.ResolvedEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]*models.ResolvedEntity, len(r.entities))
	for id, e := range r.entities {
		snapshot[id] = e
	}
	return snapshot
}

// Get returns one resolved entity by unified ID
func (r *Resolver) Get(unifiedID string) (*models.ResolvedEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[unifiedID]
	return e, ok
}

// FindByIdentifier scans the entity table for the entity claiming an
// identifier. An empty kind searches every identifier set; otherwise
// kind restricts the search to one set.
func (r *Resolver) FindByIdentifier(identifier, kind string) (*models.ResolvedEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := r.entities[id]
		if containsString(e.EntityIDs, identifier) {
			return e, true
		}
		if matchIdentifier(&e.Identifiers, identifier, kind) {
			return e, true
		}
	}
	return nil, false
}

func matchIdentifier(sets *models.IdentifierSets, identifier, kind string) bool {
	switch kind {
	case models.KindCardID:
		return containsString(sets.CardIDs, identifier)
	case models.KindDeviceHash:
		return containsString(sets.DeviceHashes, identifier)
	case models.KindFaceID:
		return containsString(sets.FaceIDs, identifier)
	case models.KindStudentID:
		return containsString(sets.StudentIDs, identifier)
	case models.KindStaffID:
		return containsString(sets.StaffIDs, identifier)
	case models.KindEmail:
		return containsString(sets.Emails, identifier)
	case "":
		return containsString(sets.CardIDs, identifier) ||
			containsString(sets.DeviceHashes, identifier) ||
			containsString(sets.FaceIDs, identifier) ||
			containsString(sets.StudentIDs, identifier) ||
			containsString(sets.StaffIDs, identifier) ||
			containsString(sets.Emails, identifier)
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Stats returns the statistics of the latest resolution pass
func (r *Resolver) Stats() models.ResolutionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Matches returns the accepted matches of the latest resolution pass
func (r *Resolver) Matches() []models.EntityMatch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.EntityMatch, len(r.matches))
	copy(out, r.matches)
	return out
}

func unifiedID(index int) string {
	const prefix = "unified_entity_"
	digits := [6]byte{'0', '0', '0', '0', '0', '0'}
	for i := 5; i >= 0 && index > 0; i-- {
		digits[i] = byte('0' + index%10)
		index /= 10
	}
	return prefix + string(digits[:])
}
