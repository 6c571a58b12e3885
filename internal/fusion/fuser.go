package fusion

import (
	"log"
	"math"
	"sort"
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Multi-Modal Fusion
//
// A person crossing campus leaves correlated traces in independent
// systems within minutes of each other: a badge swipe at a lab door,
// a face detection inside, a WiFi association on the lab AP. Fusion
// turns those per-source events into one coherent observation:
//
//  1. Extract: project each source row into an ActivityEvent
//  2. Cluster: greedy temporal grouping, chain gap <= max_time_gap
//  3. Fuse: elect a location and activity per cluster, score it,
//     attach cross-source evidence and per-source provenance
//  4. Validate: drop records below confidence_threshold
//
// The confidence model rewards agreement and punishes spread:
//
//	(mean base + source bonus) x location consistency x temporal consistency + face bonus
//
// capped at 1.0. Source bonus is 0.05 per distinct dataset up to
// 0.20. Face bonus is 0.10 when a CCTV detection in the cluster
// carries an embedding that matches the entity's reference face
// vector above face_similarity_threshold.

const tsLayout = "2006-01-02 15:04:05"

// Fuser fuses per-source activity events into scored multi-source
// observations of resolved entities.
type Fuser struct {
	cfg config.FusionConfig
}

// NewFuser builds a fuser with the given tuning
func NewFuser(cfg config.FusionConfig) *Fuser {
	return &Fuser{cfg: cfg}
}

// FuseEntity extracts, clusters and fuses every observation claimed
// by entity. embeddings maps face_id to embedding vector and may be
// nil. Records come back chronologically ordered and filtered to the
// confidence threshold.
func (f *Fuser) FuseEntity(entity *models.ResolvedEntity, tables *models.Tables, embeddings map[string][]float64) []models.FusionRecord {
	events := ExtractEvents(entity, tables)
	reference := ReferenceEmbedding(entity, embeddings)
	return f.FuseEvents(events, reference, embeddings)
}

// FuseEvents clusters and fuses pre-extracted events. All events must
// belong to the same resolved entity.
func (f *Fuser) FuseEvents(events []models.ActivityEvent, reference []float64, embeddings map[string][]float64) []models.FusionRecord {
	clusters := f.clusterEvents(events)

	records := make([]models.FusionRecord, 0, len(clusters))
	for _, cluster := range clusters {
		record, ok := f.fuseCluster(cluster, reference, embeddings)
		if !ok {
			continue
		}
		if record.Confidence < f.cfg.ConfidenceThreshold {
			log.Printf("[Fusion] Filtered record with low confidence: %.3f", record.Confidence)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records
}

// clusterEvents groups time-sorted events greedily: an event joins the
// current cluster while its gap to the cluster's latest member stays
// within max_time_gap_minutes.
func (f *Fuser) clusterEvents(events []models.ActivityEvent) [][]models.ActivityEvent {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]models.ActivityEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	maxGap := time.Duration(f.cfg.MaxTimeGapMinutes) * time.Minute
	var clusters [][]models.ActivityEvent
	current := []models.ActivityEvent{sorted[0]}

	for _, event := range sorted[1:] {
		if event.Timestamp.Sub(current[len(current)-1].Timestamp) <= maxGap {
			current = append(current, event)
			continue
		}
		clusters = append(clusters, current)
		current = []models.ActivityEvent{event}
	}
	return append(clusters, current)
}

// fuseCluster reduces one temporal cluster to a fusion record. Empty
// clusters yield no record.
func (f *Fuser) fuseCluster(cluster []models.ActivityEvent, reference []float64, embeddings map[string][]float64) (models.FusionRecord, bool) {
	if len(cluster) == 0 {
		return models.FusionRecord{}, false
	}

	timestamp := cluster[0].Timestamp
	for _, event := range cluster[1:] {
		if event.Timestamp.Before(timestamp) {
			timestamp = event.Timestamp
		}
	}

	face := f.validateFace(cluster, reference, embeddings)

	provenance := make(map[string]string, len(cluster))
	sourceRecords := make([]models.SourceRecord, 0, len(cluster))
	for _, event := range cluster {
		provenance[string(event.SourceDataset)] = event.EventType + " at " + event.Timestamp.Format(tsLayout)
		sourceRecords = append(sourceRecords, models.SourceRecord{
			Dataset:    event.SourceDataset,
			EventType:  event.EventType,
			Timestamp:  event.Timestamp,
			Confidence: event.Confidence,
			Raw:        event.Raw,
		})
	}

	record := models.FusionRecord{
		UnifiedEntityID: cluster[0].UnifiedEntityID,
		Timestamp:       timestamp,
		Location:        electLocation(cluster),
		ActivityType:    modeString(eventTypes(cluster)),
		Confidence:      f.clusterConfidence(cluster, face),
		SourceRecords:   sourceRecords,
		Provenance:      provenance,
		Evidence:        buildEvidence(cluster, face),
	}
	return record, true
}

// electLocation picks the cluster location by mean confidence x count.
// UNKNOWN never competes unless every event is unknown.
func electLocation(cluster []models.ActivityEvent) string {
	type tally struct {
		sum   float64
		count int
	}
	scores := make(map[string]*tally)
	var order []string
	for _, event := range cluster {
		if event.Location == config.LocationUnknown {
			continue
		}
		t, ok := scores[event.Location]
		if !ok {
			t = &tally{}
			scores[event.Location] = t
			order = append(order, event.Location)
		}
		t.sum += event.Confidence
		t.count++
	}
	if len(order) == 0 {
		return config.LocationUnknown
	}

	best := order[0]
	bestScore := math.Inf(-1)
	for _, loc := range order {
		t := scores[loc]
		score := t.sum / float64(t.count) * float64(t.count)
		if score > bestScore {
			best, bestScore = loc, score
		}
	}
	return best
}

// clusterConfidence scores a cluster per the fusion confidence model
func (f *Fuser) clusterConfidence(cluster []models.ActivityEvent, face *models.FaceRecognition) float64 {
	if len(cluster) == 0 {
		return 0
	}

	var sum float64
	sources := make(map[models.SourceDataset]bool)
	for _, event := range cluster {
		sum += event.Confidence
		sources[event.SourceDataset] = true
	}
	base := sum / float64(len(cluster))
	sourceBonus := math.Min(0.2, float64(len(sources))*0.05)

	locationConsistency := 1.0
	if len(distinctKnownLocations(cluster)) > 1 {
		locationConsistency = 0.8
	}

	temporalConsistency := 1.0
	if len(cluster) > 1 {
		span := timeSpanMinutes(cluster)
		temporalConsistency = math.Max(0.5, 1.0-span/float64(f.cfg.MaxTimeGapMinutes))
	}

	faceBonus := 0.0
	if face != nil && face.Verified {
		faceBonus = 0.1
	}

	return math.Min(1.0, (base+sourceBonus)*locationConsistency*temporalConsistency+faceBonus)
}

// buildEvidence attaches the cross-source consistency signals
func buildEvidence(cluster []models.ActivityEvent, face *models.FaceRecognition) models.FusionEvidence {
	evidence := models.FusionEvidence{FaceRecognition: face}

	if len(cluster) > 1 {
		span := timeSpanMinutes(cluster)
		strength := "low"
		switch {
		case span <= 5:
			strength = "high"
		case span <= 15:
			strength = "medium"
		}
		evidence.TemporalCorrelation = &models.TemporalCorrelation{
			TimeSpanMinutes:     span,
			EventCount:          len(cluster),
			CorrelationStrength: strength,
		}
	}

	if known := distinctKnownLocations(cluster); len(known) > 0 {
		consistency := "low"
		switch {
		case len(known) == 1:
			consistency = "high"
		case len(known) <= 2:
			consistency = "medium"
		}
		evidence.LocationCorrelation = &models.LocationCorrelation{
			Locations:   known,
			Consistency: consistency,
		}
	}

	var sources []string
	seen := make(map[models.SourceDataset]bool)
	for _, event := range cluster {
		if !seen[event.SourceDataset] {
			seen[event.SourceDataset] = true
			sources = append(sources, string(event.SourceDataset))
		}
	}
	evidence.SourceDiversity = &models.SourceDiversity{
		Sources:        sources,
		DiversityScore: float64(len(sources)) / float64(len(cluster)),
	}

	types := eventTypes(cluster)
	evidence.ActivityPattern = &models.ActivityPattern{
		Types:           types,
		PrimaryActivity: modeString(types),
	}

	return evidence
}

// validateFace checks CCTV detections in the cluster against the
// entity's reference face vector. The best-scoring detection wins;
// nil when the cluster has no usable detection or no reference exists.
func (f *Fuser) validateFace(cluster []models.ActivityEvent, reference []float64, embeddings map[string][]float64) *models.FaceRecognition {
	if len(reference) == 0 || len(embeddings) == 0 {
		return nil
	}

	var best *models.FaceRecognition
	for _, event := range cluster {
		if event.EventType != "cctv_detection" {
			continue
		}
		faceID := event.Raw["face_id"]
		if faceID == "" {
			continue
		}
		embedding, ok := embeddings[faceID]
		if !ok {
			continue
		}
		similarity := CosineSimilarity(reference, embedding)
		if best == nil || similarity > best.Similarity {
			best = &models.FaceRecognition{
				FaceID:     faceID,
				Similarity: similarity,
				Verified:   similarity > f.cfg.FaceSimilarityThreshold,
			}
		}
	}
	return best
}

// ReferenceEmbedding builds the entity's reference face vector: the
// component-wise mean of every embedding the entity claims. Nil when
// the entity claims no embedded face.
func ReferenceEmbedding(entity *models.ResolvedEntity, embeddings map[string][]float64) []float64 {
	if len(embeddings) == 0 {
		return nil
	}

	var reference []float64
	count := 0
	for _, faceID := range entity.Identifiers.FaceIDs {
		embedding, ok := embeddings[faceID]
		if !ok {
			continue
		}
		if reference == nil {
			reference = make([]float64, len(embedding))
		}
		for i, v := range embedding {
			if i < len(reference) {
				reference[i] += v
			}
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range reference {
		reference[i] /= float64(count)
	}
	return reference
}

// CosineSimilarity computes the cosine of the angle between two
// vectors, 0 when either has no magnitude or lengths differ
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func distinctKnownLocations(cluster []models.ActivityEvent) []string {
	seen := make(map[string]bool)
	var known []string
	for _, event := range cluster {
		if event.Location == config.LocationUnknown || seen[event.Location] {
			continue
		}
		seen[event.Location] = true
		known = append(known, event.Location)
	}
	return known
}

func eventTypes(cluster []models.ActivityEvent) []string {
	types := make([]string, len(cluster))
	for i, event := range cluster {
		types[i] = event.EventType
	}
	return types
}

// modeString returns the most frequent value; first occurrence wins ties
func modeString(values []string) string {
	if len(values) == 0 {
		return ""
	}
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	best := values[0]
	for _, v := range values {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}

func timeSpanMinutes(cluster []models.ActivityEvent) float64 {
	min, max := cluster[0].Timestamp, cluster[0].Timestamp
	for _, event := range cluster[1:] {
		if event.Timestamp.Before(min) {
			min = event.Timestamp
		}
		if event.Timestamp.After(max) {
			max = event.Timestamp
		}
	}
	return max.Sub(min).Minutes()
}
