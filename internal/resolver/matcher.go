package resolver

import (
	"math"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Pairwise Match Engine
//
// Scores every candidate record pair across six evidence channels, in
// priority order:
//   1. Direct entity_id equality  -> confidence 1.0, short-circuits
//   2. Shared card_id             -> 0.95
//   3. Shared device_hash         -> 0.90
//   4. Shared face_id             -> 0.85
//   5. Fuzzy name similarity      -> 0.80 x similarity (gated at 0.85)
//   6. Email similarity           -> 0.70 x similarity (gated at 0.80)
//   7. Temporal overlap           -> 0.60 x score      (gated at 0.50)
//   8. Location Jaccard           -> 0.50 x overlap    (gated at 0.50)
//
// Pair confidence is the MAX of the contributing channels, not the
// sum: each weight already encodes the evidentiary strength of its
// channel, and a strong identifier match must not be diluted or
// inflated by weak coincidences.
//
// References:
//   - Fellegi & Sunter, "A Theory for Record Linkage" (JASA 1969)
//   - Christen, "Data Matching" (Springer 2012) — survey of pairwise
//     comparison and blocking techniques

// Matcher evaluates record pairs under one resolver configuration
type Matcher struct {
	cfg config.ResolverConfig
}

// NewMatcher creates a pairwise match engine
func NewMatcher(cfg config.ResolverConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// MatchPair scores one record pair. The boolean reports whether the
// pair cleared the acceptance threshold.
func (m *Matcher) MatchPair(a, b *models.EntityRecord) (models.EntityMatch, bool) {
	match := models.EntityMatch{
		SrcRecordID: a.RecordID,
		DstRecordID: b.RecordID,
		SrcDataset:  a.SourceDataset,
		DstDataset:  b.SourceDataset,
	}

	// Ground truth from the roster: same entity_id is the same person
	if a.EntityID != "" && a.EntityID == b.EntityID {
		match.Confidence = 1.0
		match.MatchType = models.MatchDirectEntityID
		match.Evidence.EntityID = a.EntityID
		return match, true
	}

	var best float64
	contribute := func(score float64) {
		if score > best {
			best = score
		}
	}

	if a.CardID != "" && a.CardID == b.CardID {
		match.Evidence.CardIDMatch = true
		contribute(0.95)
	}
	if a.DeviceHash != "" && a.DeviceHash == b.DeviceHash {
		match.Evidence.DeviceHashMatch = true
		contribute(0.90)
	}
	if a.FaceID != "" && a.FaceID == b.FaceID {
		match.Evidence.FaceIDMatch = true
		contribute(0.85)
	}

	if a.Name != "" && b.Name != "" {
		sim := NameSimilarity(a.Name, b.Name)
		if sim >= m.cfg.NameSimilarityThreshold {
			match.Evidence.NameSimilarity = sim
			contribute(0.8 * sim)
		}
	}

	if a.Email != "" && b.Email != "" {
		sim := EmailSimilarity(a.Email, b.Email)
		if sim >= 0.8 {
			match.Evidence.EmailSimilarity = sim
			contribute(0.7 * sim)
		}
	}

	if score := TemporalProximity(a, b, m.cfg.TimeWindowMinutes); score > 0.5 {
		match.Evidence.TemporalProximity = score
		contribute(0.6 * score)
	}

	if overlap := LocationJaccard(a.Locations, b.Locations); overlap > 0.5 {
		match.Evidence.LocationOverlap = overlap
		contribute(0.5 * overlap)
	}

	if best < m.cfg.FuzzyMatchThreshold {
		return models.EntityMatch{}, false
	}

	match.Confidence = best
	match.MatchType = models.MatchFuzzy
	return match, true
}

// TemporalProximity scores how close two records' observation windows
// sit. Every timestamp pair across the two records is compared; the
// best pair wins. 1.0 = simultaneous, 0.0 = outside the window.
func TemporalProximity(a, b *models.EntityRecord, windowMinutes int) float64 {
	tsA := a.Timestamps()
	tsB := b.Timestamps()
	if len(tsA) == 0 || len(tsB) == 0 {
		return 0.0
	}

	window := float64(windowMinutes)
	best := 0.0
	for _, t1 := range tsA {
		for _, t2 := range tsB {
			diff := math.Abs(t1.Sub(t2).Minutes())
			if diff <= window {
				score := 1.0 - diff/window
				if score > best {
					best = score
				}
			}
		}
	}
	return best
}

// LocationJaccard computes |A ∩ B| / |A ∪ B| over two location sets
func LocationJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(a))
	for _, loc := range a {
		setA[loc] = true
	}

	intersection := 0
	union := len(setA)
	seenB := make(map[string]bool, len(b))
	for _, loc := range b {
		if seenB[loc] {
			continue
		}
		seenB[loc] = true
		if setA[loc] {
			intersection++
		} else {
			union++
		}
	}

	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
