package resolver

import (
	"sort"
	"time"

	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Record Extractor
//
// Projects the raw campus tables into the EntityRecord population the
// resolver matches over. The profile table contributes one record per
// roster row. Each secondary source contributes one aggregated record
// per distinct key:
//   card_swipes       -> one record per card_id
//   wifi_logs         -> one record per device_hash
//   cctv_frames       -> one record per face_id
//   notes             -> one record per entity_id
// Aggregates carry first_seen/last_seen, total event count and the
// set of locations or access points observed. A missing source simply
// contributes no records.

// ExtractRecords builds the full candidate-identity population from
// the loaded tables
func ExtractRecords(tables *models.Tables) []models.EntityRecord {
	var records []models.EntityRecord

	for _, p := range tables.Profiles {
		if p.EntityID == "" {
			continue
		}
		rec := models.EntityRecord{
			RecordID:      "profile_" + p.EntityID,
			SourceDataset: models.DatasetProfiles,
			EntityID:      p.EntityID,
			Name:          p.Name,
			Email:         p.Email,
			CardID:        p.CardID,
			DeviceHash:    p.DeviceHash,
			FaceID:        p.FaceID,
			StudentID:     p.StudentID,
			StaffID:       p.StaffID,
			Profile: &models.ProfileInfo{
				Role:       p.Role,
				Department: p.Department,
			},
		}
		if rec.Profile.Department == "" {
			rec.Profile.Department = "Unknown"
		}
		records = append(records, rec)
	}

	records = append(records, extractCardRecords(tables.CardSwipes)...)
	records = append(records, extractWiFiRecords(tables.WiFiLogs)...)
	records = append(records, extractFaceRecords(tables.CCTVFrames)...)
	records = append(records, extractNoteRecords(tables.Notes)...)

	return records
}

type aggregate struct {
	first     time.Time
	last      time.Time
	count     int
	locations map[string]bool
}

func (a *aggregate) observe(ts time.Time, location string) {
	if a.count == 0 || ts.Before(a.first) {
		a.first = ts
	}
	if a.count == 0 || ts.After(a.last) {
		a.last = ts
	}
	a.count++
	if location != "" {
		a.locations[location] = true
	}
}

func newAggregate() *aggregate {
	return &aggregate{locations: make(map[string]bool)}
}

func extractCardRecords(rows []models.CardSwipeRow) []models.EntityRecord {
	aggs := make(map[string]*aggregate)
	for _, row := range rows {
		if row.CardID == "" || row.Timestamp.IsZero() {
			continue
		}
		agg, ok := aggs[row.CardID]
		if !ok {
			agg = newAggregate()
			aggs[row.CardID] = agg
		}
		agg.observe(row.Timestamp, row.LocationID)
	}

	records := make([]models.EntityRecord, 0, len(aggs))
	for _, cardID := range sortedKeys(aggs) {
		agg := aggs[cardID]
		first, last := agg.first, agg.last
		records = append(records, models.EntityRecord{
			RecordID:      "card_" + cardID,
			SourceDataset: models.DatasetCardSwipes,
			CardID:        cardID,
			FirstSeen:     &first,
			LastSeen:      &last,
			Locations:     sortedSet(agg.locations),
			Usage:         &models.UsageSummary{EventCount: agg.count},
		})
	}
	return records
}

func extractWiFiRecords(rows []models.WiFiLogRow) []models.EntityRecord {
	aggs := make(map[string]*aggregate)
	for _, row := range rows {
		if row.DeviceHash == "" || row.Timestamp.IsZero() {
			continue
		}
		agg, ok := aggs[row.DeviceHash]
		if !ok {
			agg = newAggregate()
			aggs[row.DeviceHash] = agg
		}
		agg.observe(row.Timestamp, row.APID)
	}

	records := make([]models.EntityRecord, 0, len(aggs))
	for _, deviceHash := range sortedKeys(aggs) {
		agg := aggs[deviceHash]
		first, last := agg.first, agg.last
		records = append(records, models.EntityRecord{
			RecordID:      "wifi_" + deviceHash,
			SourceDataset: models.DatasetWiFiLogs,
			DeviceHash:    deviceHash,
			FirstSeen:     &first,
			LastSeen:      &last,
			Locations:     sortedSet(agg.locations),
			Usage:         &models.UsageSummary{EventCount: agg.count},
		})
	}
	return records
}

func extractFaceRecords(rows []models.CCTVFrameRow) []models.EntityRecord {
	aggs := make(map[string]*aggregate)
	for _, row := range rows {
		if row.FaceID == "" || row.Timestamp.IsZero() {
			continue
		}
		agg, ok := aggs[row.FaceID]
		if !ok {
			agg = newAggregate()
			aggs[row.FaceID] = agg
		}
		agg.observe(row.Timestamp, row.LocationID)
	}

	records := make([]models.EntityRecord, 0, len(aggs))
	for _, faceID := range sortedKeys(aggs) {
		agg := aggs[faceID]
		first, last := agg.first, agg.last
		records = append(records, models.EntityRecord{
			RecordID:      "face_" + faceID,
			SourceDataset: models.DatasetCCTVFrames,
			FaceID:        faceID,
			FirstSeen:     &first,
			LastSeen:      &last,
			Locations:     sortedSet(agg.locations),
			Usage:         &models.UsageSummary{EventCount: agg.count},
		})
	}
	return records
}

func extractNoteRecords(rows []models.NoteRow) []models.EntityRecord {
	type noteAgg struct {
		aggregate
		categories map[string]bool
	}
	aggs := make(map[string]*noteAgg)
	for _, row := range rows {
		if row.EntityID == "" || row.Timestamp.IsZero() {
			continue
		}
		agg, ok := aggs[row.EntityID]
		if !ok {
			agg = &noteAgg{
				aggregate:  aggregate{locations: make(map[string]bool)},
				categories: make(map[string]bool),
			}
			aggs[row.EntityID] = agg
		}
		agg.observe(row.Timestamp, "")
		if row.Category != "" {
			agg.categories[row.Category] = true
		}
	}

	records := make([]models.EntityRecord, 0, len(aggs))
	for _, entityID := range sortedKeys(aggs) {
		agg := aggs[entityID]
		first, last := agg.first, agg.last
		records = append(records, models.EntityRecord{
			RecordID:      "notes_" + entityID,
			SourceDataset: models.DatasetNotes,
			EntityID:      entityID,
			FirstSeen:     &first,
			LastSeen:      &last,
			Notes:         &models.NoteSummary{Categories: sortedSet(agg.categories)},
		})
	}
	return records
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
