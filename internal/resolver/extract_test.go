package resolver

import (
	"testing"
	"time"

	"github.com/campustrace/sentinel-engine/pkg/models"
)

func TestExtractRecords_AggregatesPerKey(t *testing.T) {
	t0 := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	tables := &models.Tables{
		Profiles: []models.ProfileRow{
			{EntityID: "E1001", Name: "Neha Mehta", Role: "student", Department: "CS", CardID: "C100"},
		},
		CardSwipes: []models.CardSwipeRow{
			{CardID: "C100", LocationID: "LIB_ENT", Timestamp: t0.Add(3 * time.Hour)},
			{CardID: "C100", LocationID: "LAB_101", Timestamp: t0},
			{CardID: "", LocationID: "LAB_101", Timestamp: t0}, // unusable, no key
		},
		WiFiLogs: []models.WiFiLogRow{
			{DeviceHash: "D77", APID: "AP_LIB_1", Timestamp: t0.Add(time.Hour)},
		},
		Notes: []models.NoteRow{
			{EntityID: "E1001", Category: "counseling", Timestamp: t0},
		},
	}

	records := ExtractRecords(tables)
	if len(records) != 4 {
		t.Fatalf("Expected 4 records (profile, card, wifi, notes). Got: %d", len(records))
	}

	byID := make(map[string]models.EntityRecord, len(records))
	for _, rec := range records {
		byID[rec.RecordID] = rec
	}

	profile, ok := byID["profile_E1001"]
	if !ok {
		t.Fatal("Missing profile_E1001 record")
	}
	if profile.Profile == nil || profile.Profile.Department != "CS" {
		t.Error("Expected profile record to carry roster attributes")
	}

	card, ok := byID["card_C100"]
	if !ok {
		t.Fatal("Missing card_C100 aggregate")
	}
	if card.FirstSeen == nil || !card.FirstSeen.Equal(t0) {
		t.Errorf("Expected first seen %v. Got: %v", t0, card.FirstSeen)
	}
	if card.LastSeen == nil || !card.LastSeen.Equal(t0.Add(3*time.Hour)) {
		t.Errorf("Expected last seen %v. Got: %v", t0.Add(3*time.Hour), card.LastSeen)
	}
	if len(card.Locations) != 2 || card.Locations[0] != "LAB_101" || card.Locations[1] != "LIB_ENT" {
		t.Errorf("Expected sorted locations [LAB_101 LIB_ENT]. Got: %v", card.Locations)
	}
	if card.Usage == nil || card.Usage.EventCount != 2 {
		t.Error("Expected card aggregate to count 2 swipes")
	}

	if _, ok := byID["wifi_D77"]; !ok {
		t.Error("Missing wifi_D77 aggregate")
	}

	notes, ok := byID["notes_E1001"]
	if !ok {
		t.Fatal("Missing notes_E1001 aggregate")
	}
	if notes.EntityID != "E1001" {
		t.Errorf("Expected notes record to carry the entity id. Got: %q", notes.EntityID)
	}
	if notes.Notes == nil || len(notes.Notes.Categories) != 1 || notes.Notes.Categories[0] != "counseling" {
		t.Error("Expected note categories [counseling]")
	}
}

func TestExtractRecords_DefaultsUnknownDepartment(t *testing.T) {
	tables := &models.Tables{
		Profiles: []models.ProfileRow{{EntityID: "E1001", Name: "Neha Mehta", Role: "student"}},
	}
	records := ExtractRecords(tables)
	if len(records) != 1 {
		t.Fatalf("Expected 1 record. Got: %d", len(records))
	}
	if records[0].Profile.Department != "Unknown" {
		t.Errorf("Expected department to default to Unknown. Got: %q", records[0].Profile.Department)
	}
}
