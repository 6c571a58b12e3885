package timeline

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 1, 2, hour, min, 0, 0, time.UTC)
}

func record(ts time.Time, location, activity string, confidence float64, sources ...models.SourceDataset) models.FusionRecord {
	srs := make([]models.SourceRecord, len(sources))
	for i, src := range sources {
		srs[i] = models.SourceRecord{Dataset: src, EventType: activity, Timestamp: ts, Confidence: confidence, Raw: map[string]string{}}
	}
	return models.FusionRecord{
		UnifiedEntityID: "unified_entity_000000",
		Timestamp:       ts,
		Location:        location,
		ActivityType:    activity,
		Confidence:      confidence,
		SourceRecords:   srs,
	}
}

func TestDescribeRecord(t *testing.T) {
	tests := []struct {
		name     string
		record   models.FusionRecord
		expected string
	}{
		{
			"Card Swipe",
			record(at(9, 0), "LAB_101", "card_swipe", 0.95, models.DatasetCardSwipes),
			"Accessed Computer Lab 101 using campus card",
		},
		{
			"CCTV Detection",
			record(at(9, 0), "GYM", "cctv_detection", 0.85, models.DatasetCCTVFrames),
			"Detected by CCTV camera at Gymnasium",
		},
		{
			"WiFi Connection",
			record(at(9, 0), "LIB_ENT", "wifi_connection", 0.75, models.DatasetWiFiLogs),
			"Connected to WiFi network at Library Entrance",
		},
		{
			"Booking End",
			record(at(16, 0), "LAB_305", "lab_booking_end", 0.90, models.DatasetLabBookings),
			"Ended lab session at Research Lab 305",
		},
		{
			"Unregistered Location",
			record(at(9, 0), "PHY_AREA", "wifi_connection", 0.75, models.DatasetWiFiLogs),
			"Connected to WiFi network at PHY_AREA",
		},
		{
			"Unrecognised Activity",
			record(at(9, 0), "GYM", "turnstile_pass", 0.9),
			"Activity at Gymnasium: turnstile_pass",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeRecord(&tt.record); got != tt.expected {
				t.Errorf("describeRecord() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDescribeRecord_BookingDuration(t *testing.T) {
	tests := []struct {
		name     string
		minutes  string
		expected string
	}{
		{"Under An Hour", "45", "Started lab session at Research Lab 305 for 45 minutes"},
		{"Whole Hours", "120", "Started lab session at Research Lab 305 for 2 hours"},
		{"Hours And Minutes", "90", "Started lab session at Research Lab 305 for 1h 30m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := record(at(14, 0), "LAB_305", "lab_booking_start", 0.90, models.DatasetLabBookings)
			r.SourceRecords[0].Raw["duration_minutes"] = tt.minutes
			if got := describeRecord(&r); got != tt.expected {
				t.Errorf("describeRecord() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDescribeRecord_LibraryAndNotes(t *testing.T) {
	checkout := record(at(17, 0), "LIB_ENT", "library_checkout", 0.85, models.DatasetLibraryCheckouts)
	checkout.SourceRecords[0].Raw["book_id"] = "B42"
	if got := describeRecord(&checkout); got != "Checked out book at Library (Book ID: B42)" {
		t.Errorf("Unexpected checkout description: %q", got)
	}

	note := record(at(18, 0), "UNKNOWN", "note_helpdesk", 0.70, models.DatasetNotes)
	note.SourceRecords[0].Raw["text"] = "Printer broken"
	if got := describeRecord(&note); got != "Submitted helpdesk request: Printer broken" {
		t.Errorf("Unexpected note description: %q", got)
	}

	long := record(at(18, 0), "UNKNOWN", "note_helpdesk", 0.70, models.DatasetNotes)
	long.SourceRecords[0].Raw["text"] = strings.Repeat("a", 60)
	got := describeRecord(&long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Expected truncated note text, got %q", got)
	}
	if want := "Submitted helpdesk request: " + strings.Repeat("a", 50) + "..."; got != want {
		t.Errorf("describeRecord() = %q, want %q", got, want)
	}
}

func TestGenerate_MergesSameLocationBurst(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)

	records := []models.FusionRecord{
		record(at(9, 0), "LAB_101", "card_swipe", 0.95, models.DatasetCardSwipes),
		record(at(9, 3), "LAB_101", "cctv_detection", 0.85, models.DatasetCCTVFrames),
		record(at(9, 6), "LAB_101", "wifi_connection", 0.75, models.DatasetWiFiLogs),
	}

	events := g.Generate(records, time.Time{}, time.Time{})
	if len(events) != 1 {
		t.Fatalf("Expected 1 merged event, got %d", len(events))
	}

	merged := events[0]
	if !merged.Timestamp.Equal(at(9, 0)) {
		t.Errorf("Expected earliest timestamp, got %v", merged.Timestamp)
	}
	if merged.Location != "LAB_101" {
		t.Errorf("Expected LAB_101, got %q", merged.Location)
	}
	if math.Abs(merged.DurationMinutes-6.0) > 0.001 {
		t.Errorf("Expected 6-minute span, got %f", merged.DurationMinutes)
	}
	if math.Abs(merged.Confidence-(0.95+0.85+0.75)/3) > 0.001 {
		t.Errorf("Expected mean confidence, got %f", merged.Confidence)
	}
	if len(merged.Sources) != 3 {
		t.Errorf("Expected union of 3 sources, got %v", merged.Sources)
	}
	if len(merged.RelatedEvents) != 2 {
		t.Fatalf("Expected 2 related events, got %v", merged.RelatedEvents)
	}
	if merged.RelatedEvents[0] != "cctv_detection@2025-01-02 09:03:00" {
		t.Errorf("Unexpected related event: %q", merged.RelatedEvents[0])
	}
	if !strings.HasPrefix(merged.Description, "Multiple activities at Computer Lab 101: ") {
		t.Errorf("Unexpected merged description: %q", merged.Description)
	}
}

func TestGenerate_NoMergeAcrossLocations(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)

	records := []models.FusionRecord{
		record(at(9, 0), "LAB_101", "card_swipe", 0.95, models.DatasetCardSwipes),
		record(at(9, 2), "LIB_ENT", "card_swipe", 0.95, models.DatasetCardSwipes),
	}

	events := g.Generate(records, time.Time{}, time.Time{})
	if len(events) != 2 {
		t.Fatalf("Expected 2 events across locations, got %d", len(events))
	}
}

func TestGenerate_GapInsertion(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)

	records := []models.FusionRecord{
		record(at(9, 0), "LAB_101", "card_swipe", 0.95, models.DatasetCardSwipes),
		record(at(13, 0), "LIB_ENT", "card_swipe", 0.95, models.DatasetCardSwipes),
	}

	events := g.Generate(records, time.Time{}, time.Time{})
	if len(events) != 3 {
		t.Fatalf("Expected 2 events plus 1 gap, got %d", len(events))
	}

	gap := events[1]
	if !gap.IsGap() {
		t.Fatalf("Expected middle event to be a gap, got %+v", gap)
	}
	if !gap.Timestamp.Equal(at(9, 30)) {
		t.Errorf("Expected gap anchored 30 minutes after last sighting, got %v", gap.Timestamp)
	}
	if gap.Location != config.LocationUnknown {
		t.Errorf("Expected UNKNOWN gap location, got %q", gap.Location)
	}
	if gap.Confidence != 0 {
		t.Errorf("Expected zero gap confidence, got %f", gap.Confidence)
	}
	if math.Abs(gap.DurationMinutes-240.0) > 0.001 {
		t.Errorf("Expected 240-minute gap, got %f", gap.DurationMinutes)
	}
	if gap.Description != "No activity detected for 4h" {
		t.Errorf("Unexpected gap description: %q", gap.Description)
	}
}

func TestGenerate_ShortGapNotInserted(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)

	// 90 minutes is under the 2-hour gap threshold
	records := []models.FusionRecord{
		record(at(9, 0), "LAB_101", "card_swipe", 0.95, models.DatasetCardSwipes),
		record(at(10, 30), "LIB_ENT", "card_swipe", 0.95, models.DatasetCardSwipes),
	}

	events := g.Generate(records, time.Time{}, time.Time{})
	if len(events) != 2 {
		t.Fatalf("Expected no gap insertion, got %d events", len(events))
	}
}

func TestGenerate_Bounded(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)

	records := []models.FusionRecord{
		record(at(8, 0), "LAB_101", "card_swipe", 0.95, models.DatasetCardSwipes),
		record(at(10, 0), "LIB_ENT", "card_swipe", 0.95, models.DatasetCardSwipes),
		record(at(12, 0), "GYM", "card_swipe", 0.95, models.DatasetCardSwipes),
	}

	events := g.Generate(records, at(9, 0), at(11, 0))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event inside bounds, got %d", len(events))
	}
	if events[0].Location != "LIB_ENT" {
		t.Errorf("Expected the 10:00 event, got %+v", events[0])
	}
}

func TestGenerate_Empty(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)
	if events := g.Generate(nil, time.Time{}, time.Time{}); len(events) != 0 {
		t.Errorf("Expected empty timeline, got %d events", len(events))
	}
}

func timelineEvent(ts time.Time, location, activity string, confidence float64) models.TimelineEvent {
	return models.TimelineEvent{
		Timestamp:   ts,
		Location:    location,
		Activity:    activity,
		Description: activity,
		Confidence:  confidence,
		Sources:     []string{"card_swipes"},
	}
}

func TestSummarize_Narrative(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)
	g.now = func() time.Time { return at(12, 30) }

	events := []models.TimelineEvent{
		timelineEvent(at(9, 0), "LAB_101", "card_swipe", 0.95),
		timelineEvent(at(10, 0), "LAB_101", "card_swipe", 0.95),
		timelineEvent(at(11, 0), "LAB_101", "card_swipe", 0.95),
		timelineEvent(at(12, 0), "LIB_ENT", "wifi_connection", 0.75),
	}

	summary := g.Summarize("unified_entity_000000", events, 0)

	if summary.TotalEvents != 4 {
		t.Errorf("Expected 4 events in window, got %d", summary.TotalEvents)
	}
	if len(summary.LocationsVisited) != 2 {
		t.Errorf("Expected 2 locations, got %v", summary.LocationsVisited)
	}

	want := "Activity summary on January 02, 2025. " +
		"Visited Computer Lab 101 and Library Entrance. " +
		"Recorded 3 accesses, 1 WiFi connection. " +
		"Last seen 30 minutes ago at Library Entrance."
	if summary.SummaryText != want {
		t.Errorf("SummaryText = %q, want %q", summary.SummaryText, want)
	}
}

func TestSummarize_WindowExcludesOldAndGapEvents(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)
	g.now = func() time.Time { return at(13, 0) }

	old := timelineEvent(time.Date(2024, 12, 30, 9, 0, 0, 0, time.UTC), "GYM", "card_swipe", 0.9)
	gap := models.TimelineEvent{
		Timestamp:       at(10, 0),
		Location:        config.LocationUnknown,
		Activity:        models.ActivityGap,
		Confidence:      0,
		DurationMinutes: 240,
	}
	recent := timelineEvent(at(12, 0), "LAB_101", "card_swipe", 0.95)

	summary := g.Summarize("unified_entity_000000", []models.TimelineEvent{old, gap, recent}, 0)

	if summary.TotalEvents != 1 {
		t.Errorf("Expected only the recent non-gap event, got %d", summary.TotalEvents)
	}
	if len(summary.Gaps) != 1 {
		t.Fatalf("Expected 1 gap interval, got %d", len(summary.Gaps))
	}
	if !summary.Gaps[0].End.Equal(at(14, 0)) {
		t.Errorf("Expected gap to end at 14:00, got %v", summary.Gaps[0].End)
	}
	if math.Abs(summary.ConfidenceScore-0.95) > 0.001 {
		t.Errorf("Expected confidence from recent events only, got %f", summary.ConfidenceScore)
	}
}

func TestSummarize_Empty(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)

	summary := g.Summarize("unified_entity_000000", nil, 0)
	if summary.SummaryText != "No activity recorded" {
		t.Errorf("Unexpected summary text: %q", summary.SummaryText)
	}
	if summary.TotalEvents != 0 {
		t.Errorf("Expected zero events, got %d", summary.TotalEvents)
	}
}

func TestSummarize_LastSeenHours(t *testing.T) {
	g := NewGenerator(config.Default().Timeline)
	g.now = func() time.Time { return at(23, 0) }

	events := []models.TimelineEvent{timelineEvent(at(9, 0), "LAB_101", "card_swipe", 0.95)}
	summary := g.Summarize("unified_entity_000000", events, 0)

	if !strings.Contains(summary.SummaryText, "Last seen 14 hours ago at Computer Lab 101") {
		t.Errorf("Expected hours-ago phrasing, got %q", summary.SummaryText)
	}
}

func TestComputeStatistics(t *testing.T) {
	events := []models.TimelineEvent{
		timelineEvent(at(9, 0), "LAB_101", "card_swipe", 0.9),
		{
			Timestamp:       at(9, 30),
			Location:        config.LocationUnknown,
			Activity:        models.ActivityGap,
			DurationMinutes: 240,
		},
		timelineEvent(at(13, 0), "LIB_ENT", "wifi_connection", 0.7),
	}

	stats := ComputeStatistics(events)

	if stats.TotalEvents != 2 {
		t.Errorf("Expected 2 real events, got %d", stats.TotalEvents)
	}
	if stats.TotalGaps != 1 {
		t.Errorf("Expected 1 gap, got %d", stats.TotalGaps)
	}
	if math.Abs(stats.TimeSpanHours-4.0) > 0.001 {
		t.Errorf("Expected 4-hour span, got %f", stats.TimeSpanHours)
	}
	if math.Abs(stats.TotalGapHours-4.0) > 0.001 {
		t.Errorf("Expected 4 gap hours, got %f", stats.TotalGapHours)
	}
	if math.Abs(stats.DataCoverage-0.0) > 0.001 {
		t.Errorf("Expected zero coverage for a fully gapped span, got %f", stats.DataCoverage)
	}
	if math.Abs(stats.AverageConfidence-0.8) > 0.001 {
		t.Errorf("Expected mean confidence 0.8, got %f", stats.AverageConfidence)
	}
	if stats.UniqueLocations != 2 {
		t.Errorf("Expected 2 unique locations, got %d", stats.UniqueLocations)
	}
}
