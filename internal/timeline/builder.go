package timeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Timeline Generation
//
// Fusion records are machine output: scored, clustered, but not a
// story. The timeline turns them into something an operator reads top
// to bottom:
//
//  1. Bound to the requested window and sort chronologically
//  2. Project each record into an event with a natural description
//  3. Merge bursts at one location (gap <= 5 min between neighbours)
//  4. Synthesise explicit gap markers where the trail goes cold for
//     longer than max_gap_hours
//
// Gap markers are first-class events with confidence 0 so downstream
// consumers can render silence instead of papering over it.

const tsLayout = "2006-01-02 15:04:05"

// mergeWindow is how close two same-location events must be to count
// as one visit
const mergeWindow = 5 * time.Minute

// gapOffset places a synthetic gap marker shortly after the last
// sighting, on the assumption activity wound down soon after
const gapOffset = 30 * time.Minute

// Generator builds chronological timelines and window summaries from
// fused records.
type Generator struct {
	cfg config.TimelineConfig
	now func() time.Time
}

// NewGenerator builds a timeline generator with the given tuning
func NewGenerator(cfg config.TimelineConfig) *Generator {
	return &Generator{cfg: cfg, now: time.Now}
}

// Generate builds the timeline for records, optionally bounded to
// [start, end]; zero bounds are open. The result interleaves merged
// activity events with synthetic gap markers, chronologically.
func (g *Generator) Generate(records []models.FusionRecord, start, end time.Time) []models.TimelineEvent {
	bounded := boundRecords(records, start, end)
	if len(bounded) == 0 {
		return nil
	}

	sort.Slice(bounded, func(i, j int) bool {
		return bounded[i].Timestamp.Before(bounded[j].Timestamp)
	})

	events := make([]models.TimelineEvent, 0, len(bounded))
	for i := range bounded {
		events = append(events, toTimelineEvent(&bounded[i]))
	}

	merged := mergeRelatedEvents(events)
	return g.insertGaps(merged)
}

func boundRecords(records []models.FusionRecord, start, end time.Time) []models.FusionRecord {
	bounded := make([]models.FusionRecord, 0, len(records))
	for _, record := range records {
		if !start.IsZero() && record.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && record.Timestamp.After(end) {
			continue
		}
		bounded = append(bounded, record)
	}
	return bounded
}

func toTimelineEvent(record *models.FusionRecord) models.TimelineEvent {
	sources := make([]string, 0, len(record.SourceRecords))
	for _, sr := range record.SourceRecords {
		sources = append(sources, string(sr.Dataset))
	}
	return models.TimelineEvent{
		Timestamp:   record.Timestamp,
		Location:    record.Location,
		Activity:    record.ActivityType,
		Description: describeRecord(record),
		Confidence:  record.Confidence,
		Sources:     sources,
	}
}

// describeRecord renders the operator-facing line for one fused record
func describeRecord(record *models.FusionRecord) string {
	name := config.LocationName(record.Location)

	switch {
	case record.ActivityType == "card_swipe":
		return "Accessed " + name + " using campus card"

	case record.ActivityType == "cctv_detection":
		return "Detected by CCTV camera at " + name

	case record.ActivityType == "wifi_connection":
		return "Connected to WiFi network at " + name

	case record.ActivityType == "lab_booking_start":
		if duration := bookingDuration(record); duration != "" {
			return "Started lab session at " + name + " for " + duration
		}
		return "Started lab session at " + name

	case record.ActivityType == "lab_booking_end":
		return "Ended lab session at " + name

	case record.ActivityType == "library_checkout":
		return "Checked out book at Library" + bookInfo(record)

	case strings.HasPrefix(record.ActivityType, "note_"):
		category := strings.TrimPrefix(record.ActivityType, "note_")
		return "Submitted " + category + " request: " + noteSummary(record)

	default:
		return "Activity at " + name + ": " + record.ActivityType
	}
}

// bookingDuration renders the booked span of a lab session, empty when
// the record carries no booking source
func bookingDuration(record *models.FusionRecord) string {
	for _, sr := range record.SourceRecords {
		if sr.Dataset != models.DatasetLabBookings {
			continue
		}
		minutes, err := strconv.ParseFloat(sr.Raw["duration_minutes"], 64)
		if err != nil {
			continue
		}
		if minutes < 60 {
			return fmt.Sprintf("%d minutes", int(minutes))
		}
		hours := int(minutes) / 60
		remainder := int(minutes) % 60
		if remainder > 0 {
			return fmt.Sprintf("%dh %dm", hours, remainder)
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return ""
}

func bookInfo(record *models.FusionRecord) string {
	for _, sr := range record.SourceRecords {
		if sr.Dataset != models.DatasetLibraryCheckouts {
			continue
		}
		if bookID := sr.Raw["book_id"]; bookID != "" {
			return " (Book ID: " + bookID + ")"
		}
		return ""
	}
	return ""
}

func noteSummary(record *models.FusionRecord) string {
	for _, sr := range record.SourceRecords {
		if sr.Dataset != models.DatasetNotes {
			continue
		}
		text := []rune(sr.Raw["text"])
		if len(text) > 50 {
			return string(text[:50]) + "..."
		}
		return string(text)
	}
	return "No details available"
}

// mergeRelatedEvents collapses bursts of same-location events whose
// chained gaps stay within the merge window
func mergeRelatedEvents(events []models.TimelineEvent) []models.TimelineEvent {
	if len(events) == 0 {
		return nil
	}

	var merged []models.TimelineEvent
	group := []models.TimelineEvent{events[0]}

	for _, event := range events[1:] {
		last := group[len(group)-1]
		if event.Location == last.Location && event.Timestamp.Sub(last.Timestamp) <= mergeWindow {
			group = append(group, event)
			continue
		}
		merged = append(merged, reduceGroup(group))
		group = []models.TimelineEvent{event}
	}
	return append(merged, reduceGroup(group))
}

// reduceGroup collapses one burst into a single event
func reduceGroup(group []models.TimelineEvent) models.TimelineEvent {
	if len(group) == 1 {
		return group[0]
	}

	first, last := group[0].Timestamp, group[0].Timestamp
	var confidenceSum float64
	locations := make([]string, len(group))
	activities := make([]string, len(group))
	for i, event := range group {
		if event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if event.Timestamp.After(last) {
			last = event.Timestamp
		}
		confidenceSum += event.Confidence
		locations[i] = event.Location
		activities[i] = event.Activity
	}

	var sources []string
	seenSource := make(map[string]bool)
	for _, event := range group {
		for _, src := range event.Sources {
			if !seenSource[src] {
				seenSource[src] = true
				sources = append(sources, src)
			}
		}
	}

	related := make([]string, 0, len(group)-1)
	for _, event := range group[1:] {
		related = append(related, event.Activity+"@"+event.Timestamp.Format(tsLayout))
	}

	location := modeString(locations)
	return models.TimelineEvent{
		Timestamp:       first,
		Location:        location,
		Activity:        modeString(activities),
		Description:     groupDescription(group, location),
		Confidence:      confidenceSum / float64(len(group)),
		Sources:         sources,
		DurationMinutes: last.Sub(first).Minutes(),
		RelatedEvents:   related,
	}
}

func groupDescription(group []models.TimelineEvent, location string) string {
	var unique []string
	seen := make(map[string]bool)
	for _, event := range group {
		if !seen[event.Activity] {
			seen[event.Activity] = true
			unique = append(unique, event.Activity)
		}
	}
	if len(unique) == 1 {
		return group[0].Description
	}

	shown := unique
	if len(shown) > 3 {
		shown = shown[:3]
	}
	description := "Multiple activities at " + config.LocationName(location) + ": " + strings.Join(shown, ", ")
	if len(unique) > 3 {
		description += fmt.Sprintf(" and %d more", len(unique)-3)
	}
	return description
}

// insertGaps adds a synthetic marker between consecutive events whose
// separation exceeds max_gap_hours
func (g *Generator) insertGaps(events []models.TimelineEvent) []models.TimelineEvent {
	if len(events) < 2 {
		return events
	}

	maxGap := time.Duration(g.cfg.MaxGapHours) * time.Hour
	enhanced := make([]models.TimelineEvent, 0, len(events))

	for i, event := range events {
		enhanced = append(enhanced, event)
		if i == len(events)-1 {
			break
		}
		gap := events[i+1].Timestamp.Sub(event.Timestamp)
		if gap > maxGap {
			enhanced = append(enhanced, gapEvent(event.Timestamp, gap))
		}
	}
	return enhanced
}

func gapEvent(previous time.Time, gap time.Duration) models.TimelineEvent {
	return models.TimelineEvent{
		Timestamp:       previous.Add(gapOffset),
		Location:        config.LocationUnknown,
		Activity:        models.ActivityGap,
		Description:     "No activity detected for " + formatGapDuration(gap),
		Confidence:      0,
		Sources:         []string{},
		DurationMinutes: gap.Minutes(),
	}
}

func formatGapDuration(gap time.Duration) string {
	total := int(gap.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
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
