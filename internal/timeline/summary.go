package timeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Summarize digests the timeline for one window, anchored at the
// latest event. windowHours <= 0 falls back to the configured summary
// window. Gap markers are excluded from the aggregates but reported as
// intervals.
func (g *Generator) Summarize(entityID string, events []models.TimelineEvent, windowHours int) models.TimelineSummary {
	if len(events) == 0 {
		now := g.now()
		return models.TimelineSummary{
			EntityID:          entityID,
			StartTime:         now,
			EndTime:           now,
			LocationsVisited:  []string{},
			PrimaryActivities: []string{},
			SummaryText:       "No activity recorded",
			Gaps:              []models.GapInterval{},
		}
	}

	if windowHours <= 0 {
		windowHours = g.cfg.SummaryWindowHours
	}

	end := events[0].Timestamp
	for _, event := range events[1:] {
		if event.Timestamp.After(end) {
			end = event.Timestamp
		}
	}
	start := end.Add(-time.Duration(windowHours) * time.Hour)

	var recent []models.TimelineEvent
	for _, event := range events {
		if !event.Timestamp.Before(start) && !event.IsGap() {
			recent = append(recent, event)
		}
	}

	locations := distinctLocations(recent)
	activities := distinctActivities(recent)

	confidence := 0.0
	if len(recent) > 0 {
		var sum float64
		for _, event := range recent {
			sum += event.Confidence
		}
		confidence = sum / float64(len(recent))
	}

	gaps := make([]models.GapInterval, 0)
	for _, event := range events {
		if event.IsGap() && event.DurationMinutes > 0 {
			gaps = append(gaps, models.GapInterval{
				Start: event.Timestamp,
				End:   event.Timestamp.Add(time.Duration(event.DurationMinutes * float64(time.Minute))),
			})
		}
	}

	return models.TimelineSummary{
		EntityID:          entityID,
		StartTime:         start,
		EndTime:           end,
		TotalEvents:       len(recent),
		LocationsVisited:  locations,
		PrimaryActivities: activities,
		SummaryText:       g.narrative(recent, locations),
		ConfidenceScore:   confidence,
		Gaps:              gaps,
	}
}

// narrative renders the summary paragraph: window, places, activity
// counts, and a last-seen line against wall-clock now.
func (g *Generator) narrative(events []models.TimelineEvent, locations []string) string {
	if len(events) == 0 {
		return "No recent activity detected."
	}

	first, last := events[0], events[0]
	for _, event := range events[1:] {
		if event.Timestamp.Before(first.Timestamp) {
			first = event
		}
		if event.Timestamp.After(last.Timestamp) {
			last = event
		}
	}

	var parts []string

	if sameDate(first.Timestamp, last.Timestamp) {
		parts = append(parts, "Activity summary on "+first.Timestamp.Format("January 02, 2006"))
	} else {
		parts = append(parts, "Activity summary from "+first.Timestamp.Format("January 02")+
			" to "+last.Timestamp.Format("January 02, 2006"))
	}

	if line := locationLine(locations); line != "" {
		parts = append(parts, line)
	}
	if line := activityLine(events); line != "" {
		parts = append(parts, line)
	}
	parts = append(parts, g.lastSeenLine(last))

	return strings.Join(parts, ". ") + "."
}

func locationLine(locations []string) string {
	if len(locations) == 0 {
		return ""
	}

	names := make([]string, 0, 3)
	for i, code := range locations {
		if i == 3 {
			break
		}
		names = append(names, config.LocationName(code))
	}

	switch {
	case len(locations) == 1:
		return "Visited " + names[0]
	case len(locations) <= 3:
		return "Visited " + strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	default:
		return fmt.Sprintf("Visited %s and %d other locations", strings.Join(names, ", "), len(locations)-3)
	}
}

// activityLine phrases the top three activity counts
func activityLine(events []models.TimelineEvent) string {
	counts := make(map[string]int)
	var order []string
	for _, event := range events {
		if counts[event.Activity] == 0 {
			order = append(order, event.Activity)
		}
		counts[event.Activity]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 3 {
		order = order[:3]
	}

	descriptions := make([]string, 0, len(order))
	for _, activity := range order {
		descriptions = append(descriptions, activityPhrase(activity, counts[activity]))
	}
	if len(descriptions) == 0 {
		return ""
	}
	return "Recorded " + strings.Join(descriptions, ", ")
}

func activityPhrase(activity string, count int) string {
	plural := func(s string) string {
		if count > 1 {
			return s
		}
		return ""
	}

	switch {
	case activity == "card_swipe":
		return fmt.Sprintf("%d access%s", count, plural("es"))
	case activity == "wifi_connection":
		return fmt.Sprintf("%d WiFi connection%s", count, plural("s"))
	case activity == "cctv_detection":
		return fmt.Sprintf("%d CCTV detection%s", count, plural("s"))
	case strings.HasPrefix(activity, "lab_booking"):
		return fmt.Sprintf("%d lab session%s", count, plural("s"))
	default:
		return fmt.Sprintf("%d %s event%s", count, strings.ReplaceAll(activity, "_", " "), plural("s"))
	}
}

func (g *Generator) lastSeenLine(last models.TimelineEvent) string {
	since := g.now().Sub(last.Timestamp)
	name := config.LocationName(last.Location)

	switch {
	case since < time.Hour:
		return fmt.Sprintf("Last seen %d minutes ago at %s", int(since.Minutes()), name)
	case since < 24*time.Hour:
		return fmt.Sprintf("Last seen %d hours ago at %s", int(since.Hours()), name)
	default:
		return "Last seen on " + last.Timestamp.Format("January 02 at 03:04 PM")
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func distinctLocations(events []models.TimelineEvent) []string {
	seen := make(map[string]bool)
	locations := make([]string, 0)
	for _, event := range events {
		if event.Location == config.LocationUnknown || seen[event.Location] {
			continue
		}
		seen[event.Location] = true
		locations = append(locations, event.Location)
	}
	return locations
}

func distinctActivities(events []models.TimelineEvent) []string {
	seen := make(map[string]bool)
	activities := make([]string, 0)
	for _, event := range events {
		if seen[event.Activity] {
			continue
		}
		seen[event.Activity] = true
		activities = append(activities, event.Activity)
	}
	return activities
}

// Statistics is the quantitative companion to the narrative summary
type Statistics struct {
	TotalEvents          int                `json:"totalEvents"` // non-gap events
	TimeSpanHours        float64            `json:"timeSpanHours"`
	EventsPerHour        float64            `json:"eventsPerHour"`
	UniqueLocations      int                `json:"uniqueLocations"`
	LocationDistribution map[string]int     `json:"locationDistribution"`
	ActivityDistribution map[string]int     `json:"activityDistribution"`
	AverageConfidence    float64            `json:"averageConfidence"`
	ConfidenceStdDev     float64            `json:"confidenceStdDev"`
	SourceDistribution   map[string]int     `json:"sourceDistribution"`
	TotalGaps            int                `json:"totalGaps"`
	TotalGapHours        float64            `json:"totalGapHours"`
	DataCoverage         float64            `json:"dataCoverage"` // 1 - gap share of the span
}

// ComputeStatistics analyses a generated timeline. Zero value on an
// empty or all-gap timeline.
func ComputeStatistics(events []models.TimelineEvent) Statistics {
	var real []models.TimelineEvent
	var gaps []models.TimelineEvent
	for _, event := range events {
		if event.IsGap() {
			gaps = append(gaps, event)
		} else {
			real = append(real, event)
		}
	}
	if len(real) == 0 {
		return Statistics{}
	}

	first, last := real[0].Timestamp, real[0].Timestamp
	locationCounts := make(map[string]int)
	activityCounts := make(map[string]int)
	sourceCounts := make(map[string]int)
	var confidences []float64

	for _, event := range real {
		if event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if event.Timestamp.After(last) {
			last = event.Timestamp
		}
		if event.Location != config.LocationUnknown {
			locationCounts[event.Location]++
		}
		activityCounts[event.Activity]++
		for _, src := range event.Sources {
			sourceCounts[src]++
		}
		confidences = append(confidences, event.Confidence)
	}

	spanHours := last.Sub(first).Hours()
	var gapHours float64
	for _, gap := range gaps {
		gapHours += gap.DurationMinutes / 60
	}

	stats := Statistics{
		TotalEvents:          len(real),
		TimeSpanHours:        spanHours,
		UniqueLocations:      len(locationCounts),
		LocationDistribution: locationCounts,
		ActivityDistribution: activityCounts,
		AverageConfidence:    mean(confidences),
		ConfidenceStdDev:     stdDev(confidences),
		SourceDistribution:   sourceCounts,
		TotalGaps:            len(gaps),
		TotalGapHours:        gapHours,
		DataCoverage:         1.0,
	}
	if spanHours > 0 {
		stats.EventsPerHour = float64(len(real)) / spanHours
		stats.DataCoverage = 1.0 - gapHours/spanHours
	}
	return stats
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}
