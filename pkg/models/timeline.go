package models

import "time"

// ActivityGap is the activity label of synthesised gap events
const ActivityGap = "gap"

// TimelineEvent is one user-visible item in an entity's chronological
// story. Gap events carry confidence 0 and no sources.
type TimelineEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	Location        string    `json:"location"`
	Activity        string    `json:"activity"`
	Description     string    `json:"description"`
	Confidence      float64   `json:"confidence"`
	Sources         []string  `json:"sources"`
	DurationMinutes float64   `json:"durationMinutes,omitempty"` // merged span or gap length
	RelatedEvents   []string  `json:"relatedEvents,omitempty"`   // "<activity>@<timestamp>" of merged originals
}

// IsGap reports whether the event is a synthesised gap marker
func (e *TimelineEvent) IsGap() bool {
	return e.Activity == ActivityGap
}

// GapInterval is one silent stretch inside a summarised window
type GapInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TimelineSummary is a window-scoped digest of an entity's timeline
type TimelineSummary struct {
	EntityID          string        `json:"entityId"`
	StartTime         time.Time     `json:"startTime"`
	EndTime           time.Time     `json:"endTime"`
	TotalEvents       int           `json:"totalEvents"` // non-gap events inside the window
	LocationsVisited  []string      `json:"locationsVisited"`
	PrimaryActivities []string      `json:"primaryActivities"`
	SummaryText       string        `json:"summaryText"`
	ConfidenceScore   float64       `json:"confidenceScore"`
	Gaps              []GapInterval `json:"gaps"`
}
