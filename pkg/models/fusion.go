package models

import "time"

// ActivityEvent is one raw observation projected into a common shape
// before temporal clustering
type ActivityEvent struct {
	UnifiedEntityID string            `json:"unifiedEntityId"`
	Timestamp       time.Time         `json:"timestamp"`
	Location        string            `json:"location"` // location code, UNKNOWN when not inferable
	EventType       string            `json:"eventType"`
	SourceDataset   SourceDataset     `json:"sourceDataset"`
	Confidence      float64           `json:"confidence"` // per-source base confidence
	Raw             map[string]string `json:"raw,omitempty"`
}

// SourceRecord is the traceback payload a fusion record keeps per
// constituent event
type SourceRecord struct {
	Dataset    SourceDataset     `json:"dataset"`
	EventType  string            `json:"eventType"`
	Timestamp  time.Time         `json:"timestamp"`
	Confidence float64           `json:"confidence"`
	Raw        map[string]string `json:"raw,omitempty"`
}

// FusionRecord is one temporally coherent multi-source observation of
// a resolved entity
type FusionRecord struct {
	UnifiedEntityID string            `json:"unifiedEntityId"`
	Timestamp       time.Time         `json:"timestamp"` // min of the cluster
	Location        string            `json:"location"`
	ActivityType    string            `json:"activityType"`
	Confidence      float64           `json:"confidence"` // 0.0 - 1.0 after clamping
	SourceRecords   []SourceRecord    `json:"sourceRecords"`
	Provenance      map[string]string `json:"provenance"` // dataset -> "<event_type> at <timestamp>"
	Evidence        FusionEvidence    `json:"evidence"`
}

// FusionEvidence holds the cross-source consistency signals attached
// to a fusion record. Absent signals stay nil.
type FusionEvidence struct {
	TemporalCorrelation *TemporalCorrelation `json:"temporalCorrelation,omitempty"` // multi-event clusters only
	LocationCorrelation *LocationCorrelation `json:"locationCorrelation,omitempty"` // needs a known location
	SourceDiversity     *SourceDiversity     `json:"sourceDiversity,omitempty"`
	ActivityPattern     *ActivityPattern     `json:"activityPattern,omitempty"`
	FaceRecognition     *FaceRecognition     `json:"faceRecognition,omitempty"` // CCTV + embedding present
}

// Size returns the number of populated evidence signals
func (e FusionEvidence) Size() int {
	n := 0
	if e.TemporalCorrelation != nil {
		n++
	}
	if e.LocationCorrelation != nil {
		n++
	}
	if e.SourceDiversity != nil {
		n++
	}
	if e.ActivityPattern != nil {
		n++
	}
	if e.FaceRecognition != nil {
		n++
	}
	return n
}

// TemporalCorrelation describes how tightly a cluster's events pack in time
type TemporalCorrelation struct {
	TimeSpanMinutes     float64 `json:"timeSpanMinutes"`
	EventCount          int     `json:"eventCount"`
	CorrelationStrength string  `json:"correlationStrength"` // "high"/"medium"/"low"
}

// LocationCorrelation describes spatial agreement across a cluster
type LocationCorrelation struct {
	Locations   []string `json:"locations"`   // distinct non-UNKNOWN codes
	Consistency string   `json:"consistency"` // "high"/"medium"/"low"
}

// SourceDiversity describes how many independent datasets contributed
type SourceDiversity struct {
	Sources        []string `json:"sources"`
	DiversityScore float64  `json:"diversityScore"` // distinct / total
}

// ActivityPattern lists the event types of a cluster and their mode
type ActivityPattern struct {
	Types           []string `json:"types"`
	PrimaryActivity string   `json:"primaryActivity"`
}

// FaceRecognition records an embedding check against the entity's
// reference face vector
type FaceRecognition struct {
	FaceID     string  `json:"faceId"`
	Similarity float64 `json:"similarity"` // cosine vs reference embedding
	Verified   bool    `json:"verified"`   // similarity above the configured gate
}
