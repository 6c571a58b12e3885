package models

import "time"

// SourceDataset identifies which campus table an observation came from
type SourceDataset string

const (
	DatasetProfiles         SourceDataset = "profiles"
	DatasetCardSwipes       SourceDataset = "card_swipes"
	DatasetCCTVFrames       SourceDataset = "cctv_frames"
	DatasetWiFiLogs         SourceDataset = "wifi_logs"
	DatasetLabBookings      SourceDataset = "lab_bookings"
	DatasetLibraryCheckouts SourceDataset = "library_checkouts"
	DatasetNotes            SourceDataset = "notes"
	DatasetFaceEmbeddings   SourceDataset = "face_embeddings"
)

// EntityRecord is one observation-derived candidate identity prior to
// resolution. The shared header carries every identifier a source may
// claim; the optional sub-structs carry source-specific payload keyed
// by SourceDataset.
type EntityRecord struct {
	RecordID      string        `json:"recordId"`
	SourceDataset SourceDataset `json:"sourceDataset"`

	EntityID   string `json:"entityId,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	CardID     string `json:"cardId,omitempty"`
	DeviceHash string `json:"deviceHash,omitempty"`
	FaceID     string `json:"faceId,omitempty"`
	StudentID  string `json:"studentId,omitempty"`
	StaffID    string `json:"staffId,omitempty"`

	FirstSeen *time.Time `json:"firstSeen,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Locations []string   `json:"locations,omitempty"` // location codes or AP-derived codes

	Profile *ProfileInfo   `json:"profile,omitempty"` // profiles source only
	Usage   *UsageSummary  `json:"usage,omitempty"`   // aggregated secondary sources
	Notes   *NoteSummary   `json:"notes,omitempty"`   // helpdesk/RSVP notes only
}

// ProfileInfo carries the roster attributes of a profile record
type ProfileInfo struct {
	Role       string `json:"role"`       // "student"/"staff"/"faculty"/"visitor"
	Department string `json:"department"` // "Unknown" when missing
}

// UsageSummary aggregates a secondary source keyed on one identifier
type UsageSummary struct {
	EventCount int `json:"eventCount"` // total swipes / connections / detections
}

// NoteSummary aggregates free-text notes for one entity_id
type NoteSummary struct {
	Categories []string `json:"categories"`
}

// Timestamps returns the observation window endpoints present on the record
func (r *EntityRecord) Timestamps() []time.Time {
	var ts []time.Time
	if r.FirstSeen != nil {
		ts = append(ts, *r.FirstSeen)
	}
	if r.LastSeen != nil {
		ts = append(ts, *r.LastSeen)
	}
	return ts
}

// Match type labels emitted by the resolver
const (
	MatchDirectEntityID = "direct_entity_id"
	MatchFuzzy          = "fuzzy_match"
)

// EntityMatch is a hypothesised equivalence between two records
type EntityMatch struct {
	SrcRecordID string        `json:"srcRecordId"`
	DstRecordID string        `json:"dstRecordId"`
	SrcDataset  SourceDataset `json:"srcDataset"`
	DstDataset  SourceDataset `json:"dstDataset"`
	Confidence  float64       `json:"confidence"` // 0.0 - 1.0
	MatchType   string        `json:"matchType"`  // direct_entity_id or fuzzy_match
	Evidence    MatchEvidence `json:"evidence"`
}

// MatchEvidence records which channels contributed to a pair score
type MatchEvidence struct {
	EntityID          string  `json:"entityId,omitempty"`          // shared entity_id on direct matches
	CardIDMatch       bool    `json:"cardIdMatch,omitempty"`
	DeviceHashMatch   bool    `json:"deviceHashMatch,omitempty"`
	FaceIDMatch       bool    `json:"faceIdMatch,omitempty"`
	NameSimilarity    float64 `json:"nameSimilarity,omitempty"`    // max of edit/token-sort/token-set ratios
	EmailSimilarity   float64 `json:"emailSimilarity,omitempty"`
	TemporalProximity float64 `json:"temporalProximity,omitempty"` // 1 - gap/window, best pair
	LocationOverlap   float64 `json:"locationOverlap,omitempty"`   // Jaccard over location sets
}

// IdentifierSets groups every identifier claimed by a resolved entity by kind.
// Sets are disjoint across distinct resolved entities.
type IdentifierSets struct {
	CardIDs      []string `json:"cardIds,omitempty"`
	DeviceHashes []string `json:"deviceHashes,omitempty"`
	FaceIDs      []string `json:"faceIds,omitempty"`
	StudentIDs   []string `json:"studentIds,omitempty"`
	StaffIDs     []string `json:"staffIds,omitempty"`
	Emails       []string `json:"emails,omitempty"`
}

// Identifier kind labels accepted by the lookup API
const (
	KindCardID     = "card_id"
	KindDeviceHash = "device_hash"
	KindFaceID     = "face_id"
	KindStudentID  = "student_id"
	KindStaffID    = "staff_id"
	KindEmail      = "email"
)

// ResolvedEntity is the contracted cluster of records believed to
// refer to one real person
type ResolvedEntity struct {
	UnifiedID      string         `json:"unifiedId"` // unified_entity_NNNNNN
	EntityIDs      []string       `json:"entityIds"`
	Names          []string       `json:"names"`
	Identifiers    IdentifierSets `json:"identifiers"`
	Confidence     float64        `json:"confidence"` // mean accepted edge weight, 1.0 for singletons
	RecordIDs      []string       `json:"recordIds"`
	PrimaryProfile *EntityRecord  `json:"primaryProfile,omitempty"` // profile record with smallest entity_id
}

// Role returns the primary profile role, defaulting to student
func (e *ResolvedEntity) Role() string {
	if e.PrimaryProfile != nil && e.PrimaryProfile.Profile != nil && e.PrimaryProfile.Profile.Role != "" {
		return e.PrimaryProfile.Profile.Role
	}
	return "student"
}

// Department returns the primary profile department, or "Unknown"
func (e *ResolvedEntity) Department() string {
	if e.PrimaryProfile != nil && e.PrimaryProfile.Profile != nil && e.PrimaryProfile.Profile.Department != "" {
		return e.PrimaryProfile.Profile.Department
	}
	return "Unknown"
}

// ResolutionStats summarises one resolver run
type ResolutionStats struct {
	TotalResolvedEntities int     `json:"totalResolvedEntities"`
	MergedEntities        int     `json:"mergedEntities"` // entities built from >1 record
	MergeRate             float64 `json:"mergeRate"`
	AverageConfidence     float64 `json:"averageConfidence"`
	GraphNodes            int     `json:"graphNodes"`
	GraphEdges            int     `json:"graphEdges"`
}

// EntityProfile is the flat profile view consumed by the predictive monitor
type EntityProfile struct {
	EntityID   string `json:"entityId"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	Department string `json:"department"`
}
