package models

import "time"

// Input table rows. Each struct mirrors the consumed columns of one
// campus CSV export; the loader discards anything else.

// ProfileRow is one roster entry from the profiles table
type ProfileRow struct {
	EntityID   string `json:"entityId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Department string `json:"department"`
	StudentID  string `json:"studentId,omitempty"`
	StaffID    string `json:"staffId,omitempty"`
	CardID     string `json:"cardId,omitempty"`
	DeviceHash string `json:"deviceHash,omitempty"`
	FaceID     string `json:"faceId,omitempty"`
}

// CardSwipeRow is one badge swipe at a campus access point
type CardSwipeRow struct {
	CardID     string    `json:"cardId"`
	LocationID string    `json:"locationId"`
	Timestamp  time.Time `json:"timestamp"`
}

// CCTVFrameRow is one face detection from a camera frame
type CCTVFrameRow struct {
	FaceID     string    `json:"faceId"` // empty when no face was detected
	LocationID string    `json:"locationId"`
	Timestamp  time.Time `json:"timestamp"`
}

// WiFiLogRow is one device association with a campus access point
type WiFiLogRow struct {
	DeviceHash string    `json:"deviceHash"`
	APID       string    `json:"apId"`
	Timestamp  time.Time `json:"timestamp"`
}

// LabBookingRow is one lab reservation with attendance flag
type LabBookingRow struct {
	EntityID  string    `json:"entityId"`
	RoomID    string    `json:"roomId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Attended  bool      `json:"attended"`
}

// LibraryCheckoutRow is one book checkout
type LibraryCheckoutRow struct {
	EntityID  string    `json:"entityId"`
	BookID    string    `json:"bookId"`
	Timestamp time.Time `json:"timestamp"`
}

// NoteRow is one free-text helpdesk ticket or RSVP
type NoteRow struct {
	EntityID  string    `json:"entityId"`
	Category  string    `json:"category"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FaceEmbeddingRow is one face identifier with its embedding vector
type FaceEmbeddingRow struct {
	FaceID    string    `json:"faceId"`
	Embedding []float64 `json:"embedding"`
}

// Tables bundles every loaded campus source. A nil slice means the
// source was absent; stages tolerate missing sources.
type Tables struct {
	Profiles         []ProfileRow         `json:"profiles"`
	CardSwipes       []CardSwipeRow       `json:"cardSwipes"`
	CCTVFrames       []CCTVFrameRow       `json:"cctvFrames"`
	WiFiLogs         []WiFiLogRow         `json:"wifiLogs"`
	LabBookings      []LabBookingRow      `json:"labBookings"`
	LibraryCheckouts []LibraryCheckoutRow `json:"libraryCheckouts"`
	Notes            []NoteRow            `json:"notes"`
	FaceEmbeddings   []FaceEmbeddingRow   `json:"faceEmbeddings"`
}

// EmbeddingIndex builds a face_id -> vector lookup
func (t *Tables) EmbeddingIndex() map[string][]float64 {
	idx := make(map[string][]float64, len(t.FaceEmbeddings))
	for _, row := range t.FaceEmbeddings {
		idx[row.FaceID] = row.Embedding
	}
	return idx
}

// TotalRows counts every loaded row across all sources
func (t *Tables) TotalRows() int {
	return len(t.Profiles) + len(t.CardSwipes) + len(t.CCTVFrames) +
		len(t.WiFiLogs) + len(t.LabBookings) + len(t.LibraryCheckouts) +
		len(t.Notes) + len(t.FaceEmbeddings)
}
