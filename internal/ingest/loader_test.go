package ingest

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
}

func TestLoadTables(t *testing.T) {
	dir := t.TempDir()

	writeFixture(t, dir, "student or staff profiles.csv",
		"entity_id,name,email,role,department,student_id,staff_id,card_id,device_hash,face_id\n"+
			"E100,  Neha Mehta ,NEHA@Campus.EDU,Student,,S100,,C100,D100,F100\n"+
			",orphan row,,,,,,,,\n")
	writeFixture(t, dir, "campus card_swipes.csv",
		"card_id,location_id,timestamp\n"+
			"C100,LAB_101,2025-01-02 09:00:00\n"+
			"C100,LAB_101,not-a-time\n")
	writeFixture(t, dir, "lab_bookings.csv",
		"entity_id,room_id,start_time,end_time,attended\n"+
			"E100,LAB_101,2025-01-02 14:00:00,2025-01-02 16:00:00,YES\n"+
			"E100,LAB_102,2025-01-03T10:00:00,2025-01-03T11:00:00,no\n")
	writeFixture(t, dir, "face_embeddings.csv",
		"face_id,embedding\n"+
			"F100,\"[0.5, -0.25, 1.0]\"\n"+
			"F101,\"[0.5, bogus]\"\n")

	tables, err := LoadTables(dir)
	if err != nil {
		t.Fatalf("LoadTables failed: %v", err)
	}

	if len(tables.Profiles) != 1 {
		t.Fatalf("Expected 1 profile, got %d", len(tables.Profiles))
	}
	profile := tables.Profiles[0]
	if profile.Name != "Neha Mehta" {
		t.Errorf("Expected trimmed name, got %q", profile.Name)
	}
	if profile.Email != "neha@campus.edu" {
		t.Errorf("Expected lowercased email, got %q", profile.Email)
	}
	if profile.Role != "student" {
		t.Errorf("Expected lowercased role, got %q", profile.Role)
	}
	if profile.Department != "Unknown" {
		t.Errorf("Expected blank department to become Unknown, got %q", profile.Department)
	}

	if len(tables.CardSwipes) != 1 {
		t.Fatalf("Expected the malformed swipe to be skipped, got %d rows", len(tables.CardSwipes))
	}
	want := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	if !tables.CardSwipes[0].Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, tables.CardSwipes[0].Timestamp)
	}

	if len(tables.LabBookings) != 2 {
		t.Fatalf("Expected 2 bookings, got %d", len(tables.LabBookings))
	}
	if !tables.LabBookings[0].Attended || tables.LabBookings[1].Attended {
		t.Errorf("Expected attended YES/no to parse as true/false, got %v/%v",
			tables.LabBookings[0].Attended, tables.LabBookings[1].Attended)
	}

	if len(tables.FaceEmbeddings) != 2 {
		t.Fatalf("Expected 2 embeddings, got %d", len(tables.FaceEmbeddings))
	}
	good := tables.FaceEmbeddings[0].Embedding
	if len(good) != config.EmbeddingDim {
		t.Fatalf("Expected embedding dim %d, got %d", config.EmbeddingDim, len(good))
	}
	if math.Abs(good[0]-0.5) > 0.001 || math.Abs(good[1]+0.25) > 0.001 || math.Abs(good[2]-1.0) > 0.001 {
		t.Errorf("Unexpected embedding head: %v", good[:3])
	}
	if good[3] != 0 {
		t.Errorf("Expected zero-filled tail, got %v", good[3])
	}
	for i, v := range tables.FaceEmbeddings[1].Embedding {
		if v != 0 {
			t.Errorf("Expected malformed embedding to zero-fill, got %v at %d", v, i)
			break
		}
	}

	// absent sources load as empty, not as errors
	if tables.WiFiLogs != nil || tables.Notes != nil {
		t.Errorf("Expected absent sources to stay nil, got %d wifi / %d notes",
			len(tables.WiFiLogs), len(tables.Notes))
	}
}

func TestLoadTablesMissingDir(t *testing.T) {
	if _, err := LoadTables(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected error for a missing dataset directory")
	}
}

func TestLoadTablesEmptyDir(t *testing.T) {
	tables, err := LoadTables(t.TempDir())
	if err != nil {
		t.Fatalf("LoadTables failed on empty dir: %v", err)
	}
	if tables.TotalRows() != 0 {
		t.Errorf("Expected no rows, got %d", tables.TotalRows())
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
		ok    bool
	}{
		{"export layout", "2025-01-02 09:30:00", time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC), true},
		{"rfc3339", "2025-01-02T09:30:00Z", time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC), true},
		{"zoneless", "2025-01-02T09:30:00", time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC), true},
		{"bare date", "2025-01-02", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{"garbage", "yesterday", time.Time{}, false},
		{"empty", "", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestamp(tt.input)
			if tt.ok && err != nil {
				t.Fatalf("Expected parse, got error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("Expected error, got %v", got)
			}
			if tt.ok && !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseAttended(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"YES", true},
		{" yes ", true},
		{"NO", false},
		{"", false},
		{"1", false},
	}
	for _, tt := range tests {
		if got := parseAttended(tt.input); got != tt.want {
			t.Errorf("parseAttended(%q): expected %v, got %v", tt.input, tt.want, got)
		}
	}
}

func TestParseEmbedding(t *testing.T) {
	got := parseEmbedding("[1.0, 2.0, 3.0]", 4)
	if len(got) != 4 || got[0] != 1 || got[2] != 3 || got[3] != 0 {
		t.Errorf("Expected zero-filled [1 2 3 0], got %v", got)
	}

	got = parseEmbedding("[1.0, 2.0, 3.0]", 2)
	if len(got) != 2 || got[1] != 2 {
		t.Errorf("Expected truncation to [1 2], got %v", got)
	}

	got = parseEmbedding("[1.0, oops]", 3)
	for _, v := range got {
		if v != 0 {
			t.Fatalf("Expected all-zero vector on parse error, got %v", got)
		}
	}

	got = parseEmbedding("", 3)
	if len(got) != 3 {
		t.Errorf("Expected empty cell to produce a zero vector, got %v", got)
	}
}
