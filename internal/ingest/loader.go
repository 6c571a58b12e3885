package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// Dataset Ingestion
//
// Loads the eight campus CSV exports into typed tables. The raw dumps
// are untidy: file names differ between export batches, timestamps mix
// two layouts, and several text columns carry whitespace and case
// noise. The loader normalises all of it:
//   1. Missing files load as empty tables with a warning; every later
//      stage tolerates an absent source
//   2. Rows that fail to parse are skipped and counted, never fatal
//   3. Profile names are whitespace-trimmed, emails and roles
//      lowercased, blank departments become "Unknown"
//   4. Embedding cells hold a stringified float list; malformed cells
//      zero-fill to the configured dimension

const tsLayout = "2006-01-02 15:04:05"

// fileCandidates maps each dataset to the file names seen across
// export batches, canonical name first.
var fileCandidates = map[models.SourceDataset][]string{
	models.DatasetProfiles:         {"profiles.csv", "student or staff profiles.csv"},
	models.DatasetCardSwipes:       {"card_swipes.csv", "campus card_swipes.csv"},
	models.DatasetCCTVFrames:       {"cctv_frames.csv"},
	models.DatasetWiFiLogs:         {"wifi_logs.csv", "wifi_associations_logs.csv"},
	models.DatasetLabBookings:      {"lab_bookings.csv"},
	models.DatasetLibraryCheckouts: {"library_checkouts.csv"},
	models.DatasetNotes:            {"notes.csv", "free_text_notes (helpdesk or RSVPs).csv"},
	models.DatasetFaceEmbeddings:   {"face_embeddings.csv"},
}

// LoadTables reads every campus source found under dir. The directory
// itself must exist; individual files may not.
func LoadTables(dir string) (*models.Tables, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("load tables: %s is not a directory", dir)
	}

	tables := &models.Tables{}
	for _, dataset := range []models.SourceDataset{
		models.DatasetProfiles,
		models.DatasetCardSwipes,
		models.DatasetCCTVFrames,
		models.DatasetWiFiLogs,
		models.DatasetLabBookings,
		models.DatasetLibraryCheckouts,
		models.DatasetNotes,
		models.DatasetFaceEmbeddings,
	} {
		t, err := readCSV(dir, dataset)
		if err != nil {
			log.Printf("[Loader] %s: %v, treating as absent", dataset, err)
			continue
		}
		if t == nil {
			log.Printf("[Loader] %s: no file found, skipping", dataset)
			continue
		}

		var rows, skipped int
		switch dataset {
		case models.DatasetProfiles:
			tables.Profiles, skipped = loadProfiles(t)
			rows = len(tables.Profiles)
		case models.DatasetCardSwipes:
			tables.CardSwipes, skipped = loadCardSwipes(t)
			rows = len(tables.CardSwipes)
		case models.DatasetCCTVFrames:
			tables.CCTVFrames, skipped = loadCCTVFrames(t)
			rows = len(tables.CCTVFrames)
		case models.DatasetWiFiLogs:
			tables.WiFiLogs, skipped = loadWiFiLogs(t)
			rows = len(tables.WiFiLogs)
		case models.DatasetLabBookings:
			tables.LabBookings, skipped = loadLabBookings(t)
			rows = len(tables.LabBookings)
		case models.DatasetLibraryCheckouts:
			tables.LibraryCheckouts, skipped = loadLibraryCheckouts(t)
			rows = len(tables.LibraryCheckouts)
		case models.DatasetNotes:
			tables.Notes, skipped = loadNotes(t)
			rows = len(tables.Notes)
		case models.DatasetFaceEmbeddings:
			tables.FaceEmbeddings, skipped = loadFaceEmbeddings(t)
			rows = len(tables.FaceEmbeddings)
		}
		if skipped > 0 {
			log.Printf("[Loader] %s: %d rows (%d skipped)", dataset, rows, skipped)
		} else {
			log.Printf("[Loader] %s: %d rows", dataset, rows)
		}
	}

	log.Printf("[Loader] Loaded %d rows across all sources", tables.TotalRows())
	return tables, nil
}

// csvTable is one parsed file: a header index plus raw string rows
type csvTable struct {
	cols map[string]int
	rows [][]string
}

// field returns the named column of a row, empty when the column is
// missing or the row is short
func (t *csvTable) field(row []string, name string) string {
	idx, ok := t.cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// readCSV opens the first matching file for a dataset and parses it.
// Returns (nil, nil) when no candidate file exists.
func readCSV(dir string, dataset models.SourceDataset) (*csvTable, error) {
	var path string
	for _, name := range fileCandidates[dataset] {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true // helpdesk notes carry unescaped quotes

	header, err := r.Read()
	if err == io.EOF {
		return &csvTable{cols: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return &csvTable{cols: cols, rows: rows}, nil
}

func loadProfiles(t *csvTable) ([]models.ProfileRow, int) {
	rows := make([]models.ProfileRow, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		p := models.ProfileRow{
			EntityID:   strings.TrimSpace(t.field(row, "entity_id")),
			Name:       strings.TrimSpace(t.field(row, "name")),
			Email:      strings.ToLower(strings.TrimSpace(t.field(row, "email"))),
			Role:       strings.ToLower(strings.TrimSpace(t.field(row, "role"))),
			Department: strings.TrimSpace(t.field(row, "department")),
			StudentID:  strings.TrimSpace(t.field(row, "student_id")),
			StaffID:    strings.TrimSpace(t.field(row, "staff_id")),
			CardID:     strings.TrimSpace(t.field(row, "card_id")),
			DeviceHash: strings.TrimSpace(t.field(row, "device_hash")),
			FaceID:     strings.TrimSpace(t.field(row, "face_id")),
		}
		if p.EntityID == "" {
			skipped++
			continue
		}
		if p.Department == "" {
			p.Department = "Unknown"
		}
		rows = append(rows, p)
	}
	return rows, skipped
}

func loadCardSwipes(t *csvTable) ([]models.CardSwipeRow, int) {
	rows := make([]models.CardSwipeRow, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		ts, err := parseTimestamp(t.field(row, "timestamp"))
		cardID := strings.TrimSpace(t.field(row, "card_id"))
		if err != nil || cardID == "" {
			skipped++
			continue
		}
		rows = append(rows, models.CardSwipeRow{
			CardID:     cardID,
			LocationID: strings.TrimSpace(t.field(row, "location_id")),
			Timestamp:  ts,
		})
	}
	return rows, skipped
}

func loadCCTVFrames(t *csvTable) ([]models.CCTVFrameRow, int) {
	rows := make([]models.CCTVFrameRow, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		ts, err := parseTimestamp(t.field(row, "timestamp"))
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, models.CCTVFrameRow{
			FaceID:     strings.TrimSpace(t.field(row, "face_id")),
			LocationID: strings.TrimSpace(t.field(row, "location_id")),
			Timestamp:  ts,
		})
	}
	return rows, skipped
}

func loadWiFiLogs(t *csvTable) ([]models.WiFiLogRow, int) {
	rows := make([]models.WiFiLogRow, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		ts, err := parseTimestamp(t.field(row, "timestamp"))
		deviceHash := strings.TrimSpace(t.field(row, "device_hash"))
		if err != nil || deviceHash == "" {
			skipped++
			continue
		}
		rows = append(rows, models.WiFiLogRow{
			DeviceHash: deviceHash,
			APID:       strings.TrimSpace(t.field(row, "ap_id")),
			Timestamp:  ts,
		})
	}
	return rows, skipped
}

func loadLabBookings(t *csvTable) ([]models.LabBookingRow, int) {
	rows := make([]models.LabBookingRow, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		start, errStart := parseTimestamp(t.field(row, "start_time"))
		end, errEnd := parseTimestamp(t.field(row, "end_time"))
		entityID := strings.TrimSpace(t.field(row, "entity_id"))
		if errStart != nil || errEnd != nil || entityID == "" {
			skipped++
			continue
		}
		rows = append(rows, models.LabBookingRow{
			EntityID:  entityID,
			RoomID:    strings.TrimSpace(t.field(row, "room_id")),
			StartTime: start,
			EndTime:   end,
			Attended:  parseAttended(t.field(row, "attended")),
		})
	}
	return rows, skipped
}

func loadLibraryCheckouts(t *csvTable) ([]models.LibraryCheckoutRow, int) {
	rows := make([]models.LibraryCheckoutRow, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		ts, err := parseTimestamp(t.field(row, "timestamp"))
		entityID := strings.TrimSpace(t.field(row, "entity_id"))
		if err != nil || entityID == "" {
			skipped++
			continue
		}
		rows = append(rows, models.LibraryCheckoutRow{
			EntityID:  entityID,
			BookID:    strings.TrimSpace(t.field(row, "book_id")),
			Timestamp: ts,
		})
	}
	return rows, skipped
}

func loadNotes(t *csvTable) ([]models.NoteRow, int) {
	rows := make([]models.NoteRow, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		ts, err := parseTimestamp(t.field(row, "timestamp"))
		entityID := strings.TrimSpace(t.field(row, "entity_id"))
		if err != nil || entityID == "" {
			skipped++
			continue
		}
		rows = append(rows, models.NoteRow{
			EntityID:  entityID,
			Category:  strings.ToLower(strings.TrimSpace(t.field(row, "category"))),
			Text:      strings.TrimSpace(t.field(row, "text")),
			Timestamp: ts,
		})
	}
	return rows, skipped
}

func loadFaceEmbeddings(t *csvTable) ([]models.FaceEmbeddingRow, int) {
	rows := make([]models.FaceEmbeddingRow, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		faceID := strings.TrimSpace(t.field(row, "face_id"))
		if faceID == "" {
			skipped++
			continue
		}
		rows = append(rows, models.FaceEmbeddingRow{
			FaceID:    faceID,
			Embedding: parseEmbedding(t.field(row, "embedding"), config.EmbeddingDim),
		})
	}
	return rows, skipped
}

// parseTimestamp accepts the export layout first, then RFC3339 and its
// zoneless variant, then a bare date
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{tsLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func parseAttended(s string) bool {
	return strings.ToUpper(strings.TrimSpace(s)) == "YES"
}

// parseEmbedding decodes a stringified float list like
// "[0.12, -0.5, ...]". Any malformed element zero-fills the whole
// vector; short vectors zero-fill the tail, long ones truncate.
func parseEmbedding(cell string, dim int) []float64 {
	vec := make([]float64, dim)
	cleaned := strings.Trim(strings.TrimSpace(cell), "[]")
	if cleaned == "" {
		return vec
	}
	for i, part := range strings.Split(cleaned, ",") {
		if i >= dim {
			break
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return make([]float64, dim)
		}
		vec[i] = v
	}
	return vec
}
