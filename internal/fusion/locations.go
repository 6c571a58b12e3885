package fusion

import (
	"regexp"
	"strings"

	"github.com/campustrace/sentinel-engine/internal/config"
)

// Location Inference
//
// Two sources observe people without naming a campus location. WiFi
// rows carry an access point id of the shape AP_<ZONE>_<n>; the zone
// token maps onto the nearest registered location, and unmapped zones
// become a synthetic <ZONE>_AREA code so clustering can still group
// them. Free-text notes get a case-insensitive keyword scan where the
// first hit wins, matching how tickets are actually written ("the lab
// printer is down", "gym membership renewal").

var apPattern = regexp.MustCompile(`AP_([A-Z]+)_\d+`)

// apZones maps AP zone tokens onto registered location codes
var apZones = map[string]string{
	"LAB":    "LAB_101",
	"LIB":    "LIB_ENT",
	"CAF":    "CAF_01",
	"AUD":    "AUDITORIUM",
	"ENG":    "LAB_101",
	"HOSTEL": "HOSTEL_GATE",
}

// LocationFromAP infers a location code from a WiFi access point id
func LocationFromAP(apID string) string {
	m := apPattern.FindStringSubmatch(apID)
	if m == nil {
		return config.LocationUnknown
	}
	if code, ok := apZones[m[1]]; ok {
		return code
	}
	return m[1] + "_AREA"
}

// noteKeywords maps note-text keywords onto location codes. Scan
// order is significant: a ticket naming both the library and a lab
// resolves to the library.
var noteKeywords = []struct {
	keyword string
	code    string
}{
	{"library", "LIB_ENT"},
	{"lab", "LAB_101"},
	{"gym", "GYM"},
	{"cafeteria", "CAF_01"},
	{"hostel", "HOSTEL_GATE"},
	{"auditorium", "AUDITORIUM"},
	{"seminar", "SEM_01"},
	{"admin", "ADMIN_LOBBY"},
}

// LocationFromText infers a location code from free text, returning
// UNKNOWN when no keyword matches
func LocationFromText(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range noteKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.code
		}
	}
	return config.LocationUnknown
}
