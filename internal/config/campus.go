package config

// Campus Metadata
//
// Static descriptions of the monitored campus: location codes with
// their human-readable names, roster departments, and entity types
// with their default access windows. Location and department order is
// load-bearing: the predictive monitor encodes both by position, so
// appending is safe but reordering silently shifts every trained model.

// LocationUnknown is the sentinel code for observations whose
// location could not be inferred
const LocationUnknown = "UNKNOWN"

// EmbeddingDim is the face embedding width of the campus CCTV export.
// Shorter or malformed vectors are zero-filled to this length.
const EmbeddingDim = 128

// Weekday campus-hours window used for prediction evidence. Stricter
// than the tunable working-hours bucket: badge activity starts before
// lectures, but "typical campus hours" means the 9-to-5 norm.
const (
	CampusHourStart = 9
	CampusHourEnd   = 17
)

// Location describes one monitored campus location
type Location struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Building string `json:"building"`
	Floor    int    `json:"floor"`
}

var campusLocations = []Location{
	{Code: "LAB_101", Name: "Computer Lab 101", Building: "Engineering", Floor: 1},
	{Code: "LAB_102", Name: "Computer Lab 102", Building: "Engineering", Floor: 1},
	{Code: "LAB_305", Name: "Research Lab 305", Building: "Engineering", Floor: 3},
	{Code: "LIB_ENT", Name: "Library Entrance", Building: "Library", Floor: 0},
	{Code: "GYM", Name: "Gymnasium", Building: "Sports Complex", Floor: 0},
	{Code: "AUDITORIUM", Name: "Main Auditorium", Building: "Academic Block", Floor: 0},
	{Code: "CAF_01", Name: "Cafeteria", Building: "Student Center", Floor: 0},
	{Code: "HOSTEL_GATE", Name: "Hostel Gate", Building: "Residential", Floor: 0},
	{Code: "ADMIN_LOBBY", Name: "Administration Lobby", Building: "Admin Block", Floor: 0},
	{Code: "SEM_01", Name: "Seminar Room 1", Building: "Academic Block", Floor: 1},
	{Code: "ROOM_A2", Name: "Classroom A2", Building: "Academic Block", Floor: 2},
}

var locationByCode = func() map[string]Location {
	m := make(map[string]Location, len(campusLocations))
	for _, loc := range campusLocations {
		m[loc.Code] = loc
	}
	return m
}()

// Locations returns every monitored location in canonical order
func Locations() []Location {
	out := make([]Location, len(campusLocations))
	copy(out, campusLocations)
	return out
}

// LocationName returns the display name for a location code, falling
// back to the code itself for unregistered locations
func LocationName(code string) string {
	if loc, ok := locationByCode[code]; ok {
		return loc.Name
	}
	return code
}

// KnownLocation reports whether code is a registered campus location
func KnownLocation(code string) bool {
	_, ok := locationByCode[code]
	return ok
}

// LocationIndex returns the positional feature code of a location,
// -1 for unknown codes
func LocationIndex(code string) int {
	for i, loc := range campusLocations {
		if loc.Code == code {
			return i
		}
	}
	return -1
}

// Departments lists the roster departments in canonical order
var Departments = []string{
	"Physics", "MECH", "ECE", "CIVIL", "BIO", "Chemistry",
	"Admin", "Maths", "Computer Science", "Electrical",
}

// departmentCodes is the frozen feature map. Electrical is absent;
// unknown departments encode as -1.
var departmentCodes = map[string]int{
	"Physics": 0, "MECH": 1, "ECE": 2, "CIVIL": 3, "BIO": 4,
	"Chemistry": 5, "Admin": 6, "Maths": 7, "Computer Science": 8,
}

// DepartmentIndex returns the feature code of a department, -1 when unmapped
func DepartmentIndex(dept string) int {
	if code, ok := departmentCodes[dept]; ok {
		return code
	}
	return -1
}

// RoleCode encodes an entity role for the feature vector.
// Unknown roles encode as student.
func RoleCode(role string) int {
	switch role {
	case "staff":
		return 1
	case "faculty":
		return 2
	default:
		return 0
	}
}

// EntityType describes a roster role and its default access window
type EntityType struct {
	Priority        int `json:"priority"`
	AccessStartHour int `json:"accessStartHour"`
	AccessEndHour   int `json:"accessEndHour"`
}

// EntityTypes maps roster roles to their access policy
var EntityTypes = map[string]EntityType{
	"student": {Priority: 1, AccessStartHour: 6, AccessEndHour: 22},
	"staff":   {Priority: 2, AccessStartHour: 8, AccessEndHour: 18},
	"faculty": {Priority: 2, AccessStartHour: 8, AccessEndHour: 20},
	"visitor": {Priority: 3, AccessStartHour: 9, AccessEndHour: 17},
}

// KnownRole reports whether role is a registered entity type
func KnownRole(role string) bool {
	_, ok := EntityTypes[role]
	return ok
}
