package monitor

import (
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

// featureCount is the width of the model feature vector: four temporal
// columns, role, department, three record-shape columns, the location
// code, and six dataset presence flags.
const featureCount = 16

// presenceOrder fixes the column order of the dataset presence flags.
// Appending a new dataset is safe; reordering silently shifts every
// trained model.
var presenceOrder = []models.SourceDataset{
	models.DatasetCardSwipes,
	models.DatasetCCTVFrames,
	models.DatasetWiFiLogs,
	models.DatasetLabBookings,
	models.DatasetLibraryCheckouts,
	models.DatasetNotes,
}

// extractFeatures projects one fusion record into the fixed-order
// numeric vector the models consume. Unmapped departments and
// locations encode as -1, unknown roles as student.
func extractFeatures(record models.FusionRecord, profile models.EntityProfile) []float64 {
	features := make([]float64, 0, featureCount)

	features = append(features,
		float64(record.Timestamp.Hour()),
		float64(mondayWeekday(record.Timestamp)),
		float64(record.Timestamp.Day()),
		float64(int(record.Timestamp.Month())),
	)

	features = append(features,
		float64(config.RoleCode(profile.Role)),
		float64(config.DepartmentIndex(profile.Department)),
	)

	features = append(features,
		float64(len(record.SourceRecords)),
		record.Confidence,
		float64(record.Evidence.Size()),
	)

	features = append(features, float64(config.LocationIndex(record.Location)))

	present := make(map[models.SourceDataset]bool, len(record.SourceRecords))
	for _, sr := range record.SourceRecords {
		present[sr.Dataset] = true
	}
	for _, dataset := range presenceOrder {
		if present[dataset] {
			features = append(features, 1)
		} else {
			features = append(features, 0)
		}
	}

	return features
}

// mondayWeekday numbers weekdays with Monday as 0
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
