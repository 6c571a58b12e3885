package monitor

import (
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

func predictionConfig() config.PredictionConfig {
	return config.Default().Prediction
}

func fusedAt(ts time.Time, location, activity string, dataset models.SourceDataset) models.FusionRecord {
	return models.FusionRecord{
		UnifiedEntityID: "unified_entity_000001",
		Timestamp:       ts,
		Location:        location,
		ActivityType:    activity,
		Confidence:      0.9,
		SourceRecords: []models.SourceRecord{
			{Dataset: dataset, EventType: activity, Timestamp: ts, Confidence: 0.9},
		},
	}
}

// patternedRecords builds a training set with a clean daily rhythm:
// weekday mornings at LAB_301, weekday evenings at HOSTEL_GATE.
func patternedRecords() []models.FusionRecord {
	var records []models.FusionRecord
	for day := 1; day <= 25; day++ {
		morning := time.Date(2025, 1, day, 9, 0, 0, 0, time.UTC)
		if wd := morning.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		records = append(records, fusedAt(morning, "LAB_301", "card_swipe", models.DatasetCardSwipes))
		records = append(records, fusedAt(morning.Add(11*time.Hour), "HOSTEL_GATE", "card_swipe", models.DatasetCardSwipes))
	}
	return records
}

func trainedMonitor(t *testing.T) *Monitor {
	t.Helper()
	m := NewMonitor(predictionConfig())
	profiles := map[string]models.EntityProfile{
		"unified_entity_000001": {EntityID: "unified_entity_000001", Role: "student", Department: "MECH"},
	}
	if _, err := m.Train(patternedRecords(), profiles); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	return m
}

// fixedScorer pins the outlier score for anomaly tests
type fixedScorer struct{ score float64 }

func (f fixedScorer) DecisionFunction(x []float64) float64 { return f.score }

// stubbedMonitor is trained in name only: anomaly paths run against a
// pinned outlier score and a pass-through scaler
func stubbedMonitor(score float64) *Monitor {
	m := NewMonitor(predictionConfig())
	m.scaler = &StandardScaler{}
	m.outlierModel = fixedScorer{score}
	m.trained = true
	return m
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func TestExtractFeatures(t *testing.T) {
	ts := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC) // Thursday
	record := models.FusionRecord{
		UnifiedEntityID: "unified_entity_000001",
		Timestamp:       ts,
		Location:        "LIB_ENT",
		ActivityType:    "card_swipe",
		Confidence:      0.85,
		SourceRecords: []models.SourceRecord{
			{Dataset: models.DatasetCardSwipes, EventType: "card_swipe", Timestamp: ts},
			{Dataset: models.DatasetWiFiLogs, EventType: "wifi_connection", Timestamp: ts},
		},
		Evidence: models.FusionEvidence{
			SourceDiversity: &models.SourceDiversity{},
			ActivityPattern: &models.ActivityPattern{},
		},
	}
	profile := models.EntityProfile{Role: "faculty", Department: "ECE"}

	got := extractFeatures(record, profile)
	want := []float64{14, 3, 2, 1, 2, 2, 2, 0.85, 2, 3, 1, 0, 1, 0, 0, 0}

	if len(got) != featureCount {
		t.Fatalf("Expected %d features, got %d", featureCount, len(got))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 0.001 {
			t.Errorf("Feature %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestExtractFeaturesDefaults(t *testing.T) {
	record := models.FusionRecord{
		Timestamp:    time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), // Monday
		Location:     "OFF_CAMPUS",
		ActivityType: "unknown",
	}
	got := extractFeatures(record, models.EntityProfile{})

	if got[1] != 0 {
		t.Errorf("Expected Monday to encode as 0, got %v", got[1])
	}
	if got[4] != 0 {
		t.Errorf("Expected missing role to encode as student (0), got %v", got[4])
	}
	if got[5] != -1 {
		t.Errorf("Expected unmapped department to encode as -1, got %v", got[5])
	}
	if got[9] != -1 {
		t.Errorf("Expected unregistered location to encode as -1, got %v", got[9])
	}
}

func TestLabelEncoder(t *testing.T) {
	enc := FitLabelEncoder([]string{"wifi_connection", "card_swipe", "note_helpdesk", "card_swipe"})

	if len(enc.Classes) != 3 {
		t.Fatalf("Expected 3 classes, got %d", len(enc.Classes))
	}
	tests := []struct {
		label string
		code  int
	}{
		{"card_swipe", 0},
		{"note_helpdesk", 1},
		{"wifi_connection", 2},
		{"never_seen", -1},
	}
	for _, tt := range tests {
		if got := enc.Code(tt.label); got != tt.code {
			t.Errorf("Code(%q): expected %d, got %d", tt.label, tt.code, got)
		}
	}
	if got := enc.Label(1); got != "note_helpdesk" {
		t.Errorf("Label(1): expected note_helpdesk, got %q", got)
	}
	if got := enc.Label(5); got != "" {
		t.Errorf("Label(5): expected empty, got %q", got)
	}
}

func TestStandardScaler(t *testing.T) {
	scaler := FitScaler([][]float64{{0, 5}, {10, 5}})

	if math.Abs(scaler.Means[0]-5) > 0.001 || math.Abs(scaler.Means[1]-5) > 0.001 {
		t.Errorf("Expected means [5 5], got %v", scaler.Means)
	}
	if math.Abs(scaler.Scales[0]-5) > 0.001 {
		t.Errorf("Expected scale 5 for first column, got %v", scaler.Scales[0])
	}
	if scaler.Scales[1] != 1 {
		t.Errorf("Expected zero-variance column to scale by 1, got %v", scaler.Scales[1])
	}

	got := scaler.Transform([]float64{0, 5})
	if math.Abs(got[0]-(-1)) > 0.001 || math.Abs(got[1]) > 0.001 {
		t.Errorf("Expected [-1 0], got %v", got)
	}
}

func TestForestSeparableClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var X [][]float64
	var y []int
	for i := 0; i < 200; i++ {
		v := rng.Float64()*2 - 1
		X = append(X, []float64{v, rng.Float64() * 0.1})
		if v < 0 {
			y = append(y, 0)
		} else {
			y = append(y, 1)
		}
	}

	forest := TrainForest(X, y, rand.New(rand.NewSource(42)))

	classes := forest.Classes()
	if len(classes) != 2 || classes[0] != 0 || classes[1] != 1 {
		t.Fatalf("Expected classes [0 1], got %v", classes)
	}

	probs := forest.PredictProba([]float64{-0.9, 0.05})
	if probs[0] < 0.8 {
		t.Errorf("Expected strong class-0 probability for negative point, got %v", probs)
	}
	if got := forest.Predict([]float64{-0.9, 0.05}); got != 0 {
		t.Errorf("Expected class 0, got %d", got)
	}
	if got := forest.Predict([]float64{0.9, 0.05}); got != 1 {
		t.Errorf("Expected class 1, got %d", got)
	}
}

func TestIsolationForestScoring(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var X [][]float64
	for i := 0; i < 200; i++ {
		X = append(X, []float64{rng.Float64(), rng.Float64()})
	}

	iso := TrainIsolationForest(X, rand.New(rand.NewSource(42)))

	center := iso.DecisionFunction([]float64{0.5, 0.5})
	far := iso.DecisionFunction([]float64{10, 10})
	if far >= center {
		t.Errorf("Expected far point to score below center: far=%v center=%v", far, center)
	}

	if s := iso.scoreSample([]float64{0.5, 0.5}); s >= 0 || s <= -1 {
		t.Errorf("Expected sample score in (-1, 0), got %v", s)
	}

	// the offset anchors roughly a tenth of the training data below zero
	negative := 0
	for _, x := range X {
		if iso.DecisionFunction(x) < 0 {
			negative++
		}
	}
	if negative < 10 || negative > 30 {
		t.Errorf("Expected roughly 20 of 200 training points below zero, got %d", negative)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{10, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{10, 1.9},
		{50, 5.5},
		{100, 10},
	}
	for _, tt := range tests {
		if got := percentile(values, tt.p); math.Abs(got-tt.want) > 0.001 {
			t.Errorf("percentile(%v): expected %v, got %v", tt.p, tt.want, got)
		}
	}
}

func TestSplitIndexes(t *testing.T) {
	train, test := splitIndexes(10, 0.2, rand.New(rand.NewSource(42)))

	if len(test) != 2 || len(train) != 8 {
		t.Fatalf("Expected 8/2 split, got %d/%d", len(train), len(test))
	}
	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, train...), test...) {
		if seen[i] {
			t.Fatalf("Index %d assigned twice", i)
		}
		seen[i] = true
	}
	if len(seen) != 10 {
		t.Errorf("Expected indexes to cover all 10 rows, got %d", len(seen))
	}
}

func TestTrainMetrics(t *testing.T) {
	m := NewMonitor(predictionConfig())
	profiles := map[string]models.EntityProfile{
		"unified_entity_000001": {EntityID: "unified_entity_000001", Role: "student", Department: "MECH"},
	}

	metrics, err := m.Train(patternedRecords(), profiles)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if metrics.TrainingSamples != 28 || metrics.TestSamples != 8 {
		t.Errorf("Expected 28/8 samples, got %d/%d", metrics.TrainingSamples, metrics.TestSamples)
	}
	if metrics.LocationAccuracy < 0.9 {
		t.Errorf("Expected near-perfect location accuracy on a separable pattern, got %v", metrics.LocationAccuracy)
	}
	if metrics.ActivityAccuracy != 1.0 {
		t.Errorf("Expected single-activity accuracy 1.0, got %v", metrics.ActivityAccuracy)
	}
	if !m.Trained() {
		t.Error("Expected monitor to report trained")
	}
}

func TestTrainTooFewRecords(t *testing.T) {
	m := NewMonitor(predictionConfig())

	if _, err := m.Train(nil, nil); err == nil {
		t.Error("Expected error training on no records")
	}
	one := []models.FusionRecord{fusedAt(time.Now(), "LAB_101", "card_swipe", models.DatasetCardSwipes)}
	if _, err := m.Train(one, nil); err == nil {
		t.Error("Expected error training on a single record")
	}
}

func TestPredictUntrained(t *testing.T) {
	m := NewMonitor(predictionConfig())

	if p := m.Predict("unified_entity_000001", time.Now(), nil, models.EntityProfile{}); p != nil {
		t.Errorf("Expected absent prediction from untrained monitor, got %+v", p)
	}
}

func TestPredictContextDrivenMorning(t *testing.T) {
	m := trainedMonitor(t)
	profile := models.EntityProfile{EntityID: "unified_entity_000001", Role: "student", Department: "MECH"}

	// seven prior records, the last five at LAB_301 on a weekday morning
	context := []models.FusionRecord{
		fusedAt(time.Date(2025, 1, 26, 20, 0, 0, 0, time.UTC), "HOSTEL_GATE", "card_swipe", models.DatasetCardSwipes),
		fusedAt(time.Date(2025, 1, 26, 21, 0, 0, 0, time.UTC), "HOSTEL_GATE", "wifi_connection", models.DatasetWiFiLogs),
		fusedAt(time.Date(2025, 1, 27, 8, 0, 0, 0, time.UTC), "LAB_301", "card_swipe", models.DatasetCardSwipes),
		fusedAt(time.Date(2025, 1, 27, 8, 20, 0, 0, time.UTC), "LAB_301", "wifi_connection", models.DatasetWiFiLogs),
		fusedAt(time.Date(2025, 1, 27, 8, 40, 0, 0, time.UTC), "LAB_301", "cctv_detection", models.DatasetCCTVFrames),
		fusedAt(time.Date(2025, 1, 27, 9, 0, 0, 0, time.UTC), "LAB_301", "card_swipe", models.DatasetCardSwipes),
		fusedAt(time.Date(2025, 1, 27, 9, 30, 0, 0, time.UTC), "LAB_301", "wifi_connection", models.DatasetWiFiLogs),
	}
	query := time.Date(2025, 1, 27, 10, 0, 0, 0, time.UTC) // Monday

	p := m.Predict("unified_entity_000001", query, context, profile)
	if p == nil {
		t.Fatal("Expected a prediction from a trained monitor")
	}

	if p.PredictedLocation != "LAB_301" {
		t.Errorf("Expected predicted location LAB_301, got %s", p.PredictedLocation)
	}
	if p.Confidence < 0.8 {
		t.Errorf("Expected confident prediction, got %v", p.Confidence)
	}

	if !containsString(p.Explanation.Reasoning, "Entity recently visited LAB_301") {
		t.Errorf("Expected recency reasoning, got %v", p.Explanation.Reasoning)
	}
	if !containsString(p.Explanation.Reasoning, "Predicted during typical working hours") {
		t.Errorf("Expected working-hours reasoning, got %v", p.Explanation.Reasoning)
	}
	if got := p.Explanation.ConfidenceFactors["location_history"]; math.Abs(got-0.9) > 0.001 {
		t.Errorf("Expected location_history factor 0.9, got %v", got)
	}
	if got := p.Explanation.ConfidenceFactors["working_hours"]; math.Abs(got-0.8) > 0.001 {
		t.Errorf("Expected working_hours factor 0.8, got %v", got)
	}

	if !containsString(p.Evidence, "Last seen 30 minutes ago at LAB_301") {
		t.Errorf("Expected last-seen evidence, got %v", p.Evidence)
	}
	if !containsString(p.Evidence, "Most frequently visits LAB_301 (5 times recently)") {
		t.Errorf("Expected frequency evidence, got %v", p.Evidence)
	}
	if !containsString(p.Evidence, "Prediction made during typical campus hours") {
		t.Errorf("Expected campus-hours evidence, got %v", p.Evidence)
	}
	if !containsString(p.Evidence, "Entity role: student") {
		t.Errorf("Expected role evidence, got %v", p.Evidence)
	}

	if len(p.Alternatives) != 1 {
		t.Fatalf("Expected exactly one alternative, got %v", p.Alternatives)
	}
	if p.Alternatives[0].Label != "Location: HOSTEL_GATE" {
		t.Errorf("Expected runner-up HOSTEL_GATE, got %s", p.Alternatives[0].Label)
	}
}

func TestExplainTimeBuckets(t *testing.T) {
	m := NewMonitor(predictionConfig())

	tests := []struct {
		hour      int
		reasoning string
		factor    string
	}{
		{10, "Predicted during typical working hours", "working_hours"},
		{20, "Predicted during evening hours", "evening_hours"},
		{3, "Predicted during off-hours", "off_hours"},
	}
	for _, tt := range tests {
		t.Run(tt.factor, func(t *testing.T) {
			ts := time.Date(2025, 1, 27, tt.hour, 0, 0, 0, time.UTC)
			exp := m.explain(ts, "CAF_01", "card_swipe", nil, models.EntityProfile{})
			if !containsString(exp.Reasoning, tt.reasoning) {
				t.Errorf("Expected %q, got %v", tt.reasoning, exp.Reasoning)
			}
			if _, ok := exp.ConfidenceFactors[tt.factor]; !ok {
				t.Errorf("Expected factor %s, got %v", tt.factor, exp.ConfidenceFactors)
			}
		})
	}
}

func TestExplainRoleAndDepartment(t *testing.T) {
	m := NewMonitor(predictionConfig())
	ts := time.Date(2025, 1, 27, 10, 0, 0, 0, time.UTC)

	faculty := m.explain(ts, "LAB_305", "card_swipe", nil, models.EntityProfile{Role: "faculty"})
	if !containsString(faculty.Reasoning, "Faculty members often use lab facilities") {
		t.Errorf("Expected faculty-lab reasoning, got %v", faculty.Reasoning)
	}

	student := m.explain(ts, "LIB_ENT", "library_checkout", nil, models.EntityProfile{Role: "student"})
	if !containsString(student.Reasoning, "Students frequently use library services") {
		t.Errorf("Expected student-library reasoning, got %v", student.Reasoning)
	}

	mech := m.explain(ts, "LAB_101", "card_swipe", nil, models.EntityProfile{Role: "student", Department: "MECH"})
	if !containsString(mech.Reasoning, "Mechanical engineering students often use Lab 101") {
		t.Errorf("Expected department reasoning, got %v", mech.Reasoning)
	}
	if got := mech.ConfidenceFactors["department_location"]; math.Abs(got-0.7) > 0.001 {
		t.Errorf("Expected department_location factor 0.7, got %v", got)
	}
}

func TestDetectAnomaliesAbsence(t *testing.T) {
	last := time.Date(2025, 1, 24, 9, 0, 0, 0, time.UTC)
	records := []models.FusionRecord{fusedAt(last, "LAB_101", "card_swipe", models.DatasetCardSwipes)}
	profile := models.EntityProfile{Role: "student"}

	m := stubbedMonitor(0.1)
	m.now = func() time.Time { return last.Add(18 * time.Hour) }

	alerts := m.DetectAnomalies(records, profile)
	if len(alerts) != 1 {
		t.Fatalf("Expected exactly one alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.AlertType != models.AlertAbsence {
		t.Errorf("Expected absence alert, got %s", alert.AlertType)
	}
	if alert.Severity != "medium" {
		t.Errorf("Expected medium severity at 18h, got %s", alert.Severity)
	}
	if alert.Description != "No activity detected for 18.0 hours" {
		t.Errorf("Unexpected description: %s", alert.Description)
	}
	if math.Abs(alert.Evidence.AbsenceDurationHours-18) > 0.001 {
		t.Errorf("Expected 18h absence, got %v", alert.Evidence.AbsenceDurationHours)
	}
	if alert.Evidence.LastLocation != "LAB_101" {
		t.Errorf("Expected last location LAB_101, got %s", alert.Evidence.LastLocation)
	}
	if alert.Evidence.LastSeen == nil || !alert.Evidence.LastSeen.Equal(last) {
		t.Errorf("Expected last seen %v, got %v", last, alert.Evidence.LastSeen)
	}
	if alert.Evidence.EntityRole != "student" {
		t.Errorf("Expected role student, got %s", alert.Evidence.EntityRole)
	}
	if alert.AlertID == "" {
		t.Error("Expected a generated alert id")
	}
	if len(alert.RecommendedActions) != 4 || alert.RecommendedActions[0] != "Contact entity directly" {
		t.Errorf("Unexpected recommended actions: %v", alert.RecommendedActions)
	}
}

func TestDetectAnomaliesAbsenceHighSeverity(t *testing.T) {
	last := time.Date(2025, 1, 24, 9, 0, 0, 0, time.UTC)
	records := []models.FusionRecord{fusedAt(last, "LAB_101", "card_swipe", models.DatasetCardSwipes)}

	m := stubbedMonitor(0.1)
	m.now = func() time.Time { return last.Add(30 * time.Hour) }

	alerts := m.DetectAnomalies(records, models.EntityProfile{})
	if len(alerts) != 1 {
		t.Fatalf("Expected exactly one alert, got %d", len(alerts))
	}
	if alerts[0].Severity != "high" {
		t.Errorf("Expected high severity at 30h, got %s", alerts[0].Severity)
	}
	if alerts[0].Evidence.EntityRole != "unknown" {
		t.Errorf("Expected unknown role without profile, got %s", alerts[0].Evidence.EntityRole)
	}
}

func TestDetectAnomaliesBehavioral(t *testing.T) {
	ts := time.Date(2025, 1, 24, 3, 0, 0, 0, time.UTC)
	records := []models.FusionRecord{fusedAt(ts, "LAB_305", "card_swipe", models.DatasetCardSwipes)}
	profile := models.EntityProfile{Role: "staff"}

	tests := []struct {
		name     string
		score    float64
		alerts   int
		severity string
	}{
		{"high outlier", -0.9, 1, "high"},
		{"medium outlier", -0.6, 1, "medium"},
		{"inlier", -0.4, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := stubbedMonitor(tt.score)
			m.now = func() time.Time { return ts.Add(time.Hour) }

			alerts := m.DetectAnomalies(records, profile)
			if len(alerts) != tt.alerts {
				t.Fatalf("Expected %d alerts, got %d", tt.alerts, len(alerts))
			}
			if tt.alerts == 0 {
				return
			}

			alert := alerts[0]
			if alert.AlertType != models.AlertBehavioral {
				t.Errorf("Expected behavioral alert, got %s", alert.AlertType)
			}
			if alert.Severity != tt.severity {
				t.Errorf("Expected %s severity, got %s", tt.severity, alert.Severity)
			}
			if alert.Description != "Unusual activity pattern detected at LAB_305" {
				t.Errorf("Unexpected description: %s", alert.Description)
			}
			if math.Abs(alert.Evidence.AnomalyScore-tt.score) > 0.001 {
				t.Errorf("Expected score %v, got %v", tt.score, alert.Evidence.AnomalyScore)
			}
			if len(alert.Evidence.Sources) != 1 || alert.Evidence.Sources[0] != "card_swipes" {
				t.Errorf("Unexpected sources: %v", alert.Evidence.Sources)
			}
			if !alert.Timestamp.Equal(ts) {
				t.Errorf("Expected alert timestamp %v, got %v", ts, alert.Timestamp)
			}
			if len(alert.RecommendedActions) != 4 || alert.RecommendedActions[0] != "Review activity details" {
				t.Errorf("Unexpected recommended actions: %v", alert.RecommendedActions)
			}
		})
	}
}

func TestDetectAnomaliesBehavioralWindow(t *testing.T) {
	base := time.Date(2025, 1, 24, 8, 0, 0, 0, time.UTC)
	var records []models.FusionRecord
	for i := 0; i < 12; i++ {
		records = append(records, fusedAt(base.Add(time.Duration(i)*time.Hour), "LAB_101", "card_swipe", models.DatasetCardSwipes))
	}

	m := stubbedMonitor(-0.9)
	m.now = func() time.Time { return base.Add(12 * time.Hour) }

	alerts := m.DetectAnomalies(records, models.EntityProfile{})
	if len(alerts) != 10 {
		t.Fatalf("Expected the last 10 records to alert, got %d", len(alerts))
	}
	for _, alert := range alerts {
		if alert.Severity != "high" {
			t.Errorf("Expected high severity, got %s", alert.Severity)
		}
	}
}

func TestDetectAnomaliesEmptyInput(t *testing.T) {
	m := stubbedMonitor(-0.9)

	if alerts := m.DetectAnomalies(nil, models.EntityProfile{}); alerts != nil {
		t.Errorf("Expected no alerts for empty records, got %v", alerts)
	}

	untrained := NewMonitor(predictionConfig())
	records := []models.FusionRecord{fusedAt(time.Now(), "LAB_101", "card_swipe", models.DatasetCardSwipes)}
	if alerts := untrained.DetectAnomalies(records, models.EntityProfile{}); alerts != nil {
		t.Errorf("Expected no alerts from untrained monitor, got %v", alerts)
	}
}

func TestSaveLoadModels(t *testing.T) {
	m := trainedMonitor(t)
	path := filepath.Join(t.TempDir(), "models.gob")

	if err := m.SaveModels(path); err != nil {
		t.Fatalf("SaveModels failed: %v", err)
	}

	fresh := NewMonitor(predictionConfig())
	if err := fresh.LoadModels(path); err != nil {
		t.Fatalf("LoadModels failed: %v", err)
	}
	if !fresh.Trained() {
		t.Fatal("Expected loaded monitor to report trained")
	}

	query := time.Date(2025, 1, 27, 10, 0, 0, 0, time.UTC)
	profile := models.EntityProfile{Role: "student", Department: "MECH"}
	p := fresh.Predict("unified_entity_000001", query, nil, profile)
	if p == nil {
		t.Fatal("Expected a prediction from the reloaded monitor")
	}
	if p.PredictedLocation != "LAB_301" {
		t.Errorf("Expected reloaded models to predict LAB_301, got %s", p.PredictedLocation)
	}
}

func TestLoadModelsMissing(t *testing.T) {
	m := NewMonitor(predictionConfig())

	if err := m.LoadModels(filepath.Join(t.TempDir(), "absent.gob")); err == nil {
		t.Fatal("Expected error loading a missing blob")
	}
	if m.Trained() {
		t.Error("Expected monitor to stay untrained after failed load")
	}
	if p := m.Predict("unified_entity_000001", time.Now(), nil, models.EntityProfile{}); p != nil {
		t.Errorf("Expected absent prediction after failed load, got %+v", p)
	}
}

func TestSaveModelsUntrained(t *testing.T) {
	m := NewMonitor(predictionConfig())

	if err := m.SaveModels(filepath.Join(t.TempDir(), "models.gob")); err == nil {
		t.Error("Expected error saving an untrained monitor")
	}
}

func TestMostFrequentLocation(t *testing.T) {
	records := []models.FusionRecord{
		{Location: "CAF_01"},
		{Location: "LIB_ENT"},
		{Location: "LIB_ENT"},
		{Location: "CAF_01"},
	}
	location, count := mostFrequentLocation(records)
	if location != "CAF_01" || count != 2 {
		t.Errorf("Expected first-seen tie-break CAF_01 (2), got %s (%d)", location, count)
	}
}

func TestSummarisePredictions(t *testing.T) {
	predictions := []*models.Prediction{
		{PredictedLocation: "LAB_101", PredictedActivity: "card_swipe", Confidence: 0.9},
		{PredictedLocation: "LAB_101", PredictedActivity: "wifi_connection", Confidence: 0.7},
		{PredictedLocation: "LIB_ENT", PredictedActivity: "card_swipe", Confidence: 0.5},
		nil,
	}

	stats := SummarisePredictions(predictions)
	if stats.TotalPredictions != 3 {
		t.Fatalf("Expected 3 predictions counted, got %d", stats.TotalPredictions)
	}
	if math.Abs(stats.AverageConfidence-0.7) > 0.001 {
		t.Errorf("Expected average confidence 0.7, got %v", stats.AverageConfidence)
	}
	if stats.HighConfidenceCount != 1 {
		t.Errorf("Expected 1 high-confidence prediction, got %d", stats.HighConfidenceCount)
	}
	if stats.LocationCounts["LAB_101"] != 2 {
		t.Errorf("Expected LAB_101 count 2, got %d", stats.LocationCounts["LAB_101"])
	}
	if stats.LocationCoverage <= 0 {
		t.Errorf("Expected positive location coverage, got %v", stats.LocationCoverage)
	}
}

func TestAlertManagerHistory(t *testing.T) {
	var received []Alert
	am := NewAlertManager(config.Default().Dashboard, func(a Alert) { received = append(received, a) })

	am.EmitAlert(Alert{Severity: "medium", AlertType: "absence", Title: "first", EntityID: "unified_entity_000001"})
	am.EmitAlert(Alert{Severity: "high", AlertType: "behavioral", Title: "second", EntityID: "unified_entity_000002"})

	recent := am.GetRecentAlerts(10)
	if len(recent) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(recent))
	}
	if recent[0].Title != "second" {
		t.Errorf("Expected newest first, got %s", recent[0].Title)
	}
	if recent[0].ID == "" || recent[0].Timestamp.IsZero() {
		t.Error("Expected id and timestamp to be filled in")
	}

	if got := am.GetAlertsBySeverity("high"); len(got) != 1 {
		t.Errorf("Expected 1 high alert, got %d", len(got))
	}
	if got := am.GetAlertsByEntity("unified_entity_000001"); len(got) != 1 || got[0].Title != "first" {
		t.Errorf("Unexpected entity alerts: %v", got)
	}
	if len(received) != 2 {
		t.Errorf("Expected broadcast callback for both alerts, got %d", len(received))
	}
}

func TestAlertManagerEmitAnomaly(t *testing.T) {
	am := NewAlertManager(config.Default().Dashboard, nil)

	am.EmitAnomaly(models.AnomalyAlert{
		AlertID:     "a-1",
		EntityID:    "unified_entity_000001",
		AlertType:   models.AlertAbsence,
		Severity:    "medium",
		Timestamp:   time.Now(),
		Description: "No activity detected for 18.0 hours",
	})

	recent := am.GetRecentAlerts(1)
	if len(recent) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(recent))
	}
	if recent[0].Title != "Prolonged absence detected" {
		t.Errorf("Unexpected title: %s", recent[0].Title)
	}
	if recent[0].Anomaly == nil || recent[0].Anomaly.EntityID != "unified_entity_000001" {
		t.Error("Expected the anomaly payload to ride along")
	}
}

func TestAlertManagerWebhook(t *testing.T) {
	delivered := make(chan Alert, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("Bad webhook payload: %v", err)
		}
		delivered <- a
	}))
	defer srv.Close()

	am := NewAlertManager(config.Default().Dashboard, nil)
	am.RegisterWebhook("siem", srv.URL, "medium", map[string]string{"X-Token": "secret"})

	am.EmitAlert(Alert{Severity: "high", AlertType: "behavioral", Title: "hook me"})
	select {
	case a := <-delivered:
		if a.Title != "hook me" {
			t.Errorf("Expected delivered alert, got %s", a.Title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Webhook delivery timed out")
	}

	am.EmitAlert(Alert{Severity: "low", AlertType: "pipeline", Title: "too quiet"})
	select {
	case a := <-delivered:
		t.Fatalf("Low severity alert should not reach a medium-threshold webhook: %s", a.Title)
	case <-time.After(200 * time.Millisecond):
	}
}
