package models

import "time"

// Prediction is an imputed (location, activity) pair with an
// explanation a security operator can audit
type Prediction struct {
	EntityID          string                  `json:"entityId"`
	Timestamp         time.Time               `json:"timestamp"`
	PredictedLocation string                  `json:"predictedLocation"`
	PredictedActivity string                  `json:"predictedActivity"`
	Confidence        float64                 `json:"confidence"` // mean of the two classifier maxima
	Explanation       PredictionExplanation   `json:"explanation"`
	Evidence          []string                `json:"evidence"`
	Alternatives      []AlternativePrediction `json:"alternatives"`
}

// PredictionExplanation pairs human-readable reasoning with the
// factors that produced it
type PredictionExplanation struct {
	Reasoning         []string           `json:"reasoning"`
	ConfidenceFactors map[string]float64 `json:"confidenceFactors"`
}

// AlternativePrediction is a runner-up class with its probability
type AlternativePrediction struct {
	Label      string  `json:"label"` // "Location: <code>" or "Activity: <type>"
	Confidence float64 `json:"confidence"`
}

// Anomaly alert types
const (
	AlertAbsence    = "absence"
	AlertBehavioral = "behavioral"
)

// AnomalyAlert flags an absence or behavioural outlier on one entity
type AnomalyAlert struct {
	AlertID            string          `json:"alertId"`
	EntityID           string          `json:"entityId"`
	AlertType          string          `json:"alertType"` // absence or behavioral
	Severity           string          `json:"severity"`  // "medium" or "high"
	Timestamp          time.Time       `json:"timestamp"`
	Description        string          `json:"description"`
	Evidence           AnomalyEvidence `json:"evidence"`
	RecommendedActions []string        `json:"recommendedActions"`
}

// AnomalyEvidence carries the facts behind an anomaly alert. Absence
// alerts fill the first block, behavioural alerts the second.
type AnomalyEvidence struct {
	LastSeen             *time.Time `json:"lastSeen,omitempty"`
	LastLocation         string     `json:"lastLocation,omitempty"`
	AbsenceDurationHours float64    `json:"absenceDurationHours,omitempty"`

	AnomalyScore float64  `json:"anomalyScore,omitempty"` // negative = outlier
	Location     string   `json:"location,omitempty"`
	Activity     string   `json:"activity,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
	Sources      []string `json:"sources,omitempty"`

	EntityRole string `json:"entityRole"`
}

// TrainingMetrics reports hold-out performance after model training
type TrainingMetrics struct {
	LocationAccuracy float64 `json:"locationAccuracy"`
	ActivityAccuracy float64 `json:"activityAccuracy"`
	TrainingSamples  int     `json:"trainingSamples"`
	TestSamples      int     `json:"testSamples"`
	AnomalyThreshold float64 `json:"anomalyThreshold"` // 10th percentile outlier score
}
