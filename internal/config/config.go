package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the single tuning surface for the resolution pipeline.
// Zero values are never valid; construct via Default or Load.
type Config struct {
	Resolver   ResolverConfig   `yaml:"resolver" json:"resolver"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Timeline   TimelineConfig   `yaml:"timeline" json:"timeline"`
	Prediction PredictionConfig `yaml:"prediction" json:"prediction"`
	Dashboard  DashboardConfig  `yaml:"dashboard" json:"dashboard"`
}

// ResolverConfig tunes pairwise matching and graph contraction
type ResolverConfig struct {
	NameSimilarityThreshold float64 `yaml:"name_similarity_threshold" json:"nameSimilarityThreshold"`
	FuzzyMatchThreshold     float64 `yaml:"fuzzy_match_threshold" json:"fuzzyMatchThreshold"`
	TimeWindowMinutes       int     `yaml:"time_window_minutes" json:"timeWindowMinutes"`
	MaxPairwiseRecords      int     `yaml:"max_pairwise_records" json:"maxPairwiseRecords"`
}

// FusionConfig tunes temporal clustering and confidence scoring
type FusionConfig struct {
	ConfidenceThreshold     float64 `yaml:"confidence_threshold" json:"confidenceThreshold"`
	MaxTimeGapMinutes       int     `yaml:"max_time_gap_minutes" json:"maxTimeGapMinutes"`
	FaceSimilarityThreshold float64 `yaml:"face_similarity_threshold" json:"faceSimilarityThreshold"`
	LocationProximityMeters int     `yaml:"location_proximity_meters" json:"locationProximityMeters"`
}

// TimelineConfig tunes gap detection and summarisation
type TimelineConfig struct {
	MaxGapHours        int `yaml:"max_gap_hours" json:"maxGapHours"`
	SummaryWindowHours int `yaml:"summary_window_hours" json:"summaryWindowHours"`
}

// PredictionConfig tunes the predictive monitor. The hour fields are
// inclusive bucket bounds: [WorkingHourStart, WorkingHourEnd] is the
// working-hours bucket, (WorkingHourEnd, EveningHourEnd] the evening
// bucket, everything else off-hours.
type PredictionConfig struct {
	MissingDataThresholdHours     int     `yaml:"missing_data_threshold_hours" json:"missingDataThresholdHours"`
	PredictionConfidenceThreshold float64 `yaml:"prediction_confidence_threshold" json:"predictionConfidenceThreshold"`
	AnomalyDetectionThreshold     float64 `yaml:"anomaly_detection_threshold" json:"anomalyDetectionThreshold"`
	AlertAbsenceHours             int     `yaml:"alert_absence_hours" json:"alertAbsenceHours"`
	WorkingHourStart              int     `yaml:"working_hour_start" json:"workingHourStart"`
	WorkingHourEnd                int     `yaml:"working_hour_end" json:"workingHourEnd"`
	EveningHourEnd                int     `yaml:"evening_hour_end" json:"eveningHourEnd"`
}

// DashboardConfig tunes the serving surface
type DashboardConfig struct {
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds" json:"refreshIntervalSeconds"`
	MaxTimelineDays        int `yaml:"max_timeline_days" json:"maxTimelineDays"`
	AlertRetentionDays     int `yaml:"alert_retention_days" json:"alertRetentionDays"`
	QueryTimeoutSeconds    int `yaml:"query_timeout_seconds" json:"queryTimeoutSeconds"`
}

// Default returns the canonical pipeline configuration
func Default() Config {
	return Config{
		Resolver: ResolverConfig{
			NameSimilarityThreshold: 0.85,
			FuzzyMatchThreshold:     0.80,
			TimeWindowMinutes:       10,
			MaxPairwiseRecords:      1000,
		},
		Fusion: FusionConfig{
			ConfidenceThreshold:     0.70,
			MaxTimeGapMinutes:       15,
			FaceSimilarityThreshold: 0.85,
			LocationProximityMeters: 50,
		},
		Timeline: TimelineConfig{
			MaxGapHours:        2,
			SummaryWindowHours: 24,
		},
		Prediction: PredictionConfig{
			MissingDataThresholdHours:     1,
			PredictionConfidenceThreshold: 0.6,
			AnomalyDetectionThreshold:     0.8,
			AlertAbsenceHours:             12,
			WorkingHourStart:              8,
			WorkingHourEnd:                17,
			EveningHourEnd:                22,
		},
		Dashboard: DashboardConfig{
			RefreshIntervalSeconds: 30,
			MaxTimelineDays:        7,
			AlertRetentionDays:     30,
			QueryTimeoutSeconds:    10,
		},
	}
}

// Load builds the pipeline configuration: defaults, overlaid with the
// YAML file at path (if non-empty), overlaid with environment
// variables. A missing file is fatal; a malformed value in the
// environment is logged and skipped.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envFloat("NAME_SIMILARITY_THRESHOLD", &c.Resolver.NameSimilarityThreshold)
	envFloat("FUZZY_MATCH_THRESHOLD", &c.Resolver.FuzzyMatchThreshold)
	envInt("TIME_WINDOW_MINUTES", &c.Resolver.TimeWindowMinutes)
	envInt("MAX_PAIRWISE_RECORDS", &c.Resolver.MaxPairwiseRecords)

	envFloat("CONFIDENCE_THRESHOLD", &c.Fusion.ConfidenceThreshold)
	envInt("MAX_TIME_GAP_MINUTES", &c.Fusion.MaxTimeGapMinutes)
	envFloat("FACE_SIMILARITY_THRESHOLD", &c.Fusion.FaceSimilarityThreshold)

	envInt("MAX_GAP_HOURS", &c.Timeline.MaxGapHours)
	envInt("SUMMARY_WINDOW_HOURS", &c.Timeline.SummaryWindowHours)

	envFloat("PREDICTION_CONFIDENCE_THRESHOLD", &c.Prediction.PredictionConfidenceThreshold)
	envInt("ALERT_ABSENCE_HOURS", &c.Prediction.AlertAbsenceHours)
	envInt("WORKING_HOUR_START", &c.Prediction.WorkingHourStart)
	envInt("WORKING_HOUR_END", &c.Prediction.WorkingHourEnd)
	envInt("EVENING_HOUR_END", &c.Prediction.EveningHourEnd)

	envInt("QUERY_TIMEOUT_SECONDS", &c.Dashboard.QueryTimeoutSeconds)
}

func envFloat(key string, dst *float64) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("[Config] Warning: invalid %s=%q, keeping %v", key, raw, *dst)
		return
	}
	*dst = v
}

func envInt(key string, dst *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[Config] Warning: invalid %s=%q, keeping %v", key, raw, *dst)
		return
	}
	*dst = v
}

// GetEnvOrDefault returns the environment value for key, or fallback
// when unset
func GetEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
