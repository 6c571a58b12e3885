package monitor

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/campustrace/sentinel-engine/internal/config"
)

// modelArtifacts is the on-disk snapshot of a trained monitor. The
// whole set travels as one gob blob so a load either restores every
// artefact or none.
type modelArtifacts struct {
	LocationModel Classifier
	ActivityModel Classifier
	OutlierModel  OutlierScorer
	Locations     *LabelEncoder
	Activities    *LabelEncoder
	Scaler        *StandardScaler
	Config        config.PredictionConfig
	TrainedAt     time.Time
}

func init() {
	gob.Register(&Forest{})
	gob.Register(&IsolationForest{})
}

// SaveModels writes the trained artefacts to path, replacing any
// previous blob atomically
func (m *Monitor) SaveModels(path string) error {
	m.mu.RLock()
	if !m.trained {
		m.mu.RUnlock()
		return fmt.Errorf("save models: no trained models to save")
	}
	artifacts := modelArtifacts{
		LocationModel: m.locationModel,
		ActivityModel: m.activityModel,
		OutlierModel:  m.outlierModel,
		Locations:     m.locations,
		Activities:    m.activities,
		Scaler:        m.scaler,
		Config:        m.cfg,
		TrainedAt:     time.Now(),
	}
	m.mu.RUnlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".models-*.gob")
	if err != nil {
		return fmt.Errorf("save models: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(artifacts); err != nil {
		tmp.Close()
		return fmt.Errorf("save models: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save models: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save models: %w", err)
	}

	log.Printf("[Monitor] Models saved to %s", path)
	return nil
}

// LoadModels restores trained artefacts from path. On any failure the
// monitor keeps its current state; a fresh monitor stays untrained and
// predictions remain absent.
func (m *Monitor) LoadModels(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	defer f.Close()

	var artifacts modelArtifacts
	if err := gob.NewDecoder(f).Decode(&artifacts); err != nil {
		return fmt.Errorf("load models: decode: %w", err)
	}
	if artifacts.LocationModel == nil || artifacts.ActivityModel == nil || artifacts.OutlierModel == nil ||
		artifacts.Locations == nil || artifacts.Activities == nil || artifacts.Scaler == nil {
		return fmt.Errorf("load models: blob missing artefacts")
	}

	m.mu.Lock()
	m.locationModel = artifacts.LocationModel
	m.activityModel = artifacts.ActivityModel
	m.outlierModel = artifacts.OutlierModel
	m.locations = artifacts.Locations
	m.activities = artifacts.Activities
	m.scaler = artifacts.Scaler
	m.cfg = artifacts.Config
	m.trained = true
	m.mu.Unlock()

	log.Printf("[Monitor] Models loaded from %s", path)
	return nil
}
