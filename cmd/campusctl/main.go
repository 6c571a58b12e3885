package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/internal/monitor"
	"github.com/campustrace/sentinel-engine/internal/pipeline"
	"github.com/campustrace/sentinel-engine/internal/shadow"
	"github.com/campustrace/sentinel-engine/internal/timeline"
	"github.com/campustrace/sentinel-engine/pkg/models"
)

var (
	dataDir    string
	configPath string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "campusctl",
		Short: "Offline campus security analysis",
		Long: `Campusctl runs the Sentinel resolution pipeline over a dataset
directory without the API server: entity resolution, multi-modal
fusion, timelines, model training, predictions and quality metrics.`,
		SilenceUsage: true,
	}

	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", envOr("DATA_DIR", "./data"), "Dataset directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Pipeline config YAML")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(fuseCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(evaluateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// session holds one completed offline pipeline pass.
type session struct {
	cfg    config.Config
	runner *pipeline.Runner
	snap   *pipeline.Snapshot
}

// runPipeline executes a full synchronous pass over the dataset.
// Shadow comparison is only wired for evaluate; the other commands
// skip that cost.
func runPipeline(ctx context.Context, withShadow bool) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var shadowRunner *shadow.Runner
	if withShadow {
		shadowRunner = shadow.NewRunner(cfg.Resolver, nil)
	}

	runner := pipeline.NewRunner(&cfg, dataDir, nil, nil, shadowRunner)
	if _, err := runner.Run(ctx); err != nil {
		return nil, err
	}
	return &session{cfg: cfg, runner: runner, snap: runner.Snapshot()}, nil
}

// findEntity accepts a unified id or any raw identifier (card, device
// hash, face id, student/staff id, email).
func (s *session) findEntity(id string) (*models.ResolvedEntity, error) {
	if entity, ok := s.runner.Resolver().Get(id); ok {
		return entity, nil
	}
	if entity, ok := s.runner.Resolver().FindByIdentifier(id, ""); ok {
		return entity, nil
	}
	return nil, fmt.Errorf("no entity matches %q", id)
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Resolve raw records into unified entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := runPipeline(cmd.Context(), false)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"stats":    s.snap.Stats,
					"entities": sortedEntities(s.snap),
				})
			}

			stats := s.snap.Stats
			fmt.Printf("Resolved %d entities from %d records (%d merged, %.1f%% merge rate, avg confidence %.3f)\n",
				stats.TotalResolvedEntities, len(s.snap.Records), stats.MergedEntities,
				stats.MergeRate*100, stats.AverageConfidence)
			fmt.Printf("Similarity graph: %d nodes, %d edges\n\n", stats.GraphNodes, stats.GraphEdges)

			for _, entity := range sortedEntities(s.snap) {
				profile := s.snap.Profiles[entity.UnifiedID]
				fmt.Printf("%s  %-24s %-8s %-20s records=%d confidence=%.3f\n",
					entity.UnifiedID, profile.Name, profile.Role, profile.Department,
					len(entity.RecordIDs), entity.Confidence)
			}
			return nil
		},
	}
}

func fuseCmd() *cobra.Command {
	var entityID string
	cmd := &cobra.Command{
		Use:   "fuse",
		Short: "Fuse multi-modal observations into activity records",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := runPipeline(cmd.Context(), false)
			if err != nil {
				return err
			}

			if entityID != "" {
				entity, err := s.findEntity(entityID)
				if err != nil {
					return err
				}
				records := s.snap.Fused[entity.UnifiedID]
				if jsonOutput {
					return printJSON(records)
				}
				for _, record := range records {
					fmt.Printf("%s  %-12s %-16s conf=%.2f sources=%v\n",
						record.Timestamp.Format("2006-01-02 15:04"),
						record.Location, record.ActivityType, record.Confidence, record.Provenance)
				}
				return nil
			}

			type fusedCount struct {
				EntityID string `json:"entityId"`
				Records  int    `json:"records"`
			}
			counts := make([]fusedCount, 0, len(s.snap.Fused))
			total := 0
			for _, id := range sortedFusedKeys(s.snap) {
				n := len(s.snap.Fused[id])
				counts = append(counts, fusedCount{EntityID: id, Records: n})
				total += n
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{"total": total, "entities": counts})
			}
			fmt.Printf("Fused %d activity records across %d entities\n", total, len(counts))
			for _, fc := range counts {
				fmt.Printf("%s  %d records\n", fc.EntityID, fc.Records)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "Print fused records for one entity")
	return cmd
}

func timelineCmd() *cobra.Command {
	var entityID string
	var windowHours int
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Generate one entity's chronological timeline and digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if entityID == "" {
				return errors.New("--entity is required")
			}
			s, err := runPipeline(cmd.Context(), false)
			if err != nil {
				return err
			}
			entity, err := s.findEntity(entityID)
			if err != nil {
				return err
			}

			gen := timeline.NewGenerator(s.cfg.Timeline)
			events := gen.Generate(s.snap.Fused[entity.UnifiedID], time.Time{}, time.Time{})
			summary := gen.Summarize(entity.UnifiedID, events, windowHours)

			if jsonOutput {
				return printJSON(map[string]interface{}{"summary": summary, "events": events})
			}

			fmt.Println(summary.SummaryText)
			fmt.Println()
			for _, event := range events {
				line := fmt.Sprintf("%s  %-12s %-16s conf=%.2f",
					event.Timestamp.Format("2006-01-02 15:04"), event.Location, event.Activity, event.Confidence)
				if event.DurationMinutes > 0 {
					line += fmt.Sprintf(" (%.0f min)", event.DurationMinutes)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "Unified entity id or any identifier")
	cmd.Flags().IntVar(&windowHours, "window", 0, "Digest window in hours (0 = configured default)")
	return cmd
}

func trainCmd() *cobra.Command {
	var savePath string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the predictive models and report holdout accuracy",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := runPipeline(cmd.Context(), false)
			if err != nil {
				return err
			}
			if !s.runner.Monitor().Trained() {
				return errors.New("training skipped: not enough fused records")
			}

			if savePath != "" {
				if err := s.runner.Monitor().SaveModels(savePath); err != nil {
					return err
				}
			}

			training := s.snap.Training
			if jsonOutput {
				return printJSON(training)
			}
			fmt.Printf("Location accuracy: %.1f%%\n", training.LocationAccuracy*100)
			fmt.Printf("Activity accuracy: %.1f%%\n", training.ActivityAccuracy*100)
			fmt.Printf("Samples: %d train / %d test\n", training.TrainingSamples, training.TestSamples)
			fmt.Printf("Anomaly threshold: %.4f\n", training.AnomalyThreshold)
			return nil
		},
	}
	cmd.Flags().StringVar(&savePath, "save", "", "Write the trained model blob to this path")
	return cmd
}

func predictCmd() *cobra.Command {
	var entityID, atStr, modelPath string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Impute an entity's likely location and activity at a timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			if entityID == "" {
				return errors.New("--entity is required")
			}
			ts := time.Now()
			if atStr != "" {
				parsed, err := time.Parse(time.RFC3339, atStr)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
				ts = parsed
			}

			s, err := runPipeline(cmd.Context(), false)
			if err != nil {
				return err
			}
			if modelPath != "" {
				if err := s.runner.Monitor().LoadModels(modelPath); err != nil {
					return err
				}
			}
			entity, err := s.findEntity(entityID)
			if err != nil {
				return err
			}

			prediction := s.runner.Monitor().Predict(
				entity.UnifiedID, ts, s.snap.Fused[entity.UnifiedID], s.snap.Profiles[entity.UnifiedID])
			if prediction == nil {
				return errors.New("model not trained; need more fused records or a --model blob")
			}

			if jsonOutput {
				return printJSON(prediction)
			}
			fmt.Printf("%s at %s:\n", entity.UnifiedID, ts.Format(time.RFC3339))
			fmt.Printf("  Location: %s\n", prediction.PredictedLocation)
			fmt.Printf("  Activity: %s\n", prediction.PredictedActivity)
			fmt.Printf("  Confidence: %.1f%%\n", prediction.Confidence*100)
			for _, reason := range prediction.Explanation.Reasoning {
				fmt.Printf("  - %s\n", reason)
			}
			if len(prediction.Alternatives) > 0 {
				fmt.Println("  Alternatives:")
				for _, alt := range prediction.Alternatives {
					fmt.Printf("    %s (%.1f%%)\n", alt.Label, alt.Confidence*100)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "Unified entity id or any identifier")
	cmd.Flags().StringVar(&atStr, "at", "", "Timestamp to predict for (RFC 3339, default now)")
	cmd.Flags().StringVar(&modelPath, "model", "", "Load a trained model blob instead of this run's models")
	return cmd
}

func evaluateCmd() *cobra.Command {
	var withShadow bool
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score resolution quality against ground-truth entity ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := runPipeline(cmd.Context(), withShadow)
			if err != nil {
				return err
			}
			predStats := batchPredictionStats(s)

			if jsonOutput {
				payload := map[string]interface{}{"quality": s.snap.Quality}
				if s.snap.Shadow != nil {
					payload["shadow"] = s.snap.Shadow
				}
				if predStats != nil {
					payload["predictions"] = predStats
				}
				return printJSON(payload)
			}

			quality := s.snap.Quality
			fmt.Printf("Labeled records: %d\n", quality.LabeledRecords)
			fmt.Printf("Adjusted Rand Index: %.4f\n", quality.AdjustedRandIndex)
			fmt.Printf("Variation of Information: %.4f\n", quality.VariationOfInfo)
			fmt.Printf("BCubed: precision %.4f, recall %.4f, F1 %.4f\n",
				quality.BCubedPrecision, quality.BCubedRecall, quality.BCubedF1)

			if s.snap.Shadow != nil {
				report := s.snap.Shadow
				fmt.Println()
				fmt.Printf("Shadow aggregation: %d pairs scored, %d divergences (avg delta %.3f)\n",
					report.PairsScored, len(report.Divergences), report.AvgDelta)
				fmt.Printf("Partitions: production %d entities, shadow %d (ARI %.4f, VI %.4f)\n",
					report.ProductionEntities, report.ShadowEntities,
					report.AdjustedRandIndex, report.VariationOfInfo)
			}

			if predStats != nil {
				fmt.Println()
				fmt.Printf("Predictions: %d scored, avg confidence %.3f (stddev %.3f), %d high confidence\n",
					predStats.TotalPredictions, predStats.AverageConfidence,
					predStats.ConfidenceStdDev, predStats.HighConfidenceCount)
				fmt.Printf("Predicted locations cover %.0f%% of the registered campus\n",
					predStats.LocationCoverage*100)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withShadow, "shadow", false, "Also run the shadow aggregation comparison")
	return cmd
}

// batchPredictionStats predicts one hour past each entity's last
// observation and aggregates the batch. Nil when the models never
// trained.
func batchPredictionStats(s *session) *monitor.PredictionStatistics {
	if !s.runner.Monitor().Trained() {
		return nil
	}

	var predictions []*models.Prediction
	for _, entity := range sortedEntities(s.snap) {
		fused := s.snap.Fused[entity.UnifiedID]
		if len(fused) == 0 {
			continue
		}
		at := fused[len(fused)-1].Timestamp.Add(time.Hour)
		predictions = append(predictions,
			s.runner.Monitor().Predict(entity.UnifiedID, at, fused, s.snap.Profiles[entity.UnifiedID]))
	}

	stats := monitor.SummarisePredictions(predictions)
	return &stats
}

func sortedEntities(snap *pipeline.Snapshot) []*models.ResolvedEntity {
	ids := make([]string, 0, len(snap.Entities))
	for id := range snap.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	entities := make([]*models.ResolvedEntity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, snap.Entities[id])
	}
	return entities
}

func sortedFusedKeys(snap *pipeline.Snapshot) []string {
	ids := make([]string, 0, len(snap.Fused))
	for id := range snap.Fused {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
