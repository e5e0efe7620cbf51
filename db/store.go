package db

import (
	"context"
	"time"

	"studentrisk/agent"
	"studentrisk/pipeline"
)

// PredictionRecord is one served decision.
type PredictionRecord struct {
	ID            string    `json:"id"`
	Attendance    float64   `json:"attendance"`
	Marks         float64   `json:"marks"`
	Assignments   float64   `json:"assignments"`
	ClassesMissed float64   `json:"classes_missed"`
	RiskLabel     string    `json:"risk_label"`
	Action        string    `json:"action"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

type TrainingLog struct {
	ModelName   string    `json:"model_name"`
	Accuracy    float64   `json:"accuracy"`
	Precision   float64   `json:"precision"`
	Recall      float64   `json:"recall"`
	F1          float64   `json:"f1"`
	TrainRows   int       `json:"train_rows"`
	TestRows    int       `json:"test_rows"`
	Fingerprint string    `json:"fingerprint"`
	TrainedAt   time.Time `json:"trained_at"`
}

// Store keeps prediction history and the training log.
type Store interface {
	SavePrediction(ctx context.Context, record PredictionRecord) error
	RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error)
	RecordTrainingRun(ctx context.Context, run pipeline.RunSummary) error
	LoadTrainingLog(ctx context.Context) ([]TrainingLog, error)
	Close() error
}

func RecordFromOutcome(o agent.Outcome) PredictionRecord {
	return PredictionRecord{
		ID:            o.ID,
		Attendance:    o.Features.Attendance,
		Marks:         o.Features.Marks,
		Assignments:   o.Features.Assignments,
		ClassesMissed: o.Features.ClassesMissed,
		RiskLabel:     o.Label.String(),
		Action:        string(o.Decision.Action),
		Message:       o.Decision.Message,
		CreatedAt:     o.At,
	}
}

type historyEffect struct {
	store Store
}

// HistoryEffect persists every outcome during the agent's act stage.
func HistoryEffect(store Store) agent.Effect {
	return &historyEffect{store: store}
}

func (e *historyEffect) Name() string {
	return "history"
}

func (e *historyEffect) Apply(ctx context.Context, o agent.Outcome) error {
	return e.store.SavePrediction(ctx, RecordFromOutcome(o))
}

func trainingLogFromRun(run pipeline.RunSummary) TrainingLog {
	return TrainingLog{
		ModelName:   run.ModelName,
		Accuracy:    run.Accuracy,
		Precision:   run.MacroPrecision,
		Recall:      run.MacroRecall,
		F1:          run.MacroF1,
		TrainRows:   run.TrainRows,
		TestRows:    run.TestRows,
		Fingerprint: run.Fingerprint,
		TrainedAt:   run.TrainedAt,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
