package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentrisk/agent"
	"studentrisk/ml"
	"studentrisk/pipeline"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorePredictions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SavePrediction(ctx, PredictionRecord{
			ID:         id,
			Attendance: 90,
			Marks:      70,
			RiskLabel:  "Safe",
			Action:     "Monitor",
			Message:    "ok",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := store.RecentPredictions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
	assert.Equal(t, 90.0, records[0].Attendance)
	assert.True(t, records[0].CreatedAt.Equal(base.Add(2*time.Minute)))
}

func TestSQLiteStoreTrainingLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var recorder pipeline.RunRecorder = store
	require.NoError(t, recorder.RecordTrainingRun(ctx, pipeline.RunSummary{
		ModelName:   "random_forest",
		Accuracy:    0.9,
		MacroF1:     0.85,
		TrainRows:   72,
		TestRows:    18,
		Fingerprint: "abc",
		TrainedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}))

	logs, err := store.LoadTrainingLog(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "random_forest", logs[0].ModelName)
	assert.Equal(t, 0.85, logs[0].F1)
	assert.Equal(t, 18, logs[0].TestRows)
	assert.Equal(t, "abc", logs[0].Fingerprint)
}

func TestHistoryEffect(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	effect := HistoryEffect(store)
	assert.Equal(t, "history", effect.Name())

	outcome := agent.Outcome{
		ID:       "f3b1",
		Features: ml.FeatureVector{Attendance: 40, Marks: 30, Assignments: 0, ClassesMissed: 20},
		Label:    ml.RiskCritical,
		Decision: agent.Decide(ml.RiskCritical),
		At:       time.Now().UTC(),
	}
	require.NoError(t, effect.Apply(ctx, outcome))

	records, err := store.RecentPredictions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Critical", records[0].RiskLabel)
	assert.Equal(t, string(agent.ActionEscalate), records[0].Action)
	assert.Equal(t, 20.0, records[0].ClassesMissed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", "")
	assert.Error(t, err)

	store, err := Open(context.Background(), "none", "", "")
	assert.NoError(t, err)
	assert.Nil(t, store)
}
