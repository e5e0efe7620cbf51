package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"studentrisk/ml"
)

type fakeClassifier struct {
	codes    []int
	nClasses int
	err      error
}

func (f *fakeClassifier) Predict(features [][]float64) ([]int, error) {
	return f.codes, f.err
}

func (f *fakeClassifier) NClasses() int {
	return f.nClasses
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = label
}

func mustEncoder(t *testing.T, labels ...string) *ml.LabelEncoder {
	t.Helper()
	enc, _, err := ml.FitLabelEncoder(labels)
	require.NoError(t, err)
	return enc
}

func trainedArtifact(t *testing.T) *ml.Artifact {
	t.Helper()
	var features [][]float64
	var labels []string
	for i := 0; i < 30; i++ {
		d := float64(i % 5)
		features = append(features,
			[]float64{92 + d, 80 + d, 100, 2 + d},
			[]float64{72 + d, 55 + d, 50, 18 + d},
			[]float64{35 + d, 20 + d, 25, 55 + d},
		)
		labels = append(labels, "Safe", "At Risk", "Critical")
	}
	enc, codes, err := ml.FitLabelEncoder(labels)
	require.NoError(t, err)
	forest := ml.NewRandomForest(20, ml.DefaultSeed)
	require.NoError(t, forest.Fit(features, codes, enc.Len()))
	return &ml.Artifact{Classifier: forest, Encoder: enc, Manifest: ml.Manifest{Fingerprint: "test"}}
}

func mustVector(t *testing.T, values ...float64) ml.FeatureVector {
	t.Helper()
	fv, err := ml.NewFeatureVector(values...)
	require.NoError(t, err)
	return fv
}

func TestDecide(t *testing.T) {
	assert.Equal(t, ActionMonitor, Decide(ml.RiskSafe).Action)
	assert.Equal(t, ActionWarn, Decide(ml.RiskAtRisk).Action)
	assert.Equal(t, ActionEscalate, Decide(ml.RiskCritical).Action)
	assert.Contains(t, Decide(ml.RiskSafe).Message, "stable")
	assert.Contains(t, Decide(ml.RiskAtRisk).Message, "Improve")
	assert.Contains(t, Decide(ml.RiskCritical).Message, "Critical")
}

func TestDecideUnrecognizedLabelEscalates(t *testing.T) {
	for _, raw := range []string{"Unknown", "", "safe", "AT RISK"} {
		assert.Equal(t, ActionEscalate, Decide(ml.RawRiskLabel(raw)).Action, "label %q", raw)
	}
}

func TestPerceiveEndToEnd(t *testing.T) {
	a, err := New(trainedArtifact(t))
	require.NoError(t, err)

	fv := mustVector(t, 95, 80, 100, 3)
	label, err := a.Perceive(fv)
	require.NoError(t, err)
	assert.Equal(t, ml.RiskSafe, label)

	again, err := a.Perceive(fv)
	require.NoError(t, err)
	assert.Equal(t, label, again)

	outcome, err := a.Run(context.Background(), fv)
	require.NoError(t, err)
	assert.Equal(t, ActionMonitor, outcome.Decision.Action)
	assert.Equal(t, ml.Prediction{
		RiskLabel: "Safe",
		Action:    "Monitor",
		Message:   messageStable,
	}, outcome.Prediction())
	assert.NotEmpty(t, outcome.ID)
}

func TestRunAlwaysYieldsKnownAction(t *testing.T) {
	a, err := New(trainedArtifact(t))
	require.NoError(t, err)
	actions := map[Action]bool{}
	for _, act := range Actions() {
		actions[act] = true
	}
	for att := 0.0; att <= 100; att += 25 {
		for missed := 0.0; missed <= 60; missed += 20 {
			outcome, err := a.Run(context.Background(), mustVector(t, att, att, 50, missed))
			require.NoError(t, err)
			assert.True(t, actions[outcome.Decision.Action])
		}
	}
}

func TestNewRejectsBadArtifact(t *testing.T) {
	var inferenceErr *ml.InferenceError
	_, err := New(nil)
	require.ErrorAs(t, err, &inferenceErr)

	_, err = New(&ml.Artifact{
		Classifier: &fakeClassifier{nClasses: 3},
		Encoder:    mustEncoder(t, "Safe", "At Risk"),
	})
	require.ErrorAs(t, err, &inferenceErr)
}

func TestPerceiveInferenceErrors(t *testing.T) {
	enc := mustEncoder(t, "Safe", "At Risk", "Critical")
	fv := mustVector(t, 1, 2, 3, 4)
	var inferenceErr *ml.InferenceError

	a, err := New(&ml.Artifact{Classifier: &fakeClassifier{codes: []int{7}, nClasses: 3}, Encoder: enc})
	require.NoError(t, err)
	_, err = a.Perceive(fv)
	require.ErrorAs(t, err, &inferenceErr)
	var unknown *ml.UnknownCodeError
	assert.ErrorAs(t, err, &unknown)

	a, err = New(&ml.Artifact{Classifier: &fakeClassifier{err: errors.New("boom"), nClasses: 3}, Encoder: enc})
	require.NoError(t, err)
	_, err = a.Perceive(fv)
	require.ErrorAs(t, err, &inferenceErr)

	a, err = New(&ml.Artifact{Classifier: &fakeClassifier{nClasses: 3}, Encoder: enc})
	require.NoError(t, err)
	_, err = a.Perceive(fv)
	require.ErrorAs(t, err, &inferenceErr)
}

func TestActIsIdentityAndRunsEffects(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	var seen []Outcome
	record := EffectFunc("record", func(_ context.Context, o Outcome) error {
		seen = append(seen, o)
		return nil
	})
	failing := EffectFunc("failing", func(context.Context, Outcome) error {
		return errors.New("sink down")
	})

	a, err := New(trainedArtifact(t), WithEffects(record, failing), WithLogger(zap.New(core)))
	require.NoError(t, err)

	decision := Decision{Action: ActionWarn, Message: "custom"}
	got := a.Act(context.Background(), Outcome{ID: "x", Decision: decision})
	assert.Equal(t, decision, got)
	require.Len(t, seen, 1)
	assert.Equal(t, "x", seen[0].ID)

	entries := logs.FilterField(zap.String("effect", "failing")).All()
	require.Len(t, entries, 1)
}

func TestBackgroundEffectsDoNotBlockRun(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	var ctxErrs []error
	slow := EffectFunc("slow", func(ctx context.Context, o Outcome) error {
		started <- struct{}{}
		<-release
		mu.Lock()
		seen = append(seen, o.ID)
		ctxErrs = append(ctxErrs, ctx.Err())
		mu.Unlock()
		return nil
	})

	a, err := New(trainedArtifact(t), WithBackgroundEffects(1, time.Minute, slow), WithLogger(zap.New(core)))
	require.NoError(t, err)

	reqCtx, cancel := context.WithCancel(context.Background())
	first, err := a.Run(reqCtx, mustVector(t, 95, 80, 100, 3))
	require.NoError(t, err)
	cancel()
	<-started

	// worker is busy with the first outcome: one more fits the queue, the next is dropped
	second, err := a.Run(context.Background(), mustVector(t, 35, 15, 25, 60))
	require.NoError(t, err)
	_, err = a.Run(context.Background(), mustVector(t, 78, 55, 50, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("background effects skipped").Len())

	close(release)
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{first.ID, second.ID}, seen)
	for _, err := range ctxErrs {
		assert.NoError(t, err)
	}
}

func TestRunUsesCache(t *testing.T) {
	cache := &mapCache{data: map[string]string{}}
	a, err := New(trainedArtifact(t), WithCache(cache))
	require.NoError(t, err)

	fv := mustVector(t, 95, 80, 100, 3)
	first, err := a.Run(context.Background(), fv)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := a.Run(context.Background(), fv)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Label, second.Label)
	assert.Equal(t, "Safe", cache.data["test:"+fv.Key()])
}
