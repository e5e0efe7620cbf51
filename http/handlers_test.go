package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"studentrisk/agent"
	"studentrisk/db"
	"studentrisk/ml"
	"studentrisk/monitoring"
	"studentrisk/pipeline"
)

type fakeDecider struct {
	outcome agent.Outcome
	err     error
	got     []ml.FeatureVector
}

func (f *fakeDecider) Run(_ context.Context, fv ml.FeatureVector) (agent.Outcome, error) {
	f.got = append(f.got, fv)
	if f.err != nil {
		return agent.Outcome{}, f.err
	}
	out := f.outcome
	out.Features = fv
	return out, nil
}

func safeDecider() *fakeDecider {
	return &fakeDecider{outcome: agent.Outcome{
		ID:       "1",
		Label:    ml.RiskSafe,
		Decision: agent.Decide(ml.RiskSafe),
	}}
}

func newTestHandler(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	return NewHandler(DefaultServerConfig(), deps)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealthHandler(t *testing.T) {
	h := newTestHandler(t, Deps{Agent: safeDecider()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHandlePredictJSON(t *testing.T) {
	decider := safeDecider()
	h := newTestHandler(t, Deps{Agent: decider})

	body := `{"attendance":95,"marks":80,"assignments":100,"classes_missed":3}`
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "Safe", payload["risk_label"])
	assert.Equal(t, "Monitor", payload["action"])
	assert.Equal(t, "Student performance is stable. Continue current efforts.", payload["message"])

	require.Len(t, decider.got, 1)
	assert.Equal(t, ml.FeatureVector{Attendance: 95, Marks: 80, Assignments: 100, ClassesMissed: 3}, decider.got[0])
}

func TestHandlePredictForm(t *testing.T) {
	decider := safeDecider()
	h := newTestHandler(t, Deps{Agent: decider})

	form := url.Values{
		"attendance":     {"60"},
		"marks":          {"45.5"},
		"assignments":    {"50"},
		"classes_missed": {"12"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decider.got, 1)
	assert.Equal(t, 45.5, decider.got[0].Marks)
}

func TestHandlePredictValidation(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		field       string
	}{
		{"missing field", "application/json", `{"attendance":95,"marks":80,"assignments":100}`, "classes_missed"},
		{"non numeric", "application/x-www-form-urlencoded", "attendance=abc&marks=1&assignments=1&classes_missed=1", "attendance"},
		{"wrong type", "application/json", `{"attendance":true,"marks":1,"assignments":1,"classes_missed":1}`, "attendance"},
		{"broken json", "application/json", `{"attendance":`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decider := safeDecider()
			h := newTestHandler(t, Deps{Agent: decider})

			req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.field)
			assert.Empty(t, decider.got)
		})
	}
}

func TestHandlePredictInferenceError(t *testing.T) {
	decider := &fakeDecider{err: &ml.InferenceError{Err: errors.New("code space mismatch")}}
	h := newTestHandler(t, Deps{Agent: decider})

	body := `{"attendance":95,"marks":80,"assignments":100,"classes_missed":3}`
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "prediction failed", decodeBody(t, rec)["error"])
}

func TestHandlePredictWithAgent(t *testing.T) {
	var features [][]float64
	var labels []string
	for i := 0; i < 20; i++ {
		d := float64(i % 4)
		features = append(features,
			[]float64{93 + d, 82 + d, 100, 2 + d},
			[]float64{40 + d, 25 + d, 25, 50 + d},
		)
		labels = append(labels, "Safe", "Critical")
	}
	enc, codes, err := ml.FitLabelEncoder(labels)
	require.NoError(t, err)
	forest := ml.NewRandomForest(10, ml.DefaultSeed)
	require.NoError(t, forest.Fit(features, codes, enc.Len()))

	a, err := agent.New(&ml.Artifact{Classifier: forest, Encoder: enc})
	require.NoError(t, err)
	h := newTestHandler(t, Deps{Agent: a})

	body := `{"attendance":40,"marks":25,"assignments":25,"classes_missed":50}`
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "Critical", payload["risk_label"])
	assert.Equal(t, "Escalate", payload["action"])
}

func TestHandlePredictRequiresToken(t *testing.T) {
	const secret = "s3cret"
	h := newTestHandler(t, Deps{Agent: safeDecider(), JWTSecret: secret})
	body := `{"attendance":95,"marks":80,"assignments":100,"classes_missed":3}`

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wrong, err := IssueToken("other", "mentor", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+wrong)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := IssueToken(secret, "mentor", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays open
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTMiddlewareSetsSubject(t *testing.T) {
	const secret = "s3cret"
	var subject string
	h := JWTMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = GetSubject(r.Context())
	}))

	token, err := IssueToken(secret, "mentor-7", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/predict", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "mentor-7", subject)
	assert.Empty(t, GetSubject(context.Background()))
}

func TestHandleModel(t *testing.T) {
	manifest := ml.Manifest{
		Features:    ml.FeatureNames(),
		Classes:     []string{"At Risk", "Critical", "Safe"},
		Estimators:  100,
		Fingerprint: "abcd",
	}
	h := newTestHandler(t, Deps{Agent: safeDecider(), Manifest: manifest})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got ml.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, manifest.Classes, got.Classes)
	assert.Equal(t, 100, got.Estimators)
}

func TestHandleReport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, pipeline.ReportFile), []byte("MODEL EVALUATION REPORT\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, pipeline.AccuracyChartFile), []byte("\x89PNG\r\n\x1a\n"), 0o644))
	h := newTestHandler(t, Deps{Agent: safeDecider(), ReportDir: dir})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "MODEL EVALUATION REPORT")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/report/accuracy.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/report/confusion_matrix.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/report/secrets.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePredictionsAndTrainingLog(t *testing.T) {
	store, err := db.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SavePrediction(ctx, db.PredictionRecord{
		ID: "p1", RiskLabel: "Safe", Action: "Monitor", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.RecordTrainingRun(ctx, pipeline.RunSummary{
		ModelName: "random_forest", Accuracy: 0.8, TrainedAt: time.Now().UTC(),
	}))

	h := newTestHandler(t, Deps{Agent: safeDecider(), Store: store})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/training-log", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decodeBody(t, rec)["count"])
}

func TestHandlePredictionsWithoutStore(t *testing.T) {
	h := newTestHandler(t, Deps{Agent: safeDecider()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/predictions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := monitoring.NewMetrics(nil)
	h := newTestHandler(t, Deps{Agent: safeDecider(), Metrics: metrics})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="GET /api/health"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := zaptest.NewLogger(t)
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORSMiddleware([]string{"https://mentors.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://mentors.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://mentors.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
