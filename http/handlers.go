package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"studentrisk/agent"
	"studentrisk/db"
	"studentrisk/ml"
	"studentrisk/monitoring"
	"studentrisk/pipeline"
)

const maxPredictBody = 1 << 16

// Decider runs one full perceive, decide and act pass.
type Decider interface {
	Run(ctx context.Context, fv ml.FeatureVector) (agent.Outcome, error)
}

// Deps 处理器依赖，可选项为空时对应路由返回 503 或不注册
type Deps struct {
	Agent     Decider
	Manifest  ml.Manifest
	Store     db.Store
	Hub       *monitoring.WebSocketHub
	Metrics   *monitoring.Metrics
	ReportDir string
	JWTSecret string
	Logger    *zap.Logger
}

type handlers struct {
	deps Deps
}

// RegisterHandlers 注册所有API路由
func RegisterHandlers(mux *http.ServeMux, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{deps: deps}

	h.route(mux, "GET /api/health", http.HandlerFunc(handleHealth))
	h.route(mux, "POST /api/predict", Chain(
		JWTMiddleware(deps.JWTSecret),
		RequestSizeMiddleware(maxPredictBody),
	)(http.HandlerFunc(h.handlePredict)))
	h.route(mux, "GET /api/model", http.HandlerFunc(h.handleModel))
	h.route(mux, "GET /api/report", http.HandlerFunc(h.handleReport))
	h.route(mux, "GET /api/report/{chart}", http.HandlerFunc(h.handleChart))
	h.route(mux, "GET /api/predictions", http.HandlerFunc(h.handlePredictions))
	h.route(mux, "GET /api/training-log", http.HandlerFunc(h.handleTrainingLog))
	if deps.Hub != nil {
		mux.Handle("GET /api/ws/decisions", deps.Hub)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
}

// route 注册处理器并按路由模式记录耗时
func (h *handlers) route(mux *http.ServeMux, pattern string, handler http.Handler) {
	if h.deps.Metrics == nil {
		mux.Handle(pattern, handler)
		return
	}
	metrics := h.deps.Metrics
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(wrapped, r)
		metrics.ObserveRequest(pattern, r.Method, wrapped.statusCode, time.Since(start))
	}))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	fields, err := predictFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fv, err := ml.ParseFeatureVector(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.deps.Agent.Run(r.Context(), fv)
	if err != nil {
		h.deps.Logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("subject", GetSubject(r.Context())),
			zap.Error(err))
		var shapeErr *ml.InputShapeError
		if errors.As(err, &shapeErr) {
			writeError(w, http.StatusBadRequest, shapeErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}
	h.deps.Logger.Debug("prediction served",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("subject", GetSubject(r.Context())),
		zap.String("risk_label", outcome.Prediction().RiskLabel))
	writeJSON(w, http.StatusOK, outcome.Prediction())
}

// predictFields 读取 JSON 或表单字段
func predictFields(r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		fields := make(map[string]string, len(body))
		for key, value := range body {
			switch v := value.(type) {
			case float64:
				fields[key] = strconv.FormatFloat(v, 'g', -1, 64)
			case string:
				fields[key] = v
			case nil:
			default:
				return nil, &ml.InputShapeError{Field: key, Reason: "must be a number"}
			}
		}
		return fields, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	fields := make(map[string]string, ml.FeatureCount)
	for _, name := range ml.FeatureNames() {
		if r.Form.Has(name) {
			fields[name] = r.Form.Get(name)
		}
	}
	return fields, nil
}

func (h *handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Manifest)
}

func (h *handlers) handleReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pipeline.ReportFile))
	h.serveReportFile(w, r, pipeline.ReportFile)
}

func (h *handlers) handleChart(w http.ResponseWriter, r *http.Request) {
	switch chart := r.PathValue("chart"); chart {
	case pipeline.AccuracyChartFile, pipeline.ConfusionMatrixFile:
		h.serveReportFile(w, r, chart)
	default:
		writeError(w, http.StatusNotFound, "unknown chart")
	}
}

func (h *handlers) serveReportFile(w http.ResponseWriter, r *http.Request, name string) {
	path := filepath.Join(h.deps.ReportDir, name)
	if _, err := os.Stat(path); err != nil {
		w.Header().Del("Content-Disposition")
		writeError(w, http.StatusNotFound, "report not found, run training first")
		return
	}
	http.ServeFile(w, r, path)
}

func (h *handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction history disabled")
		return
	}
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}

	records, err := h.deps.Store.RecentPredictions(r.Context(), limit)
	if err != nil {
		h.deps.Logger.Error("load predictions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load predictions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(records),
		"data":  records,
	})
}

func (h *handlers) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "training log disabled")
		return
	}
	logs, err := h.deps.Store.LoadTrainingLog(r.Context())
	if err != nil {
		h.deps.Logger.Error("load training log failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load training log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(logs),
		"data":  logs,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
