package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"studentrisk/ml"
)

const lockFile = ".train.lock"

// ErrTrainingInProgress 同一输出目录已有训练任务在运行
var ErrTrainingInProgress = errors.New("another training run holds the output lock")

// TrainerConfig 训练任务配置
type TrainerConfig struct {
	DataPath   string
	Dataset    DatasetConfig
	ModelDir   string
	ReportDir  string
	TestRatio  float64
	Seed       int64
	Estimators int
}

// RunSummary 单次训练的摘要，写入训练日志
type RunSummary struct {
	ModelName      string    `json:"model_name"`
	Accuracy       float64   `json:"accuracy"`
	MacroPrecision float64   `json:"macro_precision"`
	MacroRecall    float64   `json:"macro_recall"`
	MacroF1        float64   `json:"macro_f1"`
	TrainRows      int       `json:"train_rows"`
	TestRows       int       `json:"test_rows"`
	Fingerprint    string    `json:"fingerprint"`
	TrainedAt      time.Time `json:"trained_at"`
}

// RunRecorder 训练日志存储
type RunRecorder interface {
	RecordTrainingRun(ctx context.Context, run RunSummary) error
}

// Result 训练结果
type Result struct {
	Summary    RunSummary
	Evaluation *ml.Evaluation
	Manifest   ml.Manifest
	Cleaning   CleaningStats
}

// Trainer 离线训练任务，顺序执行，失败即中止
type Trainer struct {
	config   TrainerConfig
	logger   *zap.Logger
	recorder RunRecorder
	cleaner  *DataCleaner
	now      func() time.Time
}

// NewTrainer 创建训练任务；recorder 可为 nil
func NewTrainer(config TrainerConfig, logger *zap.Logger, recorder RunRecorder) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TestRatio <= 0 || config.TestRatio >= 1 {
		config.TestRatio = 0.2
	}
	if config.Estimators <= 0 {
		config.Estimators = ml.DefaultEstimators
	}
	return &Trainer{
		config:   config,
		logger:   logger,
		recorder: recorder,
		cleaner:  NewDataCleaner(logger),
		now:      time.Now,
	}
}

// Run 执行完整训练流程
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if err := os.MkdirAll(t.config.ModelDir, 0o755); err != nil {
		return nil, err
	}
	release, err := acquireLock(t.config.ModelDir)
	if err != nil {
		return nil, err
	}
	defer release()

	// 1. 读取数据集
	file, err := os.Open(t.config.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	rows, err := ReadDataset(file, t.config.Dataset)
	file.Close()
	if err != nil {
		return nil, err
	}
	t.logger.Info("dataset loaded", zap.String("path", t.config.DataPath), zap.Int("rows", len(rows)))

	// 2. 校验并派生特征
	cleaned, issues, stats := t.cleaner.Clean(rows)
	if len(issues) > 0 {
		first := issues[0]
		return nil, &TrainingDataError{
			Line: first.Line,
			Err:  fmt.Errorf("%d rows failed validation, first: %s: %s", stats.Rejected, first.Rule, first.Message),
		}
	}
	features := make([][]float64, 0, len(cleaned))
	labels := make([]string, 0, len(cleaned))
	for _, row := range cleaned {
		fv, label, err := row.Record.Derive()
		if err != nil {
			return nil, &TrainingDataError{Line: row.Line, Err: err}
		}
		features = append(features, fv.Values())
		labels = append(labels, label.String())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. 标签编码
	encoder, codes, err := ml.FitLabelEncoder(labels)
	if err != nil {
		return nil, &TrainingDataError{Err: err}
	}

	// 4. 切分
	trainIdx, testIdx := SplitIndices(len(features), t.config.TestRatio, t.config.Seed)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, &TrainingDataError{Err: fmt.Errorf("%d rows is too few to split", len(features))}
	}
	trainX, trainY := gather(features, codes, trainIdx)
	testX, testY := gather(features, codes, testIdx)
	t.logger.Info("dataset split",
		zap.Int("train", len(trainX)),
		zap.Int("test", len(testX)),
		zap.Strings("classes", encoder.Classes()))

	// 训练集必须覆盖编码器的每个类别
	if missing := missingClasses(trainY, encoder.Classes()); len(missing) > 0 {
		return nil, &TrainingDataError{Err: fmt.Errorf("training split has no rows for %s", strings.Join(missing, ", "))}
	}

	// 5. 训练
	forest := ml.NewRandomForest(t.config.Estimators, t.config.Seed)
	start := time.Now()
	if err := forest.Fit(trainX, trainY, encoder.Len()); err != nil {
		return nil, fmt.Errorf("fit classifier: %w", err)
	}
	t.logger.Info("classifier fitted", zap.Int("trees", forest.Trees()), zap.Duration("took", time.Since(start)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 6. 评估
	predicted, err := forest.Predict(testX)
	if err != nil {
		return nil, fmt.Errorf("evaluate classifier: %w", err)
	}
	eval, err := ml.Evaluate(testY, predicted, encoder.Classes())
	if err != nil {
		return nil, fmt.Errorf("evaluate classifier: %w", err)
	}
	t.logger.Info("classifier evaluated", zap.Float64("accuracy", eval.Accuracy))

	// 7. 先写全部临时文件，再统一替换模型与报告
	reportFiles, err := StageEvaluationReport(t.config.ReportDir, eval, encoder.Classes())
	if err != nil {
		return nil, err
	}
	trainedAt := t.now().UTC()
	manifest, staged, err := ml.StageArtifact(t.config.ModelDir, forest, encoder, ml.Manifest{
		TrainRows: len(trainX),
		TestRows:  len(testX),
		Accuracy:  eval.Accuracy,
		TrainedAt: trainedAt,
	})
	if err != nil {
		reportFiles.Discard()
		return nil, fmt.Errorf("save artifact: %w", err)
	}
	staged.Merge(reportFiles)
	if err := ctx.Err(); err != nil {
		staged.Discard()
		return nil, err
	}
	if err := staged.Commit(); err != nil {
		return nil, fmt.Errorf("commit artifacts: %w", err)
	}
	t.logger.Info("artifacts written",
		zap.String("model_dir", t.config.ModelDir),
		zap.String("report_dir", t.config.ReportDir),
		zap.String("fingerprint", manifest.Fingerprint))

	summary := RunSummary{
		ModelName:      "random_forest",
		Accuracy:       eval.Accuracy,
		MacroPrecision: eval.MacroAvg.Precision,
		MacroRecall:    eval.MacroAvg.Recall,
		MacroF1:        eval.MacroAvg.F1,
		TrainRows:      len(trainX),
		TestRows:       len(testX),
		Fingerprint:    manifest.Fingerprint,
		TrainedAt:      trainedAt,
	}
	if t.recorder != nil {
		if err := t.recorder.RecordTrainingRun(ctx, summary); err != nil {
			t.logger.Warn("record training run failed", zap.Error(err))
		}
	}

	return &Result{Summary: summary, Evaluation: eval, Manifest: manifest, Cleaning: stats}, nil
}

func gather(features [][]float64, codes []int, indices []int) ([][]float64, []int) {
	x := make([][]float64, len(indices))
	y := make([]int, len(indices))
	for i, idx := range indices {
		x[i] = features[idx]
		y[i] = codes[idx]
	}
	return x, y
}

func missingClasses(codes []int, classes []string) []string {
	seen := make([]bool, len(classes))
	for _, code := range codes {
		if code >= 0 && code < len(seen) {
			seen[code] = true
		}
	}
	var missing []string
	for code, ok := range seen {
		if !ok {
			missing = append(missing, classes[code])
		}
	}
	return missing
}

// acquireLock 对输出目录加建议锁，进程退出时由内核释放
func acquireLock(dir string) (func(), error) {
	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !locked {
		return nil, ErrTrainingInProgress
	}
	return func() { lock.Unlock() }, nil
}
