package pipeline

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"studentrisk/ml"
)

// 评估产物文件名
const (
	ReportFile          = "model_report.txt"
	AccuracyChartFile   = "accuracy.png"
	ConfusionMatrixFile = "confusion_matrix.png"
)

// FormatReport 生成文本评估报告
func FormatReport(eval *ml.Evaluation) string {
	var b strings.Builder
	b.WriteString("MODEL EVALUATION REPORT\n\n")
	fmt.Fprintf(&b, "Accuracy: %v%%\n\n", math.Round(eval.Accuracy*100*100)/100)
	b.WriteString(eval.Report())
	return b.String()
}

// StageEvaluationReport 将文本报告与两张图表写入临时文件，由调用方统一提交
func StageEvaluationReport(dir string, eval *ml.Evaluation, classes []string) (*ml.StagedFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	staged := &ml.StagedFiles{}
	fail := func(tmp string, err error) (*ml.StagedFiles, error) {
		os.Remove(tmp)
		staged.Discard()
		return nil, err
	}

	reportTmp := filepath.Join(dir, "tmp-"+ReportFile)
	if err := os.WriteFile(reportTmp, []byte(FormatReport(eval)), 0o644); err != nil {
		return fail(reportTmp, fmt.Errorf("write report: %w", err))
	}
	staged.Add(reportTmp, filepath.Join(dir, ReportFile))

	accuracyTmp := filepath.Join(dir, "tmp-"+AccuracyChartFile)
	if err := WriteAccuracyChart(accuracyTmp, eval.Accuracy); err != nil {
		return fail(accuracyTmp, fmt.Errorf("write accuracy chart: %w", err))
	}
	staged.Add(accuracyTmp, filepath.Join(dir, AccuracyChartFile))

	confusionTmp := filepath.Join(dir, "tmp-"+ConfusionMatrixFile)
	if err := WriteConfusionMatrixChart(confusionTmp, eval.Confusion, classes); err != nil {
		return fail(confusionTmp, fmt.Errorf("write confusion matrix: %w", err))
	}
	staged.Add(confusionTmp, filepath.Join(dir, ConfusionMatrixFile))
	return staged, nil
}
