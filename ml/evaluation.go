package ml

import (
	"errors"
	"fmt"
	"strings"
)

type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

type Evaluation struct {
	Accuracy  float64        `json:"accuracy"`
	Classes   []ClassMetrics `json:"classes"`
	MacroAvg  ClassMetrics   `json:"macro_avg"`
	Weighted  ClassMetrics   `json:"weighted_avg"`
	Confusion [][]int        `json:"confusion"`
	Total     int            `json:"total"`
}

// ConfusionMatrix is indexed [actual][predicted].
func ConfusionMatrix(actual, predicted []int, nClasses int) ([][]int, error) {
	if len(actual) != len(predicted) {
		return nil, errors.New("actual and predicted size mismatch")
	}
	matrix := make([][]int, nClasses)
	for i := range matrix {
		matrix[i] = make([]int, nClasses)
	}
	for i := range actual {
		a, p := actual[i], predicted[i]
		if a < 0 || a >= nClasses || p < 0 || p >= nClasses {
			return nil, &UnknownCodeError{Code: max(a, p)}
		}
		matrix[a][p]++
	}
	return matrix, nil
}

func Evaluate(actual, predicted []int, classes []string) (*Evaluation, error) {
	if len(actual) == 0 {
		return nil, errors.New("nothing to evaluate")
	}
	matrix, err := ConfusionMatrix(actual, predicted, len(classes))
	if err != nil {
		return nil, err
	}

	eval := &Evaluation{Confusion: matrix, Total: len(actual)}
	correct := 0
	for c := range classes {
		correct += matrix[c][c]
	}
	eval.Accuracy = float64(correct) / float64(len(actual))

	for c, label := range classes {
		tp := matrix[c][c]
		predictedN, actualN := 0, 0
		for k := range classes {
			predictedN += matrix[k][c]
			actualN += matrix[c][k]
		}
		m := ClassMetrics{Label: label, Support: actualN}
		if predictedN > 0 {
			m.Precision = float64(tp) / float64(predictedN)
		}
		if actualN > 0 {
			m.Recall = float64(tp) / float64(actualN)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		eval.Classes = append(eval.Classes, m)

		eval.MacroAvg.Precision += m.Precision / float64(len(classes))
		eval.MacroAvg.Recall += m.Recall / float64(len(classes))
		eval.MacroAvg.F1 += m.F1 / float64(len(classes))
		w := float64(actualN) / float64(len(actual))
		eval.Weighted.Precision += m.Precision * w
		eval.Weighted.Recall += m.Recall * w
		eval.Weighted.F1 += m.F1 * w
	}
	eval.MacroAvg.Label = "macro avg"
	eval.MacroAvg.Support = len(actual)
	eval.Weighted.Label = "weighted avg"
	eval.Weighted.Support = len(actual)
	return eval, nil
}

// Report renders the per-class table in the familiar precision/recall/f1 layout.
func (e *Evaluation) Report() string {
	width := len("weighted avg")
	for _, c := range e.Classes {
		if len(c.Label) > width {
			width = len(c.Label)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, c := range e.Classes {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", e.Accuracy, e.Total)
	for _, avg := range []ClassMetrics{e.MacroAvg, e.Weighted} {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, avg.Label, avg.Precision, avg.Recall, avg.F1, avg.Support)
	}
	return b.String()
}
