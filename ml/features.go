package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const FeatureCount = 4

const (
	safeThreshold   = 14.0
	atRiskThreshold = 10.0
)

var studyTimeAssignments = map[int]float64{
	1: 25,
	2: 50,
	3: 75,
	4: 100,
}

// FeatureVector is the fixed classifier input. The zero value is not valid;
// build one with NewFeatureVector or ParseFeatureVector.
type FeatureVector struct {
	Attendance    float64 `json:"attendance"`
	Marks         float64 `json:"marks"`
	Assignments   float64 `json:"assignments"`
	ClassesMissed float64 `json:"classes_missed"`
}

// NewFeatureVector takes values in FeatureNames order.
func NewFeatureVector(values ...float64) (FeatureVector, error) {
	if len(values) != FeatureCount {
		return FeatureVector{}, &InputShapeError{
			Reason: fmt.Sprintf("expected %d values, got %d", FeatureCount, len(values)),
		}
	}
	names := FeatureNames()
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FeatureVector{}, &InputShapeError{Field: names[i], Reason: "not a finite number"}
		}
	}
	return FeatureVector{
		Attendance:    values[0],
		Marks:         values[1],
		Assignments:   values[2],
		ClassesMissed: values[3],
	}, nil
}

// ParseFeatureVector validates free-form request fields keyed by FeatureNames.
// Unknown keys are ignored.
func ParseFeatureVector(fields map[string]string) (FeatureVector, error) {
	values := make([]float64, 0, FeatureCount)
	for _, name := range FeatureNames() {
		raw, ok := fields[name]
		if !ok || strings.TrimSpace(raw) == "" {
			return FeatureVector{}, &InputShapeError{Field: name, Reason: "missing"}
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return FeatureVector{}, &InputShapeError{Field: name, Reason: fmt.Sprintf("not numeric: %q", raw)}
		}
		values = append(values, v)
	}
	return NewFeatureVector(values...)
}

func (f FeatureVector) Values() []float64 {
	return []float64{f.Attendance, f.Marks, f.Assignments, f.ClassesMissed}
}

// Key is a canonical rendering used for cache lookups.
func (f FeatureVector) Key() string {
	return fmt.Sprintf("%g|%g|%g|%g", f.Attendance, f.Marks, f.Assignments, f.ClassesMissed)
}

func FeatureNames() []string {
	return []string{
		"attendance",
		"marks",
		"assignments",
		"classes_missed",
	}
}

func Attendance(absences float64) float64 {
	return clamp(100-absences, 0, 100)
}

// Marks rescales a 0-20 period grade to a percentage.
func Marks(g1 float64) float64 {
	return (g1 / 20) * 100
}

func Assignments(studyTime int) (float64, bool) {
	v, ok := studyTimeAssignments[studyTime]
	return v, ok
}

func ClassesMissed(absences float64) float64 {
	return absences
}

func AssignRisk(g3 float64) RiskLabel {
	switch {
	case g3 >= safeThreshold:
		return RiskSafe
	case g3 >= atRiskThreshold:
		return RiskAtRisk
	default:
		return RiskCritical
	}
}

// StudentRecord holds the raw historical columns the features derive from.
type StudentRecord struct {
	Absences  float64
	G1        float64
	G3        float64
	StudyTime int
}

func (r StudentRecord) Derive() (FeatureVector, RiskLabel, error) {
	assignments, ok := Assignments(r.StudyTime)
	if !ok {
		return FeatureVector{}, RiskLabel{}, fmt.Errorf("studytime %d outside 1..4", r.StudyTime)
	}
	fv, err := NewFeatureVector(
		Attendance(r.Absences),
		Marks(r.G1),
		assignments,
		ClassesMissed(r.Absences),
	)
	if err != nil {
		return FeatureVector{}, RiskLabel{}, err
	}
	return fv, AssignRisk(r.G3), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
