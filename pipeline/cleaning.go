package pipeline

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"studentrisk/ml"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(record ml.StudentRecord) error
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int            `json:"total_processed"`
	Passed         int            `json:"passed"`
	Rejected       int            `json:"rejected"`
	Issues         map[string]int `json:"issues"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger
}

// NewDataCleaner 创建数据清洗器
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{logger: logger}

	// 添加默认规则
	cleaner.AddRule(StudyTimeRule{})
	cleaner.AddRule(GradeRangeRule{Max: 20})
	cleaner.AddRule(AbsenceRule{})

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean 校验所有行，返回通过的行与发现的问题
func (dc *DataCleaner) Clean(rows []Row) ([]Row, []QualityIssue, CleaningStats) {
	stats := CleaningStats{Issues: make(map[string]int)}
	cleaned := make([]Row, 0, len(rows))
	var issues []QualityIssue

	for _, row := range rows {
		stats.TotalProcessed++
		rejected := false
		for _, rule := range dc.rules {
			if err := rule.Apply(row.Record); err != nil {
				issues = append(issues, QualityIssue{Rule: rule.Name(), Line: row.Line, Message: err.Error()})
				stats.Issues[rule.Name()]++
				rejected = true
			}
		}
		if rejected {
			stats.Rejected++
			continue
		}
		stats.Passed++
		cleaned = append(cleaned, row)
	}
	return cleaned, issues, stats
}

// StudyTimeRule 学习时长序数必须在 1..4
type StudyTimeRule struct{}

func (StudyTimeRule) Name() string {
	return "studytime_range"
}

func (StudyTimeRule) Apply(record ml.StudentRecord) error {
	if _, ok := ml.Assignments(record.StudyTime); !ok {
		return fmt.Errorf("studytime %d outside 1..4", record.StudyTime)
	}
	return nil
}

// GradeRangeRule 成绩必须在 0..Max
type GradeRangeRule struct {
	Max float64
}

func (GradeRangeRule) Name() string {
	return "grade_range"
}

func (r GradeRangeRule) Apply(record ml.StudentRecord) error {
	grades := []struct {
		name  string
		value float64
	}{
		{ColumnG1, record.G1},
		{ColumnG3, record.G3},
	}
	for _, g := range grades {
		if math.IsNaN(g.value) || g.value < 0 || g.value > r.Max {
			return fmt.Errorf("%s %v outside 0..%v", g.name, g.value, r.Max)
		}
	}
	return nil
}

// AbsenceRule 缺勤次数不能为负
type AbsenceRule struct{}

func (AbsenceRule) Name() string {
	return "absences_non_negative"
}

func (AbsenceRule) Apply(record ml.StudentRecord) error {
	if math.IsNaN(record.Absences) || record.Absences < 0 {
		return fmt.Errorf("absences %v is negative", record.Absences)
	}
	return nil
}
