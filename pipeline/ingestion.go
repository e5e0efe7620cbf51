package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"studentrisk/ml"
)

// 训练集必需列
const (
	ColumnAbsences  = "absences"
	ColumnG1        = "G1"
	ColumnG3        = "G3"
	ColumnStudyTime = "studytime"
)

// TrainingDataError 训练数据错误，整个训练任务随之中止
type TrainingDataError struct {
	Line   int
	Column string
	Err    error
}

func (e *TrainingDataError) Error() string {
	switch {
	case e.Line > 0 && e.Column != "":
		return fmt.Sprintf("training data line %d column %s: %v", e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("training data line %d: %v", e.Line, e.Err)
	case e.Column != "":
		return fmt.Sprintf("training data column %s: %v", e.Column, e.Err)
	default:
		return fmt.Sprintf("training data: %v", e.Err)
	}
}

func (e *TrainingDataError) Unwrap() error {
	return e.Err
}

// DatasetConfig 数据集读取配置
type DatasetConfig struct {
	Delimiter rune
	Charset   string
}

// Row 数据集中的一行，Line 为源文件行号（表头为第1行）
type Row struct {
	Line   int
	Record ml.StudentRecord
}

// RequiredColumns 返回训练所需的列
func RequiredColumns() []string {
	return []string{ColumnAbsences, ColumnG1, ColumnG3, ColumnStudyTime}
}

// ReadDataset 读取分隔符文本数据集
func ReadDataset(r io.Reader, config DatasetConfig) ([]Row, error) {
	if config.Delimiter == 0 {
		config.Delimiter = ';'
	}
	decoder, err := charsetDecoder(config.Charset)
	if err != nil {
		return nil, &TrainingDataError{Err: err}
	}

	reader := csv.NewReader(transform.NewReader(r, decoder))
	reader.Comma = config.Delimiter
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &TrainingDataError{Err: errors.New("dataset is empty")}
		}
		return nil, &TrainingDataError{Line: 1, Err: err}
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range RequiredColumns() {
		if _, ok := columns[name]; !ok {
			return nil, &TrainingDataError{Column: name, Err: errors.New("required column missing")}
		}
	}

	rows := make([]Row, 0)
	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &TrainingDataError{Line: line, Err: err}
		}
		record, err := parseRecord(fields, columns, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Line: line, Record: record})
	}
	if len(rows) == 0 {
		return nil, &TrainingDataError{Err: errors.New("dataset has no rows")}
	}
	return rows, nil
}

func parseRecord(fields []string, columns map[string]int, line int) (ml.StudentRecord, error) {
	value := func(name string) string {
		return strings.Trim(strings.TrimSpace(fields[columns[name]]), `"`)
	}
	number := func(name string) (float64, error) {
		v, err := strconv.ParseFloat(value(name), 64)
		if err != nil {
			return 0, &TrainingDataError{Line: line, Column: name, Err: fmt.Errorf("not numeric: %q", value(name))}
		}
		return v, nil
	}

	absences, err := number(ColumnAbsences)
	if err != nil {
		return ml.StudentRecord{}, err
	}
	g1, err := number(ColumnG1)
	if err != nil {
		return ml.StudentRecord{}, err
	}
	g3, err := number(ColumnG3)
	if err != nil {
		return ml.StudentRecord{}, err
	}
	studyTime, err := strconv.Atoi(value(ColumnStudyTime))
	if err != nil {
		return ml.StudentRecord{}, &TrainingDataError{Line: line, Column: ColumnStudyTime, Err: fmt.Errorf("not an integer: %q", value(ColumnStudyTime))}
	}
	return ml.StudentRecord{Absences: absences, G1: g1, G3: g3, StudyTime: studyTime}, nil
}

func charsetDecoder(name string) (transform.Transformer, error) {
	var enc encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	case "latin1", "iso-8859-1":
		enc = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	default:
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc.NewDecoder(), nil
}
