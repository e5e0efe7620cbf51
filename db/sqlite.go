package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"studentrisk/pipeline"
)

const sqliteSchema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id TEXT PRIMARY KEY,
        attendance REAL,
        marks REAL,
        assignments REAL,
        classes_missed REAL,
        risk_label VARCHAR(20),
        action VARCHAR(20),
        message TEXT,
        created_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY,
        model_name VARCHAR(50),
        accuracy REAL,
        macro_precision REAL,
        macro_recall REAL,
        macro_f1 REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        fingerprint VARCHAR(32),
        trained_at DATETIME
    );
    `

type SQLiteStore struct {
	database *sql.DB
}

// OpenSQLite opens the database at path and creates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(sqliteSchema); err != nil {
		database.Close()
		return nil, err
	}
	return &SQLiteStore{database: database}, nil
}

func (s *SQLiteStore) SavePrediction(ctx context.Context, r PredictionRecord) error {
	if s.database == nil {
		return errors.New("database not initialized")
	}
	_, err := s.database.ExecContext(ctx, `
        INSERT OR REPLACE INTO predictions (
            id, attendance, marks, assignments, classes_missed,
            risk_label, action, message, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Attendance, r.Marks, r.Assignments, r.ClassesMissed,
		r.RiskLabel, r.Action, r.Message, r.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	rows, err := s.database.QueryContext(ctx, `
        SELECT id, attendance, marks, assignments, classes_missed,
               risk_label, action, message, created_at
        FROM predictions
        ORDER BY created_at DESC
        LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var r PredictionRecord
		if err := rows.Scan(&r.ID, &r.Attendance, &r.Marks, &r.Assignments, &r.ClassesMissed,
			&r.RiskLabel, &r.Action, &r.Message, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) RecordTrainingRun(ctx context.Context, run pipeline.RunSummary) error {
	l := trainingLogFromRun(run)
	_, err := s.database.ExecContext(ctx, `
        INSERT INTO training_log (
            model_name, accuracy, macro_precision, macro_recall, macro_f1,
            train_rows, test_rows, fingerprint, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ModelName, l.Accuracy, l.Precision, l.Recall, l.F1,
		l.TrainRows, l.TestRows, l.Fingerprint, l.TrainedAt.UTC())
	return err
}

func (s *SQLiteStore) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.database.QueryContext(ctx, `
        SELECT model_name, accuracy, macro_precision, macro_recall, macro_f1,
               train_rows, test_rows, fingerprint, trained_at
        FROM training_log
        ORDER BY trained_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var l TrainingLog
		if err := rows.Scan(&l.ModelName, &l.Accuracy, &l.Precision, &l.Recall, &l.F1,
			&l.TrainRows, &l.TestRows, &l.Fingerprint, &l.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.database.Close()
}
