package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"studentrisk/pipeline"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS predictions (
        id UUID PRIMARY KEY,
        attendance DOUBLE PRECISION NOT NULL,
        marks DOUBLE PRECISION NOT NULL,
        assignments DOUBLE PRECISION NOT NULL,
        classes_missed DOUBLE PRECISION NOT NULL,
        risk_label VARCHAR(20) NOT NULL,
        action VARCHAR(20) NOT NULL,
        message TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS training_log (
        id BIGSERIAL PRIMARY KEY,
        model_name VARCHAR(50) NOT NULL,
        accuracy DOUBLE PRECISION NOT NULL,
        macro_precision DOUBLE PRECISION NOT NULL,
        macro_recall DOUBLE PRECISION NOT NULL,
        macro_f1 DOUBLE PRECISION NOT NULL,
        train_rows INTEGER NOT NULL,
        test_rows INTEGER NOT NULL,
        fingerprint VARCHAR(32) NOT NULL,
        trained_at TIMESTAMPTZ NOT NULL
    )`,
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SavePrediction(ctx context.Context, r PredictionRecord) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO predictions (
            id, attendance, marks, assignments, classes_missed,
            risk_label, action, message, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Attendance, r.Marks, r.Assignments, r.ClassesMissed,
		r.RiskLabel, r.Action, r.Message, r.CreatedAt)
	return err
}

func (s *PostgresStore) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id::text, attendance, marks, assignments, classes_missed,
               risk_label, action, message, created_at
        FROM predictions
        ORDER BY created_at DESC
        LIMIT $1`, clampLimit(limit))
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

func (s *PostgresStore) RecordTrainingRun(ctx context.Context, run pipeline.RunSummary) error {
	l := trainingLogFromRun(run)
	_, err := s.pool.Exec(ctx, `
        INSERT INTO training_log (
            model_name, accuracy, macro_precision, macro_recall, macro_f1,
            train_rows, test_rows, fingerprint, trained_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ModelName, l.Accuracy, l.Precision, l.Recall, l.F1,
		l.TrainRows, l.TestRows, l.Fingerprint, l.TrainedAt)
	return err
}

func (s *PostgresStore) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT model_name, accuracy, macro_precision, macro_recall, macro_f1,
               train_rows, test_rows, fingerprint, trained_at
        FROM training_log
        ORDER BY trained_at DESC`)
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

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
