package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"rbfnet/ml"
	"rbfnet/pipeline"
)

// Metric set names.
const (
	SetTrain = "train"
	SetTest  = "test"
)

// TrainingInfo is the descriptive row of a stored training.
type TrainingInfo struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DatasetName    string    `json:"dataset_name"`
	Target         string    `json:"target"`
	CreatedAt      time.Time `json:"created_at"`
	Patterns       int       `json:"patterns"`
	Inputs         int       `json:"inputs"`
	Outputs        int       `json:"outputs"`
	Centers        int       `json:"num_centers"`
	TrainRatio     float64   `json:"train_ratio"`
	Activation     string    `json:"activation"`
	ErrorThreshold float64   `json:"error_threshold"`
	Classification bool      `json:"classification"`
	Normalized     bool      `json:"normalized"`
	Seed           int64     `json:"seed"`
	Description    string    `json:"description,omitempty"`
}

// Training is everything needed to describe a run and to rebuild its
// predictor: model parameters, input scaler and class labels.
type Training struct {
	Info         TrainingInfo             `json:"info"`
	Model        ml.Bundle                `json:"model"`
	Scaler       *pipeline.StandardScaler `json:"scaler,omitempty"`
	Classes      []string                 `json:"classes,omitempty"`
	FeatureNames []string                 `json:"feature_names,omitempty"`
	TrainMetrics ml.Metrics               `json:"train_metrics"`
	TestMetrics  *ml.Metrics              `json:"test_metrics,omitempty"`
	Stats        *pipeline.Statistics     `json:"dataset_stats,omitempty"`
}

// TrainingSummary is one line of the training catalogue.
type TrainingSummary struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DatasetName    string    `json:"dataset_name"`
	CreatedAt      time.Time `json:"created_at"`
	Centers        int       `json:"num_centers"`
	ErrorThreshold float64   `json:"error_threshold"`
	Split          string    `json:"split"`
	TrainEG        float64   `json:"train_eg"`
	Converge       bool      `json:"converge"`
	TestEG         *float64  `json:"test_eg,omitempty"`
}

// SaveTraining writes a training and all child rows in one transaction and
// returns its id. The test set never carries a convergence flag.
func (s *Store) SaveTraining(ctx context.Context, t *Training) (int64, error) {
	bundle, err := json.Marshal(t.Model)
	if err != nil {
		return 0, fmt.Errorf("encode model: %w", err)
	}
	scaler, err := nullableJSON(t.Scaler, t.Scaler == nil)
	if err != nil {
		return 0, fmt.Errorf("encode scaler: %w", err)
	}
	classes, err := nullableJSON(t.Classes, len(t.Classes) == 0)
	if err != nil {
		return 0, fmt.Errorf("encode classes: %w", err)
	}
	features, err := nullableJSON(t.FeatureNames, len(t.FeatureNames) == 0)
	if err != nil {
		return 0, fmt.Errorf("encode feature names: %w", err)
	}

	info := t.Info
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	if info.Activation == "" {
		info.Activation = ml.ActivationName
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO trainings (
            name, dataset_name, target, created_at, patterns, inputs, outputs,
            centers, train_ratio, activation, error_threshold, classification,
            normalized, seed, description
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.Name, info.DatasetName, info.Target, info.CreatedAt, info.Patterns,
		info.Inputs, info.Outputs, info.Centers, info.TrainRatio, info.Activation,
		info.ErrorThreshold, info.Classification, info.Normalized, info.Seed,
		info.Description)
	if err != nil {
		return 0, fmt.Errorf("insert training failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO model_config (training_id, bundle, scaler, classes, feature_names)
        VALUES (?, ?, ?, ?, ?)`,
		id, string(bundle), scaler, classes, features); err != nil {
		return 0, fmt.Errorf("insert model config failed: %w", err)
	}

	insertMetrics := `INSERT INTO metrics (training_id, set_name, eg, mae, rmse, converge)
        VALUES (?, ?, ?, ?, ?, ?)`
	m := t.TrainMetrics
	if _, err := tx.ExecContext(ctx, insertMetrics, id, SetTrain, m.EG, m.MAE, m.RMSE, m.Converge); err != nil {
		return 0, fmt.Errorf("insert train metrics failed: %w", err)
	}
	if t.TestMetrics != nil {
		m := t.TestMetrics
		if _, err := tx.ExecContext(ctx, insertMetrics, id, SetTest, m.EG, m.MAE, m.RMSE, false); err != nil {
			return 0, fmt.Errorf("insert test metrics failed: %w", err)
		}
	}

	if t.Stats != nil {
		stats, err := json.Marshal(t.Stats)
		if err != nil {
			return 0, fmt.Errorf("encode dataset stats: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dataset_stats (training_id, stats) VALUES (?, ?)`, id, string(stats)); err != nil {
			return 0, fmt.Errorf("insert dataset stats failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Info("training saved",
		zap.Int64("training_id", id),
		zap.String("name", info.Name),
		zap.Int("centers", info.Centers))
	return id, nil
}

// LoadTraining reads a stored training by id.
func (s *Store) LoadTraining(ctx context.Context, id int64) (*Training, error) {
	t := &Training{}
	info := &t.Info
	err := s.db.QueryRowContext(ctx, `
        SELECT id, name, dataset_name, target, created_at, patterns, inputs, outputs,
               centers, train_ratio, activation, error_threshold, classification,
               normalized, seed, description
        FROM trainings WHERE id = ?`, id).Scan(
		&info.ID, &info.Name, &info.DatasetName, &info.Target, &info.CreatedAt,
		&info.Patterns, &info.Inputs, &info.Outputs, &info.Centers, &info.TrainRatio,
		&info.Activation, &info.ErrorThreshold, &info.Classification, &info.Normalized,
		&info.Seed, &info.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTrainingNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var bundle string
	var scaler, classes, features sql.NullString
	err = s.db.QueryRowContext(ctx, `
        SELECT bundle, scaler, classes, feature_names
        FROM model_config WHERE training_id = ?`, id).Scan(&bundle, &scaler, &classes, &features)
	if err != nil {
		return nil, fmt.Errorf("load model config: %w", err)
	}
	if err := json.Unmarshal([]byte(bundle), &t.Model); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if scaler.Valid {
		t.Scaler = &pipeline.StandardScaler{}
		if err := json.Unmarshal([]byte(scaler.String), t.Scaler); err != nil {
			return nil, fmt.Errorf("decode scaler: %w", err)
		}
	}
	if classes.Valid {
		if err := json.Unmarshal([]byte(classes.String), &t.Classes); err != nil {
			return nil, fmt.Errorf("decode classes: %w", err)
		}
	}
	if features.Valid {
		if err := json.Unmarshal([]byte(features.String), &t.FeatureNames); err != nil {
			return nil, fmt.Errorf("decode feature names: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT set_name, eg, mae, rmse, converge
        FROM metrics WHERE training_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var set string
		var m ml.Metrics
		if err := rows.Scan(&set, &m.EG, &m.MAE, &m.RMSE, &m.Converge); err != nil {
			return nil, err
		}
		switch set {
		case SetTrain:
			t.TrainMetrics = m
		case SetTest:
			test := m
			t.TestMetrics = &test
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var stats string
	err = s.db.QueryRowContext(ctx, `SELECT stats FROM dataset_stats WHERE training_id = ?`, id).Scan(&stats)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		t.Stats = &pipeline.Statistics{}
		if err := json.Unmarshal([]byte(stats), t.Stats); err != nil {
			return nil, fmt.Errorf("decode dataset stats: %w", err)
		}
	}

	return t, nil
}

// ListTrainings returns every stored training, newest first.
func (s *Store) ListTrainings(ctx context.Context) ([]TrainingSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT t.id, t.name, t.dataset_name, t.created_at, t.centers, t.error_threshold,
               t.train_ratio, tr.eg, tr.converge, te.eg
        FROM trainings t
        LEFT JOIN metrics tr ON tr.training_id = t.id AND tr.set_name = 'train'
        LEFT JOIN metrics te ON te.training_id = t.id AND te.set_name = 'test'
        ORDER BY t.created_at DESC, t.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]TrainingSummary, 0)
	for rows.Next() {
		var sm TrainingSummary
		var ratio float64
		var trainEG, testEG sql.NullFloat64
		var converge sql.NullBool
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.DatasetName, &sm.CreatedAt, &sm.Centers,
			&sm.ErrorThreshold, &ratio, &trainEG, &converge, &testEG); err != nil {
			return nil, err
		}
		sm.Split = SplitLabel(ratio)
		sm.TrainEG = trainEG.Float64
		sm.Converge = converge.Bool
		if testEG.Valid {
			v := testEG.Float64
			sm.TestEG = &v
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// SplitLabel renders a train ratio as "train%/test%", e.g. 0.8 → "80/20".
func SplitLabel(ratio float64) string {
	train := int(math.Round(ratio * 100))
	return fmt.Sprintf("%d/%d", train, 100-train)
}

// DeleteTraining removes a training and all of its child rows.
func (s *Store) DeleteTraining(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, query := range []string{
		`DELETE FROM metrics WHERE training_id = ?`,
		`DELETE FROM dataset_stats WHERE training_id = ?`,
		`DELETE FROM model_config WHERE training_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM trainings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %d", ErrTrainingNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("training deleted", zap.Int64("training_id", id))
	return nil
}

// ExportDocument is the standalone JSON form of a training.
type ExportDocument struct {
	Info    TrainingInfo          `json:"info"`
	Model   ExportModel           `json:"model"`
	Metrics map[string]ml.Metrics `json:"metrics"`
	Stats   *pipeline.Statistics  `json:"dataset_stats,omitempty"`
}

type ExportModel struct {
	ml.Bundle
	Activation   string                   `json:"activation"`
	Scaler       *pipeline.StandardScaler `json:"scaler,omitempty"`
	Classes      []string                 `json:"classes,omitempty"`
	FeatureNames []string                 `json:"feature_names,omitempty"`
}

// Export builds the export document for a training.
func (s *Store) Export(ctx context.Context, id int64) (*ExportDocument, error) {
	t, err := s.LoadTraining(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := &ExportDocument{
		Info: t.Info,
		Model: ExportModel{
			Bundle:       t.Model,
			Activation:   t.Info.Activation,
			Scaler:       t.Scaler,
			Classes:      t.Classes,
			FeatureNames: t.FeatureNames,
		},
		Metrics: map[string]ml.Metrics{SetTrain: t.TrainMetrics},
		Stats:   t.Stats,
	}
	if t.TestMetrics != nil {
		doc.Metrics[SetTest] = *t.TestMetrics
	}
	return doc, nil
}

// ExportTraining writes the export document of a training to path.
func (s *Store) ExportTraining(ctx context.Context, id int64, path string) error {
	doc, err := s.Export(ctx, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	s.logger.Info("training exported", zap.Int64("training_id", id), zap.String("path", path))
	return nil
}

// ReadExport reads a document written by ExportTraining.
func ReadExport(path string) (*ExportDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("read export %s: %w", path, err)
	}
	return &doc, nil
}

func nullableJSON(v interface{}, null bool) (sql.NullString, error) {
	if null {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
