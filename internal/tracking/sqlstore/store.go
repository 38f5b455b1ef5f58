// Package sqlstore is a tracking backend over a local SQLite database with
// artifacts copied under a filesystem root.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/irisgate/internal/tracking"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	experiment_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL UNIQUE,
	artifact_location TEXT NOT NULL,
	lifecycle_stage   TEXT NOT NULL DEFAULT 'active',
	creation_time     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_uuid      TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	experiment_id INTEGER NOT NULL,
	status        TEXT NOT NULL,
	start_time    TEXT NOT NULL,
	end_time      TEXT,
	artifact_uri  TEXT NOT NULL,
	FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
);

CREATE TABLE IF NOT EXISTS params (
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	run_uuid TEXT NOT NULL,
	PRIMARY KEY (key, run_uuid),
	FOREIGN KEY (run_uuid) REFERENCES runs(run_uuid)
);

CREATE TABLE IF NOT EXISTS metrics (
	key       TEXT NOT NULL,
	value     REAL NOT NULL,
	timestamp INTEGER NOT NULL,
	step      INTEGER NOT NULL DEFAULT 0,
	run_uuid  TEXT NOT NULL,
	PRIMARY KEY (key, timestamp, step, run_uuid),
	FOREIGN KEY (run_uuid) REFERENCES runs(run_uuid)
);

CREATE TABLE IF NOT EXISTS tags (
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	run_uuid TEXT NOT NULL,
	PRIMARY KEY (key, run_uuid),
	FOREIGN KEY (run_uuid) REFERENCES runs(run_uuid)
);

CREATE TABLE IF NOT EXISTS registered_models (
	name          TEXT PRIMARY KEY,
	creation_time TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_versions (
	name          TEXT NOT NULL,
	version       INTEGER NOT NULL,
	source        TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	status        TEXT NOT NULL,
	creation_time TEXT NOT NULL,
	PRIMARY KEY (name, version),
	FOREIGN KEY (name) REFERENCES registered_models(name)
);
`

// #endregion schema

// #region store-struct
// Store implements tracking.Backend on SQLite.
type Store struct {
	db           *sql.DB
	artifactRoot string
}

var _ tracking.Backend = (*Store)(nil)

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database, runs migrations and roots experiment
// artifacts under artifactRoot.
func NewStore(dbPath, artifactRoot string) (*Store, error) {
	root, err := filepath.Abs(artifactRoot)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: required for :memory: databases and keeps writes serial.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, artifactRoot: root}, nil
}

// trackingTables must all exist for Open to accept a database.
var trackingTables = []string{
	"experiments", "runs", "params", "metrics", "tags", "registered_models", "model_versions",
}

// Open opens an existing tracking database for reading. No schema is
// created and every connection runs with query_only set, so writes fail.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	var found int
	err = db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN (`+
			strings.TrimSuffix(strings.Repeat("?,", len(trackingTables)), ",")+`)`,
		anySlice(trackingTables)...,
	).Scan(&found)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open db: %w", err)
	}
	if found != len(trackingTables) {
		db.Close()
		return nil, fmt.Errorf("open db: %s is not a tracking database (%d of %d tables)",
			dbPath, found, len(trackingTables))
	}
	return &Store{db: db}, nil
}

func anySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region experiments
// GetOrCreateExperiment looks up name and inserts it when absent.
func (s *Store) GetOrCreateExperiment(ctx context.Context, name string) (tracking.Experiment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracking.Experiment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		id  int64
		loc string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT experiment_id, artifact_location FROM experiments WHERE name = ?`, name,
	).Scan(&id, &loc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO experiments (name, artifact_location, creation_time) VALUES (?, '', ?)`,
			name, now(),
		)
		if err != nil {
			return tracking.Experiment{}, fmt.Errorf("insert experiment: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return tracking.Experiment{}, fmt.Errorf("experiment id: %w", err)
		}
		loc = "file://" + filepath.ToSlash(filepath.Join(s.artifactRoot, strconv.FormatInt(id, 10)))
		if _, err := tx.ExecContext(ctx,
			`UPDATE experiments SET artifact_location = ? WHERE experiment_id = ?`, loc, id,
		); err != nil {
			return tracking.Experiment{}, fmt.Errorf("set artifact location: %w", err)
		}
	case err != nil:
		return tracking.Experiment{}, fmt.Errorf("get experiment %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return tracking.Experiment{}, fmt.Errorf("commit: %w", err)
	}
	return tracking.Experiment{ID: strconv.FormatInt(id, 10), Name: name, ArtifactLocation: loc}, nil
}

// #endregion experiments

// #region create-run
// CreateRun inserts a RUNNING run with a generated id.
func (s *Store) CreateRun(ctx context.Context, experimentID, runName string, start time.Time, tags []tracking.Tag) (tracking.RunInfo, error) {
	var loc string
	err := s.db.QueryRowContext(ctx,
		`SELECT artifact_location FROM experiments WHERE experiment_id = ?`, experimentID,
	).Scan(&loc)
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.RunInfo{}, fmt.Errorf("experiment %s: %w", experimentID, tracking.ErrNotFound)
	}
	if err != nil {
		return tracking.RunInfo{}, fmt.Errorf("get experiment %s: %w", experimentID, err)
	}

	info := tracking.RunInfo{
		RunID:        uuid.New().String(),
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       tracking.StatusRunning,
		StartTime:    start.UTC(),
	}
	info.ArtifactURI = loc + "/" + info.RunID + "/artifacts"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracking.RunInfo{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_uuid, name, experiment_id, status, start_time, artifact_uri)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		info.RunID, runName, experimentID, string(info.Status),
		info.StartTime.Format(timeLayout), info.ArtifactURI,
	)
	if err != nil {
		return tracking.RunInfo{}, fmt.Errorf("insert run: %w", err)
	}
	if err := upsertTags(ctx, tx, info.RunID, tags); err != nil {
		return tracking.RunInfo{}, err
	}

	if err := tx.Commit(); err != nil {
		return tracking.RunInfo{}, fmt.Errorf("commit: %w", err)
	}
	return info, nil
}

// #endregion create-run

// #region log-batch
// LogBatch writes params, metrics and tags atomically. A param key may be
// written once per run.
func (s *Store) LogBatch(ctx context.Context, runID string, params []tracking.Param, metrics []tracking.Metric, tags []tracking.Tag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_uuid = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, tracking.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if tracking.RunStatus(status).Terminal() {
		return fmt.Errorf("run %s is %s: %w", runID, status, tracking.ErrRunClosed)
	}

	for _, p := range params {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO params (key, value, run_uuid) VALUES (?, ?, ?)`, p.Key, p.Value, runID,
		); err != nil {
			return fmt.Errorf("insert param %s: %w", p.Key, err)
		}
	}
	for _, m := range metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metrics (key, value, timestamp, step, run_uuid) VALUES (?, ?, ?, ?, ?)`,
			m.Key, m.Value, m.Timestamp, m.Step, runID,
		); err != nil {
			return fmt.Errorf("insert metric %s: %w", m.Key, err)
		}
	}
	if err := upsertTags(ctx, tx, runID, tags); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertTags(ctx context.Context, tx *sql.Tx, runID string, tags []tracking.Tag) error {
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (key, value, run_uuid) VALUES (?, ?, ?)
			 ON CONFLICT(key, run_uuid) DO UPDATE SET value = excluded.value`,
			t.Key, t.Value, runID,
		); err != nil {
			return fmt.Errorf("upsert tag %s: %w", t.Key, err)
		}
	}
	return nil
}

// #endregion log-batch

// #region artifacts
// UploadArtifact copies localPath into the run's artifact directory.
func (s *Store) UploadArtifact(ctx context.Context, run tracking.RunInfo, localPath, artifactPath string) error {
	dir, ok := tracking.LocalArtifactDir(run.ArtifactURI)
	if !ok {
		return fmt.Errorf("artifact uri %q is not local", run.ArtifactURI)
	}
	return tracking.CopyArtifact(dir, localPath, artifactPath)
}

// ListArtifacts returns the artifact paths stored for runID.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]string, error) {
	rec, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	dir, ok := tracking.LocalArtifactDir(rec.Info.ArtifactURI)
	if !ok {
		return nil, fmt.Errorf("artifact uri %q is not local", rec.Info.ArtifactURI)
	}
	return tracking.ListArtifacts(dir)
}

// #endregion artifacts

// #region registry
// RegisterModelVersion adds the next version of name, creating the
// registered model on first use.
func (s *Store) RegisterModelVersion(ctx context.Context, name, source, runID string) (tracking.ModelVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracking.ModelVersion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO registered_models (name, creation_time) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`, name, ts,
	); err != nil {
		return tracking.ModelVersion{}, fmt.Errorf("insert registered model: %w", err)
	}

	var version int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE name = ?`, name,
	).Scan(&version); err != nil {
		return tracking.ModelVersion{}, fmt.Errorf("next version: %w", err)
	}

	mv := tracking.ModelVersion{
		Name:    name,
		Version: strconv.FormatInt(version, 10),
		Source:  source,
		RunID:   runID,
		Status:  "READY",
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO model_versions (name, version, source, run_id, status, creation_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, version, source, runID, mv.Status, ts,
	); err != nil {
		return tracking.ModelVersion{}, fmt.Errorf("insert model version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return tracking.ModelVersion{}, fmt.Errorf("commit: %w", err)
	}
	return mv, nil
}

// ListModelVersions returns versions created from runID, or every version
// when runID is empty.
func (s *Store) ListModelVersions(ctx context.Context, runID string) ([]tracking.ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, source, run_id, status FROM model_versions
		 WHERE ? = '' OR run_id = ? ORDER BY name, version`, runID, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	var out []tracking.ModelVersion
	for rows.Next() {
		var (
			mv      tracking.ModelVersion
			version int64
		)
		if err := rows.Scan(&mv.Name, &version, &mv.Source, &mv.RunID, &mv.Status); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		mv.Version = strconv.FormatInt(version, 10)
		out = append(out, mv)
	}
	return out, rows.Err()
}

// #endregion registry

// #region update-run
// UpdateRun sets the run's status and end time.
func (s *Store) UpdateRun(ctx context.Context, runID string, status tracking.RunStatus, end time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, end_time = ? WHERE run_uuid = ?`,
		string(status), end.UTC().Format(timeLayout), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, tracking.ErrNotFound)
	}
	return nil
}

// #endregion update-run

// #region queries
// GetRun loads one run with its params, latest metrics and tags.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_uuid, name, experiment_id, status, start_time, end_time, artifact_uri
		 FROM runs WHERE run_uuid = ?`, runID,
	)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", runID, tracking.ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return s.load(ctx, info)
}

// ListRuns returns the most recently started runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_uuid, name, experiment_id, status, start_time, end_time, artifact_uri
		 FROM runs ORDER BY start_time DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var infos []tracking.RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		infos = append(infos, info)
	}
	// The single connection must be released before the detail queries.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := make([]RunRecord, 0, len(infos))
	for _, info := range infos {
		rec, err := s.load(ctx, info)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) load(ctx context.Context, info tracking.RunInfo) (RunRecord, error) {
	rec := RunRecord{
		Info:    info,
		Params:  make(map[string]string),
		Metrics: make(map[string]float64),
		Tags:    make(map[string]string),
	}
	if err := s.collect(ctx, rec.Params,
		`SELECT key, value FROM params WHERE run_uuid = ?`, info.RunID); err != nil {
		return RunRecord{}, fmt.Errorf("params: %w", err)
	}
	if err := s.collect(ctx, rec.Tags,
		`SELECT key, value FROM tags WHERE run_uuid = ?`, info.RunID); err != nil {
		return RunRecord{}, fmt.Errorf("tags: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM metrics WHERE run_uuid = ? ORDER BY timestamp, step`, info.RunID,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			v float64
		)
		if err := rows.Scan(&k, &v); err != nil {
			return RunRecord{}, fmt.Errorf("scan metric: %w", err)
		}
		rec.Metrics[k] = v
	}
	return rec, rows.Err()
}

func (s *Store) collect(ctx context.Context, into map[string]string, query, runID string) error {
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		into[k] = v
	}
	return rows.Err()
}

// #endregion queries

// #region helpers
// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (tracking.RunInfo, error) {
	var (
		info             tracking.RunInfo
		expID            int64
		status, startStr string
		endStr           sql.NullString
	)
	if err := row.Scan(&info.RunID, &info.RunName, &expID, &status, &startStr, &endStr, &info.ArtifactURI); err != nil {
		return tracking.RunInfo{}, err
	}
	info.ExperimentID = strconv.FormatInt(expID, 10)
	info.Status = tracking.RunStatus(status)
	info.StartTime, _ = time.Parse(timeLayout, startStr)
	if endStr.Valid {
		info.EndTime, _ = time.Parse(timeLayout, endStr.String)
	}
	return info, nil
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// #endregion helpers
