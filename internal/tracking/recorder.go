// Package tracking records training runs against an MLflow-style backend.
package tracking

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"
)

// Reserved run tag keys understood by MLflow UIs.
const (
	TagRunName    = "mlflow.runName"
	TagSourceName = "mlflow.source.name"
	TagSourceType = "mlflow.source.type"
	TagUser       = "mlflow.user"
)

// #region run
// Run is a handle to an open run. It tracks the write-once state of params
// and metrics and refuses writes after Finalize.
type Run struct {
	Info       RunInfo
	Experiment Experiment

	paramsLogged  bool
	metricsLogged bool
	closed        bool
}

// ID returns the backend run id.
func (r *Run) ID() string {
	return r.Info.RunID
}

// Closed reports whether Finalize succeeded on this handle.
func (r *Run) Closed() bool {
	return r.closed
}

// #endregion run

// #region recorder
// Recorder writes one run's record through a Backend.
type Recorder struct {
	backend Backend
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source used for start/end times and metric
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder over backend.
func NewRecorder(backend Backend, opts ...Option) *Recorder {
	r := &Recorder{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the underlying backend.
func (r *Recorder) Backend() Backend {
	return r.backend
}

// #endregion recorder

// #region start
// StartRun opens a run named runLabel under experimentName, creating the
// experiment if it is missing. Source and user tags are added to tags.
func (r *Recorder) StartRun(ctx context.Context, experimentName, runLabel string, tags map[string]string) (*Run, error) {
	exp, err := r.backend.GetOrCreateExperiment(ctx, experimentName)
	if err != nil {
		return nil, fmt.Errorf("start run: experiment %q: %w", experimentName, err)
	}

	all := map[string]string{
		TagRunName:    runLabel,
		TagSourceName: filepath.Base(os.Args[0]),
		TagSourceType: "LOCAL",
	}
	if u := os.Getenv("USER"); u != "" {
		all[TagUser] = u
	}
	for k, v := range tags {
		all[k] = v
	}

	info, err := r.backend.CreateRun(ctx, exp.ID, runLabel, r.now(), sortedTags(all))
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	log.Printf("[TRACK] started run %s (%s) in experiment %s (%s)", info.RunID, runLabel, exp.Name, exp.ID)
	return &Run{Info: info, Experiment: exp}, nil
}

// #endregion start

// #region log
// LogParams records hyperparameters. A run accepts one call.
func (r *Recorder) LogParams(ctx context.Context, run *Run, params map[string]string) error {
	if err := writable(run); err != nil {
		return err
	}
	if run.paramsLogged {
		return fmt.Errorf("log params: %w", ErrAlreadyLogged)
	}

	keys := sortedKeys(params)
	batch := make([]Param, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, Param{Key: k, Value: params[k]})
	}
	if err := r.backend.LogBatch(ctx, run.ID(), batch, nil, nil); err != nil {
		return fmt.Errorf("log params: %w", err)
	}
	run.paramsLogged = true
	return nil
}

// LogMetrics records evaluation metrics at step 0. A run accepts one call.
func (r *Recorder) LogMetrics(ctx context.Context, run *Run, metrics map[string]float64) error {
	if err := writable(run); err != nil {
		return err
	}
	if run.metricsLogged {
		return fmt.Errorf("log metrics: %w", ErrAlreadyLogged)
	}

	ts := r.now().UnixMilli()
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := make([]Metric, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, Metric{Key: k, Value: metrics[k], Timestamp: ts})
	}
	if err := r.backend.LogBatch(ctx, run.ID(), nil, batch, nil); err != nil {
		return fmt.Errorf("log metrics: %w", err)
	}
	run.metricsLogged = true
	return nil
}

// SetTags adds or overwrites run tags.
func (r *Recorder) SetTags(ctx context.Context, run *Run, tags map[string]string) error {
	if err := writable(run); err != nil {
		return err
	}
	if err := r.backend.LogBatch(ctx, run.ID(), nil, nil, sortedTags(tags)); err != nil {
		return fmt.Errorf("set tags: %w", err)
	}
	return nil
}

// LogArtifact uploads localPath into folder of the run's artifact tree and
// returns the artifact path it was stored under.
func (r *Recorder) LogArtifact(ctx context.Context, run *Run, localPath, folder string) (string, error) {
	if err := writable(run); err != nil {
		return "", err
	}
	artifactPath := path.Join(folder, filepath.Base(localPath))
	if err := r.backend.UploadArtifact(ctx, run.Info, localPath, artifactPath); err != nil {
		return "", fmt.Errorf("log artifact %s: %w", artifactPath, err)
	}
	log.Printf("[TRACK] logged artifact %s", artifactPath)
	return artifactPath, nil
}

// #endregion log

// #region finalize
// Finalize sets the run's terminal status and end time. The handle rejects
// writes afterwards.
func (r *Recorder) Finalize(ctx context.Context, run *Run, status RunStatus) error {
	if err := writable(run); err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("finalize: %s is not a terminal status", status)
	}
	end := r.now()
	if err := r.backend.UpdateRun(ctx, run.ID(), status, end); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	run.Info.Status = status
	run.Info.EndTime = end
	run.closed = true
	log.Printf("[TRACK] run %s finalized as %s", run.ID(), status)
	return nil
}

// #endregion finalize

// #region helpers
func writable(run *Run) error {
	if run == nil {
		return fmt.Errorf("no active run")
	}
	if run.closed {
		return ErrRunClosed
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTags(m map[string]string) []Tag {
	keys := sortedKeys(m)
	tags := make([]Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, Tag{Key: k, Value: m[k]})
	}
	return tags
}

// #endregion helpers
