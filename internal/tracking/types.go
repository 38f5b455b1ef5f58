package tracking

import (
	"context"
	"errors"
	"time"
)

// #region errors
var (
	// ErrAlreadyLogged is returned when params or metrics are logged twice.
	ErrAlreadyLogged = errors.New("already logged for this run")
	// ErrRunClosed is returned for any write after Finalize.
	ErrRunClosed = errors.New("run is finalized")
	// ErrNotFound is returned by backends for unknown experiments or runs.
	ErrNotFound = errors.New("not found")
)

// #endregion errors

// #region run-status
// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
	StatusKilled   RunStatus = "KILLED"
)

// Terminal reports whether s ends a run.
func (s RunStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusKilled
}

// #endregion run-status

// #region records
// Experiment groups runs under a name.
type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
}

// RunInfo is the backend's view of a run.
type RunInfo struct {
	RunID        string
	ExperimentID string
	RunName      string
	ArtifactURI  string
	Status       RunStatus
	StartTime    time.Time
	EndTime      time.Time
}

type Param struct {
	Key   string
	Value string
}

// Metric is one metric sample. Timestamp is in milliseconds since epoch.
type Metric struct {
	Key       string
	Value     float64
	Timestamp int64
	Step      int64
}

type Tag struct {
	Key   string
	Value string
}

// ModelVersion is one registered version of a catalog entry.
type ModelVersion struct {
	Name    string
	Version string
	Source  string
	RunID   string
	Status  string
}

// #endregion records

// #region backend
// Backend is the storage a Recorder writes through. Implementations map
// unreachable endpoints to failure.ErrBackendUnavailable.
type Backend interface {
	// GetOrCreateExperiment returns the experiment named name, creating it
	// if it does not exist.
	GetOrCreateExperiment(ctx context.Context, name string) (Experiment, error)
	CreateRun(ctx context.Context, experimentID, runName string, start time.Time, tags []Tag) (RunInfo, error)
	LogBatch(ctx context.Context, runID string, params []Param, metrics []Metric, tags []Tag) error
	// UploadArtifact stores the file at localPath under artifactPath, a
	// slash separated path relative to the run's artifact root.
	UploadArtifact(ctx context.Context, run RunInfo, localPath, artifactPath string) error
	// RegisterModelVersion creates the catalog entry if needed and adds a
	// new version pointing at source.
	RegisterModelVersion(ctx context.Context, name, source, runID string) (ModelVersion, error)
	UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error
	Close() error
}

// #endregion backend

// #region model
// Model is what LogModel packages.
type Model interface {
	Kind() string
	Predict(X [][]float64) []int
	MarshalBinary() ([]byte, error)
}

// #endregion model
