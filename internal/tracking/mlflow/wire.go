package mlflow

// Request and response bodies of the MLflow REST API, version 2.0.

// #region wire
type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type wireMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type wireExperiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
}

type getExperimentResponse struct {
	Experiment wireExperiment `json:"experiment"`
}

type createExperimentRequest struct {
	Name string `json:"name"`
}

type createExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type wireRunInfo struct {
	RunID        string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	RunName      string `json:"run_name"`
	Status       string `json:"status"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time,omitempty"`
	ArtifactURI  string `json:"artifact_uri"`
}

type wireRun struct {
	Info wireRunInfo `json:"info"`
}

type createRunRequest struct {
	ExperimentID string     `json:"experiment_id"`
	RunName      string     `json:"run_name"`
	StartTime    int64      `json:"start_time"`
	Tags         []keyValue `json:"tags,omitempty"`
}

type createRunResponse struct {
	Run wireRun `json:"run"`
}

type logBatchRequest struct {
	RunID   string       `json:"run_id"`
	Params  []keyValue   `json:"params,omitempty"`
	Metrics []wireMetric `json:"metrics,omitempty"`
	Tags    []keyValue   `json:"tags,omitempty"`
}

type updateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	EndTime int64  `json:"end_time"`
}

type createRegisteredModelRequest struct {
	Name string `json:"name"`
}

type createModelVersionRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	RunID  string `json:"run_id"`
}

type wireModelVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source"`
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
}

type createModelVersionResponse struct {
	ModelVersion wireModelVersion `json:"model_version"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// #endregion wire
