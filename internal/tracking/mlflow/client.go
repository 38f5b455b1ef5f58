// Package mlflow is a tracking backend that talks to an MLflow tracking
// server over its REST API.
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/danielpatrickdp/irisgate/internal/failure"
	"github.com/danielpatrickdp/irisgate/internal/tracking"
)

const (
	apiPrefix       = "api/2.0/mlflow"
	artifactsPrefix = "api/2.0/mlflow-artifacts/artifacts"

	// Error codes returned by the server.
	CodeResourceDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
	CodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
)

// #region api-error
// APIError is a non-2xx response that the server answered with.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("mlflow: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("mlflow: %s (status %d): %s", e.Code, e.Status, e.Message)
}

// HasCode reports whether err is an *APIError carrying code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// #endregion api-error

// #region client
// Client implements tracking.Backend against a tracking server.
type Client struct {
	httpclient *http.Client
	api        string
}

var _ tracking.Backend = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpclient = hc }
}

// NewClient creates a client for the server at trackingURI.
func NewClient(trackingURI string, opts ...Option) (*Client, error) {
	u, err := url.Parse(trackingURI)
	if err != nil {
		return nil, failure.Invalidf("tracking uri %q: %v", trackingURI, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, failure.Invalidf("tracking uri %q: want http(s)://host[:port]", trackingURI)
	}
	c := &Client{
		// No client timeout: deadlines come from the caller's context.
		httpclient: &http.Client{},
		api:        strings.TrimSuffix(trackingURI, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpclient.CloseIdleConnections()
	return nil
}

// build URL with path
func (c *Client) apipath(path ...string) string {
	for i, p := range path {
		path[i] = strings.TrimPrefix(strings.TrimSuffix(p, "/"), "/")
	}
	return strings.Join(append([]string{c.api}, path...), "/")
}

// #endregion client

// #region experiments
// GetOrCreateExperiment looks the experiment up by name and creates it on
// RESOURCE_DOES_NOT_EXIST.
func (c *Client) GetOrCreateExperiment(ctx context.Context, name string) (tracking.Experiment, error) {
	exp, err := c.getExperimentByName(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !HasCode(err, CodeResourceDoesNotExist) {
		return tracking.Experiment{}, err
	}

	var created createExperimentResponse
	err = c.do(ctx, http.MethodPost, c.apipath(apiPrefix, "experiments/create"), createExperimentRequest{Name: name}, &created)
	if HasCode(err, CodeResourceAlreadyExists) {
		// created concurrently by another client
		return c.getExperimentByName(ctx, name)
	}
	if err != nil {
		return tracking.Experiment{}, err
	}
	log.Printf("[TRACK] created experiment %q (%s)", name, created.ExperimentID)
	return tracking.Experiment{ID: created.ExperimentID, Name: name}, nil
}

func (c *Client) getExperimentByName(ctx context.Context, name string) (tracking.Experiment, error) {
	q := url.Values{"experiment_name": {name}}
	var resp getExperimentResponse
	if err := c.do(ctx, http.MethodGet, c.apipath(apiPrefix, "experiments/get-by-name")+"?"+q.Encode(), nil, &resp); err != nil {
		return tracking.Experiment{}, err
	}
	return tracking.Experiment{
		ID:               resp.Experiment.ExperimentID,
		Name:             resp.Experiment.Name,
		ArtifactLocation: resp.Experiment.ArtifactLocation,
	}, nil
}

// #endregion experiments

// #region runs
func (c *Client) CreateRun(ctx context.Context, experimentID, runName string, start time.Time, tags []tracking.Tag) (tracking.RunInfo, error) {
	req := createRunRequest{
		ExperimentID: experimentID,
		RunName:      runName,
		StartTime:    start.UnixMilli(),
		Tags:         toKeyValues(tags),
	}
	var resp createRunResponse
	if err := c.do(ctx, http.MethodPost, c.apipath(apiPrefix, "runs/create"), req, &resp); err != nil {
		return tracking.RunInfo{}, err
	}
	info := resp.Run.Info
	if info.RunID == "" {
		return tracking.RunInfo{}, errors.New("mlflow: runs/create returned no run id")
	}
	return tracking.RunInfo{
		RunID:        info.RunID,
		ExperimentID: info.ExperimentID,
		RunName:      info.RunName,
		ArtifactURI:  info.ArtifactURI,
		Status:       tracking.RunStatus(info.Status),
		StartTime:    time.UnixMilli(info.StartTime).UTC(),
	}, nil
}

func (c *Client) LogBatch(ctx context.Context, runID string, params []tracking.Param, metrics []tracking.Metric, tags []tracking.Tag) error {
	req := logBatchRequest{RunID: runID, Tags: toKeyValues(tags)}
	for _, p := range params {
		req.Params = append(req.Params, keyValue{Key: p.Key, Value: p.Value})
	}
	for _, m := range metrics {
		req.Metrics = append(req.Metrics, wireMetric{Key: m.Key, Value: m.Value, Timestamp: m.Timestamp, Step: m.Step})
	}
	return c.do(ctx, http.MethodPost, c.apipath(apiPrefix, "runs/log-batch"), req, nil)
}

func (c *Client) UpdateRun(ctx context.Context, runID string, status tracking.RunStatus, end time.Time) error {
	req := updateRunRequest{RunID: runID, Status: string(status), EndTime: end.UnixMilli()}
	return c.do(ctx, http.MethodPost, c.apipath(apiPrefix, "runs/update"), req, nil)
}

// #endregion runs

// #region artifacts
// UploadArtifact sends localPath to the server's artifact proxy for
// mlflow-artifacts: URIs and copies it for local file URIs.
func (c *Client) UploadArtifact(ctx context.Context, run tracking.RunInfo, localPath, artifactPath string) error {
	if dir, ok := tracking.LocalArtifactDir(run.ArtifactURI); ok {
		return tracking.CopyArtifact(dir, localPath, artifactPath)
	}

	u, err := url.Parse(run.ArtifactURI)
	if err != nil || u.Scheme != "mlflow-artifacts" {
		return errors.Errorf("mlflow: unsupported artifact uri %q", run.ArtifactURI)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return errors.Wrapf(err, "read %s", localPath)
	}

	target := c.apipath(artifactsPrefix, u.Path, artifactPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.send(req, nil)
}

// #endregion artifacts

// #region registry
// RegisterModelVersion creates the registered model unless it exists and
// adds a version sourced from source.
func (c *Client) RegisterModelVersion(ctx context.Context, name, source, runID string) (tracking.ModelVersion, error) {
	err := c.do(ctx, http.MethodPost, c.apipath(apiPrefix, "registered-models/create"), createRegisteredModelRequest{Name: name}, nil)
	if err != nil && !HasCode(err, CodeResourceAlreadyExists) {
		return tracking.ModelVersion{}, err
	}

	var resp createModelVersionResponse
	req := createModelVersionRequest{Name: name, Source: source, RunID: runID}
	if err := c.do(ctx, http.MethodPost, c.apipath(apiPrefix, "model-versions/create"), req, &resp); err != nil {
		return tracking.ModelVersion{}, err
	}
	mv := resp.ModelVersion
	return tracking.ModelVersion{
		Name:    mv.Name,
		Version: mv.Version,
		Source:  mv.Source,
		RunID:   mv.RunID,
		Status:  mv.Status,
	}, nil
}

// #endregion registry

// #region transport
// do sends a JSON request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, target string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send executes req. Transport failures and gateway statuses map to
// failure.ErrBackendUnavailable; other error statuses become *APIError.
func (c *Client) send(req *http.Request, out interface{}) error {
	endpoint := req.Method + " " + req.URL.Path

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return failure.Unavailable(err, c.api)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return failure.Unavailable(fmt.Errorf("%s: status %d", endpoint, resp.StatusCode), c.api)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure.Unavailable(errors.Wrap(err, "read response"), c.api)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.ErrorCode != "" {
			apiErr.Code = er.ErrorCode
			apiErr.Message = er.Message
		}
		return errors.WithMessage(apiErr, endpoint)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "%s: decode response", endpoint)
	}
	return nil
}

// #endregion transport

// #region helpers
func toKeyValues(tags []tracking.Tag) []keyValue {
	out := make([]keyValue, 0, len(tags))
	for _, t := range tags {
		out = append(out, keyValue{Key: t.Key, Value: t.Value})
	}
	return out
}

// #endregion helpers
