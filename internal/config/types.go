package config

// #region env
// Environment variables read by the CLI.
const (
	EnvTrackingURI  = "MLFLOW_TRACKING_URI"
	EnvArtifactRoot = "MLFLOW_ARTIFACT_ROOT"

	DefaultTrackingURI  = "http://127.0.0.1:5000"
	DefaultArtifactRoot = "mlartifacts"
)

// #endregion env

// #region run-config
// RunConfig is the immutable configuration of one training run.
type RunConfig struct {
	ExperimentName      string
	RegisteredModelName string
	C                   float64
	MaxIter             int
	Seed                int64
	TestSize            float64
	MinAccuracy         float64
	OutputDir           string
	TrackingURI         string
	ArtifactRoot        string // local store only
}

// DefaultRunConfig returns the CLI defaults. The two names have no default.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		C:            1.0,
		MaxIter:      200,
		Seed:         42,
		TestSize:     0.2,
		MinAccuracy:  0.8,
		OutputDir:    "outputs",
		TrackingURI:  DefaultTrackingURI,
		ArtifactRoot: DefaultArtifactRoot,
	}
}

// #endregion run-config
