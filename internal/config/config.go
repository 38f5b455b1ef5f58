// Package config parses and validates the training run configuration.
package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/irisgate/internal/failure"
)

// #region parse
// Parse reads flags from args and the tracking endpoint from the
// environment. Usage errors are reported as invalid configuration; a help
// request returns pflag.ErrHelp after printing usage to out. The result is
// not validated.
func Parse(args []string, out io.Writer) (RunConfig, error) {
	cfg := DefaultRunConfig()
	cfg.TrackingURI = envOr(EnvTrackingURI, DefaultTrackingURI)
	cfg.ArtifactRoot = envOr(EnvArtifactRoot, DefaultArtifactRoot)

	fs := pflag.NewFlagSet("train", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.ExperimentName, "experiment-name", "", "tracking experiment to log the run under (required)")
	fs.StringVar(&cfg.RegisteredModelName, "registered-model-name", "", "model registry entry to add a version to (required)")
	fs.Float64Var(&cfg.C, "C", cfg.C, "inverse L2 regularization strength")
	fs.IntVar(&cfg.MaxIter, "max-iter", cfg.MaxIter, "optimizer iteration cap")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "split seed")
	fs.Float64Var(&cfg.TestSize, "test-size", cfg.TestSize, "held-out fraction in (0,1)")
	fs.Float64Var(&cfg.MinAccuracy, "min-accuracy", cfg.MinAccuracy, "quality gate threshold in [0,1]")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "local directory for rendered plots")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return cfg, err
		}
		return cfg, failure.Invalidf("%v", err)
	}
	if fs.NArg() > 0 {
		return cfg, failure.Invalidf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return cfg, nil
}

// #endregion parse

// #region validate
// Validate checks every field before any work is done.
func (c RunConfig) Validate() error {
	if strings.TrimSpace(c.ExperimentName) == "" {
		return failure.Invalidf("--experiment-name is required")
	}
	if strings.TrimSpace(c.RegisteredModelName) == "" {
		return failure.Invalidf("--registered-model-name is required")
	}
	if !(c.C > 0) || math.IsInf(c.C, 0) {
		return failure.Invalidf("--C must be a positive number, got %v", c.C)
	}
	if c.MaxIter <= 0 {
		return failure.Invalidf("--max-iter must be positive, got %d", c.MaxIter)
	}
	if !(c.TestSize > 0 && c.TestSize < 1) {
		return failure.Invalidf("--test-size must be in (0,1), got %v", c.TestSize)
	}
	if !(c.MinAccuracy >= 0 && c.MinAccuracy <= 1) {
		return failure.Invalidf("--min-accuracy must be in [0,1], got %v", c.MinAccuracy)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return failure.Invalidf("--output-dir must not be empty")
	}
	if strings.TrimSpace(c.TrackingURI) == "" {
		return failure.Invalidf("%s must not be empty", EnvTrackingURI)
	}
	return nil
}

// #endregion validate

// #region labels
// RunLabel names the run after its hyperparameters, e.g. lr_C1.0_iter200_seed42.
func (c RunConfig) RunLabel() string {
	return fmt.Sprintf("lr_C%s_iter%d_seed%d", FormatFloat(c.C), c.MaxIter, c.Seed)
}

// FormatFloat prints v in its shortest form, keeping at least one decimal.
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// #endregion labels

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
