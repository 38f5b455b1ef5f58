package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/irisgate/internal/config"
	"github.com/danielpatrickdp/irisgate/internal/failure"
	"github.com/danielpatrickdp/irisgate/internal/gate"
	"github.com/danielpatrickdp/irisgate/internal/orchestrator"
	"github.com/danielpatrickdp/irisgate/internal/tracking"
	"github.com/danielpatrickdp/irisgate/internal/tracking/mlflow"
	"github.com/danielpatrickdp/irisgate/internal/tracking/sqlstore"
)

// Process exit codes.
const (
	exitOK          = 0
	exitGateFailed  = 1
	exitInvalid     = 2
	exitUnavailable = 3
	exitError       = 4
)

// #region main
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Parse(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitInvalid
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitInvalid
	}

	backend, err := openBackend(cfg.TrackingURI, cfg.ArtifactRoot)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	defer backend.Close()

	res, err := orchestrator.NewOrchestrator(tracking.NewRecorder(backend)).Run(context.Background(), cfg)
	if err != nil {
		var gf *gate.Failure
		if errors.As(err, &gf) {
			fmt.Fprintln(stderr, gf.Error())
		} else {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return exitCode(err)
	}

	fmt.Fprintf(stdout, "Final accuracy: %.4f\n", res.Accuracy)
	return exitOK
}

// #endregion main

// #region helpers
// openBackend picks the tracking backend for uri: an MLflow server for
// http(s) and a local store for sqlite:///path (SQLAlchemy style, so
// sqlite:////abs/path is absolute).
func openBackend(uri, artifactRoot string) (tracking.Backend, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return mlflow.NewClient(uri)
	case strings.HasPrefix(uri, "sqlite:///"):
		path := strings.TrimPrefix(uri, "sqlite:///")
		if path == "" {
			return nil, failure.Invalidf("tracking uri %q has no database path", uri)
		}
		store, err := sqlstore.NewStore(path, artifactRoot)
		if err != nil {
			return nil, failure.Unavailable(err, uri)
		}
		return store, nil
	default:
		return nil, failure.Invalidf("unsupported tracking uri %q", uri)
	}
}

func exitCode(err error) int {
	var gf *gate.Failure
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &gf):
		return exitGateFailed
	case failure.IsInvalid(err):
		return exitInvalid
	case failure.IsUnavailable(err):
		return exitUnavailable
	default:
		return exitError
	}
}

// #endregion helpers
