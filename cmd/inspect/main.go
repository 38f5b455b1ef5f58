package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/irisgate/internal/logreg"
	"github.com/danielpatrickdp/irisgate/internal/tracking"
	"github.com/danielpatrickdp/irisgate/internal/tracking/sqlstore"
)

// #region main

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "", "path to the tracking database (or sqlite:///path)")
	last := fs.Int("last", 20, "show N most recent runs")
	runID := fs.String("run", "", "show single run detail")
	jsonOut := fs.Bool("json", false, "output as JSON instead of table")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *dbPath == "" {
		fmt.Fprintln(stderr, "usage: inspect --db path/to/mlflow.db [--last N] [--run id] [--json]")
		return 2
	}
	path := strings.TrimPrefix(*dbPath, "sqlite:///")
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(stderr, "open db: %v\n", err)
		return 1
	}

	store, err := sqlstore.Open(path)
	if err != nil {
		fmt.Fprintf(stderr, "open db: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx := context.Background()
	if *runID != "" {
		err = runDetailMode(ctx, store, *runID, *jsonOut, stdout)
	} else {
		err = runListMode(ctx, store, *last, *jsonOut, stdout, stderr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID      string   `json:"run_id"`
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Gate       string   `json:"quality_gate,omitempty"`
	StartedAt  string   `json:"started_at"`
	Experiment string   `json:"experiment_id"`
}

func runListMode(ctx context.Context, store *sqlstore.Store, last int, jsonOut bool, stdout, stderr io.Writer) error {
	runs, err := store.ListRuns(ctx, last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		row := listRow{
			RunID:      r.Info.RunID,
			Name:       r.Info.RunName,
			Status:     string(r.Info.Status),
			Gate:       r.Tags["quality_gate.status"],
			StartedAt:  r.Info.StartTime.Format("2006-01-02T15:04:05Z"),
			Experiment: r.Info.ExperimentID,
		}
		if v, ok := r.Metric("accuracy"); ok {
			row.Accuracy = &v
		}
		rows[i] = row
	}

	if jsonOut {
		return printJSON(stdout, rows)
	}

	fmt.Fprintf(stdout, "%-10s  %-28s  %-8s  %8s  %-6s  %s\n",
		"Run", "Name", "Status", "Accuracy", "Gate", "Started")
	fmt.Fprintf(stdout, "%-10s+-%-28s+-%-8s+-%8s+-%-6s+-%s\n",
		"----------", "----------------------------", "--------", "--------", "------", "--------------------")
	for _, r := range rows {
		acc := "-"
		if r.Accuracy != nil {
			acc = fmt.Sprintf("%.4f", *r.Accuracy)
		}
		gate := r.Gate
		if gate == "" {
			gate = "-"
		}
		fmt.Fprintf(stdout, "%-10s  %-28s  %-8s  %8s  %-6s  %s\n",
			shortID(r.RunID), r.Name, r.Status, acc, gate, r.StartedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type modelSummary struct {
	Kind       string `json:"kind"`
	Classes    int    `json:"classes"`
	Features   int    `json:"features"`
	Converged  bool   `json:"converged"`
	Iterations int    `json:"iterations"`
}

type detailOutput struct {
	RunID         string                  `json:"run_id"`
	Name          string                  `json:"name"`
	Status        string                  `json:"status"`
	ArtifactURI   string                  `json:"artifact_uri"`
	Params        map[string]string       `json:"params"`
	Metrics       map[string]float64      `json:"metrics"`
	Tags          map[string]string       `json:"tags"`
	Artifacts     []string                `json:"artifacts"`
	ModelVersions []tracking.ModelVersion `json:"model_versions"`
	Model         *modelSummary           `json:"model,omitempty"`
}

func runDetailMode(ctx context.Context, store *sqlstore.Store, runID string, jsonOut bool, stdout io.Writer) error {
	rec, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	arts, err := store.ListArtifacts(ctx, runID)
	if err != nil {
		return err
	}
	versions, err := store.ListModelVersions(ctx, runID)
	if err != nil {
		return err
	}

	out := detailOutput{
		RunID:         rec.Info.RunID,
		Name:          rec.Info.RunName,
		Status:        string(rec.Info.Status),
		ArtifactURI:   rec.Info.ArtifactURI,
		Params:        rec.Params,
		Metrics:       rec.Metrics,
		Tags:          rec.Tags,
		Artifacts:     arts,
		ModelVersions: versions,
		Model:         loadModel(rec.Info.ArtifactURI),
	}

	if jsonOut {
		return printJSON(stdout, out)
	}

	fmt.Fprintf(stdout, "Run:       %s\n", out.RunID)
	fmt.Fprintf(stdout, "Name:      %s\n", out.Name)
	fmt.Fprintf(stdout, "Status:    %s\n", out.Status)
	fmt.Fprintf(stdout, "Artifacts: %s\n", out.ArtifactURI)

	printSection(stdout, "Params", out.Params)
	fmt.Fprintf(stdout, "\nMetrics:\n")
	for _, k := range sortedKeys(out.Metrics) {
		fmt.Fprintf(stdout, "  %-20s %.4f\n", k, out.Metrics[k])
	}
	printSection(stdout, "Tags", out.Tags)

	fmt.Fprintf(stdout, "\nArtifact files:\n")
	for _, a := range out.Artifacts {
		fmt.Fprintf(stdout, "  %s\n", a)
	}
	fmt.Fprintf(stdout, "\nModel versions:\n")
	for _, mv := range out.ModelVersions {
		fmt.Fprintf(stdout, "  %s v%s  %s\n", mv.Name, mv.Version, mv.Source)
	}
	if m := out.Model; m != nil {
		fmt.Fprintf(stdout, "\nModel: %s %dx%d converged=%v iterations=%d\n",
			m.Kind, m.Classes, m.Features, m.Converged, m.Iterations)
	}
	return nil
}

// loadModel decodes model/model.pb from a local artifact root, if present.
func loadModel(artifactURI string) *modelSummary {
	dir, ok := tracking.LocalArtifactDir(artifactURI)
	if !ok {
		return nil
	}
	b, err := os.ReadFile(filepath.Join(dir, tracking.ModelFolder, tracking.ModelDataFile))
	if err != nil {
		return nil
	}
	m, err := logreg.Unmarshal(b)
	if err != nil {
		return nil
	}
	return &modelSummary{
		Kind:       m.Kind(),
		Classes:    m.NumClasses(),
		Features:   m.NumFeatures(),
		Converged:  m.Info.Converged,
		Iterations: m.Info.Iterations,
	}
}

// #endregion detail-mode

// #region output

func printSection(w io.Writer, title string, kv map[string]string) {
	fmt.Fprintf(w, "\n%s:\n", title)
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-28s %s\n", k, kv[k])
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
