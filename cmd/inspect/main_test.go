package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielpatrickdp/irisgate/internal/logreg"
	"github.com/danielpatrickdp/irisgate/internal/tracking"
	"github.com/danielpatrickdp/irisgate/internal/tracking/sqlstore"
)

// seedDB writes one finished run with a stored model and returns the db
// path and run id.
func seedDB(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "mlflow.db")
	store, err := sqlstore.NewStore(db, filepath.Join(dir, "mlartifacts"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	exp, err := store.GetOrCreateExperiment(ctx, "iris")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment: %v", err)
	}
	info, err := store.CreateRun(ctx, exp.ID, "lr_C1.0_iter200_seed42", time.Now(), nil)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	err = store.LogBatch(ctx, info.RunID,
		[]tracking.Param{{Key: "C", Value: "1.0"}},
		[]tracking.Metric{{Key: "accuracy", Value: 0.9667, Timestamp: 1}},
		[]tracking.Tag{{Key: "quality_gate.status", Value: "passed"}},
	)
	if err != nil {
		t.Fatalf("LogBatch: %v", err)
	}

	m, err := logreg.Fit([][]float64{{0, 1}, {1, 0}, {0, 2}, {2, 0}}, []int{0, 1, 0, 1}, logreg.DefaultParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	b, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	pb := filepath.Join(t.TempDir(), "model.pb")
	if err := os.WriteFile(pb, b, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.UploadArtifact(ctx, info, pb, "model/model.pb"); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}
	if _, err := store.RegisterModelVersion(ctx, "iris-lr", info.ArtifactURI+"/model", info.RunID); err != nil {
		t.Fatalf("RegisterModelVersion: %v", err)
	}
	if err := store.UpdateRun(ctx, info.RunID, tracking.StatusFinished, time.Now()); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	return db, info.RunID
}

func TestListTable(t *testing.T) {
	db, runID := seedDB(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--db", db}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{shortID(runID), "lr_C1.0_iter200_seed42", "FINISHED", "0.9667", "passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestListJSON(t *testing.T) {
	db, runID := seedDB(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--db", "sqlite:///" + db, "--json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var rows []listRow
	if err := json.Unmarshal(stdout.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if len(rows) != 1 || rows[0].RunID != runID || rows[0].Accuracy == nil || *rows[0].Accuracy != 0.9667 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestDetailJSON(t *testing.T) {
	db, runID := seedDB(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--db", db, "--run", runID, "--json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var out detailOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Params["C"] != "1.0" || out.Tags["quality_gate.status"] != "passed" {
		t.Errorf("unexpected detail %+v", out)
	}
	if len(out.ModelVersions) != 1 || out.ModelVersions[0].Version != "1" {
		t.Errorf("unexpected versions %+v", out.ModelVersions)
	}
	if len(out.Artifacts) != 1 || out.Artifacts[0] != "model/model.pb" {
		t.Errorf("unexpected artifacts %v", out.Artifacts)
	}
	if out.Model == nil || out.Model.Kind != logreg.Kind || out.Model.Features != 2 {
		t.Errorf("expected decoded model summary, got %+v", out.Model)
	}
}

func TestDetailTable(t *testing.T) {
	db, runID := seedDB(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--db", db, "--run", runID}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	for _, want := range []string{"Params:", "accuracy", "iris-lr v1", "Model: LogisticRegression 2x2"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("detail output missing %q:\n%s", want, stdout.String())
		}
	}
}

func TestUsageAndMissingDB(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Errorf("expected usage exit 2, got %d", code)
	}
	missing := filepath.Join(t.TempDir(), "absent.db")
	if code := run([]string{"--db", missing}, &stdout, &stderr); code != 1 {
		t.Errorf("expected exit 1 for missing db, got %d", code)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("inspect must not create a database")
	}
}

func TestUnknownRun(t *testing.T) {
	db, _ := seedDB(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--db", db, "--run", "nope"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestForeignDatabaseIsLeftUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("CREATE TABLE notes (body TEXT)"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--db", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}

	db, err = sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var tables int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'runs'").Scan(&tables); err != nil {
		t.Fatal(err)
	}
	if tables != 0 {
		t.Fatal("inspect must not add the tracking schema to other databases")
	}
}
