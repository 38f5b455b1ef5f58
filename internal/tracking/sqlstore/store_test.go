package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/danielpatrickdp/irisgate/internal/tracking"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"), filepath.Join(dir, "mlartifacts"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createRun(t *testing.T, s *Store, name string, start time.Time) tracking.RunInfo {
	t.Helper()
	ctx := context.Background()
	exp, err := s.GetOrCreateExperiment(ctx, "iris")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment: %v", err)
	}
	info, err := s.CreateRun(ctx, exp.ID, name, start, []tracking.Tag{{Key: "mlflow.runName", Value: name}})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return info
}

func TestGetOrCreateExperimentIsIdempotent(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	a, err := s.GetOrCreateExperiment(ctx, "iris")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment: %v", err)
	}
	b, err := s.GetOrCreateExperiment(ctx, "iris")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment: %v", err)
	}
	if a != b {
		t.Fatalf("expected same experiment, got %+v and %+v", a, b)
	}
	if _, ok := tracking.LocalArtifactDir(a.ArtifactLocation); !ok {
		t.Fatalf("expected local artifact location, got %q", a.ArtifactLocation)
	}

	c, err := s.GetOrCreateExperiment(ctx, "other")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment: %v", err)
	}
	if c.ID == a.ID {
		t.Fatal("distinct experiments share an id")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	info := createRun(t, s, "lr_C1.0_iter200_seed42", start)

	if info.Status != tracking.StatusRunning || info.RunID == "" {
		t.Fatalf("unexpected run info %+v", info)
	}

	err := s.LogBatch(ctx, info.RunID,
		[]tracking.Param{{Key: "C", Value: "1.0"}, {Key: "model", Value: "LogisticRegression"}},
		[]tracking.Metric{{Key: "accuracy", Value: 0.9, Timestamp: 1}},
		[]tracking.Tag{{Key: "quality_gate.status", Value: "failed"}},
	)
	if err != nil {
		t.Fatalf("LogBatch: %v", err)
	}
	// tags overwrite
	if err := s.LogBatch(ctx, info.RunID, nil, nil, []tracking.Tag{{Key: "quality_gate.status", Value: "passed"}}); err != nil {
		t.Fatalf("LogBatch tags: %v", err)
	}

	end := start.Add(time.Minute)
	if err := s.UpdateRun(ctx, info.RunID, tracking.StatusFinished, end); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	rec, err := s.GetRun(ctx, info.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Info.Status != tracking.StatusFinished || !rec.Info.EndTime.Equal(end) || !rec.Info.StartTime.Equal(start) {
		t.Errorf("unexpected info %+v", rec.Info)
	}
	if rec.Params["model"] != "LogisticRegression" || len(rec.Params) != 2 {
		t.Errorf("unexpected params %v", rec.Params)
	}
	if v, ok := rec.Metric("accuracy"); !ok || v != 0.9 {
		t.Errorf("unexpected metrics %v", rec.Metrics)
	}
	if rec.Tags["quality_gate.status"] != "passed" || rec.Tags["mlflow.runName"] != "lr_C1.0_iter200_seed42" {
		t.Errorf("unexpected tags %v", rec.Tags)
	}
}

func TestLogBatchRejectsDuplicateParam(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	info := createRun(t, s, "r", time.Now())

	p := []tracking.Param{{Key: "C", Value: "1.0"}}
	if err := s.LogBatch(ctx, info.RunID, p, nil, nil); err != nil {
		t.Fatalf("LogBatch: %v", err)
	}
	if err := s.LogBatch(ctx, info.RunID, p, nil, nil); err == nil {
		t.Fatal("expected duplicate param error")
	}
}

func TestLogBatchRejectsFinishedRun(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	info := createRun(t, s, "r", time.Now())

	if err := s.UpdateRun(ctx, info.RunID, tracking.StatusFailed, time.Now()); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	err := s.LogBatch(ctx, info.RunID, nil, nil, []tracking.Tag{{Key: "k", Value: "v"}})
	if !errors.Is(err, tracking.ErrRunClosed) {
		t.Fatalf("expected ErrRunClosed, got %v", err)
	}
}

func TestUnknownRun(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, tracking.ErrNotFound) {
		t.Errorf("GetRun: expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateRun(ctx, "missing", tracking.StatusFinished, time.Now()); !errors.Is(err, tracking.ErrNotFound) {
		t.Errorf("UpdateRun: expected ErrNotFound, got %v", err)
	}
	if err := s.LogBatch(ctx, "missing", nil, nil, nil); !errors.Is(err, tracking.ErrNotFound) {
		t.Errorf("LogBatch: expected ErrNotFound, got %v", err)
	}
	if _, err := s.CreateRun(ctx, "999", "r", time.Now(), nil); !errors.Is(err, tracking.ErrNotFound) {
		t.Errorf("CreateRun: expected ErrNotFound, got %v", err)
	}
}

func TestArtifactsAreCopied(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	info := createRun(t, s, "r", time.Now())

	src := filepath.Join(t.TempDir(), "confusion_matrix.png")
	if err := os.WriteFile(src, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.UploadArtifact(ctx, info, src, "plots/confusion_matrix.png"); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}

	got, err := s.ListArtifacts(ctx, info.RunID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"plots/confusion_matrix.png"}) {
		t.Fatalf("unexpected artifacts %v", got)
	}
}

func TestRegisterModelVersionIncrements(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	first := createRun(t, s, "a", time.Now())
	second := createRun(t, s, "b", time.Now())

	v1, err := s.RegisterModelVersion(ctx, "iris-lr", first.ArtifactURI+"/model", first.RunID)
	if err != nil {
		t.Fatalf("RegisterModelVersion: %v", err)
	}
	v2, err := s.RegisterModelVersion(ctx, "iris-lr", second.ArtifactURI+"/model", second.RunID)
	if err != nil {
		t.Fatalf("RegisterModelVersion: %v", err)
	}
	if v1.Version != "1" || v2.Version != "2" {
		t.Fatalf("expected versions 1 and 2, got %s and %s", v1.Version, v2.Version)
	}

	all, err := s.ListModelVersions(ctx, "")
	if err != nil {
		t.Fatalf("ListModelVersions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(all))
	}
	mine, err := s.ListModelVersions(ctx, second.RunID)
	if err != nil {
		t.Fatalf("ListModelVersions: %v", err)
	}
	if len(mine) != 1 || mine[0].Version != "2" {
		t.Fatalf("unexpected versions for run: %+v", mine)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	createRun(t, s, "old", base)
	createRun(t, s, "mid", base.Add(500*time.Millisecond))
	createRun(t, s, "new", base.Add(time.Second))

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Info.RunName != "new" || runs[1].Info.RunName != "mid" {
		t.Fatalf("unexpected order: %+v", runs)
	}
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewStore(":memory:", t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	info := createRun(t, s, "r", time.Now())
	if _, err := s.GetRun(context.Background(), info.RunID); err != nil {
		t.Fatalf("GetRun: %v", err)
	}
}

func TestOpenReadsWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mlflow.db")
	w, err := NewStore(path, filepath.Join(dir, "mlartifacts"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	info := createRun(t, w, "lr", time.Now())
	w.Close()

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	rec, err := r.GetRun(ctx, info.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Info.RunName != "lr" {
		t.Fatalf("unexpected run %+v", rec.Info)
	}
	if _, err := r.GetOrCreateExperiment(ctx, "another"); err == nil {
		t.Fatal("expected writes to fail on a read-only store")
	}
}

func TestOpenRejectsForeignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("CREATE TABLE notes (body TEXT)"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for a database without the tracking schema")
	}

	db, err = sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected the database to keep only its own table, found %d tables", n)
	}
}
