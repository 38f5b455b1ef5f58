package tracking

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLocalArtifactDir(t *testing.T) {
	cases := []struct {
		uri  string
		want string
		ok   bool
	}{
		{"file:///tmp/mlartifacts/1/abc/artifacts", "/tmp/mlartifacts/1/abc/artifacts", true},
		{"/var/runs/artifacts", "/var/runs/artifacts", true},
		{"mlflow-artifacts:/1/abc/artifacts", "", false},
		{"s3://bucket/1/abc", "", false},
	}
	for _, tc := range cases {
		got, ok := LocalArtifactDir(tc.uri)
		if ok != tc.ok || got != filepath.FromSlash(tc.want) {
			t.Errorf("%s: got (%q, %v), want (%q, %v)", tc.uri, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCopyAndListArtifacts(t *testing.T) {
	src := filepath.Join(t.TempDir(), "MLmodel")
	if err := os.WriteFile(src, []byte("flavors: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()

	if err := CopyArtifact(root, src, "model/MLmodel"); err != nil {
		t.Fatalf("CopyArtifact: %v", err)
	}
	if err := CopyArtifact(root, src, "plots/a.png"); err != nil {
		t.Fatalf("CopyArtifact: %v", err)
	}
	got, err := ListArtifacts(root)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"model/MLmodel", "plots/a.png"}) {
		t.Fatalf("unexpected listing %v", got)
	}
}

func TestCopyArtifactRejectsEscape(t *testing.T) {
	src := filepath.Join(t.TempDir(), "f")
	os.WriteFile(src, nil, 0o644)
	if err := CopyArtifact(t.TempDir(), src, "../outside"); err == nil {
		t.Fatal("expected error for path outside the root")
	}
}

func TestListArtifactsMissingRoot(t *testing.T) {
	got, err := ListArtifacts(filepath.Join(t.TempDir(), "absent"))
	if err != nil || got != nil {
		t.Fatalf("expected empty listing, got %v %v", got, err)
	}
}
