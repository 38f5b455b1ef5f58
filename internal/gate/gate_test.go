package gate

import (
	"errors"
	"math"
	"testing"
)

func TestCheckPassesAtThreshold(t *testing.T) {
	d := Check(0.8, 0.8)
	if !d.Passed {
		t.Fatalf("expected pass at equality, got %s", d.Reason)
	}
	if d.Err() != nil {
		t.Fatalf("expected nil error, got %v", d.Err())
	}
	if d.Status() != "passed" {
		t.Fatalf("expected status passed, got %s", d.Status())
	}
}

func TestCheckFailsBelowThreshold(t *testing.T) {
	d := Check(0.90, 0.95)
	if d.Passed {
		t.Fatal("expected failure for 0.90 < 0.95")
	}

	err := d.Err()
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if f.Accuracy != 0.90 || f.Required != 0.95 {
		t.Fatalf("unexpected failure values %+v", f)
	}
	want := "Accuracy 0.9000 < threshold 0.9500 (quality gate failed)"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestCheckNaNFails(t *testing.T) {
	if Check(math.NaN(), 0).Passed {
		t.Fatal("NaN accuracy must not pass")
	}
}

func TestGateUsesConfiguredThreshold(t *testing.T) {
	g := NewGate(GateConfig{MinAccuracy: 0.5})
	if !g.Evaluate(0.5).Passed {
		t.Fatal("expected pass at configured threshold")
	}
	if g.Evaluate(0.4999).Passed {
		t.Fatal("expected fail below configured threshold")
	}
}

func TestDefaultGateConfig(t *testing.T) {
	if DefaultGateConfig().MinAccuracy != 0.8 {
		t.Fatalf("unexpected default %v", DefaultGateConfig().MinAccuracy)
	}
}
