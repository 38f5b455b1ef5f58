package gate

import "fmt"

// #region gate-config
// GateConfig holds the acceptance threshold.
type GateConfig struct {
	MinAccuracy float64 // inclusive lower bound on test accuracy
}

// DefaultGateConfig returns the CLI default threshold.
func DefaultGateConfig() GateConfig {
	return GateConfig{MinAccuracy: 0.8}
}

// #endregion gate-config

// #region decision
// Decision is the output of the gate check.
type Decision struct {
	Passed   bool
	Accuracy float64
	Required float64
	Reason   string
}

// Status is the tag value recorded on the run.
func (d Decision) Status() string {
	if d.Passed {
		return "passed"
	}
	return "failed"
}

// Err returns nil when the gate passed and a *Failure otherwise.
func (d Decision) Err() error {
	if d.Passed {
		return nil
	}
	return &Failure{Accuracy: d.Accuracy, Required: d.Required}
}

// #endregion decision

// #region failure
// Failure reports a model that scored below the required accuracy.
type Failure struct {
	Accuracy float64
	Required float64
}

func (f *Failure) Error() string {
	return fmt.Sprintf("Accuracy %.4f < threshold %.4f (quality gate failed)", f.Accuracy, f.Required)
}

// #endregion failure
