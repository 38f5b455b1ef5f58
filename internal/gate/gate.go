package gate

import (
	"fmt"
	"log"
	"math"
)

// #region gate
// Gate compares a run's accuracy against a fixed threshold.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate applies the configured threshold to accuracy.
func (g *Gate) Evaluate(accuracy float64) Decision {
	d := Check(accuracy, g.config.MinAccuracy)
	log.Printf("[GATE] %s: %s", d.Status(), d.Reason)
	return d
}

// #endregion gate

// #region check
// Check passes when accuracy >= required. A NaN accuracy never passes.
func Check(accuracy, required float64) Decision {
	if math.IsNaN(accuracy) || accuracy < required {
		return Decision{
			Passed:   false,
			Accuracy: accuracy,
			Required: required,
			Reason:   fmt.Sprintf("accuracy %.4f below threshold %.4f", accuracy, required),
		}
	}
	return Decision{
		Passed:   true,
		Accuracy: accuracy,
		Required: required,
		Reason:   fmt.Sprintf("accuracy %.4f meets threshold %.4f", accuracy, required),
	}
}

// #endregion check
