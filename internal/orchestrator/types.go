package orchestrator

// #region imports
import (
	"github.com/danielpatrickdp/irisgate/internal/gate"
	"github.com/danielpatrickdp/irisgate/internal/logreg"
	"github.com/danielpatrickdp/irisgate/internal/tracking"
)

// #endregion

// #region run-tags

// Tags written by the orchestrator in addition to the recorder's own.
const (
	TagGateStatus      = "quality_gate.status"
	TagGateMinAccuracy = "quality_gate.min_accuracy"
	TagConfusionMatrix = "plots.confusion_matrix"
	TagConverged       = "training.converged"

	// PlotsFolder is the artifact folder for rendered images.
	PlotsFolder = "plots"
)

// #endregion

// #region collaborators

// Model is a fitted classifier that can be evaluated and packaged.
type Model interface {
	tracking.Model
}

// Trainer fits a model on the training partition.
type Trainer func(X [][]float64, y []int, p logreg.Params) (Model, error)

// Renderer draws the confusion matrix into dir and returns the image path.
type Renderer func(dir string, yTrue, yPred []int, classNames []string) (string, error)

// #endregion

// #region result

// Result summarizes a completed run. It is returned alongside a
// *gate.Failure when the quality gate rejects the model.
type Result struct {
	RunID        string
	ExperimentID string
	Accuracy     float64
	Metrics      map[string]float64
	ModelVersion tracking.ModelVersion
	ArtifactPath string // plot artifact path, empty when rendering failed
	Decision     gate.Decision
}

// #endregion
