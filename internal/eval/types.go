package eval

// #region metric-names
// Metric keys logged for every run.
const (
	MetricAccuracy          = "accuracy"
	MetricPrecisionWeighted = "precision_weighted"
	MetricRecallWeighted    = "recall_weighted"
)

// #endregion metric-names

// #region predictor
// Predictor is the part of a trained model the evaluator needs.
type Predictor interface {
	Predict(X [][]float64) []int
}

// #endregion predictor

// #region class-report
// ClassReport holds per-class scores. Precision is 0 when nothing was
// predicted for the class; recall is 0 when the class has no support.
type ClassReport struct {
	Class     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// #endregion class-report

// #region evaluation
// Evaluation is the output of scoring a model on held-out data.
type Evaluation struct {
	Metrics     map[string]float64
	Predictions []int
	Confusion   [][]int // rows = true class, columns = predicted class
	Report      []ClassReport
}

// Accuracy returns the accuracy metric.
func (e Evaluation) Accuracy() float64 {
	return e.Metrics[MetricAccuracy]
}

// #endregion evaluation
