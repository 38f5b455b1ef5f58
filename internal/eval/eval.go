package eval

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// #region evaluate
// Evaluate predicts X with model and scores the predictions against y.
// classNames fixes the number of classes; every label and prediction must
// index into it.
func Evaluate(model Predictor, X [][]float64, y []int, classNames []string) (Evaluation, error) {
	if len(X) == 0 {
		return Evaluation{}, fmt.Errorf("evaluate: empty test set")
	}
	if len(X) != len(y) {
		return Evaluation{}, fmt.Errorf("evaluate: %d rows and %d labels", len(X), len(y))
	}
	k := len(classNames)

	pred := model.Predict(X)
	if len(pred) != len(y) {
		return Evaluation{}, fmt.Errorf("evaluate: model returned %d predictions for %d rows", len(pred), len(y))
	}
	for i := range y {
		if y[i] < 0 || y[i] >= k {
			return Evaluation{}, fmt.Errorf("evaluate: label %d at row %d outside [0,%d)", y[i], i, k)
		}
		if pred[i] < 0 || pred[i] >= k {
			return Evaluation{}, fmt.Errorf("evaluate: prediction %d at row %d outside [0,%d)", pred[i], i, k)
		}
	}

	cm := ConfusionMatrix(y, pred, k)
	precision, recall := WeightedPrecisionRecall(cm)

	return Evaluation{
		Metrics: map[string]float64{
			MetricAccuracy:          Accuracy(y, pred),
			MetricPrecisionWeighted: precision,
			MetricRecallWeighted:    recall,
		},
		Predictions: pred,
		Confusion:   cm,
		Report:      PerClass(cm, classNames),
	}, nil
}

// #endregion evaluate

// #region metrics
// Accuracy is the fraction of positions where yPred equals yTrue.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	hit := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(yTrue))
}

// ConfusionMatrix counts (true, predicted) pairs into a k x k grid.
func ConfusionMatrix(yTrue, yPred []int, k int) [][]int {
	cm := make([][]int, k)
	for i := range cm {
		cm[i] = make([]int, k)
	}
	for i := range yTrue {
		cm[yTrue[i]][yPred[i]]++
	}
	return cm
}

// WeightedPrecisionRecall averages per-class precision and recall weighted
// by each class's support.
func WeightedPrecisionRecall(cm [][]int) (precision, recall float64) {
	total := 0
	for c := range cm {
		support, predicted, tp := counts(cm, c)
		if support == 0 {
			continue
		}
		total += support
		precision += float64(support) * ratio(tp, predicted)
		recall += float64(support) * ratio(tp, support)
	}
	if total == 0 {
		return 0, 0
	}
	return precision / float64(total), recall / float64(total)
}

// PerClass builds one report row per class.
func PerClass(cm [][]int, classNames []string) []ClassReport {
	out := make([]ClassReport, len(cm))
	for c := range cm {
		support, predicted, tp := counts(cm, c)
		p := ratio(tp, predicted)
		r := ratio(tp, support)
		f1 := 0.0
		if p+r > 0 {
			f1 = 2 * p * r / (p + r)
		}
		name := fmt.Sprintf("%d", c)
		if c < len(classNames) {
			name = classNames[c]
		}
		out[c] = ClassReport{Class: name, Precision: p, Recall: r, F1: f1, Support: support}
	}
	return out
}

// #endregion metrics

// #region report
// FormatReport renders the per-class report as an aligned table.
func FormatReport(report []ClassReport) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "\tprecision\trecall\tf1-score\tsupport\t")
	for _, r := range report {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", r.Class, r.Precision, r.Recall, r.F1, r.Support)
	}
	w.Flush()
	return b.String()
}

// #endregion report

// #region helpers
// counts returns the row sum, column sum and diagonal entry for class c.
func counts(cm [][]int, c int) (support, predicted, tp int) {
	for j := range cm[c] {
		support += cm[c][j]
	}
	for i := range cm {
		predicted += cm[i][c]
	}
	return support, predicted, cm[c][c]
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// #endregion helpers
