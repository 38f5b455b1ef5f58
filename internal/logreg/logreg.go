// Package logreg fits multinomial logistic regression with an L2 penalty.
package logreg

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/danielpatrickdp/irisgate/internal/dataset"
	"github.com/danielpatrickdp/irisgate/internal/failure"
)

const gradientTolerance = 1e-4

// #region model
// Model is a fitted linear softmax classifier.
type Model struct {
	Coef      *mat.Dense // classes x features
	Intercept []float64  // one per class
	Params    Params
	Info      FitInfo
}

// NumClasses returns the number of output classes.
func (m *Model) NumClasses() int {
	r, _ := m.Coef.Dims()
	return r
}

// NumFeatures returns the expected input width.
func (m *Model) NumFeatures() int {
	_, c := m.Coef.Dims()
	return c
}

// Kind returns the model family name.
func (m *Model) Kind() string {
	return Kind
}

// Scores returns the raw class scores X·Wᵀ + b, one row per example.
func (m *Model) Scores(X [][]float64) *mat.Dense {
	if len(X) == 0 {
		return &mat.Dense{}
	}
	var z mat.Dense
	z.Mul(dataset.Dense(X), m.Coef.T())
	for i := range X {
		floats.Add(z.RawRowView(i), m.Intercept)
	}
	return &z
}

// Predict returns the highest scoring class per example.
func (m *Model) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	if len(X) == 0 {
		return out
	}
	z := m.Scores(X)
	for i := range out {
		out[i] = floats.MaxIdx(z.RawRowView(i))
	}
	return out
}

// PredictProba returns softmax class probabilities per example.
func (m *Model) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	if len(X) == 0 {
		return out
	}
	z := m.Scores(X)
	for i := range out {
		row := append([]float64(nil), z.RawRowView(i)...)
		softmax(row)
		out[i] = row
	}
	return out
}

// #endregion model

// #region fit
// Fit trains a model on X (rows of equal width) and labels y in [0, k).
// k is p.Classes when set, so classes missing from y still get an output;
// otherwise it is max(y)+1. Hitting MaxIter is not an error: the best
// location found is returned with Info.Converged set to false.
func Fit(X [][]float64, y []int, p Params) (*Model, error) {
	if !(p.C > 0) || math.IsInf(p.C, 0) {
		return nil, failure.Invalidf("C must be a positive number, got %v", p.C)
	}
	if p.MaxIter <= 0 {
		return nil, failure.Invalidf("max_iter must be positive, got %d", p.MaxIter)
	}
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("fit: %d rows and %d labels", len(X), len(y))
	}

	k := 0
	for _, l := range y {
		if l < 0 {
			return nil, fmt.Errorf("fit: negative label %d", l)
		}
		if l+1 > k {
			k = l + 1
		}
	}
	if p.Classes > 0 {
		if k > p.Classes {
			return nil, fmt.Errorf("fit: label %d outside %d classes", k-1, p.Classes)
		}
		k = p.Classes
	}
	if k < 2 {
		return nil, fmt.Errorf("fit: need at least two classes, got %d", k)
	}
	p.Classes = k

	prob := newProblem(dataset.Dense(X), y, k, p.C)
	init := make([]float64, prob.dim())

	res, err := optimize.Minimize(optimize.Problem{
		Func: prob.Func,
		Grad: prob.Grad,
	}, init, &optimize.Settings{
		MajorIterations:   p.MaxIter,
		GradientThreshold: gradientTolerance,
	}, &optimize.LBFGS{})
	if res == nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	if floats.HasNaN(res.X) || math.IsInf(res.F, 0) {
		return nil, fmt.Errorf("fit: optimizer produced no usable location (status %s): %v", res.Status, err)
	}

	info := FitInfo{
		Converged:  err == nil && !res.Status.Early(),
		Status:     res.Status.String(),
		Iterations: res.MajorIterations,
		Loss:       res.F,
	}
	if !info.Converged {
		log.Printf("[TRAIN] warning: L-BFGS did not converge (status=%s iterations=%d err=%v); keeping best location",
			info.Status, info.Iterations, err)
	} else {
		log.Printf("[TRAIN] converged: status=%s iterations=%d loss=%.6f", info.Status, info.Iterations, info.Loss)
	}

	nf := prob.d
	coef := mat.NewDense(k, nf, append([]float64(nil), res.X[:k*nf]...))
	return &Model{
		Coef:      coef,
		Intercept: append([]float64(nil), res.X[k*nf:]...),
		Params:    p,
		Info:      info,
	}, nil
}

// #endregion fit

// #region objective
// problem is the penalized mean log-loss over a parameter vector laid out
// as k*d row-major weights followed by k intercepts.
type problem struct {
	x       *mat.Dense
	y       []int
	n, d, k int
	alpha   float64    // 1/(C*n)
	z       *mat.Dense // n x k scratch
}

func newProblem(x *mat.Dense, y []int, k int, c float64) *problem {
	n, d := x.Dims()
	return &problem{
		x:     x,
		y:     y,
		n:     n,
		d:     d,
		k:     k,
		alpha: 1 / (c * float64(n)),
		z:     mat.NewDense(n, k, nil),
	}
}

func (p *problem) dim() int {
	return p.k*p.d + p.k
}

// scores fills p.z with X·Wᵀ + b for theta.
func (p *problem) scores(theta []float64) {
	w := mat.NewDense(p.k, p.d, theta[:p.k*p.d])
	b := theta[p.k*p.d:]
	p.z.Mul(p.x, w.T())
	for i := 0; i < p.n; i++ {
		floats.Add(p.z.RawRowView(i), b)
	}
}

func (p *problem) Func(theta []float64) float64 {
	p.scores(theta)
	var loss float64
	for i := 0; i < p.n; i++ {
		row := p.z.RawRowView(i)
		loss += floats.LogSumExp(row) - row[p.y[i]]
	}
	w := theta[:p.k*p.d]
	return loss/float64(p.n) + 0.5*p.alpha*floats.Dot(w, w)
}

func (p *problem) Grad(grad, theta []float64) {
	p.scores(theta)
	// p.z becomes the residual softmax(z) - onehot(y).
	for i := 0; i < p.n; i++ {
		row := p.z.RawRowView(i)
		softmax(row)
		row[p.y[i]] -= 1
	}

	nw := p.k * p.d
	gw := mat.NewDense(p.k, p.d, grad[:nw])
	gw.Mul(p.z.T(), p.x)
	gw.Scale(1/float64(p.n), gw)
	floats.AddScaled(grad[:nw], p.alpha, theta[:nw])

	gb := grad[nw:]
	for c := range gb {
		gb[c] = 0
	}
	for i := 0; i < p.n; i++ {
		floats.Add(gb, p.z.RawRowView(i))
	}
	floats.Scale(1/float64(p.n), gb)
}

// #endregion objective

// #region helpers
// softmax replaces scores with probabilities in place.
func softmax(row []float64) {
	lse := floats.LogSumExp(row)
	for c, v := range row {
		row[c] = math.Exp(v - lse)
	}
}

// #endregion helpers
