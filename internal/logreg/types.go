package logreg

// #region kind
// Kind names the model family in run parameters and model metadata.
const Kind = "LogisticRegression"

// #endregion kind

// #region params
// Params holds the training hyperparameters.
type Params struct {
	C       float64 // inverse L2 regularization strength, > 0
	MaxIter int     // L-BFGS major iteration cap, > 0
	Seed    int64
	Classes int // output classes; 0 means max(y)+1
}

// DefaultParams returns the CLI defaults.
func DefaultParams() Params {
	return Params{
		C:       1.0,
		MaxIter: 200,
		Seed:    42,
	}
}

// #endregion params

// #region fit-info
// FitInfo describes how the optimizer finished.
type FitInfo struct {
	Converged  bool
	Status     string
	Iterations int
	Loss       float64
}

// #endregion fit-info
