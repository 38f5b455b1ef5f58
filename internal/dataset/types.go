package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// #region dataset
// Dataset is an immutable labelled feature table. Row i of Features is
// labelled by Labels[i], an index into ClassNames.
type Dataset struct {
	Features     [][]float64
	Labels       []int
	FeatureNames []string
	ClassNames   []string
}

// Len returns the number of examples.
func (d Dataset) Len() int {
	return len(d.Labels)
}

// NumClasses returns the size of the label enumeration.
func (d Dataset) NumClasses() int {
	return len(d.ClassNames)
}

// Validate checks the shape invariants of the dataset.
func (d Dataset) Validate() error {
	if len(d.Features) != len(d.Labels) {
		return fmt.Errorf("dataset: %d feature rows but %d labels", len(d.Features), len(d.Labels))
	}
	if len(d.ClassNames) == 0 {
		return fmt.Errorf("dataset: no classes")
	}
	width := len(d.FeatureNames)
	for i, row := range d.Features {
		if len(row) != width {
			return fmt.Errorf("dataset: row %d has %d features, want %d", i, len(row), width)
		}
		if l := d.Labels[i]; l < 0 || l >= len(d.ClassNames) {
			return fmt.Errorf("dataset: row %d has label %d outside [0,%d)", i, l, len(d.ClassNames))
		}
	}
	return nil
}

// ClassCounts returns the number of examples per class.
func (d Dataset) ClassCounts() []int {
	counts := make([]int, len(d.ClassNames))
	for _, l := range d.Labels {
		counts[l]++
	}
	return counts
}

// Matrix copies the features into a dense rows x features matrix.
func (d Dataset) Matrix() *mat.Dense {
	return Dense(d.Features)
}

// #endregion dataset

// #region provider
// Provider supplies a labelled dataset.
type Provider interface {
	Load() (Dataset, error)
}

// #endregion provider

// #region helpers
// Dense copies rows into a gonum matrix. All rows must have the same width.
func Dense(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return &mat.Dense{}
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data)
}

// #endregion helpers
