package dataset

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"strconv"
)

//go:embed iris.csv
var irisCSV []byte

// #region iris
// Iris is the classic three-species flower dataset: 150 examples, four
// measurements in centimetres, 50 examples per class.
type Iris struct{}

// Load parses the embedded CSV. Class indices follow first appearance.
func (Iris) Load() (Dataset, error) {
	return ParseCSV(irisCSV)
}

// #endregion iris

// #region parse
// ParseCSV reads a table whose header names the feature columns followed by
// a final label column. Labels are mapped to indices in order of appearance.
func ParseCSV(data []byte) (Dataset, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return Dataset{}, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 2 {
		return Dataset{}, fmt.Errorf("read csv: need a header and at least one row")
	}

	header := records[0]
	if len(header) < 2 {
		return Dataset{}, fmt.Errorf("read csv: need at least one feature and a label column")
	}
	nf := len(header) - 1

	ds := Dataset{
		FeatureNames: append([]string(nil), header[:nf]...),
		Features:     make([][]float64, 0, len(records)-1),
		Labels:       make([]int, 0, len(records)-1),
	}
	classIndex := make(map[string]int)

	for line, rec := range records[1:] {
		row := make([]float64, nf)
		for j := 0; j < nf; j++ {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("read csv: line %d column %s: %w", line+2, header[j], err)
			}
			row[j] = v
		}
		name := rec[nf]
		idx, ok := classIndex[name]
		if !ok {
			idx = len(ds.ClassNames)
			classIndex[name] = idx
			ds.ClassNames = append(ds.ClassNames, name)
		}
		ds.Features = append(ds.Features, row)
		ds.Labels = append(ds.Labels, idx)
	}

	if err := ds.Validate(); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// #endregion parse
