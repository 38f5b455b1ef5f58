package logreg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region marshal
// MarshalBinary encodes the model as a protobuf Struct. Coefficients are
// stored row-major under "coef".
func (m *Model) MarshalBinary() ([]byte, error) {
	k, d := m.Coef.Dims()
	coef := make([]interface{}, 0, k*d)
	for i := 0; i < k; i++ {
		for _, v := range m.Coef.RawRowView(i) {
			coef = append(coef, v)
		}
	}
	intercept := make([]interface{}, len(m.Intercept))
	for i, v := range m.Intercept {
		intercept[i] = v
	}

	s, err := structpb.NewStruct(map[string]interface{}{
		"kind":       Kind,
		"n_classes":  k,
		"n_features": d,
		"coef":       coef,
		"intercept":  intercept,
		"C":          m.Params.C,
		"max_iter":   m.Params.MaxIter,
		"seed":       m.Params.Seed,
		"converged":  m.Info.Converged,
		"status":     m.Info.Status,
		"iterations": m.Info.Iterations,
	})
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

// #endregion marshal

// #region unmarshal
// Unmarshal decodes a model written by MarshalBinary.
func Unmarshal(b []byte) (*Model, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	f := s.GetFields()

	if kind := f["kind"].GetStringValue(); kind != Kind {
		return nil, fmt.Errorf("decode model: kind %q, want %q", kind, Kind)
	}
	k := int(f["n_classes"].GetNumberValue())
	d := int(f["n_features"].GetNumberValue())
	coef := numbers(f["coef"])
	intercept := numbers(f["intercept"])
	if k <= 0 || d <= 0 || len(coef) != k*d || len(intercept) != k {
		return nil, fmt.Errorf("decode model: inconsistent shape %dx%d with %d coefficients and %d intercepts",
			k, d, len(coef), len(intercept))
	}

	return &Model{
		Coef:      mat.NewDense(k, d, coef),
		Intercept: intercept,
		Params: Params{
			C:       f["C"].GetNumberValue(),
			MaxIter: int(f["max_iter"].GetNumberValue()),
			Seed:    int64(f["seed"].GetNumberValue()),
			Classes: k,
		},
		Info: FitInfo{
			Converged:  f["converged"].GetBoolValue(),
			Status:     f["status"].GetStringValue(),
			Iterations: int(f["iterations"].GetNumberValue()),
		},
	}, nil
}

func numbers(v *structpb.Value) []float64 {
	vals := v.GetListValue().GetValues()
	out := make([]float64, len(vals))
	for i, x := range vals {
		out[i] = x.GetNumberValue()
	}
	return out
}

// #endregion unmarshal
