package sqlstore

import "github.com/danielpatrickdp/irisgate/internal/tracking"

// #region run-record
// RunRecord is a run with everything logged to it.
type RunRecord struct {
	Info    tracking.RunInfo
	Params  map[string]string
	Metrics map[string]float64 // latest value per key
	Tags    map[string]string
}

// Metric returns the latest value of key and whether it was logged.
func (r RunRecord) Metric(key string) (float64, bool) {
	v, ok := r.Metrics[key]
	return v, ok
}

// #endregion run-record
