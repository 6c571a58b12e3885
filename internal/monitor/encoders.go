package monitor

import (
	"math"
	"sort"
)

// LabelEncoder maps categorical labels to dense integer codes. Codes
// are assigned in sorted label order; labels never seen at fit time
// code as -1.
type LabelEncoder struct {
	Classes []string // sorted
}

// FitLabelEncoder builds an encoder over the distinct values in labels
func FitLabelEncoder(labels []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(labels))
	var classes []string
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			classes = append(classes, l)
		}
	}
	sort.Strings(classes)
	return &LabelEncoder{Classes: classes}
}

// Code returns the dense code for label, -1 when unseen
func (e *LabelEncoder) Code(label string) int {
	i := sort.SearchStrings(e.Classes, label)
	if i < len(e.Classes) && e.Classes[i] == label {
		return i
	}
	return -1
}

// Label is the inverse of Code, empty for out-of-range codes
func (e *LabelEncoder) Label(code int) string {
	if code < 0 || code >= len(e.Classes) {
		return ""
	}
	return e.Classes[code]
}

// StandardScaler centres and scales feature columns to zero mean and
// unit variance. Zero-variance columns pass through unscaled.
type StandardScaler struct {
	Means  []float64
	Scales []float64
}

// FitScaler computes per-column population statistics over X
func FitScaler(X [][]float64) *StandardScaler {
	if len(X) == 0 {
		return &StandardScaler{}
	}
	cols := len(X[0])
	means := make([]float64, cols)
	scales := make([]float64, cols)

	for _, row := range X {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(X))
	}

	for _, row := range X {
		for j, v := range row {
			d := v - means[j]
			scales[j] += d * d
		}
	}
	for j := range scales {
		scales[j] = math.Sqrt(scales[j] / float64(len(X)))
		if scales[j] == 0 {
			scales[j] = 1
		}
	}

	return &StandardScaler{Means: means, Scales: scales}
}

// Transform returns the scaled copy of one feature vector
func (s *StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(s.Means) != len(x) {
		copy(out, x)
		return out
	}
	for j, v := range x {
		out[j] = (v - s.Means[j]) / s.Scales[j]
	}
	return out
}

// TransformAll scales every row of X
func (s *StandardScaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}
