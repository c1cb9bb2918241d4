package metric_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/hed/metric"
)

func TestBeta(t *testing.T) {
	tests := []struct {
		name       string
		neg, total float64
		want       float64
	}{
		{"balanced", 50, 100, 0.5},
		{"sparse edges", 90, 100, 0.9},
		{"all foreground", 0, 100, 0},
		{"all background", 100, 100, 1},
		{"empty", 0, 0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, metric.Beta(tt.neg, tt.total), 1e-12)
		})
	}
}

// softplus(x) = log(1 + exp(x))
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func TestClassBalancedBCE(t *testing.T) {
	logits := []float32{2, -1, 0.5, -3}
	labels := []float32{1, 0, 0, 0}

	logit := ts.MustOfSlice(logits).MustView([]int64{1, 2, 2, 1}, true)
	label := ts.MustOfSlice(labels).MustView([]int64{1, 2, 2, 1}, true)

	loss := metric.ClassBalancedBCE(logit, label)
	got := loss.Float64Values()[0]

	beta := 0.75 // 3 background pixels out of 4
	var want float64
	for i, x := range logits {
		xf := float64(x)
		if labels[i] == 1 {
			want += beta * softplus(-xf)
		} else {
			want += (1 - beta) * softplus(xf)
		}
	}
	want /= float64(len(logits))

	assert.InDelta(t, want, got, 1e-5)
}

func TestClassBalancedBCE_PerExample(t *testing.T) {
	// Two examples with different balance must use their own beta.
	logits := []float32{1, 1, 1, 1, 1, 1, 1, 1}
	labels := []float32{1, 0, 0, 0, 1, 1, 1, 0}

	logit := ts.MustOfSlice(logits).MustView([]int64{2, 2, 2, 1}, true)
	label := ts.MustOfSlice(labels).MustView([]int64{2, 2, 2, 1}, true)

	got := metric.ClassBalancedBCE(logit, label).Float64Values()[0]

	pos, neg := softplus(-1), softplus(1)
	// example 1: beta = 0.75; example 2: beta = 0.25
	ex1 := 0.75*pos + 3*0.25*neg
	ex2 := 3*0.25*pos + 0.75*neg
	want := (ex1 + ex2) / 8

	assert.InDelta(t, want, got, 1e-5)
}

func TestClassBalancedBCE_Degenerate(t *testing.T) {
	tests := []struct {
		name  string
		label float32
	}{
		{"all foreground", 1},
		{"all background", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logit := ts.MustRandn([]int64{2, 16, 16, 1}, gotch.Float, gotch.CPU).MustMul1(ts.FloatScalar(10), true)
			label := ts.MustOnes([]int64{2, 16, 16, 1}, gotch.Float, gotch.CPU).MustMul1(ts.FloatScalar(float64(tt.label)), true)

			got := metric.ClassBalancedBCE(logit, label).Float64Values()[0]
			require.False(t, math.IsNaN(got))
			require.False(t, math.IsInf(got, 0))
			assert.Equal(t, 0.0, got)

			logit.MustDrop()
			label.MustDrop()
		})
	}
}

func TestBCE(t *testing.T) {
	// zero logits: log(2) whatever the label
	logit := ts.MustZeros([]int64{1, 4, 4, 1}, gotch.Float, gotch.CPU)
	label := ts.MustOnes([]int64{1, 4, 4, 1}, gotch.Float, gotch.CPU)
	assert.InDelta(t, math.Log(2), metric.BCE(logit, label).Float64Values()[0], 1e-6)
	logit.MustDrop()
	label.MustDrop()

	logits := []float32{2, -1, 0.5, -3}
	labels := []float32{1, 0, 0, 0}
	logit = ts.MustOfSlice(logits).MustView([]int64{1, 2, 2, 1}, true)
	label = ts.MustOfSlice(labels).MustView([]int64{1, 2, 2, 1}, true)

	want := (softplus(-2) + softplus(-1) + softplus(0.5) + softplus(-3)) / 4
	assert.InDelta(t, want, metric.BCE(logit, label).Float64Values()[0], 1e-5)
	// label is not consumed
	assert.Equal(t, []float64{1, 0, 0, 0}, label.Float64Values())
}

func TestL2Cost(t *testing.T) {
	w1 := ts.MustOfSlice([]float32{1, 2}).MustView([]int64{1, 2}, true)
	w2 := ts.MustOfSlice([]float32{3}).MustView([]int64{1, 1}, true)

	cost := metric.L2Cost([]*ts.Tensor{w1, w2})
	assert.InDelta(t, 7.0, cost.Float64Values()[0], 1e-6) // (1+4+9)/2
}

func TestTrainError(t *testing.T) {
	prob := ts.MustOfSlice([]float32{0.9, 0.2, 0.6, 0.1})
	label := ts.MustOfSlice([]int64{1, 0, 0, 1})

	assert.InDelta(t, 0.5, metric.TrainError(prob, label), 1e-9)
}
