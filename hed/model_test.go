package hed_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/hed/hed"
)

func randImage(batch, h, w int64) *ts.Tensor {
	return ts.MustRand([]int64{batch, h, w, 3}, gotch.Float, gotch.CPU).MustMul1(ts.FloatScalar(255), true)
}

func TestHED_OutputShapes(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := hed.New(vs.Root(), hed.Config{})

	sizes := [][2]int64{{32, 32}, {48, 64}}
	for _, hw := range sizes {
		image := randImage(2, hw[0], hw[1])
		ts.NoGrad(func() {
			out := net.ForwardT(image, false)
			require.Len(t, out.Sides, 5)
			want := []int64{2, hw[0], hw[1], 1}
			for i, s := range out.Sides {
				assert.Equal(t, want, s.MustSize(), "side output %d", i+1)
			}
			assert.Equal(t, want, out.Fused.MustSize())
			out.Drop()
		})
		image.MustDrop()
	}
}

func TestHED_Stages(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := hed.New(vs.Root(), hed.Config{})

	stages := net.Stages()
	require.Len(t, stages, net.NumSides())
	ups := make([]int64, len(stages))
	for i, s := range stages {
		ups[i] = s.Up
	}
	assert.Equal(t, []int64{1, 2, 4, 8, 16}, ups)
}

func TestHED_ZeroInitLogits(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := hed.New(vs.Root(), hed.Config{})
	image := randImage(1, 32, 32)
	defer image.MustDrop()

	ts.NoGrad(func() {
		out := net.ForwardT(image, false)
		defer out.Drop()

		for i, s := range out.Sides {
			for _, v := range s.Float64Values() {
				require.Equal(t, 0.0, v, "side output %d", i+1)
			}
		}
		prob := out.Output2()
		for _, v := range prob.Float64Values() {
			require.InDelta(t, 0.5, v, 1e-7)
		}
		prob.MustDrop()
	})
}

func TestHED_FuseInit(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := hed.New(vs.Root(), hed.Config{})

	var sides []*ts.Tensor
	for i := 0; i < net.NumSides(); i++ {
		sides = append(sides, ts.MustRandn([]int64{1, 1, 16, 16}, gotch.Float, gotch.CPU))
	}

	ts.NoGrad(func() {
		fused := net.Fuse(sides, false)
		got := fused.Float64Values()
		deepest := sides[len(sides)-1].Float64Values()
		require.Len(t, got, len(deepest))
		for i := range got {
			assert.InDelta(t, hed.FuseInit*deepest[i], got[i], 1e-6)
		}
		fused.MustDrop()
	})

	for _, s := range sides {
		s.MustDrop()
	}
}

func TestHED_FuseAll(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := hed.New(vs.Root(), hed.Config{FuseAll: true})

	var sides []*ts.Tensor
	for i := 0; i < net.NumSides(); i++ {
		sides = append(sides, ts.MustOnes([]int64{1, 1, 4, 4}, gotch.Float, gotch.CPU))
	}

	ts.NoGrad(func() {
		fused := net.Fuse(sides, false)
		for _, v := range fused.Float64Values() {
			assert.InDelta(t, 5*hed.FuseInit, v, 1e-6)
		}
		fused.MustDrop()
	})
}

func TestHED_Weights(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := hed.New(vs.Root(), hed.Config{})

	// 13 trunk convs, 5 side projections, 1 fusion conv.
	weights := net.Weights()
	assert.Len(t, weights, 19)

	vars := vs.Variables()
	_, ok := vars["convfcweight.bias"]
	assert.False(t, ok, "fusion layer has no bias")
	for _, name := range []string{"conv1_1.weight", "conv5_3.weight", "branch3.convfc.weight", "branch3.convfc.bias", "convfcweight.weight"} {
		_, ok := vars[name]
		assert.True(t, ok, name)
	}

	fw := vars["convfcweight.weight"]
	assert.Equal(t, []int64{1, 1, 1, 1}, fw.MustSize())
	assert.InDelta(t, hed.FuseInit, fw.Float64Values()[0], 1e-7)
}

func TestHED_Probabilities(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := hed.New(vs.Root(), hed.Config{})
	image := randImage(1, 16, 16)
	defer image.MustDrop()

	ts.NoGrad(func() {
		out := net.ForwardT(image, false)
		defer out.Drop()
		for _, prob := range []*ts.Tensor{out.Output1(), out.Output2()} {
			for _, v := range prob.Float64Values() {
				assert.False(t, math.IsNaN(v))
				assert.True(t, v >= 0 && v <= 1)
			}
			prob.MustDrop()
		}
		assert.Len(t, out.Supervised(), 2)
	})
}
