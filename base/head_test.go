package base_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/hed/base"
)

func TestUpsample2x(t *testing.T) {
	x := ts.MustOfSlice([]float32{1, 2, 3, 4}).MustView([]int64{1, 1, 2, 2}, true)
	defer x.MustDrop()

	y := base.Upsample2x(x, false)
	defer y.MustDrop()

	// half-pixel centers, edges clamped
	want := []float64{
		1, 1.25, 1.75, 2,
		1.5, 1.75, 2.25, 2.5,
		2.5, 2.75, 3.25, 3.5,
		3, 3.25, 3.75, 4,
	}
	assert.Equal(t, []int64{1, 1, 4, 4}, y.MustSize())
	got := y.Float64Values()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6, "index %d", i)
	}
}

func TestNewUpsampler(t *testing.T) {
	for _, f := range []int64{1, 2, 4, 8, 16} {
		_, err := base.NewUpsampler(f)
		assert.NoError(t, err, "factor %d", f)
	}
	for _, f := range []int64{0, -2, 3, 6, 12} {
		_, err := base.NewUpsampler(f)
		assert.Error(t, err, "factor %d", f)
	}

	u, err := base.NewUpsampler(1)
	require.NoError(t, err)
	assert.IsType(t, base.Identity{}, u)
}

func TestBilinearUpsampler(t *testing.T) {
	x := ts.MustOfSlice([]float32{1, 2, 3, 4}).MustView([]int64{1, 1, 2, 2}, true)
	defer x.MustDrop()

	u, err := base.NewUpsampler(4)
	require.NoError(t, err)
	y := u.ForwardT(x, false)
	defer y.MustDrop()
	assert.Equal(t, []int64{1, 1, 8, 8}, y.MustSize())

	// two 2x steps, input untouched
	step := base.Upsample2x(x, false)
	twice := base.Upsample2x(step, true)
	defer twice.MustDrop()
	assert.Equal(t, twice.Float64Values(), y.Float64Values())
	assert.Equal(t, []float64{1, 2, 3, 4}, x.Float64Values())
}

func TestSideOutputHead_Up16(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	head := base.NewSideOutputHead(vs.Root(), nil, 4, 16)

	ts.NoGrad(func() {
		head.Conv.Ws.MustFill_(ts.FloatScalar(1.0))
	})

	x := ts.MustOnes([]int64{1, 4, 2, 3}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	var y *ts.Tensor
	ts.NoGrad(func() {
		y = head.ForwardT(x, false)
	})
	defer y.MustDrop()

	assert.Equal(t, []int64{1, 1, 32, 48}, y.MustSize())
	// constant map: sum of 4 input channels, unchanged by interpolation
	for _, v := range y.Float64Values() {
		require.InDelta(t, 4.0, v, 1e-5)
	}
}

func TestSideOutputHead_Up1(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	head := base.NewSideOutputHead(vs.Root(), nil, 2, 1)

	ts.NoGrad(func() {
		head.Conv.Bs.MustFill_(ts.FloatScalar(0.5))
	})

	x := ts.MustRandn([]int64{1, 2, 5, 7}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	var y *ts.Tensor
	ts.NoGrad(func() {
		y = head.ForwardT(x, false)
	})
	defer y.MustDrop()

	assert.Equal(t, []int64{1, 1, 5, 7}, y.MustSize())
	for _, v := range y.Float64Values() {
		require.InDelta(t, 0.5, v, 1e-7)
	}
}

func TestNewSideOutputHead_BadFactor(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	assert.Panics(t, func() { base.NewSideOutputHead(vs.Root(), nil, 2, 6) })
	assert.Panics(t, func() { base.NewSideOutputHead(vs.Root(), nil, 2, 0) })
}

func TestIdentity_KeepsGradient(t *testing.T) {
	x := ts.MustOnes([]int64{2, 2}, gotch.Float, gotch.CPU).MustSetRequiresGrad(true, true)
	defer x.MustDrop()

	y := base.Identity{}.ForwardT(x, true)
	loss := y.MustSum(gotch.Float, true)
	loss.MustBackward()
	loss.MustDrop()

	g := x.MustGrad(false)
	defer g.MustDrop()
	assert.Equal(t, []float64{1, 1, 1, 1}, g.Float64Values())
}
