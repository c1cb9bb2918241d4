package metric

import (
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// DiceCoeff measures overlap between thresholded prediction and target.
// Ref. https://github.com/pytorch/pytorch/issues/1249
// http://campar.in.tum.de/pub/milletari2016Vnet/milletari2016Vnet.pdf
func DiceCoeff(input, target *ts.Tensor) float64 {
	overlap, pSum, tSum := overlapCounts(input, target)

	return (2 * overlap) / (pSum + tSum + 0.001)
}

// IoU is intersection over union of thresholded prediction and target.
func IoU(input, target *ts.Tensor) float64 {
	overlap, pSum, tSum := overlapCounts(input, target)
	union := pSum + tSum - overlap
	if union == 0 {
		return 1
	}

	return overlap / union
}

func overlapCounts(input, target *ts.Tensor) (overlap, pSum, tSum float64) {
	// Flatten
	iflat := input.MustReshape([]int64{-1}, false)
	tflat := target.MustReshape([]int64{-1}, false)
	p := iflat.MustGt(ts.FloatScalar(Threshold), true).MustTotype(gotch.Double, true)
	t := tflat.MustGe(ts.FloatScalar(Threshold), true).MustTotype(gotch.Double, true)
	ptMul := p.MustMul(t, false)
	overlap = ptMul.MustSum(gotch.Double, true).Float64Values()[0]
	pSum = p.MustSum(gotch.Double, true).Float64Values()[0]
	tSum = t.MustSum(gotch.Double, true).Float64Values()[0]

	return overlap, pSum, tSum
}
