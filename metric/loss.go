package metric

import (
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// Beta returns the class-balance factor of one example: the fraction of
// background pixels. An empty example gets 0.5.
func Beta(neg, total float64) float64 {
	if total <= 0 {
		return 0.5
	}

	return neg / total
}

// ClassBalancedBCE computes sigmoid cross entropy from logits where every
// foreground pixel is weighted by beta and every background pixel by 1-beta.
// Beta is computed per example from the label.
//
// logit and label must have the same shape with batch as first dimension.
// Label values are 0 or 1. Result is a scalar (mean over all pixels).
//
// NOTE. an example without background (beta=0) or without foreground
// (beta=1) gets zero weight on every pixel, so it contributes a zero loss
// rather than NaN.
func ClassBalancedBCE(logit, label *ts.Tensor) *ts.Tensor {
	y := label.MustTotype(gotch.Float, false)
	size := y.MustSize()
	batch := size[0]
	var pixels int64 = 1
	for _, d := range size[1:] {
		pixels *= d
	}

	dims := make([]int64, 0, len(size)-1)
	for d := 1; d < len(size); d++ {
		dims = append(dims, int64(d))
	}
	posTs := y.MustSum1(dims, false, gotch.Double, false)
	pos := posTs.Float64Values()
	posTs.MustDrop()

	betas := make([]float32, batch)
	for i, p := range pos {
		betas[i] = float32(Beta(float64(pixels)-p, float64(pixels)))
	}
	view := make([]int64, len(size))
	view[0] = batch
	for d := 1; d < len(view); d++ {
		view[d] = 1
	}
	beta := ts.MustOfSlice(betas).MustView(view, true).MustTo(logit.MustDevice(), true)

	// w = y*beta + (1-y)*(1-beta) = (1-beta) + y*(2*beta-1)
	slope := beta.MustMul1(ts.FloatScalar(2), false).MustAdd1(ts.FloatScalar(-1), true)
	offset := beta.MustMul1(ts.FloatScalar(-1), false).MustAdd1(ts.FloatScalar(1), true)
	beta.MustDrop()
	w := y.MustMul(slope, false).MustAdd(offset, true)
	slope.MustDrop()
	offset.MustDrop()

	// NOTE: reduction: none = 0; mean = 1; sum = 2.
	// ref. https://pytorch.org/docs/master/nn.functional.html#torch.nn.functional.binary_cross_entropy_with_logits
	loss := logit.MustBinaryCrossEntropyWithLogits(y, w, ts.NewTensor(), 1, false)
	y.MustDrop()
	w.MustDrop()

	return loss
}

// BCE is the unweighted sigmoid cross entropy from logits, mean over all
// pixels. Reported next to the class-balanced cost at validation.
func BCE(logit, label *ts.Tensor) *ts.Tensor {
	y := label.MustTotype(gotch.Float, false)
	loss := logit.MustBinaryCrossEntropyWithLogits(y, ts.NewTensor(), ts.NewTensor(), 1, false)
	y.MustDrop()

	return loss
}

// L2Cost returns sum(w^2)/2 over all given tensors.
func L2Cost(weights []*ts.Tensor) *ts.Tensor {
	if len(weights) == 0 {
		return ts.MustZeros([]int64{}, gotch.Float, gotch.CPU)
	}

	var cost *ts.Tensor
	for _, w := range weights {
		sq := w.MustMul(w, false).MustSum(gotch.Float, true)
		if cost == nil {
			cost = sq
			continue
		}
		cost = cost.MustAdd(sq, true)
		sq.MustDrop()
	}

	return cost.MustMul1(ts.FloatScalar(0.5), true)
}

// TrainError is the fraction of pixels whose thresholded probability (> 0.5)
// differs from the label.
func TrainError(prob, label *ts.Tensor) float64 {
	pred := prob.MustGt(ts.FloatScalar(0.5), false).MustTotype(gotch.Float, true)
	y := label.MustTotype(gotch.Float, false)
	wrong := pred.MustSub(y, true).MustAbs(true).MustMean(gotch.Double, true)
	y.MustDrop()
	retVal := wrong.Float64Values()[0]
	wrong.MustDrop()

	return retVal
}
