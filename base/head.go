package base

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// SideOutputHead projects a feature map to a single-channel logit map and
// brings it back to input resolution.
type SideOutputHead struct {
	Conv     *nn.Conv2D
	Up       int64 // accumulated upsample factor, a power of 2
	upsample ts.ModuleT
}

// NewSideOutputHead creates a SideOutputHead whose 1x1 projection starts at zero.
// `up` is the downsample factor of the tapped feature map. It panics if up is
// not a positive power of 2.
func NewSideOutputHead(p *nn.Path, ws *WeightSet, cIn, up int64) *SideOutputHead {
	upsample, err := NewUpsampler(up)
	if err != nil {
		panic(err)
	}

	return &SideOutputHead{
		Conv:     Conv2dZero(p.Sub("convfc"), ws, cIn, 1, 1),
		Up:       up,
		upsample: upsample,
	}
}

// ForwardT implements ts.ModuleT for SideOutputHead.
func (h *SideOutputHead) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	logit := h.Conv.ForwardT(x, train)
	out := h.upsample.ForwardT(logit, train)
	logit.MustDrop()

	return out
}

// BilinearUpsampler enlarges a NCHW tensor by Factor with log2(Factor) fixed 2x
// bilinear steps.
type BilinearUpsampler struct {
	Factor int64
}

// NewUpsampler returns the upsampler of a power-of-2 factor: Identity for 1,
// a BilinearUpsampler otherwise.
func NewUpsampler(factor int64) (ts.ModuleT, error) {
	if factor < 1 || factor&(factor-1) != 0 {
		return nil, errors.Errorf("upsample factor must be a positive power of 2, got %v", factor)
	}
	if factor == 1 {
		return Identity{}, nil
	}

	return &BilinearUpsampler{Factor: factor}, nil
}

// ForwardT implements ts.ModuleT for BilinearUpsampler. Input is not dropped.
func (u *BilinearUpsampler) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	out := Upsample2x(x, false)
	for f := int64(4); f <= u.Factor; f *= 2 {
		out = Upsample2x(out, true)
	}

	return out
}

// Upsample2x resizes a NCHW tensor to twice its height and width with fixed
// bilinear weights (align corners off, borders clamped).
func Upsample2x(x *ts.Tensor, del bool) *ts.Tensor {
	size := x.MustSize()
	outSize := []int64{size[2] * 2, size[3] * 2}

	return x.MustUpsampleBilinear2d(outSize, false, nil, nil, del)
}
