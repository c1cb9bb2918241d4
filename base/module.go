package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Identity passes its input through unchanged. The result is a new handle
// on the same storage that stays in the autograd graph, so the caller may
// drop the input independently.
type Identity struct{}

// ForwardT implements ts.ModuleT for Identity.
func (Identity) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return x.MustShallowClone()
}

// WeightSet collects convolution weights (not biases) as they are created.
// The weight-decay term is computed over its content.
type WeightSet struct {
	weights []*ts.Tensor
}

// NewWeightSet creates an empty WeightSet.
func NewWeightSet() *WeightSet {
	return &WeightSet{}
}

// Add registers the weight of a convolution.
// A nil set is a no-op so helpers can be used without tracking.
func (s *WeightSet) Add(c *nn.Conv2D) {
	if s == nil {
		return
	}
	s.weights = append(s.weights, c.Ws)
}

// Weights returns registered weights in creation order.
func (s *WeightSet) Weights() []*ts.Tensor {
	return s.weights
}

// Len returns number of registered weights.
func (s *WeightSet) Len() int {
	return len(s.weights)
}

// Conv2d creates a same-padded Conv2D module with stride 1.
func Conv2d(p *nn.Path, cIn, cOut, ksize int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{1, 1}
	config.Padding = []int64{ksize / 2, ksize / 2}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// Conv2dRelu creates a SequentialT composing of a same-padded Conv2D and a ReLU activation.
func Conv2dRelu(p *nn.Path, ws *WeightSet, cIn, cOut, ksize int64) *nn.SequentialT {
	conv := Conv2d(p, cIn, cOut, ksize)
	ws.Add(conv)

	seq := nn.SeqT()
	seq.Add(conv)
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}

// Conv2dZero creates a linear Conv2D with weight and bias both initialized to 0.
func Conv2dZero(p *nn.Path, ws *WeightSet, cIn, cOut, ksize int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Padding = []int64{ksize / 2, ksize / 2}
	config.WsInit = nn.NewConstInit(0.0)
	config.BsInit = nn.NewConstInit(0.0)

	conv := nn.NewConv2D(p, cIn, cOut, ksize, config)
	ws.Add(conv)

	return conv
}

// Conv2dConst creates a linear Conv2D with no bias and weight initialized to `value`.
func Conv2dConst(p *nn.Path, ws *WeightSet, cIn, cOut, ksize int64, value float64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Bias = false
	config.Padding = []int64{ksize / 2, ksize / 2}
	config.WsInit = nn.NewConstInit(value)

	conv := nn.NewConv2D(p, cIn, cOut, ksize, config)
	ws.Add(conv)

	return conv
}
