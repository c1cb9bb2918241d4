package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/hed/base"
)

// Stage describes one block of the VGG backbone.
type Stage struct {
	Index    int   // 1-based stage number, used for variable names
	Convs    int   // number of 3x3 conv + relu layers
	Channels int64 // output channels of every conv in the stage
	Pool     bool  // 2x2 max pooling after the stage
	Up       int64 // downsample factor of the stage output w.r.t. the input
}

// VGG16Stages is the 5-stage VGG16 convolutional trunk.
var VGG16Stages = []Stage{
	{Index: 1, Convs: 2, Channels: 64, Pool: true, Up: 1},
	{Index: 2, Convs: 2, Channels: 128, Pool: true, Up: 2},
	{Index: 3, Convs: 3, Channels: 256, Pool: true, Up: 4},
	{Index: 4, Convs: 3, Channels: 512, Pool: true, Up: 8},
	{Index: 5, Convs: 3, Channels: 512, Pool: false, Up: 16},
}

var _ Encoder = (*VGGEncoder)(nil)

// VGGEncoder is a plain VGG trunk: no normalization, no residuals.
type VGGEncoder struct {
	Stages []Stage
	blocks []*nn.SequentialT
}

// ForwardAll implements Encoder interface for VGGEncoder.
// Pooling is applied between stages, so feature i is the stage output
// before its own pooling. Every returned feature is owned by the caller.
func (e *VGGEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	features := make([]*ts.Tensor, 0, len(e.blocks))
	input := x
	var pooled *ts.Tensor
	for i, block := range e.blocks {
		feat := block.ForwardT(input, train)
		if pooled != nil {
			pooled.MustDrop()
			pooled = nil
		}
		features = append(features, feat)

		input = feat
		if e.Stages[i].Pool {
			pooled = maxPool2x(feat)
			input = pooled
		}
	}
	if pooled != nil {
		pooled.MustDrop()
	}

	return features
}

// NewVGGEncoder creates a VGGEncoder from stage descriptors. Conv variables
// are named `conv{stage}_{n}` at the root of p. Weights are registered to ws.
func NewVGGEncoder(p *nn.Path, ws *base.WeightSet, stages []Stage) *VGGEncoder {
	var (
		cIn    int64 = 3
		blocks []*nn.SequentialT
	)
	for _, s := range stages {
		blocks = append(blocks, vggBlock(p, ws, s, cIn))
		cIn = s.Channels
	}

	return &VGGEncoder{
		Stages: stages,
		blocks: blocks,
	}
}

// NewVGG16Encoder creates the default 5-stage VGG16 encoder.
func NewVGG16Encoder(p *nn.Path, ws *base.WeightSet) *VGGEncoder {
	return NewVGGEncoder(p, ws, VGG16Stages)
}

func vggBlock(p *nn.Path, ws *base.WeightSet, s Stage, cIn int64) *nn.SequentialT {
	block := nn.SeqT()
	for n := 1; n <= s.Convs; n++ {
		name := fmt.Sprintf("conv%d_%d", s.Index, n)
		block.Add(base.Conv2dRelu(p.Sub(name), ws, cIn, s.Channels, 3))
		cIn = s.Channels
	}

	return block
}

// Down sample to half size: [B C H W] => [B C H/2 W/2]
func maxPool2x(x *ts.Tensor) *ts.Tensor {
	// ksize = 2; stride=2; padding=0; dilation=1; ceil=false
	return x.MustMaxPool2d([]int64{2, 2}, []int64{2, 2}, []int64{0, 0}, []int64{1, 1}, false, false)
}
