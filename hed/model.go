package hed

import (
	"fmt"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/hed/base"
	"github.com/sugarme/hed/encoder"
)

// BGRMean is the per-channel mean subtracted from input images, BGR order.
var BGRMean = []float32{104, 116, 122}

// FuseInit is the initial value of the fusion weight.
const FuseInit = 0.2

// Config holds model topology options.
type Config struct {
	// FuseAll wires all side outputs into the fusion layer.
	// Default wires the deepest side output only.
	FuseAll bool
}

// HED is a holistically-nested edge detection network.
// Ref: https://arxiv.org/abs/1504.06375
type HED struct {
	encoder encoder.Encoder
	stages  []encoder.Stage
	sides   []*base.SideOutputHead
	fuse    *nn.Conv2D
	fuseIdx []int
	weights *base.WeightSet
}

// New creates HED model with VGG16 trunk and one side output per stage.
//
// Variables are named after the trunk layers (`conv1_1` ... `conv5_3`),
// side outputs (`branch1.convfc` ... `branch5.convfc`) and the fusion
// layer (`convfcweight`).
func New(p *nn.Path, cfg Config) *HED {
	ws := base.NewWeightSet()
	enc := encoder.NewVGG16Encoder(p, ws)

	var sides []*base.SideOutputHead
	for _, s := range enc.Stages {
		name := fmt.Sprintf("branch%d", s.Index)
		sides = append(sides, base.NewSideOutputHead(p.Sub(name), ws, s.Channels, s.Up))
	}

	fuseIdx := []int{len(sides) - 1}
	if cfg.FuseAll {
		fuseIdx = fuseIdx[:0]
		for i := range sides {
			fuseIdx = append(fuseIdx, i)
		}
	}
	fuse := base.Conv2dConst(p.Sub("convfcweight"), ws, int64(len(fuseIdx)), 1, 1, FuseInit)

	return &HED{
		encoder: enc,
		stages:  enc.Stages,
		sides:   sides,
		fuse:    fuse,
		fuseIdx: fuseIdx,
		weights: ws,
	}
}

// Weights returns every convolution weight of the model. Biases excluded.
func (m *HED) Weights() []*ts.Tensor {
	return m.weights.Weights()
}

// Stages returns the backbone stage table, one side output per stage.
func (m *HED) Stages() []encoder.Stage {
	return m.stages
}

// NumSides returns number of side outputs.
func (m *HED) NumSides() int {
	return len(m.sides)
}

// ForwardT runs the network on a NHWC image batch [B H W 3] in BGR order with
// raw [0, 255] pixel values. H and W must be multiples of 16.
func (m *HED) ForwardT(image *ts.Tensor, train bool) *Output {
	x := centerAndPermute(image)
	features := m.encoder.ForwardAll(x, train)
	x.MustDrop()

	sides := make([]*ts.Tensor, len(m.sides))
	for i, head := range m.sides {
		sides[i] = head.ForwardT(features[i], train)
		features[i].MustDrop()
	}

	fused := m.Fuse(sides, train)

	out := &Output{
		Sides: make([]*ts.Tensor, len(sides)),
		Fused: toNHWC(fused),
	}
	for i, s := range sides {
		out.Sides[i] = toNHWC(s)
	}

	return out
}

// Fuse concatenates the wired side outputs (NCHW, single channel) along
// channels and applies the fusion convolution. Result is [B 1 H W].
func (m *HED) Fuse(sides []*ts.Tensor, train bool) *ts.Tensor {
	fuseIn := make([]ts.Tensor, 0, len(m.fuseIdx))
	for _, i := range m.fuseIdx {
		fuseIn = append(fuseIn, *sides[i])
	}
	cat := ts.MustCat(fuseIn, 1)
	fused := m.fuse.ForwardT(cat, train)
	cat.MustDrop()

	return fused
}

// [B H W 3] => [B 3 H W] - mean
func centerAndPermute(image *ts.Tensor) *ts.Tensor {
	mean := ts.MustOfSlice(BGRMean).MustView([]int64{1, 1, 1, 3}, true)
	device := image.MustDevice()
	meanDev := mean.MustTo(device, true)
	centered := image.MustTotype(gotch.Float, false).MustSub(meanDev, true)
	meanDev.MustDrop()

	return centered.MustPermute([]int64{0, 3, 1, 2}, true).MustContiguous(true)
}

// [B C H W] => [B H W C]
func toNHWC(x *ts.Tensor) *ts.Tensor {
	return x.MustPermute([]int64{0, 2, 3, 1}, true).MustContiguous(true)
}
