package hed

import (
	ts "github.com/sugarme/gotch/tensor"
)

// Output holds logit maps of one forward pass. All tensors are [B H W 1].
type Output struct {
	Sides []*ts.Tensor // side outputs, shallowest first
	Fused *ts.Tensor
}

// Deepest returns the logit map of the last side output.
func (o *Output) Deepest() *ts.Tensor {
	return o.Sides[len(o.Sides)-1]
}

// Supervised returns the logit maps that receive a loss term: the deepest
// side output and the fused output, in that order.
func (o *Output) Supervised() []*ts.Tensor {
	return []*ts.Tensor{o.Deepest(), o.Fused}
}

// Output1 returns the sigmoid probability of the deepest side output.
func (o *Output) Output1() *ts.Tensor {
	return o.Deepest().MustSigmoid(false)
}

// Output2 returns the sigmoid probability of the fused output.
func (o *Output) Output2() *ts.Tensor {
	return o.Fused.MustSigmoid(false)
}

// Drop frees all tensors held by o.
func (o *Output) Drop() {
	for _, s := range o.Sides {
		s.MustDrop()
	}
	o.Fused.MustDrop()
}
