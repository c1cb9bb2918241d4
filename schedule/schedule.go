// Package schedule provides step and epoch based hyperparameter schedules.
package schedule

import (
	"math"
	"sort"
)

// ExponentialDecay multiplies Base by Rate every DecaySteps steps.
type ExponentialDecay struct {
	Base       float64
	DecaySteps int64
	Rate       float64
	// Staircase decays at discrete intervals instead of continuously.
	Staircase bool
}

// DefaultWeightDecay is the weight decay coefficient schedule: 2e-4, decayed
// by 0.7 every 80k steps.
func DefaultWeightDecay() ExponentialDecay {
	return ExponentialDecay{
		Base:       2e-4,
		DecaySteps: 80000,
		Rate:       0.7,
		Staircase:  true,
	}
}

// At returns the coefficient at a global step.
func (d ExponentialDecay) At(step int64) float64 {
	if d.DecaySteps <= 0 {
		return d.Base
	}
	p := float64(step) / float64(d.DecaySteps)
	if d.Staircase {
		p = math.Floor(p)
	}

	return d.Base * math.Pow(d.Rate, p)
}

// Point sets Value from epoch Epoch onwards.
type Point struct {
	Epoch int
	Value float64
}

// Piecewise is a piecewise constant epoch schedule.
type Piecewise struct {
	Initial float64
	Points  []Point
}

// DefaultLearningRate is the Adam learning rate schedule.
func DefaultLearningRate() Piecewise {
	return Piecewise{
		Initial: 3e-5,
		Points: []Point{
			{Epoch: 30, Value: 6e-6},
			{Epoch: 45, Value: 1e-6},
			{Epoch: 60, Value: 8e-7},
		},
	}
}

// At returns the value in effect at an epoch (1-based, like the trainer's
// epoch counter).
func (s Piecewise) At(epoch int) float64 {
	points := make([]Point, len(s.Points))
	copy(points, s.Points)
	sort.Slice(points, func(i, j int) bool { return points[i].Epoch < points[j].Epoch })

	v := s.Initial
	for _, p := range points {
		if epoch < p.Epoch {
			break
		}
		v = p.Value
	}

	return v
}
