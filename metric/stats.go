package metric

import (
	ts "github.com/sugarme/gotch/tensor"
)

// Threshold above which a probability counts as a positive (edge) prediction.
const Threshold = 0.5

// BinaryStats accumulates a pixel-level confusion matrix over batches.
type BinaryStats struct {
	TP, FP, FN, TN int64
}

// Update adds thresholded predictions against labels. Both slices must have
// the same length.
func (s *BinaryStats) Update(prob, label []float64) {
	for i, p := range prob {
		pred := p > Threshold
		truth := label[i] >= Threshold
		switch {
		case pred && truth:
			s.TP++
		case pred && !truth:
			s.FP++
		case !pred && truth:
			s.FN++
		default:
			s.TN++
		}
	}
}

// UpdateTensors is Update for tensors of equal number of elements.
func (s *BinaryStats) UpdateTensors(prob, label *ts.Tensor) {
	s.Update(prob.Float64Values(), label.Float64Values())
}

// Precision = TP / (TP + FP). Zero when nothing is predicted positive.
func (s *BinaryStats) Precision() float64 {
	if s.TP+s.FP == 0 {
		return 0
	}
	return float64(s.TP) / float64(s.TP+s.FP)
}

// Recall = TP / (TP + FN). Zero when there is no positive label.
func (s *BinaryStats) Recall() float64 {
	if s.TP+s.FN == 0 {
		return 0
	}
	return float64(s.TP) / float64(s.TP+s.FN)
}

// F1 is the harmonic mean of precision and recall.
func (s *BinaryStats) F1() float64 {
	p, r := s.Precision(), s.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Error is the fraction of misclassified pixels.
func (s *BinaryStats) Error() float64 {
	total := s.TP + s.FP + s.FN + s.TN
	if total == 0 {
		return 0
	}
	return float64(s.FP+s.FN) / float64(total)
}

// Reset clears the counters.
func (s *BinaryStats) Reset() {
	*s = BinaryStats{}
}
