package train

import (
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// EpochStats summarizes one epoch.
type EpochStats struct {
	Epoch       int
	Step        int
	LR          float64
	WeightDecay float64
	TrainCost   float64
	TrainError  float64
	ValCost     float64
	ValBCE      float64
	Precision   float64
	Recall      float64
	F1          float64
	Dice        float64
	Seconds     float64
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

// bestEpoch returns index of the epoch with highest F1, ties going to the
// earliest one. -1 if history is empty.
func bestEpoch(history []EpochStats) int {
	if len(history) == 0 {
		return -1
	}
	f1 := make([]float64, len(history))
	for i, s := range history {
		f1[i] = s.F1
	}
	return floats.MaxIdx(f1)
}

// WriteStatsCSV writes one row per epoch.
func WriteStatsCSV(path string, history []EpochStats) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating stats file")
	}
	defer f.Close()

	df := dataframe.LoadStructs(history)
	if df.Err != nil {
		return errors.Wrap(df.Err, "building stats table")
	}

	return errors.Wrapf(df.WriteCSV(f), "writing %v", path)
}

// PlotCurve draws train and validation cost per epoch into an image file.
func PlotCurve(path string, history []EpochStats) error {
	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "creating plot")
	}
	p.Title.Text = "Cost"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "cost"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	train := make(plotter.XYs, len(history))
	val := make(plotter.XYs, len(history))
	for i, s := range history {
		train[i].X, train[i].Y = float64(s.Epoch), s.TrainCost
		val[i].X, val[i].Y = float64(s.Epoch), s.ValCost
	}

	for i, series := range []struct {
		name string
		xys  plotter.XYs
	}{{"train", train}, {"val", val}} {
		l, err := plotter.NewLine(series.xys)
		if err != nil {
			return errors.Wrapf(err, "plotting %v cost", series.name)
		}
		l.Width = 2
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(series.name, l)
	}

	return errors.Wrapf(p.Save(6*vg.Inch, 4*vg.Inch, path), "saving %v", path)
}
