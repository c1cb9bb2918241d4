// Package train fits an edge detection model on a dataset.
package train

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/hed/dataset"
	"github.com/sugarme/hed/dutil"
	"github.com/sugarme/hed/hed"
	"github.com/sugarme/hed/metric"
	"github.com/sugarme/hed/schedule"
)

// GradScale multiplies the gradient of every variable whose name starts with
// Prefix by Factor, after backward and before the optimizer step.
type GradScale struct {
	Prefix string
	Factor float64
}

// DefaultGradScales slows down the fusion weight and speeds up the last
// backbone stage.
var DefaultGradScales = []GradScale{
	{Prefix: "convfcweight", Factor: 0.1},
	{Prefix: "conv5_", Factor: 5},
}

// Config holds training hyperparameters.
type Config struct {
	BatchSize int
	Loader    dutil.Options
	MaxEpochs int
	// StepsPerEpoch overrides StepsFactor * (dataset size / BatchSize) when
	// positive.
	StepsPerEpoch int
	StepsFactor   int

	LR          schedule.Piecewise
	WeightDecay schedule.ExponentialDecay
	GradScales  []GradScale

	Model  hed.Config
	Device gotch.Device
	// LoadPath is an optional checkpoint to start from.
	LoadPath string
	// OutDir receives checkpoints, stats CSV and loss curve. Nothing is
	// written when empty.
	OutDir string
	Seed   int64
}

// DefaultConfig returns the reference hyperparameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:   8,
		Loader:      dutil.Options{Workers: 4, Prefetch: 16},
		MaxEpochs:   100,
		StepsFactor: 40,
		LR:          schedule.DefaultLearningRate(),
		WeightDecay: schedule.DefaultWeightDecay(),
		GradScales:  DefaultGradScales,
		Device:      gotch.CPU,
		OutDir:      "train_log",
	}
}

// Trainer owns the model parameters and optimizer state.
type Trainer struct {
	cfg Config
	log logrus.FieldLogger

	vs  *nn.VarStore
	net *hed.HED
	opt *nn.Optimizer

	trainDS dutil.Dataset
	valDS   dutil.Dataset
	loader  *dutil.DataLoader
	batcher *dutil.KeyedBatcher

	stepsPerEpoch int
	step          int64
	history       []EpochStats
}

// New creates a Trainer. Items of both datasets must be dataset.Sample.
// valDS may be nil to skip validation.
func New(cfg Config, trainDS, valDS dutil.Dataset, logger ...logrus.FieldLogger) (*Trainer, error) {
	var log logrus.FieldLogger = logrus.StandardLogger()
	if len(logger) > 0 {
		log = logger[0]
	}
	if trainDS == nil || trainDS.Len() == 0 {
		return nil, errors.New("empty training dataset")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.GradScales == nil {
		cfg.GradScales = DefaultGradScales
	}

	vs := nn.NewVarStore(cfg.Device)
	net := hed.New(vs.Root(), cfg.Model)
	if cfg.LoadPath != "" {
		if err := vs.Load(cfg.LoadPath); err != nil {
			return nil, errors.Wrapf(err, "loading checkpoint %v", cfg.LoadPath)
		}
		log.WithField("checkpoint", cfg.LoadPath).Info("model loaded")
	}

	// Adam epsilon stays at libtorch's 1e-8: AdamConfig only exposes the betas
	// and weight decay, so the 1e-3 of the reference recipe cannot be set.
	opt, err := nn.DefaultAdamConfig().Build(vs, cfg.LR.At(1))
	if err != nil {
		return nil, errors.Wrap(err, "building optimizer")
	}

	// One item per loader batch; KeyedBatcher groups them by shape.
	s, err := dutil.NewBatchSampler(trainDS.Len(), 1, false, true, cfg.Seed)
	if err != nil {
		return nil, err
	}
	loader, err := dutil.NewDataLoader(trainDS, s, cfg.Loader)
	if err != nil {
		return nil, err
	}

	steps := cfg.StepsPerEpoch
	if steps <= 0 {
		factor := cfg.StepsFactor
		if factor <= 0 {
			factor = 1
		}
		batches := trainDS.Len() / cfg.BatchSize
		if batches < 1 {
			batches = 1
		}
		steps = batches * factor
	}

	return &Trainer{
		cfg:           cfg,
		log:           log,
		vs:            vs,
		net:           net,
		opt:           opt,
		trainDS:       trainDS,
		valDS:         valDS,
		loader:        loader,
		batcher:       dutil.NewKeyedBatcher(cfg.BatchSize, sampleKey),
		stepsPerEpoch: steps,
	}, nil
}

func sampleKey(item interface{}) string {
	if s, ok := item.(dataset.Sample); ok {
		return s.Key()
	}
	return ""
}

// VarStore returns the trained parameters.
func (t *Trainer) VarStore() *nn.VarStore {
	return t.vs
}

// Model returns the trained network.
func (t *Trainer) Model() *hed.HED {
	return t.net
}

// GlobalStep returns number of optimizer steps taken.
func (t *Trainer) GlobalStep() int64 {
	return t.step
}

// StepsPerEpoch returns number of optimizer steps per epoch.
func (t *Trainer) StepsPerEpoch() int {
	return t.stepsPerEpoch
}

// History returns stats of finished epochs.
func (t *Trainer) History() []EpochStats {
	return t.history
}

// Close stops the data loader workers.
func (t *Trainer) Close() {
	t.loader.Close()
}

// Run trains until MaxEpochs or until ctx is done. Cancellation is checked
// between steps; a cancelled run returns ctx.Err() after saving the
// finished epochs' stats.
func (t *Trainer) Run(ctx context.Context) error {
	if t.cfg.OutDir != "" {
		if err := os.MkdirAll(t.cfg.OutDir, 0755); err != nil {
			return errors.Wrap(err, "creating output directory")
		}
	}

	for epoch := len(t.history) + 1; epoch <= t.cfg.MaxEpochs; epoch++ {
		stats, err := t.RunEpoch(ctx, epoch)
		if err != nil {
			return err
		}
		if err := t.save(stats); err != nil {
			return err
		}
	}

	return nil
}

// RunEpoch runs one epoch of training followed by validation.
func (t *Trainer) RunEpoch(ctx context.Context, epoch int) (EpochStats, error) {
	start := time.Now()
	lr := t.cfg.LR.At(epoch)
	t.opt.SetLR(lr)

	log := t.log.WithFields(logrus.Fields{"epoch": epoch, "lr": lr})
	log.Info("epoch started")

	var costs, errs []float64
	for i := 0; i < t.stepsPerEpoch; i++ {
		if err := ctx.Err(); err != nil {
			return EpochStats{}, err
		}
		batch, err := t.nextBatch()
		if err != nil {
			return EpochStats{}, err
		}
		st, err := t.Step(batch)
		if err != nil {
			return EpochStats{}, err
		}
		costs = append(costs, st.Cost)
		errs = append(errs, st.TrainError)

		if t.step%100 == 0 {
			log.WithFields(logrus.Fields{
				"step":        t.step,
				"cost":        st.Cost,
				"wd_cost":     st.WDCost,
				"train_error": st.TrainError,
			}).Debug("step")
		}
	}

	stats := EpochStats{
		Epoch:       epoch,
		Step:        int(t.step),
		LR:          lr,
		WeightDecay: t.cfg.WeightDecay.At(t.step),
		TrainCost:   mean(costs),
		TrainError:  mean(errs),
	}

	if t.valDS != nil {
		v, err := t.Validate(ctx, t.valDS)
		if err != nil {
			return EpochStats{}, err
		}
		stats.ValCost = v.Cost
		stats.ValBCE = v.BCE
		stats.Precision = v.Precision
		stats.Recall = v.Recall
		stats.F1 = v.F1
		stats.Dice = v.Dice
	}
	stats.Seconds = time.Since(start).Seconds()
	t.history = append(t.history, stats)

	log.WithFields(logrus.Fields{
		"train_cost":  stats.TrainCost,
		"train_error": stats.TrainError,
		"val_cost":    stats.ValCost,
		"val_bce":     stats.ValBCE,
		"f1":          stats.F1,
		"took":        fmt.Sprintf("%0.2fmin", stats.Seconds/60),
	}).Info("epoch finished")

	return stats, nil
}

// nextBatch pulls samples until a group of equally sized samples is full.
// The loader restarts when a pass ends.
func (t *Trainer) nextBatch() ([]dataset.Sample, error) {
	for {
		if !t.loader.HasNext() {
			t.loader.Reset()
			if !t.loader.HasNext() {
				return nil, errors.New("data loader yields no batch")
			}
		}
		out, err := t.loader.Next()
		if err != nil {
			return nil, err
		}
		for _, item := range out.([]interface{}) {
			group, ok := t.batcher.Add(item)
			if !ok {
				continue
			}
			samples := make([]dataset.Sample, len(group))
			for i, g := range group {
				s, ok := g.(dataset.Sample)
				if !ok {
					return nil, errors.Errorf("unexpected item type %T", g)
				}
				samples[i] = s
			}
			return samples, nil
		}
	}
}

// StepStats holds scalar results of one optimizer step.
type StepStats struct {
	Cost       float64 // total cost including weight decay
	WDCost     float64
	TrainError float64
}

// Step runs forward, backward and one optimizer update on a batch of
// equally sized samples.
func (t *Trainer) Step(samples []dataset.Sample) (StepStats, error) {
	images, heatmaps, err := dataset.ToTensors(samples)
	if err != nil {
		return StepStats{}, err
	}
	x := images.MustTo(t.cfg.Device, true)
	label := heatmaps.MustTo(t.cfg.Device, true).MustUnsqueeze(3, true)

	out := t.net.ForwardT(x, true)
	x.MustDrop()

	cost := t.dataCost(out, label)
	wd := t.cfg.WeightDecay.At(t.step)
	l2 := metric.L2Cost(t.net.Weights())
	wdCost := l2.MustMul1(ts.FloatScalar(wd), true)
	total := cost.MustAdd(wdCost, true)

	prob := out.Output2()
	trainErr := metric.TrainError(prob, label)
	prob.MustDrop()
	label.MustDrop()

	t.opt.ZeroGrad()
	total.MustBackward()
	t.scaleGradients()
	t.opt.Step()
	t.step++

	st := StepStats{
		Cost:       total.Float64Values()[0],
		WDCost:     wdCost.Float64Values()[0],
		TrainError: trainErr,
	}
	total.MustDrop()
	wdCost.MustDrop()
	out.Drop()

	return st, nil
}

// dataCost sums class-balanced cross entropy over supervised outputs.
func (t *Trainer) dataCost(out *hed.Output, label *ts.Tensor) *ts.Tensor {
	var cost *ts.Tensor
	for _, logit := range out.Supervised() {
		l := metric.ClassBalancedBCE(logit, label)
		if cost == nil {
			cost = l
			continue
		}
		cost = cost.MustAdd(l, true)
		l.MustDrop()
	}
	return cost
}

func (t *Trainer) scaleGradients() {
	for name, v := range t.vs.Variables() {
		for _, s := range t.cfg.GradScales {
			if !strings.HasPrefix(name, s.Prefix) {
				continue
			}
			g := v.MustGrad(false)
			if g.MustDefined() {
				g.MustMul1_(ts.FloatScalar(s.Factor))
			}
			g.MustDrop()
		}
	}
}

// ValStats holds validation results over a whole dataset.
type ValStats struct {
	Cost      float64 // class-balanced
	BCE       float64 // unweighted
	Precision float64
	Recall    float64
	F1        float64
	Error     float64
	Dice      float64
}

// Validate evaluates the fused output on every item of ds, one at a time.
func (t *Trainer) Validate(ctx context.Context, ds dutil.Dataset) (ValStats, error) {
	var (
		bs    metric.BinaryStats
		costs []float64
		bces  []float64
		dices []float64
	)
	for i := 0; i < ds.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return ValStats{}, err
		}
		item, err := ds.Item(i)
		if err != nil {
			return ValStats{}, err
		}
		s, ok := item.(dataset.Sample)
		if !ok {
			return ValStats{}, errors.Errorf("unexpected item type %T", item)
		}
		images, heatmaps, err := dataset.ToTensors([]dataset.Sample{s})
		if err != nil {
			return ValStats{}, err
		}
		x := images.MustTo(t.cfg.Device, true)
		label := heatmaps.MustTo(t.cfg.Device, true).MustUnsqueeze(3, true)

		ts.NoGrad(func() {
			out := t.net.ForwardT(x, false)
			cost := metric.ClassBalancedBCE(out.Fused, label)
			costs = append(costs, cost.Float64Values()[0])
			cost.MustDrop()
			bce := metric.BCE(out.Fused, label)
			bces = append(bces, bce.Float64Values()[0])
			bce.MustDrop()

			prob := out.Output2()
			bs.UpdateTensors(prob, label)
			dices = append(dices, metric.DiceCoeff(prob, label))
			prob.MustDrop()
			out.Drop()
		})
		x.MustDrop()
		label.MustDrop()
	}

	return ValStats{
		Cost:      mean(costs),
		BCE:       mean(bces),
		Precision: bs.Precision(),
		Recall:    bs.Recall(),
		F1:        bs.F1(),
		Error:     bs.Error(),
		Dice:      mean(dices),
	}, nil
}

// save writes the epoch checkpoint, the best-F1 checkpoint, stats and curve.
func (t *Trainer) save(stats EpochStats) error {
	if t.cfg.OutDir == "" {
		return nil
	}
	ckpt := filepath.Join(t.cfg.OutDir, fmt.Sprintf("model-%03d.ot", stats.Epoch))
	if err := t.vs.Save(ckpt); err != nil {
		return errors.Wrapf(err, "saving %v", ckpt)
	}
	if t.valDS != nil && bestEpoch(t.history) == len(t.history)-1 {
		best := filepath.Join(t.cfg.OutDir, "model-best.ot")
		if err := t.vs.Save(best); err != nil {
			return errors.Wrapf(err, "saving %v", best)
		}
		t.log.WithFields(logrus.Fields{"epoch": stats.Epoch, "f1": stats.F1}).Info("best model saved")
	}

	if err := WriteStatsCSV(filepath.Join(t.cfg.OutDir, "stats.csv"), t.history); err != nil {
		return err
	}
	return PlotCurve(filepath.Join(t.cfg.OutDir, "cost.png"), t.history)
}
