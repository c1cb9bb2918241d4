// Package predict runs a trained edge detector on single images.
package predict

import (
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/hed/dataset"
	"github.com/sugarme/hed/hed"
)

// Errors returned by Predictor.
var (
	ErrClosed         = errors.New("driver closed")
	ErrNotInitialized = errors.New("driver not initialized")
)

// State is the lifecycle state of a Predictor.
type State int

// Predictor states.
const (
	Uninitialized State = iota
	Ready
	Computing
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Computing:
		return "computing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Config configures a Predictor.
type Config struct {
	// ModelPath is a checkpoint saved by the trainer. An empty path keeps
	// the freshly initialized parameters.
	ModelPath string
	Device    gotch.Device
	Model     hed.Config
}

// Predictor runs forward passes one image at a time.
//
// Lifecycle: Uninitialized -> Initialize -> Ready -> Predict (Computing) ->
// Ready ... -> Close -> Closed.
type Predictor struct {
	cfg Config
	log logrus.FieldLogger

	mu    sync.Mutex
	state State
	vs    *nn.VarStore
	net   *hed.HED
}

// New creates an uninitialized Predictor.
func New(cfg Config, logger ...logrus.FieldLogger) *Predictor {
	var log logrus.FieldLogger = logrus.StandardLogger()
	if len(logger) > 0 {
		log = logger[0]
	}
	return &Predictor{cfg: cfg, log: log}
}

// State returns the current lifecycle state.
func (p *Predictor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Initialize builds the network and loads the checkpoint. Calling it on a
// Ready predictor is a no-op.
func (p *Predictor) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Closed:
		return ErrClosed
	case Ready:
		return nil
	}

	vs := nn.NewVarStore(p.cfg.Device)
	net := hed.New(vs.Root(), p.cfg.Model)
	if p.cfg.ModelPath != "" {
		if err := vs.Load(p.cfg.ModelPath); err != nil {
			return errors.Wrapf(err, "loading checkpoint %v", p.cfg.ModelPath)
		}
		p.log.WithField("checkpoint", p.cfg.ModelPath).Info("model loaded")
	}
	vs.Freeze()

	p.vs = vs
	p.net = net
	p.state = Ready

	return nil
}

// Predict returns the fused edge probability map of an image. The image is
// first resized so both sides are multiples of 16 (rounding down); the map
// has the resized dimensions.
func (p *Predictor) Predict(img image.Image) (*ProbMap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Closed:
		return nil, ErrClosed
	case Uninitialized:
		return nil, ErrNotInitialized
	}

	input, err := prepare(img)
	if err != nil {
		return nil, err
	}

	p.state = Computing
	defer func() { p.state = Ready }()

	h, w := input.Bounds().Dy(), input.Bounds().Dx()
	x := dataset.ImageTensor(input).MustTo(p.cfg.Device, true)
	var values []float64
	ts.NoGrad(func() {
		out := p.net.ForwardT(x, false)
		prob := out.Output2()
		values = prob.Float64Values()
		prob.MustDrop()
		out.Drop()
	})
	x.MustDrop()

	pm := &ProbMap{H: h, W: w, Values: make([]float32, len(values))}
	for i, v := range values {
		pm.Values[i] = float32(v)
	}

	return pm, nil
}

// Close releases the model parameters. Further calls to Predict fail with
// ErrClosed.
func (p *Predictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Closed {
		return nil
	}
	if p.vs != nil {
		for _, v := range p.vs.Variables() {
			v.MustDrop()
		}
	}
	p.vs = nil
	p.net = nil
	p.state = Closed

	return nil
}

// prepare resizes img so both sides are multiples of 16.
func prepare(img image.Image) (*image.NRGBA, error) {
	b := img.Bounds()
	newh := b.Dy() / dataset.Multiple * dataset.Multiple
	neww := b.Dx() / dataset.Multiple * dataset.Multiple
	if newh <= 0 || neww <= 0 {
		return nil, errors.Wrapf(dataset.ErrBadDimensions, "got %vx%v", b.Dy(), b.Dx())
	}
	if newh != b.Dy() || neww != b.Dx() {
		img = resize.Resize(uint(neww), uint(newh), img, resize.Bilinear)
	}

	return dataset.ToNRGBA(img), nil
}

// ProbMap is a row-major H x W map of probabilities in [0, 1].
type ProbMap struct {
	H, W   int
	Values []float32
}

// At returns the value at row y, column x.
func (m *ProbMap) At(y, x int) float32 {
	return m.Values[y*m.W+x]
}

// Image renders the map as a gray image scaled to [0, 255].
func (m *ProbMap) Image() *image.Gray {
	return dataset.EdgeImage(m.Values, m.H, m.W)
}

// Save writes the map as a single-channel image. The format is taken from
// the file extension.
func (m *ProbMap) Save(path string) error {
	return errors.Wrapf(imaging.Save(m.Image(), path), "saving %v", path)
}
