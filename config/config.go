// Package config reads training and inference settings.
//
// Values come, in increasing priority, from defaults, an optional config
// file, HED_ prefixed environment variables and command line flags bound to
// the same keys. Nested keys map to environment variables with dots and
// dashes replaced by underscores: `wd.base` is read from HED_WD_BASE.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/sugarme/gotch"

	"github.com/sugarme/hed/dataset"
	"github.com/sugarme/hed/dutil"
	"github.com/sugarme/hed/hed"
	"github.com/sugarme/hed/schedule"
	"github.com/sugarme/hed/train"
)

// Keys.
const (
	KeyDataset      = "dataset"
	KeyData         = "data"
	KeyTrainSplit   = "train-split"
	KeyValSplit     = "val-split"
	KeyBatch        = "batch"
	KeyWorkers      = "workers"
	KeyPrefetch     = "prefetch"
	KeyEpochs       = "epochs"
	KeyStepsFactor  = "steps-per-epoch-factor"
	KeyStepsEpoch   = "steps-per-epoch"
	KeyLR           = "lr"
	KeyWDBase       = "wd.base"
	KeyWDSteps      = "wd.steps"
	KeyWDRate       = "wd.rate"
	KeyFuseAll      = "fuse-all"
	KeyOutDir       = "logdir"
	KeySeed         = "seed"
	KeyListen       = "listen"
	KeyOutput       = "output"
	KeyLoad         = "load"
	EnvPrefix       = "HED"
	DefaultDataRoot = "../data/"
)

// Config is the resolved configuration.
type Config struct {
	Dataset    dataset.Name
	DataRoot   string
	TrainSplit dataset.Split
	ValSplit   dataset.Split

	Train train.Config

	Listen string
	Output string
	Load   string
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// SetDefaults registers default values of every key.
func SetDefaults(v *viper.Viper) {
	tc := train.DefaultConfig()
	wd := schedule.DefaultWeightDecay()

	v.SetDefault(KeyData, DefaultDataRoot)
	// The reference recipe trains on the validation split as well.
	v.SetDefault(KeyTrainSplit, string(dataset.Val))
	v.SetDefault(KeyValSplit, string(dataset.Val))
	v.SetDefault(KeyBatch, tc.BatchSize)
	v.SetDefault(KeyWorkers, tc.Loader.Workers)
	v.SetDefault(KeyPrefetch, tc.Loader.Prefetch)
	v.SetDefault(KeyEpochs, tc.MaxEpochs)
	v.SetDefault(KeyStepsFactor, tc.StepsFactor)
	v.SetDefault(KeyStepsEpoch, 0)
	v.SetDefault(KeyLR, tc.LR.Initial)
	v.SetDefault(KeyWDBase, wd.Base)
	v.SetDefault(KeyWDSteps, wd.DecaySteps)
	v.SetDefault(KeyWDRate, wd.Rate)
	v.SetDefault(KeyFuseAll, false)
	v.SetDefault(KeyOutDir, tc.OutDir)
	v.SetDefault(KeySeed, 1)
	v.SetDefault(KeyListen, "localhost:8080")
	v.SetDefault(KeyOutput, "out-fused.png")
}

// ReadFile merges a YAML, TOML or JSON config file into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading config %v", path)
	}
	return nil
}

// Load resolves the configuration from v. The dataset name is required.
func Load(v *viper.Viper, device gotch.Device) (*Config, error) {
	name, err := dataset.ParseName(v.GetString(KeyDataset))
	if err != nil {
		return nil, err
	}

	batch := v.GetInt(KeyBatch)
	if batch < 1 {
		return nil, errors.Errorf("invalid batch size: %v", batch)
	}
	lr := v.GetFloat64(KeyLR)
	if lr <= 0 {
		return nil, errors.Errorf("invalid learning rate: %v", lr)
	}

	// An overridden initial rate keeps the step-down epochs of the default
	// schedule.
	lrSched := schedule.DefaultLearningRate()
	lrSched.Initial = lr

	tc := train.DefaultConfig()
	tc.BatchSize = batch
	tc.Loader = dutil.Options{
		Workers:  v.GetInt(KeyWorkers),
		Prefetch: v.GetInt(KeyPrefetch),
	}
	tc.MaxEpochs = v.GetInt(KeyEpochs)
	tc.StepsFactor = v.GetInt(KeyStepsFactor)
	tc.StepsPerEpoch = v.GetInt(KeyStepsEpoch)
	tc.LR = lrSched
	tc.WeightDecay = schedule.ExponentialDecay{
		Base:       v.GetFloat64(KeyWDBase),
		DecaySteps: v.GetInt64(KeyWDSteps),
		Rate:       v.GetFloat64(KeyWDRate),
		Staircase:  true,
	}
	tc.Model = hed.Config{FuseAll: v.GetBool(KeyFuseAll)}
	tc.Device = device
	tc.LoadPath = v.GetString(KeyLoad)
	tc.OutDir = v.GetString(KeyOutDir)
	tc.Seed = v.GetInt64(KeySeed)

	return &Config{
		Dataset:    name,
		DataRoot:   v.GetString(KeyData),
		TrainSplit: dataset.Split(v.GetString(KeyTrainSplit)),
		ValSplit:   dataset.Split(v.GetString(KeyValSplit)),
		Train:      tc,
		Listen:     v.GetString(KeyListen),
		Output:     v.GetString(KeyOutput),
		Load:       v.GetString(KeyLoad),
	}, nil
}

// DatasetConfig returns the dataset selection for a split.
func (c *Config) DatasetConfig(split dataset.Split, training bool) dataset.Config {
	return dataset.Config{
		Root:  c.DataRoot,
		Name:  c.Dataset,
		Split: split,
		Train: training,
		Seed:  c.Train.Seed,
	}
}
