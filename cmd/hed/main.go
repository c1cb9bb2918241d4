package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/sugarme/gotch"

	"github.com/sugarme/hed/config"
)

var (
	gpu      string
	view     bool
	run      string
	cfgFile  string
	logLevel string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:   "hed",
		Short: "Train and run holistically-nested edge detection",
		Long: `hed trains an edge detector on a dataset (default), shows the training
samples in a browser (--view) or predicts the edge map of one image (--run).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(lvl)
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

			if cfgFile != "" {
				return config.ReadFile(v, cfgFile)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if gpu != "" {
				os.Setenv("CUDA_VISIBLE_DEVICES", gpu)
			}
			device := gotch.NewCuda().CudaIfAvailable()

			cfg, err := config.Load(v, device)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"dataset": cfg.Dataset,
				"data":    cfg.DataRoot,
				"device":  device,
			}).Debug("config loaded")

			switch {
			case view:
				return runView(cfg)
			case run != "":
				return runPredict(cfg, run)
			default:
				return runTrain(cmd.Context(), cfg)
			}
		},
	}

	f := cmd.Flags()
	f.String("dataset", "", "dataset name: idcard or pennfudanped")
	f.StringVar(&gpu, "gpu", "", "comma separated list of GPU(s) to use")
	f.String("load", "", "load model checkpoint")
	f.BoolVar(&view, "view", false, "view dataset samples in a browser")
	f.StringVar(&run, "run", "", "run model on an image")
	f.String("output", "out-fused.png", "fused edge map output file for --run")
	f.String("data", config.DefaultDataRoot, "directory holding the datasets")
	f.String("listen", "localhost:8080", "viewer address")
	f.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	cmd.MarkFlagRequired("dataset")
	cmd.MarkFlagsMutuallyExclusive("view", "run")

	for _, key := range []string{
		config.KeyDataset,
		config.KeyLoad,
		config.KeyOutput,
		config.KeyData,
		config.KeyListen,
	} {
		if err := v.BindPFlag(key, f.Lookup(key)); err != nil {
			logrus.Fatal(err)
		}
	}

	return cmd
}
