package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sugarme/hed/config"
	"github.com/sugarme/hed/dataset"
	"github.com/sugarme/hed/predict"
	"github.com/sugarme/hed/train"
	"github.com/sugarme/hed/viewer"
)

func runView(cfg *config.Config) error {
	ds, err := dataset.New(cfg.DatasetConfig(cfg.TrainSplit, true))
	if err != nil {
		return err
	}

	return viewer.New(string(cfg.Dataset), ds).ListenAndServe(cfg.Listen)
}

func runPredict(cfg *config.Config, imagePath string) error {
	img, err := dataset.ReadImage(imagePath)
	if err != nil {
		return err
	}

	p := predict.New(predict.Config{
		ModelPath: cfg.Load,
		Device:    cfg.Train.Device,
		Model:     cfg.Train.Model,
	})
	if err := p.Initialize(); err != nil {
		return err
	}
	defer p.Close()

	pm, err := p.Predict(img)
	if err != nil {
		return errors.Wrapf(err, "predicting %v", imagePath)
	}
	if err := pm.Save(cfg.Output); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"input": imagePath, "output": cfg.Output}).Info("edge map saved")

	return nil
}

func runTrain(ctx context.Context, cfg *config.Config) error {
	trainDS, err := dataset.New(cfg.DatasetConfig(cfg.TrainSplit, true))
	if err != nil {
		return err
	}
	valDS, err := dataset.New(cfg.DatasetConfig(cfg.ValSplit, false))
	if err != nil {
		return err
	}

	t, err := train.New(cfg.Train, trainDS, valDS)
	if err != nil {
		return err
	}
	defer t.Close()

	logrus.WithFields(logrus.Fields{
		"samples":         trainDS.Len(),
		"steps_per_epoch": t.StepsPerEpoch(),
		"epochs":          cfg.Train.MaxEpochs,
		"logdir":          cfg.Train.OutDir,
	}).Info("training started")

	err = t.Run(ctx)
	if errors.Cause(err) == context.Canceled {
		logrus.WithField("step", t.GlobalStep()).Warn("training interrupted")
		return nil
	}

	return err
}
