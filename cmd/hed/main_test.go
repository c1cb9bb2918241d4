package main

import (
	"io/ioutil"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/sugarme/hed/dataset"
)

func execute(args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(ioutil.Discard)
	cmd.SetErr(ioutil.Discard)
	return cmd.Execute()
}

func TestRoot_DatasetRequired(t *testing.T) {
	err := execute("--view")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dataset")
}

func TestRoot_UnknownDataset(t *testing.T) {
	err := execute("--dataset", "coco", "--view")
	assert.Equal(t, dataset.ErrUnknownDataset, errors.Cause(err))
	assert.Contains(t, err.Error(), `"coco"`)
}

func TestRoot_ViewAndRunExclusive(t *testing.T) {
	err := execute("--dataset", "idcard", "--view", "--run", "a.png")
	assert.Error(t, err)
}

func TestRoot_MissingData(t *testing.T) {
	err := execute("--dataset", "idcard", "--view", "--data", t.TempDir())
	assert.Error(t, err)
}
