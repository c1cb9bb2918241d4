// Package dataset reads edge-detection datasets: images paired with
// ground-truth masks, listed per split.
//
// A dataset lives in `<root>/<name>`. A split is listed either by an index
// file `<split>.csv` with columns `image` and `mask` (paths relative to the
// dataset directory), or by the directories `<split>/image` and
// `<split>/mask` holding files of identical names.
package dataset

import (
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// Record is one image/mask pair, paths relative to the dataset directory.
type Record struct {
	Image string
	Mask  string
}

// Config selects a dataset split and its preprocessing.
type Config struct {
	Root  string // directory holding all datasets
	Name  Name
	Split Split
	// Train crops at random offsets; otherwise crops are anchored top-left.
	Train bool
	Seed  int64
}

// Dataset implements dutil.Dataset. Items are thresholded Samples cropped to
// multiples of 16.
type Dataset struct {
	cfg     Config
	dir     string
	records []Record

	mu  sync.Mutex
	rng *rand.Rand
}

// New reads the index of a dataset split.
func New(cfg Config) (*Dataset, error) {
	if _, err := ParseName(string(cfg.Name)); err != nil {
		return nil, err
	}
	if cfg.Split == "" {
		cfg.Split = Val
	}

	dir := filepath.Join(cfg.Root, string(cfg.Name))
	records, err := readIndex(dir, cfg.Split)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.Errorf("dataset %v/%v has no samples", cfg.Name, cfg.Split)
	}

	return &Dataset{
		cfg:     cfg,
		dir:     dir,
		records: records,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func readIndex(dir string, split Split) ([]Record, error) {
	indexFile := filepath.Join(dir, fmt.Sprintf("%v.csv", split))
	if _, err := os.Stat(indexFile); err == nil {
		return readCSVIndex(indexFile)
	}

	return scanIndex(dir, split)
}

func readCSVIndex(fname string) ([]Record, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.HasHeader(true)).Select([]string{"image", "mask"})
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "reading index %v", fname)
	}

	images := df.Col("image").Records()
	masks := df.Col("mask").Records()
	records := make([]Record, len(images))
	for i := range images {
		records[i] = Record{Image: images[i], Mask: masks[i]}
	}

	return records, nil
}

func scanIndex(dir string, split Split) ([]Record, error) {
	imgDir := filepath.Join(string(split), "image")
	maskDir := filepath.Join(string(split), "mask")
	files, err := ioutil.ReadDir(filepath.Join(dir, imgDir))
	if err != nil {
		return nil, errors.Wrapf(err, "listing split %v", split)
	}

	var records []Record
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		records = append(records, Record{
			Image: filepath.Join(imgDir, f.Name()),
			Mask:  filepath.Join(maskDir, f.Name()),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Image < records[j].Image })

	return records, nil
}

// Len implements dutil.Dataset.
func (ds *Dataset) Len() int {
	return len(ds.records)
}

// Records returns the listed image/mask pairs.
func (ds *Dataset) Records() []Record {
	return ds.records
}

// Name returns the dataset name.
func (ds *Dataset) Name() Name {
	return ds.cfg.Name
}

// Item implements dutil.Dataset. It returns a Sample.
func (ds *Dataset) Item(idx int) (interface{}, error) {
	if idx < 0 || idx >= len(ds.records) {
		return nil, errors.Errorf("index %v out of range [0, %v)", idx, len(ds.records))
	}
	r := ds.records[idx]
	s, err := LoadSample(filepath.Join(ds.dir, r.Image), filepath.Join(ds.dir, r.Mask), ds.cfg.Name.MaskMode())
	if err != nil {
		return nil, err
	}

	var rng *rand.Rand
	if ds.cfg.Train {
		ds.mu.Lock()
		rng = rand.New(rand.NewSource(ds.rng.Int63()))
		ds.mu.Unlock()
	}
	s, err = CropMultiple16(s, rng)
	if err != nil {
		return nil, errors.Wrapf(err, "cropping %v", r.Image)
	}

	return Threshold(s), nil
}

// DType implements dutil.Dataset.
func (ds *Dataset) DType() reflect.Type {
	return reflect.TypeOf(Sample{})
}
