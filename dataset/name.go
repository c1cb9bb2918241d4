package dataset

import (
	"strings"

	"github.com/pkg/errors"
)

// Name identifies a supported dataset.
type Name string

// Supported datasets.
const (
	IDCard       Name = "idcard"
	PennFudanPed Name = "pennfudanped"
)

// Names lists supported datasets.
var Names = []Name{IDCard, PennFudanPed}

// ErrUnknownDataset is returned for an unsupported dataset name.
var ErrUnknownDataset = errors.New("unknown dataset name")

// ParseName validates a dataset name.
func ParseName(s string) (Name, error) {
	for _, n := range Names {
		if strings.EqualFold(s, string(n)) {
			return n, nil
		}
	}

	return "", errors.Wrapf(ErrUnknownDataset, "%q", s)
}

// MaskMode tells how ground-truth mask images are turned into edge maps.
type MaskMode int

const (
	// EdgeMask masks are gray edge maps, 0 (background) to 255 (edge).
	EdgeMask MaskMode = iota
	// InstanceMask masks hold instance ids (0 background); edges are pixels
	// bordering a different id.
	InstanceMask
)

// MaskMode returns how the dataset encodes its ground truth.
func (n Name) MaskMode() MaskMode {
	if n == PennFudanPed {
		return InstanceMask
	}
	return EdgeMask
}

// Split is a dataset partition.
type Split string

// Dataset splits.
const (
	Train Split = "train"
	Val   Split = "val"
)
