package dataset

import (
	"image"

	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
)

// bgrPixels appends the pixels of img as B, G, R float values in [0, 255].
func bgrPixels(dst []float32, img *image.NRGBA) []float32 {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4]
			dst = append(dst, float32(p[2]), float32(p[1]), float32(p[0]))
		}
	}
	return dst
}

// ImageTensor converts an image to a [1 H W 3] float tensor in BGR order.
func ImageTensor(img *image.NRGBA) *ts.Tensor {
	b := img.Bounds()
	data := bgrPixels(make([]float32, 0, b.Dx()*b.Dy()*3), img)

	return ts.MustOfSlice(data).MustView([]int64{1, int64(b.Dy()), int64(b.Dx()), 3}, true)
}

// ToTensors stacks samples of identical size into an image batch
// [B H W 3] (float, BGR) and a heatmap batch [B H W] (int64).
func ToTensors(samples []Sample) (images, heatmaps *ts.Tensor, err error) {
	if len(samples) == 0 {
		return nil, nil, errors.New("empty batch")
	}
	h, w := samples[0].Size()
	imgData := make([]float32, 0, len(samples)*h*w*3)
	maskData := make([]int64, 0, len(samples)*h*w)
	for i, s := range samples {
		sh, sw := s.Size()
		if sh != h || sw != w {
			err = errors.Errorf("sample %d has size %vx%v, expected %vx%v", i, sh, sw, h, w)
			return nil, nil, err
		}
		if len(s.Mask) != h*w {
			err = errors.Errorf("sample %d has mask of %v values, expected %v", i, len(s.Mask), h*w)
			return nil, nil, err
		}
		imgData = bgrPixels(imgData, s.Image)
		for _, v := range s.Mask {
			var label int64
			if v >= 0.5 {
				label = 1
			}
			maskData = append(maskData, label)
		}
	}

	b := int64(len(samples))
	images = ts.MustOfSlice(imgData).MustView([]int64{b, int64(h), int64(w), 3}, true)
	heatmaps = ts.MustOfSlice(maskData).MustView([]int64{b, int64(h), int64(w)}, true)

	return images, heatmaps, nil
}
