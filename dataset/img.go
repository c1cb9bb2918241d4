package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Multiple is the factor image height and width must be divisible by.
const Multiple = 16

// ErrBadDimensions is returned when an image is smaller than Multiple on a side.
var ErrBadDimensions = errors.New("image too small for cropping to a multiple of 16")

// Sample is an image with its edge map.
type Sample struct {
	Image *image.NRGBA
	// Mask is a row-major H*W edge map with values in [0, 1].
	Mask []float32
}

// Size returns height and width of the sample.
func (s Sample) Size() (h, w int) {
	b := s.Image.Bounds()
	return b.Dy(), b.Dx()
}

// Key identifies samples of identical spatial shape.
func (s Sample) Key() string {
	h, w := s.Size()
	return fmt.Sprintf("%dx%d", h, w)
}

// readImage reads image from file.
func readImage(filename string) (image.Image, error) {
	ext := filepath.Ext(filename)
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var img image.Image
	switch ext {
	case ".png", ".PNG":
		img, err = png.Decode(f)
	case ".jpg", ".jpeg", ".JPG", ".JPEG":
		img, err = jpeg.Decode(f)
	case ".tiff", ".tif", ".TIFF", ".TIF":
		img, err = tiff.Decode(f)
	default:
		img, err = imaging.Decode(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %v", filename)
	}

	return img, nil
}

// ReadImage reads an image file as NRGBA. PNG, JPEG and TIFF are supported.
func ReadImage(filename string) (*image.NRGBA, error) {
	img, err := readImage(filename)
	if err != nil {
		return nil, err
	}
	return ToNRGBA(img), nil
}

// ToNRGBA converts any image to NRGBA with origin at (0, 0).
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == image.ZP {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.ZP, img, b, draw.Src, nil)

	return dst
}

// edgeMap converts a gray edge image to [0, 1] values.
func edgeMap(img image.Image) []float32 {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	h, w := b.Dy(), b.Dx()
	mask := make([]float32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mask[y*w+x] = float32(gray.Pix[y*gray.Stride+x*4]) / 255
		}
	}

	return mask
}

// instanceEdges marks pixels whose 4-neighbourhood holds a different
// instance id.
func instanceEdges(img image.Image) []float32 {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	ids := make([]int, h*w)
	pal, isPal := img.(*image.Paletted)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if isPal {
				ids[y*w+x] = int(pal.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
				continue
			}
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			ids[y*w+x] = int(g.Y)
		}
	}

	mask := make([]float32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := ids[y*w+x]
			if (x > 0 && ids[y*w+x-1] != id) ||
				(x < w-1 && ids[y*w+x+1] != id) ||
				(y > 0 && ids[(y-1)*w+x] != id) ||
				(y < h-1 && ids[(y+1)*w+x] != id) {
				mask[y*w+x] = 1
			}
		}
	}

	return mask
}

// LoadSample reads an image and its ground-truth mask.
func LoadSample(imagePath, maskPath string, mode MaskMode) (Sample, error) {
	img, err := readImage(imagePath)
	if err != nil {
		return Sample{}, err
	}
	maskImg, err := readImage(maskPath)
	if err != nil {
		return Sample{}, err
	}
	if img.Bounds().Size() != maskImg.Bounds().Size() {
		err = errors.Errorf("image %v and mask %v differ in size: %v vs %v", imagePath, maskPath, img.Bounds().Size(), maskImg.Bounds().Size())
		return Sample{}, err
	}

	var mask []float32
	switch mode {
	case InstanceMask:
		mask = instanceEdges(maskImg)
	default:
		mask = edgeMap(maskImg)
	}

	return Sample{Image: ToNRGBA(img), Mask: mask}, nil
}

// CropMultiple16 crops a sample so both sides are multiples of 16.
// With a nil rng the crop is anchored at the top-left corner, otherwise the
// offset is random.
func CropMultiple16(s Sample, rng *rand.Rand) (Sample, error) {
	h, w := s.Size()
	newh := h / Multiple * Multiple
	neww := w / Multiple * Multiple
	if newh <= 0 || neww <= 0 {
		return Sample{}, errors.Wrapf(ErrBadDimensions, "got %vx%v", h, w)
	}

	var h0, w0 int
	if rng != nil {
		if diff := h - newh; diff > 0 {
			h0 = rng.Intn(diff)
		}
		if diff := w - neww; diff > 0 {
			w0 = rng.Intn(diff)
		}
	}
	if newh == h && neww == w {
		return s, nil
	}

	img := imaging.Crop(s.Image, image.Rect(w0, h0, w0+neww, h0+newh))
	mask := make([]float32, newh*neww)
	for y := 0; y < newh; y++ {
		copy(mask[y*neww:(y+1)*neww], s.Mask[(y+h0)*w+w0:(y+h0)*w+w0+neww])
	}

	return Sample{Image: img, Mask: mask}, nil
}

// Threshold binarizes the mask in place: values >= 0.5 become 1, others 0.
func Threshold(s Sample) Sample {
	for i, v := range s.Mask {
		if v >= 0.5 {
			s.Mask[i] = 1
		} else {
			s.Mask[i] = 0
		}
	}
	return s
}

// EdgeImage renders a [0, 1] map of size h x w as a gray image.
func EdgeImage(values []float32, h, w int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range values {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		img.Pix[i] = uint8(v*255 + 0.5)
	}
	return img
}
