// Package preprocess turns an image into the normalized grayscale tensor
// the digit models are trained on.
//
// The resolution and normalization constants are part of the model contract.
// Changing them changes what the model sees, so they are not configurable.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

const (
	// ImageSize is the edge length, in pixels, of every model input.
	ImageSize = 32
	// Mean and Std map [0,1] pixel values onto [-1,1].
	Mean float32 = 0.5
	Std  float32 = 0.5
)

// ErrDecode is returned when an image cannot be read or decoded.
var ErrDecode = errors.New("image decode failed")

// LoadImage reads and decodes the image at path.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return img, nil
}

// Grayscale converts img to a single-channel image using ITU-R 601-2 luma.
// Alpha is dropped, not composited: the luma of a transparent pixel is
// computed from its straight (non-premultiplied) colour.
func Grayscale(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return grayFromNRGBA(nrgba)
	}

	bounds := img.Bounds()
	rect := image.Rect(0, 0, bounds.Dx(), bounds.Dy())

	// Opaque pixels survive premultiplication unchanged.
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		nrgba := image.NewNRGBA(rect)
		draw.Draw(nrgba, rect, img, bounds.Min, draw.Src)
		return grayFromNRGBA(nrgba)
	}

	gray := image.NewGray(rect)
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			r, g, b := straightRGB(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			gray.Pix[gray.PixOffset(x, y)] = luma(r, g, b)
		}
	}
	return gray
}

func grayFromNRGBA(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		src := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		dst := gray.Pix[gray.PixOffset(0, y):]
		for x := range dst[:bounds.Dx()] {
			dst[x] = luma(src[4*x], src[4*x+1], src[4*x+2])
		}
	}
	return gray
}

// straightRGB returns the 8-bit colour of c without alpha premultiplication.
func straightRGB(c color.Color) (r, g, b uint8) {
	switch c := c.(type) {
	case color.NRGBA:
		return c.R, c.G, c.B
	case color.NRGBA64:
		return uint8(c.R >> 8), uint8(c.G >> 8), uint8(c.B >> 8)
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return n.R, n.G, n.B
}

// luma is L = R*299/1000 + G*587/1000 + B*114/1000 in 16-bit fixed point,
// rounded to nearest.
func luma(r, g, b uint8) uint8 {
	return uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
}

// Resize scales img to ImageSize×ImageSize with bilinear interpolation.
func Resize(img *image.Gray) *image.Gray {
	resized := resize.Resize(ImageSize, ImageSize, img, resize.Bilinear)
	if gray, ok := resized.(*image.Gray); ok {
		return gray
	}
	return Grayscale(resized)
}

// ToTensor converts a grayscale image into a 1×H×W tensor with values in [0,1].
func ToTensor(img *image.Gray) (*tensor.Tensor, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	data := make([]float32, width*height)
	for y := 0; y < height; y++ {
		row := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		for x := 0; x < width; x++ {
			data[y*width+x] = float32(row[x]) / 255.0
		}
	}

	return tensor.New(tensor.Shape{1, int64(height), int64(width)}, data)
}

// Normalize returns (v - Mean) / Std for every element of t.
func Normalize(t *tensor.Tensor) (*tensor.Tensor, error) {
	src := t.Data()
	data := make([]float32, len(src))
	for i, v := range src {
		data[i] = (v - Mean) / Std
	}
	return tensor.New(t.Shape(), data)
}

// Transform runs grayscale conversion, resize, tensor conversion and
// normalization. The result has shape 1×ImageSize×ImageSize.
func Transform(img image.Image) (*tensor.Tensor, error) {
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	gray := Resize(Grayscale(img))

	t, err := ToTensor(gray)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	return Normalize(t)
}
