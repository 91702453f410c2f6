package preprocess

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

func solidGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "digit.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestTransformShape(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 50; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5), G: uint8(y * 6), B: 90, A: 255})
		}
	}

	x, err := Transform(img)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, ImageSize, ImageSize}, x.Shape())
	for _, v := range x.Data() {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestNormalizeExtremes(t *testing.T) {
	black, err := Transform(solidGray(10, 10, 0))
	require.NoError(t, err)
	for _, v := range black.Data() {
		require.Equal(t, float32(-1), v)
	}

	white, err := Transform(solidGray(64, 64, 255))
	require.NoError(t, err)
	for _, v := range white.Data() {
		require.Equal(t, float32(1), v)
	}
}

func TestResizeInvariance(t *testing.T) {
	small, err := Transform(solidGray(64, 64, 128))
	require.NoError(t, err)
	large, err := Transform(solidGray(17, 90, 128))
	require.NoError(t, err)

	assert.Equal(t, small.Data(), large.Data())
}

func TestResizeOutputSize(t *testing.T) {
	gray := Resize(solidGray(100, 7, 3))
	assert.Equal(t, ImageSize, gray.Bounds().Dx())
	assert.Equal(t, ImageSize, gray.Bounds().Dy())
}

func TestGrayscaleLuma(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	gray := Grayscale(img)
	assert.InDelta(t, 76, int(gray.GrayAt(0, 0).Y), 1)
}

func TestGrayscaleKeepsOffsetBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(5, 5, 9, 8))
	gray := Grayscale(img)
	assert.Equal(t, image.Rect(0, 0, 4, 3), gray.Bounds())
}

func TestToTensorScalesToUnitRange(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.Pix = []uint8{0, 255}

	x, err := ToTensor(img)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 2}, x.Shape())
	assert.Equal(t, []float32{0, 1}, x.Data())
}

func TestLoadImage(t *testing.T) {
	path := writePNG(t, solidGray(28, 28, 200))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 28, img.Bounds().Dx())
}

func TestLoadImageJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digit.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, solidGray(40, 30, 90), nil))
	require.NoError(t, f.Close())

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
}

func TestLoadImageMissingFile(t *testing.T) {
	_, err := LoadImage(filepath.Join(t.TempDir(), "nope.png"))
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadImageUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := LoadImage(path)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestTransformEmptyImage(t *testing.T) {
	_, err := Transform(image.NewGray(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestGrayscaleDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []uint8{255, 255, 255, 0})
	}

	x, err := Transform(img)
	require.NoError(t, err)
	for _, v := range x.Data() {
		require.Equal(t, float32(1), v)
	}
}

func TestGrayscaleHalfTransparent(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
	img.SetNRGBA(1, 0, color.NRGBA{B: 255, A: 255})

	gray := Grayscale(img)
	assert.Equal(t, uint8(124), gray.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(29), gray.GrayAt(1, 0).Y)
}

func TestGrayscaleTransparentSources(t *testing.T) {
	palette := color.Palette{color.NRGBA{R: 255, G: 255, B: 255}, color.NRGBA{A: 255}}
	paletted := image.NewPaletted(image.Rect(0, 0, 2, 2), palette)
	assert.Equal(t, uint8(255), Grayscale(paletted).GrayAt(0, 0).Y)

	wide := image.NewNRGBA64(image.Rect(0, 0, 1, 1))
	wide.SetNRGBA64(0, 0, color.NRGBA64{R: 0xffff, G: 0xffff, B: 0xffff})
	assert.Equal(t, uint8(255), Grayscale(wide).GrayAt(0, 0).Y)
}

func TestTransparentPNGFromDisk(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 28, 28))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []uint8{255, 255, 255, 0})
	}

	loaded, err := LoadImage(writePNG(t, img))
	require.NoError(t, err)
	x, err := Transform(loaded)
	require.NoError(t, err)
	assert.Equal(t, float32(1), x.Data()[0])
}
