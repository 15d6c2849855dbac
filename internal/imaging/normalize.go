// Package imaging turns an uploaded or captured photo into the black and
// white raster the OCR engine reads best.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	// Registered decoders for uploads.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"

	"github.com/liuscraft/orion-reader/internal/apperrors"
)

const (
	DefaultMaxDimension = 1200
	DefaultThreshold    = 150

	// MaxPixels bounds the raster a header may declare before any pixel
	// memory is allocated.
	MaxPixels = 50_000_000
)

// Normalizer downsamples oversized images and binarizes them. Both steps are
// fixed heuristics, not adaptive ones.
type Normalizer struct {
	// MaxDimension bounds the larger side of the output.
	MaxDimension int
	// Threshold is the luminance above which a pixel becomes white.
	Threshold uint8
}

func NewNormalizer(maxDimension, threshold int) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if threshold < 0 || threshold > 255 {
		threshold = DefaultThreshold
	}
	return &Normalizer{MaxDimension: maxDimension, Threshold: uint8(threshold)}
}

// Decode reads PNG, JPEG, GIF, BMP, TIFF or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperrors.ImageDecode("decode", errors.New("empty image payload"))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.ImageDecode("decode", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperrors.ImageDecode("decode", errors.New("image has zero width or height"))
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, apperrors.ImageDecode("decode",
			fmt.Errorf("image is %dx%d, larger than %d pixels", cfg.Width, cfg.Height, MaxPixels))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.ImageDecode("decode", err)
	}
	if err := Validate(img); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate rejects nil and zero-sized rasters.
func Validate(img image.Image) error {
	if img == nil {
		return apperrors.ImageDecode("validate", errors.New("no image"))
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return apperrors.ImageDecode("validate", errors.New("image has zero width or height"))
	}
	return nil
}

// Normalize converts img to luminance, scales it so its larger side is at
// most MaxDimension and applies the binary threshold. The caller validates
// the image first.
func (n *Normalizer) Normalize(img image.Image) *image.Gray {
	gray := toGray(img)

	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	if tw, th := n.TargetSize(w, h); tw != w || th != h {
		dst := image.NewGray(image.Rect(0, 0, tw, th))
		draw.CatmullRom.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)
		gray = dst
	}

	threshold(gray, n.Threshold)
	return gray
}

// TargetSize returns the output dimensions for a w×h input. The larger side
// becomes exactly MaxDimension and the other side keeps the aspect ratio,
// truncated, never below one pixel.
func (n *Normalizer) TargetSize(w, h int) (int, int) {
	longest := max(w, h)
	if longest <= n.MaxDimension {
		return w, h
	}
	scale := float64(n.MaxDimension) / float64(longest)
	tw, th := int(float64(w)*scale), int(float64(h)*scale)
	if w >= h {
		tw = n.MaxDimension
	} else {
		th = n.MaxDimension
	}
	return max(tw, 1), max(th, 1)
}

// EncodePNG serializes a normalized image for engines that take bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, apperrors.ImageDecode("encode", err)
	}
	return buf.Bytes(), nil
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return gray
}

func threshold(img *image.Gray, level uint8) {
	for i, v := range img.Pix {
		if v > level {
			img.Pix[i] = 255
		} else {
			img.Pix[i] = 0
		}
	}
}
