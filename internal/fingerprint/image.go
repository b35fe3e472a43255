package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
)

// FileLoader decodes images from the local filesystem. Relative paths are
// resolved against BaseDir when it is set.
type FileLoader struct {
	BaseDir string
}

// Load reads and decodes the image at path.
func (l FileLoader) Load(path string) (image.Image, error) {
	if l.BaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.BaseDir, path)
	}
	f, err := os.Open(path) //nolint:gosec // paths come from the dataset or trusted clients
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Crop returns the part of img inside box, clipped to the image bounds.
// A zero box returns the whole image.
func Crop(img image.Image, box facematch.Box) (image.Image, error) {
	if box.IsZero() {
		return img, nil
	}

	b := img.Bounds()
	rect := CropRect(b, box)
	if rect.Empty() {
		return nil, fmt.Errorf("roi %v is outside the image %v", box, b)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, img, rect, draw.Src, nil)
	return dst, nil
}

// CropRect returns the pixels of bounds that Crop copies for box, clipped to bounds.
// The crop's origin in box coordinates is CropRect(...).Min.Sub(bounds.Min).
func CropRect(bounds image.Rectangle, box facematch.Box) image.Rectangle {
	return image.Rect(
		bounds.Min.X+int(box.X1), bounds.Min.Y+int(box.Y1),
		bounds.Min.X+int(box.X2), bounds.Min.Y+int(box.Y2),
	).Intersect(bounds)
}

// Resize scales img to exactly width x height.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// EncodeJPEG encodes img as a JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
