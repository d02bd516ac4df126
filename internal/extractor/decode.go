package extractor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
)

// DefaultMaxPixels caps the decoded bitmap at 5000x5000.
const DefaultMaxPixels = 25_000_000

// Decode reads an encoded image. Empty, truncated or unrecognised payloads
// fail with an image decode error, as do images whose header declares more
// than maxPixels pixels; those are rejected before any pixel data is
// decoded. maxPixels <= 0 means DefaultMaxPixels.
func Decode(r io.Reader, maxPixels int) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fserrors.WrapImageDecodeError(err, "extractor.Decode", "read image payload")
	}
	if len(data) == 0 {
		return nil, "", fserrors.NewImageDecodeError("extractor.Decode", "image payload is empty")
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fserrors.WrapImageDecodeError(err, "extractor.Decode", "decode image header").
			WithContext("bytes", len(data))
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return nil, "", fserrors.NewImageDecodeError("extractor.Decode",
			fmt.Sprintf("image is %dx%d, above the %d pixel limit", cfg.Width, cfg.Height, maxPixels))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fserrors.WrapImageDecodeError(err, "extractor.Decode", "decode image").
			WithContext("bytes", len(data))
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fserrors.NewImageDecodeError("extractor.Decode",
			fmt.Sprintf("image has empty bounds %v", b))
	}
	return img, format, nil
}
