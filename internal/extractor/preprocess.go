package extractor

import (
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

// ChannelOrder is the channel layout of the model input.
type ChannelOrder string

const (
	ChannelsBGR ChannelOrder = "bgr"
	ChannelsRGB ChannelOrder = "rgb"
)

// Normalization maps 8-bit channel values into the model's input range.
type Normalization string

const (
	// NormMobileNet scales to [-1, 1]: x/127.5 - 1
	NormMobileNet Normalization = "mobilenet"
	// NormRescale scales to [0, 1]: x/255
	NormRescale Normalization = "rescale"
	// NormNone keeps raw 0..255 values
	NormNone Normalization = "none"
)

const (
	DefaultWidth  = 80
	DefaultHeight = 80
	channels      = 3
)

// ParseChannelOrder parses "bgr" or "rgb"; empty means bgr.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch o := ChannelOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return ChannelsBGR, nil
	case ChannelsBGR, ChannelsRGB:
		return o, nil
	default:
		return "", fmt.Errorf("unknown channel order %q", s)
	}
}

// ParseNormalization parses a normalization mode; empty means mobilenet.
func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(strings.ToLower(strings.TrimSpace(s))); n {
	case "":
		return NormMobileNet, nil
	case NormMobileNet, NormRescale, NormNone:
		return n, nil
	default:
		return "", fmt.Errorf("unknown normalization %q", s)
	}
}

// Tensor is a single HWC image tensor.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// At returns the value at row y, column x, channel c.
func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Nested returns the tensor as a [1][H][W][C] batch, the layout model
// servers expect in JSON payloads.
func (t Tensor) Nested() [][][][]float32 {
	img := make([][][]float32, t.Height)
	for y := range img {
		row := make([][]float32, t.Width)
		for x := range row {
			off := (y*t.Width + x) * t.Channels
			row[x] = t.Data[off : off+t.Channels : off+t.Channels]
		}
		img[y] = row
	}
	return [][][][]float32{img}
}

// Preprocessor resizes and normalises decoded images. The corpus builder
// and the query path share one configuration so their inputs match.
type Preprocessor struct {
	Width         int
	Height        int
	Order         ChannelOrder
	Normalization Normalization
}

// DefaultPreprocessor returns the 80x80 BGR MobileNet configuration.
func DefaultPreprocessor() Preprocessor {
	return Preprocessor{
		Width:         DefaultWidth,
		Height:        DefaultHeight,
		Order:         ChannelsBGR,
		Normalization: NormMobileNet,
	}
}

// Validate checks the configuration.
func (p Preprocessor) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", p.Width, p.Height)
	}
	if _, err := ParseChannelOrder(string(p.Order)); err != nil {
		return err
	}
	if _, err := ParseNormalization(string(p.Normalization)); err != nil {
		return err
	}
	return nil
}

// Dim is the length of the flattened tensor.
func (p Preprocessor) Dim() int { return p.Width * p.Height * channels }

// Process resizes img with bilinear interpolation and returns the
// normalised HWC tensor.
func (p Preprocessor) Process(img image.Image) Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	order := p.Order
	if order == "" {
		order = ChannelsBGR
	}
	scale, shift := p.affine()

	t := Tensor{Height: p.Height, Width: p.Width, Channels: channels, Data: make([]float32, p.Dim())}
	for y := 0; y < p.Height; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+p.Width*4]
		for x := 0; x < p.Width; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			off := (y*p.Width + x) * channels
			if order == ChannelsBGR {
				r, b = b, r
			}
			t.Data[off] = float32(r)*scale + shift
			t.Data[off+1] = float32(g)*scale + shift
			t.Data[off+2] = float32(b)*scale + shift
		}
	}
	return t
}

func (p Preprocessor) affine() (scale, shift float32) {
	switch p.Normalization {
	case NormRescale:
		return 1.0 / 255.0, 0
	case NormNone:
		return 1, 0
	default:
		return 1.0 / 127.5, -1
	}
}
