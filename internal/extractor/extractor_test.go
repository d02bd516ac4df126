package extractor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type stubModel struct {
	out   []float32
	err   error
	delay time.Duration
}

func (m stubModel) Name() string { return "stub" }

func (m stubModel) Predict(ctx context.Context, _ Tensor) ([]float32, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.out, m.err
}

func TestDecode(t *testing.T) {
	_, _, err := Decode(bytes.NewReader(nil), 0)
	require.Error(t, err)
	assert.True(t, fserrors.IsImageDecode(err))

	_, _, err = Decode(bytes.NewReader([]byte("definitely not an image")), 0)
	require.Error(t, err)
	assert.True(t, fserrors.IsImageDecode(err))

	img, format, err := Decode(bytes.NewReader(encodePNG(t, solidImage(4, 3, color.White))), 0)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestExtractIdentityDimension(t *testing.T) {
	ex, err := New(DefaultPreprocessor(), IdentityModel{}, Options{})
	require.NoError(t, err)

	for _, size := range []image.Point{{80, 80}, {200, 120}, {7, 300}} {
		data := encodePNG(t, solidImage(size.X, size.Y, color.RGBA{10, 20, 30, 255}))
		emb, err := ex.Extract(context.Background(), bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 80*80*3, emb.Dim())
	}
}

func TestExtractDeterministic(t *testing.T) {
	ex, err := New(DefaultPreprocessor(), IdentityModel{}, Options{})
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 50, 40))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	data := encodePNG(t, img)

	a, err := ex.Extract(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	b, err := ex.Extract(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractZeroBytes(t *testing.T) {
	ex, err := New(DefaultPreprocessor(), IdentityModel{}, Options{})
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), bytes.NewReader(nil))
	require.Error(t, err)
	assert.True(t, fserrors.IsImageDecode(err))
}

func TestExtractModelFailures(t *testing.T) {
	data := encodePNG(t, solidImage(8, 8, color.Black))

	ex, err := New(DefaultPreprocessor(), stubModel{delay: time.Second}, Options{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, fserrors.IsTimeout(err))

	ex, err = New(DefaultPreprocessor(), stubModel{err: errors.New("connection refused")}, Options{})
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), bytes.NewReader(data))
	require.Error(t, err)
	assert.Equal(t, fserrors.ErrorTypeNetwork, fserrors.TypeOf(err))

	ex, err = New(DefaultPreprocessor(), stubModel{out: []float32{1, 2, 3}}, Options{ExpectedDim: 4})
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, fserrors.IsComputation(err))

	_, err = ex.WithExpectedDim(3).Extract(context.Background(), bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Preprocessor{Width: 0, Height: 80}, IdentityModel{}, Options{})
	assert.Error(t, err)
	_, err = New(DefaultPreprocessor(), nil, Options{})
	assert.Error(t, err)
}

// pngHeader returns a PNG holding only the signature and an IHDR chunk that
// declares a w x h 8-bit grayscale image. Decoding the pixels would fail,
// but the header alone is enough for image.DecodeConfig.
func pngHeader(w, h uint32) []byte {
	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth; color type, compression, filter and interlace stay 0

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr[:]...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedImages(t *testing.T) {
	header := pngHeader(12000, 12000)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(header))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 12000, cfg.Width)

	_, _, err = Decode(bytes.NewReader(header), 0)
	require.Error(t, err)
	assert.True(t, fserrors.IsImageDecode(err))
	assert.Contains(t, err.Error(), "pixel limit")

	small := encodePNG(t, solidImage(4, 4, color.White))
	_, _, err = Decode(bytes.NewReader(small), 15)
	assert.True(t, fserrors.IsImageDecode(err))
	_, _, err = Decode(bytes.NewReader(small), 16)
	assert.NoError(t, err)
}

func TestExtractRejectsOversizedUploadQuickly(t *testing.T) {
	ex, err := New(DefaultPreprocessor(), IdentityModel{}, Options{Timeout: time.Second})
	require.NoError(t, err)

	start := time.Now()
	_, err = ex.Extract(context.Background(), bytes.NewReader(pngHeader(12000, 12000)))
	require.Error(t, err)
	assert.True(t, fserrors.IsImageDecode(err))
	assert.Less(t, time.Since(start), time.Second)

	ex, err = New(DefaultPreprocessor(), IdentityModel{}, Options{MaxPixels: 100})
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), bytes.NewReader(encodePNG(t, solidImage(20, 20, color.White))))
	assert.True(t, fserrors.IsImageDecode(err))
}

func TestExtractStopsAfterDeadline(t *testing.T) {
	ex, err := New(DefaultPreprocessor(), IdentityModel{}, Options{})
	require.NoError(t, err)
	data := encodePNG(t, solidImage(8, 8, color.Black))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.Extract(ctx, bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, fserrors.IsTimeout(err))

	_, err = ex.ExtractImage(ctx, solidImage(8, 8, color.Black))
	assert.True(t, fserrors.IsTimeout(err))
}
