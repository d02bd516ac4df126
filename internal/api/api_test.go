package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
	"github.com/brittybidari/FashionRecSys/internal/extractor"
	"github.com/brittybidari/FashionRecSys/internal/health"
	"github.com/brittybidari/FashionRecSys/internal/limiter"
	"github.com/brittybidari/FashionRecSys/internal/logging"
	"github.com/brittybidari/FashionRecSys/internal/recommend"
	"github.com/brittybidari/FashionRecSys/internal/similarity"
	"github.com/brittybidari/FashionRecSys/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var catalog = []struct {
	name string
	c    color.RGBA
}{
	{"red.jpg", color.RGBA{R: 255, A: 255}},
	{"green.jpg", color.RGBA{G: 255, A: 255}},
	{"blue.jpg", color.RGBA{B: 255, A: 255}},
	{"purple.jpg", color.RGBA{R: 128, B: 128, A: 255}},
}

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newExtractor(t *testing.T) *extractor.Extractor {
	t.Helper()
	ex, err := extractor.New(extractor.Preprocessor{
		Width:         2,
		Height:        2,
		Order:         extractor.ChannelsRGB,
		Normalization: extractor.NormRescale,
	}, extractor.IdentityModel{}, extractor.Options{Logger: logging.DiscardLogger()})
	require.NoError(t, err)
	return ex
}

// newCatalog embeds each catalog colour with the same extractor the
// service uses and writes the images to a local store.
func newCatalog(t *testing.T, ex *extractor.Extractor) (*corpus.Corpus, *storage.LocalStore) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "images")
	require.NoError(t, os.Mkdir(dir, 0o755))

	var vectors []core.Embedding
	var names []string
	for _, item := range catalog {
		data := solidPNG(t, item.c)
		require.NoError(t, os.WriteFile(filepath.Join(dir, item.name), data, 0o644))
		emb, err := ex.Extract(context.Background(), bytes.NewReader(data))
		require.NoError(t, err)
		vectors = append(vectors, emb)
		names = append(names, item.name)
	}
	c, err := corpus.New(vectors, names)
	require.NoError(t, err)

	store, err := storage.NewLocalStore(dir)
	require.NoError(t, err)
	return c, store
}

func newService(t *testing.T, c *corpus.Corpus, emb recommend.Embedder) *recommend.Service {
	t.Helper()
	svc, err := recommend.New(recommend.Deps{
		Embedder: emb,
		Engine:   similarity.NewEngine(c, similarity.Options{}),
		Logger:   logging.DiscardLogger(),
	}, recommend.DefaultConfig())
	require.NoError(t, err)
	return svc
}

func newTestRouter(t *testing.T, mutate func(*Options)) (*gin.Engine, *corpus.Corpus) {
	t.Helper()
	ex := newExtractor(t)
	c, store := newCatalog(t, ex)
	opts := Options{
		Service: newService(t, c, ex),
		Images:  store,
		Logger:  logging.DiscardLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRouter(opts), c
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postImage(t *testing.T, r http.Handler, target, field string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, field, "upload.png", data)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func decodeRecommendation(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp RecommendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.RecommendedImages
}

func TestWelcome(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, WelcomeMessage, w.Body.String())
}

func TestRecommend(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	red := solidPNG(t, catalog[0].c)

	t.Run("default top_n", func(t *testing.T) {
		w := postImage(t, r, "/recommend", "image", red)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		// five requested; the query itself is excluded, leaving the four catalog entries
		assert.Equal(t, []string{"red.jpg", "purple.jpg", "green.jpg", "blue.jpg"}, decodeRecommendation(t, w))
	})

	t.Run("explicit top_n", func(t *testing.T) {
		w := postImage(t, r, "/recommend?top_n=2", "image", red)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"red.jpg", "purple.jpg"}, decodeRecommendation(t, w))
	})

	t.Run("identical uploads give identical results", func(t *testing.T) {
		a := postImage(t, r, "/recommend", "image", red)
		b := postImage(t, r, "/recommend", "image", red)
		assert.Equal(t, a.Body.String(), b.Body.String())
	})
}

func TestRecommendClientErrors(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	red := solidPNG(t, catalog[0].c)

	t.Run("missing image field", func(t *testing.T) {
		w := postImage(t, r, "/recommend", "file", red)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, MsgNoImage, decodeError(t, w))
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/recommend", bytes.NewReader(red))
		req.Header.Set("Content-Type", "image/png")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, MsgNoImage, decodeError(t, w))
	})

	for _, q := range []string{"abc", "0", "-3", "1.5"} {
		t.Run("invalid top_n "+q, func(t *testing.T) {
			w := postImage(t, r, "/recommend?top_n="+q, "image", red)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, MsgInvalidTopN, decodeError(t, w))
		})
	}
}

func TestRecommendImageTooLarge(t *testing.T) {
	r, _ := newTestRouter(t, func(o *Options) { o.MaxUploadBytes = 64 })

	w := postImage(t, r, "/recommend", "image", bytes.Repeat([]byte{0xff}, 1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, MsgImageTooLarge, decodeError(t, w))
}

func TestRecommendImageProcessingErrors(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	t.Run("zero byte upload", func(t *testing.T) {
		w := postImage(t, r, "/recommend", "image", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, MsgImageProcessing, decodeError(t, w))
	})

	t.Run("not an image", func(t *testing.T) {
		w := postImage(t, r, "/recommend", "image", []byte("plain text, not pixels"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, MsgImageProcessing, decodeError(t, w))
	})
}

type wrongDimEmbedder struct{}

func (wrongDimEmbedder) Extract(_ context.Context, r io.Reader) (core.Embedding, error) {
	_, _ = io.Copy(io.Discard, r)
	return core.Embedding{1, 2, 3}, nil
}

func TestRecommendComputationError(t *testing.T) {
	ex := newExtractor(t)
	c, store := newCatalog(t, ex)
	r := NewRouter(Options{
		Service: newService(t, c, wrongDimEmbedder{}),
		Images:  store,
		Logger:  logging.DiscardLogger(),
	})

	w := postImage(t, r, "/recommend", "image", solidPNG(t, catalog[0].c))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, MsgRecommendation, decodeError(t, w))
}

func TestRecommendEmptyCorpus(t *testing.T) {
	ex := newExtractor(t)
	empty, err := corpus.New(nil, nil)
	require.NoError(t, err)
	r := NewRouter(Options{Service: newService(t, empty, ex), Logger: logging.DiscardLogger()})

	w := postImage(t, r, "/recommend", "image", solidPNG(t, catalog[0].c))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"recommended_images":[]}`, w.Body.String())
}

func TestRecommendWithoutService(t *testing.T) {
	r := NewRouter(Options{Logger: logging.DiscardLogger()})
	w := postImage(t, r, "/recommend", "image", []byte("x"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServeImage(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/image/red.jpg", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
		assert.Equal(t, solidPNG(t, catalog[0].c), w.Body.Bytes())
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/image/nope.jpg", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, MsgImageNotFound, decodeError(t, w))
	})

	t.Run("no filename", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/image/", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestServeImageStaysInsideCatalog(t *testing.T) {
	ex := newExtractor(t)
	c, store := newCatalog(t, ex)
	outside := filepath.Join(filepath.Dir(store.Root()), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	r := NewRouter(Options{Service: newService(t, c, ex), Images: store, Logger: logging.DiscardLogger()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/image/../secret.txt", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, MsgImageNotFound, decodeError(t, w))
}

func TestHealthEndpoints(t *testing.T) {
	mgr := health.NewManager("test", logging.DiscardLogger(), noop.NewTracerProvider().Tracer("test"))
	r, c := newTestRouter(t, func(o *Options) { o.Health = mgr })
	mgr.RegisterChecker(health.NewCorpusChecker(c))

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)

	mgr.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	w := get("/health")
	require.Equal(t, http.StatusOK, w.Code)
	var report health.SystemHealth
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Contains(t, report.Components, "corpus")
}

func TestRateLimit(t *testing.T) {
	r, _ := newTestRouter(t, func(o *Options) {
		o.Limiter = limiter.NewRateLimiter(limiter.Config{RPS: 1, Burst: 1})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCORS(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://shop.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "trace-abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "trace-abc", w.Header().Get(RequestIDHeader))
}

func TestParseTopN(t *testing.T) {
	n, err := parseTopN("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = parseTopN("7")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = parseTopN("0")
	assert.Error(t, err)
}
