// Package api exposes the recommendation service over HTTP.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/brittybidari/FashionRecSys/internal/health"
	"github.com/brittybidari/FashionRecSys/internal/limiter"
	"github.com/brittybidari/FashionRecSys/internal/recommend"
	"github.com/brittybidari/FashionRecSys/internal/storage"
)

// DefaultMaxUploadBytes caps the multipart body of /recommend.
const DefaultMaxUploadBytes int64 = 10 << 20

// Client-facing messages. Internal causes are logged, never returned.
const (
	WelcomeMessage        = "Welcome to the Fashion Recommendation API!"
	MsgNoImage            = "No image uploaded"
	MsgInvalidTopN        = "Invalid top_n parameter"
	MsgImageTooLarge      = "Image too large"
	MsgImageProcessing    = "Error processing the uploaded image. Please try again."
	MsgRecommendation     = "An error occurred during recommendation. Please try again later."
	MsgImageNotFound      = "Image not found"
	MsgImageUnavailable   = "Error reading image"
	MsgServiceUnavailable = "Service not ready"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RecommendResponse is the body of a successful /recommend call.
type RecommendResponse struct {
	RecommendedImages []string `json:"recommended_images"`
}

// Options wires the router. Service and Images are required; Health and
// Limiter are optional.
type Options struct {
	Service        *recommend.Service
	Images         storage.BlobStore
	Health         *health.Manager
	Limiter        *limiter.RateLimiter
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	svc       *recommend.Service
	images    storage.BlobStore
	health    *health.Manager
	maxUpload int64
	logger    zerolog.Logger
}

// NewRouter builds the gin engine with CORS, access logging, request
// metrics and the optional rate limit applied to every route.
func NewRouter(opts Options) *gin.Engine {
	s := &Server{
		svc:       opts.Service,
		images:    opts.Images,
		health:    opts.Health,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger.With().Str("component", "api").Logger(),
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}

	r := gin.New()
	r.Use(gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader}
	config.ExposeHeaders = []string{RequestIDHeader}
	r.Use(cors.New(config))

	r.Use(requestID(), requestMetrics(), accessLog(s.logger))
	if opts.Limiter != nil && opts.Limiter.Enabled() {
		r.Use(opts.Limiter.Middleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, WelcomeMessage)
	})
	r.POST("/recommend", s.recommend)
	r.GET("/image/*filename", s.image)

	r.GET("/healthz", s.liveness)
	r.GET("/readyz", s.readiness)
	r.GET("/health", s.healthReport)

	return r
}
