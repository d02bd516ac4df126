package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	fserrors "github.com/brittybidari/FashionRecSys/internal/errors"
	"github.com/brittybidari/FashionRecSys/internal/health"
	"github.com/brittybidari/FashionRecSys/internal/metrics"
	"github.com/brittybidari/FashionRecSys/internal/storage"
)

// parseTopN accepts an absent value (0, the service default) or a positive
// integer.
func parseTopN(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("top_n must be positive")
	}
	return n, nil
}

func (s *Server) recommend(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: MsgServiceUnavailable})
		return
	}
	if c.Request.ContentLength > s.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: MsgImageTooLarge})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: MsgImageTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: MsgNoImage})
		return
	}

	n, err := parseTopN(c.Query("top_n"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: MsgInvalidTopN})
		return
	}

	f, err := fh.Open()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: MsgImageProcessing})
		return
	}
	defer func() { _ = f.Close() }()

	res, err := s.svc.Recommend(c.Request.Context(), f, n)
	if err != nil {
		_ = c.Error(err)
		if fserrors.IsImageDecode(err) {
			s.logger.Warn().Err(err).Str("upload", fh.Filename).Int64("size", fh.Size).Msg("Failed to process uploaded image")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: MsgImageProcessing})
			return
		}
		s.logger.Error().Err(err).Str("type", string(fserrors.TypeOf(err))).Msg("Recommendation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: MsgRecommendation})
		return
	}

	images := res.Filenames
	if images == nil {
		images = []string{}
	}
	c.JSON(http.StatusOK, RecommendResponse{RecommendedImages: images})
}

func (s *Server) image(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("filename"), "/")
	if name == "" || s.images == nil {
		metrics.ImagesServedTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: MsgImageNotFound})
		return
	}

	ctx := c.Request.Context()
	info, err := s.images.Stat(ctx, name)
	if err == nil {
		rc, openErr := s.images.Open(ctx, name)
		if openErr == nil {
			defer func() { _ = rc.Close() }()
			metrics.ImagesServedTotal.WithLabelValues("ok").Inc()
			c.DataFromReader(http.StatusOK, info.Size, storage.ContentType(name), rc, nil)
			return
		}
		err = openErr
	}

	if storage.IsNotFoundError(err) || errors.Is(err, storage.ErrInvalidKey) {
		metrics.ImagesServedTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: MsgImageNotFound})
		return
	}
	_ = c.Error(err)
	s.logger.Error().Err(err).Str("image", name).Msg("Failed to read catalog image")
	metrics.ImagesServedTotal.WithLabelValues("error").Inc()
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: MsgImageUnavailable})
}

func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readiness(c *gin.Context) {
	if s.health == nil || !s.health.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) healthReport(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: MsgServiceUnavailable})
		return
	}
	report := s.health.CheckHealth(c.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}
