package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/terra-ai/eco-verify/internal/apperrors"
	"github.com/terra-ai/eco-verify/internal/auth"
	"github.com/terra-ai/eco-verify/internal/changedetect"
	"github.com/terra-ai/eco-verify/internal/detector"
	"github.com/terra-ai/eco-verify/internal/logging"
	"github.com/terra-ai/eco-verify/internal/repository"
	"github.com/terra-ai/eco-verify/internal/rewards"
	"github.com/terra-ai/eco-verify/internal/satellite"
	"github.com/terra-ai/eco-verify/internal/usecase"
)

// MaxUploadSize caps a single uploaded image.
const MaxUploadSize = 10 << 20

// two images plus multipart overhead
const maxRequestSize = 2*MaxUploadSize + 1<<20

// Service is the use case surface the routes depend on.
type Service interface {
	VerifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *detector.VerificationResult, error)
	CompareChange(ctx context.Context, userID string, before, after []byte, activity string) (string, *changedetect.Result, error)
	CompareWithImagery(ctx context.Context, userID string, before []byte, loc satellite.Options, activity string) (string, *changedetect.Result, error)
	FetchImagery(ctx context.Context, opts satellite.Options) (*satellite.Image, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type verifyResponse struct {
	RequestID string `json:"request_id"`
	detector.VerificationResult
}

type compareResponse struct {
	RequestID string `json:"request_id"`
	changedetect.Result
}

// RegisterRoutes wires the HTTP handlers to the Gin router. feed serves the
// live event stream and may be nil.
func RegisterRoutes(router *gin.Engine, svc Service, feed http.Handler, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/rewards", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"labels":     rewards.DefaultLabels,
			"activities": rewards.DefaultActivities,
		})
	})

	if feed != nil {
		router.GET("/ws", gin.WrapH(feed))
	}

	protected := router.Group("/", authMiddleware)

	protected.POST("/verify", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		limitBody(c)

		data, ok := readImage(c, "image", true)
		if !ok {
			return
		}

		requestID, result, err := svc.VerifyImage(c.Request.Context(), userID, data)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, verifyResponse{RequestID: requestID, VerificationResult: *result})
	})

	protected.POST("/compare", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		limitBody(c)

		before, ok := readImage(c, "before", true)
		if !ok {
			return
		}
		after, ok := readImage(c, "after", false)
		if !ok {
			return
		}

		activity := strings.TrimSpace(c.PostForm("activity_type"))
		if activity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "activity_type is required"})
			return
		}

		var (
			requestID string
			result    *changedetect.Result
			err       error
		)
		if after != nil {
			requestID, result, err = svc.CompareChange(c.Request.Context(), userID, before, after, activity)
		} else {
			loc, perr := parseLocation(c.PostForm)
			if perr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
				return
			}
			requestID, result, err = svc.CompareWithImagery(c.Request.Context(), userID, before, loc, activity)
		}
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, compareResponse{RequestID: requestID, Result: *result})
	})

	protected.GET("/result/:id", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		log, err := svc.GetResult(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, log)
	})

	protected.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	protected.GET("/satellite", func(c *gin.Context) {
		opts, err := parseLocation(c.Query)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if opts.Width, err = optionalInt(c.Query("width"), "width"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if opts.Height, err = optionalInt(c.Query("height"), "height"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		img, err := svc.FetchImagery(c.Request.Context(), opts)
		if err != nil {
			writeError(c, err)
			return
		}

		c.Header("Cache-Control", "public, max-age=3600")
		c.Data(http.StatusOK, img.ContentType, img.Data)
	})
}

func limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestSize)
}

// readImage reads an uploaded image part. It writes the error response itself
// and reports false when the request cannot proceed. A missing optional part
// yields nil data.
func readImage(c *gin.Context, field string, required bool) ([]byte, bool) {
	file, err := c.FormFile(field)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return nil, false
		case errors.Is(err, http.ErrMissingFile) && !required:
			return nil, true
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": field + " file is required"})
			return nil, false
		}
	}

	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": field + " exceeds the upload limit"})
		return nil, false
	}
	if !isImageContentType(file) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": field + " must be an image"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open " + field})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read " + field})
		return nil, false
	}
	if len(data) > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": field + " exceeds the upload limit"})
		return nil, false
	}
	return data, true
}

func isImageContentType(file *multipart.FileHeader) bool {
	contentType := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	return strings.HasPrefix(contentType, "image/")
}

func parseLocation(get func(string) string) (satellite.Options, error) {
	var opts satellite.Options
	latRaw, lngRaw := strings.TrimSpace(get("lat")), strings.TrimSpace(get("lng"))
	if latRaw == "" || lngRaw == "" {
		return opts, errors.New("lat and lng are required")
	}

	var err error
	if opts.Lat, err = strconv.ParseFloat(latRaw, 64); err != nil {
		return opts, errors.New("lat must be a number")
	}
	if opts.Lng, err = strconv.ParseFloat(lngRaw, 64); err != nil {
		return opts, errors.New("lng must be a number")
	}
	if opts.Zoom, err = optionalInt(get("zoom"), "zoom"); err != nil {
		return opts, err
	}
	return opts, nil
}

func optionalInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func writeError(c *gin.Context, err error) {
	status, body := http.StatusInternalServerError, gin.H{"error": "internal error"}

	var statusErr *satellite.StatusError
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &statusErr):
		status, body["error"] = statusErr.StatusCode, statusErr.Error()
	case errors.As(err, &appErr):
		status, body["error"] = appErr.StatusCode, appErr.Message
	}

	if requestID, ok := logging.RequestIDFrom(err); ok {
		body["request_id"] = requestID
	}
	c.JSON(status, body)
}
