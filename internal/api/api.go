// Package api exposes the telemetry and detection services over HTTP with gin.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/udit1567/Home.auto/internal/detection"
	"github.com/udit1567/Home.auto/internal/imaging"
	"github.com/udit1567/Home.auto/internal/telemetry"
	"github.com/udit1567/Home.auto/pkg/schema"
)

// Handler serves every route. Telemetry routes answer errors as
// {"message": ...}, detection routes as {"error": ...}.
type Handler struct {
	Telemetry *telemetry.Service
	Detector  *detection.Service
	// MaxUploadBytes caps request bodies on detection routes; 0 means no cap.
	MaxUploadBytes int64
}

// --- Telemetry ---

func (h *Handler) GetData(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	rows, err := h.Telemetry.Readings(c.Request.Context(), userID)
	if errors.Is(err, telemetry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "No data found for this user."})
		return
	}
	if err != nil {
		h.telemetryError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) Validate(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	u, err := h.Telemetry.User(c.Request.Context(), userID)
	if errors.Is(err, telemetry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found."})
		return
	}
	if err != nil {
		h.telemetryError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) Update(c *gin.Context) {
	token := telemetry.TokenFromHeader(c.GetHeader("Authorization"))
	if token == "" {
		h.telemetryError(c, telemetry.ErrMissingInput)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "could not read request body"})
		return
	}
	var channels schema.Channels
	if err := json.Unmarshal(body, &channels); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("%v: %v", telemetry.ErrValidation, err)})
		return
	}

	r, err := h.Telemetry.Append(c.Request.Context(), token, channels)
	if err != nil {
		h.telemetryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Data successfully updated.",
		"data":    r,
	})
}

// LatestChannel returns the handler bound to one channel route.
func (h *Handler) LatestChannel(ch schema.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c)
		if !ok {
			return
		}
		v, err := h.Telemetry.Latest(c.Request.Context(), userID, ch)
		if errors.Is(err, telemetry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("No %s data found for this user.", ch)})
			return
		}
		if err != nil {
			h.telemetryError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			ch.String():  v.Value,
			"timestamp": v.FormattedTimestamp(),
		})
	}
}

func (h *Handler) telemetryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, telemetry.ErrMissingInput), errors.Is(err, telemetry.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, telemetry.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
	case errors.Is(err, telemetry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("api: telemetry request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "user id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// --- Detection ---

// DetectUpload serves multipart uploads in the "file" field.
func (h *Handler) DetectUpload(p detection.Profile) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.MaxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
		}
		fh, err := c.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			// A multipart form may carry the image inline instead.
			h.detect(c, p, imaging.Source{Base64: c.PostForm("image_base64")})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("could not read upload: %v", err)})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("could not read upload: %v", err)})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("could not read upload: %v", err)})
			return
		}
		if data == nil {
			data = []byte{}
		}

		h.detect(c, p, imaging.Source{Upload: data, Filename: fh.Filename, Base64: c.PostForm("image_base64")})
	}
}

// DetectBase64 serves JSON bodies of the form {"image_base64": "..."}.
func (h *Handler) DetectBase64(p detection.Profile) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.MaxUploadBytes > 0 {
			// base64 inflates payloads by 4/3.
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes/3*4+1024)
		}
		var body struct {
			ImageBase64 string `json:"image_base64"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid JSON body: %v", err)})
			return
		}
		h.detect(c, p, imaging.Source{Base64: body.ImageBase64})
	}
}

func (h *Handler) detect(c *gin.Context, p detection.Profile, src imaging.Source) {
	res, err := h.Detector.Detect(c.Request.Context(), p, src)
	if err != nil {
		h.detectionError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) detectionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, imaging.ErrMissingInput),
		errors.Is(err, imaging.ErrConflictingInput),
		errors.Is(err, imaging.ErrDecode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		// Client is gone; nobody reads this.
		c.AbortWithStatus(499)
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("api: detection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// --- Health ---

func (h *Handler) Health(c *gin.Context) {
	models := gin.H{}
	for k, loaded := range h.Detector.Loaded() {
		models[string(k)] = loaded
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "models": models})
}
