package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/udit1567/Home.auto/internal/detection"
	"github.com/udit1567/Home.auto/pkg/schema"
)

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h *Handler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(serviceName), RequestID(), AccessLog(), CORS())
	Register(r, h)
	return r
}

// Register binds the routes to r.
func Register(r gin.IRouter, h *Handler) {
	r.GET("/health", h.Health)

	r.GET("/get_data/:id", h.GetData)
	r.GET("/validate/:id", h.Validate)
	r.POST("/update", h.Update)
	for _, ch := range schema.AllChannels {
		r.GET(fmt.Sprintf("/get_d%d/:id", int(ch)+1), h.LatestChannel(ch))
	}

	r.POST("/detect_objects", h.DetectUpload(detection.ObjectsUpload))
	r.POST("/detect_plant_disease", h.DetectUpload(detection.PlantDiseaseUpload))
	r.POST("/detect_objects_base64", h.DetectBase64(detection.ObjectsBase64))
	r.POST("/detect_plant_disease_base64", h.DetectBase64(detection.PlantDiseaseBase64))
}

// RequestID tags each request with an X-Request-ID, reusing the caller's if present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// AccessLog writes one logrus line per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"request_id": c.GetString("request_id"),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request")
			return
		}
		entry.Info("request")
	}
}

// CORS allows browser dashboards on other origins.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
