package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/metrics"
	"github.com/Brownie44l1/dogs-api/internal/stats"
	"github.com/Brownie44l1/dogs-api/internal/tasks"
)

type HistorySource interface {
	History(ctx context.Context) (stats.History, error)
}

type Handler struct {
	images  db.ImagesInterface
	queue   tasks.Producer
	history HistorySource
	metrics *metrics.Collector

	uploadLimit int64
	waitTimeout time.Duration
}

type Options struct {
	// UploadLimit is the largest accepted image in bytes.
	UploadLimit int64
	// WaitTimeout bounds how long /api/predict/image waits for its task.
	WaitTimeout time.Duration
	Metrics     *metrics.Collector
}

func NewHandler(images db.ImagesInterface, queue tasks.Producer, history HistorySource, opts Options) *Handler {
	return &Handler{
		images:      images,
		queue:       queue,
		history:     history,
		metrics:     opts.Metrics,
		uploadLimit: opts.UploadLimit,
		waitTimeout: opts.WaitTimeout,
	}
}

// Response is the envelope every JSON success body uses.
type Response struct {
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

// Register mounts every route on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)

	api := e.Group("/api")
	api.POST("/upload", h.Upload)
	api.POST("/predict", h.Predict)
	api.POST("/predict/image", h.PredictFromImage)
	api.GET("/images", h.ListImages)
	api.GET("/images/:id", h.GetImage)
	api.GET("/images/:id/view", h.ViewImage)
	api.DELETE("/images/:id", h.DeleteImage)
	api.GET("/stats", h.Stats)
	api.GET("/tasks/:task_id", h.TaskStatus)
}

func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Stanford Dogs classifier."})
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) uploadLimitText() string {
	return humanize.Bytes(uint64(h.uploadLimit))
}
