package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"imagedrop/internal/config"
	"imagedrop/internal/service"
)

// HealthCheck is one dependency reported by /healthz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type HandlerSet struct {
	log    zerolog.Logger
	cfg    *config.AppConfig
	images *service.ImageService
	checks []HealthCheck
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, images *service.ImageService, checks ...HealthCheck) HandlerSet {
	return HandlerSet{
		log:    log,
		cfg:    cfg,
		images: images,
		checks: checks,
	}
}

func (h HandlerSet) Register(router gin.IRouter) {
	router.GET("/healthz", h.Health)

	router.POST("/", h.UploadImage)
	router.GET("/", h.ListImages)
	router.GET("/:id", h.DownloadImage)
	router.DELETE("/:id", h.DeleteImage)
}
