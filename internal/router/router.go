package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Opensyte/opensyte-sub008/internal/handler/api"
	"github.com/Opensyte/opensyte-sub008/internal/middleware"
	"github.com/Opensyte/opensyte-sub008/internal/rbac"
	"github.com/Opensyte/opensyte-sub008/internal/scheduler"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	service *scheduler.Service,
	authorizer rbac.Authorizer,
	logger *zap.Logger,
	apiKey string,
) {
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	scheduleHandler := api.NewScheduleHandler(service, authorizer, logger)

	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))
	apiGroup.Use(middleware.RequestLogger(logger))

	apiGroup.POST("/schedules", scheduleHandler.Handle)
	apiGroup.GET("/schedules", scheduleHandler.Handle)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
