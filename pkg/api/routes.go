package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures the Gin router with all API routes.
func SetupRouter(handler *APIHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(handler.logger))

	// Basic CORS middleware (allow all for now, refine for production)
	router.Use(CORSMiddleware())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	if handler.metrics != nil {
		router.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	apiGroup := router.Group("/api")
	{
		// Chart catalog and release endpoints
		apiGroup.GET("/charts", handler.GetChartsHandler)
		apiGroup.GET("/releases", handler.ListReleasesHandler)
		apiGroup.DELETE("/releases/:namespace/:releaseName", handler.UninstallReleaseHandler)

		// Dock tabs
		apiGroup.GET("/tabs", handler.ListTabsHandler)
		apiGroup.POST("/tabs/:tabId/select", handler.SelectTabHandler)
		apiGroup.DELETE("/tabs/:tabId", handler.CloseTabHandler)

		// Install tabs
		apiGroup.POST("/install-tabs", handler.CreateInstallTabHandler)
		apiGroup.GET("/install-tabs/:tabId", handler.GetInstallTabHandler)
		apiGroup.PATCH("/install-tabs/:tabId", handler.UpdateInstallTabHandler)
		apiGroup.POST("/install-tabs/:tabId/versions/reload", handler.ReloadInstallVersionsHandler)
		apiGroup.POST("/install-tabs/:tabId/install", handler.InstallHandler)

		// Upgrade tabs
		apiGroup.POST("/upgrade-tabs", handler.CreateUpgradeTabHandler)
		apiGroup.GET("/upgrade-tabs/:tabId", handler.GetUpgradeTabHandler)
		apiGroup.PUT("/upgrade-tabs/:tabId/values", handler.SetUpgradeValuesHandler)
		apiGroup.POST("/upgrade-tabs/:tabId/upgrade", handler.UpgradeHandler)

		apiGroup.GET("/notifications", handler.ListNotificationsHandler)
	}
	return router
}
