package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chartdock/pkg/appcatalog"
	"chartdock/pkg/dock"
	"chartdock/pkg/helm"
	"chartdock/pkg/installchart"
	"chartdock/pkg/metrics"
	"chartdock/pkg/notifications"
	"chartdock/pkg/tabstore"
	"chartdock/pkg/upgradechart"
)

// Catalog lists the charts offered for installation.
type Catalog interface {
	GetAvailableCharts() []appcatalog.ChartMeta
	GetChartByName(name string) (*appcatalog.ChartMeta, error)
}

// ReleaseManager lists and removes installed releases.
type ReleaseManager interface {
	ListInstalledReleases(ctx context.Context, namespace string) ([]helm.ReleaseInfo, error)
	UninstallRelease(ctx context.Context, name, namespace string) error
}

// APIHandler holds dependencies for API handlers.
type APIHandler struct {
	catalog       Catalog
	releases      ReleaseManager
	dock          *dock.Dock
	installStore  *installchart.Store
	upgradeStore  *upgradechart.Store
	notifications *notifications.Center
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// Deps groups what the API serves.
type Deps struct {
	Catalog       Catalog
	Releases      ReleaseManager
	Dock          *dock.Dock
	InstallStore  *installchart.Store
	UpgradeStore  *upgradechart.Store
	Notifications *notifications.Center
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(deps Deps) *APIHandler {
	return &APIHandler{
		catalog:       deps.Catalog,
		releases:      deps.Releases,
		dock:          deps.Dock,
		installStore:  deps.InstallStore,
		upgradeStore:  deps.UpgradeStore,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		logger:        deps.Logger.With().Str("component", "api").Logger(),
	}
}

// respondError maps domain errors to HTTP status codes.
func (h *APIHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tabstore.ErrNoData),
		errors.Is(err, dock.ErrTabNotFound),
		errors.Is(err, appcatalog.ErrChartNotConfigured),
		errors.Is(err, helm.ErrChartNotFound):
		status = http.StatusNotFound
	case errors.Is(err, upgradechart.ErrReleaseNotLoaded):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func tabID(c *gin.Context) dock.TabID {
	return dock.TabID(c.Param("tabId"))
}

// GetChartsHandler handles requests to list available charts.
func (h *APIHandler) GetChartsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.GetAvailableCharts())
}

// ListReleasesHandler lists installed releases, optionally in one namespace.
func (h *APIHandler) ListReleasesHandler(c *gin.Context) {
	releases, err := h.releases.ListInstalledReleases(c.Request.Context(), c.Query("namespace"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, releases)
}

// UninstallReleaseHandler handles requests to uninstall a release.
func (h *APIHandler) UninstallReleaseHandler(c *gin.Context) {
	name, namespace := c.Param("releaseName"), c.Param("namespace")
	if err := h.releases.UninstallRelease(c.Request.Context(), name, namespace); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Release '%s' uninstalled successfully.", name)})
}

// ListTabsHandler returns the dock state.
func (h *APIHandler) ListTabsHandler(c *gin.Context) {
	resp := gin.H{"tabs": h.dock.Tabs(), "open": h.dock.IsOpen()}
	if tab, ok := h.dock.SelectedTab(); ok {
		resp["selectedTabId"] = tab.ID
	}
	c.JSON(http.StatusOK, resp)
}

// SelectTabHandler selects a tab, which triggers its data load.
func (h *APIHandler) SelectTabHandler(c *gin.Context) {
	if err := h.dock.SelectTab(tabID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CloseTabHandler closes a tab.
func (h *APIHandler) CloseTabHandler(c *gin.Context) {
	if err := h.dock.CloseTab(tabID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListNotificationsHandler returns notifications newer than ?since=<id>.
func (h *APIHandler) ListNotificationsHandler(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
			return
		}
		since = v
	}
	c.JSON(http.StatusOK, h.notifications.List(since))
}
