package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"chartdock/pkg/dock"
	"chartdock/pkg/helm"
	"chartdock/pkg/upgradechart"
)

// CreateUpgradeTabRequest opens (or reselects) the upgrade tab of a release.
type CreateUpgradeTabRequest struct {
	ReleaseName string `json:"releaseName" binding:"required"`
	Namespace   string `json:"namespace" binding:"required"`
	Title       string `json:"title"`
	Background  bool   `json:"background"`
}

type upgradeTabResponse struct {
	Tab      dock.Tab                      `json:"tab"`
	Data     upgradechart.ChartUpgradeData `json:"data"`
	Release  *helm.ReleaseInfo             `json:"release,omitempty"`
	Values   *string                       `json:"values,omitempty"`
	Versions []helm.ChartVersion           `json:"versions,omitempty"`
	Ready    bool                          `json:"ready"`
}

func (h *APIHandler) upgradeTab(id dock.TabID) (upgradeTabResponse, error) {
	tab, ok := h.dock.GetTab(id)
	if !ok {
		return upgradeTabResponse{}, dock.ErrTabNotFound
	}
	data, err := h.upgradeStore.Require(id)
	if err != nil {
		return upgradeTabResponse{}, err
	}
	resp := upgradeTabResponse{Tab: tab, Data: data, Ready: h.upgradeStore.IsReady(id)}
	if rel, ok := h.upgradeStore.GetRelease(id); ok {
		resp.Release = &rel
	}
	if values, ok := h.upgradeStore.Values(id); ok {
		resp.Values = &values
	}
	resp.Versions, _ = h.upgradeStore.Versions(id)
	return resp, nil
}

// CreateUpgradeTabHandler opens an upgrade tab for a release.
func (h *APIHandler) CreateUpgradeTabHandler(c *gin.Context) {
	var req CreateUpgradeTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tab := h.upgradeStore.CreateUpgradeChartTab(req.ReleaseName, req.Namespace,
		dock.TabParams{Title: req.Title, Background: req.Background})

	resp, err := h.upgradeTab(tab.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetUpgradeTabHandler returns an upgrade tab's release, values and versions.
func (h *APIHandler) GetUpgradeTabHandler(c *gin.Context) {
	resp, err := h.upgradeTab(tabID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SetUpgradeValuesHandler replaces the edited values text.
func (h *APIHandler) SetUpgradeValuesHandler(c *gin.Context) {
	var req struct {
		Values string `json:"values"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.upgradeStore.SetValues(tabID(c), req.Values); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpgradeHandler upgrades the tab's release to the posted chart version.
func (h *APIHandler) UpgradeHandler(c *gin.Context) {
	var version helm.ChartVersion
	if err := c.ShouldBindJSON(&version); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if version.Version == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version is required"})
		return
	}

	details, err := h.upgradeStore.Upgrade(c.Request.Context(), tabID(c), version)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.notifications.OK(fmt.Sprintf("Release %s successfully upgraded to version %s", details.Release.Name, version.Version))
	c.JSON(http.StatusOK, details)
}
