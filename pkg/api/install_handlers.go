package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chartdock/pkg/dock"
	"chartdock/pkg/helm"
	"chartdock/pkg/installchart"
)

// CreateInstallTabRequest opens an install tab. Either Catalog names a chart
// from the catalog, or Repo and Name point at a chart directly.
type CreateInstallTabRequest struct {
	Catalog    string `json:"catalog"`
	Repo       string `json:"repo"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Title      string `json:"title"`
	Background bool   `json:"background"`
}

// UpdateInstallTabRequest edits an install form. A changed version reloads
// the chart's default values.
type UpdateInstallTabRequest struct {
	installchart.FormPatch
	Version *string `json:"version,omitempty"`
}

type installTabResponse struct {
	Tab      dock.Tab                      `json:"tab"`
	Data     installchart.ChartInstallData `json:"data"`
	Versions []string                      `json:"versions,omitempty"`
	Details  *helm.ReleaseUpdateDetails    `json:"details,omitempty"`
	Ready    bool                          `json:"ready"`
}

func (h *APIHandler) installTab(id dock.TabID) (installTabResponse, error) {
	tab, ok := h.dock.GetTab(id)
	if !ok {
		return installTabResponse{}, dock.ErrTabNotFound
	}
	data, err := h.installStore.Require(id)
	if err != nil {
		return installTabResponse{}, err
	}
	resp := installTabResponse{Tab: tab, Data: data, Ready: h.installStore.IsReady(id)}
	resp.Versions, _ = h.installStore.Versions(id)
	if details, ok := h.installStore.Details(id); ok {
		resp.Details = &details
	}
	return resp, nil
}

// CreateInstallTabHandler opens an install tab for a chart.
func (h *APIHandler) CreateInstallTabHandler(c *gin.Context) {
	var req CreateInstallTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chart := installchart.Chart{Repo: req.Repo, Name: req.Name, Version: req.Version}
	if req.Catalog != "" {
		meta, err := h.catalog.GetChartByName(req.Catalog)
		if err != nil {
			h.respondError(c, err)
			return
		}
		chart = installchart.Chart{Repo: meta.Repo(), Name: meta.ChartName(), Version: meta.Version}
		if req.Version != "" {
			chart.Version = req.Version
		}
	}
	if chart.Repo == "" || chart.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either catalog or repo and name are required"})
		return
	}

	tab := h.installStore.CreateInstallChartTab(chart, dock.TabParams{Title: req.Title, Background: req.Background})
	resp, err := h.installTab(tab.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetInstallTabHandler returns an install tab's form and load state.
func (h *APIHandler) GetInstallTabHandler(c *gin.Context) {
	resp, err := h.installTab(tabID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateInstallTabHandler applies form edits.
func (h *APIHandler) UpdateInstallTabHandler(c *gin.Context) {
	id := tabID(c)
	var req UpdateInstallTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.installStore.UpdateForm(id, req.FormPatch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if req.Version != nil && *req.Version != rec.Version {
		if err := h.installStore.SelectVersion(c.Request.Context(), id, *req.Version); err != nil {
			h.respondError(c, err)
			return
		}
	}

	resp, err := h.installTab(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReloadInstallVersionsHandler refetches the chart's version list.
func (h *APIHandler) ReloadInstallVersionsHandler(c *gin.Context) {
	id := tabID(c)
	if err := h.installStore.LoadVersions(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	versions, _ := h.installStore.Versions(id)
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// InstallHandler installs the tab's chart.
func (h *APIHandler) InstallHandler(c *gin.Context) {
	details, err := h.installStore.Install(c.Request.Context(), tabID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.notifications.OK("Installation complete: " + details.Release.Name)
	c.JSON(http.StatusOK, details)
}
