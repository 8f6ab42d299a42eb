package helm

import (
	"errors"
	"time"
)

// ErrChartNotFound is returned when a chart or chart version is missing from
// the repository index.
var ErrChartNotFound = errors.New("chart not found")

// ReleaseInfo defines information about an installed Helm release.
type ReleaseInfo struct {
	Name         string           `json:"name" yaml:"name"`
	Namespace    string           `json:"namespace" yaml:"namespace"`
	Revision     int              `json:"revision" yaml:"revision"`
	Updated      string           `json:"updated" yaml:"updated"` // ISO 8601 format
	Status       string           `json:"status" yaml:"status"`
	Chart        string           `json:"chart" yaml:"chart"`                 // Name of the chart (e.g., "nginx")
	ChartVersion string           `json:"chart_version" yaml:"chart_version"` // Version of the chart (e.g., "1.16.0")
	AppVersion   string           `json:"app_version" yaml:"app_version"`     // Application version from chart metadata
	NodePorts    map[string]int32 `json:"node_ports,omitempty" yaml:"node_ports,omitempty"`
}

// ReleaseUpdateDetails is the result of an install or upgrade.
type ReleaseUpdateDetails struct {
	Log     string      `json:"log" yaml:"log"` // Rendered NOTES.txt
	Release ReleaseInfo `json:"release" yaml:"release"`
}

// ChartVersion is one entry of a repository index.
type ChartVersion struct {
	Repo        string    `json:"repo" yaml:"repo"`
	Name        string    `json:"name" yaml:"name"`
	Version     string    `json:"version" yaml:"version"`
	AppVersion  string    `json:"app_version,omitempty" yaml:"app_version,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Created     time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Deprecated  bool      `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`
}

// ChartDetails lists every known version of one chart in one repository,
// newest first.
type ChartDetails struct {
	Repo     string         `json:"repo"`
	Name     string         `json:"name"`
	Versions []ChartVersion `json:"versions"`
}

// InstallRequest describes a chart installation. Values is YAML text.
type InstallRequest struct {
	Repo        string
	Chart       string
	Version     string
	Namespace   string
	ReleaseName string // Generated by Helm when empty
	Description string
	Values      string
}

// UpgradeRequest describes a release upgrade. Values is YAML text.
type UpgradeRequest struct {
	ReleaseName string
	Namespace   string
	Repo        string
	Chart       string
	Version     string
	Values      string
}

// ChartDefinition is used by HelmClient to register chart repositories.
type ChartDefinition struct {
	Name    string // User-friendly name (e.g., "nginx")
	Chart   string // Full chart name (e.g., "bitnami/nginx")
	Version string // Chart version
	RepoURL string // Helm repository URL
}
