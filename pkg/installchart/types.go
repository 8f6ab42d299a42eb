package installchart

import (
	"context"

	"chartdock/pkg/helm"
)

// StorageKey is the persistence key of install tab records.
const StorageKey = "install_charts"

// DefaultValuesAttempts is how many times an empty values fetch is tried
// before giving up.
const DefaultValuesAttempts = 5

// ChartInstallData is the install form of one tab. A nil Values means the
// chart defaults have not been loaded yet; "" means loaded and empty.
type ChartInstallData struct {
	Name        string  `json:"name" yaml:"name"`
	Repo        string  `json:"repo" yaml:"repo"`
	Version     string  `json:"version" yaml:"version"`
	Values      *string `json:"values,omitempty" yaml:"values,omitempty"`
	ReleaseName string  `json:"releaseName,omitempty" yaml:"releaseName,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Namespace   string  `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	LastVersion bool    `json:"lastVersion,omitempty" yaml:"lastVersion,omitempty"`
}

// chartKey identifies what a record's loaders fetch for.
type chartKey struct {
	repo, name, version string
}

func (d ChartInstallData) key() chartKey {
	return chartKey{repo: d.Repo, name: d.Name, version: d.Version}
}

// versionlessKey drops the version. The version list covers every version of
// a chart, so picking another version does not invalidate it.
func (d ChartInstallData) versionlessKey() chartKey {
	return chartKey{repo: d.Repo, name: d.Name}
}

// Chart is the chart picked for a new install tab.
type Chart struct {
	Name    string `json:"name"`
	Repo    string `json:"repo"`
	Version string `json:"version"`
}

// FormPatch carries the install form fields the user edits directly. Nil
// fields are left unchanged.
type FormPatch struct {
	Values      *string `json:"values,omitempty"`
	ReleaseName *string `json:"releaseName,omitempty"`
	Description *string `json:"description,omitempty"`
	Namespace   *string `json:"namespace,omitempty"`
	LastVersion *bool   `json:"lastVersion,omitempty"`
}

// ChartFetcher reads chart metadata from a chart repository.
type ChartFetcher interface {
	ChartDetails(ctx context.Context, repo, name, version string) (*helm.ChartDetails, error)
	// ChartValues returns the chart's default values text. An empty result
	// means nothing usable came back and the caller may retry.
	ChartValues(ctx context.Context, repo, name, version string) (string, error)
}

// Installer installs a chart as a new release.
type Installer interface {
	InstallChart(ctx context.Context, req helm.InstallRequest) (*helm.ReleaseUpdateDetails, error)
}
