package appcatalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChartMeta defines the metadata for an available chart.
type ChartMeta struct {
	Name        string `json:"name" yaml:"name"`                             // User-friendly name (e.g., "nginx")
	Chart       string `json:"chart" yaml:"chart"`                           // Full chart name (e.g., "bitnami/nginx")
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`   // Optional chart version
	RepoURL     string `json:"repo_url,omitempty" yaml:"repo_url,omitempty"` // Helm repository URL (if applicable)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Repo returns the repository part of Chart.
func (c ChartMeta) Repo() string {
	repo, _, _ := strings.Cut(c.Chart, "/")
	return repo
}

// ChartName returns the chart part of Chart.
func (c ChartMeta) ChartName() string {
	_, name, ok := strings.Cut(c.Chart, "/")
	if !ok {
		return c.Chart
	}
	return name
}

// ChartRegistry holds the list of configured charts.
type ChartRegistry struct {
	Charts []ChartMeta `yaml:"charts"`
}

// LoadChartRegistryFromFile loads chart configurations from a YAML file.
func LoadChartRegistryFromFile(filePath string) ([]ChartMeta, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart config file %s: %w", filePath, err)
	}

	var registry ChartRegistry
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chart config from %s: %w", filePath, err)
	}
	for i, c := range registry.Charts {
		if !strings.Contains(c.Chart, "/") {
			return nil, fmt.Errorf("chart #%d (%s) in %s: expected repo/chartname, got %q", i, c.Name, filePath, c.Chart)
		}
	}
	return registry.Charts, nil
}
