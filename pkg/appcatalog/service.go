package appcatalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"chartdock/pkg/helm"
)

// ErrChartNotConfigured is returned for chart names missing from the catalog.
var ErrChartNotConfigured = errors.New("chart not found in configured list")

// RepoUpdater registers chart repositories so their indexes can be queried.
type RepoUpdater interface {
	UpdateRepos(ctx context.Context, charts []helm.ChartDefinition) error
}

// Service provides operations for the application catalog.
type Service struct {
	charts []ChartMeta
	repos  RepoUpdater
	logger zerolog.Logger
}

// NewService creates a new catalog service from a charts.yaml file.
func NewService(chartConfigPath string, repos RepoUpdater, logger zerolog.Logger) (*Service, error) {
	charts, err := LoadChartRegistryFromFile(chartConfigPath)
	if err != nil {
		return nil, fmt.Errorf("could not load chart registry: %w", err)
	}
	logger.Info().Int("charts", len(charts)).Str("path", chartConfigPath).Msg("loaded chart configurations")
	return NewServiceFromCharts(charts, repos, logger), nil
}

// NewServiceFromCharts creates a catalog service from an in-memory list.
func NewServiceFromCharts(charts []ChartMeta, repos RepoUpdater, logger zerolog.Logger) *Service {
	return &Service{charts: charts, repos: repos, logger: logger}
}

// SyncRepos registers every catalog repository with Helm. Failures are
// returned but the catalog stays usable for charts whose repo did load.
func (s *Service) SyncRepos(ctx context.Context) error {
	if s.repos == nil {
		return nil
	}
	defs := make([]helm.ChartDefinition, len(s.charts))
	for i, cm := range s.charts {
		defs[i] = helm.ChartDefinition{
			Name:    cm.Name,
			Chart:   cm.Chart,
			Version: cm.Version,
			RepoURL: cm.RepoURL,
		}
	}
	if err := s.repos.UpdateRepos(ctx, defs); err != nil {
		s.logger.Warn().Err(err).Msg("helm repo update failed")
		return err
	}
	return nil
}

// GetAvailableCharts returns the list of charts available for installation.
func (s *Service) GetAvailableCharts() []ChartMeta {
	out := make([]ChartMeta, len(s.charts))
	copy(out, s.charts)
	return out
}

// GetChartByName returns a chart's metadata by its simple name.
func (s *Service) GetChartByName(name string) (*ChartMeta, error) {
	for _, chart := range s.charts {
		if chart.Name == name {
			return &chart, nil
		}
	}
	return nil, fmt.Errorf("chart '%s': %w", name, ErrChartNotConfigured)
}
