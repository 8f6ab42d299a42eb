package helm

import (
	"context"
	"fmt"
	"path/filepath"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/helmpath"
	"helm.sh/helm/v3/pkg/repo"
)

func (hc *HelmClient) loadIndex(repoName string) (*repo.IndexFile, error) {
	path := filepath.Join(hc.settings.RepositoryCache, helmpath.CacheIndexFile(repoName))
	idx, err := repo.LoadIndexFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load index for repo '%s': %w", repoName, err)
	}
	return idx, nil
}

// ChartDetails lists every version of repo/name from the cached repository
// index. A non-empty version must be one of them.
func (hc *HelmClient) ChartDetails(ctx context.Context, repoName, name, version string) (*ChartDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := hc.loadIndex(repoName)
	if err != nil {
		return nil, err
	}
	versions, err := chartVersionsFromIndex(idx, repoName, name)
	if err != nil {
		return nil, err
	}
	if !hasVersion(versions, version) {
		return nil, fmt.Errorf("chart '%s/%s' version '%s': %w", repoName, name, version, ErrChartNotFound)
	}
	return &ChartDetails{Repo: repoName, Name: name, Versions: versions}, nil
}

// ChartVersions lists chartName across every configured repository, newest
// first.
func (hc *HelmClient) ChartVersions(ctx context.Context, chartName string) ([]ChartVersion, error) {
	repoFile, err := repo.LoadFile(hc.settings.RepositoryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load repository file: %w", err)
	}

	var out []ChartVersion
	for _, entry := range repoFile.Repositories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx, err := hc.loadIndex(entry.Name)
		if err != nil {
			hc.logger.Warn().Str("repo", entry.Name).Err(err).Msg("skipping repo without index")
			continue
		}
		versions, err := chartVersionsFromIndex(idx, entry.Name, chartName)
		if err != nil {
			continue
		}
		out = append(out, versions...)
	}
	SortVersions(out)
	return out, nil
}

// ChartValues returns the default values.yaml of repo/name at version as
// packaged. It returns "" when the chart ships no values file.
func (hc *HelmClient) ChartValues(ctx context.Context, repoName, name, version string) (string, error) {
	ch, err := hc.locateAndLoad(ctx, repoName, name, version)
	if err != nil {
		return "", err
	}
	return rawValuesFile(ch), nil
}

func (hc *HelmClient) locateAndLoad(ctx context.Context, repoName, name, version string) (*chart.Chart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref := repoName + "/" + name
	opts := action.ChartPathOptions{Version: version}

	hc.logger.Debug().Str("chart", ref).Str("version", version).Msg("locating chart")
	cp, err := opts.LocateChart(ref, hc.settings)
	if err != nil {
		return nil, fmt.Errorf("could not locate chart '%s' (version '%s'): %w", ref, version, err)
	}
	ch, err := loader.Load(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to load chart from path %s: %w", cp, err)
	}
	return ch, nil
}
