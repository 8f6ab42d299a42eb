package helm

import (
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chartutil"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/repo"
	"sigs.k8s.io/yaml"
)

// chartVersionsFromIndex returns the versions of chartName listed in idx,
// newest first.
func chartVersionsFromIndex(idx *repo.IndexFile, repoName, chartName string) ([]ChartVersion, error) {
	entries, ok := idx.Entries[chartName]
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("chart '%s/%s': %w", repoName, chartName, ErrChartNotFound)
	}
	out := make([]ChartVersion, 0, len(entries))
	for _, cv := range entries {
		if cv == nil || cv.Metadata == nil {
			continue
		}
		out = append(out, ChartVersion{
			Repo:        repoName,
			Name:        cv.Name,
			Version:     cv.Version,
			AppVersion:  cv.AppVersion,
			Description: cv.Description,
			Created:     cv.Created,
			Deprecated:  cv.Deprecated,
		})
	}
	SortVersions(out)
	return out, nil
}

// SortVersions orders versions newest first by semver. Unparsable versions
// sort after valid ones, in reverse lexical order.
func SortVersions(versions []ChartVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i].Version)
		vj, errj := semver.NewVersion(versions[j].Version)
		switch {
		case erri == nil && errj == nil:
			if vi.Equal(vj) {
				return versions[i].Repo < versions[j].Repo
			}
			return vi.GreaterThan(vj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return versions[i].Version > versions[j].Version
		}
	})
}

// hasVersion reports whether version is listed; an empty version always matches.
func hasVersion(versions []ChartVersion, version string) bool {
	if version == "" {
		return true
	}
	for _, v := range versions {
		if v.Version == version {
			return true
		}
	}
	return false
}

// rawValuesFile returns the chart's values.yaml exactly as packaged, or "" when
// the chart ships none.
func rawValuesFile(ch *chart.Chart) string {
	if ch == nil {
		return ""
	}
	for _, f := range ch.Raw {
		if f != nil && f.Name == chartutil.ValuesfileName {
			return string(f.Data)
		}
	}
	return ""
}

// parseValues turns YAML values text into the map Helm actions expect.
func parseValues(text string) (map[string]interface{}, error) {
	if text == "" {
		return map[string]interface{}{}, nil
	}
	vals, err := chartutil.ReadValues([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse values: %w", err)
	}
	return vals.AsMap(), nil
}

// formatValues renders a values map as YAML text.
func formatValues(vals map[string]interface{}) (string, error) {
	if len(vals) == 0 {
		return "", nil
	}
	out, err := yaml.Marshal(vals)
	if err != nil {
		return "", fmt.Errorf("failed to render values: %w", err)
	}
	return string(out), nil
}

func releaseInfoFrom(rel *release.Release) ReleaseInfo {
	if rel == nil {
		return ReleaseInfo{}
	}
	info := ReleaseInfo{
		Name:      rel.Name,
		Namespace: rel.Namespace,
		Revision:  rel.Version,
	}
	if rel.Info != nil {
		info.Status = rel.Info.Status.String()
		info.Updated = rel.Info.LastDeployed.Time.Format(time.RFC3339)
	}
	if rel.Chart != nil && rel.Chart.Metadata != nil {
		info.Chart = rel.Chart.Metadata.Name
		info.ChartVersion = rel.Chart.Metadata.Version
		info.AppVersion = rel.Chart.Metadata.AppVersion
	}
	return info
}

func updateDetailsFrom(rel *release.Release) *ReleaseUpdateDetails {
	details := &ReleaseUpdateDetails{Release: releaseInfoFrom(rel)}
	if rel != nil && rel.Info != nil {
		details.Log = rel.Info.Notes
	}
	return details
}
