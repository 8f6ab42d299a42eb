package helm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/repo"
	helmtime "helm.sh/helm/v3/pkg/time"
)

func testIndex(t *testing.T) *repo.IndexFile {
	t.Helper()
	idx := repo.NewIndexFile()
	for _, v := range []string{"1.2.3", "1.10.0", "1.9.1", "2.0.0-rc.1"} {
		md := &chart.Metadata{APIVersion: chart.APIVersionV2, Name: "nginx", Version: v, AppVersion: "1.25"}
		require.NoError(t, idx.MustAdd(md, "nginx-"+v+".tgz", "https://charts.example.com", "sha256:abc"))
	}
	md := &chart.Metadata{APIVersion: chart.APIVersionV2, Name: "redis", Version: "18.0.0"}
	require.NoError(t, idx.MustAdd(md, "redis-18.0.0.tgz", "https://charts.example.com", "sha256:def"))
	return idx
}

func TestChartVersionsFromIndex(t *testing.T) {
	versions, err := chartVersionsFromIndex(testIndex(t), "bitnami", "nginx")
	require.NoError(t, err)

	var got []string
	for _, v := range versions {
		got = append(got, v.Version)
		assert.Equal(t, "bitnami", v.Repo)
		assert.Equal(t, "nginx", v.Name)
	}
	assert.Equal(t, []string{"2.0.0-rc.1", "1.10.0", "1.9.1", "1.2.3"}, got)
}

func TestChartVersionsFromIndex_Missing(t *testing.T) {
	_, err := chartVersionsFromIndex(testIndex(t), "bitnami", "wordpress")
	assert.ErrorIs(t, err, ErrChartNotFound)
}

func TestSortVersions(t *testing.T) {
	versions := []ChartVersion{
		{Repo: "b", Version: "1.0.0"},
		{Repo: "a", Version: "not-semver"},
		{Repo: "a", Version: "1.0.0"},
		{Repo: "a", Version: "v2.1.0"},
	}
	SortVersions(versions)

	assert.Equal(t, ChartVersion{Repo: "a", Version: "v2.1.0"}, versions[0])
	assert.Equal(t, ChartVersion{Repo: "a", Version: "1.0.0"}, versions[1])
	assert.Equal(t, ChartVersion{Repo: "b", Version: "1.0.0"}, versions[2])
	assert.Equal(t, "not-semver", versions[3].Version)
}

func TestHasVersion(t *testing.T) {
	versions := []ChartVersion{{Version: "1.0.0"}}
	assert.True(t, hasVersion(versions, ""))
	assert.True(t, hasVersion(versions, "1.0.0"))
	assert.False(t, hasVersion(versions, "2.0.0"))
}

func TestRawValuesFile(t *testing.T) {
	ch := &chart.Chart{Raw: []*chart.File{
		{Name: "Chart.yaml", Data: []byte("name: nginx")},
		{Name: "values.yaml", Data: []byte("# defaults\nreplicaCount: 1\n")},
	}}
	assert.Equal(t, "# defaults\nreplicaCount: 1\n", rawValuesFile(ch))
	assert.Equal(t, "", rawValuesFile(&chart.Chart{}))
	assert.Equal(t, "", rawValuesFile(nil))
}

func TestParseAndFormatValues(t *testing.T) {
	vals, err := parseValues("replicaCount: 2\nimage:\n  tag: latest\n")
	require.NoError(t, err)
	assert.Equal(t, float64(2), vals["replicaCount"])

	empty, err := parseValues("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parseValues("a: [unterminated")
	assert.Error(t, err)

	text, err := formatValues(vals)
	require.NoError(t, err)
	assert.Contains(t, text, "replicaCount: 2")
	assert.Contains(t, text, "tag: latest")

	text, err = formatValues(nil)
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestUpdateDetailsFrom(t *testing.T) {
	deployed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rel := &release.Release{
		Name:      "web",
		Namespace: "apps",
		Version:   3,
		Info: &release.Info{
			Status:       release.StatusDeployed,
			Notes:        "Visit http://web",
			LastDeployed: helmtime.Time{Time: deployed},
		},
		Chart: &chart.Chart{Metadata: &chart.Metadata{Name: "nginx", Version: "1.2.3", AppVersion: "1.25"}},
	}

	details := updateDetailsFrom(rel)
	assert.Equal(t, "Visit http://web", details.Log)
	assert.Equal(t, ReleaseInfo{
		Name:         "web",
		Namespace:    "apps",
		Revision:     3,
		Updated:      deployed.Format(time.RFC3339),
		Status:       "deployed",
		Chart:        "nginx",
		ChartVersion: "1.2.3",
		AppVersion:   "1.25",
	}, details.Release)

	assert.Equal(t, ReleaseInfo{}, releaseInfoFrom(nil))
}
