package appcatalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartdock/pkg/helm"
)

const chartsYAML = `
charts:
  - name: nginx
    chart: bitnami/nginx
    version: 15.14.0
    repo_url: https://charts.bitnami.com/bitnami
    description: A popular web server and reverse proxy.
  - name: redis
    chart: bitnami/redis
    version: 18.10.1
    repo_url: https://charts.bitnami.com/bitnami
`

type fakeRepos struct {
	got []helm.ChartDefinition
	err error
}

func (f *fakeRepos) UpdateRepos(_ context.Context, charts []helm.ChartDefinition) error {
	f.got = charts
	return f.err
}

func writeCharts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "charts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewService(t *testing.T) {
	repos := &fakeRepos{}
	svc, err := NewService(writeCharts(t, chartsYAML), repos, zerolog.Nop())
	require.NoError(t, err)

	charts := svc.GetAvailableCharts()
	require.Len(t, charts, 2)
	assert.Equal(t, "bitnami", charts[0].Repo())
	assert.Equal(t, "nginx", charts[0].ChartName())

	require.NoError(t, svc.SyncRepos(context.Background()))
	require.Len(t, repos.got, 2)
	assert.Equal(t, "https://charts.bitnami.com/bitnami", repos.got[0].RepoURL)
}

func TestService_SyncReposError(t *testing.T) {
	repos := &fakeRepos{err: errors.New("offline")}
	svc := NewServiceFromCharts([]ChartMeta{{Name: "nginx", Chart: "bitnami/nginx"}}, repos, zerolog.Nop())
	assert.EqualError(t, svc.SyncRepos(context.Background()), "offline")
}

func TestService_GetChartByName(t *testing.T) {
	svc, err := NewService(writeCharts(t, chartsYAML), nil, zerolog.Nop())
	require.NoError(t, err)

	chart, err := svc.GetChartByName("redis")
	require.NoError(t, err)
	assert.Equal(t, "18.10.1", chart.Version)

	_, err = svc.GetChartByName("wordpress")
	assert.ErrorIs(t, err, ErrChartNotConfigured)
}

func TestLoadChartRegistryFromFile_Invalid(t *testing.T) {
	_, err := LoadChartRegistryFromFile(writeCharts(t, "charts:\n  - name: x\n    chart: nginx\n"))
	assert.ErrorContains(t, err, "expected repo/chartname")

	_, err = LoadChartRegistryFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestChartMeta_NameParts(t *testing.T) {
	c := ChartMeta{Chart: "plain"}
	assert.Equal(t, "plain", c.Repo())
	assert.Equal(t, "plain", c.ChartName())
}
