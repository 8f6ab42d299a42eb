package installchart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartdock/pkg/dock"
	"chartdock/pkg/helm"
	"chartdock/pkg/storage"
	"chartdock/pkg/tabstore"
)

type fakeFetcher struct {
	mu            sync.Mutex
	valuesCalls   int
	versionsCalls int

	values      []string // returned in order; the last one repeats
	valuesErr   error
	versionsErr error
	onValues    func(call int)
	onVersions  func(call int)
}

func (f *fakeFetcher) ChartDetails(_ context.Context, repo, name, _ string) (*helm.ChartDetails, error) {
	f.mu.Lock()
	f.versionsCalls++
	call := f.versionsCalls
	hook := f.onVersions
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if f.versionsErr != nil {
		return nil, f.versionsErr
	}
	return &helm.ChartDetails{
		Repo: repo,
		Name: name,
		Versions: []helm.ChartVersion{
			{Repo: repo, Name: name, Version: "2.0.0"},
			{Repo: repo, Name: name, Version: "1.0.0"},
		},
	}, nil
}

func (f *fakeFetcher) ChartValues(_ context.Context, _, _, _ string) (string, error) {
	f.mu.Lock()
	f.valuesCalls++
	call := f.valuesCalls
	hook := f.onValues
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if f.valuesErr != nil {
		return "", f.valuesErr
	}
	if len(f.values) == 0 {
		return "replicaCount: 1\n", nil
	}
	idx := call - 1
	if idx >= len(f.values) {
		idx = len(f.values) - 1
	}
	return f.values[idx], nil
}

func (f *fakeFetcher) calls() (values, versions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valuesCalls, f.versionsCalls
}

type fakeInstaller struct {
	req helm.InstallRequest
	err error
}

func (f *fakeInstaller) InstallChart(_ context.Context, req helm.InstallRequest) (*helm.ReleaseUpdateDetails, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &helm.ReleaseUpdateDetails{
		Log:     "NOTES: installed",
		Release: helm.ReleaseInfo{Name: req.ReleaseName, Namespace: req.Namespace, ChartVersion: req.Version},
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	errors []string
}

func (n *recordingNotifier) Error(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}
func (n *recordingNotifier) Info(string) {}
func (n *recordingNotifier) OK(string)   {}

func (n *recordingNotifier) errorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

type fixture struct {
	dock      *dock.Dock
	fetcher   *fakeFetcher
	installer *fakeInstaller
	notifier  *recordingNotifier
	store     *Store
}

func newFixture(t *testing.T, fetcher *fakeFetcher) *fixture {
	t.Helper()
	d := dock.New(zerolog.Nop())
	f := &fixture{
		dock:      d,
		fetcher:   fetcher,
		installer: &fakeInstaller{},
		notifier:  &recordingNotifier{},
	}
	f.store = NewStore(d, fetcher, f.installer, f.notifier, Options{
		Storage: storage.NewMemoryBackend(),
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(f.store.Dispose)
	return f
}

var nginx = Chart{Name: "nginx", Repo: "bitnami", Version: "1.0.0"}

func TestCreateInstallChartTab(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})

	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})

	assert.Equal(t, dock.KindInstallChart, tab.Kind)
	assert.Equal(t, "Helm Install: bitnami/nginx", tab.Title)

	rec, ok := f.store.GetData(tab.ID)
	require.True(t, ok)
	assert.Equal(t, ChartInstallData{
		Name:        "nginx",
		Repo:        "bitnami",
		Version:     "1.0.0",
		Namespace:   "default",
		ReleaseName: "",
		Description: "",
	}, rec)
	assert.Nil(t, rec.Values)

	_, selected := f.dock.SelectedTab()
	assert.False(t, selected, "background tab must not be selected")
}

func TestCreateInstallChartTab_TitleOverride(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})

	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Title: "my install", Background: true})

	assert.Equal(t, "my install", tab.Title)
}

func TestActivationLoadsOnce(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	require.NoError(t, f.store.Init())

	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{})
	f.store.Wait()

	values, versions := f.fetcher.calls()
	assert.Equal(t, 1, values)
	assert.Equal(t, 1, versions)
	assert.True(t, f.store.IsReady(tab.ID))

	got, ok := f.store.Versions(tab.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"2.0.0", "1.0.0"}, got)

	// Switching away and back does not refetch.
	f.dock.CreateTab(dock.KindTerminal, dock.TabParams{Title: "shell"})
	require.NoError(t, f.dock.SelectTab(tab.ID))
	f.store.Wait()

	values, versions = f.fetcher.calls()
	assert.Equal(t, 1, values)
	assert.Equal(t, 1, versions)
}

func TestLoadData_NothingMissing(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})
	require.NoError(t, f.store.LoadData(context.Background(), tab.ID))

	require.NoError(t, f.store.LoadData(context.Background(), tab.ID))

	values, versions := f.fetcher.calls()
	assert.Equal(t, 1, values)
	assert.Equal(t, 1, versions)
}

func TestOtherTabKindDoesNotLoad(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	require.NoError(t, f.store.Init())

	f.dock.CreateTab(dock.KindTerminal, dock.TabParams{Title: "shell"})
	f.dock.CreateTab(dock.KindUpgradeChart, dock.TabParams{Title: "Helm Upgrade: web"})
	f.store.Wait()

	values, versions := f.fetcher.calls()
	assert.Zero(t, values)
	assert.Zero(t, versions)
}

func TestLoadData_MissingRecord(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})

	err := f.store.LoadData(context.Background(), "nope")

	assert.ErrorIs(t, err, tabstore.ErrNoData)
}

func TestLoadValues_RetriesEmptyResults(t *testing.T) {
	fetcher := &fakeFetcher{values: []string{"", "", "", "image: nginx\n"}}
	f := newFixture(t, fetcher)
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})

	require.NoError(t, f.store.LoadValues(context.Background(), tab.ID))

	values, _ := fetcher.calls()
	assert.Equal(t, 4, values)
	rec, _ := f.store.GetData(tab.ID)
	require.NotNil(t, rec.Values)
	assert.Equal(t, "image: nginx\n", *rec.Values)
}

func TestLoadValues_GivesUpSilently(t *testing.T) {
	fetcher := &fakeFetcher{values: []string{""}}
	f := newFixture(t, fetcher)
	require.NoError(t, f.store.Init())

	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{})
	f.store.Wait()

	values, _ := fetcher.calls()
	assert.Equal(t, DefaultValuesAttempts, values)
	rec, _ := f.store.GetData(tab.ID)
	assert.Nil(t, rec.Values)
	assert.False(t, f.store.IsReady(tab.ID))
	assert.Zero(t, f.notifier.errorCount())
}

func TestLoadValues_ConfiguredAttempts(t *testing.T) {
	fetcher := &fakeFetcher{values: []string{""}}
	d := dock.New(zerolog.Nop())
	s := NewStore(d, fetcher, &fakeInstaller{}, &recordingNotifier{}, Options{ValuesAttempts: 2})
	tab := s.CreateInstallChartTab(nginx, dock.TabParams{Background: true})

	require.NoError(t, s.LoadValues(context.Background(), tab.ID))

	values, _ := fetcher.calls()
	assert.Equal(t, 2, values)
}

func TestLoadVersions_ClearsBeforeFetch(t *testing.T) {
	fetcher := &fakeFetcher{}
	f := newFixture(t, fetcher)
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})
	require.NoError(t, f.store.LoadVersions(context.Background(), tab.ID))
	_, ok := f.store.Versions(tab.ID)
	require.True(t, ok)

	var presentDuringFetch bool
	fetcher.onVersions = func(int) {
		_, presentDuringFetch = f.store.Versions(tab.ID)
	}
	require.NoError(t, f.store.LoadVersions(context.Background(), tab.ID))

	assert.False(t, presentDuringFetch)
	_, ok = f.store.Versions(tab.ID)
	assert.True(t, ok)
}

func TestLoadData_OneLoaderFails(t *testing.T) {
	fetcher := &fakeFetcher{versionsErr: errors.New("repo index unavailable")}
	f := newFixture(t, fetcher)
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})

	err := f.store.LoadData(context.Background(), tab.ID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo index unavailable")
	rec, _ := f.store.GetData(tab.ID)
	require.NotNil(t, rec.Values, "values from the successful loader are kept")
	_, ok := f.store.Versions(tab.ID)
	assert.False(t, ok)
}

func TestActivationFailureNotifies(t *testing.T) {
	fetcher := &fakeFetcher{valuesErr: errors.New("boom")}
	f := newFixture(t, fetcher)
	require.NoError(t, f.store.Init())

	f.store.CreateInstallChartTab(nginx, dock.TabParams{})
	f.store.Wait()

	assert.Equal(t, 1, f.notifier.errorCount())
}

func TestLoadValues_DiscardsStaleResult(t *testing.T) {
	fetcher := &fakeFetcher{}
	f := newFixture(t, fetcher)
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})

	fetcher.onValues = func(int) {
		f.store.UpdateData(tab.ID, func(cur ChartInstallData) ChartInstallData {
			cur.Version = "2.0.0"
			return cur
		})
	}
	require.NoError(t, f.store.LoadValues(context.Background(), tab.ID))

	rec, _ := f.store.GetData(tab.ID)
	assert.Equal(t, "2.0.0", rec.Version)
	assert.Nil(t, rec.Values)
}

func TestSelectVersion(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})
	require.NoError(t, f.store.LoadValues(context.Background(), tab.ID))

	require.NoError(t, f.store.SelectVersion(context.Background(), tab.ID, "2.0.0"))

	rec, _ := f.store.GetData(tab.ID)
	assert.Equal(t, "2.0.0", rec.Version)
	require.NotNil(t, rec.Values)
	values, _ := f.fetcher.calls()
	assert.Equal(t, 2, values)
}

func TestUpdateFormAndInstall(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})

	name, ns, vals := "web", "apps", "replicaCount: 3\n"
	rec, err := f.store.UpdateForm(tab.ID, FormPatch{ReleaseName: &name, Namespace: &ns, Values: &vals})
	require.NoError(t, err)
	assert.Equal(t, "web", rec.ReleaseName)

	details, err := f.store.Install(context.Background(), tab.ID)
	require.NoError(t, err)

	assert.Equal(t, helm.InstallRequest{
		Repo:        "bitnami",
		Chart:       "nginx",
		Version:     "1.0.0",
		Namespace:   "apps",
		ReleaseName: "web",
		Values:      "replicaCount: 3\n",
	}, f.installer.req)
	assert.Equal(t, "web", details.Release.Name)

	stored, ok := f.store.Details(tab.ID)
	require.True(t, ok)
	assert.Equal(t, *details, stored)
}

func TestUpdateForm_MissingTab(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	name := "web"

	_, err := f.store.UpdateForm("nope", FormPatch{ReleaseName: &name})

	assert.ErrorIs(t, err, tabstore.ErrNoData)
}

func TestCloseTabClearsState(t *testing.T) {
	f := newFixture(t, &fakeFetcher{})
	require.NoError(t, f.store.Init())
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{})
	f.store.Wait()

	require.NoError(t, f.dock.CloseTab(tab.ID))

	assert.False(t, f.store.HasData(tab.ID))
	_, ok := f.store.Versions(tab.ID)
	assert.False(t, ok)
}

func TestRecordsSurviveRestart(t *testing.T) {
	backend := storage.NewMemoryBackend()
	firstDock := dock.New(zerolog.Nop())
	require.NoError(t, firstDock.Restore(backend))
	first := NewStore(firstDock, &fakeFetcher{}, &fakeInstaller{}, &recordingNotifier{}, Options{Storage: backend})
	require.NoError(t, first.Init())
	tab := first.CreateInstallChartTab(nginx, dock.TabParams{Background: true})
	require.NoError(t, first.LoadValues(context.Background(), tab.ID))
	first.Dispose()

	secondDock := dock.New(zerolog.Nop())
	require.NoError(t, secondDock.Restore(backend))
	fetcher := &fakeFetcher{}
	second := NewStore(secondDock, fetcher, &fakeInstaller{}, &recordingNotifier{}, Options{Storage: backend})
	require.NoError(t, second.Init())
	defer second.Dispose()

	rec, ok := second.GetData(tab.ID)
	require.True(t, ok)
	assert.Equal(t, "nginx", rec.Name)
	require.NotNil(t, rec.Values)
	assert.Equal(t, "replicaCount: 1\n", *rec.Values)

	// The restored tab is usable: selecting it loads only what was not saved.
	require.NoError(t, secondDock.SelectTab(tab.ID))
	second.Wait()

	values, versions := fetcher.calls()
	assert.Zero(t, values)
	assert.Equal(t, 1, versions)
	assert.True(t, second.IsReady(tab.ID))
}

func TestInitDropsRecordsWithoutTab(t *testing.T) {
	backend := storage.NewMemoryBackend()
	first := NewStore(dock.New(zerolog.Nop()), &fakeFetcher{}, &fakeInstaller{}, &recordingNotifier{}, Options{Storage: backend})
	require.NoError(t, first.Init())
	tab := first.CreateInstallChartTab(nginx, dock.TabParams{Background: true})
	first.Dispose()

	// The dock layout was never saved, so the tab is gone after a restart.
	second := NewStore(dock.New(zerolog.Nop()), &fakeFetcher{}, &fakeInstaller{}, &recordingNotifier{}, Options{Storage: backend})
	require.NoError(t, second.Init())
	defer second.Dispose()

	assert.False(t, second.HasData(tab.ID))
	third := NewStore(dock.New(zerolog.Nop()), &fakeFetcher{}, &fakeInstaller{}, &recordingNotifier{}, Options{Storage: backend})
	require.NoError(t, third.Init())
	defer third.Dispose()
	assert.Empty(t, third.TabIDs())
}

func TestVersionChangeDuringVersionsLoad(t *testing.T) {
	fetcher := &fakeFetcher{}
	f := newFixture(t, fetcher)
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})

	fetcher.onVersions = func(int) {
		assert.NoError(t, f.store.SelectVersion(context.Background(), tab.ID, "2.0.0"))
	}
	require.NoError(t, f.store.LoadData(context.Background(), tab.ID))

	_, versions := fetcher.calls()
	assert.Equal(t, 1, versions)
	got, ok := f.store.Versions(tab.ID)
	require.True(t, ok, "version list survives a version switch")
	assert.Equal(t, []string{"2.0.0", "1.0.0"}, got)

	rec, _ := f.store.GetData(tab.ID)
	assert.Equal(t, "2.0.0", rec.Version)
	require.NotNil(t, rec.Values)
	assert.True(t, f.store.IsReady(tab.ID))
}

func TestLoadVersions_DiscardsResultForOtherChart(t *testing.T) {
	fetcher := &fakeFetcher{}
	f := newFixture(t, fetcher)
	tab := f.store.CreateInstallChartTab(nginx, dock.TabParams{Background: true})

	fetcher.onVersions = func(int) {
		f.store.UpdateData(tab.ID, func(cur ChartInstallData) ChartInstallData {
			cur.Name = "redis"
			return cur
		})
	}
	require.NoError(t, f.store.LoadVersions(context.Background(), tab.ID))

	_, ok := f.store.Versions(tab.ID)
	assert.False(t, ok)
}
