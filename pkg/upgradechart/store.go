package upgradechart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chartdock/pkg/dock"
	"chartdock/pkg/helm"
	"chartdock/pkg/metrics"
	"chartdock/pkg/notifications"
	"chartdock/pkg/storage"
	"chartdock/pkg/tabstore"
)

// StorageKey is the persistence key of upgrade tab records.
const StorageKey = "chart_releases"

// ErrReleaseNotLoaded is returned when an operation needs the tab's release
// and it has not been fetched yet.
var ErrReleaseNotLoaded = errors.New("upgradechart: release not loaded")

// ChartUpgradeData names the release an upgrade tab works on.
type ChartUpgradeData struct {
	ReleaseName      string `json:"releaseName" yaml:"releaseName"`
	ReleaseNamespace string `json:"releaseNamespace" yaml:"releaseNamespace"`
}

// ReleaseService reads and upgrades installed releases.
type ReleaseService interface {
	GetRelease(ctx context.Context, name, namespace string) (*helm.ReleaseInfo, error)
	GetReleaseValues(ctx context.Context, name, namespace string, all bool) (string, error)
	UpgradeRelease(ctx context.Context, req helm.UpgradeRequest) (*helm.ReleaseUpdateDetails, error)
}

// VersionLister lists a chart's versions across all configured repositories.
type VersionLister interface {
	ChartVersions(ctx context.Context, chartName string) ([]helm.ChartVersion, error)
}

// Options configures a Store.
type Options struct {
	Storage storage.Backend
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Store owns upgrade tab records plus the release, values and versions
// loaded for each of them.
type Store struct {
	*tabstore.Store[ChartUpgradeData]

	dock     *dock.Dock
	releases ReleaseService
	charts   VersionLister
	notifier notifications.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	release  *tabstore.Store[helm.ReleaseInfo]
	values   *tabstore.Store[string]
	versions *tabstore.Store[[]helm.ChartVersion]

	loads    sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	initOnce sync.Once
	initErr  error
}

// NewStore creates an upgrade store. Call Init to restore records and start
// following tab selection.
func NewStore(d *dock.Dock, releases ReleaseService, charts VersionLister, notifier notifications.Notifier, opts Options) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		Store: tabstore.New[ChartUpgradeData](tabstore.Options{
			StorageKey: StorageKey,
			Storage:    opts.Storage,
			Logger:     opts.Logger,
		}),
		dock:     d,
		releases: releases,
		charts:   charts,
		notifier: notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("store", StorageKey).Logger(),
		release:  tabstore.New[helm.ReleaseInfo](tabstore.Options{}),
		values:   tabstore.New[string](tabstore.Options{}),
		versions: tabstore.New[[]helm.ChartVersion](tabstore.Options{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Init restores persisted records and starts loading upgrade tabs when they
// become visible.
func (s *Store) Init() error {
	s.initOnce.Do(func() {
		if err := s.Store.Init(); err != nil {
			s.initErr = err
			return
		}
		s.pruneOrphans()
		s.OnDispose(s.cancel)
		s.OnDispose(s.dock.OnTabClose(s.onTabClose))
		s.OnDispose(s.dock.OnTabChange(s.onTabChange, dock.TabChangeOptions{
			Kind:            dock.KindUpgradeChart,
			FireImmediately: true,
			IsVisible:       true,
		}))
	})
	return s.initErr
}

func (s *Store) pruneOrphans() {
	dropped := s.Prune(func(id dock.TabID) bool {
		_, ok := s.dock.GetTab(id)
		return ok
	})
	if len(dropped) > 0 {
		s.logger.Info().Int("records", len(dropped)).Msg("dropped records of closed tabs")
	}
}

// Wait blocks until loads started by tab activation have finished.
func (s *Store) Wait() {
	s.loads.Wait()
}

func (s *Store) onTabChange(e dock.TabChangeEvent) {
	s.loads.Add(1)
	go func() {
		defer s.loads.Done()
		if err := s.LoadData(s.ctx, e.TabID); err != nil {
			s.logger.Warn().Str("tab", string(e.TabID)).Err(err).Msg("failed to load upgrade tab")
			s.notifier.Error(err.Error())
		}
	}()
}

func (s *Store) onTabClose(tab dock.Tab) {
	if tab.Kind != dock.KindUpgradeChart {
		return
	}
	s.ClearData(tab.ID)
	s.release.ClearData(tab.ID)
	s.values.ClearData(tab.ID)
	s.versions.ClearData(tab.ID)
}

// LoadData fetches what the tab is missing. Values load alongside the
// release, and versions follow once the release is known.
func (s *Store) LoadData(ctx context.Context, tabID dock.TabID) error {
	if !s.HasData(tabID) {
		return fmt.Errorf("tab %s: %w", tabID, tabstore.ErrNoData)
	}
	start := time.Now()
	defer func() { s.metrics.LoadDuration(StorageKey, time.Since(start)) }()

	var g errgroup.Group
	if !s.values.HasData(tabID) {
		g.Go(func() error { return s.LoadValues(ctx, tabID) })
	}
	g.Go(func() error {
		if !s.release.HasData(tabID) {
			if err := s.LoadRelease(ctx, tabID); err != nil {
				return err
			}
		}
		if !s.versions.HasData(tabID) {
			return s.LoadVersions(ctx, tabID)
		}
		return nil
	})
	return g.Wait()
}

// LoadRelease fetches the release the tab points at.
func (s *Store) LoadRelease(ctx context.Context, tabID dock.TabID) error {
	rec, err := s.Require(tabID)
	if err != nil {
		return err
	}
	rel, err := s.releases.GetRelease(ctx, rec.ReleaseName, rec.ReleaseNamespace)
	if err != nil {
		s.metrics.Fetch(StorageKey, "release", metrics.ResultError)
		return fmt.Errorf("failed to load release %s/%s: %w", rec.ReleaseNamespace, rec.ReleaseName, err)
	}
	if !s.HasData(tabID) {
		s.metrics.Fetch(StorageKey, "release", metrics.ResultStale)
		return nil
	}
	s.release.SetData(tabID, *rel)
	s.metrics.Fetch(StorageKey, "release", metrics.ResultOK)
	return nil
}

// LoadValues refetches the release's computed values, dropping the cached
// text first.
func (s *Store) LoadValues(ctx context.Context, tabID dock.TabID) error {
	rec, err := s.Require(tabID)
	if err != nil {
		return err
	}
	s.values.ClearData(tabID)

	values, err := s.releases.GetReleaseValues(ctx, rec.ReleaseName, rec.ReleaseNamespace, true)
	if err != nil {
		s.metrics.Fetch(StorageKey, "values", metrics.ResultError)
		return fmt.Errorf("failed to load values of release %s/%s: %w", rec.ReleaseNamespace, rec.ReleaseName, err)
	}
	if !s.HasData(tabID) {
		s.metrics.Fetch(StorageKey, "values", metrics.ResultStale)
		return nil
	}
	s.values.SetData(tabID, values)
	s.metrics.Fetch(StorageKey, "values", metrics.ResultOK)
	return nil
}

// LoadVersions refetches the versions of the release's chart, dropping the
// cached list first.
func (s *Store) LoadVersions(ctx context.Context, tabID dock.TabID) error {
	rel, ok := s.release.GetData(tabID)
	if !ok {
		return fmt.Errorf("tab %s: %w", tabID, ErrReleaseNotLoaded)
	}
	s.versions.ClearData(tabID)

	versions, err := s.charts.ChartVersions(ctx, rel.Chart)
	if err != nil {
		s.metrics.Fetch(StorageKey, "versions", metrics.ResultError)
		return fmt.Errorf("failed to load versions of chart %s: %w", rel.Chart, err)
	}
	if !s.HasData(tabID) {
		s.metrics.Fetch(StorageKey, "versions", metrics.ResultStale)
		return nil
	}
	if versions == nil {
		versions = []helm.ChartVersion{}
	}
	s.versions.SetData(tabID, versions)
	s.metrics.Fetch(StorageKey, "versions", metrics.ResultOK)
	return nil
}

// Upgrade moves the tab's release to version using the edited values. The
// cached release is replaced with the upgraded one and values are reloaded.
func (s *Store) Upgrade(ctx context.Context, tabID dock.TabID, version helm.ChartVersion) (*helm.ReleaseUpdateDetails, error) {
	rec, err := s.Require(tabID)
	if err != nil {
		return nil, err
	}
	rel, ok := s.release.GetData(tabID)
	if !ok {
		return nil, fmt.Errorf("tab %s: %w", tabID, ErrReleaseNotLoaded)
	}
	values, _ := s.values.GetData(tabID)

	chartName := version.Name
	if chartName == "" {
		chartName = rel.Chart
	}
	details, err := s.releases.UpgradeRelease(ctx, helm.UpgradeRequest{
		ReleaseName: rec.ReleaseName,
		Namespace:   rec.ReleaseNamespace,
		Repo:        version.Repo,
		Chart:       chartName,
		Version:     version.Version,
		Values:      values,
	})
	s.metrics.ReleaseOp("upgrade", err)
	if err != nil {
		return nil, err
	}

	s.release.SetData(tabID, details.Release)
	s.logger.Info().Str("tab", string(tabID)).Str("release", rec.ReleaseName).
		Str("version", version.Version).Msg("release upgraded")

	if err := s.LoadValues(ctx, tabID); err != nil {
		s.logger.Warn().Str("tab", string(tabID)).Err(err).Msg("failed to reload values after upgrade")
		s.notifier.Error(err.Error())
	}
	return details, nil
}

// IsReady reports whether release, values and versions are all loaded.
func (s *Store) IsReady(tabID dock.TabID) bool {
	return s.HasData(tabID) &&
		s.release.HasData(tabID) &&
		s.values.HasData(tabID) &&
		s.versions.HasData(tabID)
}

// GetRelease returns the release loaded for the tab.
func (s *Store) GetRelease(tabID dock.TabID) (helm.ReleaseInfo, bool) {
	return s.release.GetData(tabID)
}

// Values returns the values text being edited in the tab.
func (s *Store) Values(tabID dock.TabID) (string, bool) {
	return s.values.GetData(tabID)
}

// SetValues replaces the edited values text.
func (s *Store) SetValues(tabID dock.TabID, values string) error {
	if !s.HasData(tabID) {
		return fmt.Errorf("tab %s: %w", tabID, tabstore.ErrNoData)
	}
	s.values.SetData(tabID, values)
	return nil
}

// Versions returns the chart versions the release can move to.
func (s *Store) Versions(tabID dock.TabID) ([]helm.ChartVersion, bool) {
	return s.versions.GetData(tabID)
}

// TabByRelease finds the open upgrade tab for a release.
func (s *Store) TabByRelease(name, namespace string) (dock.Tab, bool) {
	for _, id := range s.TabIDs() {
		rec, ok := s.GetData(id)
		if !ok || rec.ReleaseName != name || rec.ReleaseNamespace != namespace {
			continue
		}
		if tab, ok := s.dock.GetTab(id); ok {
			return tab, true
		}
	}
	return dock.Tab{}, false
}

// CreateUpgradeChartTab selects the tab already open for the release, or opens
// a new one for it.
func (s *Store) CreateUpgradeChartTab(name, namespace string, params dock.TabParams) dock.Tab {
	if tab, ok := s.TabByRelease(name, namespace); ok {
		_ = s.dock.SelectTab(tab.ID)
		return tab
	}

	title := "Helm Upgrade: " + name
	if params.Title != "" {
		title = params.Title
	}
	tab := s.dock.AddTab(dock.KindUpgradeChart, dock.TabParams{Title: title, Pinned: params.Pinned})
	s.SetData(tab.ID, ChartUpgradeData{ReleaseName: name, ReleaseNamespace: namespace})

	if !params.Background {
		_ = s.dock.SelectTab(tab.ID)
	}
	return tab
}
