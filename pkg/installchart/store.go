package installchart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"chartdock/pkg/dock"
	"chartdock/pkg/helm"
	"chartdock/pkg/metrics"
	"chartdock/pkg/notifications"
	"chartdock/pkg/storage"
	"chartdock/pkg/tabstore"
)

// Options configures a Store.
type Options struct {
	Storage        storage.Backend
	ValuesAttempts int
	RetryDelay     time.Duration
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

// Store owns install tab records and lazily loads chart values and versions
// for the selected install tab.
type Store struct {
	*tabstore.Store[ChartInstallData]

	dock      *dock.Dock
	fetcher   ChartFetcher
	installer Installer
	notifier  notifications.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	valuesAttempts int
	retryDelay     time.Duration

	versions *tabstore.Store[[]string]
	details  *tabstore.Store[helm.ReleaseUpdateDetails]

	flight   singleflight.Group
	loads    sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	initOnce sync.Once
	initErr  error
}

// NewStore creates an install store. Call Init to restore records and start
// following tab selection.
func NewStore(d *dock.Dock, fetcher ChartFetcher, installer Installer, notifier notifications.Notifier, opts Options) *Store {
	attempts := opts.ValuesAttempts
	if attempts <= 0 {
		attempts = DefaultValuesAttempts
	}
	logger := opts.Logger.With().Str("store", StorageKey).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	return &Store{
		Store: tabstore.New[ChartInstallData](tabstore.Options{
			StorageKey: StorageKey,
			Storage:    opts.Storage,
			Logger:     opts.Logger,
		}),
		dock:           d,
		fetcher:        fetcher,
		installer:      installer,
		notifier:       notifier,
		metrics:        opts.Metrics,
		logger:         logger,
		valuesAttempts: attempts,
		retryDelay:     opts.RetryDelay,
		versions:       tabstore.New[[]string](tabstore.Options{}),
		details:        tabstore.New[helm.ReleaseUpdateDetails](tabstore.Options{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Init restores persisted records and subscribes to install tab activation.
// The selected tab, if it is a visible install tab, is loaded right away.
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
			Kind:            dock.KindInstallChart,
			FireImmediately: true,
			IsVisible:       true,
		}))
	})
	return s.initErr
}

// pruneOrphans drops restored records whose tab is no longer in the dock.
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
			s.logger.Warn().Str("tab", string(e.TabID)).Err(err).Msg("failed to load install tab")
			s.notifier.Error(err.Error())
		}
	}()
}

func (s *Store) onTabClose(tab dock.Tab) {
	if tab.Kind != dock.KindInstallChart {
		return
	}
	s.ClearData(tab.ID)
	s.versions.ClearData(tab.ID)
	s.details.ClearData(tab.ID)
}

// LoadData loads whatever of values and versions the tab is missing. Both
// loaders run concurrently; the first error is returned once both settle.
func (s *Store) LoadData(ctx context.Context, tabID dock.TabID) error {
	rec, err := s.Require(tabID)
	if err != nil {
		return err
	}
	start := time.Now()
	defer func() { s.metrics.LoadDuration(StorageKey, time.Since(start)) }()

	var g errgroup.Group
	if rec.Values == nil {
		g.Go(func() error {
			_, err, _ := s.flight.Do("values/"+string(tabID), func() (interface{}, error) {
				return nil, s.LoadValues(ctx, tabID)
			})
			return err
		})
	}
	if !s.versions.HasData(tabID) {
		g.Go(func() error {
			_, err, _ := s.flight.Do("versions/"+string(tabID), func() (interface{}, error) {
				return nil, s.LoadVersions(ctx, tabID)
			})
			return err
		})
	}
	return g.Wait()
}

// LoadVersions refetches the chart's version list. The old list is dropped
// before the fetch so readers see the tab as loading.
func (s *Store) LoadVersions(ctx context.Context, tabID dock.TabID) error {
	rec, err := s.Require(tabID)
	if err != nil {
		return err
	}
	s.versions.ClearData(tabID)

	details, err := s.fetcher.ChartDetails(ctx, rec.Repo, rec.Name, rec.Version)
	if err != nil {
		s.metrics.Fetch(StorageKey, "versions", metrics.ResultError)
		return fmt.Errorf("failed to load versions of %s/%s: %w", rec.Repo, rec.Name, err)
	}

	versions := make([]string, 0, len(details.Versions))
	for _, v := range details.Versions {
		versions = append(versions, v.Version)
	}

	if cur, ok := s.GetData(tabID); !ok || cur.versionlessKey() != rec.versionlessKey() {
		s.metrics.Fetch(StorageKey, "versions", metrics.ResultStale)
		s.logger.Debug().Str("tab", string(tabID)).Msg("discarding versions for a changed chart")
		return nil
	}
	s.versions.SetData(tabID, versions)
	s.metrics.Fetch(StorageKey, "versions", metrics.ResultOK)
	return nil
}

// LoadValues fetches the chart's default values, retrying while the fetch
// returns nothing, up to the configured number of attempts. Running out of
// attempts leaves Values unset and is not an error.
func (s *Store) LoadValues(ctx context.Context, tabID dock.TabID) error {
	rec, err := s.Require(tabID)
	if err != nil {
		return err
	}
	key := rec.key()

	for attempt := 0; attempt < s.valuesAttempts; attempt++ {
		if attempt > 0 && s.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}

		values, err := s.fetcher.ChartValues(ctx, rec.Repo, rec.Name, rec.Version)
		if err != nil {
			s.metrics.Fetch(StorageKey, "values", metrics.ResultError)
			return fmt.Errorf("failed to load values of %s/%s: %w", rec.Repo, rec.Name, err)
		}
		if values == "" {
			s.metrics.Fetch(StorageKey, "values", metrics.ResultEmpty)
			continue
		}

		stale := false
		s.UpdateData(tabID, func(cur ChartInstallData) ChartInstallData {
			if cur.key() != key {
				stale = true
				return cur
			}
			cur.Values = &values
			return cur
		})
		if stale {
			s.metrics.Fetch(StorageKey, "values", metrics.ResultStale)
			s.logger.Debug().Str("tab", string(tabID)).Msg("discarding values for a changed chart")
		} else {
			s.metrics.Fetch(StorageKey, "values", metrics.ResultOK)
		}
		return nil
	}

	s.metrics.GiveUp(StorageKey)
	s.logger.Debug().Str("tab", string(tabID)).Int("attempts", s.valuesAttempts).Msg("no values returned, giving up")
	return nil
}

// Versions returns the loaded version list of a tab.
func (s *Store) Versions(tabID dock.TabID) ([]string, bool) {
	return s.versions.GetData(tabID)
}

// SubscribeVersions notifies fn whenever a tab's version list changes.
func (s *Store) SubscribeVersions(fn func(tabstore.Change[[]string])) func() {
	return s.versions.Subscribe(fn)
}

// Details returns the result of the last install from this tab.
func (s *Store) Details(tabID dock.TabID) (helm.ReleaseUpdateDetails, bool) {
	return s.details.GetData(tabID)
}

// IsReady reports whether the tab has both values and versions loaded.
func (s *Store) IsReady(tabID dock.TabID) bool {
	rec, ok := s.GetData(tabID)
	return ok && rec.Values != nil && s.versions.HasData(tabID)
}

// UpdateForm merges user edits into the tab's record.
func (s *Store) UpdateForm(tabID dock.TabID, patch FormPatch) (ChartInstallData, error) {
	rec, ok := s.UpdateData(tabID, func(cur ChartInstallData) ChartInstallData {
		if patch.Values != nil {
			v := *patch.Values
			cur.Values = &v
		}
		if patch.ReleaseName != nil {
			cur.ReleaseName = *patch.ReleaseName
		}
		if patch.Description != nil {
			cur.Description = *patch.Description
		}
		if patch.Namespace != nil {
			cur.Namespace = *patch.Namespace
		}
		if patch.LastVersion != nil {
			cur.LastVersion = *patch.LastVersion
		}
		return cur
	})
	if !ok {
		return rec, fmt.Errorf("tab %s: %w", tabID, tabstore.ErrNoData)
	}
	return rec, nil
}

// SelectVersion switches the tab to another chart version and reloads the
// default values for it.
func (s *Store) SelectVersion(ctx context.Context, tabID dock.TabID, version string) error {
	_, ok := s.UpdateData(tabID, func(cur ChartInstallData) ChartInstallData {
		cur.Version = version
		cur.Values = nil
		return cur
	})
	if !ok {
		return fmt.Errorf("tab %s: %w", tabID, tabstore.ErrNoData)
	}
	return s.LoadValues(ctx, tabID)
}

// Install installs the tab's chart with the form values and keeps the result
// for the tab.
func (s *Store) Install(ctx context.Context, tabID dock.TabID) (*helm.ReleaseUpdateDetails, error) {
	rec, err := s.Require(tabID)
	if err != nil {
		return nil, err
	}
	req := helm.InstallRequest{
		Repo:        rec.Repo,
		Chart:       rec.Name,
		Version:     rec.Version,
		Namespace:   rec.Namespace,
		ReleaseName: rec.ReleaseName,
		Description: rec.Description,
	}
	if rec.Values != nil {
		req.Values = *rec.Values
	}

	details, err := s.installer.InstallChart(ctx, req)
	s.metrics.ReleaseOp("install", err)
	if err != nil {
		return nil, err
	}
	s.details.SetData(tabID, *details)
	s.logger.Info().Str("tab", string(tabID)).Str("release", details.Release.Name).Msg("chart installed")
	return details, nil
}

// CreateInstallChartTab opens a tab for installing chart. The tab's record is
// seeded before the tab is selected, so the activation load can read it.
func (s *Store) CreateInstallChartTab(chart Chart, params dock.TabParams) dock.Tab {
	title := fmt.Sprintf("Helm Install: %s/%s", chart.Repo, chart.Name)
	if params.Title != "" {
		title = params.Title
	}
	tab := s.dock.AddTab(dock.KindInstallChart, dock.TabParams{Title: title, Pinned: params.Pinned})

	s.SetData(tab.ID, ChartInstallData{
		Name:        chart.Name,
		Repo:        chart.Repo,
		Version:     chart.Version,
		Namespace:   "default",
		ReleaseName: "",
		Description: "",
	})

	if !params.Background {
		_ = s.dock.SelectTab(tab.ID)
	}
	return tab
}
