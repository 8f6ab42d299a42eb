package helm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/getter"
	"helm.sh/helm/v3/pkg/repo"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"chartdock/pkg/config"
)

// HelmClient interacts with Helm repositories, releases and Kubernetes.
type HelmClient struct {
	config     *config.AppConfig
	settings   *cli.EnvSettings
	kubeClient kubernetes.Interface
	logger     zerolog.Logger
	repoMu     sync.Mutex
}

// NewHelmClient creates a new HelmClient.
func NewHelmClient(cfg *config.AppConfig, logger zerolog.Logger) (*HelmClient, error) {
	settings := cli.New()
	settings.KubeConfig = cfg.KubeconfigPath

	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		logger.Debug().Str("kubeconfig", settings.KubeConfig).Err(err).Msg("not in cluster, using kubeconfig")
		k8sConfig, err = clientcmd.BuildConfigFromFlags("", settings.KubeConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
		}
	}
	kubeClient, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	return &HelmClient{
		config:     cfg,
		settings:   settings,
		kubeClient: kubeClient,
		logger:     logger,
	}, nil
}

// newActionConfig builds an action.Configuration bound to one namespace. It is
// created per operation because install and upgrade tabs target arbitrary
// namespaces.
func (hc *HelmClient) newActionConfig(namespace string) (*action.Configuration, error) {
	cfg := new(action.Configuration)
	debugLog := func(format string, v ...interface{}) {
		hc.logger.Debug().Msgf(format, v...)
	}
	if err := cfg.Init(hc.settings.RESTClientGetter(), namespace, hc.config.HelmDriver, debugLog); err != nil {
		return nil, fmt.Errorf("failed to initialize Helm action configuration for namespace %s: %w", namespace, err)
	}
	return cfg, nil
}

// UpdateRepos adds the repositories referenced by charts to the Helm
// repository file and downloads their indexes.
func (hc *HelmClient) UpdateRepos(ctx context.Context, charts []ChartDefinition) error {
	hc.repoMu.Lock()
	defer hc.repoMu.Unlock()

	repoFile, err := repo.LoadFile(hc.settings.RepositoryConfig)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load repository file: %w", err)
		}
		repoFile = repo.NewFile()
	}

	var failed []string
	seen := make(map[string]bool)
	for _, chart := range charts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if chart.RepoURL == "" {
			continue
		}
		parts := strings.SplitN(chart.Chart, "/", 2)
		if len(parts) < 2 {
			hc.logger.Warn().Str("chart", chart.Chart).Msg("skipping repo: expected repo/chartname")
			continue
		}
		repoName := parts[0]
		if seen[repoName] {
			continue
		}
		seen[repoName] = true

		entry := &repo.Entry{Name: repoName, URL: chart.RepoURL}
		r, err := repo.NewChartRepository(entry, getter.All(hc.settings))
		if err != nil {
			return fmt.Errorf("failed to create chart repository for %s: %w", repoName, err)
		}
		r.CachePath = hc.settings.RepositoryCache

		if _, err := r.DownloadIndexFile(); err != nil {
			hc.logger.Warn().Str("repo", repoName).Str("url", chart.RepoURL).Err(err).Msg("failed to download repo index")
			failed = append(failed, repoName)
			continue
		}
		repoFile.Update(entry)
		hc.logger.Info().Str("repo", repoName).Msg("repo added/updated")
	}

	if err := os.MkdirAll(filepath.Dir(hc.settings.RepositoryConfig), 0o755); err != nil {
		return fmt.Errorf("failed to create repository config dir: %w", err)
	}
	if err := repoFile.WriteFile(hc.settings.RepositoryConfig, 0o644); err != nil {
		return fmt.Errorf("failed to write repository file: %w", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to update repositories: %s", strings.Join(failed, ", "))
	}
	return nil
}

// ensureNamespace creates namespace if it does not exist yet.
func (hc *HelmClient) ensureNamespace(ctx context.Context, namespace string) error {
	_, err := hc.kubeClient.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("error checking namespace %s: %w", namespace, err)
	}

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: namespace}}
	if _, err := hc.kubeClient.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create namespace %s: %w", namespace, err)
	}
	hc.logger.Info().Str("namespace", namespace).Msg("namespace created")
	return nil
}
