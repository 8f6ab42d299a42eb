package helm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage/driver"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// InstallChart installs repo/chart as a new release.
func (hc *HelmClient) InstallChart(ctx context.Context, req InstallRequest) (*ReleaseUpdateDetails, error) {
	namespace := req.Namespace
	if namespace == "" {
		namespace = "default"
	}
	vals, err := parseValues(req.Values)
	if err != nil {
		return nil, err
	}
	cfg, err := hc.newActionConfig(namespace)
	if err != nil {
		return nil, err
	}

	if req.ReleaseName != "" {
		histClient := action.NewHistory(cfg)
		histClient.Max = 1
		if history, err := histClient.Run(req.ReleaseName); err == nil && len(history) > 0 {
			return nil, fmt.Errorf("release '%s' already exists in namespace '%s'", req.ReleaseName, namespace)
		} else if err != nil && !errors.Is(err, driver.ErrReleaseNotFound) {
			return nil, fmt.Errorf("error checking history for release %s: %w", req.ReleaseName, err)
		}
	}

	if err := hc.ensureNamespace(ctx, namespace); err != nil {
		return nil, err
	}

	chartRequested, err := hc.locateAndLoad(ctx, req.Repo, req.Chart, req.Version)
	if err != nil {
		return nil, err
	}

	client := action.NewInstall(cfg)
	client.Namespace = namespace
	client.ReleaseName = req.ReleaseName
	client.GenerateName = req.ReleaseName == ""
	client.Version = req.Version
	client.Description = req.Description
	client.Timeout = hc.config.HelmTimeout
	if client.GenerateName {
		name, _, err := client.NameAndChart([]string{req.Repo + "/" + req.Chart})
		if err != nil {
			return nil, fmt.Errorf("failed to generate release name: %w", err)
		}
		client.ReleaseName = name
		client.GenerateName = false
	}

	hc.logger.Info().Str("chart", chartRequested.Name()).Str("release", client.ReleaseName).Str("namespace", namespace).Msg("installing chart")
	rel, err := client.RunWithContext(ctx, chartRequested, vals)
	if err != nil {
		return nil, fmt.Errorf("failed to install chart '%s': %w", chartRequested.Name(), err)
	}

	hc.logger.Info().Str("release", rel.Name).Str("version", rel.Chart.Metadata.Version).Msg("chart installed")
	return updateDetailsFrom(rel), nil
}

// UpgradeRelease upgrades an existing release to repo/chart at version.
func (hc *HelmClient) UpgradeRelease(ctx context.Context, req UpgradeRequest) (*ReleaseUpdateDetails, error) {
	vals, err := parseValues(req.Values)
	if err != nil {
		return nil, err
	}
	cfg, err := hc.newActionConfig(req.Namespace)
	if err != nil {
		return nil, err
	}
	chartRequested, err := hc.locateAndLoad(ctx, req.Repo, req.Chart, req.Version)
	if err != nil {
		return nil, err
	}

	client := action.NewUpgrade(cfg)
	client.Namespace = req.Namespace
	client.Version = req.Version
	client.Timeout = hc.config.HelmTimeout

	hc.logger.Info().Str("release", req.ReleaseName).Str("namespace", req.Namespace).Str("version", req.Version).Msg("upgrading release")
	rel, err := client.RunWithContext(ctx, req.ReleaseName, chartRequested, vals)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade release '%s': %w", req.ReleaseName, err)
	}
	return updateDetailsFrom(rel), nil
}

// GetRelease returns the latest revision of a release.
func (hc *HelmClient) GetRelease(ctx context.Context, name, namespace string) (*ReleaseInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := hc.newActionConfig(namespace)
	if err != nil {
		return nil, err
	}
	rel, err := action.NewGet(cfg).Run(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get release '%s' in namespace '%s': %w", name, namespace, err)
	}
	info := releaseInfoFrom(rel)
	return &info, nil
}

// GetReleaseValues returns the release values as YAML text. With all set the
// chart defaults are merged in.
func (hc *HelmClient) GetReleaseValues(ctx context.Context, name, namespace string, all bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cfg, err := hc.newActionConfig(namespace)
	if err != nil {
		return "", err
	}
	client := action.NewGetValues(cfg)
	client.AllValues = all
	vals, err := client.Run(name)
	if err != nil {
		return "", fmt.Errorf("failed to get values of release '%s': %w", name, err)
	}
	return formatValues(vals)
}

// ListInstalledReleases lists releases in namespace, or in all namespaces
// when namespace is empty.
func (hc *HelmClient) ListInstalledReleases(ctx context.Context, namespace string) ([]ReleaseInfo, error) {
	cfg, err := hc.newActionConfig(namespace)
	if err != nil {
		return nil, err
	}
	listClient := action.NewList(cfg)
	listClient.AllNamespaces = namespace == ""
	listClient.SetStateMask()

	results, err := listClient.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to list Helm releases: %w", err)
	}

	releasesInfo := make([]ReleaseInfo, 0, len(results))
	for _, rel := range results {
		info := releaseInfoFrom(rel)
		info.NodePorts = hc.getReleaseNodePorts(ctx, rel)
		releasesInfo = append(releasesInfo, info)
	}
	return releasesInfo, nil
}

func (hc *HelmClient) getReleaseNodePorts(ctx context.Context, rel *release.Release) map[string]int32 {
	nodePorts := make(map[string]int32)
	labelSelector := fmt.Sprintf("app.kubernetes.io/instance=%s", rel.Name)

	serviceList, err := hc.kubeClient.CoreV1().Services(rel.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		hc.logger.Warn().Str("release", rel.Name).Str("namespace", rel.Namespace).Err(err).Msg("could not list services")
		return nodePorts
	}

	for _, service := range serviceList.Items {
		if service.Spec.Type == "NodePort" || service.Spec.Type == "LoadBalancer" {
			for _, port := range service.Spec.Ports {
				if port.NodePort > 0 {
					portName := port.Name
					if portName == "" {
						portName = fmt.Sprintf("%d", port.Port)
					}
					nodePorts[portName] = port.NodePort
				}
			}
			if len(nodePorts) > 0 {
				break
			}
		}
	}
	return nodePorts
}

// UninstallRelease uninstalls a Helm release.
func (hc *HelmClient) UninstallRelease(ctx context.Context, name, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := hc.newActionConfig(namespace)
	if err != nil {
		return err
	}
	uninstallClient := action.NewUninstall(cfg)
	uninstallClient.Timeout = hc.config.HelmTimeout

	hc.logger.Info().Str("release", name).Str("namespace", namespace).Msg("uninstalling release")
	if _, err := uninstallClient.Run(name); err != nil {
		if strings.Contains(err.Error(), "release: not found") {
			return fmt.Errorf("release '%s' not found in namespace '%s'", name, namespace)
		}
		return fmt.Errorf("failed to uninstall release '%s': %w", name, err)
	}
	return nil
}
