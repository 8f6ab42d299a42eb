package dock

import "errors"

// TabID identifies one open dock tab. It is stable for the tab's lifetime and
// is the join key for every per-tab map kept by feature stores.
type TabID string

// TabKind tags which feature a tab belongs to.
type TabKind string

const (
	KindInstallChart   TabKind = "install-chart"
	KindUpgradeChart   TabKind = "upgrade-chart"
	KindTerminal       TabKind = "terminal"
	KindCreateResource TabKind = "create-resource"
	KindEditResource   TabKind = "edit-resource"
)

// ErrTabNotFound is returned for operations on an unknown tab id.
var ErrTabNotFound = errors.New("dock: tab not found")

// Tab is one dock tab.
type Tab struct {
	ID     TabID   `json:"id" yaml:"id"`
	Kind   TabKind `json:"kind" yaml:"kind"`
	Title  string  `json:"title" yaml:"title"`
	Pinned bool    `json:"pinned" yaml:"pinned,omitempty"`
}

// TabParams carries the caller-controlled parts of a new tab.
type TabParams struct {
	Title  string
	Pinned bool
	// Background creates the tab without selecting it.
	Background bool
}

// TabChangeEvent is delivered when the selected tab changes.
type TabChangeEvent struct {
	TabID TabID
	Tab   Tab
}

// TabChangeOptions filters tab-change deliveries.
type TabChangeOptions struct {
	// Kind restricts delivery to tabs of this kind. Empty means any kind.
	Kind TabKind
	// FireImmediately delivers the currently selected tab (if it passes the
	// filters) synchronously from OnTabChange.
	FireImmediately bool
	// IsVisible skips events while the dock panel is closed.
	IsVisible bool
}

func (o TabChangeOptions) accepts(tab Tab, open bool) bool {
	if o.Kind != "" && tab.Kind != o.Kind {
		return false
	}
	if o.IsVisible && !open {
		return false
	}
	return true
}
