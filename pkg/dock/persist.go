package dock

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"chartdock/pkg/storage"
)

// StorageKey is the persistence key of the dock layout.
const StorageKey = "dock"

type layout struct {
	Tabs     []Tab `yaml:"tabs"`
	Selected TabID `yaml:"selected,omitempty"`
	Open     bool  `yaml:"open"`
}

// Restore loads the saved layout from backend and keeps it saved on every
// later change. Tabs come back under their old ids so per-tab records stay
// joined to them. Call it before any feature store is initialized.
func (d *Dock) Restore(backend storage.Backend) error {
	raw, err := backend.Load(StorageKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load dock layout: %w", err)
	}

	var saved layout
	if err == nil {
		if err := yaml.Unmarshal(raw, &saved); err != nil {
			return fmt.Errorf("failed to decode dock layout: %w", err)
		}
	}

	d.mu.Lock()
	for _, tab := range saved.Tabs {
		if _, ok := d.tabs[tab.ID]; ok {
			continue
		}
		d.tabs[tab.ID] = tab
		d.order = append(d.order, tab.ID)
	}
	if _, ok := d.tabs[saved.Selected]; ok {
		d.selected = saved.Selected
		d.open = saved.Open
	}
	d.mu.Unlock()

	d.persistMu.Lock()
	d.backend = backend
	d.persistMu.Unlock()

	d.logger.Debug().Int("tabs", len(saved.Tabs)).Msg("restored dock layout")
	return nil
}

// persist writes the current layout. Failures are logged; the in-memory
// layout stays authoritative.
func (d *Dock) persist() {
	d.persistMu.Lock()
	defer d.persistMu.Unlock()
	if d.backend == nil {
		return
	}

	d.mu.RLock()
	saved := layout{Selected: d.selected, Open: d.open, Tabs: make([]Tab, 0, len(d.order))}
	for _, id := range d.order {
		saved.Tabs = append(saved.Tabs, d.tabs[id])
	}
	d.mu.RUnlock()

	raw, err := yaml.Marshal(saved)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to encode dock layout")
		return
	}
	if err := d.backend.Save(StorageKey, raw); err != nil {
		d.logger.Error().Err(err).Msg("failed to persist dock layout")
	}
}
