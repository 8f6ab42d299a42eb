package dock

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chartdock/pkg/storage"
)

type changeSubscription struct {
	opts    TabChangeOptions
	handler func(TabChangeEvent)
}

// Dock tracks open tabs, the selected tab and panel visibility, and publishes
// tab selection and close events to subscribers.
type Dock struct {
	mu       sync.RWMutex
	tabs     map[TabID]Tab
	order    []TabID
	selected TabID
	open     bool

	subMu     sync.RWMutex
	subID     int64
	changeSub map[int64]changeSubscription
	closeSub  map[int64]func(Tab)

	backend   storage.Backend
	persistMu sync.Mutex

	logger zerolog.Logger
}

// New creates an empty, closed dock.
func New(logger zerolog.Logger) *Dock {
	return &Dock{
		tabs:      make(map[TabID]Tab),
		changeSub: make(map[int64]changeSubscription),
		closeSub:  make(map[int64]func(Tab)),
		logger:    logger,
	}
}

// CreateTab registers a new tab of the given kind. Unless params.Background is
// set the tab is also selected, which opens the dock and publishes a change.
func (d *Dock) CreateTab(kind TabKind, params TabParams) Tab {
	tab := d.AddTab(kind, params)
	if !params.Background {
		_ = d.SelectTab(tab.ID)
	}
	return tab
}

// AddTab registers a tab without selecting it. Feature stores use it to seed
// their per-tab record before the tab becomes visible.
func (d *Dock) AddTab(kind TabKind, params TabParams) Tab {
	tab := Tab{
		ID:     TabID(uuid.NewString()),
		Kind:   kind,
		Title:  params.Title,
		Pinned: params.Pinned,
	}

	d.mu.Lock()
	d.tabs[tab.ID] = tab
	d.order = append(d.order, tab.ID)
	d.mu.Unlock()
	d.persist()

	d.logger.Debug().Str("tab", string(tab.ID)).Str("kind", string(kind)).Msg("tab created")
	return tab
}

// GetTab returns the tab with the given id.
func (d *Dock) GetTab(id TabID) (Tab, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tab, ok := d.tabs[id]
	return tab, ok
}

// Tabs returns open tabs in creation order.
func (d *Dock) Tabs() []Tab {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Tab, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.tabs[id])
	}
	return out
}

// TabsOfKind returns open tabs of one kind in creation order.
func (d *Dock) TabsOfKind(kind TabKind) []Tab {
	var out []Tab
	for _, tab := range d.Tabs() {
		if tab.Kind == kind {
			out = append(out, tab)
		}
	}
	return out
}

// SelectedTab returns the selected tab, if any.
func (d *Dock) SelectedTab() (Tab, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tab, ok := d.tabs[d.selected]
	return tab, ok
}

// IsOpen reports whether the dock panel is visible.
func (d *Dock) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.open
}

// SelectTab makes id the selected tab and opens the dock. Subscribers are
// notified only when the selection or visibility actually changed.
func (d *Dock) SelectTab(id TabID) error {
	d.mu.Lock()
	tab, ok := d.tabs[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("select %s: %w", id, ErrTabNotFound)
	}
	changed := d.selected != id || !d.open
	d.selected = id
	d.open = true
	d.mu.Unlock()

	if changed {
		d.persist()
		d.publishChange(tab, true)
	}
	return nil
}

// Open shows the dock panel. Visibility-filtered subscribers see the selected
// tab again when the dock goes from closed to open.
func (d *Dock) Open() {
	d.mu.Lock()
	wasOpen := d.open
	d.open = true
	tab, hasTab := d.tabs[d.selected]
	d.mu.Unlock()

	if wasOpen {
		return
	}
	d.persist()
	if hasTab {
		d.publishChange(tab, true)
	}
}

// Close hides the dock panel without closing any tab.
func (d *Dock) Close() {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	d.persist()
}

// CloseTab removes a tab. When the selected tab is closed the most recently
// created remaining tab is selected; with no tabs left the dock closes.
func (d *Dock) CloseTab(id TabID) error {
	d.mu.Lock()
	tab, ok := d.tabs[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("close %s: %w", id, ErrTabNotFound)
	}
	delete(d.tabs, id)
	for i, tid := range d.order {
		if tid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}

	var next Tab
	reselect := false
	if d.selected == id {
		d.selected = ""
		if n := len(d.order); n > 0 {
			d.selected = d.order[n-1]
			next = d.tabs[d.selected]
			reselect = true
		} else {
			d.open = false
		}
	}
	open := d.open
	d.mu.Unlock()
	d.persist()

	d.publishClose(tab)
	if reselect {
		d.publishChange(next, open)
	}
	d.logger.Debug().Str("tab", string(id)).Msg("tab closed")
	return nil
}

// OnTabChange subscribes handler to selection changes that pass opts. The
// returned function unsubscribes; callers must keep and call it.
func (d *Dock) OnTabChange(handler func(TabChangeEvent), opts TabChangeOptions) func() {
	d.subMu.Lock()
	d.subID++
	id := d.subID
	d.changeSub[id] = changeSubscription{opts: opts, handler: handler}
	d.subMu.Unlock()

	if opts.FireImmediately {
		d.mu.RLock()
		tab, ok := d.tabs[d.selected]
		open := d.open
		d.mu.RUnlock()
		if ok && opts.accepts(tab, open) {
			d.deliver(handler, TabChangeEvent{TabID: tab.ID, Tab: tab})
		}
	}

	return func() {
		d.subMu.Lock()
		delete(d.changeSub, id)
		d.subMu.Unlock()
	}
}

// OnTabClose subscribes handler to tab removal.
func (d *Dock) OnTabClose(handler func(Tab)) func() {
	d.subMu.Lock()
	d.subID++
	id := d.subID
	d.closeSub[id] = handler
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		delete(d.closeSub, id)
		d.subMu.Unlock()
	}
}

func (d *Dock) publishChange(tab Tab, open bool) {
	d.subMu.RLock()
	ids := make([]int64, 0, len(d.changeSub))
	for id := range d.changeSub {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]changeSubscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, d.changeSub[id])
	}
	d.subMu.RUnlock()

	event := TabChangeEvent{TabID: tab.ID, Tab: tab}
	for _, sub := range subs {
		if sub.opts.accepts(tab, open) {
			d.deliver(sub.handler, event)
		}
	}
}

func (d *Dock) publishClose(tab Tab) {
	d.subMu.RLock()
	handlers := make([]func(Tab), 0, len(d.closeSub))
	for _, h := range d.closeSub {
		handlers = append(handlers, h)
	}
	d.subMu.RUnlock()

	for _, h := range handlers {
		h(tab)
	}
}

func (d *Dock) deliver(handler func(TabChangeEvent), event TabChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("tab", string(event.TabID)).Interface("panic", r).Msg("tab change handler panicked")
		}
	}()
	handler(event)
}
