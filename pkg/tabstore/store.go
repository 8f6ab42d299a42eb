package tabstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"chartdock/pkg/dock"
	"chartdock/pkg/storage"
)

// ErrNoData is returned when a tab has no record in the store.
var ErrNoData = errors.New("tabstore: no data for tab")

// Change describes one mutation of a tab's record.
type Change[T any] struct {
	TabID   dock.TabID
	Data    T
	Deleted bool
}

// Options configures a Store. Persistence is enabled when both StorageKey and
// Storage are set.
type Options struct {
	StorageKey string
	Storage    storage.Backend
	Logger     zerolog.Logger
}

// Store maps tab ids to one record of type T each. Writes to the same tab are
// last-write-wins; use UpdateData for read-modify-write.
type Store[T any] struct {
	mu   sync.RWMutex
	data map[dock.TabID]T

	opts      Options
	logger    zerolog.Logger
	persistMu sync.Mutex

	subMu sync.RWMutex
	subID int64
	subs  map[int64]func(Change[T])

	initOnce sync.Once
	initErr  error

	disposeMu sync.Mutex
	disposers []func()
	disposed  bool
}

// New creates an empty store. Call Init before use to restore persisted data.
func New[T any](opts Options) *Store[T] {
	logger := opts.Logger
	if opts.StorageKey != "" {
		logger = logger.With().Str("store", opts.StorageKey).Logger()
	}
	return &Store[T]{
		data:   make(map[dock.TabID]T),
		opts:   opts,
		logger: logger,
		subs:   make(map[int64]func(Change[T])),
	}
}

// Init restores persisted records. It runs once; later calls return the first
// result. Stores embedding Store call it first from their own Init.
func (s *Store[T]) Init() error {
	s.initOnce.Do(func() {
		s.initErr = s.restore()
	})
	return s.initErr
}

func (s *Store[T]) persistent() bool {
	return s.opts.StorageKey != "" && s.opts.Storage != nil
}

func (s *Store[T]) restore() error {
	if !s.persistent() {
		return nil
	}
	raw, err := s.opts.Storage.Load(s.opts.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", s.opts.StorageKey, err)
	}

	restored := make(map[dock.TabID]T)
	if err := yaml.Unmarshal(raw, &restored); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.opts.StorageKey, err)
	}

	s.mu.Lock()
	for id, rec := range restored {
		s.data[id] = rec
	}
	s.mu.Unlock()

	s.logger.Debug().Int("records", len(restored)).Msg("restored tab records")
	return nil
}

// GetData returns the record for tabID.
func (s *Store[T]) GetData(tabID dock.TabID) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[tabID]
	return rec, ok
}

// Require returns the record for tabID or an error wrapping ErrNoData.
func (s *Store[T]) Require(tabID dock.TabID) (T, error) {
	rec, ok := s.GetData(tabID)
	if !ok {
		return rec, fmt.Errorf("tab %s: %w", tabID, ErrNoData)
	}
	return rec, nil
}

// HasData reports whether tabID has a record.
func (s *Store[T]) HasData(tabID dock.TabID) bool {
	_, ok := s.GetData(tabID)
	return ok
}

// SetData replaces the record for tabID wholesale.
func (s *Store[T]) SetData(tabID dock.TabID, rec T) {
	s.mu.Lock()
	s.data[tabID] = rec
	s.mu.Unlock()

	s.changed(Change[T]{TabID: tabID, Data: rec})
}

// UpdateData applies fn to the current record under the store lock. It
// returns false without calling fn when the tab has no record.
func (s *Store[T]) UpdateData(tabID dock.TabID, fn func(T) T) (T, bool) {
	s.mu.Lock()
	cur, ok := s.data[tabID]
	if !ok {
		s.mu.Unlock()
		return cur, false
	}
	next := fn(cur)
	s.data[tabID] = next
	s.mu.Unlock()

	s.changed(Change[T]{TabID: tabID, Data: next})
	return next, true
}

// ClearData drops the record for tabID.
func (s *Store[T]) ClearData(tabID dock.TabID) bool {
	s.mu.Lock()
	rec, ok := s.data[tabID]
	delete(s.data, tabID)
	s.mu.Unlock()

	if ok {
		s.changed(Change[T]{TabID: tabID, Data: rec, Deleted: true})
	}
	return ok
}

// Prune drops every record whose tab id fails keep and returns the dropped
// ids, sorted.
func (s *Store[T]) Prune(keep func(dock.TabID) bool) []dock.TabID {
	s.mu.Lock()
	dropped := make(map[dock.TabID]T)
	for id, rec := range s.data {
		if !keep(id) {
			dropped[id] = rec
			delete(s.data, id)
		}
	}
	s.mu.Unlock()

	ids := make([]dock.TabID, 0, len(dropped))
	for id := range dropped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 0 {
		return ids
	}

	for _, id := range ids {
		s.notify(Change[T]{TabID: id, Data: dropped[id], Deleted: true})
	}
	s.persist()
	return ids
}

// TabIDs returns every tab id with a record, sorted.
func (s *Store[T]) TabIDs() []dock.TabID {
	s.mu.RLock()
	ids := make([]dock.TabID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Subscribe registers fn for every change. The returned function unsubscribes.
func (s *Store[T]) Subscribe(fn func(Change[T])) func() {
	s.subMu.Lock()
	s.subID++
	id := s.subID
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// OnDispose registers a teardown callback. Subscriptions made during Init
// must register their unsubscribe function here.
func (s *Store[T]) OnDispose(fn func()) {
	s.disposeMu.Lock()
	defer s.disposeMu.Unlock()
	if s.disposed {
		fn()
		return
	}
	s.disposers = append(s.disposers, fn)
}

// Dispose runs teardown callbacks once, last registered first.
func (s *Store[T]) Dispose() {
	s.disposeMu.Lock()
	if s.disposed {
		s.disposeMu.Unlock()
		return
	}
	s.disposed = true
	fns := s.disposers
	s.disposers = nil
	s.disposeMu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func (s *Store[T]) changed(c Change[T]) {
	s.notify(c)
	s.persist()
}

func (s *Store[T]) notify(c Change[T]) {
	s.subMu.RLock()
	ids := make([]int64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Change[T]), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// persist writes a snapshot of the whole map. Failures are logged; the
// in-memory state stays authoritative.
func (s *Store[T]) persist() {
	if !s.persistent() {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	raw, err := yaml.Marshal(s.data)
	s.mu.RUnlock()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode tab records")
		return
	}
	if err := s.opts.Storage.Save(s.opts.StorageKey, raw); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist tab records")
	}
}
