// Package whitelist owns the set of admitted client addresses, keeps it in
// step with its persisted form, and answers membership queries for the
// connection-accept path.
package whitelist

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"whitelistd/internal/config"
	"whitelistd/internal/console"
	"whitelistd/internal/logging"
	"whitelistd/internal/metrics"
	"whitelistd/internal/netaddr"
	"whitelistd/internal/storage"
)

// Dependencies contains everything a Manager is bound to at initialization.
// Console, Logger and Metrics are optional; a nil Store keeps the whitelist
// in memory only.
type Dependencies struct {
	Store   storage.Store
	Console *console.Console
	Logger  *logging.Logger
	Metrics *metrics.Collector

	// FileName defaults to config.DefaultWhitelistFile.
	FileName string
}

// Manager is the whitelist. Every mutation is persisted before it returns.
type Manager struct {
	mu sync.RWMutex
	// newest first
	entries []netaddr.Address
	index   map[netaddr.Address]struct{}

	reloads singleflight.Group

	store    storage.Store
	fileName string
	reporter console.Reporter
	logger   *logging.Logger
	metrics  *metrics.Collector
}

// New binds the manager to its collaborators, registers the operator
// commands when a console is given, and loads the persisted whitelist once.
// A failed load is logged and returned alongside a usable, empty manager.
func New(deps Dependencies) (*Manager, error) {
	m := &Manager{
		index:    make(map[netaddr.Address]struct{}),
		store:    deps.Store,
		fileName: deps.FileName,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
	if m.store == nil {
		m.store = storage.NewMemoryStore()
	}
	if m.fileName == "" {
		m.fileName = config.DefaultWhitelistFile
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	m.logger = m.logger.Named("whitelist")

	if deps.Console != nil {
		m.reporter = deps.Console
		if err := m.registerCommands(deps.Console); err != nil {
			return nil, err
		}
	}

	err := m.Load()
	return m, err
}

// AddressesMatch reports whether a and b are the same host in the same
// family. IPv4 and websocket IPv4 compare 4 bytes, IPv6 16; families must be
// identical and any other family never matches.
func AddressesMatch(a, b netaddr.Address) bool {
	if a.Family != b.Family {
		return false
	}
	switch a.Family {
	case netaddr.FamilyIPv4, netaddr.FamilyWebsocketIPv4:
		return a.IP[0] == b.IP[0] && a.IP[1] == b.IP[1] && a.IP[2] == b.IP[2] && a.IP[3] == b.IP[3]
	case netaddr.FamilyIPv6:
		return a.IP == b.IP
	}
	return false
}

// key maps an address to its index key. Two addresses share a key exactly
// when AddressesMatch holds; invalid families have none.
func key(a netaddr.Address) (netaddr.Address, bool) {
	if !a.Family.Valid() {
		return netaddr.Address{}, false
	}
	return a.Normalize(), true
}

// Add admits addr. It returns false, with no change, when a matching entry
// already exists or the family is invalid. A non-nil error reports a failed
// save; the entry is admitted in memory regardless.
func (m *Manager) Add(addr netaddr.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.insert(addr) {
		m.recordMutation("add", false)
		return false, nil
	}
	m.recordMutation("add", true)
	return true, m.save()
}

// Remove drops the entry matching addr. No match returns false, no change.
func (m *Manager) Remove(addr netaddr.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := key(addr)
	if !ok {
		m.recordMutation("remove", false)
		return false, nil
	}
	if _, found := m.index[k]; !found {
		m.recordMutation("remove", false)
		return false, nil
	}

	delete(m.index, k)
	for i, e := range m.entries {
		if AddressesMatch(e, addr) {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	m.recordMutation("remove", true)
	return true, m.save()
}

// Clear drops every entry and persists the empty whitelist.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.index = make(map[netaddr.Address]struct{})
	m.recordMutation("clear", true)
	return m.save()
}

// IsWhitelisted is the accept-path query. It is read-only and safe to call
// concurrently with everything else.
func (m *Manager) IsWhitelisted(addr netaddr.Address) bool {
	k, ok := key(addr)
	if !ok {
		return false
	}
	m.mu.RLock()
	_, found := m.index[k]
	m.mu.RUnlock()
	return found
}

// Count returns the number of entries.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Entries returns a snapshot of the entries, newest first.
func (m *Manager) Entries() []netaddr.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]netaddr.Address(nil), m.entries...)
}

// insert adds addr without persisting. Caller holds the write lock.
func (m *Manager) insert(addr netaddr.Address) bool {
	k, ok := key(addr)
	if !ok {
		return false
	}
	if _, found := m.index[k]; found {
		return false
	}
	m.index[k] = struct{}{}
	m.entries = append([]netaddr.Address{k}, m.entries...)
	return true
}

func (m *Manager) recordMutation(op string, changed bool) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordMutation(op, changed)
	if changed {
		m.metrics.SetEntries(len(m.entries))
	}
}
