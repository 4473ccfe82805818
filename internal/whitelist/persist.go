package whitelist

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	coreerrors "whitelistd/internal/core/errors"
	"whitelistd/internal/linereader"
	"whitelistd/internal/logging"
	"whitelistd/internal/netaddr"
	"whitelistd/internal/storage"
)

// DirectiveAdd is the only directive the persisted file replays.
const DirectiveAdd = "whitelist_add"

// maxTokenLen bounds each token of a persisted line. A line with a longer
// token is rejected whole rather than truncated.
const maxTokenLen = 63

// Save rewrites the persisted whitelist from the in-memory entries.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

// save writes one directive per entry in enumeration order. Caller holds the
// write lock. The stream is closed on every path.
func (m *Manager) save() error {
	w, err := m.store.Create(m.fileName)
	if err != nil {
		return m.persistFailed("save", err)
	}

	bw := bufio.NewWriter(w)
	for _, e := range m.entries {
		fmt.Fprintf(bw, "%s %s\n", DirectiveAdd, e)
	}
	err = bw.Flush()
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return m.persistFailed("save", err)
	}

	m.logger.LogStoreEvent("save", m.fileName, nil)
	return nil
}

// Load merges the persisted whitelist into memory. A missing file is an empty
// whitelist, not an error. Blank, unknown, malformed and duplicate lines are
// skipped. Loading does not re-save.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addrs, skipped, err := m.readPersisted()
	if err != nil {
		return err
	}
	loaded := m.insertAll(addrs)
	if m.metrics != nil {
		m.metrics.SetEntries(len(m.entries))
	}

	m.logger.Info("Whitelist loaded",
		logging.String("name", m.fileName),
		logging.String("store", m.store.Name()),
		logging.Int("loaded", loaded),
		logging.Int("skipped", skipped),
	)
	return nil
}

// Reload replaces the in-memory whitelist with the persisted one, picking up
// changes other instances wrote to a shared store. Concurrent callers share
// one read of the store. The read happens under the write lock so no local
// mutation can land between the snapshot and the swap.
func (m *Manager) Reload() error {
	_, err, _ := m.reloads.Do("reload", func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		addrs, skipped, err := m.readPersisted()
		if err != nil {
			return nil, err
		}

		before := len(m.entries)
		m.entries = nil
		m.index = make(map[netaddr.Address]struct{}, len(addrs))
		m.insertAll(addrs)
		if m.metrics != nil {
			m.metrics.SetEntries(len(m.entries))
		}

		m.logger.Info("Whitelist reloaded",
			logging.String("name", m.fileName),
			logging.Int("before", before),
			logging.Int("after", len(m.entries)),
			logging.Int("skipped", skipped),
		)
		return nil, nil
	})
	return err
}

// insertAll adds addrs so that the first one ends up first in enumeration
// order, which keeps a saved file's order across a load. Caller holds the
// write lock.
func (m *Manager) insertAll(addrs []netaddr.Address) int {
	n := 0
	for i := len(addrs) - 1; i >= 0; i-- {
		if m.insert(addrs[i]) {
			n++
		}
	}
	return n
}

// readPersisted returns the addresses of the persisted file in file order,
// plus the number of non-blank lines it skipped. It touches only the store.
func (m *Manager) readPersisted() ([]netaddr.Address, int, error) {
	r, err := m.store.Open(m.fileName)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			m.logger.Debug("No persisted whitelist, starting empty", logging.String("name", m.fileName))
			return nil, 0, nil
		}
		return nil, 0, m.persistFailed("load", err)
	}
	defer r.Close()

	var (
		addrs   []netaddr.Address
		skipped int
	)
	lr := linereader.New(r)
	for {
		line, ok := lr.Next()
		if !ok {
			break
		}
		addr, ok := parseLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				skipped++
				m.logger.Debug("Skipping whitelist line", logging.String("line", line))
			}
			continue
		}
		addrs = append(addrs, addr)
	}
	if err := lr.Err(); err != nil {
		return nil, 0, m.persistFailed("load", err)
	}
	return addrs, skipped, nil
}

// parseLine accepts "whitelist_add <address>" with any trailing tokens
// ignored.
func parseLine(line string) (netaddr.Address, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return netaddr.Address{}, false
	}
	if !tokenFits(fields[0]) || !tokenFits(fields[1]) {
		return netaddr.Address{}, false
	}
	if fields[0] != DirectiveAdd {
		return netaddr.Address{}, false
	}
	addr, err := netaddr.Parse(fields[1])
	if err != nil {
		return netaddr.Address{}, false
	}
	return addr, true
}

func tokenFits(tok string) bool {
	return len(tok) <= maxTokenLen
}

func (m *Manager) persistFailed(op string, err error) error {
	m.logger.LogStoreEvent(op, m.fileName, err)
	if m.metrics != nil {
		m.metrics.RecordPersistenceFailure(op)
	}
	return coreerrors.NewPersistenceError(op, m.fileName, err)
}
