package whitelist

import (
	"fmt"

	"whitelistd/internal/console"
	"whitelistd/internal/netaddr"
)

const system = "whitelist"

func (m *Manager) registerCommands(c *console.Console) error {
	commands := []struct {
		name, params string
		flags        int
		handler      console.Handler
		help         string
	}{
		{"whitelist_add", "s[ip]", console.FlagServer | console.FlagStore, m.conAdd, "Add IP to whitelist"},
		{"whitelist_remove", "s[ip]", console.FlagServer | console.FlagStore, m.conRemove, "Remove IP from whitelist"},
		{"whitelist_clear", "", console.FlagServer | console.FlagStore, m.conClear, "Clear all whitelist entries"},
		{"whitelist_list", "", console.FlagServer, m.conList, "List all whitelisted IPs"},
		{"whitelist_welcome", "", console.FlagServer, m.conWelcome, "Display welcome message"},
	}
	for _, cmd := range commands {
		if err := c.Register(cmd.name, cmd.params, cmd.flags, cmd.handler, cmd.help); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) print(msg string) {
	m.reporter.Print(console.OutputLevelStandard, system, msg)
}

func (m *Manager) printSaveError(err error) {
	if err != nil {
		m.print(fmt.Sprintf("Failed to save whitelist: %v", err))
	}
}

func quoted(a netaddr.Address) string {
	return fmt.Sprintf("'%s'", a)
}

func (m *Manager) conAdd(r *console.Result) {
	addr, err := netaddr.Parse(r.GetString(0))
	if err != nil {
		m.print("Invalid IP address")
		return
	}
	added, err := m.Add(addr)
	if !added {
		m.print("IP already in whitelist")
		return
	}
	m.logger.LogMutation("add", addr.String(), "console")
	m.print(quoted(addr))
	m.printSaveError(err)
}

func (m *Manager) conRemove(r *console.Result) {
	addr, err := netaddr.Parse(r.GetString(0))
	if err != nil {
		m.print("Invalid IP address")
		return
	}
	removed, err := m.Remove(addr)
	if !removed {
		m.print("IP not found in whitelist")
		return
	}
	m.logger.LogMutation("remove", addr.String(), "console")
	m.print(quoted(addr))
	m.printSaveError(err)
}

func (m *Manager) conClear(r *console.Result) {
	err := m.Clear()
	m.logger.LogMutation("clear", "", "console")
	m.print("Whitelist cleared")
	m.printSaveError(err)
}

func (m *Manager) conList(r *console.Result) {
	entries := m.Entries()
	if len(entries) == 0 {
		m.print("Whitelist is empty")
		return
	}
	for i, e := range entries {
		m.print(fmt.Sprintf("#%d %s", i, quoted(e)))
	}
	m.print(CountSummary(len(entries)))
}

func (m *Manager) conWelcome(r *console.Result) {
	m.print("Request: method=whitelist_welcome, path=")
	m.print(`{"message": "Welcome to the whitelist!"}`)
}

// CountSummary renders the trailing line of a listing.
func CountSummary(n int) string {
	noun := "entries"
	if n == 1 {
		noun = "entry"
	}
	return fmt.Sprintf("%d %s in whitelist", n, noun)
}
