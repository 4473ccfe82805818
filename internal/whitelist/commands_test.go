package whitelist

import (
	"bytes"
	stderrors "errors"
	"strings"
	"testing"

	"whitelistd/internal/console"
	"whitelistd/internal/storage"
)

func newConsoleManager(t *testing.T) (*Manager, *console.Console, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	c := console.New(&out)
	m, err := New(Dependencies{Store: storage.NewMemoryStore(), Console: c})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	return m, c, &out
}

func run(t *testing.T, c *console.Console, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	if err := c.Execute(line); err != nil {
		t.Fatalf("Execute(%q) error = %v", line, err)
	}
	return out.String()
}

func TestConsoleAddRemove(t *testing.T) {
	m, c, out := newConsoleManager(t)

	cases := []struct {
		line, want string
	}{
		{"whitelist_add 203.0.113.5", "[whitelist]: '203.0.113.5'\n"},
		{"whitelist_add 203.0.113.5:8303", "[whitelist]: IP already in whitelist\n"},
		{"whitelist_add not.an.ip", "[whitelist]: Invalid IP address\n"},
		{"whitelist_remove 203.0.113.9", "[whitelist]: IP not found in whitelist\n"},
		{"whitelist_remove bogus", "[whitelist]: Invalid IP address\n"},
		{"whitelist_remove 203.0.113.5", "[whitelist]: '203.0.113.5'\n"},
	}
	for _, tc := range cases {
		if got := run(t, c, out, tc.line); got != tc.want {
			t.Fatalf("%s printed %q, want %q", tc.line, got, tc.want)
		}
	}
	if m.Count() != 0 {
		t.Fatalf("count = %d", m.Count())
	}
}

func TestConsoleList(t *testing.T) {
	_, c, out := newConsoleManager(t)

	if got := run(t, c, out, "whitelist_list"); got != "[whitelist]: Whitelist is empty\n" {
		t.Fatalf("empty list printed %q", got)
	}

	run(t, c, out, "whitelist_add 192.0.2.1")
	got := run(t, c, out, "whitelist_list")
	want := "[whitelist]: #0 '192.0.2.1'\n[whitelist]: 1 entry in whitelist\n"
	if got != want {
		t.Fatalf("list printed %q, want %q", got, want)
	}

	run(t, c, out, "whitelist_add ws://192.0.2.1")
	got = run(t, c, out, "whitelist_list")
	want = "[whitelist]: #0 'ws://192.0.2.1'\n[whitelist]: #1 '192.0.2.1'\n[whitelist]: 2 entries in whitelist\n"
	if got != want {
		t.Fatalf("list printed %q, want %q", got, want)
	}
}

func TestConsoleClear(t *testing.T) {
	m, c, out := newConsoleManager(t)
	run(t, c, out, "whitelist_add 192.0.2.1")
	run(t, c, out, "whitelist_add 2001:db8::1")

	for i := 0; i < 2; i++ {
		if got := run(t, c, out, "whitelist_clear"); got != "[whitelist]: Whitelist cleared\n" {
			t.Fatalf("clear printed %q", got)
		}
	}
	if m.Count() != 0 {
		t.Fatalf("count = %d", m.Count())
	}
}

func TestConsoleWelcome(t *testing.T) {
	_, c, out := newConsoleManager(t)
	got := run(t, c, out, "whitelist_welcome")
	want := "[whitelist]: Request: method=whitelist_welcome, path=\n" +
		"[whitelist]: {\"message\": \"Welcome to the whitelist!\"}\n"
	if got != want {
		t.Fatalf("welcome printed %q, want %q", got, want)
	}
}

func TestConsoleReportsSaveFailure(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out)
	m, _ := New(Dependencies{Store: &brokenStore{err: stderrors.New("disk full")}, Console: c})

	got := run(t, c, &out, "whitelist_add 192.0.2.1")
	if !strings.HasPrefix(got, "[whitelist]: '192.0.2.1'\n") || !strings.Contains(got, "Failed to save whitelist:") {
		t.Fatalf("add printed %q", got)
	}
	if !m.IsWhitelisted(m.Entries()[0]) {
		t.Fatal("entry missing after failed save")
	}
}

func TestConsoleArgumentErrors(t *testing.T) {
	_, c, out := newConsoleManager(t)
	out.Reset()
	if err := c.Execute("whitelist_add"); err == nil {
		t.Fatal("whitelist_add without argument succeeded")
	}
	if !strings.Contains(out.String(), "Usage: whitelist_add s[ip]") {
		t.Fatalf("usage output = %q", out.String())
	}
}

func TestCountSummary(t *testing.T) {
	for n, want := range map[int]string{
		0: "0 entries in whitelist",
		1: "1 entry in whitelist",
		2: "2 entries in whitelist",
	} {
		if got := CountSummary(n); got != want {
			t.Errorf("CountSummary(%d) = %q, want %q", n, got, want)
		}
	}
}
