// Package console dispatches operator command lines to registered handlers
// and prints their output, one "[system]: message" line at a time.
package console

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	coreerrors "whitelistd/internal/core/errors"
	"whitelistd/internal/linereader"
	"whitelistd/internal/logging"
	"whitelistd/internal/metrics"
)

// Output levels, lowest is always shown
const (
	OutputLevelStandard = iota
	OutputLevelAddInfo
	OutputLevelDebug
)

// Command flags
const (
	FlagServer = 1 << iota
	FlagStore
)

// Reporter is the text output sink command handlers write to.
type Reporter interface {
	Print(level int, system, msg string)
}

// Handler runs a command with its validated arguments.
type Handler func(r *Result)

type paramKind byte

const (
	paramString paramKind = 's'
	paramInt    paramKind = 'i'
	paramRest   paramKind = 'r'
)

type param struct {
	kind     paramKind
	name     string
	optional bool
}

// Command is a registered console command.
type Command struct {
	Name   string
	Params string
	Flags  int
	Help   string

	handler Handler
	params  []param
}

// Result carries the arguments of one command invocation.
type Result struct {
	Command string
	args    []string
}

func (r *Result) NumArguments() int { return len(r.args) }

// GetString returns argument i, or "" when absent.
func (r *Result) GetString(i int) string {
	if i < 0 || i >= len(r.args) {
		return ""
	}
	return r.args[i]
}

// GetInteger returns argument i as an int, or 0 when absent or malformed.
func (r *Result) GetInteger(i int) int {
	n, _ := strconv.Atoi(r.GetString(i))
	return n
}

type Option func(*Console)

func WithLogger(logger *logging.Logger) Option {
	return func(c *Console) { c.logger = logger }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Console) { c.metrics = m }
}

// WithOutputLevel hides prints above level.
func WithOutputLevel(level int) Option {
	return func(c *Console) { c.level = level }
}

// Console is safe for concurrent use; commands execute one at a time.
type Console struct {
	exec sync.Mutex

	mu       sync.RWMutex
	commands map[string]*Command

	outMu sync.Mutex
	out   io.Writer
	level int

	logger  *logging.Logger
	metrics *metrics.Collector
}

func New(out io.Writer, opts ...Option) *Console {
	c := &Console{
		commands: make(map[string]*Command),
		out:      out,
		level:    OutputLevelStandard,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Register("help", "?s[command]", FlagServer, c.conHelp, "List commands or show the usage of one")
	return c
}

// Register adds a command. params is a sequence of s (string), i (integer)
// and r (rest of line) kinds, each optionally followed by [name]; a ? makes
// every following parameter optional.
func (c *Console) Register(name, params string, flags int, handler Handler, help string) error {
	if name == "" || strings.ContainsAny(name, " \t\"") {
		return fmt.Errorf("console: invalid command name %q", name)
	}
	parsed, err := parseParams(params)
	if err != nil {
		return fmt.Errorf("console: command %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.commands[name]; exists {
		return fmt.Errorf("console: command %s already registered", name)
	}
	c.commands[name] = &Command{
		Name:    name,
		Params:  params,
		Flags:   flags,
		Help:    help,
		handler: handler,
		params:  parsed,
	}
	return nil
}

// Commands returns the registered commands sorted by name.
func (c *Console) Commands() []*Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Print implements Reporter.
func (c *Console) Print(level int, system, msg string) {
	if level > c.level {
		return
	}
	c.outMu.Lock()
	fmt.Fprintf(c.out, "[%s]: %s\n", system, msg)
	c.outMu.Unlock()
}

// Execute runs one command line. Empty lines and # comments are no-ops.
// Errors are also printed, so interactive callers may ignore them.
func (c *Console) Execute(line string) error {
	tokens, err := tokenize(line)
	if err != nil {
		c.Print(OutputLevelStandard, "console", err.Error())
		return coreerrors.NewArgumentsError("", err.Error())
	}
	if len(tokens) == 0 {
		return nil
	}

	name := tokens[0]
	c.mu.RLock()
	cmd, ok := c.commands[name]
	c.mu.RUnlock()
	if !ok {
		c.Print(OutputLevelStandard, "console", fmt.Sprintf("No such command: %s.", name))
		return coreerrors.ErrUnknownCommand.WithDetails(map[string]interface{}{"command": name})
	}

	args, err := bindArgs(cmd.params, tokens[1:])
	if err != nil {
		c.Print(OutputLevelStandard, "console", fmt.Sprintf("Invalid arguments... Usage: %s %s", cmd.Name, cmd.Params))
		return coreerrors.NewArgumentsError(cmd.Name, err.Error())
	}

	c.logger.Debug("Executing console command", logging.String("command", cmd.Name), logging.Int("args", len(args)))
	if c.metrics != nil {
		c.metrics.RecordCommand(cmd.Name)
	}

	c.exec.Lock()
	defer c.exec.Unlock()
	cmd.handler(&Result{Command: cmd.Name, args: args})
	return nil
}

// Run executes commands read line by line from r until r is exhausted or
// ctx is done. Failing commands do not stop the loop.
func (c *Console) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		lr := linereader.New(r)
		for {
			line, ok := lr.Next()
			if !ok {
				errc <- lr.Err()
				close(lines)
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			c.Execute(line)
		}
	}
}

func (c *Console) conHelp(r *Result) {
	if r.NumArguments() == 1 {
		c.mu.RLock()
		cmd, ok := c.commands[r.GetString(0)]
		c.mu.RUnlock()
		if !ok {
			c.Print(OutputLevelStandard, "console", fmt.Sprintf("No such command: %s.", r.GetString(0)))
			return
		}
		c.Print(OutputLevelStandard, "console", fmt.Sprintf("%s %s: %s", cmd.Name, cmd.Params, cmd.Help))
		return
	}
	for _, cmd := range c.Commands() {
		c.Print(OutputLevelStandard, "console", fmt.Sprintf("%s - %s", cmd.Name, cmd.Help))
	}
}

func parseParams(spec string) ([]param, error) {
	var out []param
	optional := false
	for i := 0; i < len(spec); i++ {
		ch := spec[i]
		switch ch {
		case ' ':
			continue
		case '?':
			optional = true
			continue
		case 's', 'i', 'r':
		default:
			return nil, fmt.Errorf("unknown parameter kind %q", ch)
		}

		p := param{kind: paramKind(ch), optional: optional}
		if i+1 < len(spec) && spec[i+1] == '[' {
			end := strings.IndexByte(spec[i+1:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated parameter name")
			}
			p.name = spec[i+2 : i+1+end]
			i += 1 + end
		}
		if len(out) > 0 && out[len(out)-1].kind == paramRest {
			return nil, fmt.Errorf("rest parameter must be last")
		}
		out = append(out, p)
	}
	return out, nil
}

func bindArgs(params []param, tokens []string) ([]string, error) {
	args := make([]string, 0, len(params))
	for i, p := range params {
		if i >= len(tokens) {
			if p.optional {
				break
			}
			return nil, fmt.Errorf("missing argument %s", p.name)
		}
		switch p.kind {
		case paramInt:
			if _, err := strconv.Atoi(tokens[i]); err != nil {
				return nil, fmt.Errorf("argument %s is not an integer", p.name)
			}
		case paramRest:
			return append(args, strings.Join(tokens[i:], " ")), nil
		}
		args = append(args, tokens[i])
	}
	if len(tokens) > len(params) {
		return nil, fmt.Errorf("too many arguments")
	}
	return args, nil
}

// tokenize splits on whitespace. Double quotes group, and inside them \" and
// \\ escape. A # outside quotes starts a comment.
func tokenize(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		have    bool
	)
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case inQuote && ch == '\\' && i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\'):
			i++
			cur.WriteByte(line[i])
		case ch == '"':
			inQuote = !inQuote
			have = true
		case !inQuote && ch == '#':
			i = len(line)
		case !inQuote && (ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n'):
			if have {
				tokens = append(tokens, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteByte(ch)
			have = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if have {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
