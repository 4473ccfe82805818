package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"whitelistd/internal/api"
	"whitelistd/internal/config"
	"whitelistd/internal/console"
	"whitelistd/internal/core/gateway"
	"whitelistd/internal/logging"
	"whitelistd/internal/metrics"
	"whitelistd/internal/netaddr"
	"whitelistd/internal/storage"
	"whitelistd/internal/whitelist"
)

var (
	defaultConfigPath = "config/config.yaml"
	version           = "dev" // can be set at build time with -ldflags
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "whitelistd",
		Usage:   "IP whitelist guard in front of an upstream HTTP service",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "Path to config.yaml",
				EnvVars: []string{"WHITELISTD_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			consoleCommand("add", "Add IP to whitelist", "whitelist_add", "ADDRESS"),
			consoleCommand("remove", "Remove IP from whitelist", "whitelist_remove", "ADDRESS"),
			consoleCommand("clear", "Clear all whitelist entries", "whitelist_clear", ""),
			consoleCommand("list", "List all whitelisted IPs", "whitelist_list", ""),
			consoleCommand("welcome", "Display welcome message", "whitelist_welcome", ""),
			checkCommand(),
			printConfigCommand(),
		},
	}
}

// ensureDefaultConfig writes the default config when none exists and
// reports whether it did.
func ensureDefaultConfig(configPath string) (bool, error) {
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return false, err
	}
	if err := os.WriteFile(configPath, []byte(config.DefaultConfig), 0644); err != nil {
		return false, err
	}
	return true, nil
}

func newLogger(c *cli.Context) *logging.Logger {
	if c.Bool("debug") {
		return logging.NewLogger(true)
	}
	return logging.NewLoggerFromEnv()
}

// loadConfig reads the config file, falling back to the defaults when it
// does not exist so offline commands work in a fresh directory.
func loadConfig(c *cli.Context, logger *logging.Logger) (*config.Config, error) {
	path := c.String("config")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("No config file, using defaults", logging.String("path", path))
		return config.Parse([]byte(config.DefaultConfig))
	}
	return config.LoadConfig(path, logger)
}

// instance is the whitelist with everything it is bound to.
type instance struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Collector
	store   storage.Store
	console *console.Console
	manager *whitelist.Manager
}

func newInstance(c *cli.Context, logger *logging.Logger, cfg *config.Config) (*instance, error) {
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Type, err)
	}

	collector := metrics.NewCollector()
	con := console.New(c.App.Writer, console.WithLogger(logger.Named("console")), console.WithMetrics(collector))

	manager, err := whitelist.New(whitelist.Dependencies{
		Store:    store,
		Console:  con,
		Logger:   logger,
		Metrics:  collector,
		FileName: cfg.Whitelist.File,
	})
	if manager == nil {
		store.Close()
		return nil, err
	}
	if err != nil {
		// The whitelist stays usable; later saves may still succeed.
		logger.Warn("Starting with an empty whitelist", logging.Error(err))
	}

	return &instance{
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		store:   store,
		console: con,
		manager: manager,
	}, nil
}

func (in *instance) Close() error {
	return in.store.Close()
}

// withInstance runs fn against a freshly loaded whitelist.
func withInstance(c *cli.Context, fn func(*instance) error) error {
	logger := newLogger(c)
	defer logger.Sync()

	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	in, err := newInstance(c, logger, cfg)
	if err != nil {
		return err
	}
	defer in.Close()
	return fn(in)
}

// consoleCommand runs one operator command offline, against the persisted
// whitelist, with the same output the interactive console prints.
func consoleCommand(name, usage, command, arg string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: arg,
		Action: func(c *cli.Context) error {
			line := command
			if arg != "" {
				if c.NArg() != 1 {
					return cli.Exit(fmt.Sprintf("usage: %s %s %s", c.App.Name, name, arg), 2)
				}
				line += " " + strconv.Quote(c.Args().First())
			}
			return withInstance(c, func(in *instance) error {
				if err := in.console.Execute(line); err != nil {
					return cli.Exit("", 2)
				}
				return nil
			})
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Exit 0 when ADDRESS is whitelisted, 1 otherwise",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: whitelistd check ADDRESS", 2)
			}
			addr, err := netaddr.Parse(c.Args().First())
			if err != nil {
				return cli.Exit(fmt.Sprintf("Invalid IP address: %v", err), 2)
			}
			return withInstance(c, func(in *instance) error {
				if !in.manager.IsWhitelisted(addr) {
					return cli.Exit(fmt.Sprintf("'%s' is not whitelisted", addr), 1)
				}
				fmt.Fprintf(c.App.Writer, "'%s' is whitelisted\n", addr)
				return nil
			})
		},
	}
}

func printConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "print-config",
		Usage: "Print the loaded configuration and exit",
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			defer logger.Sync()
			cfg, err := loadConfig(c, logger)
			if err != nil {
				return err
			}
			if cfg.Storage.Etcd.Password != "" {
				cfg.Storage.Etcd.Password = "REDACTED"
			}
			if cfg.Storage.Consul.Token != "" {
				cfg.Storage.Consul.Token = "REDACTED"
			}
			b, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, string(b))
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the guarded server, the management API and the console",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address of the guarded server (overrides server.listen)",
				EnvVars: []string{"WHITELISTD_LISTEN"},
			},
			&cli.StringFlag{
				Name:  "admin-listen",
				Usage: "Address of the management API (overrides admin.listen)",
			},
			&cli.StringFlag{
				Name:  "enforce",
				Usage: "Enforcement mode: accept, request or off (overrides whitelist.enforce)",
			},
			&cli.BoolFlag{
				Name:  "no-console",
				Usage: "Do not read operator commands from stdin",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	startTime := time.Now()
	fmt.Fprintf(c.App.Writer, "whitelistd version: %s\n", version)

	created, err := ensureDefaultConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	if created {
		fmt.Fprintf(c.App.Writer, "\nDefault config created at %s. Please review and run again.\n", c.String("config"))
		return nil
	}

	logger := newLogger(c)
	defer logger.Sync()

	cfg, err := config.LoadConfig(c.String("config"), logger)
	if err != nil {
		return err
	}
	if err := applyOverrides(c, cfg, logger); err != nil {
		return err
	}

	in, err := newInstance(c, logger, cfg)
	if err != nil {
		return err
	}
	defer in.Close()

	gw, err := gateway.NewGateway(gateway.Dependencies{
		Config:    cfg,
		Whitelist: in.manager,
		Logger:    logger,
		Metrics:   in.metrics,
	})
	if err != nil {
		return err
	}

	apiDeps := api.Dependencies{
		Whitelist: in.manager,
		Logger:    logger,
		Metrics:   in.metrics,
	}
	if rl := cfg.Admin.RateLimit; rl != nil {
		apiDeps.RequestsPerSecond = rl.RequestsPerSecond
		apiDeps.Burst = rl.Burst
	}
	management := api.NewManagementAPI(apiDeps)
	adminServer := &http.Server{
		Addr:              cfg.Admin.Listen,
		Handler:           management.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("whitelistd startup complete",
		logging.String("version", version),
		logging.Int("entries", in.manager.Count()),
		logging.Duration("startup_time", time.Since(startTime)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Serve(gctx)
	})
	if cfg.Admin.Listen != "" {
		g.Go(func() error {
			logger.Info("Management API listening", logging.String("listen", cfg.Admin.Listen))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("management API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return adminServer.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		reloadLoop(gctx, in.manager, cfg.Whitelist.Reload(), logger)
		return nil
	})
	if cfg.Admin.Console && !c.Bool("no-console") {
		// Not part of the group: a blocked stdin read must not hold up shutdown.
		go func() {
			if err := in.console.Run(gctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Console stopped", logging.Error(err))
			}
		}()
	}

	err = g.Wait()
	logger.Info("whitelistd shutdown complete")
	return err
}

// reloadLoop re-reads the store on every tick and on SIGHUP until ctx is done.
func reloadLoop(ctx context.Context, manager *whitelist.Manager, interval time.Duration, logger *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("Received SIGHUP, reloading whitelist")
		case <-tick:
		}
		if err := manager.Reload(); err != nil {
			logger.Warn("Whitelist reload failed, keeping current entries", logging.Error(err))
		}
	}
}

// applyOverrides applies flag and environment overrides over the config
// file, then re-validates.
func applyOverrides(c *cli.Context, cfg *config.Config, logger *logging.Logger) error {
	if listen := c.String("listen"); listen != "" {
		cfg.Server.Listen = listen
		logger.Info("Overriding server.listen", logging.String("listen", listen))
	}
	if listen := c.String("admin-listen"); listen != "" {
		cfg.Admin.Listen = listen
		logger.Info("Overriding admin.listen", logging.String("listen", listen))
	}
	if enforce := c.String("enforce"); enforce != "" {
		cfg.Whitelist.Enforce = strings.ToLower(enforce)
		logger.Info("Overriding whitelist.enforce", logging.String("enforce", cfg.Whitelist.Enforce))
	}
	return cfg.Validate()
}
