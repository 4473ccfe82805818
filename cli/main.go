// Command whitelistctl drives a running whitelistd through its management API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "whitelistctl",
		Usage:  "Client for the whitelistd management API",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://127.0.0.1:8081",
				Usage:   "Management API address",
				EnvVars: []string{"WHITELISTD_ADMIN"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Second,
				Usage: "Request timeout",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List all whitelisted IPs",
				Action: func(c *cli.Context) error {
					var list struct {
						Entries []string `json:"entries"`
						Summary string   `json:"summary"`
					}
					if err := call(c, http.MethodGet, "/api/v1/whitelist", nil, &list); err != nil {
						return err
					}
					for i, e := range list.Entries {
						fmt.Fprintf(c.App.Writer, "#%d '%s'\n", i, e)
					}
					fmt.Fprintln(c.App.Writer, list.Summary)
					return nil
				},
			},
			{
				Name:      "add",
				Usage:     "Add IP to whitelist",
				ArgsUsage: "ADDRESS",
				Action: func(c *cli.Context) error {
					addr, err := oneArg(c)
					if err != nil {
						return err
					}
					body, _ := json.Marshal(map[string]string{"address": addr})
					return printMessage(c, call(c, http.MethodPost, "/api/v1/whitelist", body, nil), "Added "+addr)
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove IP from whitelist",
				ArgsUsage: "ADDRESS",
				Action: func(c *cli.Context) error {
					addr, err := oneArg(c)
					if err != nil {
						return err
					}
					return printMessage(c, call(c, http.MethodDelete, "/api/v1/whitelist/"+url.PathEscape(addr), nil, nil), "Removed "+addr)
				},
			},
			{
				Name:  "clear",
				Usage: "Clear all whitelist entries",
				Action: func(c *cli.Context) error {
					return printMessage(c, call(c, http.MethodDelete, "/api/v1/whitelist", nil, nil), "Whitelist cleared")
				},
			},
			{
				Name:      "check",
				Usage:     "Exit 0 when ADDRESS is whitelisted, 1 otherwise",
				ArgsUsage: "ADDRESS",
				Action: func(c *cli.Context) error {
					addr, err := oneArg(c)
					if err != nil {
						return err
					}
					var status struct {
						Address     string `json:"address"`
						Whitelisted bool   `json:"whitelisted"`
					}
					if err := call(c, http.MethodGet, "/api/v1/whitelist/"+url.PathEscape(addr), nil, &status); err != nil {
						return err
					}
					if !status.Whitelisted {
						return cli.Exit(fmt.Sprintf("'%s' is not whitelisted", status.Address), 1)
					}
					fmt.Fprintf(c.App.Writer, "'%s' is whitelisted\n", status.Address)
					return nil
				},
			},
			{
				Name:  "reload",
				Usage: "Re-read the whitelist from its store",
				Action: func(c *cli.Context) error {
					return printMessage(c, call(c, http.MethodPost, "/api/v1/reload", nil, nil), "Whitelist reloaded")
				},
			},
		},
	}
}

func oneArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit(fmt.Sprintf("usage: %s %s ADDRESS", c.App.Name, c.Command.Name), 2)
	}
	return c.Args().First(), nil
}

func printMessage(c *cli.Context, err error, msg string) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, msg)
	return nil
}

// apiError is the error body the management API writes.
type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// call performs one request and decodes a JSON response into out when set.
func call(c *cli.Context, method, path string, body []byte, out interface{}) error {
	client := &http.Client{Timeout: c.Duration("timeout")}

	req, err := http.NewRequestWithContext(c.Context, method, c.String("server")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e apiError
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Message != "" {
			return cli.Exit(fmt.Sprintf("%s (%s)", e.Message, e.Code), 1)
		}
		return cli.Exit(fmt.Sprintf("unexpected status: %s", resp.Status), 1)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
	}
	return nil
}
