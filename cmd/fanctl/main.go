package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mdouchement/fanctrld/client"
	"github.com/mdouchement/fanctrld/cmd/fanctl/monitor"
	"github.com/mdouchement/fanctrld/target"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v4"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"
)

type config struct {
	Server   string `yaml:"server"`
	HTTP     string `yaml:"http"`
	Username string `yaml:"username"`
}

func main() {
	cfg := config{
		Server:   "localhost:1234",
		HTTP:     "http://localhost",
		Username: "admin",
	}

	cmd := &cobra.Command{
		Use:     "fanctl",
		Short:   "A ctl use to interact with fanctrld",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfg.Server, "server", "s", cfg.Server, "Controller address of the binary protocol")
	cmd.PersistentFlags().StringVar(&cfg.HTTP, "http", cfg.HTTP, "Controller base URL of the REST API")
	cmd.PersistentFlags().StringVarP(&cfg.Username, "username", "u", cfg.Username, "Username of the REST API")

	dial := func(ctx context.Context) (*client.Client, error) {
		return connect(ctx, cfg.Server)
	}

	cmd.AddCommand(statusCommand(dial))
	cmd.AddCommand(configCommand(dial))
	cmd.AddCommand(setDutyCommand(dial))
	cmd.AddCommand(setTempCommand(dial))
	cmd.AddCommand(monitor.Command(&http.Client{}, func() monitor.Endpoint {
		return monitor.Endpoint{URL: strings.TrimSuffix(cfg.HTTP, "/") + "/monitor", Username: cfg.Username}
	}))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for fanctl",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(cmd.Version)
		},
	})

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads ~/.config/fanctl/fanctl.yml, flags set on the command line win.
func loadConfig(cmd *cobra.Command, cfg *config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil // Flags only.
	}

	payload, err := os.ReadFile(filepath.Join(home, ".config", "fanctl", "fanctl.yml")) // Does not follow XDG..
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var file config
	if err = yaml.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("fanctl.yml: %w", err)
	}

	flags := cmd.Flags()
	if file.Server != "" && !flags.Changed("server") {
		cfg.Server = file.Server
	}
	if file.HTTP != "" && !flags.Changed("http") {
		cfg.HTTP = file.HTTP
	}
	if file.Username != "" && !flags.Changed("username") {
		cfg.Username = file.Username
	}
	return nil
}

func connect(ctx context.Context, addr string) (*client.Client, error) {
	token, err := client.ReadSecret(client.TokenEnv, "Token")
	if err != nil {
		return nil, err
	}

	c, err := client.Dial(ctx, addr, 5*time.Second)
	if err != nil {
		return nil, err
	}

	if err = c.Login("fanctl", token); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// parseFan converts a fan name or number (fan1..fan6) to a channel index.
func parseFan(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "fan"))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid fan", s)
	}

	channel := n - 1
	if err = target.ValidChannel(channel); err != nil {
		return 0, fmt.Errorf("%s: %w", s, err)
	}
	return channel, nil
}
