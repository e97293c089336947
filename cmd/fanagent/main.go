package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mdouchement/fanctrld/client"
	showsensors "github.com/mdouchement/fanctrld/cmd/fanagent/show_sensors"
	"github.com/mdouchement/fanctrld/store"
	"github.com/mdouchement/fanctrld/target"
	"github.com/mdouchement/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	cfgFile string
)

func main() {
	cmd := &cobra.Command{
		Use:     "fanagent",
		Short:   "Report the host temperature and load to fanctrld",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.NoArgs,
		RunE:    run,
	}
	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configfile path (default is /etc/fanagent.yml)")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.Flags().StringP("server", "s", "localhost", "Controller to connect to")
	cmd.Flags().IntP("port", "p", 1234, "Controller port")
	cmd.Flags().String("username", "agent", "Username sent on login")
	cmd.Flags().Int("channel", 0, "Fan channel cooling this host")
	cmd.Flags().Duration("interval", 5*time.Second, "Reporting interval")
	cmd.Flags().String("sensor", "*", "Glob matching the sensor keys to report, the hottest wins")

	bind(cmd.PersistentFlags(), "debug", "debug")
	bind(cmd.Flags(), "sbcbmc.server", "server")
	bind(cmd.Flags(), "sbcbmc.port", "port")
	bind(cmd.Flags(), "sbcbmc.username", "username")
	bind(cmd.Flags(), "agent.channel", "channel")
	bind(cmd.Flags(), "agent.interval", "interval")
	bind(cmd.Flags(), "agent.tempsensor", "sensor")

	cmd.AddCommand(showsensors.Command())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for fanagent",
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

func bind(flags *pflag.FlagSet, key, name string) {
	if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(err) // Flag names are static.
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("fanagent")
	}

	viper.SetEnvPrefix("fanagent")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func run(_ *cobra.Command, args []string) error {
	var notFound viper.ConfigFileNotFoundError
	cfgErr := viper.ReadInConfig()
	if cfgErr != nil && (cfgFile != "" || !errors.As(cfgErr, &notFound)) {
		return fmt.Errorf("config: %w", cfgErr)
	}

	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	log := logger.WrapSlogHandler(logger.NewSlogTextHandler(os.Stdout, &logger.SlogTextOption{
		Level:            level,
		ForceColors:      true,
		ForceFormatting:  true,
		PrefixRE:         regexp.MustCompile(`^(\[.*?\])\s`),
		DisableTimestamp: true, // Provided by journalctl
	}))
	if cfgErr == nil {
		log.Infof("Loaded config %s", viper.ConfigFileUsed())
	}

	a, err := newAgent(log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("fanagent version %s", version)
	a.run(ctx)
	log.Info("Gracefully shutdown")
	return nil
}

func newAgent(log logger.Logger) (*agent, error) {
	token := viper.GetString("sbcbmc.auth")
	if token == "" {
		var err error
		if token, err = client.ReadSecret(client.TokenEnv, "Token"); err != nil {
			return nil, err
		}
	}
	if len(token) > store.MaxAgentTokenLength {
		return nil, fmt.Errorf("auth token can not be larger than %d characters", store.MaxAgentTokenLength)
	}

	interval := viper.GetDuration("agent.interval")
	if interval < time.Second {
		return nil, errors.New("interval must be at least 1 second")
	}

	channel := viper.GetInt("agent.channel")
	if err := target.ValidChannel(channel); err != nil {
		return nil, err
	}

	return &agent{
		log:      log.WithPrefix("[agent]"),
		addr:     net.JoinHostPort(viper.GetString("sbcbmc.server"), strconv.Itoa(viper.GetInt("sbcbmc.port"))),
		username: viper.GetString("sbcbmc.username"),
		token:    token,
		channel:  channel,
		interval: interval,
		sampler:  hostSampler{pattern: viper.GetString("agent.tempsensor")},
	}, nil
}
