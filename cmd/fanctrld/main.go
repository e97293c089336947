package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"runtime"
	"syscall"

	"github.com/mdouchement/fanctrld"
	showcurves "github.com/mdouchement/fanctrld/cmd/fanctrld/show_curves"
	"github.com/mdouchement/fanctrld/openfan"
	"github.com/mdouchement/logger"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	cpath string
	dummy bool
)

func main() {
	cmd := &cobra.Command{
		Use:     "fanctrld",
		Short:   "A temperature driven fan controller for single board computers",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.NoArgs,
		RunE:    daemon,
	}
	cmd.Flags().StringVarP(&cpath, "config", "c", "/etc/fanctrld/fanctrld.yml", "Configfile path")
	cmd.Flags().BoolVarP(&dummy, "dummy", "", false, "Start fanctrld with a dummy fan board")
	cmd.AddCommand(showcurves.Command())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for fanctrld",
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

func daemon(_ *cobra.Command, args []string) error {
	cfg, err := fanctrld.Load(cpath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rotate := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		defer rotate.Close()
		w = io.MultiWriter(os.Stdout, rotate)
	}

	h := logger.NewSlogTextHandler(w, &logger.SlogTextOption{
		Level:            level,
		ForceColors:      cfg.LogFile == "",
		ForceFormatting:  true,
		PrefixRE:         regexp.MustCompile(`^(\[.*?\])\s`),
		DisableTimestamp: cfg.LogFile == "", // Provided by journalctl
	})
	log := logger.WrapSlogHandler(h)
	ctx := logger.WithLogger(context.Background(), log)

	log.Infof("fanctrld version %s", version)

	board, err := openBoard(log, cfg)
	if err != nil {
		return err
	}
	defer board.Close()

	controller, err := fanctrld.New(log, cfg, board, version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = controller.Run(ctx); err != nil {
		return err
	}

	log.Info("Gracefully shutdown")
	return nil
}

func openBoard(log logger.Logger, cfg fanctrld.Config) (fanctrld.Board, error) {
	if dummy || cfg.Serial == fanctrld.SerialDummy {
		log.Warnf("Using a dummy fan board")
		board := fanctrld.NewDummyBoard()
		if cfg.Debug {
			board.SetLogger(log)
		}
		return board, nil
	}

	var ctrl *openfan.Controller
	var err error
	if cfg.Serial == "" {
		ctrl, err = openfan.OpenAuto()
	} else {
		ctrl, err = openfan.Open(cfg.Serial)
	}
	if err != nil {
		return nil, fmt.Errorf("openfan: %w", err)
	}
	if cfg.Debug {
		ctrl.SetLogger(log)
	}

	log.Infof("Fan Controller port `%s`", ctrl.Port())

	hw, err := ctrl.HardwareInfo()
	if err != nil {
		ctrl.Close()
		return nil, err
	}
	log.Infof("Hardware - REV: %s - MCU: %s - USB: %s - FAN_CHANNELS_TOTAL: %s - FAN_CHANNELS_ARCH: %s - FAN_CHANNELS_DRIVER: %s",
		hw.Revision, hw.MCU, hw.USB, hw.FanChannelsTotal, hw.FanChannelsArch, hw.FanChannelsDriver)

	fw, err := ctrl.FirmwareInfo()
	if err != nil {
		ctrl.Close()
		return nil, err
	}
	log.Infof("Firmware - REV: %s - PROTOCOL_VERSION: %s", fw.Revision, fw.ProtocolVersion)

	return ctrl, nil
}
