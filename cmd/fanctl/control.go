package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mdouchement/fanctrld/client"
	"github.com/mdouchement/fanctrld/espmsg"
	"github.com/spf13/cobra"
)

type dialer func(ctx context.Context) (*client.Client, error)

func statusCommand(dial dialer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every fan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			cfg, err := c.Config()
			if err != nil {
				return err
			}

			statuses := make([]*espmsg.Status, cfg.Channels)
			for ch := range statuses {
				if statuses[ch], err = c.Status(ch); err != nil {
					return err
				}
			}

			printStatus(os.Stdout, statuses)
			return nil
		},
	}
}

func printStatus(w io.Writer, statuses []*espmsg.Status) {
	fmt.Fprintf(w, "%-6s %5s %8s %6s %6s\n", "FAN", "DUTY", "TEMP", "RPM", "LOAD")
	for ch, s := range statuses {
		fmt.Fprintf(w, "fan%-3d %5d %6.1f°C %6d %6.2f\n", ch+1, s.Duty, s.Temp, s.RPM, s.Load)
	}
}

func configCommand(dial dialer) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the controller configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			cfg, err := c.Config()
			if err != nil {
				return err
			}

			printConfig(os.Stdout, cfg)
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg *espmsg.Config) {
	fmt.Fprintf(w, "Timezone: %s\n", cfg.Timezone)
	fmt.Fprintf(w, "Channels: %d\n", cfg.Channels)
	for ch, c := range cfg.ChannelConfigs {
		state := "enabled"
		if !c.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "fan%d: %s, %d-%d°C, min duty %d\n", ch+1, state, c.LowTemp, c.HighTemp, c.MinDuty)
	}
}

func setDutyCommand(dial dialer) *cobra.Command {
	return &cobra.Command{
		Use:   "set-duty FAN DUTY",
		Short: "Override the duty (0-255) of a fan until its next temperature report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := parseFan(args[0])
			if err != nil {
				return err
			}
			duty, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return fmt.Errorf("%s: invalid duty", args[1])
			}

			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err = c.SetDuty(channel, uint8(duty)); err != nil {
				return err
			}
			fmt.Printf("fan%d duty set to %d\n", channel+1, duty)
			return nil
		},
	}
}

func setTempCommand(dial dialer) *cobra.Command {
	var load float64

	cmd := &cobra.Command{
		Use:   "set-temp FAN TEMP",
		Short: "Report a temperature for a fan as an agent would",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := parseFan(args[0])
			if err != nil {
				return err
			}
			temperature, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("%s: invalid temperature", args[1])
			}

			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err = c.SetPerf(channel, temperature, load); err != nil {
				return err
			}
			fmt.Printf("fan%d temperature set to %.1f°C\n", channel+1, temperature)
			return nil
		},
	}
	cmd.Flags().Float64Var(&load, "load", 0, "Load reported along the temperature")

	return cmd
}
