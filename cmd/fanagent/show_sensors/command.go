package showsensors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "show-sensors",
		Short: "Show the keys of available temperature sensors",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			temps, err := host.SensorsTemperatures()
			if err != nil && len(temps) == 0 {
				return err
			}

			slices.SortStableFunc(temps, func(a, b host.TemperatureStat) int {
				return strings.Compare(strings.ToLower(a.SensorKey), strings.ToLower(b.SensorKey))
			})

			for _, t := range temps {
				fmt.Printf("%3.0f°C   \"%s\"\n", t.Temperature, t.SensorKey)
			}

			return nil
		},
	}
}
