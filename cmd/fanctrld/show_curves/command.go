package showcurves

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"strconv"

	"github.com/go-analyze/charts"
	"github.com/mattn/go-sixel"
	"github.com/mdouchement/fanctrld"
	"github.com/mdouchement/fanctrld/store"
	"github.com/mdouchement/fanctrld/target"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	var cpath string
	var resolution int
	var seedOnly bool

	cmd := &cobra.Command{
		Use:   "show-curves",
		Short: "Show the duty curve of each channel",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := fanctrld.Load(cpath)
			if err != nil {
				return err
			}

			configs := make([]target.ChannelConfig, target.NumChannels)
			for ch := range configs {
				c, ok := cfg.Channels[ch]
				if !ok {
					c = target.DefaultChannelConfig()
				}
				configs[ch] = c
			}

			if !seedOnly && cfg.Store != "" {
				// The store overrides the seeds once the daemon has run.
				st, err := store.Open(cfg.Store, cfg.Channels)
				if err != nil {
					return err
				}
				for ch := range configs {
					if configs[ch], err = st.ChannelConfig(ch); err != nil {
						return err
					}
				}
			}

			var maxT int
			for _, c := range configs {
				maxT = max(maxT, int(c.HighTemp)+10)
			}
			maxT = max(maxT, 100) // Set defaults to 100°C which leads to better x-axis values.

			decimals := 10 // Agents report 42.3°C

			for ch, c := range configs {
				if !c.Enabled {
					continue
				}

				set := charts.LineSeriesList{
					{
						Name:   fmt.Sprintf("%d-%d°C min %d", c.LowTemp, c.HighTemp, c.MinDuty),
						Values: fanctrld.Curve(c, maxT, decimals),
					},
				}

				opt := charts.NewLineChartOptionWithSeries(set)
				opt.Theme = charts.GetTheme(charts.ThemeVividDark)
				opt.Padding = charts.NewBox(20, 20, 20, 20)
				opt.Title.Text = fmt.Sprintf("fan%d", ch+1)
				opt.Title.FontStyle.FontSize = 16
				opt.Title.Offset = charts.OffsetLeft
				opt.Legend = charts.LegendOption{
					Show:     fanctrld.ToPtr(true),
					Offset:   charts.OffsetCenter,
					Vertical: fanctrld.ToPtr(true),
					Padding:  charts.NewBox(0, 0, 0, 20),
				}
				opt.Symbol = charts.SymbolNone
				opt.LineStrokeWidth = 2
				opt.XAxis.Show = fanctrld.ToPtr(true)
				opt.XAxis.Title = "°C"
				opt.XAxis.Labels = []string{} // Reset
				for t := range maxT + 1 {
					for range decimals {
						// Same label for every decimal of a degree,
						// it keeps `opt.XAxis.LabelCount = maxT / 10' readable.
						opt.XAxis.Labels = append(opt.XAxis.Labels, strconv.Itoa(t))
					}
				}
				opt.XAxis.LabelCount = maxT / 10
				opt.YAxis = []charts.YAxisOption{
					{
						Show:                   fanctrld.ToPtr(true),
						Title:                  "duty",
						Min:                    fanctrld.ToPtr(float64(0)),
						Max:                    fanctrld.ToPtr(float64(target.MaxDuty)),
						RangeValuePaddingScale: fanctrld.ToPtr(float64(0)),
						Unit:                   15,
					},
				}
				p := charts.NewPainter(charts.PainterOptions{
					OutputFormat: charts.ChartOutputPNG,
					Width:        resolution,
					Height:       int(float64(resolution) / (16.0 / 9.0)),
				})

				err := p.LineChart(opt)
				if err != nil {
					return fmt.Errorf("fan%d: %w", ch+1, err)
				}

				mPNG, err := p.Bytes()
				if err != nil {
					return fmt.Errorf("fan%d: %w", ch+1, err)
				}

				m, _, err := image.Decode(bytes.NewReader(mPNG))
				if err != nil {
					return fmt.Errorf("fan%d: %w", ch+1, err)
				}

				codec := sixel.NewEncoder(os.Stdout)
				err = codec.Encode(m)
				if err != nil {
					return fmt.Errorf("fan%d: %w", ch+1, err)
				}
			}

			return nil
		},
	}
	cmd.Flags().StringVarP(&cpath, "config", "c", "/etc/fanctrld/fanctrld.yml", "Configfile path")
	cmd.Flags().IntVarP(&resolution, "resolution", "r", 1000, "The width size in pixel of each graph")
	cmd.Flags().BoolVarP(&seedOnly, "seed", "", false, "Only use the channels of the config file, ignoring the store")

	return cmd
}
