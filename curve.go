package fanctrld

import "github.com/mdouchement/fanctrld/target"

// Curve samples the duty computed by the control law from 0°C to maxT°C included,
// with steps samples per degree.
func Curve(cfg target.ChannelConfig, maxT, steps int) []float64 {
	steps = max(steps, 1)
	maxT = max(maxT, 0)

	values := make([]float64, 0, (maxT+1)*steps)
	for t := range maxT + 1 {
		for decimal := range steps {
			temperature := float64(t) + float64(decimal)/float64(steps)
			values = append(values, float64(target.Evaluate(cfg, temperature)))
		}
	}
	return values
}
