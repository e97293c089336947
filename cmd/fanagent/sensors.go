package main

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
)

// A Sampler reads the host temperature and load reported to the controller.
type Sampler interface {
	Sample() (temperature float64, load float64, err error)
}

// hostSampler reads hwmon sensors and the load average through gopsutil.
type hostSampler struct {
	pattern string
}

func (s hostSampler) Sample() (float64, float64, error) {
	temps, err := host.SensorsTemperatures()
	if err != nil && len(temps) == 0 {
		return 0, 0, fmt.Errorf("temperatures: %w", err)
	}

	temperature, err := hottest(temps, s.pattern)
	if err != nil {
		return 0, 0, err
	}

	avg, err := load.Avg()
	if err != nil {
		return 0, 0, fmt.Errorf("load: %w", err)
	}

	return temperature, avg.Load1, nil
}

// hottest returns the highest temperature of the sensors matching pattern, or 0 when none matches
// which the controller handles as a sensor failure.
func hottest(temps []host.TemperatureStat, pattern string) (float64, error) {
	var hottest float64
	for _, t := range temps {
		match, err := filepath.Match(pattern, t.SensorKey)
		if err != nil {
			return 0, fmt.Errorf("sensor pattern %q: %w", pattern, err)
		}
		if match {
			hottest = max(hottest, t.Temperature)
		}
	}
	return hottest, nil
}
