package main

import (
	"bytes"
	"testing"

	"github.com/mdouchement/fanctrld/espmsg"
	"github.com/mdouchement/fanctrld/target"
	"github.com/stretchr/testify/require"
)

func TestParseFan(t *testing.T) {
	for in, expected := range map[string]int{"fan1": 0, "1": 0, "fan6": 5} {
		channel, err := parseFan(in)
		require.NoError(t, err, in)
		require.Equal(t, expected, channel, in)
	}

	for _, in := range []string{"fan0", "fan7", "cpu", ""} {
		_, err := parseFan(in)
		require.Error(t, err, in)
	}

	_, err := parseFan("fan7")
	require.ErrorIs(t, err, target.ErrInvalidChannel)
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, []*espmsg.Status{{Duty: 153, Temp: 70, RPM: 900, Load: 0.5}})
	require.Equal(t, "FAN     DUTY     TEMP    RPM   LOAD\nfan1     153   70.0°C    900   0.50\n", buf.String())

	buf.Reset()
	printConfig(&buf, &espmsg.Config{
		Channels: 1,
		Timezone: "UTC",
		ChannelConfigs: []espmsg.ChannelConfig{
			{Enabled: false, LowTemp: 55, HighTemp: 80, MinDuty: 10},
		},
	})
	require.Equal(t, "Timezone: UTC\nChannels: 1\nfan1: disabled, 55-80°C, min duty 10\n", buf.String())
}
