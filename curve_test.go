package fanctrld

import (
	"testing"

	"github.com/mdouchement/fanctrld/target"
	"github.com/stretchr/testify/require"
)

func TestCurve(t *testing.T) {
	values := Curve(target.DefaultChannelConfig(), 100, 2)
	require.Len(t, values, 202)

	require.Equal(t, 255.0, values[0], "0°C is a sensor failure")
	require.Equal(t, 0.0, values[2*54+1], "54.5°C")
	require.Equal(t, 10.0, values[2*55], "55°C")
	require.Equal(t, 153.0, values[2*70], "70°C")
	require.Equal(t, 255.0, values[2*80], "80°C")
	require.Equal(t, 255.0, values[len(values)-1])
}
