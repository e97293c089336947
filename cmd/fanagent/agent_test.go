package main

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mdouchement/fanctrld/session"
	"github.com/mdouchement/fanctrld/store"
	"github.com/mdouchement/fanctrld/target"
	"github.com/mdouchement/logger"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/require"
)

func discard() logger.Logger {
	return logger.WrapSlogHandler(logger.NewSlogTextHandler(io.Discard, &logger.SlogTextOption{}))
}

type fixedSampler struct {
	temperature float64
	load        float64
}

func (s fixedSampler) Sample() (float64, float64, error) {
	return s.temperature, s.load, nil
}

type nopPWM struct{}

func (nopPWM) SetDuty(uint8, uint8) error { return nil }

func controller(t *testing.T) (string, *target.Engine) {
	t.Helper()
	log := discard()

	st, err := store.Open("", nil)
	require.NoError(t, err)

	engine, err := target.New(log, nopPWM{}, st, target.Options{})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := session.NewServer(log, session.NewDispatcher(log, engine, st, true), session.Options{})

	var wg sync.WaitGroup
	wg.Go(func() { engine.Run(ctx) })
	wg.Go(func() { srv.Serve(ctx, l) })
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return l.Addr().String(), engine
}

func TestAgent_Reports(t *testing.T) {
	addr, engine := controller(t)

	a := &agent{
		log:      discard(),
		addr:     addr,
		username: "agent",
		token:    store.DefaultAgentToken,
		channel:  3,
		interval: 10 * time.Millisecond,
		sampler:  fixedSampler{temperature: 70, load: 1.5},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.run(ctx)
	}()

	require.Eventually(t, func() bool {
		c, err := engine.ReadChannel(3)
		return err == nil && c.Duty == 153 && c.Temperature == 70
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestAgent_RejectedLogin(t *testing.T) {
	addr, _ := controller(t)

	a := &agent{
		log:      discard(),
		addr:     addr,
		username: "agent",
		token:    "wrong",
		interval: time.Second,
		sampler:  fixedSampler{},
	}

	connected, err := a.session(context.Background())
	require.False(t, connected)
	require.Error(t, err)
}

func TestHottest(t *testing.T) {
	temps := []host.TemperatureStat{
		{SensorKey: "coretemp_core_0", Temperature: 48},
		{SensorKey: "coretemp_core_1", Temperature: 52.5},
		{SensorKey: "nvme_composite", Temperature: 61},
	}

	tests := []struct {
		pattern  string
		expected float64
	}{
		{pattern: "*", expected: 61},
		{pattern: "coretemp_*", expected: 52.5},
		{pattern: "coretemp_core_0", expected: 48},
		{pattern: "acpitz*", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			v, err := hottest(temps, tt.pattern)
			require.NoError(t, err)
			require.Equal(t, tt.expected, v)
		})
	}

	_, err := hottest(temps, "[")
	require.Error(t, err)
}
