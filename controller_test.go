package fanctrld

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/mdouchement/fanctrld/api"
	"github.com/mdouchement/fanctrld/client"
	"github.com/mdouchement/fanctrld/store"
	"github.com/mdouchement/fanctrld/target"
	"github.com/mdouchement/logger"
	"github.com/stretchr/testify/require"
)

func discard() logger.Logger {
	return logger.WrapSlogHandler(logger.NewSlogTextHandler(io.Discard, &logger.SlogTextOption{}))
}

func listen(t *testing.T) net.Listener {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l
}

func TestController(t *testing.T) {
	cfg := Default()
	cfg.TachoInterval = Duration{Duration: 10 * time.Millisecond}

	board := NewDummyBoard()
	ctrl, err := New(discard(), cfg, board, "test")
	require.NoError(t, err)
	for ch := range uint8(target.NumChannels) {
		require.EqualValues(t, target.MaxDuty, board.Duty(ch), "fans start at full speed")
	}

	l, hl := listen(t), listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Serve(ctx, l, hl)
	}()

	c, err := client.Dial(ctx, l.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Login("agent", store.DefaultAgentToken))
	_, err = c.SetPerf(1, 70, 0.25)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return board.Duty(1) == 153
	}, 2*time.Second, 10*time.Millisecond)

	// The tachometer loop reports the dummy RPM of the new duty.
	require.Eventually(t, func() bool {
		status, err := c.Status(1)
		return err == nil && status.RPM == 900
	}, 2*time.Second, 10*time.Millisecond)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+hl.Addr().String()+"/api/v1/data", nil)
	require.NoError(t, err)
	req.SetBasicAuth(store.DefaultUsername, store.DefaultPassword)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data map[string]api.Data
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	require.EqualValues(t, 153, data["1"].Duty)
	require.Equal(t, 70.0, data["1"].Temp)
	require.Equal(t, 0.25, data["1"].Load)
	require.NotZero(t, data["1"].LastUpdate)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
}

func TestController_HardwareFaultHalts(t *testing.T) {
	board := NewDummyBoard()
	ctrl, err := New(discard(), Default(), board, "test")
	require.NoError(t, err)

	l := listen(t)
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Serve(context.Background(), l, nil)
	}()

	board.Fault(0, true)
	require.NoError(t, ctrl.Engine().SubmitDuty(0, 10))

	select {
	case err := <-done:
		require.ErrorIs(t, err, target.ErrHardwareFault)
		require.ErrorIs(t, err, ErrDummyFault)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not halt")
	}
}

func TestDummyBoard(t *testing.T) {
	board := NewDummyBoard()

	require.NoError(t, board.SetDuty(0, 255))
	require.NoError(t, board.SetDuty(1, 51))
	require.Error(t, board.SetDuty(10, 1))

	rpms, err := board.RPMs()
	require.NoError(t, err)
	require.EqualValues(t, 1500, rpms[0])
	require.EqualValues(t, 300, rpms[1])
	require.EqualValues(t, 0, rpms[2])

	board.Fault(1, true)
	require.ErrorIs(t, board.SetDuty(1, 0), ErrDummyFault)
	board.Fault(1, false)
	require.NoError(t, board.SetDuty(1, 0))
}
