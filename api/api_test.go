package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mdouchement/fanctrld/store"
	"github.com/mdouchement/fanctrld/target"
	"github.com/mdouchement/logger"
	"github.com/stretchr/testify/require"
)

func discard() logger.Logger {
	return logger.WrapSlogHandler(logger.NewSlogTextHandler(io.Discard, &logger.SlogTextOption{}))
}

type stubEngine struct {
	channels  []target.Channel
	configs   []target.ChannelConfig
	duties    map[int]uint8
	temps     map[int]float64
	submitErr error
	readErr   error
}

func newStubEngine() *stubEngine {
	e := &stubEngine{
		duties: map[int]uint8{},
		temps:  map[int]float64{},
	}
	for ch := range target.NumChannels {
		e.channels = append(e.channels, target.Channel{ID: ch, Duty: target.MaxDuty})
		e.configs = append(e.configs, target.DefaultChannelConfig())
	}
	return e
}

func (e *stubEngine) NumChannels() int { return target.NumChannels }

func (e *stubEngine) Snapshot() ([]target.Channel, error) {
	return e.channels, e.readErr
}

func (e *stubEngine) Configs() []target.ChannelConfig {
	return append([]target.ChannelConfig(nil), e.configs...)
}

func (e *stubEngine) UpdateConfig(channel int, cfg target.ChannelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.configs[channel] = cfg
	return nil
}

func (e *stubEngine) SubmitDuty(channel int, duty uint8) error {
	if err := target.ValidChannel(channel); err != nil {
		return err
	}
	if e.submitErr != nil {
		return e.submitErr
	}
	e.duties[channel] = duty
	return nil
}

func (e *stubEngine) SubmitTemperature(channel int, temperature float64) error {
	if err := target.ValidChannel(channel); err != nil {
		return err
	}
	if e.submitErr != nil {
		return e.submitErr
	}
	e.temps[channel] = temperature
	return nil
}

func newAPI(t *testing.T, engine Engine) (*API, *store.Store) {
	t.Helper()

	s, err := store.Open("", nil)
	require.NoError(t, err)
	return New(discard(), "test", engine, s), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.SetBasicAuth(store.DefaultUsername, store.DefaultPassword)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAPI_Authentication(t *testing.T) {
	a, _ := newAPI(t, newStubEngine())
	h := a.Handler()

	tests := []struct {
		name     string
		username string
		password string
		basic    bool
		status   int
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "bad password", basic: true, username: store.DefaultUsername, password: "nope", status: http.StatusUnauthorized},
		{name: "bad username", basic: true, username: "root", password: store.DefaultPassword, status: http.StatusUnauthorized},
		{name: "valid", basic: true, username: store.DefaultUsername, password: store.DefaultPassword, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/system/info", nil)
			if tt.basic {
				r.SetBasicAuth(tt.username, tt.password)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			require.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				require.Equal(t, `Basic realm="FanController"`, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAPI_Info(t *testing.T) {
	a, _ := newAPI(t, newStubEngine())

	w := do(t, a.Handler(), http.MethodGet, "/api/v1/system/info", "")
	require.Equal(t, http.StatusOK, w.Code)

	var info Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Equal(t, "test", info.Version)
	require.Equal(t, 1, info.Protocol)
	require.Equal(t, target.NumChannels, info.Channels)
}

func TestAPI_Config(t *testing.T) {
	engine := newStubEngine()
	a, s := newAPI(t, engine)
	h := a.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/system/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.EqualValues(t, target.NumChannels, doc["channels"])
	require.Equal(t, store.DefaultTimezone, doc["timezone"])
	require.Equal(t, store.DefaultUsername, doc["username"])
	require.Equal(t, true, doc["passwordset"])
	require.Equal(t, map[string]any{"enabled": true, "lowTemp": 55.0, "highTemp": 80.0, "minDuty": 10.0}, doc["5"])

	w = do(t, h, http.MethodPost, "/api/v1/system/config", `{"channel": 2, "lowTemp": 40, "highTemp": 90}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, target.ChannelConfig{Enabled: true, LowTemp: 40, HighTemp: 90, MinDuty: 10}, engine.configs[2])

	w = do(t, h, http.MethodPost, "/api/v1/system/config", `{"channel": 2, "lowTemp": 95}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.EqualValues(t, 40, engine.configs[2].LowTemp)

	w = do(t, h, http.MethodPost, "/api/v1/system/config", `{"channel": 6, "enabled": false}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/system/config", `{"timezone": "Europe/Paris"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Europe/Paris", s.Timezone())

	w = do(t, h, http.MethodPost, "/api/v1/system/config", `{"timezone": "Mars/Olympus"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Europe/Paris", s.Timezone())
}

func TestAPI_PWM(t *testing.T) {
	engine := newStubEngine()
	a, _ := newAPI(t, engine)
	h := a.Handler()

	w := do(t, h, http.MethodPost, "/api/v1/pwm", `{"channel": 3, "duty": 120}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
	require.Equal(t, map[int]uint8{3: 120}, engine.duties)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "missing duty", body: `{"channel": 3}`, status: http.StatusBadRequest},
		{name: "missing channel", body: `{"duty": 3}`, status: http.StatusBadRequest},
		{name: "duty out of range", body: `{"channel": 3, "duty": 256}`, status: http.StatusBadRequest},
		{name: "invalid channel", body: `{"channel": 6, "duty": 3}`, status: http.StatusBadRequest},
		{name: "invalid json", body: `{"channel"`, status: http.StatusBadRequest},
		{name: "too long", body: `{"channel": 1, "duty": 3, "pad": "` + strings.Repeat("x", MaxBodySize) + `"}`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/pwm", tt.body)
			require.Equal(t, tt.status, w.Code)
		})
	}

	engine.submitErr = target.ErrQueueFull
	w = do(t, h, http.MethodPost, "/api/v1/pwm", `{"channel": 3, "duty": 120}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/pwm", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"0":{"duty":255},"1":{"duty":255},"2":{"duty":255},"3":{"duty":255},"4":{"duty":255},"5":{"duty":255}}`, w.Body.String())
}

func TestAPI_Temp(t *testing.T) {
	engine := newStubEngine()
	engine.channels[1].Temperature = 42.5
	a, _ := newAPI(t, engine)
	h := a.Handler()

	w := do(t, h, http.MethodPost, "/api/v1/temp", `{"channel": 1, "temp": 70}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[int]float64{1: 70}, engine.temps)

	w = do(t, h, http.MethodPost, "/api/v1/temp", `{"channel": 1}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/temp", "")
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Equal(t, 42.5, doc["1"]["temp"])
	require.Len(t, doc, target.NumChannels)
}

func TestAPI_Data(t *testing.T) {
	engine := newStubEngine()
	at := time.Unix(1700000000, 0)
	engine.channels[0] = target.Channel{ID: 0, Duty: 153, Temperature: 70, RPM: 900, Load: 0.5, LastUpdate: at}
	a, _ := newAPI(t, engine)
	h := a.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/data", "")
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]Data
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Equal(t, Data{Temp: 70, Duty: 153, RPM: 900, Load: 0.5, LastUpdate: at.Unix()}, doc["0"])
	require.Equal(t, Data{Duty: 255}, doc["1"])

	engine.readErr = target.ErrLockTimeout
	w = do(t, h, http.MethodGet, "/api/v1/data", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPI_Monitor(t *testing.T) {
	engine := newStubEngine()
	engine.channels[4].Duty = 42
	a, _ := newAPI(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, 20*time.Millisecond)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/monitor", nil)
	require.NoError(t, err)
	req.SetBasicAuth(store.DefaultUsername, store.DefaultPassword)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	for range 2 {
		line, err := r.ReadString('\n')
		require.NoError(t, err)

		payload, ok := strings.CutPrefix(line, "data: ")
		require.True(t, ok, line)

		var channels []target.Channel
		require.NoError(t, json.Unmarshal([]byte(payload), &channels))
		require.Len(t, channels, target.NumChannels)
		require.EqualValues(t, 42, channels[4].Duty)

		blank, err := r.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "\n", blank)
	}
}

// brokenWriter fails every write, like a monitor whose connection went away.
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) WriteHeader(int)           {}
func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestAPI_MonitorWriteFailureUnwatches(t *testing.T) {
	a, _ := newAPI(t, newStubEngine())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/monitor", nil)
	a.monitor(&brokenWriter{header: http.Header{}}, r)

	require.Eventually(t, func() bool {
		return a.watching.Load() == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, a.ids.Load())
}

func TestWriteEvent(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteEvent(&buf, []byte("a\nb")))
	require.Equal(t, "data: a\ndata: b\n\n", buf.String())
}
