package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/mdouchement/fanctrld/target"
	"github.com/mdouchement/logger"
)

// Realm is announced to HTTP clients failing Basic authentication.
const Realm = "FanController"

// Engine is the part of the target engine exposed over HTTP.
type Engine interface {
	NumChannels() int
	Snapshot() ([]target.Channel, error)
	Configs() []target.ChannelConfig
	UpdateConfig(channel int, cfg target.ChannelConfig) error
	SubmitDuty(channel int, duty uint8) error
	SubmitTemperature(channel int, temperature float64) error
}

// Settings holds the operator credentials and the device timezone.
type Settings interface {
	Username() string
	Password() string
	Timezone() string
	SetTimezone(tz string) error
}

// An API serves the JSON mirror of the binary protocol and the monitor stream.
type API struct {
	log      logger.Logger
	version  string
	engine   Engine
	settings Settings
	events   chan event
	done     chan struct{}
	ids      atomic.Int64
	watching atomic.Int64
}

func New(log logger.Logger, version string, engine Engine, settings Settings) *API {
	return &API{
		log:      log.WithPrefix("[api]"),
		version:  version,
		engine:   engine,
		settings: settings,
		events:   make(chan event, 10),
		done:     make(chan struct{}),
	}
}

// Handler returns the routes of the API, all of them behind Basic authentication.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/system/info", a.info)
	mux.HandleFunc("GET /api/v1/system/config", a.getConfig)
	mux.HandleFunc("POST /api/v1/system/config", a.postConfig)
	mux.HandleFunc("GET /api/v1/pwm", a.getPWM)
	mux.HandleFunc("POST /api/v1/pwm", a.postPWM)
	mux.HandleFunc("GET /api/v1/temp", a.getTemp)
	mux.HandleFunc("POST /api/v1/temp", a.postTemp)
	mux.HandleFunc("GET /api/v1/data", a.data)
	mux.HandleFunc("GET /monitor", a.monitor)

	return a.authenticate(mux)
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			a.log.Warnf("No auth header received from %s", r.RemoteAddr)
			unauthorized(w)
			return
		}

		// Both comparisons always run.
		u := subtle.ConstantTimeCompare([]byte(username), []byte(a.settings.Username()))
		p := subtle.ConstantTimeCompare([]byte(password), []byte(a.settings.Password()))
		if u&p != 1 {
			a.log.Warnf("Not authenticated %s", r.RemoteAddr)
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Basic realm="+strconv.Quote(Realm))
	w.WriteHeader(http.StatusUnauthorized)
}

func (a *API) json(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		a.log.WithError(err).Error("Could not write response")
	}
}

func (a *API) ok(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}

// fail maps engine errors to HTTP status codes.
func (a *API) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, target.ErrInvalidChannel), errors.Is(err, target.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, target.ErrQueueFull), errors.Is(err, target.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		a.log.WithError(err).Error("Request failed")
	}
	http.Error(w, err.Error(), status)
}
