package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"

	"github.com/mdouchement/fanctrld/espmsg"
	"github.com/mdouchement/fanctrld/target"
)

// MaxBodySize bounds the JSON documents accepted by POST routes.
const MaxBodySize = 1 << 10

var errMissing = errors.New("missing value")

type Info struct {
	Version  string `json:"version"`
	Protocol int    `json:"protocol"`
	Channels int    `json:"channels"`
	Cores    int    `json:"cores"`
}

type Data struct {
	Temp       float64 `json:"temp"`
	Duty       uint8   `json:"duty"`
	RPM        uint32  `json:"rpm"`
	Load       float64 `json:"load"`
	LastUpdate int64   `json:"lastupdate"` // Unix seconds, 0 when never updated.
	Faulted    bool    `json:"faulted,omitempty"`
}

// ConfigUpdate is the body of POST /api/v1/system/config. Channel settings are applied on top
// of the current channel configuration, omitted fields are kept.
type ConfigUpdate struct {
	Timezone *string `json:"timezone"`
	Channel  *int    `json:"channel"`
	Enabled  *bool   `json:"enabled"`
	LowTemp  *uint32 `json:"lowTemp"`
	HighTemp *uint32 `json:"highTemp"`
	MinDuty  *uint8  `json:"minDuty"`
}

type pwmRequest struct {
	Channel *int  `json:"channel"`
	Duty    *uint `json:"duty"`
}

type tempRequest struct {
	Channel *int     `json:"channel"`
	Temp    *float64 `json:"temp"`
}

func (a *API) info(w http.ResponseWriter, _ *http.Request) {
	a.json(w, Info{
		Version:  a.version,
		Protocol: espmsg.ProtocolVersion,
		Channels: a.engine.NumChannels(),
		Cores:    runtime.NumCPU(),
	})
}

func (a *API) getConfig(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"channels":    a.engine.NumChannels(),
		"timezone":    a.settings.Timezone(),
		"username":    a.settings.Username(),
		"passwordset": a.settings.Password() != "",
	}
	for ch, cfg := range a.engine.Configs() {
		doc[strconv.Itoa(ch)] = cfg
	}

	a.json(w, doc)
}

func (a *API) postConfig(w http.ResponseWriter, r *http.Request) {
	var update ConfigUpdate
	if err := decode(r, &update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if update.Timezone != nil {
		if err := a.settings.SetTimezone(*update.Timezone); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.log.Infof("Timezone set to %s", *update.Timezone)
	}

	if update.Channel != nil {
		ch := *update.Channel
		if err := target.ValidChannel(ch); err != nil {
			a.fail(w, err)
			return
		}

		cfg := a.engine.Configs()[ch]
		if update.Enabled != nil {
			cfg.Enabled = *update.Enabled
		}
		if update.LowTemp != nil {
			cfg.LowTemp = *update.LowTemp
		}
		if update.HighTemp != nil {
			cfg.HighTemp = *update.HighTemp
		}
		if update.MinDuty != nil {
			cfg.MinDuty = *update.MinDuty
		}

		if err := a.engine.UpdateConfig(ch, cfg); err != nil {
			a.fail(w, err)
			return
		}
	}

	a.ok(w)
}

func (a *API) getPWM(w http.ResponseWriter, _ *http.Request) {
	a.snapshot(w, func(c target.Channel) any {
		return map[string]uint8{"duty": c.Duty}
	})
}

func (a *API) postPWM(w http.ResponseWriter, r *http.Request) {
	var req pwmRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Duty == nil {
		http.Error(w, fmt.Sprintf("duty: %s", errMissing), http.StatusBadRequest)
		return
	}
	if req.Channel == nil {
		http.Error(w, fmt.Sprintf("channel: %s", errMissing), http.StatusBadRequest)
		return
	}
	if *req.Duty > target.MaxDuty {
		http.Error(w, fmt.Sprintf("duty: %d out of range", *req.Duty), http.StatusBadRequest)
		return
	}

	a.log.Infof("PWM control: channel %d duty %d", *req.Channel, *req.Duty)
	if err := a.engine.SubmitDuty(*req.Channel, uint8(*req.Duty)); err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w)
}

func (a *API) getTemp(w http.ResponseWriter, _ *http.Request) {
	a.snapshot(w, func(c target.Channel) any {
		return map[string]float64{"temp": c.Temperature}
	})
}

func (a *API) postTemp(w http.ResponseWriter, r *http.Request) {
	var req tempRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Temp == nil {
		http.Error(w, fmt.Sprintf("temp: %s", errMissing), http.StatusBadRequest)
		return
	}
	if req.Channel == nil {
		http.Error(w, fmt.Sprintf("channel: %s", errMissing), http.StatusBadRequest)
		return
	}

	a.log.Infof("Temp: channel %d temp %.2f", *req.Channel, *req.Temp)
	if err := a.engine.SubmitTemperature(*req.Channel, *req.Temp); err != nil {
		a.fail(w, err)
		return
	}
	a.ok(w)
}

func (a *API) data(w http.ResponseWriter, _ *http.Request) {
	a.snapshot(w, func(c target.Channel) any {
		d := Data{
			Temp:    c.Temperature,
			Duty:    c.Duty,
			RPM:     c.RPM,
			Load:    c.Load,
			Faulted: c.Faulted,
		}
		if !c.LastUpdate.IsZero() {
			d.LastUpdate = c.LastUpdate.Unix()
		}
		return d
	})
}

// snapshot writes one object per channel, keyed by the channel index.
func (a *API) snapshot(w http.ResponseWriter, fn func(c target.Channel) any) {
	channels, err := a.engine.Snapshot()
	if err != nil {
		a.fail(w, err)
		return
	}

	doc := make(map[string]any, len(channels))
	for _, c := range channels {
		doc[strconv.Itoa(c.ID)] = fn(c)
	}
	a.json(w, doc)
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return err
	}
	if len(body) > MaxBodySize {
		return errors.New("content too long")
	}

	if err = json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
