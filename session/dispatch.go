package session

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/mdouchement/fanctrld/espmsg"
	"github.com/mdouchement/fanctrld/target"
	"github.com/mdouchement/logger"
)

// Engine is the part of the target engine the dispatcher drives.
type Engine interface {
	NumChannels() int
	SubmitTemperature(channel int, temperature float64) error
	SubmitLoad(channel int, load float64) error
	SubmitDuty(channel int, duty uint8) error
	ReadChannel(channel int) (target.Channel, error)
	Configs() []target.ChannelConfig
}

// Credentials gives access to the device settings exposed to agents.
type Credentials interface {
	AgentToken() string
	Timezone() string
}

// A Handler answers a request. A nil result without error means no response is sent and the
// session stays open, an error closes the session without response.
type Handler interface {
	Dispatch(s *Session, req *espmsg.Request) (*espmsg.Result, error)
}

type Dispatcher struct {
	log                  logger.Logger
	engine               Engine
	credentials          Credentials
	requireAuthForConfig bool
}

func NewDispatcher(log logger.Logger, engine Engine, credentials Credentials, requireAuthForConfig bool) *Dispatcher {
	return &Dispatcher{
		log:                  log.WithPrefix("[dispatch]"),
		engine:               engine,
		credentials:          credentials,
		requireAuthForConfig: requireAuthForConfig,
	}
}

func (d *Dispatcher) Dispatch(s *Session, req *espmsg.Request) (*espmsg.Result, error) {
	d.log.Debugf("%s request %d from %s", req.Operation, req.ID, s.RemoteAddr())

	if req.Operation.Privileged() && !s.Authenticated() {
		return nil, fmt.Errorf("%s: %w", req.Operation, ErrUnauthenticated)
	}

	switch req.Operation {
	case espmsg.OpInfo:
		return nil, ErrUnexpectedInfo
	case espmsg.OpLogin:
		return d.login(s, req.Payload.(*espmsg.Login))
	case espmsg.OpGetConfig:
		return d.config(s, req)
	case espmsg.OpSetPerf:
		perf := req.Payload.(*espmsg.SetPerf)
		channel, err := d.channel(req.ID)
		if err != nil {
			return nil, err
		}

		d.log.Infof("Perf from %s: channel %d temp %.2f load %.2f", s.RemoteAddr(), channel, perf.Temp, perf.Load)
		if err = d.engine.SubmitTemperature(channel, perf.Temp); err != nil {
			return nil, err
		}
		if err = d.engine.SubmitLoad(channel, perf.Load); err != nil {
			return nil, err
		}
		return d.status(channel)
	case espmsg.OpSetDuty:
		duty := req.Payload.(*espmsg.SetDuty)
		channel, err := d.channel(req.ID)
		if err != nil {
			return nil, err
		}

		d.log.Infof("Duty from %s: channel %d duty %d", s.RemoteAddr(), channel, duty.Duty)
		if err = d.engine.SubmitDuty(channel, uint8(duty.Duty)); err != nil {
			return nil, err
		}
		return d.status(channel)
	case espmsg.OpGetStatus:
		channel, err := d.channel(req.ID)
		if err != nil {
			return nil, err
		}
		return d.status(channel)
	}

	return nil, fmt.Errorf("%w: unhandled operation %s", espmsg.ErrProtocolViolation, req.Operation)
}

func (d *Dispatcher) login(s *Session, login *espmsg.Login) (*espmsg.Result, error) {
	expected := d.credentials.AgentToken()
	if subtle.ConstantTimeCompare([]byte(login.Token), []byte(expected)) == 1 {
		if !s.Authenticated() {
			d.log.Infof("Agent %q authenticated from %s", login.Username, s.RemoteAddr())
		}
		s.state = StateAuthenticated
	}

	// A session that already logged in keeps its authentication.
	if !s.Authenticated() {
		return nil, fmt.Errorf("login %q: %w", login.Username, ErrBadToken)
	}

	return &espmsg.Result{
		Operation: espmsg.OpLogin,
		Payload:   &espmsg.LoginResult{Success: true},
	}, nil
}

func (d *Dispatcher) config(s *Session, req *espmsg.Request) (*espmsg.Result, error) {
	if d.requireAuthForConfig && !s.Authenticated() {
		return nil, fmt.Errorf("%s: %w", req.Operation, ErrUnauthenticated)
	}

	configs := d.engine.Configs()
	cfg := &espmsg.Config{
		Channels:       uint32(d.engine.NumChannels()),
		Timezone:       d.credentials.Timezone(),
		ChannelConfigs: make([]espmsg.ChannelConfig, 0, len(configs)),
	}
	for _, c := range configs {
		cfg.ChannelConfigs = append(cfg.ChannelConfigs, espmsg.ChannelConfig{
			Enabled:  c.Enabled,
			LowTemp:  c.LowTemp,
			HighTemp: c.HighTemp,
			MinDuty:  uint32(c.MinDuty),
		})
	}

	return &espmsg.Result{
		Operation: espmsg.OpGetConfig,
		ID:        req.ID,
		Payload:   cfg,
	}, nil
}

func (d *Dispatcher) channel(id uint32) (int, error) {
	if id >= uint32(d.engine.NumChannels()) {
		return 0, fmt.Errorf("%w: %d", target.ErrInvalidChannel, id)
	}
	return int(id), nil
}

// status answers with the current channel snapshot. Lock contention skips the answer but keeps the
// session, the agent simply asks again.
func (d *Dispatcher) status(channel int) (*espmsg.Result, error) {
	c, err := d.engine.ReadChannel(channel)
	if errors.Is(err, target.ErrLockTimeout) {
		d.log.WithError(err).Warnf("Skipping status of channel %d", channel)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &espmsg.Result{
		Operation: espmsg.OpGetStatus,
		ID:        uint32(channel),
		Payload: &espmsg.Status{
			Duty: uint32(c.Duty),
			Temp: c.Temperature,
			RPM:  c.RPM,
			Load: c.Load,
		},
	}, nil
}
