package main

import (
	"context"
	"errors"
	"time"

	"github.com/mdouchement/fanctrld/client"
	"github.com/mdouchement/logger"
)

const maxBackoff = 30 * time.Second

type agent struct {
	log      logger.Logger
	addr     string
	username string
	token    string
	channel  int
	interval time.Duration
	sampler  Sampler
}

// run reports the samples until ctx is done, reconnecting with an exponential backoff.
func (a *agent) run(ctx context.Context) {
	backoff := time.Second
	for {
		connected, err := a.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = time.Second
		}

		a.log.WithError(err).Errorf("Session with %s lost, retrying in %s", a.addr, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, maxBackoff)
	}
}

// session reports the samples on one connection. connected is true once the login succeeded.
func (a *agent) session(ctx context.Context) (connected bool, err error) {
	c, err := client.Dial(ctx, a.addr, max(a.interval, client.DefaultTimeout))
	if err != nil {
		return false, err
	}
	defer c.Close()

	info := c.Info()
	a.log.Debugf("Connected to %s, protocol version %d, challenge %x", a.addr, info.Version, info.Challenge)

	if err = c.Login(a.username, a.token); err != nil {
		if errors.Is(err, client.ErrClosed) {
			a.log.Error("Login rejected, check the agent token")
		}
		return false, err
	}
	a.log.Infof("Reporting to %s on channel %d every %s", a.addr, a.channel, a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-ticker.C:
			temperature, load, err := a.sampler.Sample()
			if err != nil {
				a.log.WithError(err).Error("Could not sample sensors")
				continue
			}

			status, err := c.SetPerf(a.channel, temperature, load)
			if err != nil {
				return true, err
			}
			a.log.Debugf("Sent %.1f°C load %.2f, duty %d rpm %d", temperature, load, status.Duty, status.RPM)
		}
	}
}
