package fanctrld

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mdouchement/fanctrld/api"
	"github.com/mdouchement/fanctrld/openfan"
	"github.com/mdouchement/fanctrld/session"
	"github.com/mdouchement/fanctrld/store"
	"github.com/mdouchement/fanctrld/target"
	"github.com/mdouchement/logger"
)

// MonitorInterval is the period of the snapshots pushed to monitor streams.
const MonitorInterval = time.Second

// A Controller wires the board, the persistent store, the target engine and the network surfaces.
type Controller struct {
	log    logger.Logger
	cfg    Config
	board  Board
	store  *store.Store
	engine *target.Engine
	server *session.Server
	api    *api.API
}

func New(log logger.Logger, cfg Config, board Board, version string) (*Controller, error) {
	st, err := store.Open(cfg.Store, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	engine, err := target.New(log, board, st, cfg.EngineOptions())
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	dispatcher := session.NewDispatcher(log, engine, st, *cfg.RequireAuthForConfig)

	return &Controller{
		log:    log,
		cfg:    cfg,
		board:  board,
		store:  st,
		engine: engine,
		server: session.NewServer(log, dispatcher, cfg.SessionOptions()),
		api:    api.New(log, version, engine, st),
	}, nil
}

func (c *Controller) Engine() *target.Engine {
	return c.engine
}

// Run listens on the configured addresses and serves until ctx is done or a task fails.
func (c *Controller) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", c.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	var hl net.Listener
	if c.cfg.HTTP != "" {
		hl, err = net.Listen("tcp", c.cfg.HTTP)
		if err != nil {
			l.Close()
			return fmt.Errorf("http: %w", err)
		}
	}

	return c.Serve(ctx, l, hl)
}

// Serve runs every task on the given listeners, hl may be nil to disable the REST API.
// The first failing task stops the others and its error is returned.
func (c *Controller) Serve(ctx context.Context, l, hl net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Go(func() {
		if err := c.engine.Run(ctx); err != nil {
			errs <- fmt.Errorf("target: %w", err)
		}
	})
	wg.Go(func() {
		if err := c.server.Serve(ctx, l); err != nil {
			errs <- fmt.Errorf("network: %w", err)
		}
	})
	wg.Go(func() {
		c.tacho(ctx)
	})

	if hl != nil {
		srv := &http.Server{
			Handler:           c.api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		wg.Go(func() {
			c.api.Run(ctx, MonitorInterval)
		})
		wg.Go(func() {
			c.log.Infof("Starting HTTP server on %s", hl.Addr())
			if err := srv.Serve(hl); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http: %w", err)
			}
		})
		wg.Go(func() {
			<-ctx.Done()

			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				c.log.WithError(err).Error("Could not shutdown HTTP server")
			}
		})
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
		c.log.WithError(err).Error("Task failed, stopping")
	}

	cancel()
	wg.Wait()
	return err
}

// tacho samples the board tachometers and feeds the target engine.
func (c *Controller) tacho(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TachoInterval.Duration)
	defer ticker.Stop()

	last := make(map[openfan.Fan]uint16)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rpms, err := c.board.RPMs()
			if err != nil {
				c.log.WithError(err).Error("Could not read RPMs")
				continue
			}

			c.updateRPMs(last, rpms)
		}
	}
}

func (c *Controller) updateRPMs(last, rpms map[openfan.Fan]uint16) {
	var change bool
	var speeds []string

	for ch := range c.engine.NumChannels() {
		fan := openfan.Fan(ch)
		rpm := rpms[fan]

		if err := c.engine.SubmitRpm(ch, uint32(rpm)); err != nil {
			c.log.WithError(err).Debugf("Could not submit RPM of fan%d", ch+1)
			continue
		}

		const tolerance = 5
		if diff := int(rpm) - int(last[fan]); diff < -tolerance || diff > tolerance {
			// Only log if RPMs changed to avoid flooding the logs.
			change = true
		}
		last[fan] = rpm

		if rpm != 0 {
			speeds = append(speeds, fmt.Sprintf("fan%d: %d", ch+1, rpm))
		}
	}

	if change {
		c.log.Info(strings.Join(speeds, " - "))
	}
}
