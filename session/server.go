package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdouchement/fanctrld/espmsg"
	"github.com/mdouchement/logger"
)

// OutboxSize is the number of results a session may have waiting for its peer to read them.
const OutboxSize = 4

type Options struct {
	PoolSize     int
	IdleTimeout  time.Duration // Longest time a started frame may take to complete, zero disables it.
	LoginTimeout time.Duration // Longest time a session may stay unauthenticated, zero disables it.
	WriteTimeout time.Duration
	KeepAlive    net.KeepAliveConfig
}

func (o *Options) defaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if !o.KeepAlive.Enable {
		o.KeepAlive = net.KeepAliveConfig{
			Enable:   true,
			Idle:     5 * time.Second,
			Interval: 5 * time.Second,
			Count:    3,
		}
	}
}

type eventName int

const (
	eventFrame eventName = iota
	eventClosed
	eventLoginExpired
)

type event struct {
	name    eventName
	session *Session
	payload []byte
	err     error
}

// A Server owns the session pool. Every session mutation happens on the goroutine running Serve.
// Each session has a reader goroutine moving frames from its socket to the loop and a writer
// goroutine draining its outbox, so a peer that stops reading never stalls the loop.
type Server struct {
	log     logger.Logger
	handler Handler
	opts    Options
	pool    []*Session
	events  chan event
}

func NewServer(log logger.Logger, handler Handler, opts Options) *Server {
	opts.defaults()

	return &Server{
		log:     log.WithPrefix("[network]"),
		handler: handler,
		opts:    opts,
		pool:    make([]*Session, opts.PoolSize),
		events:  make(chan event, opts.PoolSize),
	}
}

// Serve runs the network loop until ctx is done or the listener fails.
// Every open session is closed on return.
func (srv *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	accepts := make(chan net.Conn)
	failure := make(chan error, 1)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				failure <- err
				return
			}

			select {
			case accepts <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	srv.log.Infof("Listening on %s (pool of %d sessions)", l.Addr(), len(srv.pool))
	defer srv.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failure:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		case conn := <-accepts:
			srv.accept(ctx, conn)
		case e := <-srv.events:
			srv.handle(e)
		}
	}
}

func (srv *Server) accept(ctx context.Context, conn net.Conn) {
	slot := srv.free()
	if slot < 0 {
		srv.log.Warnf("Session pool full, rejecting %s", conn.RemoteAddr())
		conn.Close()
		return
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetKeepAliveConfig(srv.opts.KeepAlive); err != nil {
			srv.log.WithError(err).Warnf("Could not enable keep-alive for %s", conn.RemoteAddr())
		}
	}

	s := newSession(slot, conn)
	rand.Read(s.challenge[:]) // Never fails.

	// The outbox is empty, Info always fits.
	srv.enqueue(s, &espmsg.Result{
		Operation: espmsg.OpInfo,
		Payload: &espmsg.Info{
			Version:   espmsg.ProtocolVersion,
			Challenge: s.Challenge(),
		},
	})

	s.state = StateUnauthenticated
	srv.pool[slot] = s
	srv.log.Infof("Session %d opened for %s", slot, s.RemoteAddr())

	if srv.opts.LoginTimeout > 0 {
		s.expiry = time.AfterFunc(srv.opts.LoginTimeout, func() {
			srv.send(ctx, event{name: eventLoginExpired, session: s})
		})
	}

	go srv.write(ctx, s)
	go srv.read(ctx, s)
}

func (srv *Server) handle(e event) {
	s := e.session
	if srv.pool[s.slot] != s {
		// Slot already released.
		return
	}

	switch e.name {
	case eventClosed:
		srv.release(s, e.err)
	case eventLoginExpired:
		if s.state == StateUnauthenticated {
			srv.release(s, ErrLoginTimeout)
		}
	case eventFrame:
		req, err := espmsg.UnmarshalRequest(e.payload)
		if err != nil {
			srv.release(s, err)
			return
		}

		res, err := srv.handler.Dispatch(s, req)
		if err != nil {
			srv.release(s, err)
			return
		}

		if res != nil {
			if err = srv.enqueue(s, res); err != nil {
				srv.release(s, err)
				return
			}
		}

		s.resume <- struct{}{}
	}
}

// send hands an event to the loop, it gives up once the session or the server is closed.
func (srv *Server) send(ctx context.Context, e event) bool {
	select {
	case srv.events <- e:
		return true
	case <-e.session.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// read moves frames from the socket to the loop. It waits for the loop to handle a frame before
// reading the next one.
func (srv *Server) read(ctx context.Context, s *Session) {
	var acc espmsg.Accumulator
	buf := make([]byte, espmsg.MaxFrameSize)
	send := func(e event) bool {
		return srv.send(ctx, e)
	}

	// The deadline of a frame is fixed when its first byte arrives.
	var started time.Time
	for {
		var deadline time.Time
		switch {
		case !acc.Pending():
			started = time.Time{}
		case srv.opts.IdleTimeout > 0:
			if started.IsZero() {
				started = time.Now()
			}
			deadline = started.Add(srv.opts.IdleTimeout)
		}
		s.conn.SetReadDeadline(deadline)

		n, err := s.conn.Read(buf[:acc.Want()])
		for off := 0; off < n; {
			m, payload, ferr := acc.Feed(buf[off:n])
			off += m

			if ferr != nil {
				send(event{name: eventClosed, session: s, err: ferr})
				return
			}
			if payload == nil {
				continue
			}

			if !send(event{name: eventFrame, session: s, payload: payload}) {
				return
			}
			select {
			case <-s.resume:
			case <-s.done:
				return
			}
		}

		if err != nil {
			send(event{name: eventClosed, session: s, err: err})
			return
		}
	}
}

// enqueue hands a result to the writer of the session without waiting for the peer.
func (srv *Server) enqueue(s *Session, res *espmsg.Result) error {
	select {
	case s.outbox <- res:
		return nil
	default:
		return fmt.Errorf("%w: %d results pending", ErrSlowPeer, len(s.outbox))
	}
}

// write drains the outbox of the session to its socket.
func (srv *Server) write(ctx context.Context, s *Session) {
	w := &deadlineWriter{conn: s.conn, timeout: srv.opts.WriteTimeout}

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case res := <-s.outbox:
			if err := espmsg.WriteResult(w, res); err != nil {
				srv.send(ctx, event{name: eventClosed, session: s, err: fmt.Errorf("write: %w", err)})
				return
			}
		}
	}
}

// free returns the first free slot of the pool, -1 when every slot is in use.
func (srv *Server) free() int {
	for i, s := range srv.pool {
		if s == nil {
			return i
		}
	}
	return -1
}

func (srv *Server) release(s *Session, reason error) {
	srv.pool[s.slot] = nil
	s.Close()

	var nerr net.Error
	switch {
	case reason == nil, errors.Is(reason, io.EOF), errors.Is(reason, net.ErrClosed):
		srv.log.Infof("Session %d closed for %s", s.slot, s.RemoteAddr())
	case errors.As(reason, &nerr) && nerr.Timeout():
		srv.log.Warnf("Session %d for %s timed out mid-frame", s.slot, s.RemoteAddr())
	default:
		srv.log.WithError(reason).Warnf("Session %d closed for %s", s.slot, s.RemoteAddr())
	}
}

func (srv *Server) shutdown() {
	for _, s := range srv.pool {
		if s != nil {
			srv.release(s, nil)
		}
	}
}

// deadlineWriter arms a fresh write deadline before every write so each retry gets its own budget.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}
