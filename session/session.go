// Package session implements the agent facing side of the controller: a bounded pool of TCP
// sessions multiplexed by a single network loop, their authentication state machine and the
// dispatch of decoded requests to the target engine.
package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mdouchement/fanctrld/espmsg"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrBadToken        = errors.New("bad agent token")
	ErrUnexpectedInfo  = errors.New("unexpected Info from peer")
	ErrSlowPeer        = errors.New("peer is not reading its results")
	ErrLoginTimeout    = errors.New("login timeout")
)

type State uint8

const (
	StateConnecting State = iota
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// A Session is one agent connection. Its state is only touched by the network loop.
type Session struct {
	slot      int
	conn      net.Conn
	remote    string
	state     State
	challenge [espmsg.ChallengeSize]byte

	once   sync.Once
	done   chan struct{}
	resume chan struct{}
	outbox chan *espmsg.Result
	expiry *time.Timer
}

func newSession(slot int, conn net.Conn) *Session {
	return &Session{
		slot:   slot,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		state:  StateConnecting,
		done:   make(chan struct{}),
		resume: make(chan struct{}, 1),
		outbox: make(chan *espmsg.Result, OutboxSize),
	}
}

func (s *Session) Slot() int {
	return s.slot
}

func (s *Session) RemoteAddr() string {
	return s.remote
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Authenticated() bool {
	return s.state == StateAuthenticated
}

// Challenge returns the random bytes announced in the Info message.
func (s *Session) Challenge() []byte {
	return s.challenge[:]
}

// Close moves the session to StateClosed and closes the connection. It is safe to call several times.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.state = StateClosed
		if s.expiry != nil {
			s.expiry.Stop()
		}
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
