package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/mdouchement/fanctrld/espmsg"
)

var (
	// ErrClosed is returned when the controller closed the session instead of answering,
	// which it does for rejected logins and invalid requests.
	ErrClosed           = errors.New("session closed by controller")
	ErrUnexpectedResult = errors.New("unexpected result")
	ErrVersion          = errors.New("unsupported protocol version")
)

// DefaultTimeout bounds every request round trip.
const DefaultTimeout = 5 * time.Second

// A Client speaks the binary protocol of the controller. It is safe for concurrent use,
// requests are serialized on the connection.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	info    espmsg.Info
	timeout time.Duration
}

// Dial connects to the controller and reads its greeting.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c, err := New(conn, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New reads the greeting on an established connection.
func New(conn net.Conn, timeout time.Duration) (*Client, error) {
	c := &Client{
		conn:    conn,
		timeout: timeout,
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	res, err := espmsg.ReadResult(conn)
	if err != nil {
		return nil, fmt.Errorf("greeting: %w", closed(err))
	}
	info, ok := res.Payload.(*espmsg.Info)
	if res.Operation != espmsg.OpInfo || !ok {
		return nil, fmt.Errorf("greeting: %w: %s", ErrUnexpectedResult, res.Operation)
	}
	if info.Version != espmsg.ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, info.Version)
	}

	c.info = *info
	return c, nil
}

// Info returns the greeting sent by the controller.
func (c *Client) Info() espmsg.Info {
	return c.info
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Login authenticates the session with the agent token.
func (c *Client) Login(username, token string) error {
	res, err := c.roundtrip(&espmsg.Request{
		Operation: espmsg.OpLogin,
		Payload:   &espmsg.Login{Username: username, Token: token},
	}, espmsg.OpLogin)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	result, ok := res.Payload.(*espmsg.LoginResult)
	if !ok || !result.Success {
		return fmt.Errorf("login: %w", ErrUnexpectedResult)
	}
	return nil
}

// SetPerf reports the temperature and load of the host cooled by channel.
func (c *Client) SetPerf(channel int, temperature, load float64) (*espmsg.Status, error) {
	return c.status(&espmsg.Request{
		Operation: espmsg.OpSetPerf,
		ID:        uint32(channel),
		Payload:   &espmsg.SetPerf{Temp: temperature, Load: load},
	})
}

// SetDuty overrides the duty of channel until its next temperature report.
func (c *Client) SetDuty(channel int, duty uint8) (*espmsg.Status, error) {
	return c.status(&espmsg.Request{
		Operation: espmsg.OpSetDuty,
		ID:        uint32(channel),
		Payload:   &espmsg.SetDuty{Duty: uint32(duty)},
	})
}

func (c *Client) Status(channel int) (*espmsg.Status, error) {
	return c.status(&espmsg.Request{
		Operation: espmsg.OpGetStatus,
		ID:        uint32(channel),
	})
}

func (c *Client) Config() (*espmsg.Config, error) {
	res, err := c.roundtrip(&espmsg.Request{Operation: espmsg.OpGetConfig}, espmsg.OpGetConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg, ok := res.Payload.(*espmsg.Config)
	if !ok {
		return nil, fmt.Errorf("config: %w", ErrUnexpectedResult)
	}
	return cfg, nil
}

func (c *Client) status(req *espmsg.Request) (*espmsg.Status, error) {
	res, err := c.roundtrip(req, espmsg.OpGetStatus)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Operation, err)
	}
	if res.ID != req.ID {
		return nil, fmt.Errorf("%s: %w: id %d instead of %d", req.Operation, ErrUnexpectedResult, res.ID, req.ID)
	}

	status, ok := res.Payload.(*espmsg.Status)
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Operation, ErrUnexpectedResult)
	}
	return status, nil
}

func (c *Client) roundtrip(req *espmsg.Request, want espmsg.Operation) (*espmsg.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}

	if err := espmsg.WriteRequest(c.conn, req); err != nil {
		return nil, closed(err)
	}

	res, err := espmsg.ReadResult(c.conn)
	if err != nil {
		return nil, closed(err)
	}
	if res.Operation != want {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedResult, res.Operation)
	}
	return res, nil
}

func closed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
