// Package store persists the operator configuration of the controller in a CBOR file:
// per-channel control law parameters and device settings (timezone, credentials, agent token).
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	_ "time/tzdata" // Timezones must resolve on hosts without zoneinfo.

	"github.com/fxamacker/cbor/v2"
	"github.com/mdouchement/fanctrld/target"
)

// Device defaults.
const (
	DefaultTimezone   = "Asia/Singapore"
	DefaultUsername   = "admin"
	DefaultPassword   = "password"
	DefaultAgentToken = "12345678"

	// MaxAgentTokenLength is the longest agent token accepted.
	MaxAgentTokenLength = 8
)

var (
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidToken    = errors.New("invalid agent token")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// Device holds the device wide settings.
type Device struct {
	Timezone   string
	Username   string
	Password   string
	AgentToken string
}

// A Store is safe for concurrent use. Every mutation is written to disk before it is visible.
type Store struct {
	mu       sync.RWMutex
	path     string
	device   Device
	channels [target.NumChannels]target.ChannelConfig
}

// Open loads the store at path. Missing keys get their default value, taken from seed for channels
// when present, and the completed document is written back. An empty path keeps the store in memory.
func Open(path string, seed map[int]target.ChannelConfig) (*Store, error) {
	s := &Store{path: path}

	var doc document
	if path != "" {
		payload, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read store: %w", err)
		default:
			if err = decMode.Unmarshal(payload, &doc); err != nil {
				return nil, fmt.Errorf("decode store %s: %w", path, err)
			}
		}
	}

	s.device = doc.device()
	if err := validateTimezone(s.device.Timezone); err != nil {
		return nil, err
	}
	if err := validateToken(s.device.AgentToken); err != nil {
		return nil, err
	}

	for ch := range target.NumChannels {
		cfg, ok := seed[ch]
		if !ok {
			cfg = target.DefaultChannelConfig()
		}
		cfg = doc.channel(ch, cfg)

		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", namespace(ch), err)
		}
		s.channels[ch] = cfg
	}

	if err := s.persist(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ChannelConfig(channel int) (target.ChannelConfig, error) {
	if err := target.ValidChannel(channel); err != nil {
		return target.ChannelConfig{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channel], nil
}

func (s *Store) SetChannelConfig(channel int, cfg target.ChannelConfig) error {
	if err := target.ValidChannel(channel); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.update(func() {
		s.channels[channel] = cfg
	})
}

func (s *Store) Device() Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

func (s *Store) Timezone() string {
	return s.Device().Timezone
}

func (s *Store) Username() string {
	return s.Device().Username
}

func (s *Store) Password() string {
	return s.Device().Password
}

func (s *Store) AgentToken() string {
	return s.Device().AgentToken
}

// SetTimezone accepts any IANA timezone name.
func (s *Store) SetTimezone(tz string) error {
	if err := validateTimezone(tz); err != nil {
		return err
	}

	return s.update(func() {
		s.device.Timezone = tz
	})
}

func (s *Store) SetAgentToken(token string) error {
	if err := validateToken(token); err != nil {
		return err
	}

	return s.update(func() {
		s.device.AgentToken = token
	})
}

func (s *Store) SetCredentials(username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password must not be empty")
	}

	return s.update(func() {
		s.device.Username = username
		s.device.Password = password
	})
}

// update applies fn and persists the result, rolling back when the write fails.
func (s *Store) update(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, channels := s.device, s.channels
	fn()

	if err := s.persist(); err != nil {
		s.device, s.channels = device, channels
		return err
	}
	return nil
}

// persist writes the whole document atomically. Caller holds the write lock.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}

	payload, err := encMode.Marshal(newDocument(s.device, s.channels))
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err = f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("write store: %w", err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync store: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("write store: %w", err)
	}

	if err = os.Rename(f.Name(), s.path); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

func validateTimezone(tz string) error {
	if tz == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTimezone)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTimezone, strconv.Quote(tz))
	}
	return nil
}

func validateToken(token string) error {
	if token == "" || len(token) > MaxAgentTokenLength {
		return fmt.Errorf("%w: must be 1 to %d characters", ErrInvalidToken, MaxAgentTokenLength)
	}
	return nil
}
