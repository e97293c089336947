package openfan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/mdouchement/logger"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var (
	ErrNotFound        = errors.New("device not found/plugged")
	ErrInvalidResponse = errors.New("invalid response")
	ErrInvalidFan      = errors.New("invalid fan")
)

// Port is the byte stream to the board. A read returning no data means the read timed out.
type Port interface {
	io.ReadWriteCloser
}

// A Controller drives an OpenFan board over its USB serial link. Fans are addressed by channel
// index and driven with raw 0-255 duties.
type Controller struct {
	mu    sync.Mutex
	pname string
	port  Port
	log   logger.Logger
	wbuf  []byte
	rbuf  []byte
}

// OpenAuto opens the first OpenFan board found on the USB bus.
func OpenAuto() (*Controller, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	for _, p := range ports {
		// The board exposes two ACM interfaces, the first one speaks the protocol.
		if p.IsUSB && p.VID == VendorID && p.PID == ProductID {
			return Open(p.Name)
		}
	}
	return nil, ErrNotFound
}

func Open(name string) (*Controller, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	if err = port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	if err = port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}
	if err = port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, err
	}

	return New(name, port), nil
}

// New wraps an already opened port.
func New(name string, port Port) *Controller {
	return &Controller{
		pname: name,
		port:  port,
		wbuf:  make([]byte, CommTxBufferLenASCII),
		rbuf:  make([]byte, 0, CommRxBufferLenASCII*4),
	}
}

func (c *Controller) SetLogger(l logger.Logger) {
	c.log = l.WithPrefix("[openfan]")
}

func (c *Controller) Close() error {
	return c.port.Close()
}

func (c *Controller) Port() string {
	return c.pname
}

func (c *Controller) HardwareInfo() (*HardwareInfo, error) {
	response, err := c.Run(CommandHardwareInfo)
	if err != nil {
		return nil, fmt.Errorf("hardware_info: %w", err)
	}

	var hw HardwareInfo
	fields(response, '\n', func(k, v string) {
		switch k {
		case "HW_REV":
			hw.Revision = v
		case "MCU":
			hw.MCU = v
		case "USB":
			hw.USB = v
		case "FAN_CHANNELS_TOTAL":
			hw.FanChannelsTotal = v
		case "FAN_CHANNELS_ARCH":
			hw.FanChannelsArch = v
		case "FAN_CHANNELS_DRIVER":
			hw.FanChannelsDriver = v
		}
	})
	return &hw, nil
}

func (c *Controller) FirmwareInfo() (*FirmwareInfo, error) {
	response, err := c.Run(CommandFirmwareInfo)
	if err != nil {
		return nil, fmt.Errorf("firmware_info: %w", err)
	}

	var fw FirmwareInfo
	fields(response, '\n', func(k, v string) {
		switch k {
		case "FW_REV":
			fw.Revision = v
		case "PROTOCOL_VERSION":
			fw.ProtocolVersion = v
		}
	})
	return &fw, nil
}

// RPMs returns the tachometer reading of every fan.
func (c *Controller) RPMs() (map[Fan]uint16, error) {
	response, err := c.Run(CommandFanAllGetRPM)
	if err != nil {
		return nil, fmt.Errorf("fan_all_get_rpm: %w", err)
	}

	rpms := make(map[Fan]uint16)
	fields(response, ';', func(k, v string) {
		if err != nil {
			return
		}

		fan, perr := strconv.ParseUint(k, 16, 8)
		if perr != nil {
			err = fmt.Errorf("fan_all_get_rpm: %w: fan %q", ErrInvalidResponse, k)
			return
		}
		rpm, perr := strconv.ParseUint(v, 16, 16)
		if perr != nil {
			err = fmt.Errorf("fan_all_get_rpm: %w: rpm %q", ErrInvalidResponse, v)
			return
		}
		rpms[Fan(fan)] = uint16(rpm)
	})
	if err != nil {
		return nil, err
	}
	return rpms, nil
}

// SetDuty drives one fan with a raw duty, 0 stops the fan and 255 is full speed.
func (c *Controller) SetDuty(channel uint8, duty uint8) error {
	if channel >= FanCount {
		return fmt.Errorf("fan_set_pwm: %w: %d", ErrInvalidFan, channel)
	}

	f1, f2 := f2x(channel)
	d1, d2 := f2x(duty)
	response, err := c.Run(CommandFanSetPWM, f1, f2, d1, d2)
	if err != nil {
		return fmt.Errorf("fan_set_pwm: %w", err)
	}

	_, v, ok := bytes.Cut(response, []byte{':'})
	if !ok {
		return fmt.Errorf("fan_set_pwm: %w: %q", ErrInvalidResponse, response)
	}
	if _, err = strconv.ParseUint(string(bytes.TrimRight(v, ";")), 16, 8); err != nil {
		return fmt.Errorf("fan_set_pwm: %w: %q", ErrInvalidResponse, v)
	}
	return nil
}

// SetAllDuty drives every fan with the same raw duty.
func (c *Controller) SetAllDuty(duty uint8) error {
	d1, d2 := f2x(duty)
	if _, err := c.Run(CommandFanSetAllPWM, d1, d2); err != nil {
		return fmt.Errorf("fan_set_all_pwm: %w", err)
	}
	return nil
}

// Run sends a command and returns the response payload, without the response marker and command echo.
// Debug lines printed by the board before the response are logged.
func (c *Controller) Run(command Command, payload ...byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := 5 + len(payload)
	if l > len(c.wbuf) {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	c.wbuf[0] = CommRequestCharacter
	c.wbuf[1], c.wbuf[2] = f2x(command)
	copy(c.wbuf[3:], payload)
	c.wbuf[l-2] = CommAltEndCharacter
	c.wbuf[l-1] = CommEndCharacter

	n, err := c.port.Write(c.wbuf[:l])
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	if n != l {
		return nil, fmt.Errorf("write: %d of %d bytes: %w", n, l, io.ErrShortWrite)
	}

	rbuf, err := c.readResponse()
	if err != nil {
		return nil, err
	}

	i := bytes.IndexByte(rbuf, CommResponseCharacter)
	if i < 0 {
		return nil, fmt.Errorf("read: %w: no response marker", ErrInvalidResponse)
	}

	if c.log != nil {
		for p := range bytes.SplitSeq(rbuf[:i], []byte{'\r', '\n'}) {
			if len(p) > 0 {
				c.log.Debug(string(p))
			}
		}
	}

	// <CC|payload
	response := rbuf[i:]
	if len(response) >= 4 {
		response = response[4:]
	}
	return bytes.Clone(bytes.TrimSpace(response)), nil
}

// readResponse reads until the response line is terminated or the port times out.
func (c *Controller) readResponse() ([]byte, error) {
	var chunk [CommRxBufferLenASCII]byte
	c.rbuf = c.rbuf[:0]

	for {
		n, err := c.port.Read(chunk[:])
		c.rbuf = append(c.rbuf, chunk[:n]...)
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			// Read timeout, the board is done talking.
			return c.rbuf, nil
		}

		if i := bytes.IndexByte(c.rbuf, CommResponseCharacter); i >= 0 && bytes.HasSuffix(c.rbuf[i:], []byte{CommAltEndCharacter, CommEndCharacter}) {
			return c.rbuf, nil
		}
	}
}

// fields calls fn for every key:value pair of a response split by sep.
func fields(response []byte, sep byte, fn func(k, v string)) {
	for p := range bytes.SplitSeq(response, []byte{sep}) {
		k, v, ok := bytes.Cut(bytes.TrimSpace(p), []byte{':'})
		if !ok {
			continue
		}
		fn(string(k), string(v))
	}
}
