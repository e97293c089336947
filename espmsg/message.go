// Package espmsg implements the binary protocol spoken between the fan controller and its agents:
// protobuf encoded messages carried in 4-byte big-endian length-prefixed frames.
package espmsg

import (
	"errors"
	"strconv"
)

const (
	// ProtocolVersion is announced in the Info message sent on connection.
	ProtocolVersion = 1
	// ChallengeSize is the number of random bytes carried by the Info message.
	ChallengeSize = 7
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrFrameTooLarge     = errors.New("frame too large")
)

// Operation is the message discriminator.
type Operation uint32

const (
	OpInvalid Operation = iota
	OpInfo
	OpLogin
	OpGetConfig
	OpSetPerf
	OpSetDuty
	OpGetStatus
)

func (o Operation) String() string {
	switch o {
	case OpInvalid:
		return "Invalid"
	case OpInfo:
		return "Info"
	case OpLogin:
		return "Login"
	case OpGetConfig:
		return "GetConfig"
	case OpSetPerf:
		return "SetPerf"
	case OpSetDuty:
		return "SetDuty"
	case OpGetStatus:
		return "GetStatus"
	}
	return "Operation(" + strconv.FormatUint(uint64(o), 10) + ")"
}

// Privileged reports whether the operation requires an authenticated session.
func (o Operation) Privileged() bool {
	return o == OpSetPerf || o == OpSetDuty || o == OpGetStatus
}

// A Request is sent by an agent. ID carries the channel index for SetPerf, SetDuty and GetStatus.
type Request struct {
	Operation Operation
	ID        uint32
	Payload   RequestPayload // nil for Info, GetConfig and GetStatus.
}

// RequestPayload is one of *Login, *SetPerf or *SetDuty.
type RequestPayload interface {
	requestField() int32
}

type Login struct {
	Username string
	Token    string
}

type SetPerf struct {
	Temp float64
	Load float64
}

type SetDuty struct {
	Duty uint32
}

func (*Login) requestField() int32   { return fieldLogin }
func (*SetPerf) requestField() int32 { return fieldPerf }
func (*SetDuty) requestField() int32 { return fieldDuty }

// A Result is sent by the controller.
type Result struct {
	Operation Operation
	ID        uint32
	Payload   ResultPayload
}

// ResultPayload is one of *Info, *LoginResult, *Config or *Status.
type ResultPayload interface {
	resultField() int32
}

type Info struct {
	Version   uint32
	Challenge []byte
}

type LoginResult struct {
	Success bool
}

type Config struct {
	Channels       uint32
	Timezone       string
	ChannelConfigs []ChannelConfig
}

type ChannelConfig struct {
	Enabled  bool
	LowTemp  uint32
	HighTemp uint32
	MinDuty  uint32
}

type Status struct {
	Duty uint32
	Temp float64
	RPM  uint32
	Load float64
}

func (*Info) resultField() int32        { return fieldInfo }
func (*LoginResult) resultField() int32 { return fieldLoginResult }
func (*Config) resultField() int32      { return fieldConfig }
func (*Status) resultField() int32      { return fieldStatus }

// Field numbers of the envelopes.
const (
	fieldOperation = 1
	fieldID        = 2

	fieldLogin = 3
	fieldPerf  = 4
	fieldDuty  = 5

	fieldInfo        = 3
	fieldLoginResult = 4
	fieldConfig      = 5
	fieldStatus      = 6
)

// requestPayloads maps each request operation to the payload field it requires, 0 meaning none.
var requestPayloads = map[Operation]int32{
	OpInfo:      0,
	OpLogin:     fieldLogin,
	OpGetConfig: 0,
	OpSetPerf:   fieldPerf,
	OpSetDuty:   fieldDuty,
	OpGetStatus: 0,
}

var resultPayloads = map[Operation]int32{
	OpInfo:      fieldInfo,
	OpLogin:     fieldLoginResult,
	OpGetConfig: fieldConfig,
	OpGetStatus: fieldStatus,
}
