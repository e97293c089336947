package espmsg

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxDuty is the highest duty a SetDuty request may carry.
const MaxDuty = 255

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// MarshalBinary encodes the request. Fields are written in number order and zero scalars are omitted.
func (r *Request) MarshalBinary() ([]byte, error) {
	want, ok := requestPayloads[r.Operation]
	if !ok {
		return nil, violation("cannot encode %s request", r.Operation)
	}
	if got := requestField(r.Payload); got != want {
		return nil, violation("%s request with payload field %d", r.Operation, got)
	}

	var b []byte
	b = appendVarint(b, fieldOperation, uint64(r.Operation))
	b = appendVarint(b, fieldID, uint64(r.ID))

	switch p := r.Payload.(type) {
	case *Login:
		var m []byte
		m = appendString(m, 1, p.Username)
		m = appendString(m, 2, p.Token)
		b = appendMessage(b, fieldLogin, m)
	case *SetPerf:
		var m []byte
		m = appendDouble(m, 1, p.Temp)
		m = appendDouble(m, 2, p.Load)
		b = appendMessage(b, fieldPerf, m)
	case *SetDuty:
		b = appendMessage(b, fieldDuty, appendVarint(nil, 1, uint64(p.Duty)))
	}

	return b, nil
}

// MarshalBinary encodes the result. Fields are written in number order and zero scalars are omitted.
func (r *Result) MarshalBinary() ([]byte, error) {
	want, ok := resultPayloads[r.Operation]
	if !ok {
		return nil, violation("cannot encode %s result", r.Operation)
	}
	if got := resultField(r.Payload); got != want {
		return nil, violation("%s result with payload field %d", r.Operation, got)
	}

	var b []byte
	b = appendVarint(b, fieldOperation, uint64(r.Operation))
	b = appendVarint(b, fieldID, uint64(r.ID))

	switch p := r.Payload.(type) {
	case *Info:
		var m []byte
		m = appendVarint(m, 1, uint64(p.Version))
		m = appendBytes(m, 2, p.Challenge)
		b = appendMessage(b, fieldInfo, m)
	case *LoginResult:
		b = appendMessage(b, fieldLoginResult, appendVarint(nil, 1, protowire.EncodeBool(p.Success)))
	case *Config:
		var m []byte
		m = appendVarint(m, 1, uint64(p.Channels))
		m = appendString(m, 2, p.Timezone)
		for _, cfg := range p.ChannelConfigs {
			var c []byte
			c = appendVarint(c, 1, protowire.EncodeBool(cfg.Enabled))
			c = appendVarint(c, 2, uint64(cfg.LowTemp))
			c = appendVarint(c, 3, uint64(cfg.HighTemp))
			c = appendVarint(c, 4, uint64(cfg.MinDuty))
			m = appendMessage(m, 3, c)
		}
		b = appendMessage(b, fieldConfig, m)
	case *Status:
		var m []byte
		m = appendVarint(m, 1, uint64(p.Duty))
		m = appendDouble(m, 2, p.Temp)
		m = appendVarint(m, 3, uint64(p.RPM))
		m = appendDouble(m, 4, p.Load)
		b = appendMessage(b, fieldStatus, m)
	}

	return b, nil
}

// UnmarshalRequest decodes and validates a request. Any malformed input, unknown operation or
// payload that does not match the operation yields ErrProtocolViolation.
func UnmarshalRequest(b []byte) (*Request, error) {
	var r Request

	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldOperation:
			v, n := consumeUint32(typ, b)
			r.Operation = Operation(v)
			return n, nil
		case fieldID:
			v, n := consumeUint32(typ, b)
			r.ID = v
			return n, nil
		case fieldLogin, fieldPerf, fieldDuty:
			m, n := consumeBytes(typ, b)
			if n < 0 {
				return n, nil
			}
			if r.Payload != nil {
				return 0, violation("request carries several payloads")
			}

			var err error
			switch num {
			case fieldLogin:
				r.Payload, err = unmarshalLogin(m)
			case fieldPerf:
				r.Payload, err = unmarshalSetPerf(m)
			case fieldDuty:
				r.Payload, err = unmarshalSetDuty(m)
			}
			return n, err
		}
		return skip(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}

	want, ok := requestPayloads[r.Operation]
	if !ok {
		return nil, violation("unexpected request operation %s", r.Operation)
	}
	if got := requestField(r.Payload); got != want {
		return nil, violation("%s request with payload field %d", r.Operation, got)
	}
	return &r, nil
}

// UnmarshalResult decodes and validates a result.
func UnmarshalResult(b []byte) (*Result, error) {
	var r Result

	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldOperation:
			v, n := consumeUint32(typ, b)
			r.Operation = Operation(v)
			return n, nil
		case fieldID:
			v, n := consumeUint32(typ, b)
			r.ID = v
			return n, nil
		case fieldInfo, fieldLoginResult, fieldConfig, fieldStatus:
			m, n := consumeBytes(typ, b)
			if n < 0 {
				return n, nil
			}
			if r.Payload != nil {
				return 0, violation("result carries several payloads")
			}

			var err error
			switch num {
			case fieldInfo:
				r.Payload, err = unmarshalInfo(m)
			case fieldLoginResult:
				r.Payload, err = unmarshalLoginResult(m)
			case fieldConfig:
				r.Payload, err = unmarshalConfig(m)
			case fieldStatus:
				r.Payload, err = unmarshalStatus(m)
			}
			return n, err
		}
		return skip(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}

	want, ok := resultPayloads[r.Operation]
	if !ok {
		return nil, violation("unexpected result operation %s", r.Operation)
	}
	if got := resultField(r.Payload); got != want {
		return nil, violation("%s result with payload field %d", r.Operation, got)
	}
	return &r, nil
}

func unmarshalLogin(b []byte) (*Login, error) {
	var m Login
	return &m, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeBytes(typ, b)
			m.Username = string(v)
			return n, nil
		case 2:
			v, n := consumeBytes(typ, b)
			m.Token = string(v)
			return n, nil
		}
		return skip(num, typ, b), nil
	})
}

func unmarshalSetPerf(b []byte) (*SetPerf, error) {
	var m SetPerf
	return &m, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeDouble(typ, b)
			m.Temp = v
			return n, nil
		case 2:
			v, n := consumeDouble(typ, b)
			m.Load = v
			return n, nil
		}
		return skip(num, typ, b), nil
	})
}

func unmarshalSetDuty(b []byte) (*SetDuty, error) {
	var m SetDuty
	return &m, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip(num, typ, b), nil
		}

		v, n := consumeUint32(typ, b)
		if n >= 0 && v > MaxDuty {
			return 0, violation("duty %d out of range", v)
		}
		m.Duty = v
		return n, nil
	})
}

func unmarshalInfo(b []byte) (*Info, error) {
	var m Info
	return &m, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeUint32(typ, b)
			m.Version = v
			return n, nil
		case 2:
			v, n := consumeBytes(typ, b)
			m.Challenge = append([]byte(nil), v...)
			return n, nil
		}
		return skip(num, typ, b), nil
	})
}

func unmarshalLoginResult(b []byte) (*LoginResult, error) {
	var m LoginResult
	return &m, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip(num, typ, b), nil
		}

		v, n := consumeVarint(typ, b)
		m.Success = protowire.DecodeBool(v)
		return n, nil
	})
}

func unmarshalConfig(b []byte) (*Config, error) {
	var m Config
	return &m, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeUint32(typ, b)
			m.Channels = v
			return n, nil
		case 2:
			v, n := consumeBytes(typ, b)
			m.Timezone = string(v)
			return n, nil
		case 3:
			v, n := consumeBytes(typ, b)
			if n < 0 {
				return n, nil
			}
			cfg, err := unmarshalChannelConfig(v)
			m.ChannelConfigs = append(m.ChannelConfigs, cfg)
			return n, err
		}
		return skip(num, typ, b), nil
	})
}

func unmarshalChannelConfig(b []byte) (ChannelConfig, error) {
	var m ChannelConfig
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeVarint(typ, b)
			m.Enabled = protowire.DecodeBool(v)
			return n, nil
		case 2:
			v, n := consumeUint32(typ, b)
			m.LowTemp = v
			return n, nil
		case 3:
			v, n := consumeUint32(typ, b)
			m.HighTemp = v
			return n, nil
		case 4:
			v, n := consumeUint32(typ, b)
			m.MinDuty = v
			return n, nil
		}
		return skip(num, typ, b), nil
	})
	return m, err
}

func unmarshalStatus(b []byte) (*Status, error) {
	var m Status
	return &m, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeUint32(typ, b)
			m.Duty = v
			return n, nil
		case 2:
			v, n := consumeDouble(typ, b)
			m.Temp = v
			return n, nil
		case 3:
			v, n := consumeUint32(typ, b)
			m.RPM = v
			return n, nil
		case 4:
			v, n := consumeDouble(typ, b)
			m.Load = v
			return n, nil
		}
		return skip(num, typ, b), nil
	})
}

//
// Wire helpers
//

// walk calls fn for every field of a message. fn returns the number of bytes of the field value it
// consumed, a negative count reports malformed input.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return violation("%v", protowire.ParseError(n))
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return violation("malformed field %d", num)
		}
		b = b[n:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) int {
	return protowire.ConsumeFieldValue(num, typ, b)
}

// malformed is the consumed count reported for a known field with an unexpected wire type or range.
const malformed = -1

func consumeVarint(typ protowire.Type, b []byte) (uint64, int) {
	if typ != protowire.VarintType {
		return 0, malformed
	}
	return protowire.ConsumeVarint(b)
}

func consumeUint32(typ protowire.Type, b []byte) (uint32, int) {
	v, n := consumeVarint(typ, b)
	if n >= 0 && v > math.MaxUint32 {
		return 0, malformed
	}
	return uint32(v), n
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int) {
	if typ != protowire.Fixed64Type {
		return 0, malformed
	}
	v, n := protowire.ConsumeFixed64(b)
	return math.Float64frombits(v), n
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, malformed
	}
	return protowire.ConsumeBytes(b)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float64bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, bits)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendMessage always emits the field so an empty payload keeps its oneof presence.
func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// requestField returns the oneof field of a request payload, 0 when absent.
func requestField(p RequestPayload) int32 {
	switch p := p.(type) {
	case nil:
		return 0
	case *Login:
		if p == nil {
			return 0
		}
	case *SetPerf:
		if p == nil {
			return 0
		}
	case *SetDuty:
		if p == nil {
			return 0
		}
	}
	return p.requestField()
}

func resultField(p ResultPayload) int32 {
	switch p := p.(type) {
	case nil:
		return 0
	case *Info:
		if p == nil {
			return 0
		}
	case *LoginResult:
		if p == nil {
			return 0
		}
	case *Config:
		if p == nil {
			return 0
		}
	case *Status:
		if p == nil {
			return 0
		}
	}
	return p.resultField()
}
