package espmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequest_Wire(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		wire []byte
	}{
		{
			name: "set duty",
			req:  &Request{Operation: OpSetDuty, ID: 2, Payload: &SetDuty{Duty: 100}},
			wire: []byte{0x08, 0x05, 0x10, 0x02, 0x2a, 0x02, 0x08, 0x64},
		},
		{
			name: "get status on channel 0",
			req:  &Request{Operation: OpGetStatus},
			wire: []byte{0x08, 0x06},
		},
		{
			name: "get status",
			req:  &Request{Operation: OpGetStatus, ID: 3},
			wire: []byte{0x08, 0x06, 0x10, 0x03},
		},
		{
			name: "login",
			req:  &Request{Operation: OpLogin, Payload: &Login{Username: "a", Token: "12345678"}},
			wire: []byte{0x08, 0x02, 0x1a, 0x0d, 0x0a, 0x01, 'a', 0x12, 0x08, '1', '2', '3', '4', '5', '6', '7', '8'},
		},
		{
			name: "set perf with zero load",
			req:  &Request{Operation: OpSetPerf, ID: 1, Payload: &SetPerf{Temp: 2}},
			wire: []byte{0x08, 0x04, 0x10, 0x01, 0x22, 0x09, 0x09, 0, 0, 0, 0, 0, 0, 0, 0x40},
		},
		{
			name: "set duty zero keeps the payload",
			req:  &Request{Operation: OpSetDuty, Payload: &SetDuty{}},
			wire: []byte{0x08, 0x05, 0x2a, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.req.MarshalBinary()
			require.NoError(t, err)
			require.Equal(t, tt.wire, b)

			req, err := UnmarshalRequest(tt.wire)
			require.NoError(t, err)
			require.Equal(t, tt.req, req)
		})
	}
}

func TestResult_Wire(t *testing.T) {
	info := &Result{
		Operation: OpInfo,
		Payload:   &Info{Version: ProtocolVersion, Challenge: []byte{1, 2, 3, 4, 5, 6, 7}},
	}
	wire := []byte{0x08, 0x01, 0x1a, 0x0b, 0x08, 0x01, 0x12, 0x07, 1, 2, 3, 4, 5, 6, 7}

	b, err := info.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, wire, b)

	res, err := UnmarshalResult(wire)
	require.NoError(t, err)
	require.Equal(t, info, res)
}

func TestResult_RoundTrip(t *testing.T) {
	results := []*Result{
		{Operation: OpLogin, Payload: &LoginResult{Success: true}},
		{Operation: OpGetStatus, ID: 2, Payload: &Status{Duty: 153, Temp: 70, RPM: 1200, Load: 0.5}},
		{Operation: OpGetStatus, ID: 5, Payload: &Status{}},
		{
			Operation: OpGetConfig,
			Payload: &Config{
				Channels: 2,
				Timezone: "Asia/Singapore",
				ChannelConfigs: []ChannelConfig{
					{Enabled: true, LowTemp: 55, HighTemp: 80, MinDuty: 10},
					{LowTemp: 30, HighTemp: 40},
				},
			},
		},
	}

	for _, r := range results {
		t.Run(r.Operation.String(), func(t *testing.T) {
			b, err := r.MarshalBinary()
			require.NoError(t, err)

			got, err := UnmarshalResult(b)
			require.NoError(t, err)
			require.Equal(t, r, got)

			again, err := got.MarshalBinary()
			require.NoError(t, err)
			require.Equal(t, b, again)
		})
	}
}

func TestUnmarshalRequest_Violations(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
	}{
		{name: "empty", wire: nil},
		{name: "invalid operation", wire: []byte{0x08, 0x00}},
		{name: "unknown operation", wire: []byte{0x08, 0x63}},
		{name: "truncated varint", wire: []byte{0x08}},
		{name: "truncated payload", wire: []byte{0x08, 0x05, 0x2a, 0x05, 0x08}},
		{name: "missing payload", wire: []byte{0x08, 0x04, 0x10, 0x01}},
		{name: "mismatched payload", wire: []byte{0x08, 0x04, 0x2a, 0x00}},
		{name: "payload on status", wire: []byte{0x08, 0x06, 0x2a, 0x00}},
		{name: "several payloads", wire: []byte{0x08, 0x02, 0x1a, 0x00, 0x1a, 0x00}},
		{name: "duty out of range", wire: []byte{0x08, 0x05, 0x2a, 0x03, 0x08, 0xac, 0x02}},
		{name: "wrong wire type", wire: []byte{0x0d, 0x06, 0, 0, 0}},
		{name: "field number zero", wire: []byte{0x00, 0x06}},
		{name: "id overflow", wire: []byte{0x08, 0x06, 0x10, 0xff, 0xff, 0xff, 0xff, 0x1f}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalRequest(tt.wire)
			require.ErrorIs(t, err, ErrProtocolViolation)
		})
	}
}

func TestUnmarshalRequest_SkipsUnknownFields(t *testing.T) {
	wire := []byte{
		0x08, 0x06, 0x10, 0x03,
		0x78, 0x01, // field 15, varint
		0x82, 0x01, 0x02, 'h', 'i', // field 16, bytes
	}

	req, err := UnmarshalRequest(wire)
	require.NoError(t, err)
	require.Equal(t, &Request{Operation: OpGetStatus, ID: 3}, req)
}

func TestMarshalBinary_Rejects(t *testing.T) {
	_, err := (&Request{Operation: OpSetDuty}).MarshalBinary()
	require.ErrorIs(t, err, ErrProtocolViolation)

	_, err = (&Request{Operation: OpGetStatus, Payload: &SetDuty{}}).MarshalBinary()
	require.ErrorIs(t, err, ErrProtocolViolation)

	var duty *SetDuty
	_, err = (&Request{Operation: OpSetDuty, Payload: duty}).MarshalBinary()
	require.ErrorIs(t, err, ErrProtocolViolation)

	_, err = (&Result{Operation: OpSetPerf, Payload: &Status{}}).MarshalBinary()
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestOperation(t *testing.T) {
	require.Equal(t, "GetStatus", OpGetStatus.String())
	require.Equal(t, "Operation(42)", Operation(42).String())

	require.True(t, OpSetPerf.Privileged())
	require.True(t, OpSetDuty.Privileged())
	require.True(t, OpGetStatus.Privileged())
	require.False(t, OpLogin.Privileged())
	require.False(t, OpGetConfig.Privileged())
	require.False(t, OpInfo.Privileged())
}
