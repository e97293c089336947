package store

import (
	"strconv"

	"github.com/mdouchement/fanctrld/target"
)

// document is the on-disk layout. Namespaces and keys follow the firmware NVS layout
// ("fanconfig" for the device, "device-N" per channel). Every key is optional so a store
// written by an older version gets defaults for what it lacks.
type document struct {
	Device   *deviceRecord            `cbor:"fanconfig,omitempty"`
	Channels map[string]channelRecord `cbor:"channels,omitempty"`
}

type deviceRecord struct {
	Timezone   *string `cbor:"timezone,omitempty"`
	Username   *string `cbor:"username,omitempty"`
	Password   *string `cbor:"password,omitempty"`
	AgentToken *string `cbor:"agenttoken,omitempty"`
}

type channelRecord struct {
	Enabled  *bool   `cbor:"enabled,omitempty"`
	LowTemp  *uint32 `cbor:"lowTemp,omitempty"`
	HighTemp *uint32 `cbor:"highTemp,omitempty"`
	MinDuty  *uint8  `cbor:"minDuty,omitempty"`
}

func namespace(channel int) string {
	return "device-" + strconv.Itoa(channel)
}

func newDocument(device Device, channels [target.NumChannels]target.ChannelConfig) document {
	doc := document{
		Device: &deviceRecord{
			Timezone:   &device.Timezone,
			Username:   &device.Username,
			Password:   &device.Password,
			AgentToken: &device.AgentToken,
		},
		Channels: make(map[string]channelRecord, len(channels)),
	}

	for ch := range channels {
		cfg := channels[ch]
		doc.Channels[namespace(ch)] = channelRecord{
			Enabled:  &cfg.Enabled,
			LowTemp:  &cfg.LowTemp,
			HighTemp: &cfg.HighTemp,
			MinDuty:  &cfg.MinDuty,
		}
	}
	return doc
}

func (d document) device() Device {
	device := Device{
		Timezone:   DefaultTimezone,
		Username:   DefaultUsername,
		Password:   DefaultPassword,
		AgentToken: DefaultAgentToken,
	}
	if d.Device == nil {
		return device
	}

	or(&device.Timezone, d.Device.Timezone)
	or(&device.Username, d.Device.Username)
	or(&device.Password, d.Device.Password)
	or(&device.AgentToken, d.Device.AgentToken)
	return device
}

// channel overlays the stored keys of a channel on fallback.
func (d document) channel(ch int, fallback target.ChannelConfig) target.ChannelConfig {
	r, ok := d.Channels[namespace(ch)]
	if !ok {
		return fallback
	}

	cfg := fallback
	or(&cfg.Enabled, r.Enabled)
	or(&cfg.LowTemp, r.LowTemp)
	or(&cfg.HighTemp, r.HighTemp)
	or(&cfg.MinDuty, r.MinDuty)
	return cfg
}

func or[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
