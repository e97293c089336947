package openfan

import "fmt"

type (
	Command uint8
	Fan     uint8
)

type HardwareInfo struct {
	Revision          string `json:"revision"`
	MCU               string `json:"mcu"`
	USB               string `json:"usb"`
	FanChannelsTotal  string `json:"fan_channels_total"`
	FanChannelsArch   string `json:"fan_channels_arch"`
	FanChannelsDriver string `json:"fan_channels_driver"`
}

type FirmwareInfo struct {
	Revision        string `json:"revision"`
	ProtocolVersion string `json:"protocol_version"`
}

// f2x encodes v as two uppercase hex digits.
func f2x[T ~uint8](v T) (byte, byte) {
	s := fmt.Sprintf("%02X", v)
	return s[0], s[1]
}
