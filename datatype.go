package fanctrld

import (
	"github.com/mdouchement/fanctrld/openfan"
	"github.com/mdouchement/fanctrld/target"
	"github.com/mdouchement/logger"
)

// A Board drives the fans and reports their tachometers.
type Board interface {
	target.PWM
	RPMs() (map[openfan.Fan]uint16, error)
	HardwareInfo() (*openfan.HardwareInfo, error)
	FirmwareInfo() (*openfan.FirmwareInfo, error)
	SetLogger(l logger.Logger)
	Port() string
	Close() error
}

func ToPtr[T any](v T) *T {
	return &v
}
