package fanctrld

import (
	"errors"
	"sync"

	"github.com/mdouchement/fanctrld/openfan"
	"github.com/mdouchement/logger"
)

// ErrDummyFault is returned by a DummyBoard channel marked as faulty.
var ErrDummyFault = errors.New("dummy fault")

// A DummyBoard should only be used for dev & tests.
// Its fans spin at 1500 RPM at full duty.
type DummyBoard struct {
	sync   sync.Mutex
	duties map[openfan.Fan]uint8
	faults map[openfan.Fan]bool
	log    logger.Logger
}

func NewDummyBoard() *DummyBoard {
	b := &DummyBoard{
		duties: make(map[openfan.Fan]uint8, openfan.FanCount),
		faults: make(map[openfan.Fan]bool),
	}
	for i := range openfan.FanCount {
		b.duties[openfan.Fan(i)] = 0
	}

	return b
}

func (b *DummyBoard) SetLogger(l logger.Logger) {
	b.log = l.WithPrefix("[dummy]")
}

func (b *DummyBoard) Close() error {
	return nil
}

func (b *DummyBoard) Port() string {
	return "x-testing"
}

func (b *DummyBoard) HardwareInfo() (*openfan.HardwareInfo, error) {
	return &openfan.HardwareInfo{
		Revision:          "n/a",
		MCU:               "n/a",
		USB:               "n/a",
		FanChannelsTotal:  "10",
		FanChannelsArch:   "n/a",
		FanChannelsDriver: "n/a",
	}, nil
}

func (b *DummyBoard) FirmwareInfo() (*openfan.FirmwareInfo, error) {
	return &openfan.FirmwareInfo{
		Revision:        "n/a",
		ProtocolVersion: "n/a",
	}, nil
}

// Fault makes every later SetDuty on channel fail, or succeed again when faulty is false.
func (b *DummyBoard) Fault(channel uint8, faulty bool) {
	b.sync.Lock()
	defer b.sync.Unlock()

	b.faults[openfan.Fan(channel)] = faulty
}

func (b *DummyBoard) Duty(channel uint8) uint8 {
	b.sync.Lock()
	defer b.sync.Unlock()

	return b.duties[openfan.Fan(channel)]
}

func (b *DummyBoard) RPMs() (map[openfan.Fan]uint16, error) {
	b.sync.Lock()
	defer b.sync.Unlock()

	rpms := make(map[openfan.Fan]uint16, len(b.duties))
	for k, duty := range b.duties {
		rpms[k] = uint16(1500 * uint32(duty) / 255)
	}

	return rpms, nil
}

func (b *DummyBoard) SetDuty(channel uint8, duty uint8) error {
	b.sync.Lock()
	defer b.sync.Unlock()

	fan := openfan.Fan(channel)
	if channel >= openfan.FanCount {
		return openfan.ErrInvalidFan
	}
	if b.faults[fan] {
		return ErrDummyFault
	}

	if b.log != nil {
		b.log.Debugf("fan%d duty %d", channel+1, duty)
	}
	b.duties[fan] = duty
	return nil
}
