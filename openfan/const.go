package openfan

// USB identifiers of the OpenFan board.
const (
	VendorID  = "2e8a"
	ProductID = "000a"
)

// FanCount is the number of fan headers on the board.
const FanCount = 10

const (
	CommRequestCharacter  = '>'
	CommResponseCharacter = '<'
	CommEndCharacter      = '\n'
	CommAltEndCharacter   = '\r'
	CommTxBufferLenASCII  = 128
	CommRxBufferLenASCII  = 128
)

const (
	CommandFanAllGetRPM Command = 0x00
	CommandFanGetRPM    Command = 0x01
	CommandFanSetPWM    Command = 0x02
	CommandFanSetAllPWM Command = 0x03
	CommandFanSetRPM    Command = 0x04

	CommandHardwareInfo Command = 0x05
	CommandFirmwareInfo Command = 0x06
)
