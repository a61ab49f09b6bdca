package abcc

// Anybus protocol object numbers
const (
	ObjAnybus          uint8 = 0x01
	ObjDiagnostic      uint8 = 0x02
	ObjNetwork         uint8 = 0x03
	ObjNetworkConfig   uint8 = 0x04
	ObjApplicationData uint8 = 0xFE
	ObjApplication     uint8 = 0xFF
)

// Message header command byte
const (
	HeaderEBit    uint8 = 0x80
	HeaderCBit    uint8 = 0x40
	HeaderCmdBits uint8 = 0x3F
)

// Common object commands
const (
	CmdGetAttribute        uint8 = 0x01
	CmdSetAttribute        uint8 = 0x02
	CmdCreate              uint8 = 0x03
	CmdDelete              uint8 = 0x04
	CmdReset               uint8 = 0x05
	CmdGetEnumString       uint8 = 0x06
	CmdGetIndexedAttribute uint8 = 0x07
	CmdSetIndexedAttribute uint8 = 0x08
)

// Network object commands
const (
	NwCmdMapAdiWriteArea    uint8 = 0x10
	NwCmdMapAdiReadArea     uint8 = 0x11
	NwCmdMapAdiWriteExtArea uint8 = 0x12
	NwCmdMapAdiReadExtArea  uint8 = 0x13
)

// Application data object commands
const (
	AppdCmdRemapAdiWriteArea uint8 = 0x13
	AppdCmdRemapAdiReadArea  uint8 = 0x14
)

// Anybus object instance attributes
const (
	AnbIaModuleType    uint8 = 1
	AnbIaFwVersion     uint8 = 2
	AnbIaSerialNum     uint8 = 3
	AnbIaWdTimeout     uint8 = 4
	AnbIaSetupComplete uint8 = 5
	AnbIaExeption      uint8 = 6
	AnbIaFatalEvent    uint8 = 7
)

// Network object instance attributes
const (
	NwIaNwType       uint8 = 1
	NwIaNwTypeStr    uint8 = 2
	NwIaDataFormat   uint8 = 3
	NwIaParamSupport uint8 = 4
	NwIaWritePdSize  uint8 = 5
	NwIaReadPdSize   uint8 = 6
	NwIaExeptionInfo uint8 = 7
)

// Network data format values
const (
	NwDataFormatLsbFirst uint8 = 0
	NwDataFormatMsbFirst uint8 = 1
)

// Command extension 1 bits used by segmented responses
const (
	CmdExt1SegFirst uint8 = 0x01
	CmdExt1SegLast  uint8 = 0x02
	CmdExt1SegAbort uint8 = 0x04
)

// Anybus states
const (
	AnbStateSetup         uint8 = 0
	AnbStateNwInit        uint8 = 1
	AnbStateWaitProcess   uint8 = 2
	AnbStateIdle          uint8 = 3
	AnbStateProcessActive uint8 = 4
	AnbStateError         uint8 = 5
	AnbStateException     uint8 = 7
)

var AnbStateMap = map[uint8]string{
	AnbStateSetup:         "SETUP",
	AnbStateNwInit:        "NW_INIT",
	AnbStateWaitProcess:   "WAIT_PROCESS",
	AnbStateIdle:          "IDLE",
	AnbStateProcessActive: "PROCESS_ACTIVE",
	AnbStateError:         "ERROR",
	AnbStateException:     "EXCEPTION",
}

// Operating modes, as read from the module operating mode pins
const (
	OpModeSpi           uint8 = 1
	OpModeShift         uint8 = 2
	OpMode16BitParallel uint8 = 7
	OpMode8BitParallel  uint8 = 8
	OpModeSerial19_2    uint8 = 9
	OpModeSerial57_6    uint8 = 10
	OpModeSerial115_2   uint8 = 11
	OpModeSerial625     uint8 = 12
)

var OpModeMap = map[uint8]string{
	OpModeSpi:           "spi",
	OpModeShift:         "shift",
	OpMode16BitParallel: "parallel16",
	OpMode8BitParallel:  "parallel8",
	OpModeSerial19_2:    "serial19.2",
	OpModeSerial57_6:    "serial57.6",
	OpModeSerial115_2:   "serial115.2",
	OpModeSerial625:     "serial625",
}

// OpModeFromName returns the operating mode matching name, as used in
// configuration files.
func OpModeFromName(name string) (uint8, error) {
	for mode, modeName := range OpModeMap {
		if modeName == name {
			return mode, nil
		}
	}
	return 0, ErrUnknownOpMode
}

// IsSerialOpMode reports whether mode selects the asynchronous serial link.
func IsSerialOpMode(mode uint8) bool {
	return mode >= OpModeSerial19_2 && mode <= OpModeSerial625
}

// Module identification
const (
	ModuleIdActiveS        uint8 = 0
	ModuleIdPassiveS       uint8 = 1
	ModuleIdActiveAbcc40   uint8 = 2
	ModuleIdCustomSpecific uint8 = 3
)

// Message channel sizes
const (
	MaxMsg255DataBytes uint16 = 255
	MaxMsgDataBytes    uint16 = 1524
	MaxProcessData     uint16 = 256
)

// Interrupt mask bits
const (
	IntMaskRdPdIen   uint16 = 0x01
	IntMaskRdMsgIen  uint16 = 0x02
	IntMaskWrMsgIen  uint16 = 0x04
	IntMaskAnbrIen   uint16 = 0x08
	IntMaskStatusIen uint16 = 0x10
	IntMaskSyncIen   uint16 = 0x40
)

// Application status values
const (
	AppStatNoError       uint16 = 0x0000
	AppStatNotSynced     uint16 = 0x0001
	AppStatSyncCfgErr    uint16 = 0x0002
	AppStatReadPdCfgErr  uint16 = 0x0003
	AppStatWritePdCfgErr uint16 = 0x0004
	AppStatSyncLoss      uint16 = 0x0005
	AppStatPdDataLoss    uint16 = 0x0006
	AppStatOutputErr     uint16 = 0x0007
)

// FwVersion is the module firmware version. Every field reads 0xFF until
// the version was fetched during setup.
type FwVersion struct {
	Major uint8
	Minor uint8
	Build uint8
}

// NetFormat is the byte order used by the fieldbus network.
type NetFormat uint8

const (
	NetLittleEndian NetFormat = 0
	NetBigEndian    NetFormat = 1
	NetUnknown      NetFormat = 2
)

func (f NetFormat) String() string {
	switch f {
	case NetLittleEndian:
		return "little endian"
	case NetBigEndian:
		return "big endian"
	}
	return "unknown"
}

// ParameterSupport tells whether the network supports parameter access.
type ParameterSupport uint8

const (
	NotParameterSupport ParameterSupport = 0
	ParamSupport        ParameterSupport = 1
	ParameterUnknown    ParameterSupport = 2
)
