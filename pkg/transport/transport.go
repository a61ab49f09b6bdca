package transport

import (
	"fmt"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/link"
	"github.com/samsamfire/goabcc/pkg/timer"
)

// Interrupt status bits reported by [Transport.ISR]
const (
	IntStatusRdPd   uint16 = 0x01 // new read process data
	IntStatusRdMsg  uint16 = 0x02 // message available
	IntStatusWrMsg  uint16 = 0x04 // ready for a new message
	IntStatusAnbr   uint16 = 0x08 // anybus status changed
	IntStatusStatus uint16 = 0x10
	IntStatusSync   uint16 = 0x40
)

// Env is handed to a transport by the driver when it is initialized
type Env struct {
	Logger *abcc.Logger
	Timers *timer.Service
	// Largest message payload the driver accepts
	MaxMsgSize int
	// Serial timeouts, 0 selects the defaults
	WdTimeoutMs       uint32
	TelegramTimeoutMs uint32
	// WdTimeout is called when the module did not answer within
	// the watchdog timeout, WdTimeoutRecovered on the next good exchange.
	WdTimeout          func()
	WdTimeoutRecovered func()
	// ReadRemapDone is called when a read area remap response was sent
	ReadRemapDone func()
}

// Transport is the physical layer of the host application interface
// (serial, SPI, parallel or simulated). Messages are handed over through
// the embedded [link.Transport]. A transport that does not consume a
// written message keeps it until it is returned by RunRx.
type Transport interface {
	link.Transport
	Init(opMode uint8, env Env) error
	Close() error
	// ISR returns the interrupt status and clears it
	ISR() uint16
	RunTx()
	// RunRx handles the last exchange and returns the written message
	// that has been completely sent, if any.
	RunRx() *abcc.Message
	IsReadyForWrPd() bool
	WrPdBuffer() []byte
	WriteProcessData(data []byte)
	// ReadProcessData returns new read process data, nil if none
	ReadProcessData() []byte
	SetNbrOfCmds(n uint8)
	SetAppStatus(status uint16)
	SetPdSize(readSize uint16, writeSize uint16)
	SetIntMask(mask uint16)
	ModCap() uint16
	LedStatus() uint16
	// AnybusState returns the 3 bit anybus state
	AnybusState() uint8
	// AnbStatus returns the anybus state with the supervised bit
	AnbStatus() uint8
	IsSupervised() bool
}

// Hardware gives access to the module control signals. A transport
// that also implements Hardware is used as such by the driver when no
// other hardware is configured.
type Hardware interface {
	HwInit() error
	HwReset()
	HwReleaseReset()
	ReadModuleId() uint8
	ModuleDetect() bool
	OpMode() uint8
	InterruptEnable()
	InterruptDisable()
}

type NewTransportFunc func(channel string) (Transport, error)

var registry = make(map[string]NewTransportFunc)

// Register a new transport type
// This should be called inside an init() function of plugin
func RegisterTransport(transportType string, newTransport NewTransportFunc) {
	registry[transportType] = newTransport
}

// Create a new transport of the given type
// Currently supported : serial, virtual
func NewTransport(transportType string, channel string) (Transport, error) {
	createTransport, ok := registry[transportType]
	if !ok {
		return nil, fmt.Errorf("unsupported transport : %v", transportType)
	}
	return createTransport(channel)
}

// Available returns the registered transport types
func Available() []string {
	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	return types
}
