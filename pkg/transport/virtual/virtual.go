// Package virtual simulates an ABCC40 module in memory. It answers the
// attribute and mapping commands used during setup, accounts mapped
// process data and can send commands towards the application.
package virtual

import (
	"sync"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/transport"
)

func init() {
	transport.RegisterTransport("virtual", NewVirtualModule)
}

const defaultMaxMsgSize = int(abcc.MaxMsgDataBytes)

type attrKey struct {
	obj       uint8
	instance  uint16
	attribute uint8
}

// Module is a simulated ABCC module. It implements both
// [transport.Transport] and [transport.Hardware].
type Module struct {
	mu           sync.Mutex
	logger       *abcc.Logger
	opMode       uint8
	moduleId     uint8
	detected     bool
	initialized  bool
	anbState     uint8
	pendingState []uint8
	supervised   bool
	readyForCmd  bool
	modCap       uint16
	ledStatus    uint16
	intStatus    uint16
	intMask      uint16
	intEnabled   bool
	appStatus    uint16
	nbrOfCmds    uint8
	maxMsgSize   int
	attributes   map[attrKey][]byte
	injected     map[attrKey]abcc.ProtocolError
	rdPdBits     uint16
	wrPdBits     uint16
	rdPdSize     uint16
	wrPdSize     uint16
	readPd       []byte
	newReadPd    bool
	writePd      []byte
	wrPdBuffer   []byte
	toHost       []*abcc.Message
	commands     []*abcc.Message
	responses    []*abcc.Message
	mappings     []Mapping
	resets       int
}

// Mapping is a process data mapping requested by the host
type Mapping struct {
	Direction abcc.Direction
	Instance  uint16
	NumElem   uint8
	Start     uint8
	Bits      uint16
}

// NewVirtualModule returns a module in the SETUP state. channel is
// ignored.
func NewVirtualModule(channel string) (transport.Transport, error) {
	return New(), nil
}

func New() *Module {
	m := &Module{
		logger:      abcc.NewLogger("VIRT"),
		opMode:      abcc.OpModeSpi,
		moduleId:    abcc.ModuleIdActiveAbcc40,
		detected:    true,
		readyForCmd: true,
		maxMsgSize:  defaultMaxMsgSize,
		attributes:  make(map[attrKey][]byte),
		injected:    make(map[attrKey]abcc.ProtocolError),
	}
	m.SetAttribute(abcc.ObjAnybus, 1, abcc.AnbIaModuleType, []byte{0x03, 0x04})
	m.SetAttribute(abcc.ObjAnybus, 1, abcc.AnbIaFwVersion, []byte{1, 2, 3})
	m.SetAttribute(abcc.ObjAnybus, 1, abcc.AnbIaSerialNum, []byte{0x78, 0x56, 0x34, 0x12})
	m.SetAttribute(abcc.ObjAnybus, 1, abcc.AnbIaFatalEvent, make([]byte, 42))
	m.SetAttribute(abcc.ObjNetwork, 1, abcc.NwIaNwType, []byte{0x84, 0x00})
	m.SetAttribute(abcc.ObjNetwork, 1, abcc.NwIaNwTypeStr, []byte("PROFINET IO"))
	m.SetAttribute(abcc.ObjNetwork, 1, abcc.NwIaDataFormat, []byte{abcc.NwDataFormatLsbFirst})
	m.SetAttribute(abcc.ObjNetwork, 1, abcc.NwIaParamSupport, []byte{1})
	return m
}

// SetAttribute sets the value returned for a get attribute command.
// Setting the network read or write process data size attributes
// overrides the size computed from the mappings.
func (m *Module) SetAttribute(obj uint8, instance uint16, attribute uint8, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attributes[attrKey{obj, instance, attribute}] = append([]byte(nil), value...)
}

func (m *Module) Attribute(obj uint8, instance uint16, attribute uint8) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attributes[attrKey{obj, instance, attribute}]
}

// InjectError makes every command towards the given attribute fail with code
func (m *Module) InjectError(obj uint8, instance uint16, attribute uint8, code abcc.ProtocolError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.injected[attrKey{obj, instance, attribute}] = code
}

func (m *Module) SetOpMode(opMode uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opMode = opMode
}

func (m *Module) SetModuleId(id uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moduleId = id
}

func (m *Module) SetDetected(detected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detected = detected
}

func (m *Module) SetReadyForCmd(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyForCmd = ready
}

func (m *Module) SetSupervised(supervised bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supervised = supervised
	m.intStatus |= transport.IntStatusAnbr
}

func (m *Module) SetModCap(modCap uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modCap = modCap
}

func (m *Module) SetLedStatus(status uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledStatus = status
}

// SetAnbState changes the anybus state right away
func (m *Module) SetAnbState(state uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingState = nil
	m.setState(state)
}

func (m *Module) setState(state uint8) {
	if m.anbState != state {
		m.anbState = state
		m.intStatus |= transport.IntStatusAnbr
	}
}

// SetReadProcessData publishes new read process data
func (m *Module) SetReadProcessData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readPd = append(m.readPd[:0], data...)
	m.newReadPd = true
	m.intStatus |= transport.IntStatusRdPd
}

// WrittenProcessData returns the last process data written by the host
func (m *Module) WrittenProcessData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.writePd...)
}

// SendCommand queues a command towards the application
func (m *Module) SendCommand(cmd *abcc.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue(clone(cmd))
}

// Commands returns and clears the commands received from the host
func (m *Module) Commands() []*abcc.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	commands := m.commands
	m.commands = nil
	return commands
}

// Responses returns and clears the responses sent by the host to
// commands of the module
func (m *Module) Responses() []*abcc.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	responses := m.responses
	m.responses = nil
	return responses
}

func (m *Module) Mappings() []Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mapping(nil), m.mappings...)
}

// PdSize returns the sizes last pushed by the host
func (m *Module) PdSize() (readSize uint16, writeSize uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rdPdSize, m.wrPdSize
}

func (m *Module) AppStatus() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appStatus
}

func (m *Module) NbrOfCmds() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nbrOfCmds
}

func (m *Module) IntMask() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intMask
}

// Resets returns the number of hardware resets
func (m *Module) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

func clone(msg *abcc.Message) *abcc.Message {
	size := len(msg.Data)
	if size < int(msg.DataSize) {
		size = int(msg.DataSize)
	}
	c := abcc.NewMessage(size)
	_ = c.CopyFrom(msg)
	return c
}

func (m *Module) queue(msg *abcc.Message) {
	m.toHost = append(m.toHost, msg)
	m.intStatus |= transport.IntStatusRdMsg
}

// Transport

func (m *Module) Init(opMode uint8, env transport.Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if env.Logger != nil {
		m.logger = env.Logger.With("VIRT")
	}
	if env.MaxMsgSize > 0 {
		m.maxMsgSize = env.MaxMsgSize
	}
	m.opMode = opMode
	m.initialized = true
	m.anbState = abcc.AnbStateSetup
	m.pendingState = nil
	m.toHost = nil
	m.rdPdBits, m.wrPdBits = 0, 0
	m.rdPdSize, m.wrPdSize = 0, 0
	m.mappings = nil
	m.wrPdBuffer = nil
	m.intStatus = 0
	return nil
}

func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	return nil
}

func (m *Module) ISR() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.intStatus & m.intMask
	m.intStatus &^= status
	return status
}

func (m *Module) RunTx() {}

// RunRx returns nil, written messages are consumed right away
func (m *Module) RunRx() *abcc.Message {
	return nil
}

func (m *Module) IsReadyForWrPd() bool {
	return true
}

func (m *Module) WrPdBuffer() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.wrPdBuffer) != int(m.wrPdSize) {
		m.wrPdBuffer = make([]byte, m.wrPdSize)
	}
	return m.wrPdBuffer
}

func (m *Module) WriteProcessData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writePd = append(m.writePd[:0], data...)
}

func (m *Module) ReadProcessData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.newReadPd {
		return nil
	}
	m.newReadPd = false
	return append([]byte(nil), m.readPd...)
}

func (m *Module) SetNbrOfCmds(n uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nbrOfCmds = n
}

func (m *Module) SetAppStatus(status uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appStatus = status
}

func (m *Module) SetPdSize(readSize uint16, writeSize uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rdPdSize = readSize
	m.wrPdSize = writeSize
}

func (m *Module) SetIntMask(mask uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intMask = mask
}

func (m *Module) ModCap() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modCap
}

func (m *Module) LedStatus() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledStatus
}

// AnybusState returns the current state. State changes triggered by
// the host are applied one read at a time.
func (m *Module) AnybusState() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.anbState
	if len(m.pendingState) > 0 {
		m.setState(m.pendingState[0])
		m.pendingState = m.pendingState[1:]
	}
	return state
}

func (m *Module) AnbStatus() uint8 {
	state := m.AnybusState()
	if m.IsSupervised() {
		state |= 0x08
	}
	return state
}

func (m *Module) IsSupervised() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervised
}

func (m *Module) IsReadyForWriteMessage() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *Module) IsReadyForCmd() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && m.readyForCmd
}

// WriteMessage handles a message from the host. Commands are answered
// immediately.
func (m *Module) WriteMessage(msg *abcc.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	received := clone(msg)
	if !received.IsCommand() {
		m.responses = append(m.responses, received)
		return true
	}
	m.commands = append(m.commands, received)
	rsp := abcc.NewMessage(m.maxMsgSize)
	_ = rsp.CopyFrom(received)
	m.handleCommand(rsp)
	m.queue(rsp)
	return true
}

func (m *Module) ReadMessage(dst *abcc.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.toHost) == 0 {
		return false
	}
	msg := m.toHost[0]
	m.toHost = m.toHost[1:]
	if err := dst.CopyFrom(msg); err != nil {
		m.logger.Warning(abcc.RdmsgSizeErr, uint32(msg.DataSize), "message does not fit host buffer : %v", err)
		return false
	}
	return true
}

// handleCommand turns the received command into its response
func (m *Module) handleCommand(msg *abcc.Message) {
	key := attrKey{msg.DestObj, msg.Instance, msg.CmdExt0}
	if code, ok := m.injected[key]; ok {
		msg.SetErrorResponse(code)
		return
	}
	switch msg.DestObj {
	case abcc.ObjAnybus:
		m.handleAnybus(msg, key)
	case abcc.ObjNetwork:
		m.handleNetwork(msg, key)
	default:
		msg.SetErrorResponse(abcc.ErrUnsupObj)
	}
}

func (m *Module) getAttribute(msg *abcc.Message, key attrKey) {
	value, ok := m.attributes[key]
	if !ok {
		msg.SetErrorResponse(abcc.ErrInvCmdExt0)
		return
	}
	if err := msg.SetPayload(value); err != nil {
		msg.SetErrorResponse(abcc.ErrMsgChannelTooSmall)
		return
	}
	msg.SetResponse(uint16(len(value)))
}

func (m *Module) handleAnybus(msg *abcc.Message, key attrKey) {
	switch msg.Command() {
	case abcc.CmdGetAttribute:
		m.getAttribute(msg, key)
	case abcc.CmdSetAttribute:
		switch msg.CmdExt0 {
		case abcc.AnbIaSetupComplete:
			if m.anbState != abcc.AnbStateSetup {
				msg.SetErrorResponse(abcc.ErrInvState)
				return
			}
			m.pendingState = []uint8{abcc.AnbStateNwInit, abcc.AnbStateWaitProcess}
		case abcc.AnbIaFatalEvent:
			m.attributes[key] = make([]byte, len(m.attributes[key]))
		default:
			msg.SetErrorResponse(abcc.ErrAttrNotSetable)
			return
		}
		msg.SetResponse(0)
	default:
		msg.SetErrorResponse(abcc.ErrUnsupCmd)
	}
}

func (m *Module) handleNetwork(msg *abcc.Message, key attrKey) {
	switch msg.Command() {
	case abcc.CmdGetAttribute:
		if _, ok := m.attributes[key]; !ok {
			switch msg.CmdExt0 {
			case abcc.NwIaReadPdSize:
				_ = msg.SetData16((m.rdPdBits+7)/8, 0)
				msg.SetResponse(2)
				return
			case abcc.NwIaWritePdSize:
				_ = msg.SetData16((m.wrPdBits+7)/8, 0)
				msg.SetResponse(2)
				return
			}
		}
		m.getAttribute(msg, key)
	case abcc.NwCmdMapAdiReadExtArea, abcc.NwCmdMapAdiWriteExtArea:
		m.handleMapping(msg)
	default:
		msg.SetErrorResponse(abcc.ErrUnsupCmd)
	}
}

// handleMapping accounts one extended mapping command. The payload is
// instance(16) | total elements | start | elements | descriptors |
// data types.
func (m *Module) handleMapping(msg *abcc.Message) {
	if m.anbState != abcc.AnbStateSetup {
		msg.SetErrorResponse(abcc.ErrInvState)
		return
	}
	payload := msg.Payload()
	if len(payload) < 7 {
		msg.SetErrorResponse(abcc.ErrNotEnoughData)
		return
	}
	instance := uint16(payload[0]) | uint16(payload[1])<<8
	start := payload[3]
	numElem := payload[4]
	numDesc := int(payload[5])
	types := payload[6:]
	if len(types) < numDesc {
		msg.SetErrorResponse(abcc.ErrNotEnoughData)
		return
	}
	var bits uint16
	for i := range int(numElem) {
		dataType := types[0]
		if numDesc > 1 && i < numDesc {
			dataType = types[i]
		}
		bits += abcc.DataTypeSizeInBits(dataType)
	}
	mapping := Mapping{Instance: instance, NumElem: numElem, Start: start, Bits: bits}
	var offset uint16
	if msg.Command() == abcc.NwCmdMapAdiReadExtArea {
		mapping.Direction = abcc.DirectionRead
		offset = m.rdPdBits / 8
		m.rdPdBits += bits
	} else {
		mapping.Direction = abcc.DirectionWrite
		offset = m.wrPdBits / 8
		m.wrPdBits += bits
	}
	m.mappings = append(m.mappings, mapping)
	_ = msg.SetData16(offset, 0)
	msg.SetResponse(2)
}

// Hardware

func (m *Module) HwInit() error {
	return nil
}

func (m *Module) HwReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.initialized = false
}

func (m *Module) HwReleaseReset() {}

func (m *Module) ReadModuleId() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moduleId
}

func (m *Module) ModuleDetect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detected
}

func (m *Module) OpMode() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opMode
}

func (m *Module) InterruptEnable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intEnabled = true
}

func (m *Module) InterruptDisable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intEnabled = false
}

func (m *Module) InterruptEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intEnabled
}
