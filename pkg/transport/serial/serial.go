// Package serial implements the ping/pong telegram exchange of the
// asynchronous serial host interface.
//
// The host sends a ping telegram (control byte, 16 byte message
// fragment, write process data, CRC) and the module answers with a pong
// telegram (status byte, 16 byte message fragment, read process data,
// CRC). Messages are transferred 16 bytes at a time using the legacy 8
// byte header.
package serial

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/timer"
	"github.com/samsamfire/goabcc/pkg/transport"
	"github.com/sigurn/crc16"
	goserial "go.bug.st/serial"
)

func init() {
	transport.RegisterTransport("serial", NewSerialTransport)
}

// Control byte bits (host to module)
const (
	CtrlTBit uint8 = 0x80 // toggle
	CtrlMBit uint8 = 0x40 // message fragment valid
	CtrlRBit uint8 = 0x20 // ready for command
)

// Status byte bits (module to host)
const (
	StatTBit   uint8 = 0x80
	StatMBit   uint8 = 0x40
	StatRBit   uint8 = 0x20
	StatSupBit uint8 = 0x08
	StatSBits  uint8 = 0x07
)

const (
	FragmentSize     = 16
	LegacyHeaderSize = 8
	crcSize          = 2
	statusSize       = 1

	DefaultWdTimeoutMs = 1000
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum returns the CRC of a telegram, it is sent high byte first
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Largest reassembled read message, header included
var maxReadFrame = ((LegacyHeaderSize+int(abcc.MaxMsg255DataBytes))/FragmentSize + 1) * FragmentSize

var telegramTimeouts = map[uint8]uint32{
	abcc.OpModeSerial19_2:  350,
	abcc.OpModeSerial57_6:  120,
	abcc.OpModeSerial115_2: 60,
	abcc.OpModeSerial625:   20,
}

var baudRates = map[uint8]int{
	abcc.OpModeSerial19_2:  19200,
	abcc.OpModeSerial57_6:  57600,
	abcc.OpModeSerial115_2: 115200,
	abcc.OpModeSerial625:   625000,
}

type state uint8

const (
	stateInit state = iota
	stateReadyToSendPing
	stateWaitingForPong
)

// Transport runs the serial ping/pong protocol. Telegrams are written to
// an [io.Writer] and the module answers are fed back with
// [Transport.DataReceived].
type Transport struct {
	mu       sync.Mutex
	logger   *abcc.Logger
	env      transport.Env
	portName string
	port     goserial.Port
	w        io.Writer
	state    state
	status   uint8

	// write message being sent, encoded with the legacy header
	writeMsg  *abcc.Message
	wrFrame   []byte
	wrOffset  int
	sending   bool
	endMark   bool
	receiving bool
	rdFrame   []byte
	readMsg   *abcc.Message
	newRead   bool

	readPdSize  uint16
	writePdSize uint16
	tx          []byte
	rx          []byte
	expected    int
	newRx       bool
	rdPd        []byte
	nbrOfCmds   uint8
	crcErrors   uint16

	timers        *timer.Service
	wdTimer       timer.Handle
	wdTmo         bool
	telegramTimer timer.Handle
	telegramTmo   bool
	telegramTmoMs uint32
	wdTmoMs       uint32
}

// NewSerialTransport returns a transport that opens the serial port
// channel when initialized, the baud rate follows the operating mode.
func NewSerialTransport(channel string) (transport.Transport, error) {
	if channel == "" {
		return nil, fmt.Errorf("no serial port given")
	}
	tr := newTransport(nil)
	tr.portName = channel
	return tr, nil
}

// NewTransport returns a transport writing its telegrams to w
func NewTransport(w io.Writer) *Transport {
	return newTransport(w)
}

func newTransport(w io.Writer) *Transport {
	return &Transport{
		logger:        abcc.NewLogger("SER"),
		w:             w,
		tx:            make([]byte, statusSize+FragmentSize+int(abcc.MaxProcessData)+crcSize),
		rx:            make([]byte, 0, statusSize+FragmentSize+int(abcc.MaxProcessData)+crcSize),
		rdFrame:       make([]byte, 0, maxReadFrame),
		readMsg:       abcc.NewMessage(int(abcc.MaxMsg255DataBytes)),
		wdTimer:       timer.NoHandle,
		telegramTimer: timer.NoHandle,
	}
}

func (tr *Transport) Init(opMode uint8, env transport.Env) error {
	tmo, ok := telegramTimeouts[opMode]
	if !ok {
		return fmt.Errorf("%w : %v", abcc.IncorrectOperatingMode, opMode)
	}
	if env.Timers == nil {
		return fmt.Errorf("%w : no timer service", abcc.ErrIllegalArgument)
	}
	if env.Logger != nil {
		tr.logger = env.Logger.With("SER")
	}
	wdTimer, err := env.Timers.Create(tr.wdTimeout)
	if err != nil {
		return err
	}
	telegramTimer, err := env.Timers.Create(tr.telegramTimeout)
	if err != nil {
		return err
	}
	if tr.portName != "" && tr.port == nil {
		mode := &goserial.Mode{
			BaudRate: baudRates[opMode],
			DataBits: 8,
			Parity:   goserial.NoParity,
			StopBits: goserial.OneStopBit,
		}
		port, err := goserial.Open(tr.portName, mode)
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %v", tr.portName, err)
		}
		tr.port = port
		tr.w = port
		go tr.readLoop(port)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.env = env
	tr.timers = env.Timers
	tr.wdTimer = wdTimer
	tr.telegramTimer = telegramTimer
	tr.telegramTmoMs = tmo
	if env.TelegramTimeoutMs != 0 {
		tr.telegramTmoMs = env.TelegramTimeoutMs
	}
	tr.wdTmoMs = DefaultWdTimeoutMs
	if env.WdTimeoutMs != 0 {
		tr.wdTmoMs = env.WdTimeoutMs
	}
	tr.wdTmo = false
	tr.telegramTmo = false
	tr.state = stateInit
	tr.status = 0
	tr.writeMsg = nil
	tr.sending = false
	tr.endMark = false
	tr.receiving = false
	tr.newRead = false
	tr.readPdSize = 0
	tr.writePdSize = 0
	clear(tr.tx)
	tr.rx = tr.rx[:0]
	tr.newRx = false
	tr.rdPd = nil
	tr.nbrOfCmds = 0
	tr.crcErrors = 0
	return nil
}

func (tr *Transport) readLoop(port goserial.Port) {
	buffer := make([]byte, 512)
	for {
		n, err := port.Read(buffer)
		if err != nil {
			tr.logger.Debug("exiting read loop : %v", err)
			return
		}
		if n > 0 {
			tr.DataReceived(buffer[:n])
		}
	}
}

func (tr *Transport) Close() error {
	tr.mu.Lock()
	port := tr.port
	tr.port = nil
	tr.mu.Unlock()
	if port != nil {
		return port.Close()
	}
	return nil
}

// DataReceived is fed with the bytes read from the module. Bytes
// arriving when no pong is expected are dropped.
func (tr *Transport) DataReceived(data []byte) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.state != stateWaitingForPong || tr.newRx {
		return
	}
	tr.rx = append(tr.rx, data...)
	if len(tr.rx) >= tr.expected {
		tr.rx = tr.rx[:tr.expected]
		tr.newRx = true
	}
}

func (tr *Transport) wdTimeout() {
	tr.mu.Lock()
	tr.wdTmo = true
	callback := tr.env.WdTimeout
	tr.mu.Unlock()
	tr.logger.Debug("watchdog timeout")
	if callback != nil {
		callback()
	}
}

func (tr *Transport) telegramTimeout() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.telegramTmo = true
}

// restart drops the current pong
func (tr *Transport) restart() {
	tr.rx = tr.rx[:0]
	tr.newRx = false
	if tr.port != nil {
		_ = tr.port.ResetInputBuffer()
	}
}

func (tr *Transport) txFrameSize() int {
	return statusSize + FragmentSize + int(tr.writePdSize)
}

func (tr *Transport) rxFrameSize() int {
	return statusSize + FragmentSize + int(tr.readPdSize)
}

func isReadRemapResponse(msg *abcc.Message) bool {
	return msg.DestObj == abcc.ObjApplicationData &&
		!msg.IsCommand() &&
		msg.Command() == abcc.AppdCmdRemapAdiReadArea
}

// encodeLegacy writes the legacy header followed by the payload.
// The returned frame is padded to a whole number of fragments.
func encodeLegacy(msg *abcc.Message) []byte {
	size := LegacyHeaderSize + int(msg.DataSize)
	frame := make([]byte, (size+FragmentSize-1)/FragmentSize*FragmentSize)
	frame[0] = msg.SourceId
	frame[1] = msg.DestObj
	binary.LittleEndian.PutUint16(frame[2:], msg.Instance)
	frame[4] = msg.Cmd
	frame[5] = uint8(msg.DataSize)
	frame[6] = msg.CmdExt0
	frame[7] = msg.CmdExt1
	copy(frame[LegacyHeaderSize:], msg.Data[:msg.DataSize])
	return frame
}

func decodeLegacy(frame []byte, msg *abcc.Message) error {
	if len(frame) < LegacyHeaderSize {
		return abcc.ErrFrameLength
	}
	msg.SourceId = frame[0]
	msg.DestObj = frame[1]
	msg.Instance = binary.LittleEndian.Uint16(frame[2:])
	msg.Cmd = frame[4]
	msg.DataSize = uint16(frame[5])
	msg.CmdExt0 = frame[6]
	msg.CmdExt1 = frame[7]
	clear(msg.Data)
	copy(msg.Data, frame[LegacyHeaderSize:])
	return nil
}

// RunTx sends the next ping if the previous exchange is over. After a
// telegram timeout the previous telegram is repeated with the same T bit.
func (tr *Transport) RunTx() {
	tr.mu.Lock()
	if tr.state != stateReadyToSendPing {
		tr.mu.Unlock()
		return
	}
	tr.state = stateWaitingForPong
	tr.tx[0] &= CtrlTBit

	if !tr.telegramTmo {
		tr.tx[0] ^= CtrlTBit
		if tr.writeMsg != nil && !tr.sending {
			tr.wrFrame = encodeLegacy(tr.writeMsg)
			tr.wrOffset = 0
			tr.sending = true
			tr.endMark = false
		}
	}
	tr.telegramTmo = false

	remapDone := false
	if tr.sending {
		if !tr.endMark {
			copy(tr.tx[statusSize:], tr.wrFrame[tr.wrOffset:tr.wrOffset+FragmentSize])
			tr.tx[0] |= CtrlMBit
		} else if isReadRemapResponse(tr.writeMsg) {
			// The module uses the new read size from the next pong
			remapDone = true
		}
	}
	if tr.nbrOfCmds > 0 {
		tr.tx[0] |= CtrlRBit
	}
	tr.rdPd = nil

	frameSize := tr.txFrameSize()
	binary.BigEndian.PutUint16(tr.tx[frameSize:], Checksum(tr.tx[:frameSize]))
	telegram := make([]byte, frameSize+crcSize)
	copy(telegram, tr.tx)

	tr.rx = tr.rx[:0]
	tr.newRx = false
	tr.expected = tr.rxFrameSize() + crcSize
	tr.timers.Start(tr.telegramTimer, tr.telegramTmoMs)
	w := tr.w
	readRemapDone := tr.env.ReadRemapDone
	tr.mu.Unlock()

	if remapDone && readRemapDone != nil {
		readRemapDone()
	}
	tr.logger.Debug("tx % x", telegram)
	if w == nil {
		tr.logger.Warning(abcc.InternalError, 0, "no serial port")
		return
	}
	if _, err := w.Write(telegram); err != nil {
		tr.logger.Warning(abcc.InternalError, 0, "failed to write telegram : %v", err)
	}
}

// RunRx handles the last pong. It returns the write message once its
// end mark has been acknowledged.
func (tr *Transport) RunRx() *abcc.Message {
	tr.mu.Lock()
	switch tr.state {
	case stateInit:
		tr.timers.Start(tr.wdTimer, tr.wdTmoMs)
		tr.state = stateReadyToSendPing
		tr.mu.Unlock()
		return nil
	case stateReadyToSendPing:
		tr.mu.Unlock()
		return nil
	}

	if !tr.newRx {
		if tr.telegramTmo {
			tr.restart()
			tr.state = stateReadyToSendPing
		}
		tr.mu.Unlock()
		return nil
	}
	tr.newRx = false
	rx := tr.rx
	// Sized when the ping was sent
	frameSize := len(rx) - crcSize
	calculated := Checksum(rx[:frameSize])
	received := binary.BigEndian.Uint16(rx[frameSize:])
	if tr.status&StatTBit == rx[0]&StatTBit || calculated != received {
		tr.crcErrors++
		count := tr.crcErrors
		tr.restart()
		tr.mu.Unlock()
		tr.logger.Warning(abcc.ChecksumMismatch, uint32(count), "CRC check failed for received telegram (error count: %v)", count)
		return nil
	}
	tr.logger.Debug("rx % x", rx)

	recovered := tr.wdTmo
	tr.timers.Stop(tr.telegramTimer)
	tr.telegramTmo = false
	tr.timers.Stop(tr.wdTimer)
	tr.wdTmo = false
	tr.timers.Start(tr.wdTimer, tr.wdTmoMs)

	tr.status = rx[0]
	tr.rdPd = append([]byte(nil), rx[statusSize+FragmentSize:frameSize]...)

	var sent *abcc.Message
	if tr.sending {
		if tr.endMark {
			sent = tr.writeMsg
			if !sent.IsCommand() {
				tr.nbrOfCmds++
			}
			tr.writeMsg = nil
			tr.sending = false
			tr.endMark = false
		} else {
			tr.wrOffset += FragmentSize
			tr.endMark = tr.wrOffset >= len(tr.wrFrame)
		}
	}

	var dropped bool
	var decodeErr error
	if tr.status&StatMBit != 0 {
		if !tr.receiving {
			tr.receiving = true
			tr.rdFrame = tr.rdFrame[:0]
		}
		if len(tr.rdFrame)+FragmentSize <= maxReadFrame {
			tr.rdFrame = append(tr.rdFrame, rx[statusSize:statusSize+FragmentSize]...)
		}
	} else if tr.receiving {
		// End mark
		tr.receiving = false
		if tr.newRead {
			dropped = true
		} else if decodeErr = decodeLegacy(tr.rdFrame, tr.readMsg); decodeErr == nil {
			tr.newRead = true
			if tr.readMsg.IsCommand() && tr.nbrOfCmds > 0 {
				tr.nbrOfCmds--
			}
		}
	}
	tr.state = stateReadyToSendPing
	wdRecovered := tr.env.WdTimeoutRecovered
	tr.mu.Unlock()

	if dropped {
		tr.logger.Warning(abcc.OutOfMsgBuffers, 0, "previous read message not handled, dropping message")
	}
	if decodeErr != nil {
		tr.logger.Warning(abcc.RdmsgSizeErr, 0, "invalid read message : %v", decodeErr)
	}
	if recovered && wdRecovered != nil {
		wdRecovered()
	}
	return sent
}

// ISR is not used by the serial interface
func (tr *Transport) ISR() uint16 {
	return 0
}

func (tr *Transport) IsReadyForWrPd() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.state == stateReadyToSendPing
}

// WrPdBuffer returns the process data region of the next ping
func (tr *Transport) WrPdBuffer() []byte {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	start := statusSize + FragmentSize
	return tr.tx[start : start+int(tr.writePdSize)]
}

// WriteProcessData does nothing more than checking the state, the data
// is already in place in the ping telegram.
func (tr *Transport) WriteProcessData(data []byte) {
	tr.mu.Lock()
	current := tr.state
	tr.mu.Unlock()
	if current != stateReadyToSendPing {
		tr.logger.Error(abcc.IncorrectState, uint32(current), "wrong driver state (%v)", current)
	}
}

func (tr *Transport) ReadProcessData() []byte {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	data := tr.rdPd
	tr.rdPd = nil
	return data
}

func (tr *Transport) SetNbrOfCmds(n uint8) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.nbrOfCmds = n
}

func (tr *Transport) SetAppStatus(status uint16) {}

// SetPdSize changes the telegram sizes, at most 256 bytes of process
// data fit in a telegram.
func (tr *Transport) SetPdSize(readSize uint16, writeSize uint16) {
	if readSize > abcc.MaxProcessData {
		tr.logger.Error(abcc.RdpdSizeErr, uint32(readSize), "read PD size too big for serial operating mode %v>%v", readSize, abcc.MaxProcessData)
		return
	}
	if writeSize > abcc.MaxProcessData {
		tr.logger.Error(abcc.WrpdSizeErr, uint32(writeSize), "write PD size too big for serial operating mode %v>%v", writeSize, abcc.MaxProcessData)
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.readPdSize = readSize
	tr.writePdSize = writeSize
}

func (tr *Transport) SetIntMask(mask uint16) {}

func (tr *Transport) ModCap() uint16 {
	tr.logger.Warning(abcc.ModCapNotSupported, 0, "module capability not supported by serial driver")
	return 0
}

func (tr *Transport) LedStatus() uint16 {
	tr.logger.Warning(abcc.LedStatusNotSupported, 0, "LED status not supported by serial driver")
	return 0
}

func (tr *Transport) AnybusState() uint8 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.status & StatSBits
}

func (tr *Transport) AnbStatus() uint8 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.status & (StatSupBit | StatSBits)
}

func (tr *Transport) IsSupervised() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.status&StatSupBit != 0
}

func (tr *Transport) IsReadyForWriteMessage() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.writeMsg == nil
}

func (tr *Transport) IsReadyForCmd() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.writeMsg == nil && tr.status&StatRBit != 0
}

// WriteMessage keeps msg until it has been sent completely, see
// [Transport.RunRx]. Messages that do not fit the legacy header are
// refused and reported as consumed.
func (tr *Transport) WriteMessage(msg *abcc.Message) bool {
	if msg.DataSize > abcc.MaxMsg255DataBytes {
		tr.logger.Error(abcc.WrmsgSizeErr, uint32(msg.DataSize), "message too large for serial operating mode (%v)", msg.DataSize)
		return true
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.writeMsg != nil {
		tr.logger.Fatal(abcc.IncorrectState, 0, "write message already in progress")
	}
	tr.writeMsg = msg
	return false
}

func (tr *Transport) ReadMessage(dst *abcc.Message) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.newRead {
		return false
	}
	tr.newRead = false
	data := dst.Data
	*dst = *tr.readMsg
	dst.Data = data
	copy(dst.Data, tr.readMsg.Data)
	return true
}

// CrcErrors returns the number of bad telegrams received
func (tr *Transport) CrcErrors() uint16 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.crcErrors
}
