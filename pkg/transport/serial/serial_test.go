package serial

import (
	"encoding/binary"
	"testing"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/timer"
	"github.com/samsamfire/goabcc/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort records every telegram written by the transport
type fakePort struct {
	telegrams [][]byte
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.telegrams = append(p.telegrams, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) last() []byte {
	return p.telegrams[len(p.telegrams)-1]
}

type module struct {
	t          *testing.T
	tr         *Transport
	port       *fakePort
	timers     *timer.Service
	toggle     uint8
	codes      []abcc.ErrorCode
	wdTimeouts int
	recovered  int
	remapDone  int
}

func newModule(t *testing.T) *module {
	m := &module{t: t, port: &fakePort{}, timers: timer.NewService(timer.DefaultNumTimers, nil)}
	m.timers.Init()
	logger := abcc.NewLogger("TEST")
	logger.AddHandler(func(severity abcc.Severity, code abcc.ErrorCode, info uint32) {
		m.codes = append(m.codes, code)
	})
	m.tr = NewTransport(m.port)
	err := m.tr.Init(abcc.OpModeSerial115_2, transport.Env{
		Logger:             logger,
		Timers:             m.timers,
		WdTimeout:          func() { m.wdTimeouts++ },
		WdTimeoutRecovered: func() { m.recovered++ },
		ReadRemapDone:      func() { m.remapDone++ },
	})
	require.Nil(t, err)
	assert.Nil(t, m.tr.RunRx())
	return m
}

func pong(status uint8, fragment []byte, pd []byte) []byte {
	telegram := make([]byte, statusSize+FragmentSize+len(pd)+crcSize)
	telegram[0] = status
	copy(telegram[statusSize:], fragment)
	copy(telegram[statusSize+FragmentSize:], pd)
	frameSize := len(telegram) - crcSize
	binary.BigEndian.PutUint16(telegram[frameSize:], Checksum(telegram[:frameSize]))
	return telegram
}

// cycle sends a ping, answers it with a valid pong and returns the ping
// and the message reported as sent
func (m *module) cycle(status uint8, fragment []byte, pd []byte) ([]byte, *abcc.Message) {
	m.tr.RunTx()
	ping := m.port.last()
	m.toggle ^= StatTBit
	m.tr.DataReceived(pong(m.toggle|status, fragment, pd))
	return ping, m.tr.RunRx()
}

func checkCrc(t *testing.T, telegram []byte) {
	frameSize := len(telegram) - crcSize
	assert.Equal(t, Checksum(telegram[:frameSize]), binary.BigEndian.Uint16(telegram[frameSize:]))
}

func TestChecksum(t *testing.T) {
	assert.EqualValues(t, 0x4B37, Checksum([]byte("123456789")))
	// Well known modbus request "01 03 00 00 00 0A" ends with C5 CD
	assert.EqualValues(t, 0xCDC5, Checksum([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}))
	assert.EqualValues(t, 0xFFFF, Checksum(nil))
}

func TestIncorrectOperatingMode(t *testing.T) {
	tr := NewTransport(&fakePort{})
	err := tr.Init(abcc.OpModeSpi, transport.Env{Timers: timer.NewService(2, nil)})
	assert.ErrorIs(t, err, abcc.IncorrectOperatingMode)
	err = tr.Init(abcc.OpModeSerial19_2, transport.Env{})
	assert.ErrorIs(t, err, abcc.ErrIllegalArgument)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, transport.Available(), "serial")
	_, err := transport.NewTransport("serial", "")
	assert.NotNil(t, err)
}

func TestPingPong(t *testing.T) {
	m := newModule(t)
	ping, sent := m.cycle(abcc.AnbStateSetup|StatRBit, nil, nil)
	assert.Nil(t, sent)
	require.Len(t, ping, statusSize+FragmentSize+crcSize)
	assert.Equal(t, CtrlTBit, ping[0])
	checkCrc(t, ping)

	ping, _ = m.cycle(abcc.AnbStateNwInit|StatSupBit, nil, nil)
	assert.Zero(t, ping[0]&CtrlTBit)
	assert.Equal(t, abcc.AnbStateNwInit, m.tr.AnybusState())
	assert.Equal(t, abcc.AnbStateNwInit|StatSupBit, m.tr.AnbStatus())
	assert.True(t, m.tr.IsSupervised())
	assert.False(t, m.tr.IsReadyForCmd())
	assert.Empty(t, m.codes)
}

func TestNoPingBeforePong(t *testing.T) {
	m := newModule(t)
	m.tr.RunTx()
	m.tr.RunTx()
	assert.Len(t, m.port.telegrams, 1)
	assert.False(t, m.tr.IsReadyForWrPd())

	// Partial pong
	telegram := pong(StatTBit, nil, nil)
	m.tr.DataReceived(telegram[:5])
	assert.Nil(t, m.tr.RunRx())
	m.tr.RunTx()
	assert.Len(t, m.port.telegrams, 1)
	m.tr.DataReceived(telegram[5:])
	m.tr.RunRx()
	assert.True(t, m.tr.IsReadyForWrPd())
}

func TestWriteMessage(t *testing.T) {
	m := newModule(t)
	msg := abcc.NewMessage(64)
	msg.SetHeader(abcc.ObjNetwork, 0x0102, 5, abcc.CmdSetAttribute, 20, 7)
	for i := 0; i < 20; i++ {
		msg.Data[i] = uint8(i)
	}
	assert.True(t, m.tr.IsReadyForWriteMessage())
	assert.False(t, m.tr.WriteMessage(msg))
	assert.False(t, m.tr.IsReadyForWriteMessage())

	var fragments []byte
	ping, sent := m.cycle(StatRBit, nil, nil)
	assert.Nil(t, sent)
	assert.NotZero(t, ping[0]&CtrlMBit)
	fragments = append(fragments, ping[statusSize:statusSize+FragmentSize]...)

	ping, sent = m.cycle(StatRBit, nil, nil)
	assert.Nil(t, sent)
	assert.NotZero(t, ping[0]&CtrlMBit)
	fragments = append(fragments, ping[statusSize:statusSize+FragmentSize]...)

	// End mark
	ping, sent = m.cycle(StatRBit, nil, nil)
	assert.Zero(t, ping[0]&CtrlMBit)
	assert.Same(t, msg, sent)
	assert.True(t, m.tr.IsReadyForWriteMessage())
	assert.Zero(t, m.remapDone)

	header := []byte{7, abcc.ObjNetwork, 0x02, 0x01, abcc.HeaderCBit | abcc.CmdSetAttribute, 20, 5, 0}
	assert.Equal(t, header, fragments[:LegacyHeaderSize])
	assert.Equal(t, msg.Data[:20], fragments[LegacyHeaderSize:LegacyHeaderSize+20])
}

func TestWriteMessageTooLarge(t *testing.T) {
	m := newModule(t)
	msg := abcc.NewMessage(int(abcc.MaxMsgDataBytes))
	msg.SetHeader(abcc.ObjNetwork, 1, 1, abcc.CmdSetAttribute, 300, 1)
	assert.True(t, m.tr.WriteMessage(msg))
	assert.Equal(t, []abcc.ErrorCode{abcc.WrmsgSizeErr}, m.codes)
	assert.True(t, m.tr.IsReadyForWriteMessage())
}

func TestReadRemapDone(t *testing.T) {
	m := newModule(t)
	msg := abcc.NewMessage(16)
	msg.SetHeader(abcc.ObjApplicationData, 1, 0, abcc.AppdCmdRemapAdiReadArea, 2, 3)
	msg.SetResponse(2)
	m.tr.WriteMessage(msg)
	m.cycle(0, nil, nil)
	assert.Zero(t, m.remapDone)
	_, sent := m.cycle(0, nil, nil)
	assert.Equal(t, 1, m.remapDone)
	assert.Same(t, msg, sent)
}

func TestReadMessage(t *testing.T) {
	m := newModule(t)
	m.tr.SetNbrOfCmds(1)
	fragment := []byte{9, abcc.ObjApplicationData, 0x01, 0x00, abcc.HeaderCBit | abcc.CmdGetAttribute, 3, 5, 0, 0xA, 0xB, 0xC}

	ping, _ := m.cycle(StatMBit, fragment, nil)
	assert.NotZero(t, ping[0]&CtrlRBit)
	dst := abcc.NewMessage(int(abcc.MaxMsgDataBytes))
	assert.False(t, m.tr.ReadMessage(dst))

	ping, _ = m.cycle(0, nil, nil)
	assert.NotZero(t, ping[0]&CtrlRBit)
	require.True(t, m.tr.ReadMessage(dst))
	assert.False(t, m.tr.ReadMessage(dst))
	assert.EqualValues(t, 9, dst.SourceId)
	assert.Equal(t, abcc.ObjApplicationData, dst.DestObj)
	assert.EqualValues(t, 1, dst.Instance)
	assert.True(t, dst.IsCommand())
	assert.EqualValues(t, 5, dst.CmdExt0)
	assert.Equal(t, []byte{0xA, 0xB, 0xC}, dst.Payload())

	// The received command used the last credit
	ping, _ = m.cycle(0, nil, nil)
	assert.Zero(t, ping[0]&CtrlRBit)
}

func TestChecksumMismatch(t *testing.T) {
	m := newModule(t)
	m.tr.RunTx()
	first := m.port.last()
	telegram := pong(StatTBit, nil, nil)
	telegram[3] ^= 0xFF
	m.tr.DataReceived(telegram)
	assert.Nil(t, m.tr.RunRx())
	assert.Equal(t, []abcc.ErrorCode{abcc.ChecksumMismatch}, m.codes)
	assert.EqualValues(t, 1, m.tr.CrcErrors())

	// Still waiting until the telegram times out
	m.tr.RunTx()
	assert.Len(t, m.port.telegrams, 1)
	m.timers.Tick(60)
	m.tr.RunRx()
	m.tr.RunTx()
	require.Len(t, m.port.telegrams, 2)
	assert.Equal(t, first, m.port.last())

	// Unchanged T bit
	m.tr.DataReceived(pong(0, nil, nil))
	m.tr.RunRx()
	assert.EqualValues(t, 2, m.tr.CrcErrors())
}

func TestWatchdog(t *testing.T) {
	m := newModule(t)
	m.tr.RunTx()
	m.timers.Tick(DefaultWdTimeoutMs)
	assert.Equal(t, 1, m.wdTimeouts)
	assert.Nil(t, m.tr.RunRx())
	m.toggle = 0
	_, _ = m.cycle(0, nil, nil)
	assert.Equal(t, 1, m.recovered)
	_, _ = m.cycle(0, nil, nil)
	assert.Equal(t, 1, m.recovered)
}

func TestProcessData(t *testing.T) {
	m := newModule(t)
	m.tr.SetPdSize(300, 2)
	m.tr.SetPdSize(2, 300)
	assert.Equal(t, []abcc.ErrorCode{abcc.RdpdSizeErr, abcc.WrpdSizeErr}, m.codes)
	assert.Len(t, m.tr.WrPdBuffer(), 0)

	m.tr.SetPdSize(2, 3)
	buffer := m.tr.WrPdBuffer()
	require.Len(t, buffer, 3)
	copy(buffer, []byte{1, 2, 3})
	m.tr.WriteProcessData(buffer)

	ping, _ := m.cycle(abcc.AnbStateProcessActive, nil, []byte{4, 5})
	require.Len(t, ping, statusSize+FragmentSize+3+crcSize)
	assert.Equal(t, []byte{1, 2, 3}, ping[statusSize+FragmentSize:statusSize+FragmentSize+3])
	checkCrc(t, ping)
	assert.Equal(t, []byte{4, 5}, m.tr.ReadProcessData())
	assert.Nil(t, m.tr.ReadProcessData())

	m.tr.RunTx()
	m.tr.WriteProcessData(buffer)
	assert.Contains(t, m.codes, abcc.IncorrectState)
}

func TestNotSupported(t *testing.T) {
	m := newModule(t)
	assert.Zero(t, m.tr.ModCap())
	assert.Zero(t, m.tr.LedStatus())
	assert.Zero(t, m.tr.ISR())
	assert.Equal(t, []abcc.ErrorCode{abcc.ModCapNotSupported, abcc.LedStatusNotSupported}, m.codes)
	assert.Nil(t, m.tr.Close())
}
