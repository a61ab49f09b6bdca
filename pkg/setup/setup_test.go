package setup

import (
	"testing"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/cmdseq"
	"github.com/samsamfire/goabcc/pkg/link"
	"github.com/samsamfire/goabcc/pkg/memory"
	"github.com/samsamfire/goabcc/pkg/transport"
	"github.com/samsamfire/goabcc/pkg/transport/virtual"
	"github.com/stretchr/testify/assert"
)

type host struct {
	link     *link.Link
	pdSet    bool
	readSize uint16
	wrSize   uint16
}

func (h *host) NewSourceId() uint8 {
	return h.link.NewSourceId()
}

func (h *host) SetPdSize(readSize uint16, writeSize uint16) {
	h.pdSet = true
	h.readSize, h.wrSize = readSize, writeSize
}

type bench struct {
	pool     *memory.Pool
	link     *link.Link
	module   *virtual.Module
	seq      *cmdseq.Sequencer
	host     *host
	setup    *Setup
	codes    []abcc.ErrorCode
	errors   []abcc.ErrorCode
	userInit int
	results  []cmdseq.Result
}

func newBench(t *testing.T, config Config) *bench {
	t.Helper()
	b := &bench{}
	logger := abcc.NewLogger("TEST")
	logger.AddHandler(func(severity abcc.Severity, code abcc.ErrorCode, info uint32) {
		b.codes = append(b.codes, code)
		if severity == abcc.SeverityError {
			b.errors = append(b.errors, code)
		}
	})
	b.module = virtual.New()
	assert.Nil(t, b.module.Init(abcc.OpModeSpi, transport.Env{Logger: logger, MaxMsgSize: 64}))
	b.pool = memory.NewPool(4, 64, logger.With("MEM"))
	b.link = link.NewLink(b.pool, b.module, 2, 2, logger.With("LINK"))
	b.seq = cmdseq.NewSequencer(b.link, 2, cmdseq.DefaultMaxRetries, logger.With("CMDSEQ"))
	b.host = &host{link: b.link}
	if config.UserInitReq == nil {
		config.UserInitReq = func() { b.userInit++ }
	}
	config.Done = func(result cmdseq.Result) { b.results = append(b.results, result) }
	b.setup = NewSetup(b.seq, b.host, config, logger.With("SETUP"))
	return b
}

// pump delivers the module responses like the driver does
func (b *bench) pump() {
	for range 200 {
		b.seq.Exec()
		b.link.CheckSendMessage()
		buf := b.link.ReadMessage()
		if buf.IsNil() {
			return
		}
		b.pool.SetStatus(buf, memory.StatusInApplHandler)
		if handler := b.link.GetHandler(buf.SourceId); handler != nil {
			handler(buf)
		}
		if b.pool.Status(buf) == memory.StatusInApplHandler {
			b.pool.Free(&buf)
		}
	}
}

var testAdis = []abcc.AdiEntry{
	{Instance: 1, Name: "speed", DataType: abcc.TypeUint16, NumElements: 1},
	{Instance: 2, Name: "outputs", DataType: abcc.TypeUint8, NumElements: 4},
	{Instance: 10, Name: "status", NumElements: 2, Struct: []abcc.StructElement{
		{DataType: abcc.TypeUint8}, {DataType: abcc.TypeBit1 + 1},
	}},
}

var testMap = []abcc.MapEntry{
	{Instance: 1, Direction: abcc.DirectionRead, NumElements: abcc.MapAllElements},
	{Instance: 2, Direction: abcc.DirectionWrite, NumElements: abcc.MapAllElements},
	{Instance: abcc.MapPadAdi, Direction: abcc.DirectionWrite, NumElements: 4},
	{Instance: 10, Direction: abcc.DirectionRead, NumElements: abcc.MapAllElements},
}

func mapping() ([]abcc.AdiEntry, []abcc.MapEntry) {
	return testAdis, testMap
}

func TestSentinels(t *testing.T) {
	b := newBench(t, Config{})
	assert.Equal(t, abcc.FwVersion{Major: 0xFF, Minor: 0xFF, Build: 0xFF}, b.setup.FirmwareVersion())
	assert.EqualValues(t, 0xFFFF, b.setup.ModuleType())
	assert.EqualValues(t, 0xFFFF, b.setup.NetworkType())
	assert.Equal(t, abcc.NetUnknown, b.setup.NetFormat())
	assert.Equal(t, abcc.ParameterUnknown, b.setup.ParameterSupport())
	assert.False(t, b.setup.IsFirstCommandPending())
}

func TestSetupWithDefaultMap(t *testing.T) {
	b := newBench(t, Config{AdiMappingReq: mapping})
	assert.Nil(t, b.setup.Start())
	assert.True(t, b.setup.IsFirstCommandPending())
	b.pump()
	assert.False(t, b.setup.IsFirstCommandPending())
	assert.Equal(t, 1, b.userInit)

	assert.Equal(t, abcc.FwVersion{Major: 1, Minor: 2, Build: 3}, b.setup.FirmwareVersion())
	assert.EqualValues(t, 0x0403, b.setup.ModuleType())
	assert.EqualValues(t, 0x0084, b.setup.NetworkType())
	assert.Equal(t, abcc.NetLittleEndian, b.setup.NetFormat())
	assert.Equal(t, abcc.ParamSupport, b.setup.ParameterSupport())

	mappings := b.module.Mappings()
	assert.Len(t, mappings, 4)
	assert.Equal(t, virtual.Mapping{Direction: abcc.DirectionRead, Instance: 1, NumElem: 1, Bits: 16}, mappings[0])
	assert.Equal(t, virtual.Mapping{Direction: abcc.DirectionWrite, Instance: 2, NumElem: 4, Bits: 32}, mappings[1])
	assert.Equal(t, virtual.Mapping{Direction: abcc.DirectionWrite, Instance: 0, NumElem: 4, Bits: 4}, mappings[2])
	assert.Equal(t, virtual.Mapping{Direction: abcc.DirectionRead, Instance: 10, NumElem: 2, Bits: 10}, mappings[3])

	// 26 read bits, 36 write bits
	readSize, writeSize := b.setup.PdSize()
	assert.EqualValues(t, 4, readSize)
	assert.EqualValues(t, 5, writeSize)
	assert.False(t, b.host.pdSet)

	assert.Nil(t, b.setup.UserInitComplete())
	b.pump()
	assert.Equal(t, []cmdseq.Result{cmdseq.ResultCompleted}, b.results)
	assert.True(t, b.host.pdSet)
	assert.EqualValues(t, 4, b.host.readSize)
	assert.EqualValues(t, 5, b.host.wrSize)
	assert.Empty(t, b.codes)
	assert.Equal(t, 4, b.pool.Available())
}

func TestSetupWithoutDefaultMap(t *testing.T) {
	b := newBench(t, Config{})
	b.module.SetAttribute(abcc.ObjNetwork, 1, abcc.NwIaReadPdSize, []byte{4, 0})
	b.module.SetAttribute(abcc.ObjNetwork, 1, abcc.NwIaWritePdSize, []byte{6, 0})
	assert.Nil(t, b.setup.Start())
	b.pump()
	assert.Equal(t, 1, b.userInit)
	assert.Empty(t, b.module.Mappings())

	assert.Nil(t, b.setup.UserInitComplete())
	b.pump()
	assert.Equal(t, []cmdseq.Result{cmdseq.ResultCompleted}, b.results)
	assert.EqualValues(t, 4, b.host.readSize)
	assert.EqualValues(t, 6, b.host.wrSize)
}

func TestPdSizeMismatch(t *testing.T) {
	for name, attribute := range map[string]uint8{
		"read":  abcc.NwIaReadPdSize,
		"write": abcc.NwIaWritePdSize,
	} {
		t.Run(name, func(t *testing.T) {
			b := newBench(t, Config{AdiMappingReq: mapping})
			b.module.SetAttribute(abcc.ObjNetwork, 1, attribute, []byte{0xFF, 0})
			assert.Nil(t, b.setup.Start())
			b.pump()
			assert.Nil(t, b.setup.UserInitComplete())
			b.pump()
			assert.Equal(t, []cmdseq.Result{cmdseq.ResultAbortedInternal}, b.results)
			assert.False(t, b.host.pdSet)
			assert.Equal(t, []abcc.ErrorCode{abcc.PdSizeMismatch}, b.errors)
			assert.Contains(t, b.codes, abcc.SetupFailed)
		})
	}
}

func TestUnknownAdiInDefaultMap(t *testing.T) {
	b := newBench(t, Config{AdiMappingReq: func() ([]abcc.AdiEntry, []abcc.MapEntry) {
		return testAdis, []abcc.MapEntry{
			{Instance: 1, Direction: abcc.DirectionRead, NumElements: 1},
			{Instance: 5, Direction: abcc.DirectionRead, NumElements: 1},
		}
	}})
	assert.Nil(t, b.setup.Start())
	b.pump()
	assert.Equal(t, 0, b.userInit)
	assert.Len(t, b.module.Mappings(), 1)
	assert.Contains(t, b.codes, abcc.DefaultMapErr)
	assert.Contains(t, b.codes, abcc.SetupFailed)
}

func TestErrorResponseAborts(t *testing.T) {
	b := newBench(t, Config{AdiMappingReq: mapping})
	b.module.InjectError(abcc.ObjNetwork, 1, abcc.NwIaNwType, abcc.ErrUnsupInst)
	assert.Nil(t, b.setup.Start())
	b.pump()
	assert.Equal(t, 0, b.userInit)
	assert.Equal(t, []abcc.ErrorCode{abcc.RespMsgEBitSet, abcc.SetupFailed}, b.codes)
	assert.EqualValues(t, 0x0403, b.setup.ModuleType())
	assert.EqualValues(t, 0xFFFF, b.setup.NetworkType())
	assert.Empty(t, b.module.Mappings())
}

func TestFatalLogCleared(t *testing.T) {
	b := newBench(t, Config{GetFatalLog: true, ClearFatalLog: true})
	fatal := make([]byte, 42)
	fatal[6], fatal[7] = 2, 1
	b.module.SetAttribute(abcc.ObjAnybus, 1, abcc.AnbIaFatalEvent, fatal)
	assert.Nil(t, b.setup.Start())
	b.pump()
	assert.Equal(t, 1, b.userInit)
	assert.Equal(t, fatal, b.setup.FatalLog())
	assert.Equal(t, make([]byte, 42), b.module.Attribute(abcc.ObjAnybus, 1, abcc.AnbIaFatalEvent))
	commands := b.module.Commands()
	assert.Equal(t, abcc.CmdGetAttribute, commands[0].Command())
	assert.Equal(t, abcc.CmdSetAttribute, commands[1].Command())
	assert.Equal(t, abcc.AnbIaFatalEvent, commands[1].CmdExt0)
}

func TestFatalLogEmptyNotCleared(t *testing.T) {
	b := newBench(t, Config{GetFatalLog: true, ClearFatalLog: true})
	assert.Nil(t, b.setup.Start())
	b.pump()
	assert.Equal(t, 1, b.userInit)
	commands := b.module.Commands()
	assert.Equal(t, abcc.AnbIaFatalEvent, commands[0].CmdExt0)
	assert.Equal(t, abcc.NwIaDataFormat, commands[1].CmdExt0)
}

func TestFatalLogBadSizeAborts(t *testing.T) {
	b := newBench(t, Config{GetFatalLog: true})
	b.module.SetAttribute(abcc.ObjAnybus, 1, abcc.AnbIaFatalEvent, make([]byte, 10))
	assert.Nil(t, b.setup.Start())
	b.pump()
	assert.Equal(t, 0, b.userInit)
	assert.Nil(t, b.setup.FatalLog())
	assert.Contains(t, b.codes, abcc.SetupFailed)
}

func TestUnknownEndian(t *testing.T) {
	b := newBench(t, Config{})
	b.module.SetAttribute(abcc.ObjNetwork, 1, abcc.NwIaDataFormat, []byte{5})
	assert.Nil(t, b.setup.Start())
	b.pump()
	assert.Equal(t, abcc.NetUnknown, b.setup.NetFormat())
	assert.Contains(t, b.codes, abcc.UnknownEndian)
	// Setup still goes on
	assert.Equal(t, 1, b.userInit)
}

func TestFillMapCommandStruct(t *testing.T) {
	msg := abcc.NewMessage(32)
	bits := fillMapCommand(msg, &testAdis[2], abcc.MapEntry{Instance: 10, NumElements: 1, ElementStart: 1})
	assert.EqualValues(t, 2, bits)
	assert.EqualValues(t, []byte{10, 0, 2, 1, 1, 1, abcc.TypeBit1 + 1}, msg.Payload())

	bits = fillMapCommand(msg, nil, abcc.MapEntry{Instance: abcc.MapPadAdi, NumElements: 3})
	assert.EqualValues(t, 3, bits)
	assert.EqualValues(t, []byte{0, 0, 3, 0, 3, 1, abcc.TypePad1}, msg.Payload())

	bits = fillMapCommand(msg, &testAdis[1], abcc.MapEntry{Instance: 2, NumElements: 2, ElementStart: 1})
	assert.EqualValues(t, 16, bits)
	assert.EqualValues(t, []byte{2, 0, 4, 1, 2, 1, abcc.TypeUint8}, msg.Payload())
}
