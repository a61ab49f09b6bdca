package setup

import (
	"sync"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/cmdseq"
	"github.com/samsamfire/goabcc/pkg/memory"
)

// Valid fatal log sizes (ABCC30 and ABCC40)
const (
	fatalLogSizeAbcc30 = 40
	fatalLogSizeAbcc40 = 42
)

// Host is what the setup needs from the driver
type Host interface {
	NewSourceId() uint8
	// SetPdSize is called when the module accepted the setup
	SetPdSize(readSize uint16, writeSize uint16)
}

// AdiMappingFunc returns the ADIs of the application and the default
// process data map. A nil map means no default mapping.
type AdiMappingFunc func() ([]abcc.AdiEntry, []abcc.MapEntry)

type Config struct {
	// Read the fatal log of the module before the setup
	GetFatalLog bool
	// Clear a recorded fatal log, needs GetFatalLog
	ClearFatalLog bool
	AdiMappingReq AdiMappingFunc
	// UserInitReq is called once the mapping is done. The application
	// answers with [Setup.UserInitComplete].
	UserInitReq func()
	// Done is called when the after user init sequence ends
	Done func(result cmdseq.Result)
}

// Setup brings the module from the SETUP state to a configured process
// data map using two command sequences, split by the user init.
type Setup struct {
	mu        sync.Mutex
	logger    *abcc.Logger
	sequencer *cmdseq.Sequencer
	host      Host
	config    Config

	fwVersion           abcc.FwVersion
	moduleType          uint16
	networkType         uint16
	netFormat           abcc.NetFormat
	paramSupport        abcc.ParameterSupport
	firstCommandPending bool
	fatalLog            []byte
	clearFatalLog       bool

	adis       []abcc.AdiEntry
	defaultMap []abcc.MapEntry
	mapIndex   int
	rdPdBits   uint16
	wrPdBits   uint16
	rdPdSize   uint16
	wrPdSize   uint16
}

func NewSetup(sequencer *cmdseq.Sequencer, host Host, config Config, logger *abcc.Logger) *Setup {
	if logger == nil {
		logger = abcc.NewLogger("SETUP")
	}
	s := &Setup{logger: logger, sequencer: sequencer, host: host, config: config}
	s.Init()
	return s
}

// Init sets every value read from the module back to its sentinel
func (s *Setup) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fwVersion = abcc.FwVersion{Major: 0xFF, Minor: 0xFF, Build: 0xFF}
	s.moduleType = 0xFFFF
	s.networkType = 0xFFFF
	s.netFormat = abcc.NetUnknown
	s.paramSupport = abcc.ParameterUnknown
	s.fatalLog = nil
	s.clearFatalLog = false
	s.adis = nil
	s.defaultMap = nil
	s.mapIndex = 0
	s.rdPdBits, s.wrPdBits = 0, 0
	s.rdPdSize, s.wrPdSize = 0, 0
}

// Start runs the sequence up to the user init request
func (s *Setup) Start() error {
	s.mu.Lock()
	s.firstCommandPending = true
	s.mu.Unlock()
	_, err := s.sequencer.Add(s.beforeUserInit(), s.triggerUserInit, nil)
	return err
}

// UserInitComplete runs the sequence that ends the setup
func (s *Setup) UserInitComplete() error {
	_, err := s.sequencer.Add(s.afterUserInit(), s.setupDone, nil)
	return err
}

func (s *Setup) beforeUserInit() cmdseq.Table {
	table := cmdseq.Table{}
	if s.config.GetFatalLog {
		table = append(table, cmdseq.Step{Name: "GetFatalLog", Command: s.getFatalLogCmd, Response: s.getFatalLogResp})
		if s.config.ClearFatalLog {
			table = append(table, cmdseq.Step{Name: "ClearFatalLog", Command: s.clearFatalLogCmd})
		}
	}
	return append(table,
		cmdseq.Step{Name: "DataFormat", Command: s.dataFormatCmd, Response: s.dataFormatResp},
		cmdseq.Step{Name: "ParamSupport", Command: s.paramSupportCmd, Response: s.paramSupportResp},
		cmdseq.Step{Name: "ModuleType", Command: s.moduleTypeCmd, Response: s.moduleTypeResp},
		cmdseq.Step{Name: "NetworkType", Command: s.networkTypeCmd, Response: s.networkTypeResp},
		cmdseq.Step{Name: "FirmwareVersion", Command: s.firmwareVersionCmd, Response: s.firmwareVersionResp},
		cmdseq.Step{Name: "PreparePdMapping", Command: s.preparePdMapping},
		cmdseq.Step{Name: "ReadWriteMap", Command: s.readWriteMapCmd, Response: s.readWriteMapResp},
	)
}

func (s *Setup) afterUserInit() cmdseq.Table {
	return cmdseq.Table{
		{Name: "RdPdSize", Command: s.rdPdSizeCmd, Response: s.rdPdSizeResp},
		{Name: "WrPdSize", Command: s.wrPdSizeCmd, Response: s.wrPdSizeResp},
		{Name: "SetupComplete", Command: s.setupCompleteCmd, Response: s.setupCompleteResp},
	}
}

// verify warns about error responses, the sequence is aborted on false
func (s *Setup) verify(buf memory.Buffer) bool {
	if buf.Verify() != nil {
		s.logger.Warning(abcc.RespMsgEBitSet, uint32(buf.ErrorCode()), "unexpected error response %v (%v)", uint8(buf.ErrorCode()), buf.ErrorCode())
		return false
	}
	return true
}

func (s *Setup) getAttribute(buf memory.Buffer, obj uint8, attribute uint8) cmdseq.CmdStatus {
	buf.GetAttribute(obj, 1, attribute, s.host.NewSourceId())
	return cmdseq.CmdSend
}

func (s *Setup) getFatalLogCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	return s.getAttribute(buf, abcc.ObjAnybus, abcc.AnbIaFatalEvent)
}

func (s *Setup) getFatalLogResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	log := append([]byte(nil), buf.Payload()...)
	s.logger.Info("fatal log : %x", log)
	if len(log) != fatalLogSizeAbcc30 && len(log) != fatalLogSizeAbcc40 {
		return cmdseq.RespAbort
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatalLog = log
	// A recorded event has a non zero firmware revision
	s.clearFatalLog = log[6] != 0 && log[7] != 0
	return cmdseq.RespExecNext
}

func (s *Setup) clearFatalLogCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	s.mu.Lock()
	clearLog := s.clearFatalLog
	s.mu.Unlock()
	if !clearLog {
		return cmdseq.CmdSkip
	}
	buf.SetByteAttribute(abcc.ObjAnybus, 1, abcc.AnbIaFatalEvent, 0, s.host.NewSourceId())
	return cmdseq.CmdSend
}

func (s *Setup) dataFormatCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	return s.getAttribute(buf, abcc.ObjNetwork, abcc.NwIaDataFormat)
}

func (s *Setup) dataFormatResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	format, _ := buf.Data8(0)
	s.mu.Lock()
	s.firstCommandPending = false
	switch format {
	case abcc.NwDataFormatLsbFirst:
		s.netFormat = abcc.NetLittleEndian
	case abcc.NwDataFormatMsbFirst:
		s.netFormat = abcc.NetBigEndian
	}
	netFormat := s.netFormat
	s.mu.Unlock()
	if netFormat == abcc.NetUnknown {
		s.logger.Error(abcc.UnknownEndian, uint32(format), "unknown endian %v", format)
	}
	s.logger.Info("data format : %v", netFormat)
	return cmdseq.RespExecNext
}

func (s *Setup) paramSupportCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	return s.getAttribute(buf, abcc.ObjNetwork, abcc.NwIaParamSupport)
}

func (s *Setup) paramSupportResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	support, _ := buf.Data8(0)
	s.mu.Lock()
	if support == 0 {
		s.paramSupport = abcc.NotParameterSupport
	} else {
		s.paramSupport = abcc.ParamSupport
	}
	s.mu.Unlock()
	s.logger.Info("parameter support : %v", support != 0)
	return cmdseq.RespExecNext
}

func (s *Setup) moduleTypeCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	return s.getAttribute(buf, abcc.ObjAnybus, abcc.AnbIaModuleType)
}

func (s *Setup) moduleTypeResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	moduleType, _ := buf.Data16(0)
	s.mu.Lock()
	s.moduleType = moduleType
	s.mu.Unlock()
	s.logger.Info("module type : x%x", moduleType)
	return cmdseq.RespExecNext
}

func (s *Setup) networkTypeCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	return s.getAttribute(buf, abcc.ObjNetwork, abcc.NwIaNwType)
}

func (s *Setup) networkTypeResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	networkType, _ := buf.Data16(0)
	s.mu.Lock()
	s.networkType = networkType
	s.mu.Unlock()
	s.logger.Info("network type : x%x", networkType)
	return cmdseq.RespExecNext
}

func (s *Setup) firmwareVersionCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	return s.getAttribute(buf, abcc.ObjAnybus, abcc.AnbIaFwVersion)
}

func (s *Setup) firmwareVersionResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	var version abcc.FwVersion
	version.Major, _ = buf.Data8(0)
	version.Minor, _ = buf.Data8(1)
	version.Build, _ = buf.Data8(2)
	s.mu.Lock()
	s.fwVersion = version
	s.mu.Unlock()
	s.logger.Info("firmware version : %v.%v.%v", version.Major, version.Minor, version.Build)
	return cmdseq.RespExecNext
}

// preparePdMapping fetches the application ADIs, nothing is sent
func (s *Setup) preparePdMapping(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	var adis []abcc.AdiEntry
	var defaultMap []abcc.MapEntry
	if s.config.AdiMappingReq != nil {
		adis, defaultMap = s.config.AdiMappingReq()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adis = adis
	s.defaultMap = defaultMap
	s.mapIndex = 0
	return cmdseq.CmdSkip
}

// readWriteMapCmd builds one extended map command per default map entry
func (s *Setup) readWriteMapCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	s.mu.Lock()
	if s.adis == nil || s.mapIndex >= len(s.defaultMap) {
		s.mu.Unlock()
		return cmdseq.CmdSkip
	}
	entry := s.defaultMap[s.mapIndex]
	var adi *abcc.AdiEntry
	if entry.Instance != abcc.MapPadAdi {
		index := abcc.FindAdi(s.adis, entry.Instance)
		if index < 0 {
			s.mu.Unlock()
			s.logger.Error(abcc.DefaultMapErr, uint32(entry.Instance), "error in default map, instance %v doesn't exist", entry.Instance)
			return cmdseq.CmdAbort
		}
		adi = &s.adis[index]
	}
	s.mu.Unlock()

	// Command extension 0 is the number of mapping items
	command := abcc.NwCmdMapAdiWriteExtArea
	if entry.Direction == abcc.DirectionRead {
		command = abcc.NwCmdMapAdiReadExtArea
	}
	buf.SetHeader(abcc.ObjNetwork, 1, 1, command, 0, s.host.NewSourceId())
	bits := fillMapCommand(buf.Message, adi, entry)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Direction == abcc.DirectionRead {
		s.rdPdBits += bits
		s.rdPdSize = (s.rdPdBits + 7) / 8
	} else {
		s.wrPdBits += bits
		s.wrPdSize = (s.wrPdBits + 7) / 8
	}
	s.mapIndex++
	return cmdseq.CmdSend
}

// fillMapCommand writes the payload of an extended map command and
// returns the number of mapped bits. adi is nil for pad entries.
func fillMapCommand(msg *abcc.Message, adi *abcc.AdiEntry, entry abcc.MapEntry) uint16 {
	if adi == nil {
		writeMapPayload(msg, 0, entry.NumElements, 0, entry.NumElements, []uint8{abcc.TypePad1})
		return uint16(entry.NumElements)
	}
	numElem, start := entry.NumElements, entry.ElementStart
	if numElem == abcc.MapAllElements {
		numElem, start = adi.NumElements, 0
	}
	types := []uint8{adi.DataType}
	if len(adi.Struct) > 0 {
		types = make([]uint8, 0, numElem)
		for i := int(start); i < int(start)+int(numElem) && i < len(adi.Struct); i++ {
			types = append(types, adi.Struct[i].DataType)
		}
	}
	writeMapPayload(msg, adi.Instance, adi.NumElements, start, numElem, types)
	return adi.MapSizeInBits(numElem, start)
}

func writeMapPayload(msg *abcc.Message, instance uint16, total uint8, start uint8, numElem uint8, types []uint8) {
	_ = msg.SetData16(instance, 0)
	_ = msg.SetData8(total, 2)
	_ = msg.SetData8(start, 3)
	_ = msg.SetData8(numElem, 4)
	_ = msg.SetData8(uint8(len(types)), 5)
	for i, dataType := range types {
		_ = msg.SetData8(dataType, 6+i)
	}
	msg.DataSize = uint16(6 + len(types))
}

func (s *Setup) readWriteMapResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapIndex >= len(s.defaultMap) {
		return cmdseq.RespExecNext
	}
	return cmdseq.RespExecCurrent
}

func (s *Setup) triggerUserInit(result cmdseq.Result, ctx any) {
	if result != cmdseq.ResultCompleted {
		s.logger.Warning(abcc.SetupFailed, uint32(result), "setup before user init ended : %v", result)
		return
	}
	readSize, writeSize := s.PdSize()
	s.logger.Info("mapped pd size, rdpd %v wrpd %v", readSize, writeSize)
	if s.config.UserInitReq != nil {
		s.config.UserInitReq()
	}
}

func (s *Setup) rdPdSizeCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	return s.getAttribute(buf, abcc.ObjNetwork, abcc.NwIaReadPdSize)
}

func (s *Setup) rdPdSizeResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	return s.pdSizeResp(buf, abcc.DirectionRead)
}

func (s *Setup) wrPdSizeCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	return s.getAttribute(buf, abcc.ObjNetwork, abcc.NwIaWritePdSize)
}

func (s *Setup) wrPdSizeResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	return s.pdSizeResp(buf, abcc.DirectionWrite)
}

// pdSizeResp takes the module size without a default map, otherwise both
// sizes have to match
func (s *Setup) pdSizeResp(buf memory.Buffer, direction abcc.Direction) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	size, _ := buf.Data16(0)
	s.mu.Lock()
	local := &s.wrPdSize
	name := "write"
	if direction == abcc.DirectionRead {
		local = &s.rdPdSize
		name = "read"
	}
	if s.defaultMap == nil {
		*local = size
		s.mu.Unlock()
		return cmdseq.RespExecNext
	}
	driverSize := *local
	s.mu.Unlock()
	if driverSize != size {
		s.logger.Error(abcc.PdSizeMismatch, uint32(size), "%v pd size mismatch, module : %v driver : %v", name, size, driverSize)
		return cmdseq.RespAbort
	}
	return cmdseq.RespExecNext
}

func (s *Setup) setupCompleteCmd(buf memory.Buffer, ctx any) cmdseq.CmdStatus {
	buf.SetByteAttribute(abcc.ObjAnybus, 1, abcc.AnbIaSetupComplete, 1, s.host.NewSourceId())
	return cmdseq.CmdSend
}

func (s *Setup) setupCompleteResp(buf memory.Buffer, ctx any) cmdseq.RespStatus {
	if !s.verify(buf) {
		return cmdseq.RespAbort
	}
	readSize, writeSize := s.PdSize()
	s.host.SetPdSize(readSize, writeSize)
	s.logger.Info("setup complete")
	return cmdseq.RespExecNext
}

func (s *Setup) setupDone(result cmdseq.Result, ctx any) {
	if result == cmdseq.ResultCompleted {
		readSize, writeSize := s.PdSize()
		s.logger.Info("mapped pd size, rdpd %v wrpd %v", readSize, writeSize)
	} else {
		s.logger.Warning(abcc.SetupFailed, uint32(result), "setup ended : %v, pd mapping can be incomplete", result)
	}
	if s.config.Done != nil {
		s.config.Done(result)
	}
}

func (s *Setup) FirmwareVersion() abcc.FwVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fwVersion
}

func (s *Setup) ModuleType() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moduleType
}

func (s *Setup) NetworkType() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkType
}

func (s *Setup) NetFormat() abcc.NetFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netFormat
}

func (s *Setup) ParameterSupport() abcc.ParameterSupport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paramSupport
}

// IsFirstCommandPending is true from [Setup.Start] until the response
// to the first command was received
func (s *Setup) IsFirstCommandPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstCommandPending
}

// FatalLog returns the fatal log read during setup, if enabled
func (s *Setup) FatalLog() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalLog
}

// PdSize returns the process data sizes in bytes
func (s *Setup) PdSize() (readSize uint16, writeSize uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rdPdSize, s.wrPdSize
}
