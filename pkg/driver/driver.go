// Package driver is the entry point of the ABCC host driver. It selects
// the run order matching the operating mode, detects when the module is
// ready, runs the setup and routes the messages of the module to the
// link layer, the segmentation handler and the application.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/cmdseq"
	"github.com/samsamfire/goabcc/pkg/link"
	"github.com/samsamfire/goabcc/pkg/memory"
	"github.com/samsamfire/goabcc/pkg/segmentation"
	"github.com/samsamfire/goabcc/pkg/setup"
	"github.com/samsamfire/goabcc/pkg/timer"
	"github.com/samsamfire/goabcc/pkg/transport"
)

type family uint8

const (
	familyNone family = iota
	familySerial
	familySpi
	familyParallel
)

// Driver runs the host side of one ABCC module
type Driver struct {
	mu           sync.Mutex
	logger       *abcc.Logger
	config       Config
	callbacks    Callbacks
	transport    transport.Transport
	hardware     transport.Hardware
	timers       *timer.Service
	pool         *memory.Pool
	link         *link.Link
	sequencer    *cmdseq.Sequencer
	segmentation *segmentation.Handler
	setup        *setup.Setup

	state       MainState
	lastError   abcc.ErrorCode
	lastInfo    uint32
	opMode      uint8
	family      family
	channelSize uint16
	intMask     uint16
	anbState    uint8
	appStatus   uint16
	readyTimer  timer.Handle
	ready       bool
	readyTmo    bool
	fwUpdate    bool
	doWrPd      bool
	remapRdSize uint16
	remapWrSize uint16
}

// NewDriver creates a driver using t to talk to the module. hw gives
// access to the module signals, when nil t is used if it implements
// [transport.Hardware], otherwise the module is assumed to be present.
func NewDriver(t transport.Transport, hw transport.Hardware, config Config, callbacks Callbacks) (*Driver, error) {
	if t == nil {
		return nil, abcc.ErrIllegalArgument
	}
	if hw == nil {
		if thw, ok := t.(transport.Hardware); ok {
			hw = thw
		} else {
			hw = &noHardware{opMode: config.OpMode}
		}
	}
	config = config.withDefaults()
	logger := abcc.NewLogger("DRV")
	d := &Driver{
		logger:     logger,
		config:     config,
		callbacks:  callbacks,
		transport:  t,
		hardware:   hw,
		anbState:   0xFF,
		readyTimer: timer.NoHandle,
	}
	logger.AddHandler(d.handleEvent)

	d.timers = timer.NewService(config.NumTimers, logger.With("TIMER"))
	// Buffers can hold any message of the channel, larger commands than
	// the configured size are refused when received.
	d.pool = memory.NewPool(config.MaxApplCmds+config.MaxAbccCmds, int(abcc.MaxMsgDataBytes), logger.With("MEM"))
	d.link = link.NewLink(d.pool, t, config.MaxApplCmds, config.MaxAbccCmds, logger.With("LINK"))
	d.sequencer = cmdseq.NewSequencer(d.link, config.MaxCmdSeq, config.CmdSeqMaxRetries, logger.With("CMDSEQ"))
	d.segmentation = segmentation.NewHandler(d.link, config.MaxSegSessions, config.MaxMsgSize, logger.With("SEG"))
	d.setup = setup.NewSetup(d.sequencer, d, setup.Config{
		GetFatalLog:   config.GetFatalLog,
		ClearFatalLog: config.ClearFatalLog,
		AdiMappingReq: callbacks.AdiMappingReq,
		UserInitReq:   d.userInitReq,
		Done:          d.setupDone,
	}, logger.With("SETUP"))
	return d, nil
}

// Logger returns the logger shared by every component of the driver.
// Handlers added to it are called for every warning or error.
func (d *Driver) Logger() *abcc.Logger {
	return d.logger
}

func (d *Driver) setState(state MainState) {
	d.mu.Lock()
	previous := d.state
	d.state = state
	d.mu.Unlock()
	if previous != state {
		d.logger.Info("driver main state : %v", state)
	}
}

func (d *Driver) State() MainState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastError returns the error that put the driver in [StateError]
func (d *Driver) LastError() (abcc.ErrorCode, uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError, d.lastInfo
}

// handleEvent is registered on the shared logger. Errors stop the
// driver, fatal events panic in the logger after this returns.
func (d *Driver) handleEvent(severity abcc.Severity, code abcc.ErrorCode, info uint32) {
	if severity == abcc.SeverityError {
		d.mu.Lock()
		d.lastError = code
		d.lastInfo = info
		d.mu.Unlock()
		d.setState(StateError)
	}
	if d.callbacks.DriverError != nil {
		d.callbacks.DriverError(severity, code, info)
	}
}

// HwInit initializes the hardware, the module is left in reset
func (d *Driver) HwInit() error {
	if err := d.hardware.HwInit(); err != nil {
		d.logger.Warning(abcc.HwInitFailed, 0, "hardware init failed : %v", err)
		return fmt.Errorf("%w : %v", abcc.HwInitFailed, err)
	}
	return nil
}

// HwReset shuts the driver down and holds the module in reset
func (d *Driver) HwReset() {
	d.logger.Info("hardware reset")
	d.Shutdown()
	d.hardware.HwReset()
}

func (d *Driver) HwReleaseReset() {
	d.logger.Info("release hardware reset")
	d.hardware.HwReleaseReset()
}

// StartDriver initializes every component and waits for the module to
// be ready for at most maxStartupMs (the configured startup time if 0).
// The module is expected to be released from reset right after.
func (d *Driver) StartDriver(maxStartupMs uint32) error {
	if maxStartupMs == 0 {
		maxStartupMs = d.config.StartupTimeMs
	}
	moduleId := d.hardware.ReadModuleId()
	if moduleId != abcc.ModuleIdActiveAbcc40 {
		d.logger.Error(abcc.ModuleIdNotSupported, uint32(moduleId), "module id not supported : x%x", moduleId)
		return abcc.ModuleIdNotSupported
	}

	opMode := d.config.OpMode
	if opMode == 0 {
		opMode = d.hardware.OpMode()
	}
	var fam family
	var channelSize, intMask uint16
	switch {
	case abcc.IsSerialOpMode(opMode):
		fam, channelSize, intMask = familySerial, abcc.MaxMsg255DataBytes, 0
	case opMode == abcc.OpModeSpi:
		fam, channelSize, intMask = familySpi, abcc.MaxMsgDataBytes, d.config.IntEnableMaskSpi
	case opMode == abcc.OpMode8BitParallel || opMode == abcc.OpMode16BitParallel:
		fam, channelSize = familyParallel, abcc.MaxMsgDataBytes
		if d.config.InterruptEnabled {
			intMask = d.config.IntEnableMaskPar
		}
	default:
		d.logger.Error(abcc.IncorrectOperatingMode, uint32(opMode), "incorrect operating mode : %v", opMode)
		return abcc.IncorrectOperatingMode
	}

	state := d.State()
	if state != StateInit && state != StateShutdown {
		d.logger.Error(abcc.IncorrectState, uint32(state), "incorrect state : %v", state)
		return abcc.IncorrectState
	}

	d.mu.Lock()
	d.opMode = opMode
	d.family = fam
	d.channelSize = channelSize
	d.intMask = intMask
	d.mu.Unlock()

	d.timers.Init()
	err := d.transport.Init(opMode, transport.Env{
		Logger:             d.logger,
		Timers:             d.timers,
		MaxMsgSize:         d.MaxMessageSize(),
		WdTimeoutMs:        d.config.WdTimeoutMs,
		TelegramTimeoutMs:  d.config.TelegramTimeoutMs,
		WdTimeout:          d.wdTimeout,
		WdTimeoutRecovered: d.wdTimeoutRecovered,
		ReadRemapDone:      d.readRemapDone,
	})
	if err != nil {
		return fmt.Errorf("%w : transport init : %v", abcc.InternalError, err)
	}
	d.pool.Reset()
	d.link.Init()
	d.link.SetMaxMessageSize(d.MaxMessageSize())
	d.sequencer.Init()
	d.setup.Init()
	d.segmentation.Init()
	d.segmentation.SetSegmentSize(d.MaxMessageSize())

	readyTimer, err := d.timers.Create(d.readyForCommunicationTmo)
	if err != nil {
		return fmt.Errorf("%w : startup timer : %v", abcc.InternalError, err)
	}

	if !d.hardware.ModuleDetect() {
		d.logger.Error(abcc.ModuleNotDetected, 0, "module not detected")
		return abcc.ModuleNotDetected
	}

	d.mu.Lock()
	d.anbState = 0xFF
	d.readyTimer = readyTimer
	d.ready = false
	d.readyTmo = false
	d.fwUpdate = false
	d.doWrPd = false
	d.mu.Unlock()

	if d.isInterruptInUse() {
		d.hardware.InterruptEnable()
	}
	d.setState(StateWaitCommunicationRdy)
	d.timers.Start(readyTimer, maxStartupMs)
	d.logger.Info("driver started, operating mode %v, max message size %v", abcc.OpModeMap[opMode], d.MaxMessageSize())
	return nil
}

// WaitForFwUpdate restarts the wait for the module after a startup
// timeout, giving it timeoutMs (the configured time if 0) to finish a
// firmware update. It can be used once per [Driver.StartDriver].
func (d *Driver) WaitForFwUpdate(timeoutMs uint32) bool {
	if timeoutMs == 0 {
		timeoutMs = d.config.FwUpdateTimeMs
	}
	d.mu.Lock()
	if d.fwUpdate {
		d.mu.Unlock()
		return false
	}
	d.fwUpdate = true
	d.ready = false
	d.readyTmo = false
	handle := d.readyTimer
	d.mu.Unlock()

	d.logger.Info("waiting %v ms for a firmware update", timeoutMs)
	d.setState(StateWaitCommunicationRdy)
	_ = d.sequencer.Abort(cmdseq.Handle{})
	d.timers.Start(handle, timeoutMs)
	return true
}

func (d *Driver) readyForCommunicationTmo() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyTmo = true
}

// SetReadyForCommunication signals the module is ready, for
// applications watching the interrupt line themselves
func (d *Driver) SetReadyForCommunication() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = true
}

func (d *Driver) isInterruptInUse() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config.InterruptEnabled && (d.family == familySpi || d.family == familyParallel)
}

// IsReadyForCommunication is polled after [Driver.StartDriver] until the
// module is ready. Without interrupt the module is considered ready once
// the startup time has elapsed. When ready, the setup is started.
func (d *Driver) IsReadyForCommunication() CommunicationState {
	state := d.State()
	if state > StateWaitCommunicationRdy {
		return ReadyForCommunication
	}
	if state < StateWaitCommunicationRdy {
		return NotReadyForCommunication
	}
	interrupt := d.isInterruptInUse()

	d.mu.Lock()
	if d.readyTmo {
		if interrupt {
			fwUpdate := d.fwUpdate
			d.mu.Unlock()
			if d.config.AssumeFwUpdate && !fwUpdate {
				return AssumeFwUpdate
			}
			return StartupTimeout
		}
		d.ready = true
	}
	ready := d.ready
	intMask := d.intMask
	readyTimer := d.readyTimer
	d.mu.Unlock()

	if !ready {
		return NotReadyForCommunication
	}
	d.timers.Stop(readyTimer)
	d.transport.SetIntMask(intMask)
	d.setState(StateSetup)
	d.transport.SetNbrOfCmds(uint8(d.config.MaxApplCmds))
	if err := d.setup.Start(); err != nil {
		d.logger.Warning(abcc.SetupFailed, 0, "failed to start setup : %v", err)
	}
	return ReadyForCommunication
}

func (d *Driver) userInitReq() {
	if d.callbacks.UserInitReq != nil {
		d.callbacks.UserInitReq()
		return
	}
	if err := d.UserInitComplete(); err != nil {
		d.logger.Warning(abcc.SetupFailed, 0, "failed to end setup : %v", err)
	}
}

// UserInitComplete ends the setup, called by the application once
// [Callbacks.UserInitReq] has been served
func (d *Driver) UserInitComplete() error {
	return d.setup.UserInitComplete()
}

func (d *Driver) setupDone(result cmdseq.Result) {
	if result == cmdseq.ResultCompleted && d.State() == StateSetup {
		d.setState(StateRunning)
	}
	if d.callbacks.SetupDone != nil {
		d.callbacks.SetupDone(result)
	}
}

// NewSourceId returns a source id that is not used by any pending
// command. It also makes the driver the setup host.
func (d *Driver) NewSourceId() uint8 {
	return d.link.NewSourceId()
}

// GetNewSourceId is an alias of [Driver.NewSourceId]
func (d *Driver) GetNewSourceId() uint8 {
	return d.link.NewSourceId()
}

// SetPdSize applies new process data sizes to the transport
func (d *Driver) SetPdSize(readSize uint16, writeSize uint16) {
	d.logger.Info("new process data sizes RdPd %v WrPd %v", readSize, writeSize)
	d.transport.SetPdSize(readSize, writeSize)
}

func (d *Driver) wdTimeout() {
	d.logger.Info("module watchdog timeout")
	if d.callbacks.WdTimeout != nil {
		d.callbacks.WdTimeout()
	}
}

func (d *Driver) wdTimeoutRecovered() {
	d.logger.Info("module watchdog recovered")
	if d.callbacks.WdTimeoutRecovered != nil {
		d.callbacks.WdTimeoutRecovered()
	}
}

func (d *Driver) readRemapDone() {
	d.logger.Debug("read area remap response sent")
}

// RunDriver runs one cycle of the driver. It returns the stored error
// once the driver is in [StateError].
func (d *Driver) RunDriver() error {
	state := d.State()
	if state == StateError {
		return d.stoppedErr()
	}
	if state < StateSetup {
		d.logger.Error(abcc.IncorrectState, uint32(state), "RunDriver called in incorrect state %v", state)
		return d.stoppedErr()
	}
	d.mu.Lock()
	fam := d.family
	d.mu.Unlock()
	switch fam {
	case familySerial:
		d.runSerial()
	case familySpi:
		d.runSpi()
	case familyParallel:
		d.runParallel()
	}
	if d.State() == StateError {
		return d.stoppedErr()
	}
	return nil
}

func (d *Driver) stoppedErr() error {
	code, _ := d.LastError()
	return code
}

func (d *Driver) runSerial() {
	d.link.RunDriverRx(d.transport.RunRx())
	d.TriggerRdPdUpdate()
	d.TriggerAnbStatusUpdate()
	d.TriggerReceiveMessage()
	d.sequencer.Exec()
	d.checkWrPdUpdate()
	d.link.CheckSendMessage()
	d.transport.RunTx()
}

func (d *Driver) runSpi() {
	d.checkWrPdUpdate()
	d.link.CheckSendMessage()
	d.transport.RunTx()
	d.link.RunDriverRx(d.transport.RunRx())
	d.TriggerRdPdUpdate()
	d.TriggerAnbStatusUpdate()
	d.TriggerReceiveMessage()
	d.sequencer.Exec()
}

// runParallel polls what is not signaled by an interrupt
func (d *Driver) runParallel() {
	d.mu.Lock()
	mask := d.intMask
	d.mu.Unlock()
	if mask&(abcc.IntMaskWrMsgIen|abcc.IntMaskAnbrIen) == 0 {
		d.link.CheckSendMessage()
	}
	if mask&abcc.IntMaskRdPdIen == 0 {
		d.TriggerRdPdUpdate()
	}
	if mask&abcc.IntMaskStatusIen == 0 {
		d.TriggerAnbStatusUpdate()
	}
	if mask&abcc.IntMaskRdMsgIen == 0 {
		d.TriggerReceiveMessage()
	}
	d.sequencer.Exec()
}

// ISR is called on module interrupt
func (d *Driver) ISR() {
	d.mu.Lock()
	fam, opMode := d.family, d.opMode
	d.mu.Unlock()
	switch fam {
	case familySpi:
		d.isrSpi()
	case familyParallel:
		d.isrParallel()
	default:
		d.logger.Warning(abcc.InternalError, uint32(opMode), "ISR called without interrupt support")
	}
}

func (d *Driver) isrSpi() {
	state := d.State()
	if state < StateWaitCommunicationRdy {
		return
	}
	if state == StateWaitCommunicationRdy {
		d.SetReadyForCommunication()
		return
	}
	if d.callbacks.Event != nil {
		d.callbacks.Event(0)
	}
}

func (d *Driver) isrParallel() {
	status := d.transport.ISR()
	state := d.State()
	if state < StateWaitCommunicationRdy {
		return
	}
	if state == StateWaitCommunicationRdy {
		d.SetReadyForCommunication()
		return
	}
	inIsr := status & d.config.HandleIntInIsrMask
	if inIsr&transport.IntStatusRdPd != 0 {
		d.TriggerRdPdUpdate()
	}
	if inIsr&transport.IntStatusStatus != 0 {
		d.TriggerAnbStatusUpdate()
	}
	if inIsr&transport.IntStatusRdMsg != 0 {
		d.TriggerReceiveMessage()
	}
	if inIsr&(transport.IntStatusWrMsg|transport.IntStatusAnbr) != 0 {
		d.link.CheckSendMessage()
	}
	events := isrEvents(status &^ d.config.HandleIntInIsrMask)
	if events != 0 && d.callbacks.Event != nil {
		d.callbacks.Event(events)
	}
}

// isrEvents translates interrupt status bits to event bits
func isrEvents(status uint16) uint16 {
	var events uint16
	if status&transport.IntStatusRdPd != 0 {
		events |= EventRdPd
	}
	if status&transport.IntStatusRdMsg != 0 {
		events |= EventRdMsg
	}
	if status&(transport.IntStatusWrMsg|transport.IntStatusAnbr) != 0 {
		events |= EventWrMsg
	}
	if status&transport.IntStatusStatus != 0 {
		events |= EventStatus
	}
	return events
}

// Shutdown stops the driver, [Driver.StartDriver] can be called again
func (d *Driver) Shutdown() {
	d.logger.Info("enter shutdown state")
	d.hardware.InterruptDisable()
	if err := d.transport.Close(); err != nil {
		d.logger.Info("failed to close transport : %v", err)
	}
	d.timers.Disable()
	d.setState(StateShutdown)
}

// Process runs the driver until ctx is done or the driver fails. The
// timers are fed with the elapsed time at every period.
func (d *Driver) Process(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(last).Milliseconds()
			last = now
			if elapsed > 0xFFFF {
				elapsed = 0xFFFF
			}
			d.RunTimerSystem(uint16(elapsed))
		}
		switch d.State() {
		case StateWaitCommunicationRdy:
			switch d.IsReadyForCommunication() {
			case StartupTimeout:
				return abcc.ErrTimeout
			case AssumeFwUpdate:
				d.WaitForFwUpdate(0)
			}
		case StateSetup, StateRunning, StateError:
			if err := d.RunDriver(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("driver not started : %v", d.State())
		}
	}
}

// Triggers

// TriggerRdPdUpdate hands new read process data to the application. It
// is only valid while the module is in PROCESS_ACTIVE.
func (d *Driver) TriggerRdPdUpdate() {
	data := d.transport.ReadProcessData()
	if data == nil {
		return
	}
	if d.transport.AnybusState() == abcc.AnbStateProcessActive && d.callbacks.NewReadPd != nil {
		d.callbacks.NewReadPd(data)
	}
}

// TriggerWrPdUpdate asks the application for new write process data.
// On SPI and serial it is sent at the next cycle, on parallel right away.
func (d *Driver) TriggerWrPdUpdate() {
	d.mu.Lock()
	fam := d.family
	if fam == familySerial || fam == familySpi {
		d.doWrPd = true
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.wrPdUpdateNow()
}

func (d *Driver) checkWrPdUpdate() {
	d.mu.Lock()
	do := d.doWrPd
	d.mu.Unlock()
	if !do || !d.transport.IsReadyForWrPd() {
		return
	}
	d.mu.Lock()
	d.doWrPd = false
	d.mu.Unlock()
	d.wrPdUpdateNow()
}

func (d *Driver) wrPdUpdateNow() {
	if d.State() != StateRunning || d.callbacks.UpdateWriteProcessData == nil {
		return
	}
	buffer := d.transport.WrPdBuffer()
	if d.callbacks.UpdateWriteProcessData(buffer) {
		d.transport.WriteProcessData(buffer)
	}
}

// TriggerAnbStatusUpdate notifies the application of a new anybus state
func (d *Driver) TriggerAnbStatusUpdate() {
	state := d.transport.AnybusState()
	d.mu.Lock()
	changed := state != d.anbState
	d.anbState = state
	d.mu.Unlock()
	if !changed {
		return
	}
	d.logger.Debug("anybus state %v", abcc.AnbStateMap[state])
	if d.callbacks.AnbStateChanged != nil {
		d.callbacks.AnbStateChanged(state)
	}
}

// TriggerTransmitMessage sends the next queued message if possible
func (d *Driver) TriggerTransmitMessage() {
	d.link.CheckSendMessage()
}

// TriggerReceiveMessage reads one message from the module. Commands go
// to the segmentation handler or the application, responses to the
// handler registered for their source id. The buffer is freed unless
// it was kept or sent.
func (d *Driver) TriggerReceiveMessage() {
	buf := d.link.ReadMessage()
	if buf.IsNil() {
		return
	}
	d.pool.SetStatus(buf, memory.StatusInApplHandler)
	maxSize := d.config.MaxMsgSize

	if buf.IsCommand() {
		switch {
		case int(buf.DataSize) > maxSize:
			d.logger.Warning(abcc.RcvCmdSizeExceedsBuffer, uint32(buf.DataSize), "received command size exceeds buffer size : %v", buf.DataSize)
			buf.SetErrorResponse(abcc.ErrNoResources)
			_ = d.SendRespMsg(buf)
		case d.segmentation.HandleSegmentAck(buf):
		case d.callbacks.HandleCommandMessage != nil:
			d.callbacks.HandleCommandMessage(buf)
		default:
			buf.SetErrorResponse(abcc.ErrUnsupObj)
			_ = d.SendRespMsg(buf)
		}
	} else {
		handler := d.link.GetHandler(buf.SourceId)
		switch {
		case int(buf.DataSize) > maxSize:
			d.logger.Warning(abcc.RcvRspSizeExceedsBuffer, uint32(buf.DataSize), "received response size exceeds buffer size : %v", buf.DataSize)
		case handler != nil:
			d.logger.Debug("routing response to handler of source id %v", buf.SourceId)
			handler(buf)
		default:
			d.logger.Debug("no response handler for source id %v", buf.SourceId)
		}
	}

	if d.pool.Status(buf) == memory.StatusInApplHandler {
		d.link.ReturnMsgBuffer(&buf)
	}
}

// Messages

// SendCmdMsg sends a command, handler is called with its response
func (d *Driver) SendCmdMsg(buf memory.Buffer, handler link.ResponseHandler) error {
	return d.link.SendCmdMsg(buf, handler)
}

func (d *Driver) SendRespMsg(buf memory.Buffer) error {
	return d.link.WriteMessage(buf)
}

// SendRemapRespMsg sends the response to a remap command. The new
// process data sizes are applied once the response has been sent.
func (d *Driver) SendRemapRespMsg(buf memory.Buffer, newReadSize uint16, newWriteSize uint16) error {
	d.mu.Lock()
	d.remapRdSize = newReadSize
	d.remapWrSize = newWriteSize
	d.mu.Unlock()
	return d.link.WriteWithNotification(buf, d.remapRespSent)
}

func (d *Driver) remapRespSent() {
	d.mu.Lock()
	readSize, writeSize := d.remapRdSize, d.remapWrSize
	d.mu.Unlock()
	d.SetPdSize(readSize, writeSize)
	if d.callbacks.RemapDone != nil {
		d.callbacks.RemapDone()
	}
}

// StartServerRespSegmentationSession answers req with a payload larger
// than a message, see [segmentation.Handler.StartServerResponse]
func (d *Driver) StartServerRespSegmentationSession(req memory.Buffer, rspCmdExt0 uint8, first []byte, next segmentation.NextBlockFunc, done segmentation.DoneFunc, ctx any) error {
	return d.segmentation.StartServerResponse(req, rspCmdExt0, first, next, done, ctx)
}

// GetCmdMsgBuffer returns a buffer for a command, the zero Buffer if no
// command can be sent right now
func (d *Driver) GetCmdMsgBuffer() memory.Buffer {
	return d.link.GetCmdMsgBuffer()
}

func (d *Driver) ReturnMsgBuffer(buf *memory.Buffer) {
	d.link.ReturnMsgBuffer(buf)
}

// TakeMsgBufferOwnership keeps a received buffer after its handler
// returned. It must be returned with [Driver.ReturnMsgBuffer].
func (d *Driver) TakeMsgBufferOwnership(buf memory.Buffer) {
	d.pool.SetStatus(buf, memory.StatusOwned)
}

// GetCmdQueueSize returns the number of commands that can be sent
func (d *Driver) GetCmdQueueSize() int {
	return d.link.NumCmdQueueEntries()
}

// Status

// SetAppStatus sends the application status when it changed
func (d *Driver) SetAppStatus(status uint16) {
	d.mu.Lock()
	changed := status != d.appStatus
	d.appStatus = status
	d.mu.Unlock()
	if changed {
		d.transport.SetAppStatus(status)
	}
}

func (d *Driver) AppStatus() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appStatus
}

// RunTimerSystem feeds the driver timers with the elapsed time
func (d *Driver) RunTimerSystem(deltaMs uint16) {
	d.timers.Tick(deltaMs)
}

func (d *Driver) UptimeMs() uint64 {
	return d.timers.UptimeMs()
}

func (d *Driver) ModCap() uint16 {
	return d.transport.ModCap()
}

func (d *Driver) LedStatus() uint16 {
	return d.transport.LedStatus()
}

func (d *Driver) AnbState() uint8 {
	return d.transport.AnybusState()
}

func (d *Driver) AnbStatus() uint8 {
	return d.transport.AnbStatus()
}

func (d *Driver) IsSupervised() bool {
	return d.transport.IsSupervised()
}

func (d *Driver) OpMode() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opMode
}

// MessageChannelSize is the message size of the operating mode
func (d *Driver) MessageChannelSize() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channelSize
}

// MaxMessageSize is the smaller of the channel and configured sizes
func (d *Driver) MaxMessageSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelSize > 0 && int(d.channelSize) < d.config.MaxMsgSize {
		return int(d.channelSize)
	}
	return d.config.MaxMsgSize
}

func (d *Driver) FirmwareVersion() abcc.FwVersion {
	return d.setup.FirmwareVersion()
}

func (d *Driver) ModuleType() uint16 {
	return d.setup.ModuleType()
}

func (d *Driver) NetworkType() uint16 {
	return d.setup.NetworkType()
}

func (d *Driver) NetFormat() abcc.NetFormat {
	return d.setup.NetFormat()
}

func (d *Driver) ParameterSupport() abcc.ParameterSupport {
	return d.setup.ParameterSupport()
}

func (d *Driver) IsFirstCommandPending() bool {
	return d.setup.IsFirstCommandPending()
}

// FatalLog returns the fatal log read during setup, if enabled
func (d *Driver) FatalLog() []byte {
	return d.setup.FatalLog()
}

// PdSize returns the process data sizes agreed during setup
func (d *Driver) PdSize() (readSize uint16, writeSize uint16) {
	return d.setup.PdSize()
}

// noHardware is used when the module signals are not connected
type noHardware struct {
	opMode uint8
}

func (h *noHardware) HwInit() error {
	return nil
}

func (h *noHardware) HwReset()          {}
func (h *noHardware) HwReleaseReset()   {}
func (h *noHardware) InterruptEnable()  {}
func (h *noHardware) InterruptDisable() {}

func (h *noHardware) ReadModuleId() uint8 {
	return abcc.ModuleIdActiveAbcc40
}

func (h *noHardware) ModuleDetect() bool {
	return true
}

func (h *noHardware) OpMode() uint8 {
	return h.opMode
}
