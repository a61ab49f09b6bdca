package driver

import (
	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/cmdseq"
	"github.com/samsamfire/goabcc/pkg/memory"
	"github.com/samsamfire/goabcc/pkg/segmentation"
	"github.com/samsamfire/goabcc/pkg/setup"
	"github.com/samsamfire/goabcc/pkg/timer"
)

const (
	DefaultStartupTimeMs  = 1500
	DefaultMaxApplCmds    = 2
	DefaultMaxAbccCmds    = 2
	DefaultFwUpdateTimeMs = 10000
)

// Config is the driver configuration. Zero values are replaced by
// their defaults in [NewDriver].
type Config struct {
	// Operating mode, read from the hardware when 0
	OpMode uint8
	// Largest message payload handled by the application
	MaxMsgSize int
	// Time given to the module to signal it is ready
	StartupTimeMs uint32
	// Module watchdog, serial only. 0 selects the transport default.
	WdTimeoutMs uint32
	// Serial telegram timeout, 0 selects the default of the baud rate
	TelegramTimeoutMs uint32
	// Time given to a firmware update, see [Driver.WaitForFwUpdate]
	FwUpdateTimeMs uint32
	// Number of commands the application may have in flight
	MaxApplCmds int
	// Number of commands the module may have in flight
	MaxAbccCmds int
	MaxCmdSeq   int
	// Warning threshold of the command sequence buffer retries
	CmdSeqMaxRetries uint16
	NumTimers        int
	MaxSegSessions   int
	// Use the module interrupt (SPI and parallel only)
	InterruptEnabled bool
	// Interrupt enable mask written when the module is ready
	IntEnableMaskSpi uint16
	IntEnableMaskPar uint16
	// Interrupts handled inside [Driver.ISR], the others are passed
	// to [Callbacks.Event]
	HandleIntInIsrMask uint16
	// Report [AssumeFwUpdate] instead of [StartupTimeout] once
	AssumeFwUpdate bool
	GetFatalLog    bool
	ClearFatalLog  bool
}

// DefaultConfig returns the configuration used for zero fields
func DefaultConfig() Config {
	return Config{
		MaxMsgSize:       int(abcc.MaxMsgDataBytes),
		StartupTimeMs:    DefaultStartupTimeMs,
		FwUpdateTimeMs:   DefaultFwUpdateTimeMs,
		MaxApplCmds:      DefaultMaxApplCmds,
		MaxAbccCmds:      DefaultMaxAbccCmds,
		MaxCmdSeq:        cmdseq.DefaultMaxInstances,
		CmdSeqMaxRetries: cmdseq.DefaultMaxRetries,
		NumTimers:        timer.DefaultNumTimers,
		MaxSegSessions:   segmentation.DefaultMaxSessions,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxMsgSize <= 0 || c.MaxMsgSize > int(abcc.MaxMsgDataBytes) {
		c.MaxMsgSize = def.MaxMsgSize
	}
	if c.StartupTimeMs == 0 {
		c.StartupTimeMs = def.StartupTimeMs
	}
	if c.FwUpdateTimeMs == 0 {
		c.FwUpdateTimeMs = def.FwUpdateTimeMs
	}
	if c.MaxApplCmds <= 0 {
		c.MaxApplCmds = def.MaxApplCmds
	}
	if c.MaxAbccCmds <= 0 {
		c.MaxAbccCmds = def.MaxAbccCmds
	}
	if c.MaxCmdSeq <= 0 {
		c.MaxCmdSeq = def.MaxCmdSeq
	}
	if c.CmdSeqMaxRetries == 0 {
		c.CmdSeqMaxRetries = def.CmdSeqMaxRetries
	}
	if c.NumTimers <= 0 {
		c.NumTimers = def.NumTimers
	}
	if c.MaxSegSessions <= 0 {
		c.MaxSegSessions = def.MaxSegSessions
	}
	return c
}

// Callbacks are the application hooks of the driver. Nil callbacks are
// skipped.
type Callbacks struct {
	// AdiMappingReq returns the ADIs and the default process data map
	AdiMappingReq setup.AdiMappingFunc
	// UserInitReq is called when the mapping is done. The application
	// performs its own module configuration and then calls
	// [Driver.UserInitComplete]. When nil the driver does it directly.
	UserInitReq func()
	// HandleCommandMessage is called with every command sent by the
	// module. The application answers with [Driver.SendRespMsg] or keeps
	// the buffer with [Driver.TakeMsgBufferOwnership]. When nil the
	// commands are refused.
	HandleCommandMessage func(buf memory.Buffer)
	// UpdateWriteProcessData fills the write process data, returns false
	// if nothing changed
	UpdateWriteProcessData func(data []byte) bool
	NewReadPd              func(data []byte)
	WdTimeout              func()
	WdTimeoutRecovered     func()
	// DriverError is called for every event of warning severity or more
	DriverError     func(severity abcc.Severity, code abcc.ErrorCode, info uint32)
	AnbStateChanged func(state uint8)
	RemapDone       func()
	// Event is called with the EventXxx bits not handled in the ISR
	Event func(events uint16)
	// SetupDone is called when the setup is over
	SetupDone func(result cmdseq.Result)
}
