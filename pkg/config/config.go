// Package config loads the driver configuration from an ini file and
// the application data instances with their default process data map
// from a yaml file.
package config

import (
	"errors"
	"fmt"
	"io"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/driver"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

var (
	ErrInvalidOpMode     = errors.New("invalid operating mode")
	ErrInvalidMsgSize    = errors.New("invalid message size")
	ErrInvalidResources  = errors.New("invalid resource count")
	ErrInvalidLogLevel   = errors.New("invalid log level")
	ErrClearNeedsGet     = errors.New("clear_fatal_log needs get_fatal_log")
	ErrInvalidSerialPort = errors.New("serial operating mode without port")
)

// Smallest message channel, a serial message fragment
const minMsgSize = 16

type DriverSection struct {
	OpMode        string `ini:"op_mode"`
	MaxMsgSize    int    `ini:"max_msg_size"`
	StartupTimeMs int    `ini:"startup_time_ms"`
	WdTimeoutMs   int    `ini:"wd_timeout_ms"`
	Interrupt     bool   `ini:"interrupt"`
	LogLevel      string `ini:"log_level"`
}

type ResourcesSection struct {
	MaxApplCmds      int `ini:"max_appl_cmds"`
	MaxAbccCmds      int `ini:"max_abcc_cmds"`
	MaxCmdSeq        int `ini:"max_cmd_seq"`
	CmdSeqMaxRetries int `ini:"cmd_seq_max_retries"`
	NumTimers        int `ini:"num_timers"`
	MaxSegSessions   int `ini:"max_seg_sessions"`
}

// SerialSection holds the serial port and the telegram timeouts per
// baud rate
type SerialSection struct {
	Port       string `ini:"port"`
	Tmo19_2Ms  int    `ini:"tmo_19_2_ms"`
	Tmo57_6Ms  int    `ini:"tmo_57_6_ms"`
	Tmo115_2Ms int    `ini:"tmo_115_2_ms"`
	Tmo625Ms   int    `ini:"tmo_625_ms"`
}

type SetupSection struct {
	GetFatalLog   bool `ini:"get_fatal_log"`
	ClearFatalLog bool `ini:"clear_fatal_log"`
}

// DriverConfig is the content of the driver ini file
type DriverConfig struct {
	Driver    DriverSection    `ini:"driver"`
	Resources ResourcesSection `ini:"resources"`
	Serial    SerialSection    `ini:"serial"`
	Setup     SetupSection     `ini:"setup"`
}

// Default returns the configuration used for missing keys
func Default() *DriverConfig {
	def := driver.DefaultConfig()
	return &DriverConfig{
		Driver: DriverSection{
			OpMode:        abcc.OpModeMap[abcc.OpModeSerial115_2],
			MaxMsgSize:    def.MaxMsgSize,
			StartupTimeMs: int(def.StartupTimeMs),
			WdTimeoutMs:   1000,
			LogLevel:      log.InfoLevel.String(),
		},
		Resources: ResourcesSection{
			MaxApplCmds:      def.MaxApplCmds,
			MaxAbccCmds:      def.MaxAbccCmds,
			MaxCmdSeq:        def.MaxCmdSeq,
			CmdSeqMaxRetries: int(def.CmdSeqMaxRetries),
			NumTimers:        def.NumTimers,
			MaxSegSessions:   def.MaxSegSessions,
		},
		Serial: SerialSection{
			Tmo19_2Ms:  350,
			Tmo57_6Ms:  120,
			Tmo115_2Ms: 60,
			Tmo625Ms:   20,
		},
	}
}

// Load an ini configuration, file can be a path, a []byte or an
// io.Reader. Keys that are not present keep their default value.
func Load(file any) (*DriverConfig, error) {
	f, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	config := Default()
	err = f.MapTo(config)
	if err != nil {
		return nil, err
	}
	return config, config.Validate()
}

// Validate checks the values without modifying them
func (config *DriverConfig) Validate() error {
	opMode, err := abcc.OpModeFromName(config.Driver.OpMode)
	if err != nil {
		return fmt.Errorf("%w : %v", ErrInvalidOpMode, config.Driver.OpMode)
	}
	if config.Driver.MaxMsgSize < minMsgSize || config.Driver.MaxMsgSize > int(abcc.MaxMsgDataBytes) {
		return fmt.Errorf("%w : %v not in [%v,%v]", ErrInvalidMsgSize, config.Driver.MaxMsgSize, minMsgSize, abcc.MaxMsgDataBytes)
	}
	if _, err := log.ParseLevel(config.Driver.LogLevel); err != nil {
		return fmt.Errorf("%w : %v", ErrInvalidLogLevel, config.Driver.LogLevel)
	}
	resources := map[string]int{
		"max_appl_cmds":       config.Resources.MaxApplCmds,
		"max_abcc_cmds":       config.Resources.MaxAbccCmds,
		"max_cmd_seq":         config.Resources.MaxCmdSeq,
		"cmd_seq_max_retries": config.Resources.CmdSeqMaxRetries,
		"num_timers":          config.Resources.NumTimers,
		"max_seg_sessions":    config.Resources.MaxSegSessions,
	}
	for name, value := range resources {
		if value <= 0 || value > 0xFF {
			return fmt.Errorf("%w : %v = %v", ErrInvalidResources, name, value)
		}
	}
	// The serial transport needs two timers on top of the driver's own
	if abcc.IsSerialOpMode(opMode) && config.Resources.NumTimers < 3 {
		return fmt.Errorf("%w : num_timers = %v, serial needs at least 3", ErrInvalidResources, config.Resources.NumTimers)
	}
	if config.Setup.ClearFatalLog && !config.Setup.GetFatalLog {
		return ErrClearNeedsGet
	}
	return nil
}

// LogLevel returns the configured logrus level
func (config *DriverConfig) LogLevel() log.Level {
	level, err := log.ParseLevel(config.Driver.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func (config *DriverConfig) telegramTimeout(opMode uint8) uint32 {
	switch opMode {
	case abcc.OpModeSerial19_2:
		return uint32(config.Serial.Tmo19_2Ms)
	case abcc.OpModeSerial57_6:
		return uint32(config.Serial.Tmo57_6Ms)
	case abcc.OpModeSerial115_2:
		return uint32(config.Serial.Tmo115_2Ms)
	case abcc.OpModeSerial625:
		return uint32(config.Serial.Tmo625Ms)
	}
	return 0
}

// ToDriverConfig converts to the configuration used by [driver.NewDriver]
func (config *DriverConfig) ToDriverConfig() (driver.Config, error) {
	if err := config.Validate(); err != nil {
		return driver.Config{}, err
	}
	opMode, _ := abcc.OpModeFromName(config.Driver.OpMode)
	return driver.Config{
		OpMode:            opMode,
		MaxMsgSize:        config.Driver.MaxMsgSize,
		StartupTimeMs:     uint32(config.Driver.StartupTimeMs),
		WdTimeoutMs:       uint32(config.Driver.WdTimeoutMs),
		TelegramTimeoutMs: config.telegramTimeout(opMode),
		MaxApplCmds:       config.Resources.MaxApplCmds,
		MaxAbccCmds:       config.Resources.MaxAbccCmds,
		MaxCmdSeq:         config.Resources.MaxCmdSeq,
		CmdSeqMaxRetries:  uint16(config.Resources.CmdSeqMaxRetries),
		NumTimers:         config.Resources.NumTimers,
		MaxSegSessions:    config.Resources.MaxSegSessions,
		InterruptEnabled:  config.Driver.Interrupt && !abcc.IsSerialOpMode(opMode),
		GetFatalLog:       config.Setup.GetFatalLog,
		ClearFatalLog:     config.Setup.ClearFatalLog,
	}, nil
}

// WriteTo writes the configuration in ini format
func (config *DriverConfig) WriteTo(w io.Writer) (int64, error) {
	f := ini.Empty()
	err := f.ReflectFrom(config)
	if err != nil {
		return 0, err
	}
	return f.WriteTo(w)
}
