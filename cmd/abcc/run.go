package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/cmdseq"
	"github.com/samsamfire/goabcc/pkg/config"
	"github.com/samsamfire/goabcc/pkg/driver"
	gateway "github.com/samsamfire/goabcc/pkg/http"
	"github.com/samsamfire/goabcc/pkg/transport"
	_ "github.com/samsamfire/goabcc/pkg/transport/serial"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	portName string
	baudRate int
	period   time.Duration
	httpAddr string
)

var baudOpModes = map[int]uint8{
	19200:  abcc.OpModeSerial19_2,
	57600:  abcc.OpModeSerial57_6,
	115200: abcc.OpModeSerial115_2,
	625000: abcc.OpModeSerial625,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the driver against a module on a serial port",
	Long: `Open the serial port, start the driver and keep it running until
interrupted. Anybus state changes and driver errors are logged.`,
	RunE: runDriver,
}

func init() {
	runCmd.Flags().StringVarP(&portName, "port", "p", "", "serial port device, overrides the configuration")
	runCmd.Flags().IntVarP(&baudRate, "baud", "b", 0, "baud rate (19200, 57600, 115200 or 625000), overrides the configuration")
	runCmd.Flags().DurationVar(&period, "period", time.Millisecond, "driver period")
	runCmd.Flags().StringVar(&httpAddr, "http", "", "serve the driver status on this address, e.g. :8080")
	rootCmd.AddCommand(runCmd)
}

func runDriver(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portName != "" {
		cfg.Serial.Port = portName
	}
	if baudRate != 0 {
		opMode, ok := baudOpModes[baudRate]
		if !ok {
			return fmt.Errorf("unsupported baud rate %v", baudRate)
		}
		cfg.Driver.OpMode = abcc.OpModeMap[opMode]
	}
	driverConfig, err := cfg.ToDriverConfig()
	if err != nil {
		return err
	}
	if !abcc.IsSerialOpMode(driverConfig.OpMode) {
		return fmt.Errorf("%w : only serial operating modes can be run", config.ErrInvalidOpMode)
	}
	if cfg.Serial.Port == "" {
		return config.ErrInvalidSerialPort
	}
	mapping, err := loadAdiMap(mapPath)
	if err != nil {
		return err
	}
	tr, err := transport.NewTransport("serial", cfg.Serial.Port)
	if err != nil {
		return err
	}

	var d *driver.Driver
	callbacks := driver.Callbacks{
		AdiMappingReq: mapping,
		AnbStateChanged: func(state uint8) {
			log.Infof("anybus state %v", abcc.AnbStateMap[state])
		},
		SetupDone: func(result cmdseq.Result) {
			if result != cmdseq.ResultCompleted {
				log.Warnf("setup not completed : %v", result)
				return
			}
			log.Info(config.ReadIdentity(d))
		},
		WdTimeout: func() {
			log.Warn("module watchdog timeout")
		},
		WdTimeoutRecovered: func() {
			log.Info("module watchdog recovered")
		},
	}
	d, err = driver.NewDriver(tr, nil, driverConfig, callbacks)
	if err != nil {
		return err
	}
	err = d.HwInit()
	if err != nil {
		return err
	}
	err = d.StartDriver(0)
	if err != nil {
		return err
	}
	defer d.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Infof("driver started on %v (%v)", cfg.Serial.Port, cfg.Driver.OpMode)
	if httpAddr != "" {
		gw := gateway.NewGatewayServer(d)
		go func() {
			err := gw.ListenAndServe(httpAddr)
			if err != nil {
				log.Errorf("status server stopped : %v", err)
			}
		}()
		log.Infof("driver status served on %v", httpAddr)
	}
	err = d.Process(ctx, period)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
