package main

import (
	"fmt"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/cmdseq"
	"github.com/samsamfire/goabcc/pkg/config"
	"github.com/samsamfire/goabcc/pkg/driver"
	"github.com/samsamfire/goabcc/pkg/transport/virtual"
	"github.com/spf13/cobra"
)

var cycles int

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Bring up the driver against a simulated module",
	Long: `Run the startup sequence against an in-memory module and print what
was discovered and mapped. Useful to check an ADI map file.`,
	RunE: simulate,
}

func init() {
	simulateCmd.Flags().IntVar(&cycles, "cycles", 200, "maximum number of driver cycles")
	rootCmd.AddCommand(simulateCmd)
}

// Used without map file
var demoAdis = []abcc.AdiEntry{
	{Instance: 1, Name: "speed", DataType: abcc.TypeUint16, NumElements: 1},
	{Instance: 2, Name: "command", DataType: abcc.TypeUint8, NumElements: 2},
}

var demoMap = []abcc.MapEntry{
	{Instance: 1, Direction: abcc.DirectionRead, NumElements: abcc.MapAllElements},
	{Instance: 2, Direction: abcc.DirectionWrite, NumElements: abcc.MapAllElements},
}

func simulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Driver.OpMode = abcc.OpModeMap[abcc.OpModeSpi]
	driverConfig, err := cfg.ToDriverConfig()
	if err != nil {
		return err
	}
	mapping, err := loadAdiMap(mapPath)
	if err != nil {
		return err
	}
	if mapping == nil {
		mapping = func() ([]abcc.AdiEntry, []abcc.MapEntry) { return demoAdis, demoMap }
	}

	module := virtual.New()
	var result *cmdseq.Result
	d, err := driver.NewDriver(module, nil, driverConfig, driver.Callbacks{
		AdiMappingReq: mapping,
		SetupDone:     func(r cmdseq.Result) { result = &r },
	})
	if err != nil {
		return err
	}
	defer d.Shutdown()

	const startupMs = 10
	err = d.StartDriver(startupMs)
	if err != nil {
		return err
	}
	for i := 0; i < cycles && result == nil; i++ {
		d.RunTimerSystem(1)
		if d.State() == driver.StateWaitCommunicationRdy {
			d.IsReadyForCommunication()
			continue
		}
		if err := d.RunDriver(); err != nil {
			return err
		}
	}
	if result == nil {
		return fmt.Errorf("setup not done after %v cycles, driver in %v", cycles, d.State())
	}
	if *result != cmdseq.ResultCompleted {
		code, info := d.LastError()
		return fmt.Errorf("setup failed : %v (%v, info %v)", *result, code, info)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "driver state : %v\n", d.State())
	fmt.Fprintf(out, "%v\n", config.ReadIdentity(d))
	for _, m := range module.Mappings() {
		direction := "read"
		if m.Direction == abcc.DirectionWrite {
			direction = "write"
		}
		fmt.Fprintf(out, "mapped ADI %d : %v %d element(s) from %d, %d bits\n", m.Instance, direction, m.NumElem, m.Start, m.Bits)
	}
	return nil
}
