package main

import (
	"fmt"

	gateway "github.com/samsamfire/goabcc/pkg/http"
	"github.com/spf13/cobra"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the status of a running driver",
	Long: `Query the status server of a driver started with 'run --http'.
The identity is only printed once the driver is running.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusURL, "url", "u", "http://localhost:8080", "status server url")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := gateway.NewGatewayClient(statusURL, gateway.APIVersion)
	out := cmd.OutOrStdout()
	state, err := client.State()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "driver state : %v | anybus state : %v | supervised %v | uptime %v ms\n",
		state.State, state.AnbState, state.Supervised, state.UptimeMs)
	if state.State == "ERROR" {
		lastError, err := client.LastError()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "last error : %v %v (info %v)\n", lastError.Code, lastError.Description, lastError.Info)
		return nil
	}
	identity, err := client.Identity()
	if err != nil {
		// Not running yet
		return nil
	}
	fmt.Fprintf(out, "firmware %v | module type %v | network type %v | %v | pd size rd %d wr %d\n",
		identity.FirmwareVersion, identity.ModuleType, identity.NetworkType,
		identity.NetFormat, identity.ReadPdSize, identity.WritePdSize)
	return nil
}
