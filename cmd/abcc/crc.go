package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/samsamfire/goabcc/pkg/transport/serial"
	"github.com/spf13/cobra"
)

var crcCmd = &cobra.Command{
	Use:   "crc <hex>",
	Short: "Compute the CRC16 of a serial telegram",
	Long: `Print the CRC16 of the given bytes as appended to a serial telegram,
high byte first. Spaces in the hex string are ignored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCrc,
}

func init() {
	rootCmd.AddCommand(crcCmd)
}

func runCrc(cmd *cobra.Command, args []string) error {
	data, err := hex.DecodeString(strings.ReplaceAll(strings.Join(args, ""), " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex string : %w", err)
	}
	checksum := serial.Checksum(data)
	fmt.Fprintf(cmd.OutOrStdout(), "%04X (% X)\n", checksum, []byte{byte(checksum >> 8), byte(checksum)})
	return nil
}
