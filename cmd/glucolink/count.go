package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// countCmd represents the count command
var countCmd = &cobra.Command{
	Use:   "count <device-id>",
	Short: "Report how many readings a meter stores",
	Long: `Connect to a glucose meter and query the stored record count via
the Record Access Control Point, without transferring the records.`,
	Args: cobra.ExactArgs(1),
	RunE: runCount,
}

var countScanTimeout time.Duration

func init() {
	countCmd.Flags().DurationVar(&countScanTimeout, "scan-timeout", 5*time.Second, "Discovery scan duration before connecting")
}

func runCount(cmd *cobra.Command, args []string) error {
	deviceID := args[0]
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	mgr, err := newManager(cmd, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := connectTo(mgr, cmd, deviceID, countScanTimeout); err != nil {
		return err
	}
	defer mgr.DisconnectDevice(deviceID)

	ctx, cancel := interruptibleContext(0)
	defer cancel()

	count, err := mgr.CountRecords(ctx, deviceID)
	if err != nil {
		return err
	}
	fmt.Printf("%s stores %d readings\n", deviceID, count)
	return nil
}
