package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/glucosync/glucolink/glucose"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List glucose meters with device details",
	Long: `Scan for glucose meters, connect to each one found, and list the
device details: manufacturer, model, and battery level read from the
Device Information and Battery services.`,
	RunE: runDevices,
}

var (
	devicesFormat   string
	devicesDuration time.Duration
)

func init() {
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "Output format (table, json)")
	devicesCmd.Flags().DurationVarP(&devicesDuration, "duration", "d", 10*time.Second, "Scan duration")
}

func runDevices(cmd *cobra.Command, args []string) error {
	if err := validateFormat(devicesFormat); err != nil {
		return err
	}
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

	ctx, cancel := interruptibleContext(0)
	defer cancel()

	progress := newProgressPrinter("Scanning for glucose meters", devicesDuration)
	progress.Start()
	found, err := mgr.ScanForDevices(ctx, devicesDuration)
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Connect briefly to each meter to read its identity.
	for _, d := range found {
		if err := mgr.ConnectToDevice(ctx, d.ID); err != nil {
			logger.WithField("device", d.ID).WithError(err).Warn("Skipping unreachable device")
			continue
		}
		mgr.DisconnectDevice(d.ID)
	}

	return displayDeviceDetails(mgr.Devices(), devicesFormat)
}

func displayDeviceDetails(devices []glucose.DeviceRecord, format string) error {
	if len(devices) == 0 {
		fmt.Println("No glucose meters discovered")
		return nil
	}
	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMANUFACTURER\tMODEL\tBATTERY\tLAST SYNC")
	fmt.Fprintln(w, strings.Repeat("-", 88))
	for _, d := range devices {
		battery := "-"
		if d.Battery != nil {
			battery = fmt.Sprintf("%d%%", *d.Battery)
		}
		lastSync := "never"
		if d.LastSync != nil {
			lastSync = d.LastSync.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Name, d.Manufacturer, d.Model, battery, lastSync)
	}
	return w.Flush()
}
