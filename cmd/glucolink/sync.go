package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/glucosync/glucolink/glucose"
	"github.com/glucosync/glucolink/syncer"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync <device-id>",
	Short: "Retrieve all stored readings from a meter",
	Long: `Connect to a glucose meter and retrieve every stored reading.

The device is discovered with a short scan, connected, and all stored
records are requested via the Record Access Control Point. Readings are
printed oldest first.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var (
	syncFormat      string
	syncUnit        string
	syncScanTimeout time.Duration
)

func init() {
	syncCmd.Flags().StringVarP(&syncFormat, "format", "f", "table", "Output format (table, json)")
	syncCmd.Flags().StringVarP(&syncUnit, "unit", "u", "", "Display unit (mgdl, mmol); default keeps the meter's unit")
	syncCmd.Flags().DurationVar(&syncScanTimeout, "scan-timeout", 5*time.Second, "Discovery scan duration before connecting")
}

func displayUnit(name string) (glucose.Unit, error) {
	switch name {
	case "":
		return "", nil
	case "mgdl":
		return glucose.MGDL, nil
	case "mmol":
		return glucose.MMOL, nil
	}
	return "", fmt.Errorf("invalid unit '%s': must be one of [mgdl mmol]", name)
}

// connectTo discovers deviceID with a short scan and connects to it.
func connectTo(mgr *syncer.Manager, cmd *cobra.Command, deviceID string, scanTimeout time.Duration) error {
	ctx, cancel := interruptibleContext(0)
	defer cancel()

	progress := newProgressPrinter("Looking for "+deviceID, scanTimeout)
	progress.Start()
	_, err := mgr.ScanForDevices(ctx, scanTimeout)
	progress.Stop()
	if err != nil {
		return err
	}

	progress = newProgressPrinter("Connecting to "+deviceID, 0)
	progress.Start()
	err = mgr.ConnectToDevice(ctx, deviceID)
	progress.Stop()
	return err
}

func runSync(cmd *cobra.Command, args []string) error {
	deviceID := args[0]
	if err := validateFormat(syncFormat); err != nil {
		return err
	}
	unit, err := displayUnit(syncUnit)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := newProgressPrinter("Syncing "+deviceID, 0)

	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts.OnProgress = progress.RecordCallback()
	mgr, err := syncer.New(opts, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := connectTo(mgr, cmd, deviceID, syncScanTimeout); err != nil {
		return err
	}
	defer mgr.DisconnectDevice(deviceID)

	ctx, cancel := interruptibleContext(0)
	defer cancel()

	progress.Start()
	readings, err := mgr.SyncDevice(ctx, deviceID)
	progress.Stop()
	if err != nil {
		return err
	}

	return displayReadings(readings, syncFormat, unit)
}

func displayReadings(readings []glucose.Reading, format string, unit glucose.Unit) error {
	if unit != "" {
		for i := range readings {
			readings[i].Value = readings[i].Unit.Convert(readings[i].Value, unit)
			readings[i].Unit = unit
		}
	}
	if len(readings) == 0 {
		fmt.Println("No readings stored on the meter")
		return nil
	}
	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(readings)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tVALUE\tUNIT\tTYPE\tFASTING")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for _, r := range readings {
		fasting := ""
		if r.Fasting {
			fasting = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04"),
			valueLabel(r.Value, r.Unit), r.Unit, r.ReadingType, fasting)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d readings\n", len(readings))
	return nil
}

// valueLabel colors values outside the common 70-180 mg/dL band.
func valueLabel(value float64, unit glucose.Unit) string {
	mgdl := unit.Convert(value, glucose.MGDL)
	switch {
	case mgdl < 70:
		return color.RedString("%.1f", value)
	case mgdl > 180:
		return color.YellowString("%.1f", value)
	}
	return fmt.Sprintf("%.1f", value)
}
