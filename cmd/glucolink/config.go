package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/glucosync/glucolink/syncer"
)

// loadOptions assembles manager options from the optional YAML config
// file and the command line. Flags override file values.
func loadOptions(cmd *cobra.Command) (syncer.Options, error) {
	var opts syncer.Options

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(buf, &opts); err != nil {
			return opts, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if transport, _ := cmd.Flags().GetString("transport"); transport != "" {
		opts.Transport = transport
	}
	return opts, nil
}

// newManager builds a manager from flags and config file.
func newManager(cmd *cobra.Command, logger *logrus.Logger) (*syncer.Manager, error) {
	opts, err := loadOptions(cmd)
	if err != nil {
		return nil, err
	}
	return syncer.New(opts, logger)
}
