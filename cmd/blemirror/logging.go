package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blemirror/pkg/config"
)

// buildLogger creates the logger from the config's log section, with the
// persistent --log-level flag taking precedence when set.
func buildLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if flag, err := cmd.Flags().GetString("log-level"); err == nil && flag != "" {
		cfg.Log.Level = flag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.NewLogger(), nil
}
