package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/tshark"
)

type configOutput struct {
	ConfigFile     string          `json:"config_file"`
	Config         *config.Config  `json:"config"`
	Profiles       []string        `json:"profiles"`
	ColumnProfiles []string        `json:"column_profiles"`
	DefaultColumns []tshark.Column `json:"default_columns"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
PCAP_PATROL_* environment variables. Secrets are omitted.`,
	Args: exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(_ context.Context, a *app) (any, error) {
			cfg := a.store.Current()
			return configOutput{
				ConfigFile:     cfg.ConfigFile,
				Config:         cfg,
				Profiles:       cfg.ProfileNames(),
				ColumnProfiles: cfg.ColumnProfileNames(),
				DefaultColumns: tshark.DefaultColumns,
			}, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
