package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/qerr"
)

var (
	// Global flags.
	flagConfig   string
	flagProfile  string
	flagDecodeAs []string
	flagPrefs    []string
	flagLogLevel string
)

// errReported is returned by commands that already printed their own
// failure report and only need a non-zero exit.
var errReported = errors.New("reported")

var rootCmd = &cobra.Command{
	Use:   "pcap-patrol",
	Short: "Query packet captures through tshark",
	Long: `pcap-patrol answers questions about packet captures (pcap/pcapng) by
driving tshark and capinfos.

Every command prints a single JSON document on stdout. Failures are printed
as {"code", "message", "details"} and exit with status 1.

Configuration is loaded from --config, $PCAP_PATROL_CONFIG,
./.pcap-patrol.yaml or ~/.config/pcap-patrol/config.yaml, and can be
overridden with PCAP_PATROL_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errReported) {
			printError(err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: $PCAP_PATROL_CONFIG, ./.pcap-patrol.yaml, ~/.config/pcap-patrol/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", envOrDefault("PCAP_PATROL_PROFILE", ""), "named query profile from the config file")
	rootCmd.PersistentFlags().StringArrayVar(&flagDecodeAs, "decode-as", nil, "decode-as rule passed to tshark -d, e.g. tcp.port==8080,http2 (repeatable)")
	rootCmd.PersistentFlags().StringArrayVar(&flagPrefs, "pref", nil, "preference passed to tshark -o, e.g. http2.tls.port:8443 (repeatable)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return qerr.New(qerr.InvalidArgument, err.Error())
	})
}

// exactArgs is cobra.ExactArgs with a structured error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return qerr.New(qerr.InvalidArgument, err.Error())
		}
		return nil
	}
}

// minArgs is cobra.MinimumNArgs with a structured error.
func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return qerr.New(qerr.InvalidArgument, err.Error())
		}
		return nil
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
