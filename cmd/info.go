package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/capture"
	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

var flagInfoNative bool

var infoCmd = &cobra.Command{
	Use:   "info <pcap>",
	Short: "Summarise a capture file",
	Long: `Report packet count, first and last packet time, duration and SHA256 of
a capture, the tshark version, and which common mobile-core protocols
(SCTP, NGAP, NAS-5GS, PFCP, GTPv2, GTP) appear in it.

When capinfos is not installed, or with --native, the summary is computed
by reading the pcap/pcapng file directly.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			q, err := a.query(args[0], queryFlags{})
			if err != nil {
				return nil, err
			}
			return summarize(ctx, a, q.Path, func(ctx context.Context) (map[string]bool, error) {
				return a.engine.HasProtocols(ctx, q)
			})
		})
	},
}

// summarize builds the capture summary, falling back to native inspection
// when capinfos is missing. Protocol probing needs tshark and is skipped
// when it is missing as well.
func summarize(ctx context.Context, a *app, path string, probe func(context.Context) (map[string]bool, error)) (*model.CaptureSummary, error) {
	var s *model.CaptureSummary
	var err error
	if !flagInfoNative {
		s, err = a.engine.Summary(ctx, path)
		if qerr.Is(err, qerr.TsharkNotFound) {
			a.logger.Info("capinfos not available, reading capture natively", zap.String("path", path))
		}
	}
	if flagInfoNative || qerr.Is(err, qerr.TsharkNotFound) {
		s, err = capture.Inspect(path)
	}
	if err != nil {
		return nil, err
	}

	v, err := a.engine.Version(ctx)
	if err != nil {
		if s.Source == "native" && qerr.Is(err, qerr.TsharkNotFound) {
			a.logger.Warn("tshark not available, skipping protocol probe", zap.Error(err))
			return s, nil
		}
		return nil, err
	}
	s.TsharkVer = v

	found, err := probe(ctx)
	if err != nil {
		return nil, err
	}
	s.HasProtocols = found
	return s, nil
}

func init() {
	infoCmd.Flags().BoolVar(&flagInfoNative, "native", false, "read the capture directly instead of running capinfos")
	rootCmd.AddCommand(infoCmd)
}
