package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/qerr"
	"github.com/timvw/pcap-patrol/internal/tshark"
)

var (
	exportFlags        queryFlags
	flagColumnsProfile string
	flagNoDefaultCols  bool
	flagColumns        []string
	flagOutputBasename string
	flagPreviewRows    int
)

type exportOutput struct {
	queryEcho
	DisplayFilter         string              `json:"display_filter"`
	ColumnsProfile        string              `json:"columns_profile"`
	IncludeDefaultColumns bool                `json:"include_default_columns"`
	OutputPath            string              `json:"output_path"`
	FileSizeBytes         int64               `json:"file_size_bytes"`
	RowsWritten           int                 `json:"rows_written"`
	PreviewRows           []map[string]string `json:"preview_rows"`
	Warnings              []string            `json:"warnings"`
}

var exportCmd = &cobra.Command{
	Use:   "export <pcap>",
	Short: "Export a Wireshark style packet list to a TSV file",
	Long: `Write every frame matching the display filter to a tab separated file in
output_dir, one row per frame.

The default column set covers frame, time, addresses, protocol and info
plus 5G/IMS identity and session fields. --columns-profile adds a column
set from the config file, --column NAME=FIELD adds single columns. Columns
are de-duplicated by name, first wins.

The time column is written as UTC shifted by time_offset_hours.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			cfg := a.store.Current()
			q, err := a.query(args[0], exportFlags)
			if err != nil {
				return nil, err
			}

			var profileCols []tshark.Column
			if flagColumnsProfile != "" {
				cols, ok := cfg.PacketListColumns[flagColumnsProfile]
				if !ok {
					return nil, qerr.WithDetails(qerr.InvalidArgument, "unknown columns_profile", map[string]any{
						"columns_profile": flagColumnsProfile,
						"available":       cfg.ColumnProfileNames(),
					})
				}
				profileCols = cols
			}
			extraCols, err := parseColumns(flagColumns)
			if err != nil {
				return nil, err
			}
			columns, err := tshark.BuildColumns(!flagNoDefaultCols, profileCols, extraCols)
			if err != nil {
				return nil, err
			}

			base := flagOutputBasename
			if strings.TrimSpace(base) == "" {
				base = tshark.CaptureBase(q.Path)
			}
			outPath := tshark.ExportPath(cfg.OutputDir, base, time.Now())

			res, err := a.engine.ExportPacketList(ctx, q, tshark.ExportOptions{Columns: columns, OutputPath: outPath})
			if err != nil {
				return nil, err
			}
			preview, err := tshark.Preview(res.OutputPath, flagPreviewRows)
			if err != nil {
				return nil, err
			}
			return exportOutput{
				queryEcho:             echoOf(q),
				DisplayFilter:         q.DisplayFilter,
				ColumnsProfile:        flagColumnsProfile,
				IncludeDefaultColumns: !flagNoDefaultCols,
				OutputPath:            res.OutputPath,
				FileSizeBytes:         res.FileSizeBytes,
				RowsWritten:           res.RowsWritten,
				PreviewRows:           preview,
				Warnings:              res.Warnings,
			}, nil
		})
	},
}

// parseColumns parses NAME=FIELD pairs.
func parseColumns(specs []string) ([]tshark.Column, error) {
	cols := make([]tshark.Column, 0, len(specs))
	for _, s := range specs {
		name, field, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(field) == "" {
			return nil, qerr.WithDetails(qerr.InvalidArgument, "column must be NAME=FIELD", map[string]any{"column": s})
		}
		cols = append(cols, tshark.Column{Name: strings.TrimSpace(name), Field: strings.TrimSpace(field)})
	}
	return cols, nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportFlags.filter, "filter", "Y", "", "Wireshark display filter")
	exportCmd.Flags().StringVar(&flagColumnsProfile, "columns-profile", "", "named column set from packet_list_columns")
	exportCmd.Flags().BoolVar(&flagNoDefaultCols, "no-default-columns", false, "omit the default column set")
	exportCmd.Flags().StringArrayVar(&flagColumns, "column", nil, "extra column as NAME=FIELD (repeatable)")
	exportCmd.Flags().StringVar(&flagOutputBasename, "output-basename", "", "file name prefix (default: capture file name)")
	exportCmd.Flags().IntVar(&flagPreviewRows, "preview", 50, "rows to echo back from the written file (max 200)")
	rootCmd.AddCommand(exportCmd)
}
