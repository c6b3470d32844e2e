package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/model"
)

var (
	timelineFlags  queryFlags
	flagTimelineFs []string
)

type timelineOutput struct {
	queryEcho
	DisplayFilter string           `json:"display_filter"`
	Fields        []string         `json:"fields"`
	Limit         int              `json:"limit"`
	Offset        int              `json:"offset"`
	Rows          []model.FieldRow `json:"rows"`
	Warnings      []string         `json:"warnings"`
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <pcap> -e <field> [-e <field>...]",
	Short: "Extract fields of matching frames as rows",
	Long: `Extract the given fields from every frame matching the display filter,
like custom columns in Wireshark.

Fields that occur more than once in a frame are returned as lists.
Unknown field names fail with INVALID_FIELDS and suggestions from the
field catalog.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			q, err := a.query(args[0], timelineFlags)
			if err != nil {
				return nil, err
			}
			tl, err := a.engine.Timeline(ctx, q, flagTimelineFs)
			if err != nil {
				return nil, err
			}
			return timelineOutput{
				queryEcho:     echoOf(q),
				DisplayFilter: q.DisplayFilter,
				Fields:        flagTimelineFs,
				Limit:         q.Limit,
				Offset:        q.Offset,
				Rows:          tl.Rows,
				Warnings:      tl.Warnings,
			}, nil
		})
	},
}

func init() {
	timelineFlags.register(timelineCmd, 200)
	timelineCmd.Flags().StringArrayVarP(&flagTimelineFs, "field", "e", nil, "field to extract (repeatable)")
	rootCmd.AddCommand(timelineCmd)
}
