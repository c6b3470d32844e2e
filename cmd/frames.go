package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var framesFlags queryFlags

type framesOutput struct {
	queryEcho
	DisplayFilter string `json:"display_filter"`
	Limit         int    `json:"limit"`
	Offset        int    `json:"offset"`
	Frames        []int  `json:"frames"`
}

var framesCmd = &cobra.Command{
	Use:   "frames <pcap>",
	Short: "List frame numbers matching a display filter",
	Long: `List the numbers of the frames matching a Wireshark display filter,
paged with --offset and --limit.

Typical use: locate the interesting frames first, then drill into them with
"detail".`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			q, err := a.query(args[0], framesFlags)
			if err != nil {
				return nil, err
			}
			frames, err := a.engine.FrameNumbers(ctx, q)
			if err != nil {
				return nil, err
			}
			return framesOutput{
				queryEcho:     echoOf(q),
				DisplayFilter: q.DisplayFilter,
				Limit:         q.Limit,
				Offset:        q.Offset,
				Frames:        frames,
			}, nil
		})
	},
}

func init() {
	framesFlags.register(framesCmd, 500)
	rootCmd.AddCommand(framesCmd)
}
