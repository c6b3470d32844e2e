package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/model"
)

var followFlags queryFlags

type followOutput struct {
	queryEcho
	*model.FollowResult
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

var followCmd = &cobra.Command{
	Use:   "follow <pcap> <frame>",
	Short: "List the frames of the session a frame belongs to",
	Long: `Build a follow filter from a frame and list every frame it selects.

The session key is taken from the first of these fields that the frame
carries: http2.streamid, diameter.Session-Id, sip.Call-ID. The follow
filter is ANDed with --filter and the profile filter.`,
	Args: exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			frames, err := parseFrames(args[1:])
			if err != nil {
				return nil, err
			}
			q, err := a.query(args[0], followFlags)
			if err != nil {
				return nil, err
			}
			res, err := a.engine.Follow(ctx, q, frames[0])
			if err != nil {
				return nil, err
			}
			return followOutput{
				queryEcho:    echoOf(q),
				FollowResult: res,
				Limit:        q.Limit,
				Offset:       q.Offset,
			}, nil
		})
	},
}

func init() {
	followFlags.register(followCmd, 500)
	rootCmd.AddCommand(followCmd)
}
