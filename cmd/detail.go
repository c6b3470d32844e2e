package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/tshark"
)

// layerFlags select the protocol layers of a dissection.
type layerFlags struct {
	layers    []string
	allLayers bool
	maxBytes  int
}

func (f *layerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.layers, "layer", nil, "protocol layers to show, e.g. ngap,nas_5gs")
	cmd.Flags().BoolVar(&f.allLayers, "all-layers", false, "show the full protocol tree even when --layer is set")
	cmd.Flags().IntVar(&f.maxBytes, "max-bytes", 0, "truncate each dissection to this many bytes (default: max_detail_bytes)")
}

func (f *layerFlags) options(a *app, verbosity string) tshark.DetailOptions {
	maxBytes := f.maxBytes
	if maxBytes == 0 {
		maxBytes = a.store.Current().MaxDetailBytes
	}
	return tshark.DetailOptions{
		Layers:         f.layers,
		RestrictLayers: !f.allLayers,
		Verbosity:      verbosity,
		MaxBytes:       maxBytes,
	}
}

var (
	detailLayers  layerFlags
	flagVerbosity string
)

type detailOutput struct {
	queryEcho
	FrameNumbers   []int               `json:"frame_numbers"`
	Layers         []string            `json:"layers"`
	RestrictLayers bool                `json:"restrict_layers"`
	Verbosity      string              `json:"verbosity"`
	MaxBytes       int                 `json:"max_bytes"`
	Frames         []model.FrameDetail `json:"frames"`
}

var detailCmd = &cobra.Command{
	Use:   "detail <pcap> <frame> [frame...]",
	Short: "Show the protocol tree of frames",
	Long: `Show the verbose dissection (tshark -V) of up to 50 frames.

--layer restricts the tree to the named protocols unless --all-layers is
given. --verbosity full adds a hex dump. Output longer than --max-bytes is
truncated and flagged.`,
	Args: minArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			frames, err := parseFrames(args[1:])
			if err != nil {
				return nil, err
			}
			q, err := a.query(args[0], queryFlags{})
			if err != nil {
				return nil, err
			}
			opts := detailLayers.options(a, flagVerbosity)
			details, err := a.engine.FrameDetails(ctx, q, frames, opts)
			if err != nil {
				return nil, err
			}
			layers := detailLayers.layers
			if layers == nil {
				layers = []string{}
			}
			return detailOutput{
				queryEcho:      echoOf(q),
				FrameNumbers:   frames,
				Layers:         layers,
				RestrictLayers: opts.RestrictLayers,
				Verbosity:      opts.Verbosity,
				MaxBytes:       opts.MaxBytes,
				Frames:         details,
			}, nil
		})
	},
}

func init() {
	detailLayers.register(detailCmd)
	detailCmd.Flags().StringVar(&flagVerbosity, "verbosity", tshark.VerbositySummary, "summary or full (adds hex dump)")
	rootCmd.AddCommand(detailCmd)
}
