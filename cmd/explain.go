package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/explain"
	"github.com/timvw/pcap-patrol/internal/tshark"
)

var (
	explainLayers  layerFlags
	flagQuestion   string
	flagExplainLLM string
)

var explainCmd = &cobra.Command{
	Use:   "explain <pcap> <frame>",
	Short: "Ask an LLM to explain a frame",
	Long: `Send the dissection of one frame to the configured LLM (llm_provider:
anthropic or openai) and print its summary, the protocols involved, the
identifiers it found and anything that looks wrong.

--question focuses the answer on something specific.`,
	Args: exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			frames, err := parseFrames(args[1:])
			if err != nil {
				return nil, err
			}
			cfg := *a.store.Current()
			if flagExplainLLM != "" {
				cfg.LLMModel = flagExplainLLM
			}
			ex, err := explain.New(&cfg, a.metrics())
			if err != nil {
				return nil, err
			}

			q, err := a.query(args[0], queryFlags{})
			if err != nil {
				return nil, err
			}
			opts := explainLayers.options(a, tshark.VerbositySummary)
			opts.FrameNumber = frames[0]
			d, err := a.engine.FrameDetail(ctx, q, opts)
			if err != nil {
				return nil, err
			}
			return ex.Explain(ctx, explain.Request{
				FrameNumber: d.FrameNumber,
				Detail:      d.Text,
				Truncated:   d.Truncated,
				Question:    flagQuestion,
			})
		})
	},
}

func init() {
	explainLayers.register(explainCmd)
	explainCmd.Flags().StringVar(&flagQuestion, "question", "", "what to focus the explanation on")
	explainCmd.Flags().StringVar(&flagExplainLLM, "model", envOrDefault("PCAP_PATROL_LLM_MODEL", ""), "LLM model name (default: from config)")
	rootCmd.AddCommand(explainCmd)
}
