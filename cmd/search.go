package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/tshark"
)

var (
	searchFlags        queryFlags
	searchLayers       layerFlags
	flagSearchRegex    bool
	flagSearchCase     bool
	flagSearchMax      int
	flagSnippetContext int
)

type searchOutput struct {
	queryEcho
	DisplayFilter string `json:"display_filter"`
	Query         string `json:"query"`
	IsRegex       bool   `json:"is_regex"`
	CaseSensitive bool   `json:"case_sensitive"`
	Limit         int    `json:"limit"`
	Offset        int    `json:"offset"`
	*model.SearchResult
}

var searchCmd = &cobra.Command{
	Use:   "search <pcap> <text>",
	Short: "Search the dissection text of matching frames",
	Long: `Search the protocol tree of every frame matching the display filter
for a substring (case-insensitive unless --case-sensitive) or, with
--regex, an RE2 regular expression.

Each matching frame is reported once with a snippet around the first hit.
The scan stops after --max-matches frames (at most 200).`,
	Args: exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			q, err := a.query(args[0], searchFlags)
			if err != nil {
				return nil, err
			}
			detail := searchLayers.options(a, tshark.VerbositySummary)
			res, err := a.engine.Search(ctx, q, tshark.SearchOptions{
				Text:                args[1],
				IsRegex:             flagSearchRegex,
				CaseSensitive:       flagSearchCase,
				Layers:              detail.Layers,
				RestrictLayers:      detail.RestrictLayers,
				MaxMatches:          flagSearchMax,
				MaxBytes:            detail.MaxBytes,
				SnippetContextChars: flagSnippetContext,
			})
			if err != nil {
				return nil, err
			}
			return searchOutput{
				queryEcho:     echoOf(q),
				DisplayFilter: q.DisplayFilter,
				Query:         args[1],
				IsRegex:       flagSearchRegex,
				CaseSensitive: flagSearchCase,
				Limit:         q.Limit,
				Offset:        q.Offset,
				SearchResult:  res,
			}, nil
		})
	},
}

func init() {
	searchFlags.register(searchCmd, 200)
	searchLayers.register(searchCmd)
	searchCmd.Flags().BoolVar(&flagSearchRegex, "regex", false, "treat text as a regular expression")
	searchCmd.Flags().BoolVar(&flagSearchCase, "case-sensitive", false, "match case")
	searchCmd.Flags().IntVar(&flagSearchMax, "max-matches", 50, "stop after this many matching frames (max 200)")
	searchCmd.Flags().IntVar(&flagSnippetContext, "context", tshark.DefaultSnippetContext, "characters of context on each side of a match")
	rootCmd.AddCommand(searchCmd)
}
