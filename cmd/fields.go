package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/tshark"
)

var (
	flagFieldsRegex     bool
	flagFieldsCase      bool
	flagFieldsLimit     int
	flagFieldsProtocols bool
)

type fieldsOutput struct {
	Query  string            `json:"query"`
	Count  int               `json:"count"`
	Fields []model.FieldInfo `json:"fields"`
}

var fieldsCmd = &cobra.Command{
	Use:   "fields [query]",
	Short: "Search the tshark field catalog",
	Long: `Search the dissector field catalog (tshark -G fields) by name,
abbreviation or protocol. Use it to find field names for "timeline" and
"export" columns.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return exactArgs(1)(cmd, args)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		return run(cmd, func(ctx context.Context, a *app) (any, error) {
			fields, err := a.engine.ListFields(ctx, tshark.FieldQuery{
				Query:            query,
				IsRegex:          flagFieldsRegex,
				CaseSensitive:    flagFieldsCase,
				Limit:            flagFieldsLimit,
				IncludeProtocols: flagFieldsProtocols,
			})
			if err != nil {
				return nil, err
			}
			return fieldsOutput{Query: query, Count: len(fields), Fields: fields}, nil
		})
	},
}

func init() {
	fieldsCmd.Flags().BoolVar(&flagFieldsRegex, "regex", false, "treat query as a regular expression")
	fieldsCmd.Flags().BoolVar(&flagFieldsCase, "case-sensitive", false, "match case")
	fieldsCmd.Flags().IntVar(&flagFieldsLimit, "limit", 200, "maximum number of results (max 1000)")
	fieldsCmd.Flags().BoolVar(&flagFieldsProtocols, "protocols", false, "include protocol entries")
	rootCmd.AddCommand(fieldsCmd)
}
