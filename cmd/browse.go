package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/browser"
)

var (
	browseLayers layerFlags
	flagBrowseY  string
	flagBrowseFs []string
	flagPageSize int
	flagTheme    string
)

var browseCmd = &cobra.Command{
	Use:   "browse <pcap>",
	Short: "Interactive packet list browser",
	Long: `Open a terminal UI listing the frames that match the display filter.

Enter shows the full dissection of the selected frame, Esc goes back,
n/p page through the list and q quits. Columns are chosen with -e.

Sending SIGHUP reloads the config file; the next page or detail request
uses the new settings.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		q, err := a.query(args[0], queryFlags{filter: flagBrowseY})
		if err != nil {
			return err
		}

		stop := reloadOnHangup(a)
		defer stop()

		opts := browseLayers.options(a, "")
		b := &browser.Browser{
			Source: &browser.EngineSource{
				Engine:   a.engine,
				Query:    q,
				Layers:   opts.Layers,
				MaxBytes: opts.MaxBytes,
			},
			Fields:   flagBrowseFs,
			PageSize: flagPageSize,
			Theme:    browser.ThemeByName(flagTheme),
			Title:    q.Path,
		}
		return b.Run(ctx)
	},
}

// reloadOnHangup swaps in a freshly loaded config on SIGHUP. A config that
// fails to load is logged and the previous one stays active.
func reloadOnHangup(a *app) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				cfg, err := a.store.Reload()
				if err != nil {
					a.logger.Warn("config reload failed", zap.Error(err))
					continue
				}
				a.logger.Info("config reloaded", zap.String("path", cfg.ConfigFile))
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func init() {
	browseLayers.register(browseCmd)
	browseCmd.Flags().StringVarP(&flagBrowseY, "filter", "Y", "", "Wireshark display filter")
	browseCmd.Flags().StringArrayVarP(&flagBrowseFs, "field", "e", nil, "column field (repeatable, default: frame, time, addresses, protocol, info)")
	browseCmd.Flags().IntVar(&flagPageSize, "page-size", browser.DefaultPageSize, "rows per page")
	browseCmd.Flags().StringVar(&flagTheme, "theme", "dark", "color theme: dark, light")
	rootCmd.AddCommand(browseCmd)
}
