package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/capture"
	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/logging"
	telem "github.com/timvw/pcap-patrol/internal/otel"
	"github.com/timvw/pcap-patrol/internal/proc"
	"github.com/timvw/pcap-patrol/internal/qerr"
	"github.com/timvw/pcap-patrol/internal/tshark"
)

// catalogTTL bounds how long a field catalog dump is reused. It only
// matters for long-lived commands such as browse.
const catalogTTL = 10 * time.Minute

// app bundles everything a command needs to run queries.
type app struct {
	store  *config.Store
	logger *zap.Logger
	tel    *telem.Telemetry
	runner proc.Runner
	engine *tshark.Engine
}

// newApp loads configuration and wires logging, telemetry and the engine.
func newApp(ctx context.Context) (*app, error) {
	store, err := config.Open(flagConfig)
	if err != nil {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "invalid configuration", map[string]any{"error": err.Error()})
	}
	cfg := store.Current()

	level := flagLogLevel
	if level == "" {
		level = cfg.LogLevel
	}
	logger, err := logging.New(level)
	if err != nil {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "invalid log level", map[string]any{"log_level": level})
	}
	if cfg.ConfigFile != "" {
		logger.Debug("config loaded", zap.String("path", cfg.ConfigFile))
	}

	// Wire build version into OTEL service metadata
	telem.Version = Version

	// No-op if no endpoint is configured
	tel, err := telem.Init(ctx, telem.OTELConfig{
		Endpoint:       cfg.OTELEndpoint,
		Headers:        cfg.OTELHeaders,
		ExportInterval: cfg.OTELExportIntervalDuration,
		TsharkPath:     cfg.TsharkPath,
		Profile:        flagProfile,
	})
	if err != nil {
		logger.Warn("otel init failed", zap.Error(err))
	}

	a := &app{store: store, logger: logger, tel: tel}
	a.runner = proc.NewExec(logger)
	a.engine = tshark.NewEngine(store, a.runner,
		tshark.WithLogger(logger),
		tshark.WithTracer(tel.Tracer(tshark.TracerName)),
		tshark.WithMetrics(a.metrics()),
		tshark.WithCatalogCache(tshark.NewCatalogCache(catalogTTL)),
	)
	return a, nil
}

func (a *app) metrics() *telem.Metrics {
	if a.tel == nil {
		return nil
	}
	return a.tel.Metrics
}

// Close flushes telemetry and logs.
func (a *app) Close(ctx context.Context) {
	if a.tel != nil {
		a.tel.Shutdown(ctx)
	}
	_ = a.logger.Sync()
}

// resolve maps a user supplied capture path onto an allowed file.
func (a *app) resolve(raw string) (string, error) {
	return capture.Resolve(a.store.Current(), raw)
}

// query resolves the capture and merges the global flags, the selected
// profile and the command's filter into a tshark query.
func (a *app) query(raw string, qf queryFlags) (tshark.Query, error) {
	path, err := a.resolve(raw)
	if err != nil {
		return tshark.Query{}, err
	}
	return a.engine.Compose(path, tshark.Request{
		DisplayFilter: qf.filter,
		Profile:       flagProfile,
		DecodeAs:      flagDecodeAs,
		Preferences:   flagPrefs,
		Limit:         qf.limit,
		Offset:        qf.offset,
	})
}

// run builds the app, calls fn and prints its result as JSON.
func run(cmd *cobra.Command, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(out)
}

// queryFlags are the display filter and window flags shared by the query
// commands. Each command owns its own instance so defaults stay separate.
type queryFlags struct {
	filter string
	limit  int
	offset int
}

func (f *queryFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVarP(&f.filter, "filter", "Y", "", "Wireshark display filter")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "maximum number of frames")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "number of matching frames to skip")
}

// queryEcho repeats the effective query in command output.
type queryEcho struct {
	PcapPath    string   `json:"pcap_path"`
	Profile     string   `json:"profile"`
	DecodeAs    []string `json:"decode_as"`
	Preferences []string `json:"preferences"`
}

func echoOf(q tshark.Query) queryEcho {
	return queryEcho{
		PcapPath:    q.Path,
		Profile:     flagProfile,
		DecodeAs:    q.DecodeAs,
		Preferences: q.Preferences,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

type errorOutput struct {
	Code    qerr.Code      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func printError(err error) {
	var qe *qerr.Error
	if !errors.As(qerr.Wrap(err), &qe) {
		qe = qerr.New(qerr.Internal, err.Error())
	}
	out := errorOutput{Code: qe.Code, Message: qe.Message, Details: qe.Details}
	if out.Details == nil {
		out.Details = map[string]any{}
	}
	_ = printJSON(out)
}

// parseFrames parses positive frame numbers.
func parseFrames(args []string) ([]int, error) {
	frames := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil || n <= 0 {
			return nil, qerr.WithDetails(qerr.InvalidArgument, "frame number must be a positive integer", map[string]any{"frame_number": a})
		}
		frames = append(frames, n)
	}
	return frames, nil
}
