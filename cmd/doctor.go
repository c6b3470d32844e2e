package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/pcap-patrol/internal/config"
)

type doctorCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Value string `json:"value"`
}

type doctorReport struct {
	OK      bool           `json:"ok"`
	Version string         `json:"version"`
	Checks  []doctorCheck  `json:"checks"`
	Config  *config.Config `json:"config,omitempty"`
}

func (r *doctorReport) add(name string, ok bool, value string) {
	r.Checks = append(r.Checks, doctorCheck{Name: name, OK: ok, Value: value})
	if !ok {
		r.OK = false
	}
}

// note records an informational check that never fails the report.
func (r *doctorReport) note(name, value string) {
	r.Checks = append(r.Checks, doctorCheck{Name: name, OK: true, Value: value})
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local installation",
	Long: `Check that the configuration loads, tshark and capinfos can be found and
run, and the export directory is writable. Exits 1 if a required check
fails. capinfos is optional; without it "info" reads captures natively.`,
	Args: exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		report := runDoctor(cmd.Context())
		if err := printJSON(report); err != nil {
			return err
		}
		if !report.OK {
			return errReported
		}
		return nil
	},
}

func runDoctor(ctx context.Context) *doctorReport {
	r := &doctorReport{OK: true, Version: Version}

	a, err := newApp(ctx)
	if err != nil {
		r.add("config.load", false, err.Error())
		return r
	}
	defer a.Close(context.Background())

	cfg := a.store.Current()
	r.Config = cfg
	configFile := cfg.ConfigFile
	if configFile == "" {
		configFile = "(none, using defaults)"
	}
	r.add("config.load", true, configFile)

	tshark, err := exec.LookPath(cfg.TsharkPath)
	r.add("which.tshark", err == nil, lookupValue(tshark, err))
	if err == nil {
		v, err := a.engine.Version(ctx)
		r.add("tshark.version", err == nil, valueOrError(v, err))
	}

	capinfos, err := exec.LookPath(cfg.CapinfosPath)
	r.note("which.capinfos", lookupValue(capinfos, err))
	if err == nil {
		res, err := a.runner.Run(ctx, []string{cfg.CapinfosPath, "-v"}, 5*time.Second)
		v := ""
		if err == nil {
			v, _, _ = strings.Cut(strings.TrimSpace(res.Stdout), "\n")
		}
		r.note("capinfos.version", valueOrError(v, err))
	}

	if err := checkWritableDir(cfg.OutputDir); err != nil {
		r.add("output_dir.writable", false, err.Error())
	} else {
		r.add("output_dir.writable", true, cfg.OutputDir)
	}

	for _, dir := range cfg.AllowedPcapDirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			r.note("allowed_pcap_dir", dir+" (missing)")
		} else {
			r.note("allowed_pcap_dir", dir)
		}
	}
	return r
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir failed: %w", err)
	}
	f, err := os.CreateTemp(dir, "pcap_patrol_")
	if err != nil {
		return fmt.Errorf("write test failed: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func lookupValue(path string, err error) string {
	if err != nil {
		return "NOT FOUND"
	}
	return path
}

func valueOrError(v string, err error) string {
	if err != nil {
		return "ERROR: " + err.Error()
	}
	return v
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
