package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/doctor"
)

var (
	doctorFormat  string
	doctorSkipNER bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (data dir, keys, recognizers, NER sidecar, evidence DB)",
	Long: `Verifies the data directory is writable, keys are configured, recognizer and
stoplist files load, the NER sidecar serves the configured models and the
evidence database is usable.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "text", "Output format (text, json)")
	doctorCmd.Flags().BoolVar(&doctorSkipNER, "skip-ner", false, "Skip NER sidecar checks (offline or CI)")
	addDetectionFlags(doctorCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	opts := doctor.Options{SkipNER: doctorSkipNER}
	if !doctorSkipNER {
		// Config errors surface as the config_load check.
		if cfg, err := config.Load(); err == nil {
			provider, err := nerProvider(cfg)
			if err != nil {
				return err
			}
			opts.NERProvider = provider
		}
	}

	report := doctor.Run(ctx, opts)

	out := cmd.OutOrStdout()
	if doctorFormat == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		renderDoctor(out, report)
	}

	if report.Status == "fail" {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

func renderDoctor(w io.Writer, r *doctor.Report) {
	category := ""
	for _, c := range r.Checks {
		if c.Category != category {
			category = c.Category
			fmt.Fprintf(w, "\n[%s]\n", category)
		}
		mark := "✓"
		switch c.Status {
		case "warn":
			mark = "⚠"
		case "fail":
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %-20s %s\n", mark, c.Name, c.Message)
		if c.Fix != "" && c.Status != "pass" {
			fmt.Fprintf(w, "      fix: %s\n", c.Fix)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed\n", r.Summary.Pass, r.Summary.Warn, r.Summary.Fail)
}
