package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/evidence"
)

var reportDays int

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a disclosure-risk summary of recorded evidence",
	Long:  "Summarizes processed documents, failures and findings per PII type over a recent window, for periodic review by the records office.",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 7, "Window in days, counting today")
	rootCmd.AddCommand(reportCmd)
}

type reportSummary struct {
	Days           int
	Today          int
	Window         int
	Failed         int
	HighRisk       int
	FindingsByType map[classifier.PIIType]int
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if reportDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	store, err := evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("initializing evidence store: %w", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	todayEnd := todayStart.Add(24 * time.Hour)
	windowStart := todayStart.AddDate(0, 0, -(reportDays - 1))

	sum := reportSummary{Days: reportDays}
	if sum.Today, err = store.Count(ctx, evidence.Filter{From: todayStart, To: todayEnd}); err != nil {
		return err
	}
	window := evidence.Filter{From: windowStart, To: todayEnd}
	if sum.Window, err = store.Count(ctx, window); err != nil {
		return err
	}
	high := window
	high.MinRisk = classifier.RiskHigh
	if sum.HighRisk, err = store.Count(ctx, high); err != nil {
		return err
	}
	if sum.FindingsByType, err = store.CountByType(ctx, windowStart, todayEnd); err != nil {
		return err
	}
	records, err := store.List(ctx, window)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].Error != "" {
			sum.Failed++
		}
	}

	renderReport(cmd.OutOrStdout(), sum)
	return nil
}

func renderReport(w io.Writer, s reportSummary) {
	fmt.Fprintln(w, "Disclosure risk summary")
	fmt.Fprintf(w, "  Documents today:           %d\n", s.Today)
	fmt.Fprintf(w, "  Documents (%dd):            %d\n", s.Days, s.Window)
	fmt.Fprintf(w, "  Failed detections (%dd):    %d (%.1f%%)\n", s.Days, s.Failed, pct(s.Failed, s.Window))
	fmt.Fprintf(w, "  HIGH or CRITICAL (%dd):     %d (%.1f%%)\n", s.Days, s.HighRisk, pct(s.HighRisk, s.Window))
	if len(s.FindingsByType) > 0 {
		fmt.Fprintf(w, "  Findings by type (%dd):\n", s.Days)
		types := make([]string, 0, len(s.FindingsByType))
		for t := range s.FindingsByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "    - %s: %d\n", t, s.FindingsByType[classifier.PIIType(t)])
		}
	}
	fmt.Fprintln(w)
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}
