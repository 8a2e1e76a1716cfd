package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/evidence"
)

var (
	auditBatch   string
	auditCaller  string
	auditMinRisk string
	auditLimit   int
	auditBatches bool

	exportFormat string
	exportOutput string
	exportFrom   string
	exportTo     string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query, verify and export redaction evidence",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evidence records",
	RunE:  auditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [evidence-id]",
	Short: "Show a full evidence record or batch report",
	Args:  cobra.ExactArgs(1),
	RunE:  auditShow,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [evidence-id]",
	Short: "Verify the HMAC signature of an evidence record or batch report",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export evidence records as CSV or JSON",
	RunE:  auditExport,
}

func init() {
	auditListCmd.Flags().StringVar(&auditBatch, "batch", "", "Filter by batch ID")
	auditListCmd.Flags().StringVar(&auditCaller, "caller", "", "Filter by caller")
	auditListCmd.Flags().StringVar(&auditMinRisk, "min-risk", "", "Only records at or above this risk (LOW, MEDIUM, HIGH, CRITICAL)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")
	auditListCmd.Flags().BoolVar(&auditBatches, "batches", false, "List batch reports instead of document records")

	auditExportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format (csv, json)")
	auditExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
	auditExportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD)")
	auditExportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD, inclusive)")
	auditExportCmd.Flags().StringVar(&auditBatch, "batch", "", "Only records of this batch")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}

func openEvidenceStore() (*evidence.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
}

func isBatchID(id string) bool {
	return len(id) > 6 && id[:6] == "batch_"
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openEvidenceStore()
	if err != nil {
		return fmt.Errorf("initializing evidence store: %w", err)
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if auditBatches {
		batches, err := store.ListBatches(ctx, auditLimit)
		if err != nil {
			return fmt.Errorf("querying batches: %w", err)
		}
		if len(batches) == 0 {
			fmt.Fprintln(out, "No batch reports found.")
			return nil
		}
		renderBatchList(out, batches)
		return nil
	}

	f := evidence.Filter{BatchID: auditBatch, Caller: auditCaller, Limit: auditLimit}
	if auditMinRisk != "" {
		f.MinRisk, err = classifier.ParseRiskLevel(auditMinRisk)
		if err != nil {
			return err
		}
	}
	index, err := store.ListIndex(ctx, f)
	if err != nil {
		return fmt.Errorf("querying evidence: %w", err)
	}
	if len(index) == 0 {
		fmt.Fprintln(out, "No evidence records found.")
		return nil
	}
	renderAuditList(out, index)
	return nil
}

func auditShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openEvidenceStore()
	if err != nil {
		return fmt.Errorf("initializing evidence store: %w", err)
	}
	defer store.Close()

	var v any
	if isBatchID(args[0]) {
		v, err = store.GetBatch(ctx, args[0])
	} else {
		v, err = store.Get(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[0], err)
	}
	return writeJSON(cmd.OutOrStdout(), v)
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	id := args[0]
	store, err := openEvidenceStore()
	if err != nil {
		return fmt.Errorf("initializing evidence store: %w", err)
	}
	defer store.Close()

	var valid bool
	if isBatchID(id) {
		valid, err = store.VerifyBatch(ctx, id)
	} else {
		valid, err = store.Verify(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("verifying evidence: %w", err)
	}
	renderVerifyResult(cmd.OutOrStdout(), id, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", id)
	}
	return nil
}

func auditExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("unsupported format %q (use csv or json)", exportFormat)
	}
	f := evidence.Filter{BatchID: auditBatch}
	var err error
	if f.From, err = parseDate(exportFrom); err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	if f.To, err = parseDate(exportTo); err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	if !f.To.IsZero() {
		f.To = f.To.Add(24 * time.Hour)
	}

	store, err := openEvidenceStore()
	if err != nil {
		return fmt.Errorf("initializing evidence store: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, f)
	if err != nil {
		return fmt.Errorf("querying evidence: %w", err)
	}
	rows := make([]evidence.ExportRecord, 0, len(records))
	for i := range records {
		rows = append(rows, evidence.ToExportRecord(&records[i]))
	}

	w := cmd.OutOrStdout()
	if exportOutput != "" {
		file, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", exportOutput, err)
		}
		defer file.Close()
		w = file
	}
	if exportFormat == "json" {
		return evidence.WriteJSON(w, rows)
	}
	return evidence.WriteCSV(w, rows)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

// renderAuditList writes evidence index lines to w.
func renderAuditList(w io.Writer, index []evidence.Index) {
	fmt.Fprintf(w, "Evidence Records (showing %d):\n\n", len(index))
	for i := range index {
		entry := &index[i]
		status := "✓"
		if entry.HasError {
			status = "✗"
		}
		risk := "-"
		if entry.HighestRisk > 0 {
			risk = entry.HighestRisk.String()
		}
		batch := ""
		if entry.BatchID != "" {
			batch = " [" + entry.BatchID + "]"
		}
		fmt.Fprintf(w, "  %s %s | %s | %s | %d findings | %s | %dms%s\n",
			status,
			entry.ID,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.DocumentID,
			entry.FindingCount,
			risk,
			entry.DurationMS,
			batch,
		)
	}
}

func renderBatchList(w io.Writer, batches []evidence.BatchSummary) {
	fmt.Fprintf(w, "Batch Reports (showing %d):\n\n", len(batches))
	for _, b := range batches {
		fmt.Fprintf(w, "  %s | %s | %d documents | %d findings\n",
			b.ID, b.Timestamp.Format("2006-01-02 15:04:05"), b.TotalDocuments, b.TotalFindings)
	}
}

// renderVerifyResult writes the verify outcome to w.
func renderVerifyResult(w io.Writer, id string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Evidence %s: signature VALID (HMAC-SHA256 intact)\n", id)
	} else {
		fmt.Fprintf(w, "✗ Evidence %s: signature INVALID (possible tampering)\n", id)
	}
}
