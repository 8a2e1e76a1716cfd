package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/document"
	"github.com/dativo-io/tarja/internal/evidence"
	"github.com/dativo-io/tarja/internal/pipeline"
)

var (
	batchFormat   string
	batchOutDir   string
	batchEvidence bool
	batchWorkers  int
)

var batchCmd = &cobra.Command{
	Use:   "batch [dir|file]",
	Short: "Redact every document under a directory and print a consolidated report",
	Long: `Loads every supported file (txt, md, csv, html, pdf, json, jsonl) under the
given path, redacts the documents on a bounded worker pool and prints one
consolidated risk report. With --out-dir the redacted texts are written
next to each other, mirroring the input layout.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchFormat, "format", "text", "Report format (text, json)")
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", "", "Write redacted documents under this directory")
	batchCmd.Flags().BoolVar(&batchEvidence, "evidence", true, "Record the batch report as signed evidence")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Worker pool size (default: workers from config)")
	addDetectionFlags(batchCmd)
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "batch")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Hour)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if batchWorkers > 0 {
		cfg.Workers = batchWorkers
	}
	docs, err := document.NewLoader(cfg.MaxDocumentMB).Walk(ctx, args[0])
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no supported documents under %s", args[0])
	}
	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	result, err := p.Batch(ctx, docs)
	if err != nil {
		return fmt.Errorf("running batch: %w", err)
	}
	report := result.Report

	if batchEvidence {
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		cfg.WarnIfDefaultKeys()
		store, err := evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("initializing evidence store: %w", err)
		}
		defer store.Close()
		if report, err = store.StoreBatch(ctx, report); err != nil {
			return fmt.Errorf("recording batch evidence: %w", err)
		}
	}

	if batchOutDir != "" {
		if err := writeRedacted(batchOutDir, result); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if batchFormat == "json" {
		return writeJSON(out, report)
	}
	renderBatchReport(out, report)
	return nil
}

// writeRedacted writes each successful result to dir/<id>.redacted.txt.
// Ids that would escape dir are skipped.
func writeRedacted(dir string, result *pipeline.BatchResult) error {
	for _, res := range result.Results {
		if res == nil {
			continue
		}
		rel := filepath.FromSlash(res.DocumentID) + ".redacted.txt"
		if !filepath.IsLocal(rel) {
			log.Warn().Str("document_id", res.DocumentID).Msg("redacted_output_skipped_unsafe_id")
			continue
		}
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(res.RedactedText), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// renderBatchReport writes the consolidated report in human-readable form.
func renderBatchReport(w io.Writer, r *evidence.BatchReport) {
	fmt.Fprintf(w, "Batch %s\n", r.ID)
	fmt.Fprintf(w, "  Documents:           %d\n", r.TotalDocuments)
	fmt.Fprintf(w, "  With findings:       %d\n", r.DocumentsWithFindings)
	fmt.Fprintf(w, "  Total findings:      %d\n", r.TotalFindings)
	fmt.Fprintf(w, "  Failed:              %d\n", r.FailedDocuments)
	fmt.Fprintf(w, "  Elapsed:             %dms\n", r.ElapsedMS)

	if len(r.FindingsByType) > 0 {
		fmt.Fprintln(w, "  Findings by type:")
		types := make([]string, 0, len(r.FindingsByType))
		for t := range r.FindingsByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "    - %s: %d\n", t, r.FindingsByType[classifier.PIIType(t)])
		}
	}

	for _, d := range r.Documents {
		switch {
		case d.Error != "":
			fmt.Fprintf(w, "  ✗ %s: %s\n", d.DocumentID, d.Error)
		case d.FindingCount > 0:
			fmt.Fprintf(w, "  ● %s: %d findings\n", d.DocumentID, d.FindingCount)
		}
	}
}
