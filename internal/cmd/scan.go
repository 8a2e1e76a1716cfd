package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/config"
)

var scanFormat string

var scanCmd = &cobra.Command{
	Use:   "scan [file|-]",
	Short: "List the PII found in a document without redacting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanFormat, "format", "text", "Output format (text, json)")
	addDetectionFlags(scanCmd)
	rootCmd.AddCommand(scanCmd)
}

type scanOutput struct {
	DocumentID string               `json:"document_id"`
	Findings   []classifier.Finding `json:"findings"`
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "scan")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	docs, err := readDocuments(ctx, cfg, args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	outputs := make([]scanOutput, 0, len(docs))
	for _, doc := range docs {
		findings, err := p.Scan(ctx, doc.Text)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", doc.ID, err)
		}
		if findings == nil {
			findings = []classifier.Finding{}
		}
		outputs = append(outputs, scanOutput{DocumentID: doc.ID, Findings: findings})
	}

	out := cmd.OutOrStdout()
	if scanFormat == "json" {
		return writeJSON(out, outputs)
	}
	for _, o := range outputs {
		renderFindings(out, o.DocumentID, o.Findings)
	}
	return nil
}

// renderFindings writes one line per finding under a document header.
func renderFindings(w io.Writer, docID string, findings []classifier.Finding) {
	fmt.Fprintf(w, "%s: %d findings\n", docID, len(findings))
	for _, f := range findings {
		fmt.Fprintf(w, "  [%d:%d] %-12s %-8s %-6s %q\n", f.Start, f.End, f.Type, f.Risk, f.Source, f.Value)
	}
}
