package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/evidence"
	"github.com/dativo-io/tarja/internal/redact"
)

var (
	redactFormat   string
	redactEvidence bool
	redactOut      string
	redactReport   string
)

var redactCmd = &cobra.Command{
	Use:   "redact [file|-]",
	Short: "Redact the PII in a document",
	Long: `Replaces every detected span with a [<TYPE> OMITIDO] placeholder and prints
the redacted text. Each processed document is recorded as signed evidence
unless --evidence=false.`,
	Args: cobra.ExactArgs(1),
	RunE: runRedact,
}

func init() {
	redactCmd.Flags().StringVar(&redactFormat, "format", "text", "Output format (text, json)")
	redactCmd.Flags().BoolVar(&redactEvidence, "evidence", true, "Record an evidence entry per document")
	redactCmd.Flags().StringVarP(&redactOut, "out", "o", "", "Write the output to this file instead of stdout")
	redactCmd.Flags().StringVar(&redactReport, "report", "", "Write the per-document audit records as JSON to this file")
	addDetectionFlags(redactCmd)
	rootCmd.AddCommand(redactCmd)
}

type redactOutput struct {
	*redact.Result
	EvidenceID string `json:"evidence_id,omitempty"`
}

func runRedact(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "redact")
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

	var store *evidence.Store
	if redactEvidence {
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		cfg.WarnIfDefaultKeys()
		store, err = evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("initializing evidence store: %w", err)
		}
		defer store.Close()
	}

	outputs := make([]redactOutput, 0, len(docs))
	records := make([]evidence.Record, 0, len(docs))
	for _, doc := range docs {
		res, rec, err := p.Audited(ctx, doc)
		records = append(records, rec)
		if store != nil {
			if storeErr := store.Store(ctx, &rec); storeErr != nil {
				return fmt.Errorf("recording evidence for %s: %w", doc.ID, storeErr)
			}
		}
		if err != nil {
			return fmt.Errorf("redacting %s: %w", doc.ID, err)
		}
		o := redactOutput{Result: res}
		if store != nil {
			o.EvidenceID = rec.ID
		}
		log.Debug().
			Str("document_id", doc.ID).
			Int("findings", len(res.Findings)).
			Str("evidence_id", o.EvidenceID).
			Msg("document_redacted")
		outputs = append(outputs, o)
	}

	if redactReport != "" {
		if err := writeJSONFile(redactReport, records); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if redactOut != "" {
		file, err := os.Create(redactOut)
		if err != nil {
			return fmt.Errorf("creating %s: %w", redactOut, err)
		}
		defer file.Close()
		out = file
	}
	if redactFormat == "json" {
		return writeJSON(out, outputs)
	}
	for i, o := range outputs {
		if len(outputs) > 1 {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "==> %s <==\n", o.DocumentID)
		}
		fmt.Fprintln(out, o.RedactedText)
	}
	return nil
}
