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
	"github.com/dativo-io/tarja/internal/eval"
)

var (
	evalFormat string
	evalMinF1  float64
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [gold.json]",
	Short: "Measure detection precision, recall and F1 against labelled examples",
	Long: `Runs the detection pipeline over a gold-standard file of
[{"text": "...", "labels": ["CPF", "EMAIL"]}, ...] and reports micro-averaged
precision, recall and F1 over the PII types found per example.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalFormat, "format", "text", "Output format (text, json)")
	evaluateCmd.Flags().Float64Var(&evalMinF1, "min-f1", 0, "Exit non-zero when F1 falls below this value")
	addDetectionFlags(evaluateCmd)
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "evaluate")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	gold := eval.LoadGold(args[0])
	res, err := eval.Evaluate(ctx, p.Scan, gold)
	if err != nil {
		return fmt.Errorf("evaluating: %w", err)
	}

	out := cmd.OutOrStdout()
	if evalFormat == "json" {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		renderEvaluation(out, res)
	}

	if evalMinF1 > 0 && res.F1 < evalMinF1 {
		return fmt.Errorf("F1 %.3f below threshold %.3f", res.F1, evalMinF1)
	}
	return nil
}

func renderEvaluation(w io.Writer, res *eval.Result) {
	fmt.Fprintf(w, "Examples:   %d (%d passed)\n", len(res.PerExample), res.Passed)
	fmt.Fprintf(w, "Precision:  %.3f\n", res.Precision)
	fmt.Fprintf(w, "Recall:     %.3f\n", res.Recall)
	fmt.Fprintf(w, "F1:         %.3f\n", res.F1)

	if len(res.PerType) > 0 {
		fmt.Fprintln(w, "\nPer type:")
		types := make([]string, 0, len(res.PerType))
		for t := range res.PerType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			c := res.PerType[classifier.PIIType(t)]
			fmt.Fprintf(w, "  %-14s P=%.3f R=%.3f F1=%.3f (tp=%d fp=%d fn=%d)\n",
				t, c.Precision(), c.Recall(), c.F1(), c.TP, c.FP, c.FN)
		}
	}

	var failed []eval.ExampleResult
	for _, ex := range res.PerExample {
		if !ex.Passed {
			failed = append(failed, ex)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(w, "\nFailed examples:")
		for _, ex := range failed {
			fmt.Fprintf(w, "  #%d expected=%v found=%v", ex.Index, ex.Expected, ex.Found)
			if ex.Error != "" {
				fmt.Fprintf(w, " error=%s", ex.Error)
			}
			fmt.Fprintln(w)
		}
	}
}
