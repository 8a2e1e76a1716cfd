package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/eval"
	"github.com/dativo-io/tarja/internal/ner"
)

var (
	validateFile     string
	validateStoplist string
	validateGold     string
	validateStrict   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate recognizer, stoplist and gold-standard files",
	Long: `Validates a recognizer YAML file against the recognizer schema. With --strict
the patterns are also compiled, so regex syntax, entity names and filter
parameters are checked. Defaults to the configured pattern_file and
stoplist_file. --gold checks a gold-standard file for the evaluate command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "validate")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		patternFile := validateFile
		if patternFile == "" {
			patternFile = cfg.PatternFile
		}
		stoplistFile := validateStoplist
		if stoplistFile == "" {
			stoplistFile = cfg.StoplistFile
		}
		if patternFile == "" && stoplistFile == "" && validateGold == "" {
			return fmt.Errorf("nothing to validate: pass --file, --stoplist or --gold, or set pattern_file")
		}

		out := cmd.OutOrStdout()
		if patternFile != "" {
			data, err := os.ReadFile(patternFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", patternFile, err)
			}
			if err := classifier.ValidateRecognizerSchema(data, validateStrict); err != nil {
				log.Error().
					Err(err).
					Str("file", patternFile).
					Bool("strict", validateStrict).
					Msg("recognizer_validation_failed")
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Validation failed: %s\n", patternFile)
				return fmt.Errorf("validation failed: %w", err)
			}
			rf, err := classifier.ParseRecognizerFile(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Recognizers valid: %s (%d recognizers)\n", patternFile, len(rf.Recognizers))
			if validateStrict {
				fmt.Fprintln(out, "  Mode: strict")
			}
		}

		if stoplistFile != "" {
			stop, err := ner.LoadStoplist(stoplistFile)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Validation failed: %s\n", stoplistFile)
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Fprintf(out, "✓ Stoplist valid: %s (%d phrases)\n", stoplistFile, stop.Len())
		}

		if validateGold != "" {
			data, err := os.ReadFile(validateGold)
			if err != nil {
				return fmt.Errorf("reading %s: %w", validateGold, err)
			}
			gold, err := eval.ParseGold(data)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Validation failed: %s\n", validateGold)
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Fprintf(out, "✓ Gold set valid: %s (%d examples)\n", validateGold, len(gold))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "recognizer file to validate (default: pattern_file)")
	validateCmd.Flags().StringVar(&validateStoplist, "stoplist", "", "stoplist file to validate (default: stoplist_file)")
	validateCmd.Flags().StringVar(&validateGold, "gold", "", "gold-standard JSON file to validate")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "also compile the patterns")
}
