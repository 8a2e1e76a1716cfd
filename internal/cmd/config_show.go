package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect Tarja configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration (keys are never printed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		renderConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func renderConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Data directory:     %s%s\n", cfg.DataDir, existsMark(dirExists(cfg.DataDir)))
	fmt.Fprintf(w, "Evidence DB:        %s%s\n", cfg.EvidenceDBPath(), existsMark(fileExists(cfg.EvidenceDBPath())))
	if cfg.UsingDefaultSigningKey() {
		fmt.Fprintln(w, "Signing key:        generated default (set TARJA_SIGNING_KEY)")
	} else {
		fmt.Fprintln(w, "Signing key:        configured")
	}

	fmt.Fprintf(w, "Pattern file:       %s\n", orNone(cfg.PatternFile, fileExists(cfg.PatternFile)))
	stop := orNone(cfg.StoplistFile, fileExists(cfg.StoplistFile))
	if cfg.StoplistFile != "" {
		if cfg.StoplistReplace {
			stop += " replaces default"
		} else {
			stop += " extends default"
		}
	}
	fmt.Fprintf(w, "Stoplist file:      %s\n", stop)
	fmt.Fprintf(w, "Enabled entities:   %s\n", listOrAll(cfg.EnabledEntities))
	fmt.Fprintf(w, "Disabled entities:  %s\n", listOrNone(cfg.DisabledEntities))
	if len(cfg.RiskOverrides) > 0 {
		keys := make([]string, 0, len(cfg.RiskOverrides))
		for k := range cfg.RiskOverrides {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+cfg.RiskOverrides[k])
		}
		fmt.Fprintf(w, "Risk overrides:     %s\n", strings.Join(parts, ", "))
	}

	fmt.Fprintf(w, "NER sidecar:        %s (timeout %s)\n", cfg.NERURL, cfg.NERTimeout)
	fmt.Fprintf(w, "NER models:         primary=%s fallback=%s\n", valueOrDash(cfg.NERPrimaryModel), valueOrDash(cfg.NERFallbackModel))
	fmt.Fprintf(w, "OpenAI NER:         model=%s base=%s key=%s\n", valueOrDash(cfg.OpenAIModel), valueOrDash(cfg.OpenAIBaseURL), configuredOrNot(cfg.OpenAIAPIKey))
	fmt.Fprintf(w, "Workers:            %d\n", cfg.Workers)
	fmt.Fprintf(w, "Max document size:  %d MB\n", cfg.MaxDocumentMB)
	fmt.Fprintf(w, "API callers:        %d\n", len(cfg.APIKeys))
	fmt.Fprintf(w, "Rate limits:        %d rpm global, %d rpm per caller\n", cfg.RateLimitRPM, cfg.CallerRPM)
}

func existsMark(ok bool) string {
	if ok {
		return " (exists)"
	}
	return " (missing)"
}

func orNone(path string, exists bool) string {
	if path == "" {
		return "none"
	}
	return path + existsMark(exists)
}

func listOrAll(v []string) string {
	if len(v) == 0 {
		return "all"
	}
	return strings.Join(v, ", ")
}

func listOrNone(v []string) string {
	if len(v) == 0 {
		return "none"
	}
	return strings.Join(v, ", ")
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func configuredOrNot(secret string) string {
	if secret == "" {
		return "not set"
	}
	return "set"
}
