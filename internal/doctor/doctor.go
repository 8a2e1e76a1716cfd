// Package doctor provides health checks for Tarja configuration and runtime.
// Used by `tarja doctor` and by `tarja serve` before it starts listening.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/evidence"
	"github.com/dativo-io/tarja/internal/ner"
	"github.com/dativo-io/tarja/internal/pipeline"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which check categories to run.
type Options struct {
	SkipNER     bool         // Skip NER sidecar checks (for CI/offline)
	NERProvider ner.Provider // Provider to probe; nil = HTTP sidecar from config
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = []CheckResult{{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check TARJA_* env vars and tarja.config.yaml",
		}}
	} else {
		report.Checks = append(report.Checks, checkConfig(cfg)...)
		report.Checks = append(report.Checks, checkDetection(cfg)...)
		if !opts.SkipNER {
			report.Checks = append(report.Checks, checkNER(ctx, cfg, opts.NERProvider))
		}
		report.Checks = append(report.Checks, checkSystem(ctx, cfg)...)
	}

	report.tally()
	return report
}

func (r *Report) tally() {
	r.Summary = Summary{}
	for _, c := range r.Checks {
		switch c.Status {
		case "pass":
			r.Summary.Pass++
		case "warn":
			r.Summary.Warn++
		case "fail":
			r.Summary.Fail++
		}
	}

	r.Status = "pass"
	if r.Summary.Warn > 0 {
		r.Status = "warn"
	}
	if r.Summary.Fail > 0 {
		r.Status = "fail"
	}
}

func checkConfig(cfg *config.Config) []CheckResult {
	var results []CheckResult
	results = append(results, checkDataDir(cfg))
	results = append(results, checkSigningKey(cfg))
	results = append(results, checkAPIKeys(cfg))
	results = append(results, checkEvidenceDB(cfg))
	return results
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s not writable: %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkSigningKey(cfg *config.Config) CheckResult {
	if cfg.UsingDefaultSigningKey() {
		return CheckResult{
			Name: "signing_key", Category: "config", Status: "warn",
			Message: "Using generated default", Fix: "Set TARJA_SIGNING_KEY for production",
		}
	}
	return CheckResult{Name: "signing_key", Category: "config", Status: "pass", Message: "Configured"}
}

func checkAPIKeys(cfg *config.Config) CheckResult {
	if len(cfg.APIKeys) == 0 {
		return CheckResult{
			Name: "api_keys", Category: "config", Status: "warn",
			Message: "No API keys configured; `tarja serve` will refuse to start",
			Fix:     "Add caller:key entries to api_keys",
		}
	}
	return CheckResult{
		Name: "api_keys", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%d caller key(s)", len(cfg.APIKeys)),
	}
}

func checkEvidenceDB(cfg *config.Config) CheckResult {
	store, err := evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
	if err != nil {
		return CheckResult{
			Name: "evidence_db", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	_ = store.Close()
	return CheckResult{
		Name: "evidence_db", Category: "config", Status: "pass",
		Message: cfg.EvidenceDBPath(),
	}
}

func checkDetection(cfg *config.Config) []CheckResult {
	var results []CheckResult

	scanner, err := pipeline.ScannerFromConfig(cfg)
	switch {
	case err != nil:
		results = append(results, CheckResult{
			Name: "recognizers", Category: "detection", Status: "fail",
			Message: err.Error(),
			Fix:     "Run 'tarja validate' on the pattern file",
		})
	case len(scanner.Patterns()) == 0:
		results = append(results, CheckResult{
			Name: "recognizers", Category: "detection", Status: "warn",
			Message: "No rule patterns enabled",
			Fix:     "Check enabled_entities and disabled_entities",
		})
	default:
		results = append(results, CheckResult{
			Name: "recognizers", Category: "detection", Status: "pass",
			Message: fmt.Sprintf("%d pattern(s)", len(scanner.Patterns())),
		})
	}

	stop, err := pipeline.StoplistFromConfig(cfg)
	if err != nil {
		results = append(results, CheckResult{
			Name: "stoplist", Category: "detection", Status: "fail",
			Message: err.Error(),
			Fix:     "Check stoplist_file",
		})
	} else {
		results = append(results, CheckResult{
			Name: "stoplist", Category: "detection", Status: "pass",
			Message: fmt.Sprintf("%d phrase(s)", stop.Len()),
		})
	}

	if _, err := cfg.RiskTable(); err == nil && len(cfg.RiskOverrides) > 0 {
		results = append(results, CheckResult{
			Name: "risk_overrides", Category: "detection", Status: "pass",
			Message: fmt.Sprintf("%d override(s)", len(cfg.RiskOverrides)),
		})
	}
	return results
}

func checkNER(ctx context.Context, cfg *config.Config, provider ner.Provider) CheckResult {
	if provider == nil {
		provider = ner.NewHTTPProvider(cfg.NERURL, ner.WithTimeout(5*time.Second))
	}
	start := time.Now()
	loaded, err := ner.LoadChain(ctx, provider, cfg.NERModels()...)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name: "ner_model", Category: "ner", Status: "fail",
			Message: err.Error(),
			Fix:     fmt.Sprintf("Start the NER sidecar at %s or set TARJA_NER_URL", cfg.NERURL),
		}
	}
	if loaded.Fallback {
		return CheckResult{
			Name: "ner_model", Category: "ner", Status: "warn",
			Message: fmt.Sprintf("primary %s unavailable, using %s", cfg.NERPrimaryModel, loaded.Model),
			Fix:     "Install the primary model in the sidecar",
		}
	}
	return CheckResult{
		Name: "ner_model", Category: "ner", Status: "pass",
		Message: fmt.Sprintf("%s (%dms)", loaded.Model, latency.Milliseconds()),
	}
}

func checkSystem(ctx context.Context, cfg *config.Config) []CheckResult {
	var results []CheckResult

	evDir := filepath.Dir(cfg.EvidenceDBPath())
	if info, statErr := os.Stat(evDir); statErr == nil && info.IsDir() {
		testPath := filepath.Join(evDir, ".doctor-space-test")
		data := make([]byte, 1024)
		if writeErr := os.WriteFile(testPath, data, 0o600); writeErr != nil {
			results = append(results, CheckResult{
				Name: "disk_space", Category: "system", Status: "warn",
				Message: "Cannot write test file to evidence directory",
			})
		} else {
			_ = os.Remove(testPath)
			results = append(results, CheckResult{
				Name: "disk_space", Category: "system", Status: "pass",
				Message: evDir,
			})
		}
	}

	store, storeErr := evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
	if storeErr == nil {
		defer store.Close()
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		count, countErr := store.Count(ctx, evidence.Filter{})
		if countErr == nil {
			fi, _ := os.Stat(cfg.EvidenceDBPath())
			sizeStr := "unknown"
			if fi != nil {
				sizeMB := float64(fi.Size()) / (1024 * 1024)
				sizeStr = fmt.Sprintf("%.1f MB", sizeMB)
			}
			results = append(results, CheckResult{
				Name: "evidence_stats", Category: "system", Status: "pass",
				Message: fmt.Sprintf("%d records, %s", count, sizeStr),
			})
		}
	}

	return results
}
