package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/evidence"
	"github.com/dativo-io/tarja/internal/server"
)

var (
	servePort        int
	serveCORSOrigins []string
	serveEvidence    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for scan, redact and batch requests",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origins (repeatable)")
	serveCmd.Flags().BoolVar(&serveEvidence, "evidence", true, "Record signed evidence for every redaction")
	addDetectionFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

// errNoAPIKeys is returned by serve when no caller can authenticate.
var errNoAPIKeys = errors.New("no api_keys configured: set TARJA_API_KEYS=caller:key or api_keys in tarja.config.yaml")

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.APIKeys) == 0 {
		return errNoAPIKeys
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithRateLimiter(server.NewRateLimiter(cfg.RateLimitRPM, cfg.CallerRPM)),
		server.WithMaxBodyBytes(int64(cfg.MaxDocumentMB) * 1024 * 1024),
	}
	if len(serveCORSOrigins) > 0 {
		opts = append(opts, server.WithCORSOrigins(serveCORSOrigins))
	}
	if serveEvidence {
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		cfg.WarnIfDefaultKeys()
		store, err := evidence.NewStore(cfg.EvidenceDBPath(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("initializing evidence: %w", err)
		}
		defer store.Close()
		opts = append(opts, server.WithEvidenceStore(store))
	}

	srv := server.NewServer(p, cfg.APIKeys, opts...)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("ner_model", p.Model()).
		Int("callers", len(cfg.APIKeys)).
		Int("workers", cfg.Workers).
		Bool("evidence", serveEvidence).
		Msg("tarja_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
