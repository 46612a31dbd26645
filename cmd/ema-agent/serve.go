package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	orchestration "github.com/koscakluka/ema-graph/core"
	"github.com/koscakluka/ema-graph/core/llms"
	"github.com/koscakluka/ema-graph/core/llms/groq"
	"github.com/koscakluka/ema-graph/core/transport/websocket"
	"github.com/koscakluka/ema-graph/internal/telemetry"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept calls over websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveListen != "" {
			cfg.ListenAddr = serveListen
		}

		profile, err := LoadProfile(cfg.Profile)
		if err != nil {
			return err
		}

		shutdownTelemetry, err := telemetry.Setup(cmd.Context(), "ema-agent", cfg.Telemetry, telemetry.WithVerbose(verbose))
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "failed to flush telemetry: %v\n", err)
			}
		}()

		log := newLogger()
		var llm llms.StreamingLLM
		if cfg.GroqAPIKey != "" {
			llm = groq.NewClient(cfg.GroqAPIKey, cfg.Model)
		} else if profile.Agent == agentChat {
			log.Warn("GROQ_API_KEY not set, the chat agent will answer with a canned response")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		handler := newHandler(cfg, profile, llm)
		server := &http.Server{Addr: cfg.ListenAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		errCh := make(chan error, 1)
		go func() {
			log.Info("listening", "addr", cfg.ListenAddr, "agent", profile.Agent)
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.System.ShutdownGrace+time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (default: $EMA_LISTEN_ADDR or :8080)")
}

// newHandler serves calls on /call and a liveness probe on /healthz.
func newHandler(cfg agentConfig, profile *Profile, llm llms.StreamingLLM) http.Handler {
	log := newLogger()
	agent := newAgent(profile, llm, log)
	calls := websocket.NewServer(agent.handleCall,
		websocket.WithPreCallHandler(agent.preCall),
		websocket.WithSystemOptions(orchestration.WithConfig(cfg.System)),
	)

	mux := http.NewServeMux()
	mux.Handle("/call", calls)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, "ok"); err != nil {
			log.Warn("failed to write health response", "error", err)
		}
	})
	return mux
}
