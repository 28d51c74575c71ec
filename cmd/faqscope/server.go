package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/faqscope/internal/api"
	"github.com/kalambet/faqscope/internal/config"
	"github.com/kalambet/faqscope/internal/engine"
	"github.com/kalambet/faqscope/internal/ingest"
	"github.com/kalambet/faqscope/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and process queued jobs (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(cmd.Context(), mcpStdio)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show faqscope system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
}

func runServer(ctx context.Context, mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "faqscope version %s\n", version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ensureEngine(ctx, true); err != nil {
		return err
	}

	p, err := a.pipeline()
	if err != nil {
		return err
	}

	worker := ingest.NewWorker(a.store, a.embedPending, p, 500*time.Millisecond)
	go worker.Run(ctx)

	if a.cfg.API.Token == "" {
		slog.Warn("FAQSCOPE_API_TOKEN is not set; the API is served without authentication")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/", api.NewHandler(api.Deps{Store: a.store, Token: a.cfg.API.Token}))

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if mcpStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Store: a.store}))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "faqscope listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err == nil {
		client.httpClient.Timeout = 2 * time.Second
		if resp, err := client.get(ctx, "/health"); err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if eng.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("LLM provider", "%s", cfg.LLM.Provider)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printError("opening storage: %v", err)
		return nil
	}
	defer store.Close()

	if counts, err := store.Counts(ctx); err == nil {
		printStatus("Messages", "%d (%d embedded)", counts.Messages, counts.EmbeddedMessages)
		printStatus("FAQs", "%d (%d embedded)", counts.FAQs, counts.EmbeddedFAQs)
	}
	if run, err := store.LatestRun(ctx); err == nil {
		printStatus("Latest run", "%s (%s)", run.ID, run.CreatedAt.Local().Format("2006-01-02 15:04"))
	} else if errors.Is(err, storage.ErrNotFound) {
		printStatus("Latest run", "none")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
