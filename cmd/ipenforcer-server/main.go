package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/ipenforcer/internal/auth"
	"github.com/pendergraft/ipenforcer/internal/backends"
	casesDomain "github.com/pendergraft/ipenforcer/internal/cases/domain"
	"github.com/pendergraft/ipenforcer/internal/config"
	"github.com/pendergraft/ipenforcer/internal/evidence"
	"github.com/pendergraft/ipenforcer/internal/observability/metrics"
	"github.com/pendergraft/ipenforcer/internal/server"
	sessionsDomain "github.com/pendergraft/ipenforcer/internal/sessions/domain"
	"github.com/pendergraft/ipenforcer/internal/storage"
	"github.com/pendergraft/ipenforcer/internal/workflow"
)

var version = "dev"

const reapInterval = time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ipenforcer-server",
		Short:   "IP Enforcer server - artwork infringement reports and disputes",
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCasesCmd())
	rootCmd.AddCommand(newTokenCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Inspect arbitration cases",
	}

	cmd.AddCommand(newCasesListCmd())
	cmd.AddCommand(newCasesShowCmd())
	cmd.AddCommand(newCasesSetStatusCmd())
	cmd.AddCommand(newCasesEvidenceCmd())

	return cmd
}

func newCasesListCmd() *cobra.Command {
	var filter casesDomain.ListFilter
	var page casesDomain.PaginationParams

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded cases, newest first",
		Long: `List arbitration cases recorded from dispute submissions.

EXAMPLES:
  ipenforcer-server cases list
  ipenforcer-server cases list --status queued --artwork artwork-3
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCases(cmd.Context(), func(ctx context.Context, svc casesDomain.Service) error {
				result, err := svc.List(ctx, filter, page)
				if err != nil {
					return err
				}
				printCases(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by status (queued, disputed, ruled)")
	cmd.Flags().StringVar(&filter.ArtworkID, "artwork", "", "filter by artwork id")
	cmd.Flags().StringVar(&filter.Reporter, "reporter", "", "filter by reporter address")
	cmd.Flags().IntVar(&page.Limit, "limit", 50, "maximum number of cases")
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "number of cases to skip")

	return cmd
}

func newCasesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCases(cmd.Context(), func(ctx context.Context, svc casesDomain.Service) error {
				c, err := svc.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("%w: %s", err, args[0])
				}
				printCase(cmd.OutOrStdout(), c)
				return nil
			})
		},
	}
}

func newCasesSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Move a case to queued, disputed or ruled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCases(cmd.Context(), func(ctx context.Context, svc casesDomain.Service) error {
				c, err := svc.SetStatus(ctx, args[0], args[1])
				if err != nil {
					return fmt.Errorf("%w: %s", err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Case %s is now %s\n", c.ID, c.Status)
				return nil
			})
		},
	}
}

func newCasesEvidenceCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "evidence <id>",
		Short: "Save the evidence file attached to a case",
		Long: `Save the evidence file a reporter attached to a case. The file is
written to <id>-evidence<ext> unless --out is given; --out - writes the
raw bytes to stdout.

EXAMPLES:
  ipenforcer-server cases evidence 4f1c9a7e-1111-2222-3333-444455556666
  ipenforcer-server cases evidence 4f1c9a7e-1111-2222-3333-444455556666 --out - | file -
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCases(cmd.Context(), func(ctx context.Context, svc casesDomain.Service) error {
				file, err := svc.Evidence(ctx, args[0])
				if err != nil {
					return fmt.Errorf("%w: %s", err, args[0])
				}
				return saveEvidence(cmd.OutOrStdout(), args[0], file, outPath)
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "O", "", "output path, or - for stdout")

	return cmd
}

func saveEvidence(out io.Writer, id string, file *casesDomain.EvidenceFile, path string) error {
	if path == "-" {
		_, err := out.Write(file.Data)
		return err
	}
	if path == "" {
		path = id + "-evidence" + file.Extension
	}
	if err := os.WriteFile(path, file.Data, 0o600); err != nil {
		return fmt.Errorf("writing evidence: %w", err)
	}
	fmt.Fprintf(out, "Saved %s (%d bytes, %s)\n", path, len(file.Data), file.ContentType)
	return nil
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage operator tokens for the case API",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate an operator token and its configuration hash",
		Long: `Generate a new operator token. The token is shown once; add the hash
to OPERATOR_TOKEN_HASHES (comma separated) to enable it.

EXAMPLES:
  ipenforcer-server token generate
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Token: %s\n", token)
			fmt.Fprintf(out, "Hash:  %s\n", auth.HashToken(token))
			return nil
		},
	})

	return cmd
}

// withCases opens the configured store with quiet logging for one command.
func withCases(ctx context.Context, fn func(context.Context, casesDomain.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.New(cfg.Storage, quiet)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	ev, err := evidence.New(ctx, cfg.Evidence, store, quiet)
	if err != nil {
		return fmt.Errorf("initializing evidence storage: %w", err)
	}
	return fn(ctx, casesDomain.NewService(store, ev))
}

func printCases(out io.Writer, result *casesDomain.ListResult) {
	if len(result.Cases) == 0 {
		fmt.Fprintln(out, "No cases found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tARTWORK\tREPORTER\tSTATUS\tSCORE\tSUBMITTED")
	for _, c := range result.Cases {
		idDisplay := c.ID
		if len(c.ID) > 8 {
			idDisplay = c.ID[:8] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n", idDisplay, c.ArtworkID, c.ReporterAddress, c.Status, c.Score, c.SubmittedAt)
	}
	w.Flush()

	if result.HasMore {
		fmt.Fprintln(out, "\nMore cases available; use --offset to page.")
	}
}

func printCase(out io.Writer, c *casesDomain.Case) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", c.ID)
	fmt.Fprintf(w, "Artwork:\t%s\n", c.ArtworkID)
	fmt.Fprintf(w, "Reporter:\t%s\n", c.ReporterAddress)
	fmt.Fprintf(w, "Status:\t%s\n", c.Status)
	fmt.Fprintf(w, "Similarity:\t%.2f\n", c.Score)
	if c.SourceURL != "" {
		fmt.Fprintf(w, "Source URL:\t%s\n", c.SourceURL)
	}
	if c.EvidenceRef != "" {
		fmt.Fprintf(w, "Evidence:\t%s\n", c.EvidenceRef)
	}
	fmt.Fprintf(w, "Submitted:\t%s\n", c.SubmittedAt)
	fmt.Fprintln(w, "Attestations:\t")
	for _, crit := range workflow.Criteria() {
		mark := "[ ]"
		if c.Attestations[crit.String()] {
			mark = "[x]"
		}
		fmt.Fprintf(w, "  %s\t%s\n", mark, crit.Label())
	}
	w.Flush()
}

// Server command

func runServe() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg)
	logger.Info("starting ipenforcer-server", "version", version)

	metrics.Init(cfg.Metrics.Enabled, cfg.Metrics.ServiceName)

	var operators auth.Validator
	if len(cfg.Auth.OperatorTokenHashes) > 0 {
		tokens, err := auth.NewStaticTokens(cfg.Auth.OperatorTokenHashes)
		if err != nil {
			return fmt.Errorf("loading operator tokens: %w", err)
		}
		operators = tokens
	} else {
		logger.Info("case API disabled; set OPERATOR_TOKEN_HASHES to enable it")
	}

	ctx := context.Background()

	// Initialize storage
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	evidenceStore, err := evidence.New(ctx, cfg.Evidence, store, logger)
	if err != nil {
		return fmt.Errorf("initializing evidence storage: %w", err)
	}

	sessions, err := newSessionService(cfg, store, evidenceStore, logger)
	if err != nil {
		return err
	}
	defer sessions.Shutdown()

	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go sessionsDomain.RunReaper(reapCtx, sessions, reapInterval)

	// Create server
	var caseAPI *server.CaseAPI
	if operators != nil {
		caseAPI = &server.CaseAPI{
			Service:   casesDomain.NewService(store, evidenceStore),
			Operators: operators,
		}
	}
	srv := server.New(cfg, store, sessions, caseAPI, logger)

	// Create HTTP server with configurable timeouts
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newSessionService wires the reference capabilities and the case intake
// into the session registry.
func newSessionService(cfg *config.Config, store storage.Store, ev evidence.Store, logger *slog.Logger) (sessionsDomain.Service, error) {
	wf := cfg.Workflow

	intake := backends.NewCaseIntake(store, logger)
	backend := backends.NewRetryBackend(intake,
		time.Duration(wf.SubmitRetryBaseMS)*time.Millisecond,
		time.Duration(wf.SubmitRetrySeconds)*time.Second,
		logger,
	)

	svc, err := sessionsDomain.NewService(sessionsDomain.Dependencies{
		Similarity: backends.FixedSimilarity{
			Score: wf.SimilarityScore,
			Delay: time.Duration(wf.SimilarityDelayMS) * time.Millisecond,
		},
		Backend: backend,
		Recap: backends.StaticRecap{
			Text:  wf.RecapText,
			Delay: time.Duration(wf.RecapDelayMS) * time.Millisecond,
		},
		Evidence: ev,
	}, sessionsDomain.Options{
		TTL:              time.Duration(cfg.Sessions.TTLMinutes) * time.Minute,
		MaxSessions:      cfg.Sessions.Max,
		MaxEvidenceBytes: int64(cfg.Evidence.MaxSizeMB) << 20,
		RecapDocument:    wf.RecapDocument,
		HighlightWindow:  time.Duration(wf.HighlightWindowMS) * time.Millisecond,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sessions: %w", err)
	}

	return sessionsDomain.LoggingMiddleware(logger)(svc), nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
