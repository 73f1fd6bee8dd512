//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"log/slog"
	"net/http/httptest"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/ipenforcer/internal/auth"
	"github.com/pendergraft/ipenforcer/internal/backends"
	casesDomain "github.com/pendergraft/ipenforcer/internal/cases/domain"
	"github.com/pendergraft/ipenforcer/internal/config"
	"github.com/pendergraft/ipenforcer/internal/evidence"
	"github.com/pendergraft/ipenforcer/internal/server"
	sessionsDomain "github.com/pendergraft/ipenforcer/internal/sessions/domain"
	"github.com/pendergraft/ipenforcer/internal/storage"
	"github.com/pendergraft/ipenforcer/pkg/client"
)

const (
	similarityScore = 0.83
	operatorToken   = auth.TokenPrefix + "e2e-operator"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Store             storage.Store
	Evidence          evidence.Store
	Sessions          sessionsDomain.Service
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("ipenforcer"),
		postgres.WithUsername("ipenforcer"),
		postgres.WithPassword("ipenforcer"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return container, connString, nil
}

// startServerE wires the server the way ipenforcer-server does, against the
// Postgres container and with the database evidence store.
func startServerE(tc *TestContext) error {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type:     "postgres",
			Postgres: config.PostgresConfig{URL: tc.ConnString},
		},
		Evidence:  config.EvidenceConfig{Type: "database", MaxSizeMB: 1},
		Auth:      config.AuthConfig{OperatorTokenHashes: []string{auth.HashToken(operatorToken)}},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{FilterEnabled: true, MaxBodySizeMB: 2},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ev, err := evidence.New(ctx, cfg.Evidence, store, logger)
	if err != nil {
		return fmt.Errorf("failed to create evidence store: %w", err)
	}

	backend := backends.NewRetryBackend(backends.NewCaseIntake(store, logger), 50*time.Millisecond, 5*time.Second, logger)
	svc, err := sessionsDomain.NewService(sessionsDomain.Dependencies{
		Similarity: backends.FixedSimilarity{Score: similarityScore, Delay: 100 * time.Millisecond},
		Backend:    backend,
		Recap:      backends.StaticRecap{Text: "This is the legal contract recap", Delay: 100 * time.Millisecond},
		Evidence:   ev,
	}, sessionsDomain.Options{
		MaxEvidenceBytes: int64(cfg.Evidence.MaxSizeMB) << 20,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create sessions: %w", err)
	}

	operators, err := auth.NewStaticTokens(cfg.Auth.OperatorTokenHashes)
	if err != nil {
		return fmt.Errorf("failed to load operator tokens: %w", err)
	}
	srv := server.New(cfg, store, sessionsDomain.LoggingMiddleware(logger)(svc), &server.CaseAPI{
		Service:   casesDomain.NewService(store, ev),
		Operators: operators,
	}, logger)

	tc.Store = store
	tc.Evidence = ev
	tc.Sessions = svc
	tc.TestServer = httptest.NewServer(srv.Handler())
	return nil
}

// newClient creates a new API client for the test server
func newClient() *client.Client {
	return client.New(testCtx.TestServer.URL)
}

// operatorRequest sends an authenticated request to the case API
func operatorRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, testCtx.TestServer.URL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}
