// Command renew-authserver serves the auth API over HTTP, backed by SQLite.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
	"git.sr.ht/~jakintosh/renew/internal/database"
)

type Env struct {
	DBPath         string        `env:"DB_PATH"          env-required:"true"`
	Port           string        `env:"PORT"             env-required:"true"`
	SigningKeyFile string        `env:"SIGNING_KEY_FILE" env-required:"true"`
	IssuerDomain   string        `env:"ISSUER_DOMAIN"    env-default:"renew.local"`
	AccessTTL      time.Duration `env:"ACCESS_TTL"       env-default:"15m"`
	RefreshTTL     time.Duration `env:"REFRESH_TTL"      env-default:"72h"`
	LogLevel       string        `env:"LOG_LEVEL"        env-default:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var env Env
	if err := cleanenv.ReadEnv(&env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(env.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	signingKey, err := loadSigningKey(env.SigningKeyFile)
	if err != nil {
		return err
	}

	db, err := database.NewSQLiteStore(env.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	service := authserver.New(
		db.AccountStore(),
		db.RefreshStore(),
		signingKey,
		env.IssuerDomain,
		authserver.WithLogger(logger),
		authserver.WithTokenLifetimes(env.AccessTTL, env.RefreshTTL),
	)

	server := &http.Server{
		Addr:              ":" + env.Port,
		Handler:           authserver.NewAPI(service).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "issuer", env.IssuerDomain)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadSigningKey reads the HMAC key, which must be at least 32 bytes.
func loadSigningKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key '%s' is %d bytes, need at least 32", path, len(key))
	}
	return key, nil
}
