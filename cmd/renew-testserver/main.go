// Command renew-testserver runs a throwaway auth API for integration tests.
// It listens on an ephemeral port, seeds users and prints a JSON contract
// describing itself on stdout.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
	"git.sr.ht/~jakintosh/renew/internal/database"
)

// Config holds all command-line configuration
type Config struct {
	ListenAddr   string
	IssuerDomain string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Users        UserFlag
	DataDir      string
	Keep         bool
	Quiet        bool
}

// UserCredentials holds username and password
type UserCredentials struct {
	Handle   string
	Password string
}

// OutputContract is the JSON structure emitted on stdout
type OutputContract struct {
	BaseURL      string       `json:"base_url"`
	IssuerDomain string       `json:"issuer_domain"`
	Paths        OutputPaths  `json:"paths"`
	Tokens       OutputTokens `json:"tokens"`
	Users        []OutputUser `json:"users"`
}

type OutputPaths struct {
	DataDir string `json:"data_dir"`
	DBPath  string `json:"db_path"`
}

type OutputTokens struct {
	AccessTTLSeconds  int64 `json:"access_ttl_seconds"`
	RefreshTTLSeconds int64 `json:"refresh_ttl_seconds"`
}

type OutputUser struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// UserFlag is a repeatable --user flag
type UserFlag []UserCredentials

func (u *UserFlag) String() string {
	return fmt.Sprintf("%v", *u)
}

func (u *UserFlag) Set(value string) error {
	handle, password, ok := strings.Cut(value, ":")
	if !ok || handle == "" || password == "" {
		return fmt.Errorf("user must be in format 'handle:password'")
	}
	*u = append(*u, UserCredentials{Handle: handle, Password: password})
	return nil
}

func (u *UserFlag) Type() string {
	return "handle:password"
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:          "renew-testserver",
		Short:        "Run a disposable auth API for tests",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.Users) == 0 {
				cfg.Users = UserFlag{{Handle: "test", Password: "testtest"}}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", "127.0.0.1:0", "Listen address (default uses ephemeral port)")
	flags.StringVar(&cfg.IssuerDomain, "issuer-domain", "renew.test", "Issuer domain for JWT tokens")
	flags.DurationVar(&cfg.AccessTTL, "access-ttl", authserver.DefaultAccessTTL, "Access token lifetime")
	flags.DurationVar(&cfg.RefreshTTL, "refresh-ttl", authserver.DefaultRefreshTTL, "Refresh token lifetime")
	flags.Var(&cfg.Users, "user", "User credentials in format 'handle:password' (repeatable)")
	flags.StringVar(&cfg.DataDir, "data-dir", "", "Data directory (uses temp dir if not set)")
	flags.BoolVar(&cfg.Keep, "keep", false, "Keep data directory on exit")
	flags.BoolVar(&cfg.Quiet, "quiet", false, "Suppress log output")

	return cmd
}

func run(
	ctx context.Context,
	cfg Config,
	stdout io.Writer,
	stderr io.Writer,
) error {
	logOut := stderr
	if cfg.Quiet {
		logOut = io.Discard
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	// Create workspace
	workspace, cleanup, err := createWorkspace(cfg)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	defer cleanup()

	db, err := database.NewSQLiteStore(workspace.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Fresh key per run; tokens never outlive the server
	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}

	service := authserver.New(
		db.AccountStore(),
		db.RefreshStore(),
		signingKey,
		cfg.IssuerDomain,
		authserver.WithLogger(logger),
		authserver.WithTokenLifetimes(cfg.AccessTTL, cfg.RefreshTTL),
	)

	if err := seedUsers(service, cfg.Users); err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	// Start HTTP server with ephemeral port
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	contract := OutputContract{
		BaseURL:      fmt.Sprintf("http://%s", addr.String()),
		IssuerDomain: cfg.IssuerDomain,
		Paths: OutputPaths{
			DataDir: workspace.DataDir,
			DBPath:  workspace.DBPath,
		},
		Tokens: OutputTokens{
			AccessTTLSeconds:  int64(cfg.AccessTTL / time.Second),
			RefreshTTLSeconds: int64(cfg.RefreshTTL / time.Second),
		},
		Users: make([]OutputUser, len(cfg.Users)),
	}
	for i, user := range cfg.Users {
		contract.Users[i] = OutputUser{Handle: user.Handle, Password: user.Password}
	}

	// Emit JSON contract to stdout
	if err := json.NewEncoder(stdout).Encode(contract); err != nil {
		return fmt.Errorf("failed to encode JSON contract: %w", err)
	}

	server := &http.Server{
		Handler:           authserver.NewAPI(service).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(listener)
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type Workspace struct {
	DataDir string
	DBPath  string
}

func createWorkspace(cfg Config) (*Workspace, func(), error) {
	var dataDir string
	var shouldCleanup bool

	if cfg.DataDir != "" {
		dataDir = cfg.DataDir
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, nil, err
		}
	} else {
		tempDir, err := os.MkdirTemp("", "renew-testserver-*")
		if err != nil {
			return nil, nil, err
		}
		dataDir = tempDir
		shouldCleanup = !cfg.Keep
	}

	workspace := &Workspace{
		DataDir: dataDir,
		DBPath:  filepath.Join(dataDir, "db.sqlite"),
	}

	cleanup := func() {
		if shouldCleanup {
			os.RemoveAll(dataDir)
		}
	}

	return workspace, cleanup, nil
}

func seedUsers(service *authserver.Service, users []UserCredentials) error {
	for _, user := range users {
		_, err := service.Register(authserver.Registration{
			Username: user.Handle,
			Password: user.Password,
		})
		if err != nil && !errors.Is(err, authserver.ErrAccountExists) {
			return fmt.Errorf("register %s: %w", user.Handle, err)
		}
	}
	return nil
}
