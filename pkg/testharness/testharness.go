// Package testharness starts a renew-testserver process for integration
// tests and hands out signed in clients against it.
package testharness

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/renew/pkg/apiclient"
	"git.sr.ht/~jakintosh/renew/pkg/session"
)

// BinaryEnv names the environment variable holding the server binary path.
const BinaryEnv = "RENEW_TESTSERVER_BIN"

// Config holds configuration for starting the test harness.
type Config struct {
	IssuerDomain string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Users        []User
	ListenAddr   string
	DataDir      string
	Keep         bool
	BinaryPath   string
	Quiet        bool
}

// User holds test user credentials.
type User struct {
	Handle   string
	Password string
}

// Harness represents a running renew-testserver instance.
type Harness struct {
	BaseURL      string
	IssuerDomain string
	DBPath       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Users        []User

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// outputContract matches the JSON structure from renew-testserver
type outputContract struct {
	BaseURL      string       `json:"base_url"`
	IssuerDomain string       `json:"issuer_domain"`
	Paths        outputPaths  `json:"paths"`
	Tokens       outputTokens `json:"tokens"`
	Users        []outputUser `json:"users"`
}

type outputPaths struct {
	DataDir string `json:"data_dir"`
	DBPath  string `json:"db_path"`
}

type outputTokens struct {
	AccessTTLSeconds  int64 `json:"access_ttl_seconds"`
	RefreshTTLSeconds int64 `json:"refresh_ttl_seconds"`
}

type outputUser struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// Start spawns a renew-testserver and returns a handle to it.
// It registers cleanup with t.Cleanup().
func Start(t *testing.T, cfg Config) *Harness {
	t.Helper()

	binaryPath := FindBinary(cfg.BinaryPath)
	if binaryPath == "" {
		t.Fatalf("renew-testserver binary not found (check PATH or set Config.BinaryPath or %s)", BinaryEnv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binaryPath, buildArgs(cfg)...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		t.Fatalf("failed to create stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		t.Fatalf("failed to create stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("failed to start renew-testserver: %v", err)
	}

	// First line of stdout is the JSON contract
	scanner := bufio.NewScanner(stdout)
	if !scanner.Scan() {
		cancel()
		_ = cmd.Wait()
		t.Fatal("failed to read JSON contract from renew-testserver")
	}

	var contract outputContract
	if err := json.Unmarshal(scanner.Bytes(), &contract); err != nil {
		cancel()
		_ = cmd.Wait()
		t.Fatalf("failed to parse JSON contract: %v", err)
	}

	if !cfg.Quiet {
		go func() {
			stderrScanner := bufio.NewScanner(stderr)
			for stderrScanner.Scan() {
				t.Logf("[renew-testserver] %s", stderrScanner.Text())
			}
		}()
	}

	harness := &Harness{
		BaseURL:      contract.BaseURL,
		IssuerDomain: contract.IssuerDomain,
		DBPath:       contract.Paths.DBPath,
		AccessTTL:    time.Duration(contract.Tokens.AccessTTLSeconds) * time.Second,
		RefreshTTL:   time.Duration(contract.Tokens.RefreshTTLSeconds) * time.Second,
		Users:        make([]User, len(contract.Users)),
		cmd:          cmd,
		cancel:       cancel,
	}
	for i, user := range contract.Users {
		harness.Users[i] = User{Handle: user.Handle, Password: user.Password}
	}

	t.Cleanup(func() {
		if err := harness.Close(); err != nil {
			t.Logf("warning: harness cleanup failed: %v", err)
		}
	})

	return harness
}

// Login signs user in through a fresh in-memory session and returns the
// client bound to it.
func (h *Harness) Login(
	t *testing.T,
	user User,
	opts ...session.Option,
) *apiclient.Client {
	t.Helper()

	manager := session.New(session.NewMemoryStore(), apiclient.NewExchanger(h.BaseURL), opts...)
	client := apiclient.New(h.BaseURL, manager)
	_, err := client.Login(context.Background(), apiclient.LoginRequest{
		Username: user.Handle,
		Password: user.Password,
	})
	if err != nil {
		t.Fatalf("failed to log in %s: %v", user.Handle, err)
	}
	return client
}

// Close terminates the renew-testserver process.
func (h *Harness) Close() error {
	if h.cancel != nil {
		h.cancel()
	}

	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()

	select {
	case <-done:
		// interrupted on purpose, so a non-zero exit is expected
		return nil
	case <-time.After(5 * time.Second):
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("force kill: %w", err)
		}
		return fmt.Errorf("timeout waiting for graceful shutdown, process killed")
	}
}

// FindBinary resolves the server binary from configPath, the environment
// and PATH, in that order. It returns "" when none exists.
func FindBinary(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	if envPath := os.Getenv(BinaryEnv); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	if pathBinary, err := exec.LookPath("renew-testserver"); err == nil {
		return pathBinary
	}

	return ""
}

func buildArgs(cfg Config) []string {
	var args []string

	if cfg.IssuerDomain != "" {
		args = append(args, "--issuer-domain", cfg.IssuerDomain)
	}
	if cfg.AccessTTL > 0 {
		args = append(args, "--access-ttl", cfg.AccessTTL.String())
	}
	if cfg.RefreshTTL > 0 {
		args = append(args, "--refresh-ttl", cfg.RefreshTTL.String())
	}
	if cfg.ListenAddr != "" {
		args = append(args, "--listen", cfg.ListenAddr)
	}
	if cfg.DataDir != "" {
		args = append(args, "--data-dir", cfg.DataDir)
	}
	if cfg.Keep {
		args = append(args, "--keep")
	}
	if cfg.Quiet {
		args = append(args, "--quiet")
	}
	for _, user := range cfg.Users {
		args = append(args, "--user", fmt.Sprintf("%s:%s", user.Handle, user.Password))
	}

	return args
}
