package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.sr.ht/~jakintosh/renew/internal/config"
	"git.sr.ht/~jakintosh/renew/internal/database"
	"git.sr.ht/~jakintosh/renew/pkg/apiclient"
	"git.sr.ht/~jakintosh/renew/pkg/session"
)

// app is everything a command needs, built from the loaded configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    session.KV
	manager  *session.Manager
	client   *apiclient.Client
	out      io.Writer

	closers []func() error
}

// options are the root command's persistent flags.
type options struct {
	configPath string
	logLevel   string
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if _, err := cfg.Log.SlogLevel(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.Log.SlogLevel()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newApp(
	cfg *config.Config,
	out io.Writer,
	errOut io.Writer,
) (
	*app,
	error,
) {
	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg, errOut),
		registry: prometheus.NewRegistry(),
		out:      out,
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Store.Path == "" {
		a.logger.Warn("store.path is not set, the session will not outlive this process")
		a.store = session.NewMemoryStore()
	} else {
		db, err := database.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		a.store = db
		a.closers = append(a.closers, db.Close)
	}

	policy, err := cfg.Refresh.Policy()
	if err != nil {
		a.Close()
		return nil, err
	}

	clientOpts := []apiclient.Option{
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithLogger(a.logger),
	}
	sessionOpts := []session.Option{
		session.WithLogger(a.logger),
		session.WithNetworkFailurePolicy(policy),
		session.WithMetrics(session.NewMetrics(a.registry)),
		session.WithSessionExpiredHandler(func(err error) {
			fmt.Fprintf(errOut, "session expired (%v), run '%s login' to sign in again\n", err, appName)
		}),
	}
	if cfg.Cookie.URL != "" {
		jar, err := session.NewCookieJar()
		if err != nil {
			a.Close()
			return nil, err
		}
		mirror, err := session.NewJarMirror(jar, cfg.Cookie.URL, cfg.Cookie.Name)
		if err != nil {
			a.Close()
			return nil, err
		}
		sessionOpts = append(sessionOpts, session.WithCookieMirror(mirror))
		// requests to the application carry the mirrored cookie
		clientOpts = append(clientOpts, apiclient.WithHTTPClient(&http.Client{Jar: jar}))
	}

	exchanger := apiclient.NewExchanger(cfg.API.BaseURL, clientOpts...)
	a.manager = session.New(a.store, exchanger, sessionOpts...)
	a.client = apiclient.New(cfg.API.BaseURL, a.manager, clientOpts...)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func stdinPassword(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
