package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"git.sr.ht/~jakintosh/renew/internal/notify"
	"git.sr.ht/~jakintosh/renew/internal/watcher"
	"git.sr.ht/~jakintosh/renew/pkg/session"
)

func watchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay running and renew the access token ahead of expiry",
		Long: `Watch runs the proactive refresh timer until interrupted. It also
reloads the session when another process rewrites the store, publishes
auth-change events to NATS when nats.url is set, and serves /metrics and
/status when metrics.addr is set.`,
		Args: cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			return a.watch(cmd.Context())
		}),
	}
}

func (a *app) watch(ctx context.Context) error {
	stopTimer := a.manager.StartRefreshTimer(a.cfg.Refresh.Interval)
	defer stopTimer()

	unsubscribe := a.manager.Subscribe(func(e session.Event) {
		a.logger.Info("auth changed", "reason", e.Reason, "authenticated", e.Authenticated)
	})
	defer unsubscribe()

	if path := a.cfg.Store.Path; path != "" && path != ":memory:" {
		err := watcher.WatchFile(ctx, path, func() {
			if err := a.manager.Reload(); err != nil {
				a.logger.Warn("couldn't reload session", "error", err)
			}
		}, watcher.WithLogger(a.logger))
		if err != nil {
			return err
		}
	}

	if a.cfg.NATS.URL != "" {
		conn, err := notify.Connect(a.cfg.NATS.URL, a.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := conn.Drain(); err != nil {
				a.logger.Warn("couldn't drain NATS connection", "error", err)
			}
		}()
		detach := notify.NewForwarder(conn, a.cfg.NATS.Subject, a.logger).Attach(a.manager)
		defer detach()
	}

	if a.cfg.Metrics.Addr != "" {
		shutdown, err := a.serveMetrics(a.cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	a.logger.Info("watching session", "authenticated", a.manager.IsAuthenticated())
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

func (a *app) router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.status()); err != nil {
			a.logger.Warn("couldn't write status", "error", err)
		}
	}).Methods(http.MethodGet)
	return r
}

func (a *app) serveMetrics(addr string) (shutdown func(), err error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
