package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/config"
	"github.com/openkcm/session-exporter/internal/middleware/responsewriter"
)

func newRouter(cfg *config.Config, api *API) http.Handler {
	r := chi.NewRouter()
	r.Use(responsewriter.ResponseWriterMiddleware)

	r.With(newTraceMiddleware(cfg, "Health")).Get("/health", health)

	r.Route("/auth/phone", func(sub chi.Router) {
		sub.With(newTraceMiddleware(cfg, "StartPhoneAuth")).Post("/start", api.startPhoneAuth)
		sub.With(newTraceMiddleware(cfg, "VerifyPhoneAuth")).Post("/verify", api.verifyPhoneAuth)
		sub.With(newTraceMiddleware(cfg, "PasswordPhoneAuth")).Post("/password", api.passwordPhoneAuth)
	})

	r.Route("/session/export", func(sub chi.Router) {
		sub.With(newTraceMiddleware(cfg, "ExportTData")).Post("/tdata", api.exportTData)
		sub.With(newTraceMiddleware(cfg, "ExportArchive")).Post("/archive", api.exportArchive)
		sub.With(newTraceMiddleware(cfg, "ExportSend")).Post("/send", api.exportSend)
		sub.With(newTraceMiddleware(cfg, "ExportDownload")).Get("/download", api.exportDownload)
		sub.With(newTraceMiddleware(cfg, "ExportStatus")).Get("/status", api.exportStatus)
	})

	return r
}

// createHTTPServer creates an API http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, api *API) *http.Server {
	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: newRouter(cfg, api),
	}
}

// StartHTTPServer starts the HTTP server using the given config and blocks
// until ctx is done.
func StartHTTPServer(ctx context.Context, cfg *config.Config, api *API) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, api)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
