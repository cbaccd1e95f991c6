package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/benjaminclauss/truckping/feed"
	"github.com/benjaminclauss/truckping/tracker"
)

const shutdownTimeout = 5 * time.Second

func runServe(ctx context.Context, args []string, stdout io.Writer) error {
	fs, o := newListFlags("serve")
	httpAddr := fs.String("http", ":8080", "address to serve the HTTP feed on")
	quiet := fs.Bool("quiet", false, "do not print the table")
	if err := o.parse(fs, args); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	hub := feed.NewHub()
	srv := &http.Server{
		Addr:              *httpAddr,
		Handler:           feed.NewRouter(hub, buildInfo()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	printRows := o.printer(stdout)
	emit := func(rows []tracker.Row) {
		hub.Publish(rows)
		if !*quiet {
			printRows(rows)
		}
	}
	return track(ctx, o, emit, func(ctx context.Context) error { return serveHTTP(ctx, srv) })
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("error shutting down http server", "err", err)
		}
	})
	defer stop()

	slog.Info("serving feed", "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
