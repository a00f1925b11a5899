package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// Serve command flags
var (
	serveDir  string
	serveAddr string
)

func createServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Serve a generated output directory over HTTP",
		Long: `Serve exposes an output directory the way a static mirror would, so the
URLs written by generate can be checked locally before publishing.`,
		Args: cobra.NoArgs,
		RunE: executeServe,
	}

	serveCmd.Flags().StringVarP(&serveDir, "dir", "d", "out", "Directory to serve")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "Listen address")
	return serveCmd
}

// newMirrorServer returns an echo server exposing dir under /.
func newMirrorServer(dir string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Logger().Debugf("%d %s", v.Status, v.URI)
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.Static("/", dir)
	return e
}

func executeServe(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	if info, err := os.Stat(serveDir); err != nil {
		return fmt.Errorf("cannot serve %s: %w", serveDir, err)
	} else if !info.IsDir() {
		return fmt.Errorf("cannot serve %s: not a directory", serveDir)
	}

	e := newMirrorServer(serveDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Serving %s on http://%s", serveDir, serveAddr)
		errCh <- e.Start(serveAddr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
