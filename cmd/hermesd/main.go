// Command hermesd is the HTTP query server named in spec.md §6: it
// exposes GET /transactions?name=&start=&end= over a set of manifest
// roots, returning the stream.JSON() rendering described in §4.6.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/hermeslog/hermes/internal/manifest/fsresolver"
	"github.com/hermeslog/hermes/loader"
	"github.com/hermeslog/hermes/pkg/common"
)

type config struct {
	Port  string
	Roots []string
}

func loadConfig() config {
	return config{
		Port:  common.GetenvOrDefault("PORT", "8080"),
		Roots: strings.Split(common.RequireEnv("HERMES_ROOTS"), ","),
	}
}

type server struct {
	cfg config
	l   *loader.Loader
}

func main() {
	common.InitSlog()

	cfg := loadConfig()
	l, err := loader.Open(context.Background(), cfg.Roots, fsresolver.Credentials{
		AccessKey: os.Getenv("HERMES_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("HERMES_S3_SECRET_KEY"),
		Endpoint:  os.Getenv("HERMES_S3_ENDPOINT"),
		Region:    os.Getenv("HERMES_S3_REGION"),
	})
	if err != nil {
		slog.Error("failed to open loader", "error", err)
		os.Exit(1)
	}

	s := &server{cfg: cfg, l: l}

	e := echo.New()
	common.SetupEchoDefaults(e, "hermesd", s.handleHealth)
	e.GET("/transactions", s.handleTransactions)

	echoErrChan := make(chan error, 1)
	go func() {
		slog.Info("starting hermesd", "port", s.cfg.Port)
		if err := e.Start(":" + s.cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			echoErrChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("shutting down")
	case err := <-echoErrChan:
		slog.Error("echo failed to start", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		slog.Error("echo shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

func (s *server) handleHealth(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *server) handleTransactions(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return c.String(http.StatusBadRequest, "missing required query parameter: name")
	}

	start, err := parseUint(c.QueryParam("start"), 0)
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid start: "+err.Error())
	}
	end, err := parseUint(c.QueryParam("end"), ^uint64(0))
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid end: "+err.Error())
	}

	ctx := c.Request().Context()
	st, err := s.l.GetTransactionStream(ctx, name, start, end)
	if err != nil {
		slog.Error("failed to build transaction stream", "name", name, "error", err)
		return c.String(http.StatusInternalServerError, "internal error")
	}

	data, err := st.JSON(ctx)
	if err != nil {
		slog.Error("failed to render transaction stream", "name", name, "error", err)
		return c.String(http.StatusInternalServerError, "internal error")
	}

	return c.JSONBlob(http.StatusOK, data)
}

func parseUint(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
