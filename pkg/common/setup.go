// Package common holds the ambient helpers shared by every Hermes entry
// point: structured logging setup and environment parsing. Library packages
// (loader, cache, stream, ...) never read the environment directly; only the
// cmd/ main() call sites do.
package common

import (
	"context"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

func InitSlog() string {
	levelStr := GetenvOrDefault("LOG_LEVEL", "info")

	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	slog.SetDefault(logger)
	return levelStr
}

func RequireEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		slog.Error("required environment variable not set", "key", key)
		os.Exit(1)
	}
	return value
}

func GetenvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetenvOrDefaultInt(key, defaultValue string) int {
	strValue := GetenvOrDefault(key, defaultValue)
	out, err := strconv.Atoi(strValue)
	if err != nil {
		slog.Error("invalid environment variable value", "key", key, "value", strValue, "error", err)
	}
	return out
}

// SetupEchoDefaults wires the request logging, recovery, per-request
// Prometheus middleware and /metrics surface shared by cmd/hermesd, the
// same set every teacher service installs; the query server is an
// external collaborator named only by contract in the core spec, so this
// stays intentionally thin beyond that.
func SetupEchoDefaults(e *echo.Echo, subsystem string, healthHandler echo.HandlerFunc) {
	e.Server.ReadHeaderTimeout = time.Second * time.Duration(
		GetenvOrDefaultInt("READ_HEADER_TIMEOUT_SECONDS", "2"))
	e.Server.ReadTimeout = time.Second * time.Duration(
		GetenvOrDefaultInt("READ_TIMEOUT_SECONDS", "5"))
	e.Server.WriteTimeout = time.Second * time.Duration(
		GetenvOrDefaultInt("WRITE_TIMEOUT_SECONDS", "30"))

	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddleware(subsystem))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.URI == "/healthz" || v.URI == "/metrics" {
				return nil
			}

			if v.Error != nil {
				slog.Error("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
			} else {
				slog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			}
			return nil
		},
	}))

	e.GET("/healthz", healthHandler)
	e.GET("/metrics", echoprometheus.NewHandler())
}

// StartKafkaHealthCheck keeps ready flipped false while the replay sink's
// Kafka producer can't reach its brokers, logging on every transition.
func StartKafkaHealthCheck(ctx context.Context, client *kgo.Client, ready *atomic.Bool) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := client.Ping(pingCtx); err != nil {
			if ready.CompareAndSwap(true, false) {
				slog.Warn("kafka not reachable", "error", err, "brokers", getBrokers(pingCtx, client))
			}
		} else if ready.CompareAndSwap(false, true) {
			slog.Info("kafka connection established", "brokers", getBrokers(pingCtx, client))
		}
	}

	check()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func getBrokers(ctx context.Context, client *kgo.Client) []string {
	req := kmsg.NewMetadataRequest()
	md, err := client.RequestCachedMetadata(ctx, &req, 0)

	var brokers []string
	if err == nil {
		for _, b := range md.Brokers {
			brokers = append(brokers, net.JoinHostPort(b.Host, strconv.Itoa(int(b.Port))))
		}
	}
	return brokers
}
