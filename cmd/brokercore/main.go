// Package main is the Live Broker Core process entrypoint.
//
// Boot sequence (mirrors the teacher's main.go):
//  1. cfg := config.Load()       – dependency-free .env + environment
//  2. wire the venue adapter (paper demo, or paper+websocket price feed)
//  3. wire the alarm notifier and, optionally, an audit-log sink
//  4. core.New(...)              – construct the Trader
//  5. start Prometheus /healthz + /metrics on cfg.Port
//  6. run a heartbeat loop: SetDatetime (drives stale-state reset) then
//     SelfHeal, every -interval seconds
//  7. graceful shutdown on SIGINT/SIGTERM
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantada/brokercore/internal/alarm"
	"github.com/quantada/brokercore/internal/broker"
	"github.com/quantada/brokercore/internal/broker/paperadapter"
	"github.com/quantada/brokercore/internal/broker/wsadapter"
	"github.com/quantada/brokercore/internal/config"
	"github.com/quantada/brokercore/internal/core"
	"github.com/quantada/brokercore/internal/statelog"
)

func main() {
	var intervalSec int
	var wsURL string
	var symbols string
	flag.IntVar(&intervalSec, "interval", 5, "Heartbeat interval in seconds")
	flag.StringVar(&wsURL, "ws-url", "", "Optional websocket price feed URL (paper REST underneath)")
	flag.StringVar(&symbols, "symbols", "", "Comma-separated symbols to subscribe on the websocket feed")
	flag.Parse()

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// ---- Adapter wiring ----
	paper := paperadapter.New(getEnvFloat("PAPER_STARTING_CASH", 100000))
	var adapter broker.Adapter = paper

	var feed *wsadapter.Adapter
	if wsURL != "" {
		feed = wsadapter.New(wsURL, paper, logger)
		adapter = feed
	}

	// ---- Alarm notifier ----
	var notifier alarm.Notifier = alarm.NoopNotifier{}
	if cfg.AlarmWebhookURL != "" {
		notifier = alarm.NewWebhookNotifier(cfg.AlarmWebhookURL)
	}

	// ---- Optional audit sink ----
	sink, closeSink := wireStateLog(logger)
	defer closeSink()

	trader := core.New(cfg, adapter, notifier, sink, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if feed != nil {
		if symbols != "" {
			feed.Subscribe(strings.Split(symbols, ","))
		}
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("price feed stopped", "err", err)
			}
		}()
	}

	// ---- HTTP metrics/health ----
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		logger.Info("serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	runHeartbeat(ctx, trader, intervalSec)

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

// runHeartbeat drives the logical clock and self-heal loop, the process
// equivalent of a strategy thread's periodic tick (spec.md §4.7/§4.9).
func runHeartbeat(ctx context.Context, trader *core.Trader, intervalSec int) {
	if intervalSec <= 0 {
		intervalSec = 5
	}
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trader.SetDatetime(ctx, time.Now().UTC())
		}
	}
}

func wireStateLog(logger *slog.Logger) (statelog.Sink, func()) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STATE_LOG_DRIVER")))
	dsn := os.Getenv("STATE_LOG_DSN")
	switch driver {
	case "mysql":
		sink, err := statelog.NewMySQLSink(dsn)
		if err != nil {
			logger.Warn("state log mysql unavailable, continuing without audit trail", "err", err)
			return statelog.NoopSink{}, func() {}
		}
		return sink, func() { _ = sink.Close() }
	case "sqlite":
		path := dsn
		if path == "" {
			path = "brokercore.db"
		}
		sink, err := statelog.NewSQLiteSink(path)
		if err != nil {
			logger.Warn("state log sqlite unavailable, continuing without audit trail", "err", err)
			return statelog.NoopSink{}, func() {}
		}
		return sink, func() { _ = sink.Close() }
	default:
		return statelog.NoopSink{}, func() {}
	}
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return def
	}
	return f
}
