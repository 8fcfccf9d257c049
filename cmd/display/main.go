package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"framecast/internal/display"
	"framecast/internal/platform/config"
	"framecast/internal/platform/logger"
	"framecast/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	if path := config.GetEnv("CONFIG_FILE", ""); path != "" {
		if err := config.LoadTOML(path); err != nil {
			logger.New("error", "json").Error("config file", "error", err)
			os.Exit(1)
		}
	}

	port := config.GetEnv("PORT", "8090")
	apiURL := config.GetEnv("API_URL", "http://localhost:3000")
	pollInterval := config.GetEnvDuration("POLL_INTERVAL", display.DefaultPollInterval)
	playerKind := config.GetEnv("PLAYER", "exec")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	base, err := url.Parse(apiURL)
	if err != nil {
		log.Error("invalid API_URL", "api_url", apiURL, "error", err)
		os.Exit(1)
	}
	src, err := display.NewHTTPSource(apiURL, nil)
	if err != nil {
		log.Error("playlist source", "error", err)
		os.Exit(1)
	}

	var player display.Player
	switch playerKind {
	case "probe":
		player = display.NewProbePlayer(nil, base, config.GetEnvDuration("PROBE_CLIP_DURATION", 2*time.Second))
	default:
		p, err := display.NewExecPlayer(config.GetEnv("PLAYER_COMMAND", "mpv --fs --really-quiet"), base)
		if err != nil {
			log.Error("player setup", "error", err)
			os.Exit(1)
		}
		player = p
	}

	states := make([]string, len(display.States))
	for i, s := range display.States {
		states[i] = string(s)
	}
	met := metrics.New()
	dmet := metrics.NewDisplay(met, states)

	sched := display.NewScheduler(nil)
	runner := display.NewRunner(sched, src, player, pollInterval, log, dmet)
	h := display.NewHandler(sched, apiURL)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(runner.UpdateMetrics).ServeHTTP(w, r)
	})
	h.Register(r)

	srv := &http.Server{Addr: ":" + port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("display starting",
		"api_url", apiURL,
		"poll_interval", pollInterval.String(),
		"player", playerKind,
		"port", port,
	)

	runner.Run(ctx)

	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("display stopped")
}
