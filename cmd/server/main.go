package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"framecast/internal/intake"
	"framecast/internal/platform/config"
	"framecast/internal/platform/logger"
	"framecast/internal/platform/metrics"
	"framecast/internal/playlist"
	"framecast/internal/synth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = config.Load()
	if path := config.GetEnv("CONFIG_FILE", ""); path != "" {
		if err := config.LoadTOML(path); err != nil {
			logger.New("error", "json").Error("config file", "error", err)
			os.Exit(1)
		}
	}

	port := config.GetEnv("PORT", "3000")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	dbPath := config.GetEnv("DB_PATH", "framecast.db")
	mastersDir := config.GetEnv("MASTERS_DIR", "assets/masters")
	videosDir := config.GetEnv("VIDEOS_DIR", "public/videos")
	frameCount := config.GetEnvInt("FRAME_COUNT", synth.DefaultFrameCount)
	frameRate := config.GetEnvInt("FRAME_RATE", synth.DefaultFrameRate)
	workers := config.GetEnvInt("SYNTH_WORKERS", 2)
	synthTimeout := config.GetEnvDuration("SYNTH_TIMEOUT", 2*time.Minute)
	corsOrigin := config.GetEnv("CORS_ORIGIN", "*")
	publicURL := config.GetEnv("PUBLIC_URL", "")

	log := logger.New(logLevel, logFormat)

	var store playlist.Store
	if dbPath == "" {
		store = playlist.NewInMemoryStore()
		log.Warn("DB_PATH empty, playlist will not survive restarts")
	} else {
		sq, err := playlist.OpenSQLite(dbPath)
		if err != nil {
			log.Error("open playlist store", "path", dbPath, "error", err)
			os.Exit(1)
		}
		store = sq
	}
	defer store.Close()

	synthesizer, err := synth.NewSynthesizer(synth.Config{
		FFmpegPath: config.GetEnv("FFMPEG_PATH", "ffmpeg"),
		OutputDir:  videosDir,
		FrameCount: frameCount,
		FrameRate:  frameRate,
	}, synth.ExecRunner{})
	if err != nil {
		log.Error("synthesizer setup", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	frames := synth.NewFrameLoader(mastersDir, frameCount, log)
	if _, err := frames.Load(); err != nil {
		log.Warn("master frames not ready, submissions will fail until they are",
			"dir", mastersDir, "frames", frames.Count(), "error", err)
	}
	// inotify does not work on network mounts; FRAME_WATCH=false falls back
	// to the cache loaded at startup.
	if config.GetEnvBool("FRAME_WATCH", true) {
		if err := frames.Watch(ctx); err != nil {
			log.Warn("frame watcher disabled", "dir", mastersDir, "error", err)
		}
	}

	pool := synth.NewPool(workers, workers*4, synthTimeout, log)
	met := metrics.New()
	svc := intake.NewService(store, frames, synthesizer, pool, "/videos", log, met)
	var public *url.URL
	if publicURL != "" {
		u, err := url.Parse(publicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			log.Error("invalid PUBLIC_URL", "public_url", publicURL)
			os.Exit(1)
		}
		public = u
	}
	clipSeconds := float64(frameCount) / float64(frameRate)
	h := intake.NewHandler(svc, videosDir, clipSeconds, public, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(intake.CORS(corsOrigin))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			if n, err := svc.Count(r.Context()); err == nil {
				met.SetPlaylistRecords(n)
			}
		}).ServeHTTP(w, r)
	})
	h.Register(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"db_path", dbPath,
		"masters_dir", mastersDir,
		"videos_dir", videosDir,
		"frame_count", frames.Count(),
		"synth_workers", workers,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := pool.Close(shutdownCtx); err != nil {
		log.Error("synthesis jobs cancelled at shutdown", "error", err)
	}
	stop()

	log.Info("server stopped")
}
