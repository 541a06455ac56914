package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"imagesim/internal/config"
	"imagesim/internal/handlers"
	mw "imagesim/internal/middleware"
	"imagesim/internal/search"
	"imagesim/internal/services"
	"imagesim/internal/store"
	"imagesim/internal/ws"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	cfg := config.FromEnv()
	ctx := context.Background()

	// Store
	st, err := store.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.Close()

	// Processing pipeline
	pipeline, err := services.NewPipeline(cfg, st, log)
	if err != nil {
		log.WithError(err).Fatal("build pipeline")
	}

	// Search engine
	engine := search.NewEngine(cfg, st, log)

	// WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Worker pool for records left over from a previous run
	pool := services.NewWorkerPool(pipeline, st, cfg.Workers, log, func(result *services.ProcessingResult) {
		ev := ws.Event{Type: "image_processed", ID: result.ID, Status: string(result.Status)}
		if result.Record != nil {
			ev.Filename = result.Record.OriginalFilename
		}
		hub.Broadcast(ev)
	})
	go requeuePending(ctx, st, pool, log)

	// Handlers
	uploadHandler := handlers.NewUploadHandler(cfg, pipeline, hub, log)
	imageHandler := handlers.NewImageHandler(cfg, st, engine, pipeline.Thumbnails(), log)
	healthHandler := handlers.NewHealthHandler(st)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mw.Cors)

	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/images", uploadHandler.Upload)
		r.Get("/images", imageHandler.List)
		r.Get("/images/duplicates", imageHandler.Duplicates)
		r.Get("/images/{imageID}", imageHandler.Get)
		r.Delete("/images/{imageID}", imageHandler.Delete)
		r.Get("/images/{imageID}/similar", imageHandler.Similar)
		r.Get("/stats", imageHandler.Stats)
	})

	r.Handle("/thumbnails/*", http.StripPrefix("/thumbnails/",
		http.FileServer(http.Dir(pipeline.Thumbnails().ThumbDir()))))

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.HandleWebSocket(hub, w, r)
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv.Shutdown(shutdownCtx)
	hub.Shutdown()
	pool.Shutdown()
	st.Close()
}

// requeuePending hands records that never reached a terminal status to the
// worker pool.
func requeuePending(ctx context.Context, st store.Store, pool *services.WorkerPool, log *logrus.Logger) {
	records, err := st.Pending(ctx)
	if err != nil {
		log.WithError(err).Error("load pending records")
		return
	}

	for _, rec := range records {
		pool.Queue(rec)
	}
	if len(records) > 0 {
		log.WithField("count", len(records)).Info("queued pending records for re-processing")
	}
}
