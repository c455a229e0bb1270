package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Avicted/eventchat/internal/chat"
	"github.com/Avicted/eventchat/internal/config"
	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/httpapi"
	"github.com/Avicted/eventchat/internal/presence"
	"github.com/Avicted/eventchat/internal/relay"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/securelog"
	"github.com/Avicted/eventchat/internal/stats"
	"github.com/Avicted/eventchat/internal/storage"
	"github.com/Avicted/eventchat/internal/user"
	"github.com/Avicted/eventchat/internal/ws"
	"github.com/gorilla/mux"
)

func main() {
	if err := run(); err != nil {
		securelog.Error("server.run", err)
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(os.Getenv("CHAT_ENV_FILE")); err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, store)
}

func openStore(cfg config.Config) (storage.Store, error) {
	if cfg.Store == config.StoreMemory {
		return storage.NewMemoryStore(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return storage.NewPostgresStore(ctx, cfg.DBURL)
}

// serve owns store from here on and closes it before returning.
func serve(ctx context.Context, cfg config.Config, store storage.Store) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if cfg.SeedFile != "" {
		if err := seed(ctx, cfg.SeedFile, store); err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
	}

	var tracker presence.OnlineTracker
	if cfg.RedisURL != "" {
		redisTracker, err := presence.NewRedisTracker(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("init presence tracker: %w", err)
		}
		defer redisTracker.Close()
		tracker = redisTracker
	}

	var publisher chat.Publisher
	if cfg.NATSURL != "" {
		natsPublisher, err := relay.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("init relay: %w", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	rooms := room.NewRegistry()
	conns := presence.NewManager(rooms, tracker)
	router := chat.NewRouter(
		user.NewService(store.Users()),
		event.NewService(store.Events()),
		store.Messages(),
		conns,
		rooms,
		publisher,
	)
	collector := stats.NewCollector(conns, rooms)
	router.SetRecorder(collector)

	hub := ws.NewHub(router, conns, cfg.AllowedOrigins)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)
	if cfg.StatsInterval > 0 {
		go collector.LogLoop(ctx, cfg.StatsInterval)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler)
	r.HandleFunc("/ws", hub.HandleWS)
	httpapi.NewHandler(router, conns, collector, cfg.HistoryLimit).Register(r)

	// No read or write timeout: hijacked websocket connections would
	// inherit them.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			log.Printf("listening with TLS on %s (store=%s)", cfg.ListenAddr, cfg.Store)
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}

		log.Printf("listening on %s (store=%s)", cfg.ListenAddr, cfg.Store)
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err = <-errCh
	case err = <-errCh:
	}

	// Clients report offline through tracker, which closes after return.
	stopHub()
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelWait()
	if werr := hub.Wait(waitCtx); werr != nil {
		securelog.Warn("server.hub_wait", werr)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func seed(ctx context.Context, path string, store storage.Store) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return storage.LoadSeed(ctx, f, store, store.Users())
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
