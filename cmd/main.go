package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/client"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/composer"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/config"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/handler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/metrics"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/presence"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/reconciler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/scheduler"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/service"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/store"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/transport"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/upload"
	"github.com/share-your-space/shareyourspace-frontend-sub001/internal/views"
	pkgconfig "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/config"
	pkglog "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/log"
	"github.com/share-your-space/shareyourspace-frontend-sub001/pkg/storage"
)

func main() {
	if err := pkgconfig.LoadDotEnv(); err != nil {
		l := pkglog.L()
		l.Debug().Err(err).Msg(".env not loaded")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "chat-sync"})
	logger := pkglog.L()

	if cfg.Session.AuthToken == "" {
		logger.Fatal().Msg("session.auth_token is required")
	}
	logger.Info().Str("socket_url", cfg.Session.SocketURL).Str("api_base_url", cfg.Session.APIBaseURL).Msg("starting chat-sync")

	m := metrics.New()
	clock := scheduler.New()

	api := client.NewAPIClient(cfg.Session.APIBaseURL, cfg.Session.RequestTimeout, pkglog.Component("rest")).
		WithUploadPath(cfg.Upload.Path)

	uploader, err := newUploader(cfg, api)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create uploader")
	}

	socket := transport.NewClient(transport.Config{
		URL:              cfg.Session.SocketURL,
		PingInterval:     cfg.WebSocket.PingInterval,
		PongWait:         cfg.WebSocket.PongWait,
		WriteWait:        cfg.WebSocket.WriteWait,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		Backoff: transport.Backoff{
			Initial:    cfg.Reconnect.InitialInterval,
			Max:        cfg.Reconnect.MaxInterval,
			Multiplier: cfg.Reconnect.Multiplier,
		},
		OutboxSize: cfg.Outbox.Size,
	}, pkglog.Component("transport"), m)

	st := store.New(store.Config{
		PageSize:    cfg.History.PageSize,
		MatchWindow: cfg.Reconcile.MatchWindow,
	}, api, socket, clock, pkglog.Component("store"), m)
	tracker := presence.NewTracker(st, clock, cfg.Typing.Decay, pkglog.Component("presence"))
	comp := composer.New(st, socket, uploader, clock, cfg.Typing.PingInterval, pkglog.Component("composer"))
	svc := service.NewChatService(st, socket, tracker, comp, api, clock, pkglog.Component("service"), m)

	if cfg.View.Terminal {
		unsubscribe := svc.Subscribe(terminalRenderer(os.Stdout, cfg.View.Width))
		defer unsubscribe()
	}

	startCtx, startCancel := context.WithTimeout(pkglog.WithLogger(context.Background(), logger), 30*time.Second)
	if err := svc.Start(startCtx, cfg.Session.AuthToken); err != nil {
		startCancel()
		logger.Fatal().Err(err).Msg("failed to start chat session")
	}
	startCancel()

	// Setup routes
	router := mux.NewRouter()
	httpHandler := handler.NewHTTPHandler(svc, m.Handler(), cfg.Upload.MaxSize)
	httpHandler.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", pkglog.HeaderRequestID},
		ExposedHeaders: []string{pkglog.HeaderRequestID},
		MaxAge:         300,
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      pkglog.HTTPMiddleware(logger)(c.Handler(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("chat-sync listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat-sync")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}

		// Disconnects the socket, drops timers and discards session state.
		svc.Stop()
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("chat-sync stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}

func newUploader(cfg *config.Config, api *client.APIClient) (upload.Uploader, error) {
	l := pkglog.Component("upload")
	sc := upload.StorageConfig{
		KeyPrefix: cfg.Upload.KeyPrefix,
		URLExpiry: cfg.Upload.URLExpiry,
		MaxSize:   cfg.Upload.MaxSize,
	}

	switch cfg.Upload.Driver {
	case "", "rest":
		return upload.NewRESTUploader(api, cfg.Upload.MaxSize), nil
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := storage.NewS3Storage(ctx, cfg.Upload.S3)
		if err != nil {
			return nil, err
		}
		l.Info().Str("bucket", cfg.Upload.S3.Bucket).Msg("uploading attachments to s3")
		return upload.NewStorageUploader(s, sc, l), nil
	case "local":
		s, err := storage.NewLocalStorage(cfg.Upload.Local)
		if err != nil {
			return nil, err
		}
		l.Info().Str("path", cfg.Upload.Local.BasePath).Msg("storing attachments locally")
		return upload.NewStorageUploader(s, sc, l), nil
	default:
		return nil, fmt.Errorf("unknown upload driver %q", cfg.Upload.Driver)
	}
}

// terminalRenderer redraws the list and the active conversation on every
// state change.
func terminalRenderer(w io.Writer, width int) store.Listener {
	var mu sync.Mutex
	return func(st *reconciler.State) {
		out := views.RenderList(views.List(st), width)
		if d, ok := views.Detail(st, st.ActiveID); ok {
			out += "\n" + views.RenderDetail(d, width)
		}

		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(w, "\033[H\033[2J", out, "\n")
	}
}
