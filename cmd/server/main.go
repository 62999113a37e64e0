package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/api"
	"github.com/Tyrowin/echoes/internal/auth"
	"github.com/Tyrowin/echoes/internal/config"
	"github.com/Tyrowin/echoes/internal/events"
	"github.com/Tyrowin/echoes/internal/media"
	"github.com/Tyrowin/echoes/internal/metrics"
	"github.com/Tyrowin/echoes/internal/presence"
	"github.com/Tyrowin/echoes/internal/server"
	"github.com/Tyrowin/echoes/internal/store"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.InitLogging(cfg.Level, cfg.IsProduction())
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		zap.S().Fatalw("invalid configuration", "error", err)
	}

	if err := run(cfg); err != nil {
		zap.S().Fatalw("server exited with error", "error", err)
	}
}

func run(cfg *config.Config) error {
	zap.S().Infow("starting echoes", "version", Version, "env", cfg.Env)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, err := openPublisher(cfg)
	if err != nil {
		_ = st.Close(ctx)
		return err
	}

	uploader, err := openUploader(cfg)
	if err != nil {
		_ = st.Close(ctx)
		_ = publisher.Close()
		return err
	}

	var collector *metrics.Collector
	if cfg.Monitoring.Enabled {
		collector = metrics.New(prometheus.Labels{"env": cfg.Env})
	}

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	guard := auth.NewGuard(tokens, st, cfg.Auth.UserCacheTTL)

	if cfg.Auth.TrustHandshakeUserID {
		zap.S().Warn("websocket handshakes may claim a userId without a token (auth.trust_handshake_user_id)")
	}

	manager := presence.NewManager(presence.Options{
		Metrics:   collector,
		Publisher: publisher,
	})

	hub := server.NewHub(manager, server.Settings{
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
		RateLimit:      cfg.WS.RateLimit,
	})
	server.StartHub(hub)

	rest := api.New(api.Options{
		Store:        st,
		Tokens:       tokens,
		Guard:        guard,
		Hasher:       auth.NewPasswordHasher(auth.DefaultBcryptCost),
		Uploader:     uploader,
		Presence:     manager,
		Events:       publisher,
		CookieSecure: cfg.Auth.CookieSecure,
	})

	routes := server.Routes{
		WebSocket: server.NewWebSocketHandler(hub,
			presence.NewResolver(tokens, cfg.Auth.TrustHandshakeUserID),
			server.NewOriginPolicy(cfg.HTTP.AllowedOrigins, cfg.HTTP.AllowMissingOrigin),
		),
		API: rest.Register,
	}
	if collector != nil {
		routes.Metrics = collector.Handler()
	}

	httpServer := server.CreateServer(cfg.HTTP.Addr, server.SetupRoutes(routes))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case s := <-sig:
		zap.S().Infow("received signal, shutting down", "signal", s.String())
	case runErr = <-serverErr:
		if runErr != nil {
			zap.S().Errorw("http server failed", "error", runErr)
		}
	}

	return multierr.Combine(runErr, shutdown(cfg.HTTP.ShutdownTimeout, httpServer, hub, publisher, st))
}

// shutdown stops the HTTP listener first so no new sockets arrive, then the
// hub, the event mirror and the store.
func shutdown(timeout time.Duration, httpServer *http.Server, hub *server.Hub, publisher events.Publisher, st store.Store) error {
	err := server.ShutdownServer(httpServer, timeout)
	err = multierr.Append(err, hub.Shutdown(timeout))
	err = multierr.Append(err, publisher.Close())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err = multierr.Append(err, st.Close(ctx))

	if err == nil {
		zap.S().Info("shutdown complete")
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == config.DriverMemory {
		zap.S().Warn("using the in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := store.ConnectMongo(connectCtx, store.MongoOptions{
		URI:              cfg.Mongo.URI,
		DB:               cfg.Mongo.DB,
		AppName:          "echoes",
		MinPoolSize:      cfg.Mongo.MinPool,
		MaxPoolSize:      cfg.Mongo.MaxPool,
		OperationTimeout: cfg.Mongo.OperationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	zap.S().Infow("connected to mongo", "db", cfg.Mongo.DB)
	return st, nil
}

func openPublisher(cfg *config.Config) (events.Publisher, error) {
	if !cfg.NATS.Enabled {
		return events.Nop{}, nil
	}

	p, err := events.Connect(events.Options{
		URL:    cfg.NATS.URL,
		Prefix: cfg.NATS.SubjectPrefix,
		Name:   "echoes",
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infow("connected to nats", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	return p, nil
}

func openUploader(cfg *config.Config) (media.Uploader, error) {
	if !cfg.S3.Enabled {
		zap.S().Info("s3 disabled, image uploads are rejected")
		return media.Disabled{}, nil
	}

	u, err := media.NewS3Uploader(media.S3Options{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		PublicURL: cfg.S3.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
